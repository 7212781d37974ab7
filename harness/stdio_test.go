package harness

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skanga/dbchat-protocol-tests/mcp"
)

func openSessionForTest(t *testing.T, helperName string, readTimeout time.Duration) *StdioSession {
	t.Helper()

	s, err := OpenStdio(ProcessConfig{
		Path:      os.Args[0],
		Env:       []string{envTestAsSubprocess + "=1", envTestHelperName + "=" + helperName},
		StopGrace: 200 * time.Millisecond,
	}, readTimeout, testLogger())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStdioSessionOrderedExchange(t *testing.T) {
	s := openSessionForTest(t, helperNameEcho, 2*time.Second)
	ctx := context.Background()

	resp, err := s.Send(ctx, mcp.Message{
		"jsonrpc": mcp.Version,
		"id":      1,
		"method":  mcp.MethodInitialize,
		"params":  map[string]any{},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, mcp.IDEqual(resp.ID(), 1))
	assert.True(t, resp.HasResult())

	// Notifications carry no id and must not consume a line from the stream.
	resp, err = s.Send(ctx, mcp.Message{"jsonrpc": mcp.Version, "method": mcp.MethodInitialized})
	require.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = s.Send(ctx, mcp.Message{"jsonrpc": mcp.Version, "id": "ping-1", "method": mcp.MethodPing})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, mcp.IDEqual(resp.ID(), "ping-1"),
		"response after a notification must belong to the following request")
}

func TestStdioSessionNullIDRoundTrip(t *testing.T) {
	s := openSessionForTest(t, helperNameEcho, 2*time.Second)

	resp, err := s.Send(context.Background(), mcp.Message{
		"jsonrpc": mcp.Version,
		"id":      nil,
		"method":  mcp.MethodPing,
	})
	require.NoError(t, err)
	require.NotNil(t, resp, "an explicit null id is a request, not a notification")
	assert.True(t, resp.HasID())
	assert.Nil(t, resp.ID())
}

func TestStdioSessionTimeoutKeepsSessionAlive(t *testing.T) {
	s := openSessionForTest(t, helperNameDelayedEcho, 200*time.Millisecond)
	ctx := context.Background()

	resp, err := s.Send(ctx, mcp.Message{"jsonrpc": mcp.Version, "id": 1, "method": mcp.MethodPing})
	require.NoError(t, err, "a timed out read is not a transport failure")
	assert.Nil(t, resp)

	// Let the stale id 1 response arrive; the read that gave up on it
	// absorbs it, so the next exchange starts on a clean stream.
	time.Sleep(time.Second)

	resp, err = s.Send(ctx, mcp.Message{"jsonrpc": mcp.Version, "id": 2, "method": mcp.MethodPing})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, mcp.IDEqual(resp.ID(), 2), "stale id 1 response must not leak into this exchange")
}

func TestStdioSessionUndecodableResponse(t *testing.T) {
	s := openSessionForTest(t, helperNameGarbage, time.Second)

	resp, err := s.Send(context.Background(), mcp.Message{"jsonrpc": mcp.Version, "id": 1, "method": mcp.MethodPing})
	require.NoError(t, err)
	assert.Nil(t, resp, "a non-JSON line counts as no response")
}

func TestStdioSessionServerDeath(t *testing.T) {
	s := openSessionForTest(t, helperNameCrash, time.Second)

	_, err := s.Send(context.Background(), mcp.Message{"jsonrpc": mcp.Version, "id": 1, "method": mcp.MethodPing})
	require.ErrorIs(t, err, ErrServerClosed)

	require.Eventually(t, func() bool {
		return len(s.StderrTail()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, s.StderrTail(), "FATAL: database connection failed")
}

func TestStdioSessionContextCancel(t *testing.T) {
	s := openSessionForTest(t, helperNameSilent, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := s.Send(ctx, mcp.Message{"jsonrpc": mcp.Version, "id": 1, "method": mcp.MethodPing})
	require.ErrorIs(t, err, context.Canceled)
}

func TestStdioSessionCloseIdempotent(t *testing.T) {
	s := openSessionForTest(t, helperNameEcho, time.Second)
	s.Close()
	s.Close()
}
