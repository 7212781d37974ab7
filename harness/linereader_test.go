package harness

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeReader(t *testing.T) (*io.PipeWriter, *LineReader) {
	t.Helper()
	pr, pw := io.Pipe()
	lr := NewLineReader(pr)
	t.Cleanup(func() {
		lr.Close()
		pw.Close()
	})
	return pw, lr
}

func writeString(t *testing.T, w io.Writer, s string) {
	t.Helper()
	if _, err := io.WriteString(w, s); err != nil {
		t.Errorf("write %q: %v", s, err)
	}
}

func TestLineReaderDeliversLines(t *testing.T) {
	pw, lr := newPipeReader(t)
	go writeString(t, pw, "first\nsecond\n")

	ctx := context.Background()
	line, err := lr.ReadLine(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", line)

	line, err = lr.ReadLine(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", line)
}

func TestLineReaderTimeout(t *testing.T) {
	_, lr := newPipeReader(t)

	start := time.Now()
	_, err := lr.ReadLine(context.Background(), 50*time.Millisecond)
	require.ErrorIs(t, err, ErrReadTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLineReaderLateLineDiscarded(t *testing.T) {
	pw, lr := newPipeReader(t)
	ctx := context.Background()

	// The pipe write blocks until the reader goroutine consumes it, so
	// "late" is only swallowed by the read that already gave up on it.
	go func() {
		time.Sleep(150 * time.Millisecond)
		writeString(t, pw, "late\n")
		writeString(t, pw, "fresh\n")
	}()

	_, err := lr.ReadLine(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrReadTimeout)

	line, err := lr.ReadLine(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "fresh", line, "abandoned read must absorb the stale line")
}

func TestLineReaderNeverReturnsPartialLine(t *testing.T) {
	pw, lr := newPipeReader(t)
	ctx := context.Background()

	go func() {
		writeString(t, pw, "par")
		time.Sleep(150 * time.Millisecond)
		writeString(t, pw, "tial\nnext\n")
	}()

	_, err := lr.ReadLine(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrReadTimeout, "half a line must not be delivered")

	// Once "tial" lands the completed line belongs to the read that gave
	// up on it, so the next read sees the line after it, never a fragment.
	line, err := lr.ReadLine(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "next", line)
}

func TestLineReaderStreamEnd(t *testing.T) {
	pw, lr := newPipeReader(t)
	go func() {
		writeString(t, pw, "only\n")
		pw.Close()
	}()

	ctx := context.Background()
	line, err := lr.ReadLine(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "only", line)

	// Every read after EOF reports the closed stream.
	_, err = lr.ReadLine(ctx, time.Second)
	require.ErrorIs(t, err, ErrServerClosed)
	_, err = lr.ReadLine(ctx, time.Second)
	require.ErrorIs(t, err, ErrServerClosed)
}

func TestLineReaderContextCancel(t *testing.T) {
	_, lr := newPipeReader(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := lr.ReadLine(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLineReaderClose(t *testing.T) {
	_, lr := newPipeReader(t)
	lr.Close()
	lr.Close()

	_, err := lr.ReadLine(context.Background(), time.Second)
	require.ErrorIs(t, err, ErrServerClosed)
}
