package harness

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skanga/dbchat-protocol-tests/mcp"
)

func newSessionForTest(srv *httptest.Server) *HTTPSession {
	return &HTTPSession{
		baseURL: srv.URL,
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     testLogger(),
	}
}

func healthyHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/health" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"status":"healthy"}`)
}

func TestOpenHTTPReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(healthyHandler))
	defer srv.Close()

	p := startProcessForTest(t, helperNameStall, true)
	s, err := OpenHTTP(context.Background(), srv.URL, p, 5*time.Second, 0, testLogger())
	require.NoError(t, err)
	require.NotNil(t, s)

	require.NoError(t, s.CheckHealth(context.Background()))
}

func TestOpenHTTPServerExitsDuringProbe(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p := startProcessForTest(t, helperNameCrash, true)
	_, err := OpenHTTP(context.Background(), srv.URL, p, 5*time.Second, 0, testLogger())
	require.Error(t, err)

	var startupErr *StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.False(t, startupErr.PortInUse)
	assert.Contains(t, startupErr.Stderr, "FATAL: database connection failed")
}

func TestOpenHTTPPortInUse(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p := startProcessForTest(t, helperNameBindFail, true)
	_, err := OpenHTTP(context.Background(), srv.URL, p, 5*time.Second, 0, testLogger())
	require.Error(t, err)

	var startupErr *StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.True(t, startupErr.PortInUse)
	assert.ErrorIs(t, err, ErrPortInUse)
}

func TestOpenHTTPNeverReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := startProcessForTest(t, helperNameStall, true)
	_, err := OpenHTTP(context.Background(), srv.URL, p, 300*time.Millisecond, 0, testLogger())
	require.Error(t, err)

	var startupErr *StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.False(t, startupErr.PortInUse)
	assert.Contains(t, err.Error(), "did not become ready")
}

func TestHTTPSessionSend(t *testing.T) {
	t.Run("json response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/mcp", r.URL.Path)
			ctype, err := contenttype.GetMediaType(r)
			require.NoError(t, err)
			assert.True(t, ctype.Matches(jsonMediaType))

			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
		}))
		defer srv.Close()

		resp, err := newSessionForTest(srv).Send(context.Background(),
			mcp.Message{"jsonrpc": mcp.Version, "id": 1, "method": mcp.MethodPing})
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.True(t, mcp.IDEqual(resp.ID(), 1))
	})

	t.Run("json response with charset", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
		}))
		defer srv.Close()

		resp, err := newSessionForTest(srv).Send(context.Background(),
			mcp.Message{"jsonrpc": mcp.Version, "id": 1, "method": mcp.MethodPing})
		require.NoError(t, err)
		require.NotNil(t, resp)
	})

	t.Run("no content means no response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		resp, err := newSessionForTest(srv).Send(context.Background(),
			mcp.Message{"jsonrpc": mcp.Version, "method": mcp.MethodInitialized})
		require.NoError(t, err)
		assert.Nil(t, resp)
	})

	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Internal error", http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := newSessionForTest(srv).Send(context.Background(),
			mcp.Message{"jsonrpc": mcp.Version, "id": 1, "method": mcp.MethodPing})
		require.Error(t, err)

		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, http.StatusInternalServerError, terr.Status)
		assert.Equal(t, "Internal error", terr.Body)
	})

	t.Run("unexpected content type", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, "<html>nope</html>")
		}))
		defer srv.Close()

		_, err := newSessionForTest(srv).Send(context.Background(),
			mcp.Message{"jsonrpc": mcp.Version, "id": 1, "method": mcp.MethodPing})
		require.Error(t, err)

		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Contains(t, terr.Body, "unexpected content type")
	})

	t.Run("undecodable body means no response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, "not json at all")
		}))
		defer srv.Close()

		resp, err := newSessionForTest(srv).Send(context.Background(),
			mcp.Message{"jsonrpc": mcp.Version, "id": 1, "method": mcp.MethodPing})
		require.NoError(t, err)
		assert.Nil(t, resp)
	})
}

func TestHTTPSessionCheckHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(healthyHandler))
		defer srv.Close()
		require.NoError(t, newSessionForTest(srv).CheckHealth(context.Background()))
	})

	t.Run("wrong status value", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"status":"starting"}`)
		}))
		defer srv.Close()

		err := newSessionForTest(srv).CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), `status "starting"`)
	})

	t.Run("http error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		err := newSessionForTest(srv).CheckHealth(context.Background())
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, http.StatusServiceUnavailable, terr.Status)
	})

	t.Run("invalid body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "plain text")
		}))
		defer srv.Close()

		err := newSessionForTest(srv).CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid JSON")
	})
}
