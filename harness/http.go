package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/skanga/dbchat-protocol-tests/mcp"
)

const (
	// DefaultProbeWait bounds the whole readiness probe.
	DefaultProbeWait = 12 * time.Second
	// DefaultCallTimeout bounds a single HTTP call.
	DefaultCallTimeout = 30 * time.Second

	probeInterval = 1 * time.Second
	probeTimeout  = 2 * time.Second

	// maxBodyBytes bounds a response body read.
	maxBodyBytes = 4 << 20
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// TransportError is a non-success HTTP status from the server, carrying
// the status code and body text for the case report.
type TransportError struct {
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("HTTP error: %d - %s", e.Status, e.Body)
}

// HTTPSession sends MCP requests to one server over HTTP POST. Calls are
// stateless; the server holds the session state across the batch.
type HTTPSession struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// OpenHTTP waits for the server behind proc to accept liveness probes and
// returns a session for it. GET {base}/health is polled once a second up to
// maxWait; a server process that exits first yields a StartupError with the
// stderr tail attached and the port-in-use case called out. callTimeout
// bounds each call the returned session makes.
func OpenHTTP(ctx context.Context, baseURL string, proc *Process, maxWait, callTimeout time.Duration, log *slog.Logger) (*HTTPSession, error) {
	if log == nil {
		log = slog.Default()
	}
	if maxWait <= 0 {
		maxWait = DefaultProbeWait
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}

	probe := &http.Client{Timeout: probeTimeout}
	deadline := time.Now().Add(maxWait)
	for {
		if proc.Exited() {
			return nil, startupError(proc, exitCause(proc))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
		if err != nil {
			return nil, err
		}
		resp, err := probe.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				log.Debug("server ready", "url", baseURL)
				return &HTTPSession{
					baseURL: baseURL,
					client:  &http.Client{Timeout: callTimeout},
					log:     log,
				}, nil
			}
		}

		if time.Now().After(deadline) {
			return nil, startupError(proc, fmt.Errorf("server did not become ready within %s", maxWait))
		}
		select {
		case <-time.After(probeInterval):
		case <-proc.Done():
			return nil, startupError(proc, exitCause(proc))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func exitCause(p *Process) error {
	if err := p.ExitError(); err != nil {
		return fmt.Errorf("server process exited during startup: %v", err)
	}
	return errors.New("server process exited during startup")
}

// CheckHealth performs the semantic health check: the liveness body must
// be JSON and report status "healthy".
func (s *HTTPSession) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return &TransportError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read health response: %w", err)
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("health check returned invalid JSON: %w", err)
	}
	if health.Status != "healthy" {
		return fmt.Errorf("health check reported status %q", health.Status)
	}
	s.log.Debug("health check passed", "url", s.baseURL)
	return nil
}

// Send posts one message to {base}/mcp. A 204 means the server
// deliberately produced no response, which is how notifications come back;
// a 200 carries exactly one JSON message. Any other status is returned as
// a TransportError.
func (s *HTTPSession) Send(ctx context.Context, msg mcp.Message) (mcp.Message, error) {
	data, err := msg.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/mcp", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			if media := contenttype.NewMediaType(ct); !media.Matches(jsonMediaType) {
				return nil, &TransportError{Status: resp.StatusCode, Body: "unexpected content type " + ct}
			}
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		m, err := mcp.Decode(body)
		if err != nil {
			s.log.Warn("undecodable response body", "method", msg.Method(), "error", err)
			return nil, nil
		}
		return m, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &TransportError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
}
