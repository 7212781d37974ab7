package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skanga/dbchat-protocol-tests/mcp"
)

// DefaultReadTimeout bounds the wait for a single stdio response line.
const DefaultReadTimeout = 15 * time.Second

// StdioSession drives one server process over line-delimited JSON-RPC on
// its standard streams. Requests and responses correlate by order: at most
// one request is in flight, and notifications are never read for.
type StdioSession struct {
	proc        *Process
	reader      *LineReader
	readTimeout time.Duration
	log         *slog.Logger
}

// OpenStdio starts the server process and wraps its streams in a session.
// The process is started without a stdout drain; its output belongs to the
// session's line reader.
func OpenStdio(cfg ProcessConfig, readTimeout time.Duration, log *slog.Logger) (*StdioSession, error) {
	if log == nil {
		log = slog.Default()
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	cfg.DrainStdout = false
	proc, err := Start(cfg, log)
	if err != nil {
		return nil, err
	}
	return &StdioSession{
		proc:        proc,
		reader:      NewLineReader(proc.Stdout()),
		readTimeout: readTimeout,
		log:         log,
	}, nil
}

// Send writes one message and, unless it is a notification, reads one
// response line within the session read timeout.
//
// A (nil, nil) return means no response was observed: a notification send,
// a read timeout, a blank line, or an undecodable line. The cause is
// logged; classification is the caller's job. A failed write or a closed
// stream returns ErrServerClosed so a dead server is distinguishable from
// a silent one.
func (s *StdioSession) Send(ctx context.Context, msg mcp.Message) (mcp.Message, error) {
	data, err := msg.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if err := s.proc.SendLine(data); err != nil {
		return nil, fmt.Errorf("%w: write failed: %v", ErrServerClosed, err)
	}

	if !msg.HasID() {
		// Notification. Nothing is read; the next line on the stream
		// belongs to the next request.
		return nil, nil
	}

	line, err := s.reader.ReadLine(ctx, s.readTimeout)
	if err != nil {
		if errors.Is(err, ErrReadTimeout) {
			s.log.Warn("timed out waiting for response", "method", msg.Method(), "timeout", s.readTimeout)
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	if strings.TrimSpace(line) == "" {
		return nil, nil
	}
	resp, err := mcp.Decode([]byte(line))
	if err != nil {
		s.log.Warn("undecodable response line", "method", msg.Method(), "error", err)
		return nil, nil
	}
	return resp, nil
}

// StderrTail returns the server's retained stderr tail.
func (s *StdioSession) StderrTail() []string {
	return s.proc.StderrTail()
}

// Close ends the session. The reader is released and the process stopped:
// stdin close first, then the grace wait, then the kill escalation.
func (s *StdioSession) Close() {
	s.reader.Close()
	s.proc.Stop()
}
