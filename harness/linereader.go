package harness

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// maxLineBytes bounds a single line read from the server.
const maxLineBytes = 1024 * 1024

var (
	// ErrReadTimeout indicates no complete line arrived within the deadline.
	ErrReadTimeout = errors.New("read timeout")
	// ErrServerClosed indicates the server closed its output stream.
	ErrServerClosed = errors.New("server closed output")
)

type lineResult struct {
	text string
	err  error
}

// LineReader reads newline-terminated lines from a stream under per-call
// deadlines. A single pump goroutine owns the stream; every ReadLine hands
// it a fresh one-slot channel, so a caller that gives up abandons only its
// own slot and a line that arrives late is discarded rather than delivered
// to a later call.
type LineReader struct {
	requests  chan chan lineResult
	done      chan struct{}
	closeOnce sync.Once
}

// NewLineReader starts the pump for the given stream.
func NewLineReader(r io.Reader) *LineReader {
	lr := &LineReader{
		requests: make(chan chan lineResult),
		done:     make(chan struct{}),
	}
	go lr.pump(r)
	return lr
}

func (lr *LineReader) pump(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for {
		var slot chan lineResult
		select {
		case slot = <-lr.requests:
		case <-lr.done:
			return
		}

		if sc.Scan() {
			slot <- lineResult{text: sc.Text()}
			continue
		}

		err := sc.Err()
		if err == nil {
			err = ErrServerClosed
		} else {
			err = fmt.Errorf("%w: %v", ErrServerClosed, err)
		}
		slot <- lineResult{err: err}

		// The stream is finished; answer every further request the same way.
		for {
			select {
			case slot = <-lr.requests:
				slot <- lineResult{err: err}
			case <-lr.done:
				return
			}
		}
	}
}

// ReadLine returns the next complete line from the stream. The wait is
// bounded by timeout and by ctx; on either, the pending read is abandoned.
// Lines are delivered whole or not at all.
func (lr *LineReader) ReadLine(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case <-lr.done:
		return "", ErrServerClosed
	default:
	}

	slot := make(chan lineResult, 1)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case lr.requests <- slot:
	case <-timer.C:
		return "", ErrReadTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	case <-lr.done:
		return "", ErrServerClosed
	}

	select {
	case res := <-slot:
		return res.text, res.err
	case <-timer.C:
		return "", ErrReadTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close releases the pump. A pump blocked in a read exits once the
// underlying stream closes, which stopping the server process guarantees.
func (lr *LineReader) Close() {
	lr.closeOnce.Do(func() {
		close(lr.done)
	})
}
