// Package harness owns the server side of a conformance run: it starts and
// stops the server process and speaks to it over the stdio and HTTP
// transports.
package harness

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultStopGrace is how long Stop waits for a clean exit before
	// killing the process.
	DefaultStopGrace = 5 * time.Second

	// stderrTailLimit bounds the retained stderr tail.
	stderrTailLimit = 200
)

// ErrPortInUse indicates the server could not bind its HTTP port.
var ErrPortInUse = errors.New("port already in use")

// StartupError reports a server process that failed to become ready. It
// carries the stderr tail captured up to that point so the failure is
// diagnosable from the run report alone.
type StartupError struct {
	Err       error
	Stderr    []string
	PortInUse bool
}

func (e *StartupError) Error() string {
	return "server startup failed: " + e.Err.Error()
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// ProcessConfig configures a server process launch.
type ProcessConfig struct {
	Path string
	Args []string
	// Env entries are appended to the inherited environment; a later
	// KEY=VALUE wins over an inherited one.
	Env []string
	// DrainStdout discards everything the server writes to stdout. Set it
	// in HTTP mode, where stdout carries no protocol traffic; in stdio mode
	// stdout belongs to the session's line reader.
	DrainStdout bool
	// StopGrace overrides DefaultStopGrace when positive.
	StopGrace time.Duration
}

// Process supervises one running server. Its stderr is always drained into
// a bounded tail buffer so a full pipe can never block the server and the
// last lines are available for failure reports.
type Process struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	tail     *tailBuffer
	launchID string
	log      *slog.Logger
	grace    time.Duration

	drains   sync.WaitGroup
	waitOnce sync.Once
	exited   chan struct{}
	waitErr  error
	stopOnce sync.Once
}

// Start launches the server process and its stream drains.
func Start(cfg ProcessConfig, log *slog.Logger) (*Process, error) {
	if log == nil {
		log = slog.Default()
	}

	cmd := exec.Command(cfg.Path, cfg.Args...)
	if cfg.Env != nil {
		cmd.Env = append(cmd.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	// Start() automatically closes all pipes on failure, no manual cleanup needed
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	p := &Process{
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdout,
		tail:     newTailBuffer(stderrTailLimit),
		launchID: uuid.NewString(),
		grace:    cfg.StopGrace,
		exited:   make(chan struct{}),
	}
	if p.grace <= 0 {
		p.grace = DefaultStopGrace
	}
	p.log = log.With("launch", p.launchID)

	p.drains.Add(1)
	go p.drainStderr(stderr)

	if cfg.DrainStdout {
		p.drains.Add(1)
		go func() {
			defer p.drains.Done()
			io.Copy(io.Discard, stdout)
		}()
		// With both streams drained here the process can be reaped the
		// moment they close, which keeps Exited accurate during the
		// readiness probe.
		go func() {
			p.drains.Wait()
			p.reap()
		}()
	}

	p.log.Debug("server process started", "pid", cmd.Process.Pid, "path", cfg.Path)
	return p, nil
}

func (p *Process) drainStderr(r io.Reader) {
	defer p.drains.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		p.tail.Append(sc.Text())
	}
}

// SendLine writes one line to the server's stdin.
func (p *Process) SendLine(line []byte) error {
	_, err := p.stdin.Write(append(line, '\n'))
	return err
}

// Stdout exposes the server's stdout stream for the session line reader.
// Only valid when the process was started without DrainStdout.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// StderrTail returns a copy of the retained stderr tail.
func (p *Process) StderrTail() []string {
	return p.tail.Lines()
}

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.exited
}

// Exited reports whether the process has been observed to exit. In stdio
// mode the session still owns stdout, so this only turns true once Stop
// has run.
func (p *Process) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// ExitError reports how the process exited once Exited is true; nil means
// a zero exit status or a process still running.
func (p *Process) ExitError() error {
	select {
	case <-p.exited:
		return p.waitErr
	default:
		return nil
	}
}

func (p *Process) reap() {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.exited)
	})
}

// Stop terminates the server: stdin is closed to signal end of input, the
// process gets the grace period to exit cleanly, then it is killed. Safe to
// call more than once and after the process has already exited.
func (p *Process) Stop() {
	p.stopOnce.Do(p.stop)
}

func (p *Process) stop() {
	if p.stdin != nil {
		p.stdin.Close()
	}
	// The interrupt is best effort; some JVMs ignore it and Windows cannot
	// deliver it at all. The kill below is what guarantees termination.
	if p.cmd.Process != nil {
		p.cmd.Process.Signal(os.Interrupt)
	}

	go p.reap()
	select {
	case <-p.exited:
	case <-time.After(p.grace):
		p.log.Warn("server did not exit within grace period, killing process", "grace", p.grace)
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		<-p.exited
	}
	if p.waitErr != nil {
		p.log.Debug("server exited", "result", p.waitErr)
	}
}

// portInUse reports whether the stderr tail shows a bind failure. The JVM
// raises a BindException; Go servers report "address already in use".
func portInUse(tail []string) bool {
	for _, line := range tail {
		if strings.Contains(line, "already in use") || strings.Contains(line, "BindException") {
			return true
		}
	}
	return false
}

// NewStartupError classifies a failed startup from its cause and the
// captured stderr tail. A bind failure in the tail marks the error as
// port-in-use and makes it match ErrPortInUse.
func NewStartupError(cause error, stderr []string) *StartupError {
	inUse := portInUse(stderr)
	if inUse {
		cause = fmt.Errorf("%w: %v", ErrPortInUse, cause)
	}
	return &StartupError{Err: cause, Stderr: stderr, PortInUse: inUse}
}

func startupError(p *Process, cause error) *StartupError {
	return NewStartupError(cause, p.StderrTail())
}

// tailBuffer keeps the last limit lines appended to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	lines []string
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.limit {
		b.lines = b.lines[len(b.lines)-b.limit:]
	}
}

func (b *tailBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}
