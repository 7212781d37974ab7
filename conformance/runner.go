package conformance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skanga/dbchat-protocol-tests/harness"
	"github.com/skanga/dbchat-protocol-tests/mcp"
)

// Config carries everything a Runner needs to launch and address the
// server under test.
type Config struct {
	// StdioServer launches the server for stdio runs.
	StdioServer harness.ProcessConfig
	// HTTPServer launches the server for HTTP runs. Its environment must
	// already select HTTP mode and the port below.
	HTTPServer harness.ProcessConfig
	// Port is the server's HTTP port, checked for availability before launch.
	Port int
	// ReadTimeout bounds a single stdio response wait.
	ReadTimeout time.Duration
	// ProbeWait bounds the HTTP readiness probe.
	ProbeWait time.Duration
	// CallTimeout bounds a single HTTP call in http mode.
	CallTimeout time.Duration
	// AuditToolSchemas additionally compiles every tool inputSchema
	// advertised by a tools/list result.
	AuditToolSchemas bool
	// Progress, when set, is invoked after each executed case with its
	// 1-based index and the suite size.
	Progress func(index, total int, o Outcome)
}

// Runner executes a suite against a server, one transport mode at a time.
// Per-case failures never abort a batch; only a server that cannot be
// started or a canceled context stops a mode early.
type Runner struct {
	cfg Config
	log *slog.Logger
}

func NewRunner(cfg Config, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = harness.DefaultReadTimeout
	}
	if cfg.ProbeWait <= 0 {
		cfg.ProbeWait = harness.DefaultProbeWait
	}
	return &Runner{cfg: cfg, log: log}
}

// RunStdio runs the whole suite over one stdio session, in order. The
// returned error is non-nil only when ctx ended; every other failure is
// folded into the ModeResult.
func (r *Runner) RunStdio(ctx context.Context, suite *Suite) (ModeResult, error) {
	res := ModeResult{Mode: ModeStdio}

	sess, err := harness.OpenStdio(r.cfg.StdioServer, r.cfg.ReadTimeout, r.log)
	if err != nil {
		r.log.Error("stdio server failed to start", "error", err)
		return startupResult(ModeStdio, err), nil
	}
	defer sess.Close()

	for i, tc := range suite.Tests {
		if err := ctx.Err(); err != nil {
			return ModeResult{}, err
		}

		start := time.Now()
		resp, sendErr := sess.Send(ctx, tc.Request)
		elapsed := time.Since(start)

		if sendErr != nil {
			if ctx.Err() != nil {
				return ModeResult{}, ctx.Err()
			}
			if errors.Is(sendErr, harness.ErrServerClosed) && i == 0 {
				// Dead before the first exchange: the server never came up.
				r.log.Error("stdio server closed before the first exchange", "error", sendErr)
				return startupResult(ModeStdio, harness.NewStartupError(sendErr, sess.StderrTail())), nil
			}
		}

		o := r.classify(tc, resp, sendErr, elapsed)
		res.record(o)
		if r.cfg.Progress != nil {
			r.cfg.Progress(res.Total, len(suite.Tests), o)
		}
	}
	return res, nil
}

// RunHTTP starts the server in HTTP mode, waits for it to become ready,
// verifies its health report, then sends every case as its own POST. The
// server process spans the whole batch and is stopped on every path.
func (r *Runner) RunHTTP(ctx context.Context, suite *Suite) (ModeResult, error) {
	if err := portAvailable(r.cfg.Port); err != nil {
		r.log.Error("http port unavailable", "port", r.cfg.Port)
		return startupResult(ModeHTTP, err), nil
	}

	cfg := r.cfg.HTTPServer
	cfg.DrainStdout = true
	proc, err := harness.Start(cfg, r.log)
	if err != nil {
		r.log.Error("http server failed to start", "error", err)
		return startupResult(ModeHTTP, err), nil
	}
	defer proc.Stop()

	baseURL := fmt.Sprintf("http://localhost:%d", r.cfg.Port)
	sess, err := harness.OpenHTTP(ctx, baseURL, proc, r.cfg.ProbeWait, r.cfg.CallTimeout, r.log)
	if err != nil {
		if ctx.Err() != nil {
			return ModeResult{}, ctx.Err()
		}
		r.log.Error("http server failed to become ready", "error", err)
		return startupResult(ModeHTTP, err), nil
	}

	if err := sess.CheckHealth(ctx); err != nil {
		if ctx.Err() != nil {
			return ModeResult{}, ctx.Err()
		}
		r.log.Error("health check failed", "error", err)
		return startupResult(ModeHTTP, err), nil
	}

	res := ModeResult{Mode: ModeHTTP}
	for _, tc := range suite.Tests {
		if err := ctx.Err(); err != nil {
			return ModeResult{}, err
		}

		start := time.Now()
		resp, sendErr := sess.Send(ctx, tc.Request)
		elapsed := time.Since(start)

		if sendErr != nil && ctx.Err() != nil {
			return ModeResult{}, ctx.Err()
		}

		o := r.classify(tc, resp, sendErr, elapsed)
		res.record(o)
		if r.cfg.Progress != nil {
			r.cfg.Progress(res.Total, len(suite.Tests), o)
		}
	}
	return res, nil
}

// classify turns one exchange into an Outcome. A transport failure is an
// ERROR; an unexpected response to a notification is a FAIL; a missing
// response to a request is an ERROR; otherwise the validators decide.
func (r *Runner) classify(tc TestCase, resp mcp.Message, sendErr error, elapsed time.Duration) Outcome {
	o := Outcome{Name: tc.Name, Response: resp, Elapsed: elapsed}

	if sendErr != nil {
		o.Verdict = VerdictError
		o.Message = sendErr.Error()
		return o
	}

	if tc.IsNotification && !tc.ShouldRespond {
		if resp == nil {
			o.Verdict = VerdictPass
			return o
		}
		o.Verdict = VerdictFail
		o.Message = "Unexpected response for notification"
		return o
	}

	if resp == nil {
		o.Verdict = VerdictError
		o.Message = "No response from server"
		return o
	}

	violations := mcp.ValidateEnvelope(resp, tc.Request["id"])
	violations = append(violations, mcp.ValidateFields(resp, tc.ExpectedFields)...)
	violations = append(violations, mcp.ValidateMethodSchema(resp, tc.Request.Method())...)
	if r.cfg.AuditToolSchemas && tc.Request.Method() == mcp.MethodToolsList {
		violations = append(violations, mcp.ValidateToolSchemas(resp)...)
	}

	if len(violations) > 0 {
		o.Verdict = VerdictFail
		o.Message = strings.Join(violations, "; ")
		return o
	}
	o.Verdict = VerdictPass
	return o
}

func startupName(mode Mode) string {
	return fmt.Sprintf("Server Startup (%s)", mode)
}

// startupResult is the single synthetic entry for a mode whose server
// never got to run the suite. Total stays 0 so the success rate is 0.
func startupResult(mode Mode, err error) ModeResult {
	detail := err.Error()
	var se *harness.StartupError
	if errors.As(err, &se) && len(se.Stderr) > 0 {
		tail := se.Stderr
		if len(tail) > 5 {
			tail = tail[len(tail)-5:]
		}
		detail += " | stderr: " + strings.Join(tail, " | ")
	}
	return ModeResult{
		Mode:    mode,
		Errored: 1,
		Outcomes: []Outcome{{
			Name:    startupName(mode),
			Verdict: VerdictError,
			Message: detail,
		}},
	}
}

// portAvailable verifies the port can be bound before the server is asked
// to, so a squatting process shows up as a clear startup error.
func portAvailable(port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return fmt.Errorf("port %d: %w (is another instance running?)", port, harness.ErrPortInUse)
	}
	l.Close()
	return nil
}

// LoadSuite reads a test suite from a JSON file on disk.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite: %w", err)
	}
	return parseSuite(data, filepath.Base(path))
}

// LoadSuiteFromFS loads a test suite from an embedded filesystem.
func LoadSuiteFromFS(fsys fs.FS, path string) (*Suite, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite: %w", err)
	}
	return parseSuite(data, filepath.Base(path))
}

func parseSuite(data []byte, fallbackName string) (*Suite, error) {
	var suite Suite
	if err := json.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse suite JSON: %w", err)
	}
	if suite.Name == "" {
		suite.Name = fallbackName
	}
	if len(suite.Tests) == 0 {
		return nil, errors.New("test suite contains no test cases")
	}
	for i, tc := range suite.Tests {
		if tc.Name == "" {
			return nil, fmt.Errorf("test case %d has no name", i)
		}
		if tc.Request == nil {
			return nil, fmt.Errorf("test case %q has no request", tc.Name)
		}
	}
	return &suite, nil
}
