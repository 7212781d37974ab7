// smoketest drives one end-to-end CRUD conversation against the dbchat
// server over a persistent stdio session, then a short HTTP pass. It
// answers "does the server basically work", not "is it conformant"; the
// mcptest command does the strict protocol judging.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/skanga/dbchat-protocol-tests/config"
	"github.com/skanga/dbchat-protocol-tests/harness"
	"github.com/skanga/dbchat-protocol-tests/mcp"
)

// The smoke pass runs against its own throwaway schema, kept alive
// across connections and sized for the bulk inserts.
const smokeDBURL = "jdbc:h2:mem:mcptest;DB_CLOSE_DELAY=-1;CACHE_SIZE=65536"

const fixtureDir = "test-db"

func main() {
	os.Exit(run())
}

func run() int {
	jarFlag := pflag.String("jar", "", "Server jar path (default: newest target/dbchat-*.jar)")
	javaFlag := pflag.String("java", "java", "Java executable used to launch the jar")
	portFlag := pflag.Int("port", 8080, "HTTP port for the HTTP smoke pass")
	skipHTTP := pflag.Bool("skip-http", false, "Skip the HTTP smoke pass")
	pflag.Parse()

	cfg := config.Default()
	cfg.Server.Java = *javaFlag
	cfg.HTTP.Port = *portFlag
	cfg.Fixture.DBURL = smokeDBURL

	switch {
	case *jarFlag != "":
		cfg.Server.Jar = *jarFlag
	case pflag.NArg() >= 1:
		cfg.Server.Jar = pflag.Arg(0)
	default:
		jar, err := config.DiscoverJar(config.DefaultJarPattern)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Using server jar: %s\n", jar)
		cfg.Server.Jar = jar
	}

	if _, err := os.Stat(cfg.Server.Jar); err != nil {
		fmt.Fprintf(os.Stderr, "Error: server jar not found at %s\n", cfg.Server.Jar)
		return 1
	}
	checkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(checkCtx, cfg.Server.Java, "-version").Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: java is not installed or not in PATH\n")
		return 1
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("MCP SERVER SMOKE TEST")
	fmt.Println(strings.Repeat("=", 50))

	// Stale fixture files from an aborted run would leak into this one.
	cfg.Fixture.Cleanup(log)
	if err := os.MkdirAll(fixtureDir, 0o755); err != nil {
		log.Warn("could not create fixture dir", "dir", fixtureDir, "error", err)
	}
	defer func() {
		cfg.Fixture.Cleanup(log)
		// Only goes away when nothing is left inside.
		os.Remove(fixtureDir)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	passed, total := runStdioSmoke(ctx, cfg, log)

	httpOK := true
	if !*skipHTTP {
		fmt.Println("\nTesting HTTP mode...")
		httpOK = runHTTPSmoke(ctx, cfg, log)
		status := "FAIL"
		if httpOK {
			status = "PASS"
		}
		fmt.Printf("HTTP test: %s\n", status)
	}

	fmt.Printf("\nResults: %d/%d STDIO tests passed\n", passed, total)
	if passed == total && httpOK {
		fmt.Println("Overall: SUCCESS")
		fmt.Println("\nAll tests passed. The MCP server is working correctly.")
		return 0
	}
	fmt.Println("Overall: SOME FAILED")
	fmt.Println("\nSome tests failed. Check the output above for details.")
	return 1
}

// runStdioSmoke runs every step through one long-lived session so state
// built by early steps (the table, its rows) is visible to later ones.
func runStdioSmoke(ctx context.Context, cfg config.Config, log *slog.Logger) (passed, total int) {
	steps := smokeSteps()
	total = len(steps)

	procCfg, err := cfg.StdioProcess()
	if err != nil {
		fmt.Printf("Server config: %v\n", err)
		return 0, total
	}
	sess, err := harness.OpenStdio(procCfg, cfg.Timeouts.Read.Duration, log)
	if err != nil {
		fmt.Printf("Server failed to start: %v\n", err)
		return 0, total
	}
	defer sess.Close()

	for _, st := range steps {
		if ctx.Err() != nil {
			fmt.Println("\nInterrupted")
			return passed, total
		}
		fmt.Printf("Testing %s... ", st.name)

		resp, err := sess.Send(ctx, st.request)
		switch {
		case err != nil:
			fmt.Println("FAIL")
			fmt.Printf("   Error: %v\n", err)
			printStderrTail(sess.StderrTail())
		case !st.request.HasID():
			// A notification passes unless the server answered it with
			// an error.
			if resp == nil || !resp.HasError() {
				fmt.Println("PASS")
				passed++
			} else {
				fmt.Println("FAIL")
				fmt.Printf("   Error: %v\n", resp["error"])
			}
		case resp != nil && resp.HasResult():
			fmt.Println("PASS")
			passed++
		default:
			fmt.Println("FAIL")
			switch {
			case resp == nil:
				fmt.Println("   No response from server")
			case resp.HasError():
				fmt.Printf("   Error: %v\n", resp["error"])
			default:
				fmt.Printf("   Response: %v\n", resp)
			}
		}
	}
	return passed, total
}

func printStderrTail(tail []string) {
	if len(tail) == 0 {
		return
	}
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	fmt.Println("   Server stderr (tail):")
	for _, line := range tail {
		fmt.Printf("   %s\n", line)
	}
}

// runHTTPSmoke boots the server in HTTP mode and walks the minimal
// lifecycle: initialize, the initialized notification, one tools/list.
func runHTTPSmoke(ctx context.Context, cfg config.Config, log *slog.Logger) bool {
	// A busy port means something else owns it. Skip rather than fail;
	// the stdio pass already covered the protocol.
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", cfg.HTTP.Port), time.Second)
	if err == nil {
		conn.Close()
		fmt.Printf("Port %d is already in use, skipping HTTP test\n", cfg.HTTP.Port)
		return true
	}

	procCfg, err := cfg.HTTPProcess()
	if err != nil {
		fmt.Printf("Server config: %v\n", err)
		return false
	}
	proc, err := harness.Start(procCfg, log)
	if err != nil {
		fmt.Printf("HTTP server failed to start: %v\n", err)
		return false
	}
	defer proc.Stop()

	baseURL := fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port)
	sess, err := harness.OpenHTTP(ctx, baseURL, proc, 10*time.Second, cfg.Timeouts.Call.Duration, log)
	if err != nil {
		fmt.Printf("HTTP server not ready: %v\n", err)
		return false
	}

	resp, err := sess.Send(ctx, initializeRequest("http-test"))
	if err != nil || resp == nil || !resp.HasResult() {
		fmt.Printf("HTTP initialize failed (response %v, error %v)\n", resp, err)
		return false
	}

	notification := mcp.Message{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
		"params":  map[string]any{},
	}
	if _, err := sess.Send(ctx, notification); err != nil {
		fmt.Printf("HTTP initialized notification failed: %v\n", err)
		return false
	}

	resp, err = sess.Send(ctx, mcp.Message{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
		"params":  map[string]any{},
	})
	if err != nil || resp == nil || !resp.HasResult() {
		fmt.Printf("HTTP tools/list failed (response %v, error %v)\n", resp, err)
		return false
	}
	return true
}
