package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/skanga/dbchat-protocol-tests/config"
	"github.com/skanga/dbchat-protocol-tests/conformance"
	"github.com/skanga/dbchat-protocol-tests/mcp"
)

func printHeader(cfg config.Config, mode string, suite *conformance.Suite, javaVersion string) {
	fmt.Println(strings.Repeat("=", 70))
	fmt.Println("MCP PROTOCOL TEST SUITE")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Platform: %s/%s (%s)\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	if javaVersion != "" {
		fmt.Printf("Java: %s\n", javaVersion)
	}
	if len(cfg.Server.Command) > 0 {
		fmt.Printf("Server Command: %s\n", strings.Join(cfg.Server.Command, " "))
	} else {
		fmt.Printf("Server JAR: %s\n", cfg.Server.Jar)
	}
	fmt.Printf("HTTP Port: %d\n", cfg.HTTP.Port)
	fmt.Printf("Suite: %s (%d cases)\n", suite.Name, len(suite.Tests))
	fmt.Printf("Mode: %s\n", mode)
	fmt.Println()
}

func printModeBanner(mode conformance.Mode, total int) {
	fmt.Printf("\n%s\n", strings.Repeat("=", 60))
	fmt.Printf("TESTING %s MODE\n", strings.ToUpper(string(mode)))
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("\nRunning %d test cases...\n", total)
	fmt.Println(strings.Repeat("-", 40))
}

func printProgress(index, total int, o conformance.Outcome) {
	fmt.Printf("Test %2d: %s ... %s (%.2fs)\n", index, o.Name, o.Verdict, o.Elapsed.Seconds())
	if o.Verdict != conformance.VerdictPass && o.Message != "" {
		fmt.Printf("    %s\n", o.Message)
	}
}

func printModeSummary(res conformance.ModeResult) {
	fmt.Printf("\n%s MODE SUMMARY:\n", strings.ToUpper(string(res.Mode)))
	fmt.Println(strings.Repeat("-", 30))
	fmt.Printf("Total Tests: %d\n", res.Total)
	fmt.Printf("Passed: %d\n", res.Passed)
	fmt.Printf("Failed: %d\n", res.Failed)
	fmt.Printf("Errors: %d\n", res.Errored)
	fmt.Printf("Success Rate: %.1f%%\n", res.SuccessRate())
}

func printComparison(stdioRes, httpRes conformance.ModeResult) {
	fmt.Printf("\n%s\n", strings.Repeat("=", 70))
	fmt.Println("OVERALL SUMMARY")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("%-8s %-6s %-7s %-7s %-7s %s\n", "Mode", "Total", "Passed", "Failed", "Errors", "Success Rate")
	fmt.Println(strings.Repeat("-", 60))
	for _, res := range []conformance.ModeResult{stdioRes, httpRes} {
		fmt.Printf("%-8s %-6d %-7d %-7d %-7d %.1f%%\n",
			strings.ToUpper(string(res.Mode)), res.Total, res.Passed, res.Failed, res.Errored, res.SuccessRate())
	}
	fmt.Println()

	stdioOK := stdioRes.Total > 0 && stdioRes.SuccessRate() == 100
	httpOK := httpRes.Total > 0 && httpRes.SuccessRate() == 100
	switch {
	case stdioOK && httpOK:
		fmt.Println("ALL TESTS PASSED. Both transport modes are working correctly.")
	case stdioOK:
		fmt.Println("STDIO mode working, but HTTP mode has issues.")
	case httpOK:
		fmt.Println("HTTP mode working, but STDIO mode has issues.")
	default:
		fmt.Println("BOTH modes have issues that need to be addressed.")
	}
}

func printFailureDetails(results []conformance.ModeResult) {
	type failure struct {
		mode conformance.Mode
		o    conformance.Outcome
	}
	var failures []failure
	for _, res := range results {
		for _, o := range res.Outcomes {
			if o.Verdict != conformance.VerdictPass {
				failures = append(failures, failure{res.Mode, o})
			}
		}
	}
	if len(failures) == 0 {
		return
	}

	fmt.Printf("\nFailed Test Details:\n")
	fmt.Println(strings.Repeat("-", 30))
	for _, f := range failures {
		fmt.Printf("[%s] %s: %s\n", f.mode, f.o.Name, f.o.Message)
	}
}

// printTranscripts dumps the exchanges behind outcomes so a failure can
// be reproduced by hand. A stdio case depends on every request sent
// before it in the session, so its dump replays the whole prefix.
func printTranscripts(suite *conformance.Suite, results []conformance.ModeResult, level int) {
	for _, res := range results {
		// Synthetic startup entries have no request to replay.
		n := res.Total
		if n > len(suite.Tests) {
			n = len(suite.Tests)
		}
		for i := 0; i < n; i++ {
			o := res.Outcomes[i]
			if level < 2 && o.Verdict == conformance.VerdictPass {
				continue
			}
			fmt.Printf("\n--- %s / %s [%s] ---\n", res.Mode, o.Name, o.Verdict)
			if res.Mode == conformance.ModeStdio {
				fmt.Println("Requests to replay, in order:")
				for j := 0; j <= i; j++ {
					fmt.Printf("  %s\n", encodeMessage(suite.Tests[j].Request))
				}
			} else {
				fmt.Printf("Request: %s\n", encodeMessage(suite.Tests[i].Request))
			}
			if o.Response != nil {
				fmt.Printf("Response: %s\n", encodeMessage(o.Response))
			} else {
				fmt.Println("Response: (none)")
			}
			if o.Message != "" {
				fmt.Printf("Problems: %s\n", o.Message)
			}
		}
	}
}

func encodeMessage(m mcp.Message) string {
	data, err := m.Encode()
	if err != nil {
		return fmt.Sprintf("(unencodable: %v)", err)
	}
	return string(data)
}
