package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/skanga/dbchat-protocol-tests/config"
	"github.com/skanga/dbchat-protocol-tests/conformance"
	"github.com/skanga/dbchat-protocol-tests/testdata"
)

func main() {
	os.Exit(run())
}

func run() int {
	modeFlag := pflag.String("mode", "both", "Transport mode to test: stdio, http, or both")
	configPath := pflag.String("config", "", "Path to a TOML config profile")
	suitePath := pflag.String("suite", "", "Path to a suite JSON file (default: the bundled dbchat suite)")
	jarFlag := pflag.String("jar", "", "Server jar path (default: newest target/dbchat-*.jar)")
	javaFlag := pflag.String("java", "java", "Java executable used to launch the jar")
	portFlag := pflag.Int("port", 8080, "HTTP port the server listens on")
	readTimeout := pflag.Duration("read-timeout", 15*time.Second, "Max wait for one stdio response (e.g. 15s, 500ms)")
	noAudit := pflag.Bool("no-schema-audit", false, "Skip compiling advertised tool input schemas")
	verbose := pflag.CountP("verbose", "v", "Verbose mode: -v shows the exchanges behind failed tests, -vv shows every exchange")
	pflag.Parse()

	runStdio := *modeFlag == "both" || *modeFlag == "stdio"
	runHTTP := *modeFlag == "both" || *modeFlag == "http"
	if !runStdio && !runHTTP {
		fmt.Fprintf(os.Stderr, "Invalid mode: %s. Use stdio, http, or both\n", *modeFlag)
		return 1
	}
	if pflag.NArg() > 1 {
		fmt.Fprintf(os.Stderr, "Unexpected arguments: %s\n", strings.Join(pflag.Args()[1:], " "))
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	// Flags beat the profile and the environment.
	if pflag.CommandLine.Changed("jar") {
		cfg.Server.Jar = *jarFlag
	}
	if pflag.CommandLine.Changed("java") {
		cfg.Server.Java = *javaFlag
	}
	if pflag.CommandLine.Changed("port") {
		cfg.HTTP.Port = *portFlag
	}
	if pflag.CommandLine.Changed("read-timeout") {
		cfg.Timeouts.Read = config.Duration{Duration: *readTimeout}
	}
	if pflag.CommandLine.Changed("suite") {
		cfg.Suite = *suitePath
	}
	if *noAudit {
		cfg.AuditToolSchemas = false
	}
	if pflag.NArg() == 1 {
		cfg.Server.Jar = pflag.Arg(0)
	}

	if len(cfg.Server.Command) == 0 && cfg.Server.Jar == "" {
		jar, err := config.DiscoverJar(config.DefaultJarPattern)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Auto-detected server jar: %s\n", jar)
		cfg.Server.Jar = jar
	}

	level := slog.LevelInfo
	if *verbose > 0 {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	javaVersion := ""
	if len(cfg.Server.Command) == 0 {
		javaVersion, err = checkPrerequisites(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	suite, err := loadSuite(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading test suite: %v\n", err)
		return 1
	}

	printHeader(cfg, *modeFlag, suite, javaVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stdioProc, err := cfg.StdioProcess()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	httpProc, err := cfg.HTTPProcess()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	runner := conformance.NewRunner(conformance.Config{
		StdioServer:      stdioProc,
		HTTPServer:       httpProc,
		Port:             cfg.HTTP.Port,
		ReadTimeout:      cfg.Timeouts.Read.Duration,
		ProbeWait:        cfg.Timeouts.Probe.Duration,
		CallTimeout:      cfg.Timeouts.Call.Duration,
		AuditToolSchemas: cfg.AuditToolSchemas,
		Progress:         printProgress,
	}, log)

	defer cfg.Fixture.Cleanup(log)

	var results []conformance.ModeResult
	if runStdio {
		printModeBanner(conformance.ModeStdio, len(suite.Tests))
		res, err := runner.RunStdio(ctx, suite)
		if err != nil {
			fmt.Fprintln(os.Stderr, "\nTest run interrupted")
			return 1
		}
		printModeSummary(res)
		results = append(results, res)
	}
	if runHTTP {
		printModeBanner(conformance.ModeHTTP, len(suite.Tests))
		res, err := runner.RunHTTP(ctx, suite)
		if err != nil {
			fmt.Fprintln(os.Stderr, "\nTest run interrupted")
			return 1
		}
		printModeSummary(res)
		results = append(results, res)
	}

	if len(results) == 2 {
		printComparison(results[0], results[1])
	}
	printFailureDetails(results)
	if *verbose > 0 {
		printTranscripts(suite, results, *verbose)
	}

	for _, res := range results {
		if res.Total == 0 || res.SuccessRate() < 100 {
			return 1
		}
	}
	return 0
}

// checkPrerequisites verifies the jar and the Java runtime before any
// server launch, so a broken setup fails fast instead of surfacing as a
// startup error. Returns the version banner java prints.
func checkPrerequisites(cfg config.Config) (string, error) {
	if _, err := os.Stat(cfg.Server.Jar); err != nil {
		return "", fmt.Errorf("server jar not found at %s (run 'mvn clean package' first)", cfg.Server.Jar)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// java -version prints to stderr.
	out, err := exec.CommandContext(ctx, cfg.Server.Java, "-version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("java not runnable at %q: %v", cfg.Server.Java, err)
	}
	version, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(version), nil
}

func loadSuite(cfg config.Config) (*conformance.Suite, error) {
	if cfg.Suite != "" {
		return conformance.LoadSuite(cfg.Suite)
	}
	return conformance.LoadSuiteFromFS(testdata.FS, testdata.ProtocolSuite)
}
