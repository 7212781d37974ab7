// Package config holds the harness configuration: how to launch the
// server under test, the fixture environment it runs against, and the
// timeouts that bound each transport. Values resolve in three layers:
// built-in defaults, an optional TOML profile, then MCPTEST_* environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"

	"github.com/skanga/dbchat-protocol-tests/harness"
)

// DefaultJarPattern is where a fresh server build drops its artifact.
const DefaultJarPattern = "target/dbchat-*.jar"

// Duration wraps time.Duration so TOML profiles can spell timeouts as
// strings like "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// ServerConfig describes how to launch the server under test.
type ServerConfig struct {
	// Command is a full launch vector and overrides Jar/Java when set.
	Command []string `toml:"command"`
	Jar     string   `toml:"jar" env:"MCPTEST_JAR"`
	Java    string   `toml:"java" env:"MCPTEST_JAVA"`
}

// FixtureConfig is the database fixture the server is pointed at.
type FixtureConfig struct {
	DBURL        string   `toml:"dbUrl" env:"MCPTEST_DB_URL"`
	DBUser       string   `toml:"dbUser" env:"MCPTEST_DB_USER"`
	DBPassword   string   `toml:"dbPassword" env:"MCPTEST_DB_PASSWORD"`
	DBDriver     string   `toml:"dbDriver" env:"MCPTEST_DB_DRIVER"`
	SelectOnly   bool     `toml:"selectOnly" env:"MCPTEST_SELECT_ONLY"`
	CleanupGlobs []string `toml:"cleanupGlobs"`
}

type HTTPConfig struct {
	Port int `toml:"port" env:"MCPTEST_HTTP_PORT"`
}

type TimeoutConfig struct {
	// Read bounds one stdio response wait.
	Read Duration `toml:"read"`
	// Call bounds one HTTP request.
	Call Duration `toml:"call"`
	// Probe bounds the HTTP readiness wait.
	Probe Duration `toml:"probe"`
	// StopGrace is how long a stopped server gets before the kill.
	StopGrace Duration `toml:"stopGrace"`
}

type Config struct {
	Server           ServerConfig  `toml:"server"`
	Fixture          FixtureConfig `toml:"fixture"`
	HTTP             HTTPConfig    `toml:"http"`
	Timeouts         TimeoutConfig `toml:"timeouts"`
	Suite            string        `toml:"suite" env:"MCPTEST_SUITE"`
	AuditToolSchemas bool          `toml:"auditToolSchemas" env:"MCPTEST_AUDIT_TOOL_SCHEMAS"`
}

// Default returns the built-in configuration: an in-memory H2 fixture and
// the timeouts the server's own tooling assumes.
func Default() Config {
	return Config{
		Server: ServerConfig{Java: "java"},
		Fixture: FixtureConfig{
			DBURL:        "jdbc:h2:mem:testdb",
			DBUser:       "sa",
			DBPassword:   "",
			DBDriver:     "org.h2.Driver",
			CleanupGlobs: []string{"test-db/mcptest*"},
		},
		HTTP: HTTPConfig{Port: 8080},
		Timeouts: TimeoutConfig{
			Read:      Duration{15 * time.Second},
			Call:      Duration{30 * time.Second},
			Probe:     Duration{12 * time.Second},
			StopGrace: Duration{5 * time.Second},
		},
		AuditToolSchemas: true,
	}
}

// Load builds the effective configuration. An empty path skips the TOML
// layer; environment overrides always apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port %d out of range", c.HTTP.Port)
	}
	if c.Server.Java == "" {
		c.Server.Java = "java"
	}
	if c.Timeouts.Read.Duration <= 0 {
		c.Timeouts.Read = Duration{15 * time.Second}
	}
	if c.Timeouts.Call.Duration <= 0 {
		c.Timeouts.Call = Duration{30 * time.Second}
	}
	if c.Timeouts.Probe.Duration <= 0 {
		c.Timeouts.Probe = Duration{12 * time.Second}
	}
	if c.Timeouts.StopGrace.Duration <= 0 {
		c.Timeouts.StopGrace = Duration{5 * time.Second}
	}
	if len(c.Fixture.CleanupGlobs) == 0 {
		c.Fixture.CleanupGlobs = []string{"test-db/mcptest*"}
	}
	return nil
}

// ServerCommand resolves the launch vector: an explicit command wins,
// otherwise java -jar.
func (c Config) ServerCommand() (string, []string, error) {
	if len(c.Server.Command) > 0 {
		return c.Server.Command[0], c.Server.Command[1:], nil
	}
	if c.Server.Jar == "" {
		return "", nil, errors.New("no server command or jar configured")
	}
	return c.Server.Java, []string{"-jar", c.Server.Jar}, nil
}

// ServerEnv assembles the environment overrides for one launch. Entries
// are appended to the inherited environment and later values win, so
// stdio mode forces HTTP_MODE off instead of trusting the inherited value.
func (c Config) ServerEnv(httpMode bool) []string {
	env := []string{
		"DB_URL=" + c.Fixture.DBURL,
		"DB_USER=" + c.Fixture.DBUser,
		"DB_PASSWORD=" + c.Fixture.DBPassword,
		"DB_DRIVER=" + c.Fixture.DBDriver,
		"SELECT_ONLY=" + strconv.FormatBool(c.Fixture.SelectOnly),
	}
	if httpMode {
		env = append(env,
			"HTTP_MODE=true",
			"HTTP_PORT="+strconv.Itoa(c.HTTP.Port),
		)
	} else {
		env = append(env, "HTTP_MODE=false")
	}
	return env
}

// StdioProcess builds the launch config for a stdio-mode server.
func (c Config) StdioProcess() (harness.ProcessConfig, error) {
	path, args, err := c.ServerCommand()
	if err != nil {
		return harness.ProcessConfig{}, err
	}
	return harness.ProcessConfig{
		Path:      path,
		Args:      args,
		Env:       c.ServerEnv(false),
		StopGrace: c.Timeouts.StopGrace.Duration,
	}, nil
}

// HTTPProcess builds the launch config for an HTTP-mode server. Stdout is
// drained since nothing reads it over this transport.
func (c Config) HTTPProcess() (harness.ProcessConfig, error) {
	path, args, err := c.ServerCommand()
	if err != nil {
		return harness.ProcessConfig{}, err
	}
	return harness.ProcessConfig{
		Path:        path,
		Args:        args,
		Env:         c.ServerEnv(true),
		DrainStdout: true,
		StopGrace:   c.Timeouts.StopGrace.Duration,
	}, nil
}

// Cleanup removes fixture files the server leaves behind, per the
// configured globs. Missing files are not an error.
func (f FixtureConfig) Cleanup(log *slog.Logger) {
	for _, pattern := range f.CleanupGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			log.Warn("bad cleanup glob", "pattern", pattern, "error", err)
			continue
		}
		for _, path := range matches {
			if err := os.Remove(path); err != nil {
				log.Warn("could not remove fixture file", "path", path, "error", err)
				continue
			}
			log.Info("removed fixture file", "path", path)
		}
	}
}

// DiscoverJar locates the newest jar matching pattern, which is how a
// fresh build is picked up without configuration.
func DiscoverJar(pattern string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("bad jar pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no server jar matching %s (build the server first)", pattern)
	}

	newest := ""
	var newestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = m
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no readable server jar matching %s", pattern)
	}
	return newest, nil
}
