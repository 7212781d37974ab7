// mock-dbserver is a stand-in for the dbchat MCP server, used to exercise
// the harness without a Java toolchain. It speaks the same protocol
// surface over the same transports: JSON-RPC over stdio lines, or HTTP
// with GET /health and POST /mcp.
package main

import (
	"fmt"
	"os"
	"strconv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mock-dbserver: %v\n", err)
		os.Exit(1)
	}
}

// run reads the environment contract the real server uses: HTTP_MODE and
// HTTP_PORT select the transport, SELECT_ONLY locks the database down to
// queries. DB_URL and its companions are accepted but ignored; the mock
// always runs on an in-memory SQLite database.
func run() error {
	selectOnly := false
	if v := os.Getenv("SELECT_ONLY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("bad SELECT_ONLY value %q: %v", v, err)
		}
		selectOnly = b
	}

	db, err := openDatabase(selectOnly)
	if err != nil {
		return err
	}
	defer db.Close()

	srv := newServer(db)

	httpMode := false
	if v := os.Getenv("HTTP_MODE"); v != "" {
		httpMode, _ = strconv.ParseBool(v)
	}
	if httpMode {
		port := 8080
		if v := os.Getenv("HTTP_PORT"); v != "" {
			port, err = strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("bad HTTP_PORT value %q: %v", v, err)
			}
		}
		return srv.serveHTTP(port)
	}
	return srv.serveStdio(os.Stdin, os.Stdout)
}
