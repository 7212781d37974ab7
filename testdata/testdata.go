// Package testdata embeds the conformance suites shipped with the
// harness.
package testdata

import "embed"

//go:embed *.json
var FS embed.FS

// ProtocolSuite is the bundled protocol conformance suite for the dbchat
// server.
const ProtocolSuite = "dbchat_protocol.json"
