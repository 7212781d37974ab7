// Package mcp holds the JSON-RPC 2.0 message model and the response
// validators used by the conformance runner.
package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Version is the JSON-RPC protocol version every message must carry.
const Version = "2.0"

// MCP method names exercised by the harness.
const (
	MethodInitialize    = "initialize"
	MethodInitialized   = "notifications/initialized"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
)

// Message is a single JSON-RPC message kept as a decoded JSON object.
// A map keeps key presence observable, which the validators depend on:
// "id": null and an absent id are different messages.
type Message map[string]any

// Decode parses one JSON-RPC message. The top level must be a JSON object.
// Numbers are kept as json.Number so ids and error codes survive
// re-encoding without float drift.
func Decode(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m Message
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	return m, nil
}

// Encode renders the message as a single-line JSON object.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Method returns the method name, or "" for a message without one.
func (m Message) Method() string {
	s, _ := m["method"].(string)
	return s
}

// HasID reports whether the id key is present, even when its value is null.
func (m Message) HasID() bool {
	_, ok := m["id"]
	return ok
}

// ID returns the id value. nil means either "id": null or no id at all;
// use HasID to tell the two apart.
func (m Message) ID() any {
	return m["id"]
}

// IsNotification reports whether the message is a request without an id.
func (m Message) IsNotification() bool {
	return m.Method() != "" && !m.HasID()
}

// HasResult reports whether a result member is present, including null.
func (m Message) HasResult() bool {
	_, ok := m["result"]
	return ok
}

// HasError reports whether an error member is present.
func (m Message) HasError() bool {
	_, ok := m["error"]
	return ok
}

// IDEqual reports whether two id values are equal under JSON-RPC rules:
// null matches only null, strings compare exactly, and numbers compare by
// numeric value regardless of their decoded representation.
func IDEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	af, aok := numericValue(a)
	bf, bok := numericValue(b)
	return aok && bok && af == bf
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// isInteger reports whether v is a JSON integer. The wire decode keeps
// numbers as json.Number, so a fractional error code like 1.5 fails here.
func isInteger(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Int64()
		return err == nil
	case int, int64:
		return true
	case float64:
		return n == math.Trunc(n)
	}
	return false
}

// asObject unwraps a JSON object value. Nested objects decode as plain
// map[string]any, but hand-built messages may nest Message values.
func asObject(v any) (map[string]any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		return obj, true
	case Message:
		return obj, true
	}
	return nil, false
}

// FormatID renders an id for diagnostics: null, a quoted string, or the
// number as written.
func FormatID(v any) string {
	switch id := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(id)
	case json.Number:
		return id.String()
	default:
		return fmt.Sprintf("%v", id)
	}
}
