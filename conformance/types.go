// Package conformance runs ordered MCP test cases against a server over
// stdio or HTTP and judges each response against the protocol rules.
package conformance

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/skanga/dbchat-protocol-tests/mcp"
)

// Mode selects the transport a batch of test cases runs over.
type Mode string

const (
	ModeStdio Mode = "stdio"
	ModeHTTP  Mode = "http"
)

// Verdict classifies one executed test case.
type Verdict int

const (
	VerdictPass Verdict = iota
	VerdictFail
	VerdictError
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "PASS"
	case VerdictFail:
		return "FAIL"
	case VerdictError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// TestCase specifies a single protocol exchange: the message to send and
// what a compliant response looks like. Cases are immutable; each
// execution yields a fresh Outcome.
type TestCase struct {
	Name           string      `json:"name"`
	Request        mcp.Message `json:"request"`
	ExpectedFields []string    `json:"expected_fields,omitempty"`
	IsNotification bool        `json:"is_notification,omitempty"`
	ShouldRespond  bool        `json:"should_have_response"`
}

// UnmarshalJSON decodes a case keeping request ids as json.Number, so
// large integer ids survive the round trip, and defaults
// should_have_response to true when the suite omits it.
func (tc *TestCase) UnmarshalJSON(data []byte) error {
	type testCase TestCase
	aux := testCase{ShouldRespond: true}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&aux); err != nil {
		return err
	}
	*tc = TestCase(aux)
	return nil
}

// Outcome is the judged result of one executed test case.
type Outcome struct {
	Name    string
	Verdict Verdict
	// Message holds the joined violations for a FAIL and the error text
	// for an ERROR.
	Message  string
	Response mcp.Message
	Elapsed  time.Duration
}

// ModeResult aggregates one transport mode's run. A startup failure
// leaves Total at zero with a single synthetic error outcome.
type ModeResult struct {
	Mode     Mode
	Total    int
	Passed   int
	Failed   int
	Errored  int
	Outcomes []Outcome
}

// SuccessRate returns passed over total as a percentage, 0 for an empty run.
func (m ModeResult) SuccessRate() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Passed) / float64(m.Total) * 100
}

func (m *ModeResult) record(o Outcome) {
	m.Total++
	switch o.Verdict {
	case VerdictPass:
		m.Passed++
	case VerdictFail:
		m.Failed++
	default:
		m.Errored++
	}
	m.Outcomes = append(m.Outcomes, o)
}

// Suite is an ordered list of test cases. Order carries the MCP
// lifecycle: initialize first, the initialized notification second, then
// the operating-phase calls, so one stdio session serves the whole list.
type Suite struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Tests       []TestCase `json:"tests"`
}
