package conformance

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCaseDefaults(t *testing.T) {
	raw := `{
		"name": "Ping Test",
		"request": {"jsonrpc": "2.0", "id": 2, "method": "ping"},
		"expected_fields": ["jsonrpc", "id", "result"]
	}`
	var tc TestCase
	require.NoError(t, json.Unmarshal([]byte(raw), &tc))
	assert.True(t, tc.ShouldRespond, "should_have_response defaults to true")
	assert.False(t, tc.IsNotification)
	assert.Equal(t, json.Number("2"), tc.Request.ID())
	assert.Equal(t, []string{"jsonrpc", "id", "result"}, tc.ExpectedFields)
}

func TestTestCaseNotification(t *testing.T) {
	raw := `{
		"name": "Send Initialized Notification",
		"request": {"jsonrpc": "2.0", "method": "notifications/initialized"},
		"is_notification": true,
		"should_have_response": false
	}`
	var tc TestCase
	require.NoError(t, json.Unmarshal([]byte(raw), &tc))
	assert.True(t, tc.IsNotification)
	assert.False(t, tc.ShouldRespond)
	assert.False(t, tc.Request.HasID())
}

func TestTestCaseKeepsLargeIDs(t *testing.T) {
	raw := `{"name": "big id", "request": {"jsonrpc": "2.0", "id": 9007199254740993, "method": "ping"}}`
	var tc TestCase
	require.NoError(t, json.Unmarshal([]byte(raw), &tc))
	assert.Equal(t, json.Number("9007199254740993"), tc.Request.ID())
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "PASS", VerdictPass.String())
	assert.Equal(t, "FAIL", VerdictFail.String())
	assert.Equal(t, "ERROR", VerdictError.String())
}

func TestModeResultSuccessRate(t *testing.T) {
	assert.Zero(t, ModeResult{}.SuccessRate())
	assert.Equal(t, 100.0, ModeResult{Total: 17, Passed: 17}.SuccessRate())
	assert.InDelta(t, 33.3, ModeResult{Total: 3, Passed: 1}.SuccessRate(), 0.1)
}

func TestModeResultRecord(t *testing.T) {
	var res ModeResult
	res.record(Outcome{Verdict: VerdictPass})
	res.record(Outcome{Verdict: VerdictPass})
	res.record(Outcome{Verdict: VerdictFail})
	res.record(Outcome{Verdict: VerdictError})

	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.Passed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Errored)
	assert.Len(t, res.Outcomes, 4)
	assert.Equal(t, 50.0, res.SuccessRate())
}
