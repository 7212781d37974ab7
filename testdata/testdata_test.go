package testdata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skanga/dbchat-protocol-tests/conformance"
	"github.com/skanga/dbchat-protocol-tests/testdata"
)

func TestBundledProtocolSuite(t *testing.T) {
	suite, err := conformance.LoadSuiteFromFS(testdata.FS, testdata.ProtocolSuite)
	require.NoError(t, err)

	assert.Equal(t, "dbchat-protocol", suite.Name)
	require.Greater(t, len(suite.Tests), 10)

	// Lifecycle order: initialize opens the session, the initialized
	// notification follows, everything after runs in the operating phase.
	assert.Equal(t, "initialize", suite.Tests[0].Request.Method())
	assert.True(t, suite.Tests[1].IsNotification)
	assert.False(t, suite.Tests[1].ShouldRespond)
	for i, tc := range suite.Tests[2:] {
		assert.False(t, tc.IsNotification, "case %d: only the initialized notification goes unanswered", i+2)
		assert.True(t, tc.ShouldRespond, "case %d", i+2)
	}

	// The id-format cases keep their deliberate null and string ids.
	byName := make(map[string]conformance.TestCase, len(suite.Tests))
	for _, tc := range suite.Tests {
		byName[tc.Name] = tc
	}
	nullID := byName["ID Test - Null ID"]
	require.True(t, nullID.Request.HasID())
	assert.Nil(t, nullID.Request.ID())
	assert.Equal(t, "test-string-id", byName["ID Test - String ID"].Request.ID())
}
