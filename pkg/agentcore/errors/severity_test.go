package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "warning", SeverityWarning.String())
	assert.Equal(t, "error", SeverityError.String())
	assert.Equal(t, "critical", SeverityCritical.String())
	assert.Equal(t, "unknown", Severity(99).String())
}

func TestParseSeverity(t *testing.T) {
	for _, want := range []Severity{SeverityWarning, SeverityError, SeverityCritical} {
		got, err := ParseSeverity(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseSeverity("fatal")
	assert.Error(t, err)
}

func TestSourceErrorEvent(t *testing.T) {
	assert.Equal(t, "error:agent", SourceErrorEvent(SourceAgent))
	assert.Equal(t, "error:framework", SourceErrorEvent(SourceFramework))

	// The set is open: custom sources get their own event name.
	assert.Equal(t, "error:billing", SourceErrorEvent(Source("billing")))
}
