package trino

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryStateRoundTrip(t *testing.T) {
	for _, s := range []QueryState{
		StateQueued, StateWaitingForResources, StateDispatching, StatePlanning,
		StateStarting, StateRunning, StateFinishing, StateFinished,
		StateCanceled, StateFailed,
	} {
		parsed, err := ParseQueryState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
}

func TestQueryStateUnknown(t *testing.T) {
	_, err := ParseQueryState("EXPLODED")
	assert.ErrorContains(t, err, "unknown query state")

	assert.Equal(t, "QueryState(42)", QueryState(42).String())
}

func TestQueryStateTerminal(t *testing.T) {
	assert.True(t, StateFinished.Terminal())
	assert.True(t, StateCanceled.Terminal())
	assert.True(t, StateFailed.Terminal())

	assert.False(t, StateQueued.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.False(t, StateFinishing.Terminal())
}
