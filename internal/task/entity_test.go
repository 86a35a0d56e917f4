package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses() {
		parsed, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseStatus("done")
	assert.Error(t, err)
	_, err = ParseStatus("")
	assert.Error(t, err)
}

func TestCloneIsolatesData(t *testing.T) {
	original := &Task{
		ID:     "draft_00000001",
		Type:   "draft",
		Status: StatusPending,
		Data:   map[string]any{"k": "v"},
	}
	snapshot := original.clone()
	snapshot.Data["k"] = "changed"
	snapshot.Status = StatusCancelled

	assert.Equal(t, "v", original.Data["k"])
	assert.Equal(t, StatusPending, original.Status)
}
