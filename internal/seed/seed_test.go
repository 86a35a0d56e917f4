package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpool/taskpool/internal/task"
	"github.com/taskpool/taskpool/pkg/statefile"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeManifest(t, `
workflow_type: datagen
metadata:
  batch: 2026-03
tasks:
  - type: seed_dp
    count: 3
    data:
      topic: sorting
  - type: review
    parent_id: seed_dp_00000001
`)
	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "datagen", m.WorkflowType)
	assert.Equal(t, "2026-03", m.Metadata["batch"])
	require.Len(t, m.Tasks, 2)
	assert.Equal(t, 3, m.Tasks[0].Count)
	assert.Equal(t, "sorting", m.Tasks[0].Data["topic"])
	assert.Equal(t, "seed_dp_00000001", m.Tasks[1].ParentID)
}

func TestLoadRejectsMissingType(t *testing.T) {
	path := writeManifest(t, `
tasks:
  - count: 2
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type is required")
}

func TestLoadRejectsNegativeCount(t *testing.T) {
	path := writeManifest(t, `
tasks:
  - type: draft
    count: -1
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count cannot be negative")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	store, err := statefile.New(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	coord, err := task.New(ctx, store)
	require.NoError(t, err)

	m := &Manifest{
		Metadata: map[string]any{"batch": "2026-03"},
		Tasks: []Entry{
			{Type: "seed_dp", Count: 2, Data: map[string]any{"topic": "graphs"}},
			{Type: "review"},
		},
	}
	ids, err := m.Apply(ctx, coord)
	require.NoError(t, err)
	require.Len(t, ids, 3, "count expands the entry, zero count defaults to one")

	summary, err := coord.Summary()
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalTasks)
	assert.Equal(t, 2, summary.TypeCounts["seed_dp"])
	assert.Equal(t, 1, summary.TypeCounts["review"])
	assert.Equal(t, "2026-03", summary.Metadata["batch"])

	got, err := coord.Get(ids[0])
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, "graphs", got.Data["topic"])
}
