package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvDefaults(t *testing.T) {
	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, ".taskpool/state.json", env.StateFile)
	assert.Equal(t, "generic", env.WorkflowType)
	assert.Equal(t, 5*time.Second, env.LockTimeout)
	assert.Equal(t, 24*time.Hour, env.TaskTimeout)
	assert.Equal(t, "3180", env.HTTPPort)
	assert.Equal(t, slog.LevelInfo, env.SlogLevel())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TASKPOOL_STATE_FILE", "/var/lib/taskpool/state.json")
	t.Setenv("TASKPOOL_WORKFLOW_TYPE", "datagen")
	t.Setenv("TASKPOOL_TASK_TIMEOUT", "30m")
	t.Setenv("TASKPOOL_LOG_LEVEL", "debug")

	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/taskpool/state.json", env.StateFile)
	assert.Equal(t, "datagen", env.WorkflowType)
	assert.Equal(t, 30*time.Minute, env.TaskTimeout)
	assert.Equal(t, slog.LevelDebug, env.SlogLevel())
}

func TestSlogLevelFallsBackToInfo(t *testing.T) {
	env := &Env{LogLevel: "chatty"}
	assert.Equal(t, slog.LevelInfo, env.SlogLevel())
	var nilEnv *Env
	assert.Equal(t, slog.LevelInfo, nilEnv.SlogLevel())
}
