package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Env struct {
	StateFile    string        `envconfig:"STATE_FILE" default:".taskpool/state.json"`
	WorkflowType string        `envconfig:"WORKFLOW_TYPE" default:"generic"`
	LockTimeout  time.Duration `envconfig:"LOCK_TIMEOUT" default:"5s"`
	TaskTimeout  time.Duration `envconfig:"TASK_TIMEOUT" default:"24h"`
	HTTPHost     string        `envconfig:"HTTP_HOST" default:""`
	HTTPPort     string        `envconfig:"HTTP_PORT" default:"3180"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
}

const namespace = "TASKPOOL"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *Env) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
