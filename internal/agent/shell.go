package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/taskpool/taskpool/internal/task"
)

// ShellHandler parses a shell command once and returns a handler that
// runs it for every claimed task. The task context is exposed through
// TASKPOOL_TASK_* environment variables; the command's exit status
// decides completed vs failed.
func ShellHandler(command string) (HandlerFunc, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(command), "work")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}
	return func(ctx context.Context, t *task.Task) (map[string]any, error) {
		data, err := json.Marshal(t.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode task data: %w", err)
		}
		env := append(os.Environ(),
			"TASKPOOL_TASK_ID="+t.ID,
			"TASKPOOL_TASK_TYPE="+t.Type,
			"TASKPOOL_TASK_PARENT_ID="+t.ParentID,
			"TASKPOOL_TASK_DATA="+string(data),
		)
		runner, err := interp.New(
			interp.Env(expand.ListEnviron(env...)),
			interp.StdIO(nil, os.Stdout, os.Stderr),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create shell runner: %w", err)
		}
		if err := runner.Run(ctx, file); err != nil {
			if status, ok := interp.IsExitStatus(err); ok {
				return map[string]any{"exit_status": int(status)}, fmt.Errorf("command exited with status %d", status)
			}
			return nil, fmt.Errorf("command failed: %w", err)
		}
		return map[string]any{"exit_status": 0}, nil
	}, nil
}
