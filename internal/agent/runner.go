// Package agent runs polling worker loops against a task coordinator:
// claim the next eligible task, dispatch it to a handler, report the
// terminal outcome, release cleanly on shutdown.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc/pool"

	"github.com/taskpool/taskpool/internal/task"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultConcurrency  = 1
)

// HandlerFunc processes one claimed task. The returned map is merged into
// the task data on completion; a non-nil error marks the task failed with
// the error message recorded in the data.
type HandlerFunc func(ctx context.Context, t *task.Task) (map[string]any, error)

// Runner polls the coordinator and dispatches claimed tasks to handlers
// registered per task type. A handler registered under the empty type is
// the fallback for any type, and makes the runner claim unfiltered.
type Runner struct {
	coord        *task.Coordinator
	id           string
	pollInterval time.Duration
	concurrency  int
	handlers     map[string]HandlerFunc
}

type Option func(*Runner)

func WithID(id string) Option {
	return func(r *Runner) {
		r.id = id
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		r.pollInterval = d
	}
}

func WithConcurrency(n int) Option {
	return func(r *Runner) {
		r.concurrency = n
	}
}

func NewRunner(coord *task.Coordinator, opts ...Option) *Runner {
	r := &Runner{
		coord:        coord,
		id:           fmt.Sprintf("agent-%s", ulid.Make()),
		pollInterval: DefaultPollInterval,
		concurrency:  DefaultConcurrency,
		handlers:     map[string]HandlerFunc{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the agent identity used for claims.
func (r *Runner) ID() string {
	return r.id
}

// Handle registers a handler for a task type. Registering under the
// empty string sets the fallback handler.
func (r *Runner) Handle(taskType string, h HandlerFunc) {
	r.handlers[taskType] = h
}

// claimTypes returns the type filter for Next: nil (all types) when a
// fallback handler exists, the registered types otherwise.
func (r *Runner) claimTypes() []string {
	if _, ok := r.handlers[""]; ok {
		return nil
	}
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Run starts the configured number of worker loops and blocks until ctx
// is cancelled. Tasks still claimed when a handler is interrupted are
// released so another agent can pick them up immediately.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	slog.Info("agent runner starting",
		"agent_id", r.id,
		"concurrency", r.concurrency,
		"poll_interval", r.pollInterval,
	)
	p := pool.New().WithContext(ctx).WithCancelOnError()
	for i := 0; i < r.concurrency; i++ {
		p.Go(r.workLoop)
	}
	err := p.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *Runner) workLoop(ctx context.Context) error {
	types := r.claimTypes()
	for {
		if ctx.Err() != nil {
			return nil
		}
		t, err := r.coord.Next(ctx, r.id, types...)
		if err != nil {
			return fmt.Errorf("failed to claim next task: %w", err)
		}
		if t == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.pollInterval):
			}
			continue
		}
		r.process(ctx, t)
	}
}

func (r *Runner) process(ctx context.Context, t *task.Task) {
	handler, ok := r.handlers[t.Type]
	if !ok {
		handler = r.handlers[""]
	}

	result, err := handler(ctx, t)

	// The claim must be resolved even when ctx died mid-task, so the
	// follow-up calls run on an uncancelled context.
	doneCtx := context.WithoutCancel(ctx)
	switch {
	case ctx.Err() != nil && err != nil:
		// Interrupted, not failed: hand the task back.
		if ok, relErr := r.coord.Release(doneCtx, t.ID, r.id); relErr != nil || !ok {
			slog.Warn("failed to release interrupted task", "task_id", t.ID, "agent_id", r.id, "error", relErr)
		} else {
			slog.Info("released interrupted task", "task_id", t.ID, "agent_id", r.id)
		}
	case err != nil:
		failure := map[string]any{"error": err.Error()}
		for k, v := range result {
			failure[k] = v
		}
		if ok, cErr := r.coord.Complete(doneCtx, t.ID, r.id, task.StatusFailed, failure); cErr != nil || !ok {
			slog.Warn("failed to record task failure", "task_id", t.ID, "agent_id", r.id, "error", cErr)
		} else {
			slog.Info("task failed", "task_id", t.ID, "agent_id", r.id, "error", err)
		}
	default:
		if ok, cErr := r.coord.Complete(doneCtx, t.ID, r.id, task.StatusCompleted, result); cErr != nil || !ok {
			// Routine when the claim timed out and another agent took over.
			slog.Warn("completion rejected", "task_id", t.ID, "agent_id", r.id, "error", cErr)
		} else {
			slog.Info("task completed", "task_id", t.ID, "agent_id", r.id)
		}
	}
}
