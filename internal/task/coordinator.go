// Package task implements the task store and coordinator: a durable
// collection of tasks shared by many independent worker processes, with
// exclusive claims, ownership-checked completion and pull-based
// reclamation of abandoned claims.
package task

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/taskpool/taskpool/pkg/cerr"
	"github.com/taskpool/taskpool/pkg/statefile"
)

// DefaultTaskTimeout is how long a claim may stay untouched before the
// task becomes reclaimable.
const DefaultTaskTimeout = 24 * time.Hour

const DefaultWorkflowType = "generic"

// Coordinator owns the persisted task collection. Every mutation runs as
// one exclusive-locked read-modify-write cycle against the state file, so
// at most one mutation is in flight system-wide at any instant.
type Coordinator struct {
	store        *statefile.Store
	workflowType string
	taskTimeout  time.Duration
	now          func() time.Time
	newSuffix    func() string
}

type Option func(*Coordinator)

func WithWorkflowType(t string) Option {
	return func(c *Coordinator) {
		c.workflowType = t
	}
}

func WithTaskTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.taskTimeout = d
	}
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithIDSuffix replaces the random ID suffix generator, for tests.
func WithIDSuffix(gen func() string) Option {
	return func(c *Coordinator) {
		c.newSuffix = gen
	}
}

// New opens the coordinator over the given store, initializing the state
// document if it does not exist yet. A document that exists but cannot be
// parsed is a fatal condition.
func New(ctx context.Context, store *statefile.Store, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		store:        store,
		workflowType: DefaultWorkflowType,
		taskTimeout:  DefaultTaskTimeout,
		now:          time.Now,
		newSuffix:    randomSuffix,
	}
	for _, opt := range opts {
		opt(c)
	}
	err := store.Update(ctx, func(data []byte) ([]byte, error) {
		if data != nil {
			// Validate only; never rewrite a document we didn't change.
			_, err := decodeDocument(data, c.workflowType, c.now())
			return nil, err
		}
		doc := newDocument(c.workflowType, c.now())
		return doc.encode()
	})
	if err != nil {
		return nil, cerr.WrapStateReadError(err)
	}
	return c, nil
}

func randomSuffix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// mutate runs fn under the exclusive lock and commits the document when
// fn reports a change, restamping metadata.last_updated.
func (c *Coordinator) mutate(ctx context.Context, fn func(doc *document) (bool, error)) error {
	return c.store.Update(ctx, func(data []byte) ([]byte, error) {
		doc, err := decodeDocument(data, c.workflowType, c.now())
		if err != nil {
			return nil, err
		}
		changed, err := fn(doc)
		if err != nil || !changed {
			return nil, err
		}
		doc.Metadata[metadataLastUpdated] = c.now().Format(time.RFC3339Nano)
		return doc.encode()
	})
}

// view reads the document without locking. Reads may race with a
// mutation and observe the state just before it; they never observe a
// partial write.
func (c *Coordinator) view(fn func(doc *document) error) error {
	return c.store.View(func(data []byte) error {
		doc, err := decodeDocument(data, c.workflowType, c.now())
		if err != nil {
			return err
		}
		return fn(doc)
	})
}

// Create adds a new pending task and returns its generated ID. The
// parent ID is stored as an opaque lookup key and is not validated
// against task existence.
func (c *Coordinator) Create(ctx context.Context, taskType string, data map[string]any, parentID string) (string, error) {
	if taskType == "" {
		return "", cerr.NewError(cerr.InvalidArgument, "task type cannot be empty", nil)
	}
	if data == nil {
		data = map[string]any{}
	}
	id := taskType + "_" + c.newSuffix()
	err := c.mutate(ctx, func(doc *document) (bool, error) {
		doc.Tasks[id] = &Task{
			ID:        id,
			Type:      taskType,
			Status:    StatusPending,
			ParentID:  parentID,
			CreatedAt: c.now(),
			Data:      copyMap(data),
		}
		return true, nil
	})
	if err != nil {
		return "", cerr.WrapStateWriteError(err)
	}
	slog.Debug("created task", "task_id", id, "type", taskType, "parent_id", parentID)
	return id, nil
}

// Next reclaims stale claims, then claims and returns the first pending
// task whose type matches the filter (all types when none given), in
// insertion order. It returns nil when no task is available.
func (c *Coordinator) Next(ctx context.Context, agentID string, taskTypes ...string) (*Task, error) {
	if agentID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "agent id cannot be empty", nil)
	}
	eligible := map[string]bool{}
	for _, t := range taskTypes {
		eligible[t] = true
	}
	var claimed *Task
	err := c.mutate(ctx, func(doc *document) (bool, error) {
		changed := c.reclaimStale(doc)
		for _, t := range doc.tasksInOrder() {
			if t.Status != StatusPending {
				continue
			}
			if len(eligible) > 0 && !eligible[t.Type] {
				continue
			}
			now := c.now()
			t.Status = StatusInProgress
			t.LockedBy = agentID
			t.LockedAt = &now
			if t.TaskStartedAt == nil {
				started := now
				t.TaskStartedAt = &started
			}
			claimed = t.clone()
			return true, nil
		}
		return changed, nil
	})
	if err != nil {
		return nil, cerr.WrapStateWriteError(err)
	}
	if claimed != nil {
		slog.Debug("claimed task", "task_id", claimed.ID, "agent_id", agentID)
	}
	return claimed, nil
}

// reclaimStale returns every in-progress task whose claim is older than
// the task timeout to pending. The original start time is cleared: a
// reclaimed task is a fresh restart from the scheduler's point of view.
func (c *Coordinator) reclaimStale(doc *document) bool {
	now := c.now()
	var reclaimed []string
	for id, t := range doc.Tasks {
		if t.Status != StatusInProgress || t.LockedAt == nil {
			continue
		}
		if now.Sub(*t.LockedAt) <= c.taskTimeout {
			continue
		}
		t.Status = StatusPending
		t.LockedBy = ""
		t.LockedAt = nil
		t.TaskStartedAt = nil
		reclaimed = append(reclaimed, id)
	}
	if len(reclaimed) > 0 {
		slog.Info("reclaimed stale tasks", "task_ids", reclaimed, "task_timeout", c.taskTimeout)
	}
	return len(reclaimed) > 0
}

// Complete transitions a task to the given terminal status, merging the
// optional result into the task data. It returns false, without error,
// when the task is absent or not locked by agentID; stale agents hitting
// that path after a reclamation is a routine outcome, not a failure.
func (c *Coordinator) Complete(ctx context.Context, id, agentID string, status Status, result map[string]any) (bool, error) {
	if agentID == "" {
		return false, cerr.NewError(cerr.InvalidArgument, "agent id cannot be empty", nil)
	}
	if !status.Terminal() {
		return false, cerr.NewError(cerr.InvalidArgument, "completion status must be terminal", nil)
	}
	var ok bool
	err := c.mutate(ctx, func(doc *document) (bool, error) {
		t, exists := doc.Tasks[id]
		if !exists || t.LockedBy != agentID {
			return false, nil
		}
		now := c.now()
		t.Status = status
		t.CompletedAt = &now
		t.LockedBy = ""
		t.LockedAt = nil
		for k, v := range result {
			t.Data[k] = v
		}
		ok = true
		return true, nil
	})
	if err != nil {
		return false, cerr.WrapStateWriteError(err)
	}
	if ok {
		slog.Debug("completed task", "task_id", id, "agent_id", agentID, "status", status)
	}
	return ok, nil
}

// Release returns a task to pending under the same ownership check as
// Complete. The original start time is preserved so elapsed-time metrics
// survive the re-queue.
func (c *Coordinator) Release(ctx context.Context, id, agentID string) (bool, error) {
	if agentID == "" {
		return false, cerr.NewError(cerr.InvalidArgument, "agent id cannot be empty", nil)
	}
	var ok bool
	err := c.mutate(ctx, func(doc *document) (bool, error) {
		t, exists := doc.Tasks[id]
		if !exists || t.LockedBy != agentID {
			return false, nil
		}
		t.Status = StatusPending
		t.LockedBy = ""
		t.LockedAt = nil
		ok = true
		return true, nil
	})
	if err != nil {
		return false, cerr.WrapStateWriteError(err)
	}
	if ok {
		slog.Debug("released task", "task_id", id, "agent_id", agentID)
	}
	return ok, nil
}

// Get returns a snapshot of one task, or nil when absent. Reads take no
// lock and run no reclamation.
func (c *Coordinator) Get(id string) (*Task, error) {
	var snapshot *Task
	err := c.view(func(doc *document) error {
		if t, exists := doc.Tasks[id]; exists {
			snapshot = t.clone()
		}
		return nil
	})
	if err != nil {
		return nil, cerr.WrapStateReadError(err)
	}
	return snapshot, nil
}

// Children returns snapshots of every task whose parent_id equals
// parentID, in insertion order.
func (c *Coordinator) Children(parentID string) ([]*Task, error) {
	var children []*Task
	err := c.view(func(doc *document) error {
		for _, t := range doc.tasksInOrder() {
			if t.ParentID == parentID && parentID != "" {
				children = append(children, t.clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, cerr.WrapStateReadError(err)
	}
	return children, nil
}

// List returns task snapshots in insertion order, optionally filtered by
// type and status.
func (c *Coordinator) List(taskType string, status Status) ([]*Task, error) {
	var tasks []*Task
	err := c.view(func(doc *document) error {
		for _, t := range doc.tasksInOrder() {
			if taskType != "" && t.Type != taskType {
				continue
			}
			if status != "" && t.Status != status {
				continue
			}
			tasks = append(tasks, t.clone())
		}
		return nil
	})
	if err != nil {
		return nil, cerr.WrapStateReadError(err)
	}
	return tasks, nil
}

// Summary aggregates task counts by status and by type.
type Summary struct {
	WorkflowType string         `json:"workflow_type"`
	TotalTasks   int            `json:"total_tasks"`
	StatusCounts map[Status]int `json:"status_counts"`
	TypeCounts   map[string]int `json:"type_counts"`
	Metadata     map[string]any `json:"metadata"`
}

func (c *Coordinator) Summary() (*Summary, error) {
	summary := &Summary{
		StatusCounts: map[Status]int{},
		TypeCounts:   map[string]int{},
	}
	for _, s := range Statuses() {
		summary.StatusCounts[s] = 0
	}
	err := c.view(func(doc *document) error {
		summary.WorkflowType = doc.WorkflowType
		summary.TotalTasks = len(doc.Tasks)
		summary.Metadata = copyMap(doc.Metadata)
		for _, t := range doc.Tasks {
			summary.StatusCounts[t.Status]++
			summary.TypeCounts[t.Type]++
		}
		return nil
	})
	if err != nil {
		return nil, cerr.WrapStateReadError(err)
	}
	return summary, nil
}

// UpdateMetadata shallow-merges the given fields into the workflow
// metadata, last writer wins.
func (c *Coordinator) UpdateMetadata(ctx context.Context, metadata map[string]any) error {
	err := c.mutate(ctx, func(doc *document) (bool, error) {
		for k, v := range metadata {
			doc.Metadata[k] = v
		}
		return true, nil
	})
	if err != nil {
		return cerr.WrapStateWriteError(err)
	}
	return nil
}

// UpdateTaskData shallow-merges the given fields into a task's data and
// stamps its updated_at. It returns false when the task is absent.
func (c *Coordinator) UpdateTaskData(ctx context.Context, id string, data map[string]any) (bool, error) {
	var ok bool
	err := c.mutate(ctx, func(doc *document) (bool, error) {
		t, exists := doc.Tasks[id]
		if !exists {
			return false, nil
		}
		for k, v := range data {
			t.Data[k] = v
		}
		now := c.now()
		t.UpdatedAt = &now
		ok = true
		return true, nil
	})
	if err != nil {
		return false, cerr.WrapStateWriteError(err)
	}
	return ok, nil
}
