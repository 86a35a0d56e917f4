package task

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Statuses returns every status in a fixed order, used for zero-filled
// summary counts.
func Statuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled}
}

// Terminal reports whether s is a final state with no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// Task is one unit of schedulable work. The ID is the key of the task in
// the persisted document, so it is excluded from the record itself.
type Task struct {
	ID            string         `json:"-"`
	Type          string         `json:"type"`
	Status        Status         `json:"status"`
	ParentID      string         `json:"parent_id,omitempty"`
	LockedBy      string         `json:"locked_by,omitempty"`
	LockedAt      *time.Time     `json:"locked_at,omitempty"`
	TaskStartedAt *time.Time     `json:"task_started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     *time.Time     `json:"updated_at,omitempty"`
	Data          map[string]any `json:"data"`
}

// clone returns a snapshot safe to hand to callers after the store lock
// is released. Data is copied one level deep; nested values stay shared,
// which matches the shallow-merge semantics of data updates.
func (t *Task) clone() *Task {
	c := *t
	c.Data = copyMap(t.Data)
	return &c
}

func copyMap(m map[string]any) map[string]any {
	copied := make(map[string]any, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}
