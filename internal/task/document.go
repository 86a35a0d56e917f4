package task

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const (
	metadataInitializedAt = "initialized_at"
	metadataLastUpdated   = "last_updated"
)

// document is the persisted shape of the whole task collection. It is
// always read and written as one unit.
type document struct {
	WorkflowType string           `json:"workflow_type"`
	Metadata     map[string]any   `json:"metadata"`
	Tasks        map[string]*Task `json:"tasks"`
}

func newDocument(workflowType string, now time.Time) *document {
	stamp := now.Format(time.RFC3339Nano)
	return &document{
		WorkflowType: workflowType,
		Metadata: map[string]any{
			metadataInitializedAt: stamp,
			metadataLastUpdated:   stamp,
		},
		Tasks: map[string]*Task{},
	}
}

func decodeDocument(data []byte, workflowType string, now time.Time) (*document, error) {
	if data == nil {
		return newDocument(workflowType, now), nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed state document: %w", err)
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	if doc.Tasks == nil {
		doc.Tasks = map[string]*Task{}
	}
	for id, t := range doc.Tasks {
		t.ID = id
		if t.Data == nil {
			t.Data = map[string]any{}
		}
	}
	return &doc, nil
}

func (d *document) encode() ([]byte, error) {
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state document: %w", err)
	}
	return out, nil
}

// tasksInOrder returns tasks sorted by creation time with ID as
// tie-break. The persisted form is a map, so this ordering is what
// realizes FIFO-by-insertion for the claim scan.
func (d *document) tasksInOrder() []*Task {
	tasks := make([]*Task, 0, len(d.Tasks))
	for _, t := range d.Tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks
}
