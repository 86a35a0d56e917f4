// Package seed loads declarative YAML manifests that populate a fresh
// workflow with its initial tasks and metadata.
package seed

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/taskpool/taskpool/internal/task"
)

// Manifest describes the initial contents of a workflow.
type Manifest struct {
	WorkflowType string         `yaml:"workflow_type"`
	Metadata     map[string]any `yaml:"metadata"`
	Tasks        []Entry        `yaml:"tasks"`
}

// Entry describes one task to create. Count expands the entry into that
// many identical tasks (default 1).
type Entry struct {
	Type     string         `yaml:"type"`
	ParentID string         `yaml:"parent_id"`
	Count    int            `yaml:"count"`
	Data     map[string]any `yaml:"data"`
}

func Load(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(content, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	for i, e := range m.Tasks {
		if e.Type == "" {
			return nil, fmt.Errorf("manifest task %d: type is required", i)
		}
		if e.Count < 0 {
			return nil, fmt.Errorf("manifest task %d: count cannot be negative", i)
		}
	}
	return &m, nil
}

// Apply creates every task in the manifest through the coordinator and
// merges the manifest metadata into the workflow metadata. It returns
// the IDs of the created tasks in manifest order.
func (m *Manifest) Apply(ctx context.Context, c *task.Coordinator) ([]string, error) {
	if len(m.Metadata) > 0 {
		if err := c.UpdateMetadata(ctx, m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to apply manifest metadata: %w", err)
		}
	}
	var ids []string
	for _, e := range m.Tasks {
		count := e.Count
		if count == 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			id, err := c.Create(ctx, e.Type, e.Data, e.ParentID)
			if err != nil {
				return ids, fmt.Errorf("failed to create %s task: %w", e.Type, err)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
