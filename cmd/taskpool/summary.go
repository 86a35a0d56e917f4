package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"

	"github.com/taskpool/taskpool/internal/task"
)

var statusColors = map[task.Status]*color.Color{
	task.StatusPending:    color.New(color.FgYellow),
	task.StatusInProgress: color.New(color.FgBlue),
	task.StatusCompleted:  color.New(color.FgGreen),
	task.StatusFailed:     color.New(color.FgRed),
	task.StatusCancelled:  color.New(color.FgMagenta),
}

func printSummary(coord *task.Coordinator) error {
	summary, err := coord.Summary()
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	bold.Printf("workflow %s", summary.WorkflowType)
	if updated, ok := summary.Metadata["last_updated"]; ok {
		fmt.Printf(" (updated %v)", updated)
	}
	fmt.Printf("\n%d tasks\n", summary.TotalTasks)

	for _, s := range task.Statuses() {
		c := statusColors[s]
		c.Printf("  %-12s", s)
		fmt.Printf("%d\n", summary.StatusCounts[s])
	}

	if len(summary.TypeCounts) > 0 {
		bold.Println("by type")
		types := make([]string, 0, len(summary.TypeCounts))
		for t := range summary.TypeCounts {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("  %-20s%d\n", t, summary.TypeCounts[t])
		}
	}
	return nil
}
