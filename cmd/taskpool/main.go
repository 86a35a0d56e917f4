package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/taskpool/taskpool/internal/agent"
	"github.com/taskpool/taskpool/internal/config"
	"github.com/taskpool/taskpool/internal/inspect"
	"github.com/taskpool/taskpool/internal/seed"
	"github.com/taskpool/taskpool/internal/task"
	"github.com/taskpool/taskpool/pkg/clog"
	"github.com/taskpool/taskpool/pkg/statefile"
)

var (
	app       = kingpin.New("taskpool", "File-backed task coordination for pools of worker agents")
	stateFlag = app.Flag("state", "Path to the state file (overrides TASKPOOL_STATE_FILE)").String()

	createCmd    = app.Command("create", "Create a new pending task")
	createType   = createCmd.Arg("type", "Task type").Required().String()
	createData   = createCmd.Flag("data", "Task data as a JSON object").Default("{}").String()
	createParent = createCmd.Flag("parent", "Parent task ID").String()

	nextCmd   = app.Command("next", "Claim the next available task")
	nextAgent = nextCmd.Flag("agent", "Agent ID").Required().String()
	nextTypes = nextCmd.Flag("type", "Eligible task type (repeatable)").Strings()

	completeCmd    = app.Command("complete", "Mark a claimed task as finished")
	completeID     = completeCmd.Arg("id", "Task ID").Required().String()
	completeAgent  = completeCmd.Flag("agent", "Agent ID holding the task").Required().String()
	completeStatus = completeCmd.Flag("status", "Terminal status").Default(string(task.StatusCompleted)).String()
	completeResult = completeCmd.Flag("result", "Result data as a JSON object, merged into the task data").Default("{}").String()

	releaseCmd   = app.Command("release", "Return a claimed task to pending")
	releaseID    = releaseCmd.Arg("id", "Task ID").Required().String()
	releaseAgent = releaseCmd.Flag("agent", "Agent ID holding the task").Required().String()

	getCmd = app.Command("get", "Show one task")
	getID  = getCmd.Arg("id", "Task ID").Required().String()

	childrenCmd = app.Command("children", "Show a task's children")
	childrenID  = childrenCmd.Arg("id", "Parent task ID").Required().String()

	listCmd    = app.Command("list", "List tasks")
	listType   = listCmd.Flag("type", "Filter by task type").String()
	listStatus = listCmd.Flag("status", "Filter by status").String()

	statusCmd = app.Command("status", "Show a workflow summary")

	updateDataCmd  = app.Command("update-data", "Merge fields into a task's data")
	updateDataID   = updateDataCmd.Arg("id", "Task ID").Required().String()
	updateDataJSON = updateDataCmd.Flag("data", "Fields as a JSON object").Required().String()

	updateMetaCmd  = app.Command("update-meta", "Merge fields into the workflow metadata")
	updateMetaJSON = updateMetaCmd.Flag("data", "Fields as a JSON object").Required().String()

	seedCmd      = app.Command("seed", "Apply a YAML seed manifest")
	seedManifest = seedCmd.Arg("manifest", "Manifest path").Required().String()

	watchCmd = app.Command("watch", "Print the summary every time the state file changes")

	serveCmd = app.Command("serve", "Serve the read-only inspection API over HTTP")

	workCmd         = app.Command("work", "Poll for tasks and run a shell command for each")
	workExec        = workCmd.Flag("exec", "Shell command to run per task").Required().String()
	workAgent       = workCmd.Flag("agent", "Agent ID (generated when omitted)").String()
	workTypes       = workCmd.Flag("type", "Eligible task type (repeatable)").Strings()
	workConcurrency = workCmd.Flag("concurrency", "Concurrent workers").Default("1").Int()
	workPoll        = workCmd.Flag("poll", "Poll interval when idle").Default("2s").Duration()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		fatal(err)
	}
	if *stateFlag != "" {
		env.StateFile = *stateFlag
	}

	slog.SetDefault(slog.New(clog.NewAttributesHandler(
		clog.NewTextHandler(os.Stderr, clog.WithLevel(env.SlogLevel())),
	)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := statefile.New(env.StateFile, statefile.WithLockTimeout(env.LockTimeout))
	if err != nil {
		fatal(err)
	}
	coord, err := task.New(ctx, store,
		task.WithWorkflowType(env.WorkflowType),
		task.WithTaskTimeout(env.TaskTimeout),
	)
	if err != nil {
		fatal(err)
	}

	switch command {
	case createCmd.FullCommand():
		err = handleCreate(ctx, coord)
	case nextCmd.FullCommand():
		err = handleNext(ctx, coord)
	case completeCmd.FullCommand():
		err = handleComplete(ctx, coord)
	case releaseCmd.FullCommand():
		err = handleRelease(ctx, coord)
	case getCmd.FullCommand():
		err = handleGet(coord)
	case childrenCmd.FullCommand():
		err = handleChildren(coord)
	case listCmd.FullCommand():
		err = handleList(coord)
	case statusCmd.FullCommand():
		err = printSummary(coord)
	case updateDataCmd.FullCommand():
		err = handleUpdateData(ctx, coord)
	case updateMetaCmd.FullCommand():
		err = handleUpdateMeta(ctx, coord)
	case seedCmd.FullCommand():
		err = handleSeed(ctx, coord)
	case watchCmd.FullCommand():
		err = handleWatch(ctx, store, coord)
	case serveCmd.FullCommand():
		err = handleServe(ctx, coord, env)
	case workCmd.FullCommand():
		err = handleWork(ctx, coord)
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "taskpool: %v\n", err)
	os.Exit(1)
}

func parseJSONObject(s string) (map[string]any, error) {
	m := map[string]any{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("invalid JSON object %q: %w", s, err)
	}
	return m, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// taskPayload adds the ID to a task's JSON form for stdout.
type taskPayload struct {
	ID string `json:"id"`
	*task.Task
}

func handleCreate(ctx context.Context, coord *task.Coordinator) error {
	data, err := parseJSONObject(*createData)
	if err != nil {
		return err
	}
	id, err := coord.Create(ctx, *createType, data, *createParent)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"id": id})
}

func handleNext(ctx context.Context, coord *task.Coordinator) error {
	t, err := coord.Next(ctx, *nextAgent, *nextTypes...)
	if err != nil {
		return err
	}
	if t == nil {
		return printJSON(map[string]any{"status": "no_tasks"})
	}
	return printJSON(taskPayload{ID: t.ID, Task: t})
}

func handleComplete(ctx context.Context, coord *task.Coordinator) error {
	status, err := task.ParseStatus(*completeStatus)
	if err != nil {
		return err
	}
	result, err := parseJSONObject(*completeResult)
	if err != nil {
		return err
	}
	ok, err := coord.Complete(ctx, *completeID, *completeAgent, status, result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s not found or not locked by %s", *completeID, *completeAgent)
	}
	return printJSON(map[string]any{"id": *completeID, "status": status})
}

func handleRelease(ctx context.Context, coord *task.Coordinator) error {
	ok, err := coord.Release(ctx, *releaseID, *releaseAgent)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s not found or not locked by %s", *releaseID, *releaseAgent)
	}
	return printJSON(map[string]any{"id": *releaseID, "status": task.StatusPending})
}

func handleGet(coord *task.Coordinator) error {
	t, err := coord.Get(*getID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("task %s not found", *getID)
	}
	return printJSON(taskPayload{ID: t.ID, Task: t})
}

func handleChildren(coord *task.Coordinator) error {
	children, err := coord.Children(*childrenID)
	if err != nil {
		return err
	}
	payloads := make([]taskPayload, 0, len(children))
	for _, t := range children {
		payloads = append(payloads, taskPayload{ID: t.ID, Task: t})
	}
	return printJSON(payloads)
}

func handleList(coord *task.Coordinator) error {
	var status task.Status
	if *listStatus != "" {
		parsed, err := task.ParseStatus(*listStatus)
		if err != nil {
			return err
		}
		status = parsed
	}
	tasks, err := coord.List(*listType, status)
	if err != nil {
		return err
	}
	payloads := make([]taskPayload, 0, len(tasks))
	for _, t := range tasks {
		payloads = append(payloads, taskPayload{ID: t.ID, Task: t})
	}
	return printJSON(payloads)
}

func handleUpdateData(ctx context.Context, coord *task.Coordinator) error {
	data, err := parseJSONObject(*updateDataJSON)
	if err != nil {
		return err
	}
	ok, err := coord.UpdateTaskData(ctx, *updateDataID, data)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s not found", *updateDataID)
	}
	return printJSON(map[string]any{"id": *updateDataID, "updated": true})
}

func handleUpdateMeta(ctx context.Context, coord *task.Coordinator) error {
	data, err := parseJSONObject(*updateMetaJSON)
	if err != nil {
		return err
	}
	if err := coord.UpdateMetadata(ctx, data); err != nil {
		return err
	}
	return printJSON(map[string]any{"updated": true})
}

func handleSeed(ctx context.Context, coord *task.Coordinator) error {
	manifest, err := seed.Load(*seedManifest)
	if err != nil {
		return err
	}
	ids, err := manifest.Apply(ctx, coord)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"created": ids})
}

func handleWatch(ctx context.Context, store *statefile.Store, coord *task.Coordinator) error {
	if err := printSummary(coord); err != nil {
		return err
	}
	err := store.Watch(ctx, func() {
		if err := printSummary(coord); err != nil {
			slog.Warn("failed to print summary", "error", err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func handleServe(ctx context.Context, coord *task.Coordinator, env *config.Env) error {
	server := inspect.NewServer(coord, env.HTTPHost, env.HTTPPort)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shut down server", "error", err)
		}
	}()
	if err := server.ListenAndServe(ctx); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func handleWork(ctx context.Context, coord *task.Coordinator) error {
	handler, err := agent.ShellHandler(*workExec)
	if err != nil {
		return err
	}
	opts := []agent.Option{
		agent.WithConcurrency(*workConcurrency),
		agent.WithPollInterval(*workPoll),
	}
	if *workAgent != "" {
		opts = append(opts, agent.WithID(*workAgent))
	}
	runner := agent.NewRunner(coord, opts...)
	if len(*workTypes) == 0 {
		runner.Handle("", handler)
	}
	for _, t := range *workTypes {
		runner.Handle(t, handler)
	}
	return runner.Run(ctx)
}
