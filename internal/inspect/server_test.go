package inspect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpool/taskpool/internal/task"
	"github.com/taskpool/taskpool/pkg/statefile"
)

func newTestServer(t *testing.T) (*task.Coordinator, *httptest.Server) {
	t.Helper()
	store, err := statefile.New(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	coord, err := task.New(context.Background(), store, task.WithWorkflowType("datagen"))
	require.NoError(t, err)
	ts := httptest.NewServer(NewServer(coord, "", "0").Handler())
	t.Cleanup(ts.Close)
	return coord, ts
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSummaryEndpoint(t *testing.T) {
	coord, ts := newTestServer(t)
	ctx := context.Background()
	_, err := coord.Create(ctx, "seed_dp", nil, "")
	require.NoError(t, err)
	_, err = coord.Create(ctx, "review", nil, "")
	require.NoError(t, err)

	var summary struct {
		WorkflowType string         `json:"workflow_type"`
		TotalTasks   int            `json:"total_tasks"`
		StatusCounts map[string]int `json:"status_counts"`
		TypeCounts   map[string]int `json:"type_counts"`
	}
	resp := getJSON(t, ts.URL+"/api/summary", &summary)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "datagen", summary.WorkflowType)
	assert.Equal(t, 2, summary.TotalTasks)
	assert.Equal(t, 2, summary.StatusCounts["pending"])
	assert.Equal(t, 1, summary.TypeCounts["seed_dp"])
}

func TestListEndpoint(t *testing.T) {
	coord, ts := newTestServer(t)
	ctx := context.Background()
	draftID, err := coord.Create(ctx, "draft", nil, "")
	require.NoError(t, err)
	_, err = coord.Create(ctx, "review", nil, "")
	require.NoError(t, err)
	_, err = coord.Next(ctx, "agent-1", "review")
	require.NoError(t, err)

	var tasks []struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	resp := getJSON(t, ts.URL+"/api/tasks", &tasks)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, tasks, 2)

	tasks = nil
	resp = getJSON(t, ts.URL+"/api/tasks?type=draft", &tasks)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, tasks, 1)
	assert.Equal(t, draftID, tasks[0].ID)

	tasks = nil
	resp = getJSON(t, ts.URL+"/api/tasks?status=in_progress", &tasks)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, tasks, 1)
	assert.Equal(t, "review", tasks[0].Type)
}

func TestListEndpointRejectsBadStatus(t *testing.T) {
	_, ts := newTestServer(t)

	var body struct {
		Code string `json:"code"`
	}
	resp := getJSON(t, ts.URL+"/api/tasks?status=bogus", &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidArgument", body.Code)
}

func TestGetEndpoint(t *testing.T) {
	coord, ts := newTestServer(t)
	id, err := coord.Create(context.Background(), "draft", map[string]any{"n": 1}, "")
	require.NoError(t, err)

	var got struct {
		ID   string         `json:"id"`
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	resp := getJSON(t, ts.URL+"/api/tasks/"+id, &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "draft", got.Type)
	assert.EqualValues(t, 1, got.Data["n"])
}

func TestGetEndpointNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	var body struct {
		Code string `json:"code"`
	}
	resp := getJSON(t, ts.URL+"/api/tasks/missing_00000000", &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NotFound", body.Code)
}

func TestChildrenEndpoint(t *testing.T) {
	coord, ts := newTestServer(t)
	ctx := context.Background()
	parent, err := coord.Create(ctx, "seed_dp", nil, "")
	require.NoError(t, err)
	child, err := coord.Create(ctx, "draft", nil, parent)
	require.NoError(t, err)
	_, err = coord.Create(ctx, "draft", nil, "")
	require.NoError(t, err)

	var children []struct {
		ID       string `json:"id"`
		ParentID string `json:"parent_id"`
	}
	resp := getJSON(t, ts.URL+"/api/tasks/"+parent+"/children", &children)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, children, 1)
	assert.Equal(t, child, children[0].ID)
	assert.Equal(t, parent, children[0].ParentID)
}
