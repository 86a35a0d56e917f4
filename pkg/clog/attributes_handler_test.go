package clog

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// captureHandler records every slog record it receives.
type captureHandler struct {
	mu      sync.Mutex
	records []map[string]any
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, record slog.Record) error {
	kv := map[string]any{}
	record.Attrs(func(attr slog.Attr) bool {
		kv[attr.Key] = attr.Value.Any()
		return true
	})
	h.mu.Lock()
	h.records = append(h.records, kv)
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func TestAttributesHandlerAppendsContextAttrs(t *testing.T) {
	capture := &captureHandler{}
	logger := slog.New(NewAttributesHandler(capture))

	ctx := ContextWithSlog(context.Background())
	AddAttribute(ctx, "task_id", "draft_00000001")
	AddAttributes(ctx, map[string]any{"agent_id": "agent-1"})
	logger.InfoContext(ctx, "claimed")

	if len(capture.records) != 1 {
		t.Fatalf("records = %d, want 1", len(capture.records))
	}
	kv := capture.records[0]
	if kv["task_id"] != "draft_00000001" {
		t.Errorf("task_id = %v, want draft_00000001", kv["task_id"])
	}
	if kv["agent_id"] != "agent-1" {
		t.Errorf("agent_id = %v, want agent-1", kv["agent_id"])
	}
}

func TestAttributesHandlerIgnoresPlainContext(t *testing.T) {
	capture := &captureHandler{}
	logger := slog.New(NewAttributesHandler(capture))

	logger.InfoContext(context.Background(), "no attrs")

	if len(capture.records) != 1 {
		t.Fatalf("records = %d, want 1", len(capture.records))
	}
	if len(capture.records[0]) != 0 {
		t.Errorf("attrs = %v, want none", capture.records[0])
	}
}

func TestSlogChiMiddlewareLogsRequest(t *testing.T) {
	capture := &captureHandler{}
	prev := slog.Default()
	slog.SetDefault(slog.New(NewAttributesHandler(capture)))
	defer slog.SetDefault(prev)

	handler := SlogChiMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddAttribute(r.Context(), "task_id", "draft_00000001")
		w.WriteHeader(http.StatusNotFound)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/draft_00000001", nil))

	if len(capture.records) != 1 {
		t.Fatalf("records = %d, want 1", len(capture.records))
	}
	kv := capture.records[0]
	if kv["method"] != http.MethodGet {
		t.Errorf("method = %v, want GET", kv["method"])
	}
	if kv["path"] != "/api/tasks/draft_00000001" {
		t.Errorf("path = %v, want the request path", kv["path"])
	}
	if status, ok := kv["status"].(int64); !ok || status != http.StatusNotFound {
		t.Errorf("status = %v, want %d", kv["status"], http.StatusNotFound)
	}
	if kv["task_id"] != "draft_00000001" {
		t.Errorf("task_id = %v, want the handler-attached id", kv["task_id"])
	}
}
