package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Charles-Hello/cloudflyer/internal/config"
	"github.com/Charles-Hello/cloudflyer/internal/types"
)

type fakeRunner struct {
	block  chan struct{}
	result func(task *types.Task) *types.Result
}

func (f *fakeRunner) Run(_ context.Context, task *types.Task) *types.Result {
	if f.block != nil {
		<-f.block
	}
	if f.result != nil {
		return f.result(task)
	}
	return types.NewSuccessResult(&types.Response{Token: "tok"}, task)
}

func testServer(t *testing.T, runner TaskRunner) *Server {
	t.Helper()
	cfg := &config.Config{ClientKey: "key", TaskTTL: time.Hour}
	s := New(zerolog.Nop(), cfg, runner)
	t.Cleanup(s.Close)
	return s
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCreateTaskRejectsBadClientKey(t *testing.T) {
	s := testServer(t, &fakeRunner{})
	rec := postJSON(t, s.Handler(), "/createTask", map[string]any{
		"clientKey": "wrong",
		"type":      "Turnstile",
		"url":       "example.com",
		"siteKey":   "k",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateTaskRejectsInvalidTask(t *testing.T) {
	s := testServer(t, &fakeRunner{})
	rec := postJSON(t, s.Handler(), "/createTask", map[string]any{
		"clientKey": "key",
		"type":      "Turnstile",
		"url":       "example.com",
		// missing siteKey
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateTaskRejectsUnknownType(t *testing.T) {
	s := testServer(t, &fakeRunner{})
	rec := postJSON(t, s.Handler(), "/createTask", map[string]any{
		"clientKey": "key",
		"type":      "HCaptcha",
		"url":       "example.com",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := testServer(t, &fakeRunner{})
	h := s.Handler()

	rec := postJSON(t, h, "/createTask", map[string]any{
		"clientKey": "key",
		"type":      "Turnstile",
		"url":       "example.com",
		"siteKey":   "k",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("createTask failed: %d %s", rec.Code, rec.Body.String())
	}
	taskID, _ := decode(t, rec)["taskId"].(string)
	if taskID == "" {
		t.Fatal("no taskId in response")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = postJSON(t, h, "/getTaskResult", map[string]any{
			"clientKey": "key",
			"taskId":    taskID,
		})
		out := decode(t, rec)
		if out["status"] == "completed" {
			result, ok := out["result"].(map[string]any)
			if !ok {
				t.Fatalf("completed task without result: %v", out)
			}
			if result["success"] != true {
				t.Errorf("expected success, got %v", result)
			}
			resp, _ := result["response"].(map[string]any)
			if resp["token"] != "tok" {
				t.Errorf("unexpected token: %v", resp)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never completed: %v", out)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTaskStatusProcessingWhileRunning(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	s := testServer(t, &fakeRunner{block: block})
	h := s.Handler()

	rec := postJSON(t, h, "/createTask", map[string]any{
		"clientKey": "key",
		"type":      "CloudflareChallenge",
		"url":       "example.com",
	})
	taskID, _ := decode(t, rec)["taskId"].(string)

	rec = postJSON(t, h, "/getTaskResult", map[string]any{
		"clientKey": "key",
		"taskId":    taskID,
	})
	out := decode(t, rec)
	if out["status"] != "processing" {
		t.Errorf("expected processing, got %v", out["status"])
	}
	if out["result"] != nil {
		t.Errorf("expected null result while processing, got %v", out["result"])
	}
}

func TestGetTaskResultUnknownTask(t *testing.T) {
	s := testServer(t, &fakeRunner{})
	rec := postJSON(t, s.Handler(), "/getTaskResult", map[string]any{
		"clientKey": "key",
		"taskId":    "does-not-exist",
	})
	out := decode(t, rec)
	if out["status"] != "error" || out["error"] != "Task not found" {
		t.Errorf("unexpected response: %v", out)
	}
}

func TestEmptyClientKeyDisablesAuth(t *testing.T) {
	cfg := &config.Config{ClientKey: "", TaskTTL: time.Hour}
	s := New(zerolog.Nop(), cfg, &fakeRunner{})
	t.Cleanup(s.Close)

	rec := postJSON(t, s.Handler(), "/createTask", map[string]any{
		"clientKey": "anything",
		"type":      "CloudflareChallenge",
		"url":       "example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	s := testServer(t, &fakeRunner{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if out := decode(t, rec); out["status"] != "ok" {
		t.Errorf("unexpected health payload: %v", out)
	}
}

func TestCreateTaskMethodNotAllowed(t *testing.T) {
	s := testServer(t, &fakeRunner{})
	req := httptest.NewRequest(http.MethodGet, "/createTask", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
