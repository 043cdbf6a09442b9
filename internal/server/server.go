// Package server exposes the task-queue HTTP API: tasks are created, run
// asynchronously on the instance pool, and polled for results.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"github.com/Charles-Hello/cloudflyer/internal/config"
	"github.com/Charles-Hello/cloudflyer/internal/middleware"
	"github.com/Charles-Hello/cloudflyer/internal/types"
	"github.com/Charles-Hello/cloudflyer/pkg/version"
)

// maxBodySize limits request bodies to prevent memory exhaustion (1MB).
const maxBodySize = 1 << 20

const maxStoredTasks = 10000

// requestTimeout bounds API handlers. Task execution itself is
// asynchronous and unaffected.
const requestTimeout = 30 * time.Second

// TaskRunner executes a task to completion. Implemented by the instance
// pool.
type TaskRunner interface {
	Run(ctx context.Context, task *types.Task) *types.Result
}

// Task lifecycle states as reported by getTaskResult.
const (
	statusProcessing = "processing"
	statusCompleted  = "completed"
)

// taskRecord tracks one accepted task until its TTL expires.
type taskRecord struct {
	status string
	result *types.Result
}

// Server is the HTTP front end.
type Server struct {
	cfg    *config.Config
	runner TaskRunner
	log    zerolog.Logger

	tasks *ttlcache.Cache[string, *taskRecord]

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New builds a server backed by runner. Results are kept for cfg.TaskTTL
// after completion.
func New(logger zerolog.Logger, cfg *config.Config, runner TaskRunner) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		runner: runner,
		log:    logger,
		tasks: ttlcache.New[string, *taskRecord](
			ttlcache.WithTTL[string, *taskRecord](cfg.TaskTTL),
			ttlcache.WithCapacity[string, *taskRecord](maxStoredTasks),
			ttlcache.WithDisableTouchOnHit[string, *taskRecord](),
		),
		baseCtx: ctx,
		cancel:  cancel,
	}
	go s.tasks.Start()
	return s
}

// Close stops result expiry and cancels tasks still queued.
func (s *Server) Close() {
	s.cancel()
	s.tasks.Stop()
}

// Handler returns the routed handler wrapped in the middleware stack.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/createTask", s.handleCreateTask)
	mux.HandleFunc("/getTaskResult", s.handleGetTaskResult)
	mux.HandleFunc("/health", s.handleHealth)

	return middleware.Chain(
		middleware.Recovery,
		middleware.Logging,
		middleware.Timeout(requestTimeout),
	)(mux)
}

// createTaskRequest is the task schema plus the caller's API key.
type createTaskRequest struct {
	ClientKey string `json:"clientKey"`
	types.Task
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log.Warn().Err(err).Msg("Failed to decode createTask request")
		s.writeError(w, http.StatusBadRequest, "Invalid JSON request")
		return
	}
	if !s.authorized(req.ClientKey) {
		s.writeError(w, http.StatusForbidden, "Invalid clientKey")
		return
	}

	task := req.Task
	task.ID = uuid.NewString()
	if err := task.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.tasks.Set(task.ID, &taskRecord{status: statusProcessing}, ttlcache.DefaultTTL)
	go s.process(task.ID, &task)

	s.log.Info().Str("task", task.ID).Str("type", string(task.Type)).Msg("Created task")
	s.writeJSON(w, http.StatusOK, map[string]string{"taskId": task.ID})
}

// process runs the task on the pool and publishes the terminal record. It
// runs detached from the creating request.
func (s *Server) process(id string, task *types.Task) {
	result := s.runner.Run(s.baseCtx, task)

	s.tasks.Set(id, &taskRecord{status: statusCompleted, result: result}, ttlcache.DefaultTTL)
	if result.Success {
		s.log.Info().Str("task", id).Msg("Job finished successfully")
	} else {
		s.log.Info().Str("task", id).Str("reason", result.Error).Msg("Job failed")
	}
}

func (s *Server) handleGetTaskResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req taskResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON request")
		return
	}
	if !s.authorized(req.ClientKey) {
		s.writeError(w, http.StatusForbidden, "Invalid clientKey")
		return
	}

	item := s.tasks.Get(req.TaskID)
	if item == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"status": "error",
			"error":  "Task not found",
			"result": nil,
		})
		return
	}

	record := item.Value()
	resp := map[string]any{"status": record.status, "result": nil}
	if record.status == statusCompleted {
		resp["result"] = record.result
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Full(),
	})
}

// authorized checks the API key carried in the request body. An empty
// configured key disables the check.
func (s *Server) authorized(clientKey string) bool {
	return s.cfg.ClientKey == "" || clientKey == s.cfg.ClientKey
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
