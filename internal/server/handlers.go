package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dealcetexplains-png/mender/internal/heal"
)

// runRequestSchema validates the POST /api/run body before the core ever
// sees it: the three required fields must be non-empty strings, and unknown
// keys are rejected so typos fail loudly.
const runRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["repo_url", "team_name", "team_leader"],
  "additionalProperties": false,
  "properties": {
    "repo_url":    {"type": "string", "minLength": 1, "pattern": "^(https://|git@)"},
    "team_name":   {"type": "string", "minLength": 1, "maxLength": 100},
    "team_leader": {"type": "string", "minLength": 1, "maxLength": 100},
    "auth_token":  {"type": "string"}
  }
}`

var compiledRunSchema = jsonschema.MustCompileString("run_request.json", runRequestSchema)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var body bytes.Buffer
	if _, err := body.ReadFrom(http.MaxBytesReader(w, r.Body, 1<<20)); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}

	var payload any
	if err := json.Unmarshal(body.Bytes(), &payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := compiledRunSchema.Validate(payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var req heal.RunRequest
	if err := json.Unmarshal(body.Bytes(), &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	taskID := ulid.Make().String()
	ctx, cancel := context.WithCancel(s.baseCtx)
	rs := &RunState{
		TaskID:    taskID,
		Cancel:    cancel,
		StartedAt: time.Now().UTC(),
	}
	if err := s.registry.Register(taskID, rs); err != nil {
		cancel()
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	// The run is detached: it owns its context and reports through the
	// registry handle, nothing else is shared with the HTTP layer.
	go func() {
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				rs.SetResult(nil, fmt.Errorf("run panicked: %v", rec))
			}
		}()
		report := s.healRun(ctx, req)
		rs.SetResult(report, nil)
	}()

	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	rs, ok := s.registry.Get(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %s not found", taskID))
		return
	}

	report, err, done := rs.Result()
	switch {
	case !done:
		writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
	case err != nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": msg})
}
