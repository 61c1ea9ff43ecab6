package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/groveops/grove-agent/internal/command"
	"github.com/groveops/grove-agent/internal/validate"
)

const recentRunLimit = 20

type debugRequest struct {
	MethodName  string          `json:"methodName" validate:"required,rpcmethod"`
	RequestData json.RawMessage `json:"requestData"`
}

type manualRequest struct {
	Tasks  []string          `json:"tasks" validate:"required,min=1,dive,taskname"`
	Params map[string]string `json:"params"`
}

type execRequest struct {
	Command        string `json:"command" validate:"required,max=8192"`
	TimeoutSeconds int    `json:"timeoutSeconds" validate:"gte=0,lte=3600"`
}

// handleDebug forwards an arbitrary remote method call to the gateway.
// requestData may be a JSON string (sent as-is) or any other JSON value
// (re-marshaled to its compact text); either way it must be non-empty.
// The gateway's response is relayed verbatim as the response body, except
// that a blank response becomes an explicit empty-status envelope so the
// caller can tell "ran with no data" from a transport failure.
func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	var req debugRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeBadRequest(w, err)
		return
	}

	payload := rawPayload(req.RequestData)
	if payload == "" {
		writeBadRequest(w, errors.New("request_data is required"))
		return
	}

	result, err := s.gateway.Call(r.Context(), req.MethodName, payload)
	if err != nil {
		s.logger.Warn("debug call failed", "method", req.MethodName, "error", err)
		writeBadRequest(w, err)
		return
	}

	if strings.TrimSpace(result) == "" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "empty"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, result)
}

// rawPayload turns the requestData field into the payload string sent to the
// gateway. A JSON string is unquoted; objects, arrays and other values keep
// their JSON text.
func rawPayload(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// handleManual starts a manual task sequence in the background and answers
// immediately.
func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if !s.runner.Enabled() {
		writeJSON(w, http.StatusForbidden, map[string]any{"status": "disabled"})
		return
	}
	if s.runner.Running() {
		writeJSON(w, http.StatusConflict, map[string]any{"status": "busy"})
		return
	}

	// The runner re-checks the busy and enabled states itself, so losing a
	// race here only produces a logged rejection.
	go func() {
		if _, err := s.runner.Run(context.Background(), req.Tasks, req.Params); err != nil {
			s.logger.Warn("manual sequence rejected", "error", err)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]any{"status": "started"})
}

// handleExec runs a shell command through the execution service and maps the
// outcome onto the response envelope.
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeBadRequest(w, err)
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	resp := s.exec.ExecuteTimeout(r.Context(), req.Command, timeout)

	body := map[string]any{
		"status":    resp.Kind.String(),
		"requestId": resp.RequestID,
	}
	status := http.StatusOK
	switch resp.Kind {
	case command.OutcomeSuccess:
		body["stdout"] = resp.Stdout
	case command.OutcomeBackendError:
		body["exitCode"] = resp.ExitCode
		body["stderr"] = resp.Stderr
	case command.OutcomeTimeout:
		status = http.StatusGatewayTimeout
		body["message"] = resp.Message
	case command.OutcomeNoBackend:
		status = http.StatusServiceUnavailable
		body["message"] = resp.Message
	default:
		status = http.StatusInternalServerError
		body["message"] = resp.Message
	}
	writeJSON(w, status, body)
}

// handleStatus reports the agent's current state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runs, err := s.history.RecentRuns(recentRunLimit)
	if err != nil {
		s.logger.Warn("failed to load recent runs", "error", err)
	}

	recent := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		entry := map[string]any{
			"id":         run.ID,
			"task":       run.Task,
			"status":     run.Status,
			"durationMs": run.DurationMs,
			"startedAt":  run.StartedAt.Format(time.RFC3339),
		}
		if run.Error != "" {
			entry["error"] = run.Error
		}
		recent = append(recent, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"shellType":     s.exec.ShellType(),
		"manualEnabled": s.runner.Enabled(),
		"manualRunning": s.runner.Running(),
		"recentRuns":    recent,
	})
}
