package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/modelbench/internal/gateway"
	"github.com/kalambet/modelbench/internal/intent"
	"github.com/kalambet/modelbench/internal/present"
	"github.com/kalambet/modelbench/internal/registry"
	"github.com/kalambet/modelbench/internal/session"
	"github.com/kalambet/modelbench/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Error types carried in the "type" field of error responses.
const (
	errInvalidRequest    = "invalid_request_error"
	errNotFound          = "not_found_error"
	errConflict          = "conflict_error"
	errAuthentication    = "authentication_error"
	errContractViolation = "contract_violation"
	errAPI               = "api_error"
)

// Deps holds what the HTTP API needs.
type Deps struct {
	Sessions *session.Manager
	Registry *registry.Store
	Journal  *storage.Store
	// Token enables bearer auth on /v1 routes when non-empty.
	Token  string
	Logger *slog.Logger
}

// NewHandler returns the HTTP API. Every registry write, whether from a
// chat turn or a UI action, is an intent applied through the session
// manager; Registry is only read here.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(requireToken(deps.Token, deps.Logger))
		}

		r.Get("/sessions", handleListSessions(deps))
		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions/{id}/messages", handleListMessages(deps))
		r.Post("/sessions/{id}/messages", handleSubmitMessage(deps))

		r.Get("/models", handleSearchModels(deps))
		r.Post("/models", handleRegisterModel(deps))
		r.Get("/models/{id}", handleGetModel(deps))
		r.Get("/compare", handleCompare(deps))
		r.Get("/datasets", handleListDatasets(deps))

		r.Get("/approvals", handleApprovalQueue(deps))
		r.Post("/approvals", handleOpenApproval(deps))
		r.Post("/approvals/{modelID}/decision", handleDecide(deps))

		r.Get("/automl/jobs", handleListJobs(deps))
		r.Post("/automl/jobs", handleRunAutoML(deps))

		r.Get("/turns", handleListTurns(deps))
		r.Get("/turns/stats", handleTurnStats(deps))
		r.Get("/turns/{id}", handleGetTurn(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type createSessionRequest struct {
	Persona string `json:"persona"`
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Sessions.List())
	}
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		persona, err := gateway.ParsePersona(req.Persona)
		if err != nil {
			httpError(w, http.StatusBadRequest, errInvalidRequest, "%v", err)
			return
		}
		s, err := deps.Sessions.Create(persona)
		if err != nil {
			httpError(w, http.StatusBadRequest, errInvalidRequest, "%v", err)
			return
		}
		writeJSON(w, http.StatusCreated, s.Info())
	}
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusNotFound, errNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, s.Messages())
	}
}

type submitMessageRequest struct {
	Text string `json:"text"`
}

func handleSubmitMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusNotFound, errNotFound, "session not found")
			return
		}
		var req submitMessageRequest
		if !decodeBody(w, r, &req) {
			return
		}

		msg, err := s.Submit(r.Context(), req.Text)
		switch {
		case errors.Is(err, session.ErrEmptyMessage):
			httpError(w, http.StatusBadRequest, errInvalidRequest, "text is required")
			return
		case errors.Is(err, session.ErrTurnInFlight):
			httpError(w, http.StatusConflict, errConflict, "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, errAPI, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

// searchParams maps query parameters onto search_registry tool arguments
// so that UI searches go through the same resolver as agent searches.
var searchParams = []string{"domain", "minAccuracy", "maxLatency", "sortBy", "sensitiveOnly"}

func handleSearchModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		args := make(map[string]any)
		for _, p := range searchParams {
			if v := q.Get(p); v != "" {
				args[p] = v
			}
		}

		in := intent.Resolve(&gateway.ToolCall{Name: gateway.ToolSearchRegistry, Args: args})
		if none, ok := in.(intent.None); ok {
			httpError(w, http.StatusBadRequest, errInvalidRequest, "invalid search: %s", none.Note)
			return
		}
		execute(w, deps, in, http.StatusOK)
	}
}

func handleRegisterModel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var draft registry.Draft
		if !decodeBody(w, r, &draft) {
			return
		}
		in, err := intent.NewRegisterSubmission(draft)
		if err != nil {
			httpError(w, http.StatusBadRequest, errInvalidRequest, "%v", err)
			return
		}
		execute(w, deps, in, http.StatusCreated)
	}
}

func handleGetModel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := deps.Registry.Snapshot().Model(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, errNotFound, "model not found")
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func handleCompare(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := intent.NewCompare(strings.Split(r.URL.Query().Get("ids"), ","))
		if err != nil {
			httpError(w, http.StatusBadRequest, errInvalidRequest, "%v", err)
			return
		}
		execute(w, deps, in, http.StatusOK)
	}
}

func handleListDatasets(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		datasets := deps.Registry.Snapshot().Datasets
		if datasets == nil {
			datasets = []registry.Dataset{}
		}
		writeJSON(w, http.StatusOK, datasets)
	}
}

func handleApprovalQueue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		execute(w, deps, intent.ApprovalQueue{}, http.StatusOK)
	}
}

type openApprovalRequest struct {
	ModelID     string `json:"model_id"`
	RequestedBy string `json:"requested_by"`
}

func handleOpenApproval(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req openApprovalRequest
		if !decodeBody(w, r, &req) {
			return
		}
		in, err := intent.NewRequestApproval(req.ModelID, req.RequestedBy)
		if err != nil {
			httpError(w, http.StatusBadRequest, errInvalidRequest, "%v", err)
			return
		}
		execute(w, deps, in, http.StatusCreated)
	}
}

type decideRequest struct {
	Decision string `json:"decision"`
}

func handleDecide(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decideRequest
		if !decodeBody(w, r, &req) {
			return
		}
		in, err := intent.NewUpdateApproval(chi.URLParam(r, "modelID"), req.Decision)
		if err != nil {
			httpError(w, http.StatusBadRequest, errInvalidRequest, "%v", err)
			return
		}
		execute(w, deps, in, http.StatusOK)
	}
}

type runAutoMLRequest struct {
	Platform           string `json:"platform"`
	DatasetID          string `json:"dataset_id"`
	Task               string `json:"task"`
	OptimizationMetric string `json:"optimization_metric"`
}

func handleRunAutoML(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req runAutoMLRequest
		if !decodeBody(w, r, &req) {
			return
		}
		in := intent.Resolve(&gateway.ToolCall{
			Name: gateway.ToolRunAutoML,
			Args: map[string]any{
				"platform":           req.Platform,
				"datasetId":          req.DatasetID,
				"task":               req.Task,
				"optimizationMetric": req.OptimizationMetric,
			},
		})
		if none, ok := in.(intent.None); ok {
			httpError(w, http.StatusBadRequest, errInvalidRequest, "invalid automl run: %s", none.Note)
			return
		}
		execute(w, deps, in, http.StatusAccepted)
	}
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		jobs, err := deps.Journal.ListJobs(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, errAPI, "failed to list jobs: %v", err)
			return
		}
		if jobs == nil {
			jobs = []storage.Job{}
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func handleListTurns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		turns, err := deps.Journal.ListTurns(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, errAPI, "failed to list turns: %v", err)
			return
		}
		if turns == nil {
			turns = []storage.Turn{}
		}
		writeJSON(w, http.StatusOK, turns)
	}
}

func handleGetTurn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Journal.GetTurn(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, errNotFound, "turn not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, errAPI, "failed to get turn: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

// TurnStats summarises the turn journal.
type TurnStats struct {
	Total    int            `json:"total"`
	ByIntent map[string]int `json:"by_intent"`
}

func handleTurnStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, err := deps.Journal.CountTurns()
		if err != nil {
			httpError(w, http.StatusInternalServerError, errAPI, "failed to count turns: %v", err)
			return
		}
		byIntent, err := deps.Journal.CountTurnsByIntent()
		if err != nil {
			httpError(w, http.StatusInternalServerError, errAPI, "failed to count turns: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, TurnStats{Total: total, ByIntent: byIntent})
	}
}

// execute runs a UI intent and writes its directive.
func execute(w http.ResponseWriter, deps Deps, in intent.Intent, code int) {
	d, err := deps.Sessions.Execute(in)
	if err != nil {
		status, errType := errorStatus(err)
		if status >= http.StatusInternalServerError {
			deps.Logger.Error("executing intent failed", "intent", in.Kind(), "error", err)
		} else {
			deps.Logger.Info("intent refused", "intent", in.Kind(), "error", err)
		}
		httpError(w, status, errType, "%v", err)
		return
	}
	if d == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, code, d)
}

// errorStatus maps an Execute error onto a response status and error type.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, present.ErrContractViolation):
		return http.StatusInternalServerError, errContractViolation
	case errors.Is(err, registry.ErrModelNotFound):
		return http.StatusNotFound, errNotFound
	case errors.Is(err, registry.ErrApprovalOpen), errors.Is(err, registry.ErrModelDecided):
		return http.StatusConflict, errConflict
	case errors.Is(err, registry.ErrUnknownDataset):
		return http.StatusBadRequest, errInvalidRequest
	}
	return http.StatusInternalServerError, errAPI
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, errInvalidRequest, "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, name string, def, max int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
