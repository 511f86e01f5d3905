package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/headline-goat/variant-goat/internal/assign"
	"github.com/headline-goat/variant-goat/internal/ingest"
	"github.com/headline-goat/variant-goat/internal/store"
)

const (
	visitorCookieName   = "vg_vid"
	visitorCookieMaxAge = 365 * 24 * time.Hour
	maxEventBodyBytes   = 64 << 10
)

type HealthResponse struct {
	Status             string `json:"status"`
	ExperimentsCount   int    `json:"experiments_count"`
	RunningExperiments int    `json:"running_experiments"`
	UptimeSeconds      int64  `json:"uptime_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, field string) {
	writeJSON(w, status, errorResponse{Error: message, Field: field})
}

// setCORSHeaders allows the tracking endpoints to be called from the pages
// under test, with cookies.
func setCORSHeaders(w http.ResponseWriter, r *http.Request, methods string) {
	if origin := r.Header.Get("Origin"); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Add("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+tokenHeader+", "+sessionHeader)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	experiments, err := s.store.ListExperiments(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	running := 0
	for _, e := range experiments {
		if e.Status == store.StatusRunning {
			running++
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:             "ok",
		ExperimentsCount:   len(experiments),
		RunningExperiments: running,
		UptimeSeconds:      int64(time.Since(s.startTime).Seconds()),
	})
}

type SessionResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

// handleSession starts or resumes the visitor's session and hands out the
// anti-forgery token required by /events.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, r, "GET, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	sid := sessionID(w, r)
	token, err := s.csrf.Issue(sid)
	if err != nil {
		s.logger.Error("failed to issue session token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, SessionResponse{Token: token, SessionID: sid})
}

type AssignResponse struct {
	ExperimentID int64  `json:"experimentId"`
	VariantID    string `json:"variantId,omitempty"`
	VisitorID    string `json:"visitorId"`
	Assigned     bool   `json:"assigned"`
	Track        bool   `json:"track"`
}

// handleAssign returns the visitor's variant for one experiment. DELETE
// forgets the assignment.
func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, r, "GET, DELETE, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	experimentID, err := strconv.ParseInt(r.URL.Query().Get("experiment"), 10, 64)
	if err != nil || experimentID <= 0 {
		writeError(w, http.StatusBadRequest, "experiment parameter required", "experiment")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ingestTimeout)
	defer cancel()

	visitor := visitorID(w, r)
	assigner := assign.New(assign.NewCookieStore(w, r), nil)

	if r.Method == http.MethodDelete {
		if err := assigner.Reset(ctx, experimentID, visitor); err != nil {
			writeError(w, http.StatusInternalServerError, "internal server error", "")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	e, err := s.registry.Get(ctx, experimentID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "experiment not found", "experiment")
		return
	}
	if err != nil {
		s.logger.Error("failed to load experiment", "experiment_id", experimentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	variantID, ok, err := assigner.Assign(ctx, e, visitor)
	if err != nil {
		s.logger.Error("failed to assign variant", "experiment_id", experimentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, AssignResponse{
		ExperimentID: experimentID,
		VariantID:    variantID,
		VisitorID:    visitor,
		Assigned:     ok,
		Track:        ok && assign.ConsentGranted(e, assign.RequestCookies{R: r}),
	})
}

// visitorID resolves the stable visitor id from the query, the visitor
// cookie, or a fresh one that is then persisted in the cookie.
func visitorID(w http.ResponseWriter, r *http.Request) string {
	if v := r.URL.Query().Get("visitor"); v != "" {
		return v
	}
	if cookie, err := r.Cookie(visitorCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	id := uuid.NewString()
	assign.SetCookie(w, r, &http.Cookie{
		Name:     visitorCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int(visitorCookieMaxAge / time.Second),
	})
	return id
}

// EventRequest represents an incoming tracking event
type EventRequest struct {
	ExperimentID int64           `json:"experimentId"`
	VariantID    string          `json:"variantId"`
	VisitorID    string          `json:"visitorId"`
	EventType    string          `json:"eventType"`
	PageContext  string          `json:"pageContext"`
	GoalType     string          `json:"goalType,omitempty"`
	GoalDetail   json.RawMessage `json:"goalDetail,omitempty"`
}

type EventResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, r, "POST, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	var req EventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", "")
		return
	}

	goalDetail, err := unwrapGoalDetail(req.GoalDetail)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid goal detail", "goalDetail")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ingestTimeout)
	defer cancel()

	res, err := s.ingest.Record(ctx, ingest.Event{
		ExperimentID: req.ExperimentID,
		VariantID:    req.VariantID,
		VisitorID:    req.VisitorID,
		SessionID:    requestSessionID(r),
		Type:         store.EventType(req.EventType),
		PageContext:  req.PageContext,
		GoalType:     req.GoalType,
		GoalDetail:   goalDetail,
	}, assign.RequestCookies{R: r})

	var ve *ingest.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Message, ve.Field)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to record event", "")
		return
	}

	switch {
	case res.Recorded:
		writeJSON(w, http.StatusAccepted, EventResponse{Status: "recorded"})
	case res.Duplicate:
		writeJSON(w, http.StatusOK, EventResponse{Status: "duplicate"})
	default:
		writeJSON(w, http.StatusOK, EventResponse{Status: "skipped", Reason: string(res.Skipped)})
	}
}

// unwrapGoalDetail accepts goal detail either as a JSON value or as a
// string holding JSON, which is how the browser script sends it.
func unwrapGoalDetail(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] != '"' {
		return raw, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	return json.RawMessage(s), nil
}
