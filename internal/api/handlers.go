package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fieldops/internal/dispatch"
	"fieldops/internal/model"
	"fieldops/internal/store"
)

// DispatchRunHandler handles POST /v1/dispatch/run.
func (s *Server) DispatchRunHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	pr := s.getPrincipal(r)
	if !pr.CanDispatch() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return
	}
	var req struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	_, tenant := s.withTenant(r)
	res, err := s.Engine.RunDispatch(r.Context(), tenant, req.Date)
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidInput) {
			writeProblem(w, http.StatusBadRequest, "Invalid dispatch request", err.Error(), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Dispatch failed", err.Error(), r.URL.Path)
		return
	}
	for _, rt := range res.Routes {
		s.Broker.Publish(rt.TechnicianID, DispatchEvent{Type: "route.updated", Data: map[string]any{
			"technicianId": rt.TechnicianID,
			"date":         res.Date,
			"stops":        len(rt.Stops),
			"ts":           time.Now().UTC().Format(time.RFC3339),
		}})
	}
	writeJSON(w, http.StatusOK, res)
}

// ProposeHandler handles POST /v1/assignments/propose.
func (s *Server) ProposeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	pr := s.getPrincipal(r)
	if !pr.CanDispatch() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return
	}
	var req struct {
		JobID        string `json:"jobId"`
		TechnicianID string `json:"technicianId"`
		Start        string `json:"start"` // HH:MM
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateProposeRequest(req.JobID, req.TechnicianID, req.Start); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid proposal", err.Error(), r.URL.Path)
		return
	}
	start, err := model.ParseClock(req.Start)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid start time", err.Error(), r.URL.Path)
		return
	}
	_, tenant := s.withTenant(r)
	prop, err := s.Coordinator.Propose(r.Context(), tenant, req.JobID, req.TechnicianID, start)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeProblem(w, http.StatusNotFound, "Job not found", err.Error(), r.URL.Path)
		case errors.Is(err, dispatch.ErrInvalidInput):
			writeProblem(w, http.StatusBadRequest, "Invalid proposal", err.Error(), r.URL.Path)
		default:
			writeProblem(w, http.StatusInternalServerError, "Propose failed", err.Error(), r.URL.Path)
		}
		return
	}
	status := http.StatusOK
	if prop.State == dispatch.StateRejected {
		status = http.StatusConflict
	}
	writeJSON(w, status, prop)
}

// ConfirmHandler handles POST /v1/assignments/confirm.
func (s *Server) ConfirmHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	pr := s.getPrincipal(r)
	if !pr.CanDispatch() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return
	}
	var req struct {
		CommitToken string `json:"commitToken"`
		Override    bool   `json:"override"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.CommitToken == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid confirmation", "commitToken required", r.URL.Path)
		return
	}
	res, err := s.Coordinator.Confirm(r.Context(), req.CommitToken, req.Override)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrUnknownToken):
			writeProblem(w, http.StatusNotFound, "Unknown commit token", err.Error(), r.URL.Path)
			return
		case errors.Is(err, dispatch.ErrTokenExpired):
			writeProblem(w, http.StatusGone, "Commit token expired", err.Error(), r.URL.Path)
			return
		case errors.Is(err, dispatch.ErrConfirmationRequired):
			// Advisory conflicts; caller may retry with override.
			writeJSON(w, http.StatusConflict, res)
			return
		case errors.Is(err, dispatch.ErrQueueFull):
			w.Header().Set("Retry-After", "1")
			writeProblem(w, http.StatusTooManyRequests, "Commit queue full", err.Error(), r.URL.Path)
			return
		case errors.Is(err, dispatch.ErrStaleState):
			writeJSON(w, http.StatusConflict, res)
			return
		default:
			writeProblem(w, http.StatusInternalServerError, "Confirm failed", err.Error(), r.URL.Path)
			return
		}
	}
	if res.OK {
		s.Broker.Publish(res.Job.TechnicianID, DispatchEvent{Type: "assignment.committed", Data: map[string]any{
			"jobId":        res.Job.ID,
			"technicianId": res.Job.TechnicianID,
			"date":         res.Job.ScheduledDate,
			"ts":           time.Now().UTC().Format(time.RFC3339),
		}})
		writeJSON(w, http.StatusOK, res)
		return
	}
	writeJSON(w, http.StatusConflict, res)
}

// CancelHandler handles POST /v1/assignments/cancel.
func (s *Server) CancelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		CommitToken string `json:"commitToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if !s.Coordinator.Cancel(req.CommitToken) {
		writeProblem(w, http.StatusNotFound, "Unknown commit token", "", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

// JobsHandler handles GET/POST /v1/jobs.
func (s *Server) JobsHandler(w http.ResponseWriter, r *http.Request) {
	_, tenant := s.withTenant(r)
	switch r.Method {
	case http.MethodGet:
		date := r.URL.Query().Get("date")
		status := r.URL.Query().Get("status")
		jobs, err := s.Store.ListJobs(r.Context(), tenant, date, status)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List jobs failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": jobs})
	case http.MethodPost:
		var req struct {
			Jobs []model.JobIn `json:"jobs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		for i := range req.Jobs {
			if err := validateJobIn(req.Jobs[i]); err != nil {
				writeProblem(w, http.StatusBadRequest, "Invalid job",
					fmt.Sprintf("jobs[%d]: %v", i, err), r.URL.Path)
				return
			}
		}
		created, err := s.Store.CreateJobs(r.Context(), tenant, req.Jobs)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create jobs failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"created": created})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// JobByIDHandler handles GET /v1/jobs/{id}.
func (s *Server) JobByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	_, tenant := s.withTenant(r)
	j, err := s.Store.GetJob(r.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Job not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Get job failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// TechniciansHandler handles GET/POST /v1/technicians.
func (s *Server) TechniciansHandler(w http.ResponseWriter, r *http.Request) {
	_, tenant := s.withTenant(r)
	switch r.Method {
	case http.MethodGet:
		techs, err := s.Store.ListTechnicians(r.Context(), tenant)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List technicians failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": techs})
	case http.MethodPost:
		var in model.TechnicianIn
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateTechnicianIn(in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid technician", err.Error(), r.URL.Path)
			return
		}
		t, err := s.Store.UpsertTechnician(r.Context(), tenant, in)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Upsert technician failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, t)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// TechnicianByIDHandler handles GET /v1/technicians/{id} and
// GET /v1/technicians/{id}/schedule/stream (SSE).
func (s *Server) TechnicianByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/technicians/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) > 2 && parts[1] == "schedule" && parts[2] == "stream" {
		s.scheduleStream(w, r, id)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	t, err := s.Store.GetTechnician(r.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Technician not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Get technician failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// scheduleStream streams schedule events for one technician over SSE.
func (s *Server) scheduleStream(w http.ResponseWriter, r *http.Request, technicianID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	pr := s.getPrincipal(r)
	if !pr.CanDispatch() {
		// Technicians may watch only their own stream.
		if pr.Role != "technician" || pr.TechnicianID == "" || pr.TechnicianID != technicianID {
			writeProblem(w, http.StatusForbidden, "Forbidden", "not authorized for schedule events", r.URL.Path)
			return
		}
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(technicianID)
	defer s.Broker.Unsubscribe(technicianID, ch)

	// initial heartbeat
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"technicianId\":\"%s\",\"ts\":\"%s\"}\n\n", technicianID, time.Now().Format(time.RFC3339))
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"technicianId\":\"%s\",\"ts\":\"%s\"}\n\n", technicianID, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// The memory store is always ready; Postgres readiness is proven by a
	// cheap read.
	if _, err := s.Store.ListTechnicians(r.Context(), "t_probe"); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
