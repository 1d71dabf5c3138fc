package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fieldops/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Config{Port: "8080"}
	s, err := NewServer(cfg, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, h http.HandlerFunc, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	h(rr, req)
	return rr
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func seedTechAndJob(t *testing.T, s *Server) (jobID string) {
	t.Helper()
	rr := doJSON(t, s, s.TechniciansHandler, http.MethodPost, "/v1/technicians",
		[]byte(`{"id":"tech-1","name":"Sam","workDayStart":"08:00"}`))
	if rr.Code != 200 {
		t.Fatalf("upsert technician: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, s, s.JobsHandler, http.MethodPost, "/v1/jobs",
		[]byte(`{"jobs":[{"scheduledDate":"2026-09-01","priority":"high","serviceDurationMin":45,"location":{"address":"12 Main St"},"accountName":"Acme"}]}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create jobs: %d %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Created []struct {
			ID string `json:"id"`
		} `json:"created"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if len(res.Created) != 1 {
		t.Fatalf("expected one created job")
	}
	return res.Created[0].ID
}

func TestJobsCreateValidation(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, s.JobsHandler, http.MethodPost, "/v1/jobs",
		[]byte(`{"jobs":[{"scheduledDate":"09/01/2026","serviceDurationMin":45}]}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad date: got %d", rr.Code)
	}
	rr = doJSON(t, s, s.JobsHandler, http.MethodPost, "/v1/jobs",
		[]byte(`{"jobs":[{"scheduledDate":"2026-09-01","serviceDurationMin":0}]}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("zero duration: got %d", rr.Code)
	}
	rr = doJSON(t, s, s.JobsHandler, http.MethodPost, "/v1/jobs",
		[]byte(`{"jobs":[{"scheduledDate":"2026-09-01","serviceDurationMin":30,"location":{"lat":40.0}}]}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("half coordinates: got %d", rr.Code)
	}
}

func TestDispatchRun(t *testing.T) {
	s := newTestServer(t)
	seedTechAndJob(t, s)

	rr := doJSON(t, s, s.DispatchRunHandler, http.MethodPost, "/v1/dispatch/run",
		[]byte(`{"date":"2026-09-01"}`))
	if rr.Code != 200 {
		t.Fatalf("dispatch run: %d %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Routes []struct {
			TechnicianID string `json:"technicianId"`
			Stops        []struct {
				EstimatedArrival string `json:"estimatedArrival"`
			} `json:"stops"`
		} `json:"routes"`
		Unassignable []any `json:"unassignable"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Routes) != 1 || res.Routes[0].TechnicianID != "tech-1" {
		t.Fatalf("unexpected routes: %s", rr.Body.String())
	}
	// 08:00 day start plus the 20-minute missing-coordinate placeholder.
	if got := res.Routes[0].Stops[0].EstimatedArrival; got != "08:20" {
		t.Fatalf("arrival = %s, want 08:20", got)
	}

	// Invalid date is rejected before any work.
	rr = doJSON(t, s, s.DispatchRunHandler, http.MethodPost, "/v1/dispatch/run", []byte(`{"date":"nope"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid date: got %d", rr.Code)
	}
}

// WORK_DAY_START reaches both the technician upsert default and the
// engine's sequencing fallback through NewServer.
func TestDispatchRunHonorsConfiguredDayStart(t *testing.T) {
	cfg := config.Config{Port: "8080"}
	cfg.Dispatch.WorkDayStart = "07:00"
	s, err := NewServer(cfg, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	// Technician seeded without an explicit day start.
	rr := doJSON(t, s, s.TechniciansHandler, http.MethodPost, "/v1/technicians",
		[]byte(`{"id":"tech-1","name":"Sam"}`))
	if rr.Code != 200 {
		t.Fatalf("upsert technician: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, s, s.JobsHandler, http.MethodPost, "/v1/jobs",
		[]byte(`{"jobs":[{"scheduledDate":"2026-09-01","serviceDurationMin":30,"location":{"address":"12 Main St"}}]}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create jobs: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, s, s.DispatchRunHandler, http.MethodPost, "/v1/dispatch/run",
		[]byte(`{"date":"2026-09-01"}`))
	if rr.Code != 200 {
		t.Fatalf("dispatch run: %d %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Routes []struct {
			Stops []struct {
				EstimatedArrival string `json:"estimatedArrival"`
			} `json:"stops"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Routes) != 1 || len(res.Routes[0].Stops) != 1 {
		t.Fatalf("unexpected routes: %s", rr.Body.String())
	}
	// 07:00 day start plus the 20-minute missing-coordinate placeholder.
	if got := res.Routes[0].Stops[0].EstimatedArrival; got != "07:20" {
		t.Fatalf("arrival = %s, want 07:20", got)
	}
}

func TestProposeConfirmFlow(t *testing.T) {
	s := newTestServer(t)
	jobID := seedTechAndJob(t, s)

	body := fmt.Sprintf(`{"jobId":"%s","technicianId":"tech-1","start":"09:00"}`, jobID)
	rr := doJSON(t, s, s.ProposeHandler, http.MethodPost, "/v1/assignments/propose", []byte(body))
	if rr.Code != 200 {
		t.Fatalf("propose: %d %s", rr.Code, rr.Body.String())
	}
	var prop struct {
		State       string `json:"state"`
		CommitToken string `json:"commitToken"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &prop); err != nil {
		t.Fatalf("decode propose: %v", err)
	}
	if prop.CommitToken == "" {
		t.Fatalf("expected commit token, got %s", rr.Body.String())
	}

	confirm := fmt.Sprintf(`{"commitToken":"%s"}`, prop.CommitToken)
	rr = doJSON(t, s, s.ConfirmHandler, http.MethodPost, "/v1/assignments/confirm", []byte(confirm))
	if rr.Code != 200 {
		t.Fatalf("confirm: %d %s", rr.Code, rr.Body.String())
	}

	// The job now carries its committed schedule.
	rr2 := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.JobByIDHandler(rr2, req)
	if rr2.Code != 200 {
		t.Fatalf("get job: %d", rr2.Code)
	}
	var j struct {
		Status         string `json:"status"`
		TechnicianID   string `json:"technicianId"`
		ScheduledStart string `json:"scheduledStart"`
	}
	if err := json.Unmarshal(rr2.Body.Bytes(), &j); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if j.Status != "scheduled" || j.TechnicianID != "tech-1" || j.ScheduledStart != "09:00" {
		t.Fatalf("unexpected job after commit: %s", rr2.Body.String())
	}

	// Confirming a consumed token 404s.
	rr = doJSON(t, s, s.ConfirmHandler, http.MethodPost, "/v1/assignments/confirm", []byte(confirm))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("reused token: got %d", rr.Code)
	}
}

func TestProposeConflictRequiresOverride(t *testing.T) {
	s := newTestServer(t)
	jobID := seedTechAndJob(t, s)

	// Commit the first job at 09:00.
	body := fmt.Sprintf(`{"jobId":"%s","technicianId":"tech-1","start":"09:00"}`, jobID)
	rr := doJSON(t, s, s.ProposeHandler, http.MethodPost, "/v1/assignments/propose", []byte(body))
	var prop struct {
		CommitToken string `json:"commitToken"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &prop)
	rr = doJSON(t, s, s.ConfirmHandler, http.MethodPost, "/v1/assignments/confirm",
		[]byte(fmt.Sprintf(`{"commitToken":"%s"}`, prop.CommitToken)))
	if rr.Code != 200 {
		t.Fatalf("confirm first: %d", rr.Code)
	}

	// Second job overlapping the first.
	rr = doJSON(t, s, s.JobsHandler, http.MethodPost, "/v1/jobs",
		[]byte(`{"jobs":[{"scheduledDate":"2026-09-01","serviceDurationMin":60,"location":{"address":"9 Oak Ave"}}]}`))
	var created struct {
		Created []struct {
			ID string `json:"id"`
		} `json:"created"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &created)
	body = fmt.Sprintf(`{"jobId":"%s","technicianId":"tech-1","start":"09:15"}`, created.Created[0].ID)
	rr = doJSON(t, s, s.ProposeHandler, http.MethodPost, "/v1/assignments/propose", []byte(body))
	if rr.Code != 200 {
		t.Fatalf("propose overlap: %d %s", rr.Code, rr.Body.String())
	}
	var prop2 struct {
		State       string `json:"state"`
		CommitToken string `json:"commitToken"`
		Conflicts   []struct {
			Type     string `json:"type"`
			Severity string `json:"severity"`
		} `json:"conflicts"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &prop2); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if prop2.State != "awaiting_confirmation" || len(prop2.Conflicts) == 0 {
		t.Fatalf("expected advisory conflicts: %s", rr.Body.String())
	}

	// Without override the confirm is refused.
	confirm := fmt.Sprintf(`{"commitToken":"%s"}`, prop2.CommitToken)
	rr = doJSON(t, s, s.ConfirmHandler, http.MethodPost, "/v1/assignments/confirm", []byte(confirm))
	if rr.Code != http.StatusConflict {
		t.Fatalf("confirm without override: got %d", rr.Code)
	}
	// With override it lands.
	confirm = fmt.Sprintf(`{"commitToken":"%s","override":true}`, prop2.CommitToken)
	rr = doJSON(t, s, s.ConfirmHandler, http.MethodPost, "/v1/assignments/confirm", []byte(confirm))
	if rr.Code != 200 {
		t.Fatalf("confirm with override: %d %s", rr.Code, rr.Body.String())
	}
}

func TestProposeForbiddenForTechnicianRole(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/assignments/propose",
		bytes.NewReader([]byte(`{"jobId":"x","technicianId":"y","start":"09:00"}`)))
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "technician")
	s.ProposeHandler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestCancelProposal(t *testing.T) {
	s := newTestServer(t)
	jobID := seedTechAndJob(t, s)

	body := fmt.Sprintf(`{"jobId":"%s","technicianId":"tech-1","start":"09:00"}`, jobID)
	rr := doJSON(t, s, s.ProposeHandler, http.MethodPost, "/v1/assignments/propose", []byte(body))
	var prop struct {
		CommitToken string `json:"commitToken"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &prop)

	cancel := fmt.Sprintf(`{"commitToken":"%s"}`, prop.CommitToken)
	rr = doJSON(t, s, s.CancelHandler, http.MethodPost, "/v1/assignments/cancel", []byte(cancel))
	if rr.Code != 200 {
		t.Fatalf("cancel: %d", rr.Code)
	}
	rr = doJSON(t, s, s.CancelHandler, http.MethodPost, "/v1/assignments/cancel", []byte(cancel))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("double cancel: got %d", rr.Code)
	}
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests. The handler writes from its own
// goroutine while the test polls, so the buffer is mutex-guarded.
type sseRecorder struct {
	hdr  http.Header
	mu   sync.Mutex
	buf  bytes.Buffer
	code int
}

func (r *sseRecorder) Header() http.Header {
	if r.hdr == nil {
		r.hdr = http.Header{}
	}
	return r.hdr
}
func (r *sseRecorder) WriteHeader(c int) { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}
func (r *sseRecorder) Flush() {}

func (r *sseRecorder) body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.buf.Bytes()...)
}

func TestScheduleStreamSSE(t *testing.T) {
	s := newTestServer(t)
	seedTechAndJob(t, s)

	sseReq := httptest.NewRequest(http.MethodGet, "/v1/technicians/tech-1/schedule/stream", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sseReq = sseReq.WithContext(ctx)
	sseReq.Header.Set("X-Tenant-Id", "t_test")
	sseReq.Header.Set("X-Role", "admin")

	rec := &sseRecorder{}
	done := make(chan struct{})
	go func() {
		s.TechnicianByIDHandler(rec, sseReq)
		close(done)
	}()

	// Give handler time to subscribe and send heartbeat
	time.Sleep(50 * time.Millisecond)
	s.Broker.Publish("tech-1", DispatchEvent{Type: "assignment.committed", Data: map[string]any{"technicianId": "tech-1"}})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if bytes.Contains(rec.body(), []byte("event: assignment.committed")) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !bytes.Contains(rec.body(), []byte("event: assignment.committed")) {
		t.Fatalf("SSE did not contain expected event. Body: %s", rec.body())
	}
	cancel()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("handler did not exit after cancel")
	}
}

func TestScheduleStreamForbiddenForOtherTechnician(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/technicians/tech-1/schedule/stream", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "technician")
	req.Header.Set("X-Technician-Id", "tech-2")
	s.TechnicianByIDHandler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}
