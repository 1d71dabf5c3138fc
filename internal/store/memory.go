package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"fieldops/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	// DefaultDayStart fills a technician's work day start when the upsert
	// leaves it unset. Zero falls back to model.DefaultWorkDayStart.
	DefaultDayStart model.ClockMinutes

	mu    sync.Mutex
	jobs  map[string]model.Job        // id -> job
	byTen map[string][]string         // tenant -> job ids, insertion order
	techs map[string]model.Technician // id -> technician
	tTen  map[string][]string         // tenant -> technician ids
}

func NewMemory() *Memory {
	return &Memory{
		jobs:  map[string]model.Job{},
		byTen: map[string][]string{},
		techs: map[string]model.Technician{},
		tTen:  map[string][]string{},
	}
}

func (m *Memory) CreateJobs(ctx context.Context, tenantID string, in []model.JobIn) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Job, 0, len(in))
	for _, ji := range in {
		j := model.Job{
			ID:                 uuid.New().String(),
			TenantID:           tenantID,
			ScheduledDate:      ji.ScheduledDate,
			Status:             model.StatusUnassigned,
			TechnicianID:       ji.TechnicianID,
			Priority:           ji.Priority,
			TimeWindow:         ji.TimeWindow,
			ServiceDurationMin: ji.ServiceDurationMin,
			Location:           ji.Location,
			AccountName:        ji.AccountName,
		}
		if j.Priority == "" {
			j.Priority = model.PriorityMedium
		}
		if j.TechnicianID != "" {
			j.Status = model.StatusScheduled
		}
		m.jobs[j.ID] = j
		m.byTen[tenantID] = append(m.byTen[tenantID], j.ID)
		out = append(out, j)
	}
	return out, nil
}

func (m *Memory) GetJob(ctx context.Context, tenantID, jobID string) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return model.Job{}, ErrNotFound
	}
	return j, nil
}

func (m *Memory) ListJobs(ctx context.Context, tenantID, date, status string) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Job{}
	for _, id := range m.byTen[tenantID] {
		j := m.jobs[id]
		if date != "" && j.ScheduledDate != date {
			continue
		}
		if status != "" && string(j.Status) != status {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (m *Memory) FindSchedulable(ctx context.Context, tenantID, date string) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Job{}
	for _, id := range m.byTen[tenantID] {
		j := m.jobs[id]
		if j.ScheduledDate != date {
			continue
		}
		if j.Status == model.StatusUnassigned || j.Status == model.StatusScheduled {
			out = append(out, j)
		}
	}
	return out, nil
}

// UpdateAssignment applies the conditional write under the store lock. The
// condition fails, without mutating anything, when the job's current
// technician no longer matches the expected prior value.
func (m *Memory) UpdateAssignment(ctx context.Context, tenantID string, upd AssignmentUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[upd.JobID]
	if !ok || j.TenantID != tenantID {
		return false, ErrNotFound
	}
	if j.TechnicianID != upd.ExpectedPriorTechnicianID {
		return false, nil
	}
	j.TechnicianID = upd.TechnicianID
	j.Status = upd.Status
	start, end := upd.ScheduledStart, upd.ScheduledEnd
	j.ScheduledStart = &start
	j.ScheduledEnd = &end
	m.jobs[upd.JobID] = j
	return true, nil
}

func (m *Memory) UpsertTechnician(ctx context.Context, tenantID string, in model.TechnicianIn) (model.Technician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	t := model.Technician{
		ID:           id,
		TenantID:     tenantID,
		Name:         in.Name,
		WorkDayStart: in.WorkDayStart,
		TimeOff:      in.TimeOff,
	}
	if t.WorkDayStart <= 0 {
		t.WorkDayStart = dayStartDefault(m.DefaultDayStart)
	}
	if _, exists := m.techs[id]; !exists {
		m.tTen[tenantID] = append(m.tTen[tenantID], id)
	}
	m.techs[id] = t
	return t, nil
}

func (m *Memory) GetTechnician(ctx context.Context, tenantID, technicianID string) (model.Technician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.techs[technicianID]
	if !ok || t.TenantID != tenantID {
		return model.Technician{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) ListTechnicians(ctx context.Context, tenantID string) ([]model.Technician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Technician{}
	for _, id := range m.tTen[tenantID] {
		out = append(out, m.techs[id])
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (m *Memory) ListAvailable(ctx context.Context, tenantID, date string) ([]model.Technician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Technician{}
	for _, id := range m.tTen[tenantID] {
		t := m.techs[id]
		if timeOffOn(t, date) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

// ListCommittedStops derives the committed schedule from jobs: every
// scheduled or in-progress job on the date that carries a start time.
func (m *Memory) ListCommittedStops(ctx context.Context, tenantID, technicianID, date string) ([]model.CommittedStop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.CommittedStop{}
	for _, id := range m.byTen[tenantID] {
		j := m.jobs[id]
		if j.TechnicianID != technicianID || j.ScheduledDate != date {
			continue
		}
		if j.Status != model.StatusScheduled && j.Status != model.StatusInProgress {
			continue
		}
		if j.ScheduledStart == nil || j.ScheduledEnd == nil {
			continue
		}
		out = append(out, model.CommittedStop{
			JobID:    j.ID,
			Date:     j.ScheduledDate,
			Start:    *j.ScheduledStart,
			End:      *j.ScheduledEnd,
			Status:   j.Status,
			Customer: j.AccountName,
			Address:  j.Location.Address,
			Location: j.Location,
		})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Start != out[k].Start {
			return out[i].Start < out[k].Start
		}
		return out[i].JobID < out[k].JobID
	})
	return out, nil
}

func timeOffOn(t model.Technician, date string) bool {
	for _, d := range t.TimeOff {
		if d == date {
			return true
		}
	}
	return false
}
