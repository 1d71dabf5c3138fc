package store

import (
	"context"
	"errors"

	"fieldops/internal/model"
)

// Store is the persistence interface used by the dispatch engine and the
// API server.
type Store interface {
	// Jobs
	CreateJobs(ctx context.Context, tenantID string, jobs []model.JobIn) (created []model.Job, err error)
	GetJob(ctx context.Context, tenantID, jobID string) (model.Job, error)
	ListJobs(ctx context.Context, tenantID, date, status string) ([]model.Job, error)
	FindSchedulable(ctx context.Context, tenantID, date string) ([]model.Job, error)
	UpdateAssignment(ctx context.Context, tenantID string, upd AssignmentUpdate) (bool, error)

	// Technicians
	UpsertTechnician(ctx context.Context, tenantID string, in model.TechnicianIn) (model.Technician, error)
	GetTechnician(ctx context.Context, tenantID, technicianID string) (model.Technician, error)
	ListTechnicians(ctx context.Context, tenantID string) ([]model.Technician, error)
	ListAvailable(ctx context.Context, tenantID, date string) ([]model.Technician, error)

	// Committed schedule snapshot
	ListCommittedStops(ctx context.Context, tenantID, technicianID, date string) ([]model.CommittedStop, error)
}

// AssignmentUpdate is a conditional write: the job's technician is changed
// only while its current technician still matches ExpectedPriorTechnicianID.
// The bool result reports whether the condition held.
type AssignmentUpdate struct {
	JobID                     string
	ExpectedPriorTechnicianID string
	TechnicianID              string
	Status                    model.JobStatus
	ScheduledStart            model.ClockMinutes
	ScheduledEnd              model.ClockMinutes
}

var ErrNotFound = errors.New("not found")

// dayStartDefault resolves a configured default work day start, falling back
// to the model default when unset.
func dayStartDefault(configured model.ClockMinutes) model.ClockMinutes {
	if configured > 0 {
		return configured
	}
	return model.DefaultWorkDayStart
}
