package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops/internal/model"
)

func TestMemoryJobLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	created, err := m.CreateJobs(ctx, "t1", []model.JobIn{{
		ScheduledDate:      "2026-09-01",
		ServiceDurationMin: 45,
		Location:           model.Location{Address: "12 Main St"},
	}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	j := created[0]
	assert.NotEmpty(t, j.ID)
	assert.Equal(t, model.StatusUnassigned, j.Status)
	assert.Equal(t, model.PriorityMedium, j.Priority, "missing priority defaults to medium")

	got, err := m.GetJob(ctx, "t1", j.ID)
	require.NoError(t, err)
	assert.Equal(t, j, got)

	// Tenant isolation.
	_, err = m.GetJob(ctx, "t2", j.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	jobs, err := m.FindSchedulable(ctx, "t1", "2026-09-01")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	jobs, err = m.FindSchedulable(ctx, "t1", "2026-09-02")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestMemoryCreateJobWithTechnicianStartsScheduled(t *testing.T) {
	m := NewMemory()
	created, err := m.CreateJobs(context.Background(), "t1", []model.JobIn{{
		ScheduledDate:      "2026-09-01",
		ServiceDurationMin: 30,
		TechnicianID:       "tech-1",
	}})
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, created[0].Status)
	assert.Equal(t, "tech-1", created[0].TechnicianID)
}

func TestMemoryUpdateAssignmentCAS(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	created, err := m.CreateJobs(ctx, "t1", []model.JobIn{{
		ScheduledDate:      "2026-09-01",
		ServiceDurationMin: 60,
	}})
	require.NoError(t, err)
	id := created[0].ID

	ok, err := m.UpdateAssignment(ctx, "t1", AssignmentUpdate{
		JobID:                     id,
		ExpectedPriorTechnicianID: "",
		TechnicianID:              "tech-1",
		Status:                    model.StatusScheduled,
		ScheduledStart:            9 * 60,
		ScheduledEnd:              10 * 60,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// Second writer expecting the original empty technician loses.
	ok, err = m.UpdateAssignment(ctx, "t1", AssignmentUpdate{
		JobID:                     id,
		ExpectedPriorTechnicianID: "",
		TechnicianID:              "tech-2",
		Status:                    model.StatusScheduled,
		ScheduledStart:            9 * 60,
		ScheduledEnd:              10 * 60,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := m.GetJob(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, "tech-1", got.TechnicianID)

	_, err = m.UpdateAssignment(ctx, "t1", AssignmentUpdate{JobID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCommittedStopsView(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	created, err := m.CreateJobs(ctx, "t1", []model.JobIn{
		{ScheduledDate: "2026-09-01", ServiceDurationMin: 60, AccountName: "Acme", Location: model.Location{Address: "A"}},
		{ScheduledDate: "2026-09-01", ServiceDurationMin: 30},
	})
	require.NoError(t, err)

	// Commit the first at 11:00, the second at 09:00; the view is ordered
	// by start.
	for i, start := range []model.ClockMinutes{11 * 60, 9 * 60} {
		dur := model.ClockMinutes(created[i].ServiceDurationMin)
		ok, err := m.UpdateAssignment(ctx, "t1", AssignmentUpdate{
			JobID:          created[i].ID,
			TechnicianID:   "tech-1",
			Status:         model.StatusScheduled,
			ScheduledStart: start,
			ScheduledEnd:   start + dur,
		})
		require.NoError(t, err)
		require.True(t, ok)
	}

	stops, err := m.ListCommittedStops(ctx, "t1", "tech-1", "2026-09-01")
	require.NoError(t, err)
	require.Len(t, stops, 2)
	assert.Equal(t, created[1].ID, stops[0].JobID)
	assert.Equal(t, "09:00", stops[0].Start.String())
	assert.Equal(t, created[0].ID, stops[1].JobID)
	assert.Equal(t, "Acme", stops[1].Customer)
	assert.Equal(t, "A", stops[1].Address)

	// Other technicians and dates see nothing.
	stops, err = m.ListCommittedStops(ctx, "t1", "tech-2", "2026-09-01")
	require.NoError(t, err)
	assert.Empty(t, stops)
	stops, err = m.ListCommittedStops(ctx, "t1", "tech-1", "2026-09-02")
	require.NoError(t, err)
	assert.Empty(t, stops)
}

func TestMemoryTechnicians(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	tech, err := m.UpsertTechnician(ctx, "t1", model.TechnicianIn{Name: "Sam"})
	require.NoError(t, err)
	assert.NotEmpty(t, tech.ID)
	assert.Equal(t, model.DefaultWorkDayStart, tech.WorkDayStart)

	// Upsert by id updates in place.
	updated, err := m.UpsertTechnician(ctx, "t1", model.TechnicianIn{ID: tech.ID, Name: "Sam R", WorkDayStart: 7 * 60})
	require.NoError(t, err)
	assert.Equal(t, tech.ID, updated.ID)

	all, err := m.ListTechnicians(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Sam R", all[0].Name)
	assert.Equal(t, model.ClockMinutes(7*60), all[0].WorkDayStart)
}

func TestMemoryUpsertUsesConfiguredDayStart(t *testing.T) {
	m := NewMemory()
	m.DefaultDayStart = 7 * 60
	ctx := context.Background()

	tech, err := m.UpsertTechnician(ctx, "t1", model.TechnicianIn{Name: "Sam"})
	require.NoError(t, err)
	assert.Equal(t, model.ClockMinutes(7*60), tech.WorkDayStart)

	// An explicit start is never overridden by the configured default.
	tech, err = m.UpsertTechnician(ctx, "t1", model.TechnicianIn{Name: "Kim", WorkDayStart: 9 * 60})
	require.NoError(t, err)
	assert.Equal(t, model.ClockMinutes(9*60), tech.WorkDayStart)
}

func TestMemoryListAvailableHonorsTimeOff(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.UpsertTechnician(ctx, "t1", model.TechnicianIn{ID: "tech-a", TimeOff: []string{"2026-09-01"}})
	require.NoError(t, err)
	_, err = m.UpsertTechnician(ctx, "t1", model.TechnicianIn{ID: "tech-b"})
	require.NoError(t, err)

	avail, err := m.ListAvailable(ctx, "t1", "2026-09-01")
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, "tech-b", avail[0].ID)

	avail, err = m.ListAvailable(ctx, "t1", "2026-09-02")
	require.NoError(t, err)
	assert.Len(t, avail, 2)
}
