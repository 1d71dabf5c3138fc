package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fieldops/internal/model"
)

// Postgres is the production store backed by a single jobs/technicians
// schema. Committed stops are a view over jobs, never a separate table.
type Postgres struct {
	// DefaultDayStart fills a technician's work day start when the upsert
	// leaves it unset. Zero falls back to model.DefaultWorkDayStart.
	DefaultDayStart model.ClockMinutes

	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// MigrateDir applies every .sql file in dir in lexical order.
func (p *Postgres) MigrateDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", n, err)
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("apply migration %s: %w", n, err)
		}
	}
	return nil
}

func (p *Postgres) CreateJobs(ctx context.Context, tenantID string, in []model.JobIn) ([]model.Job, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

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
		var winStart, winEnd any
		if j.TimeWindow != nil {
			winStart, winEnd = int(j.TimeWindow.Start), int(j.TimeWindow.End)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO jobs (id, tenant_id, scheduled_date, status, technician_id, priority,
				window_start_min, window_end_min, service_duration_min,
				address, lat, lng, account_name)
			VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$11,$12,$13)`,
			j.ID, tenantID, j.ScheduledDate, j.Status, j.TechnicianID, j.Priority,
			winStart, winEnd, j.ServiceDurationMin,
			nullIfEmpty(j.Location.Address), j.Location.Lat, j.Location.Lng, nullIfEmpty(j.AccountName))
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

const jobColumns = `id::text, tenant_id, scheduled_date::text, status, COALESCE(technician_id,''),
	priority, window_start_min, window_end_min, service_duration_min,
	COALESCE(address,''), lat, lng, COALESCE(account_name,''),
	scheduled_start_min, scheduled_end_min`

func scanJob(row interface{ Scan(...any) error }) (model.Job, error) {
	var j model.Job
	var winStart, winEnd, schedStart, schedEnd sql.NullInt64
	var lat, lng sql.NullFloat64
	err := row.Scan(&j.ID, &j.TenantID, &j.ScheduledDate, &j.Status, &j.TechnicianID,
		&j.Priority, &winStart, &winEnd, &j.ServiceDurationMin,
		&j.Location.Address, &lat, &lng, &j.AccountName,
		&schedStart, &schedEnd)
	if err != nil {
		return model.Job{}, err
	}
	if winStart.Valid && winEnd.Valid {
		j.TimeWindow = &model.TimeWindow{
			Start: model.ClockMinutes(winStart.Int64),
			End:   model.ClockMinutes(winEnd.Int64),
		}
	}
	if lat.Valid {
		v := lat.Float64
		j.Location.Lat = &v
	}
	if lng.Valid {
		v := lng.Float64
		j.Location.Lng = &v
	}
	if schedStart.Valid {
		v := model.ClockMinutes(schedStart.Int64)
		j.ScheduledStart = &v
	}
	if schedEnd.Valid {
		v := model.ClockMinutes(schedEnd.Int64)
		j.ScheduledEnd = &v
	}
	return j, nil
}

func (p *Postgres) GetJob(ctx context.Context, tenantID, jobID string) (model.Job, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE tenant_id=$1 AND id=$2`, tenantID, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, ErrNotFound
	}
	return j, err
}

func (p *Postgres) ListJobs(ctx context.Context, tenantID, date, status string) ([]model.Job, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE tenant_id=$1
		  AND ($2='' OR scheduled_date=$2::date)
		  AND ($3='' OR status=$3)
		ORDER BY id`, tenantID, date, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (p *Postgres) FindSchedulable(ctx context.Context, tenantID, date string) ([]model.Job, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE tenant_id=$1 AND scheduled_date=$2::date
		  AND status IN ('unassigned','scheduled')
		ORDER BY id`, tenantID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// UpdateAssignment is a single-statement compare-and-swap: the WHERE clause
// carries the expected prior technician, so a concurrent reassignment makes
// the update match zero rows instead of clobbering it.
func (p *Postgres) UpdateAssignment(ctx context.Context, tenantID string, upd AssignmentUpdate) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE jobs
		SET technician_id=$1, status=$2, scheduled_start_min=$3, scheduled_end_min=$4
		WHERE tenant_id=$5 AND id=$6
		  AND technician_id IS NOT DISTINCT FROM NULLIF($7,'')`,
		upd.TechnicianID, upd.Status, int(upd.ScheduledStart), int(upd.ScheduledEnd),
		tenantID, upd.JobID, upd.ExpectedPriorTechnicianID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Either the job is gone or the condition failed; disambiguate.
		var exists bool
		err = p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM jobs WHERE tenant_id=$1 AND id=$2)`,
			tenantID, upd.JobID).Scan(&exists)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (p *Postgres) UpsertTechnician(ctx context.Context, tenantID string, in model.TechnicianIn) (model.Technician, error) {
	t := model.Technician{
		ID:           in.ID,
		TenantID:     tenantID,
		Name:         in.Name,
		WorkDayStart: in.WorkDayStart,
		TimeOff:      in.TimeOff,
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.WorkDayStart <= 0 {
		t.WorkDayStart = dayStartDefault(p.DefaultDayStart)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO technicians (id, tenant_id, name, work_day_start_min, time_off)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE
		SET name=EXCLUDED.name, work_day_start_min=EXCLUDED.work_day_start_min, time_off=EXCLUDED.time_off`,
		t.ID, tenantID, t.Name, int(t.WorkDayStart), pqStringArray(t.TimeOff))
	if err != nil {
		return model.Technician{}, err
	}
	return t, nil
}

func (p *Postgres) GetTechnician(ctx context.Context, tenantID, technicianID string) (model.Technician, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id::text, tenant_id, COALESCE(name,''), work_day_start_min, time_off
		FROM technicians WHERE tenant_id=$1 AND id=$2`, tenantID, technicianID)
	t, err := scanTechnician(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Technician{}, ErrNotFound
	}
	return t, err
}

func (p *Postgres) ListTechnicians(ctx context.Context, tenantID string) ([]model.Technician, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, tenant_id, COALESCE(name,''), work_day_start_min, time_off
		FROM technicians WHERE tenant_id=$1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTechnicians(rows)
}

func (p *Postgres) ListAvailable(ctx context.Context, tenantID, date string) ([]model.Technician, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, tenant_id, COALESCE(name,''), work_day_start_min, time_off
		FROM technicians
		WHERE tenant_id=$1 AND NOT ($2 = ANY(time_off))
		ORDER BY id`, tenantID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTechnicians(rows)
}

func (p *Postgres) ListCommittedStops(ctx context.Context, tenantID, technicianID, date string) ([]model.CommittedStop, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, scheduled_date::text, scheduled_start_min, scheduled_end_min, status,
			COALESCE(account_name,''), COALESCE(address,''), lat, lng
		FROM jobs
		WHERE tenant_id=$1 AND technician_id=$2 AND scheduled_date=$3::date
		  AND status IN ('scheduled','in_progress')
		  AND scheduled_start_min IS NOT NULL
		ORDER BY scheduled_start_min, id`, tenantID, technicianID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.CommittedStop{}
	for rows.Next() {
		var s model.CommittedStop
		var start, end int
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&s.JobID, &s.Date, &start, &end, &s.Status,
			&s.Customer, &s.Address, &lat, &lng); err != nil {
			return nil, err
		}
		s.Start = model.ClockMinutes(start)
		s.End = model.ClockMinutes(end)
		s.Location.Address = s.Address
		if lat.Valid {
			v := lat.Float64
			s.Location.Lat = &v
		}
		if lng.Valid {
			v := lng.Float64
			s.Location.Lng = &v
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func collectJobs(rows *sql.Rows) ([]model.Job, error) {
	out := []model.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanTechnician(row interface{ Scan(...any) error }) (model.Technician, error) {
	var t model.Technician
	var start int
	var timeOff string
	if err := row.Scan(&t.ID, &t.TenantID, &t.Name, &start, &timeOff); err != nil {
		return model.Technician{}, err
	}
	t.WorkDayStart = model.ClockMinutes(start)
	t.TimeOff = parsePQStringArray(timeOff)
	return t, nil
}

func collectTechnicians(rows *sql.Rows) ([]model.Technician, error) {
	out := []model.Technician{}
	for rows.Next() {
		t, err := scanTechnician(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// pqStringArray renders a text[] literal. Dates are the only values stored
// so no quoting is needed.
func pqStringArray(vals []string) string {
	return "{" + strings.Join(vals, ",") + "}"
}

func parsePQStringArray(s string) []string {
	s = strings.Trim(s, "{}")
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
