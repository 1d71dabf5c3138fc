package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fieldops/internal/metrics"
	"fieldops/internal/model"
	"fieldops/internal/store"
)

// DispatchResult is one full dispatch pass for a tenant and date: a route
// per technician that received work, plus the jobs nothing could take.
type DispatchResult struct {
	Date         string                 `json:"date"`
	Routes       []model.OptimizedRoute `json:"routes"`
	Unassignable []model.Job            `json:"unassignable"`
}

// Engine runs the dispatch pipeline: load the day's schedulable jobs and
// available technicians, partition, then sequence each bucket.
type Engine struct {
	Store       store.Store
	Partitioner Partitioner
	Sequencer   Sequencer
	Logger      *slog.Logger

	// DefaultDayStart is used for technicians without an explicit work day
	// start. Zero falls back to model.DefaultWorkDayStart.
	DefaultDayStart model.ClockMinutes
}

// RunDispatch executes one pass for the tenant and date. Sequencing runs
// per technician in parallel; the returned routes are ordered by
// technician id so repeated runs over the same state compare equal.
func (e Engine) RunDispatch(ctx context.Context, tenantID, date string) (DispatchResult, error) {
	if tenantID == "" {
		return DispatchResult{}, fmt.Errorf("dispatch: tenant id required: %w", ErrInvalidInput)
	}
	if !model.ValidDate(date) {
		return DispatchResult{}, fmt.Errorf("dispatch: date %q is not YYYY-MM-DD: %w", date, ErrInvalidInput)
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	started := time.Now()

	jobs, err := e.Store.FindSchedulable(ctx, tenantID, date)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("dispatch: load jobs: %w", err)
	}
	techs, err := e.Store.ListAvailable(ctx, tenantID, date)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("dispatch: load technicians: %w", err)
	}

	part := e.Partitioner.Partition(jobs, techs)

	defaultStart := e.DefaultDayStart
	if defaultStart <= 0 {
		defaultStart = model.DefaultWorkDayStart
	}
	dayStarts := map[string]model.ClockMinutes{}
	for _, t := range techs {
		start := t.WorkDayStart
		if start <= 0 {
			start = defaultStart
		}
		dayStarts[t.ID] = start
	}

	// Buckets can include technicians outside today's availability when a
	// job already carries an assignment; sequence them too.
	techIDs := make([]string, 0, len(part.Buckets))
	for id := range part.Buckets {
		techIDs = append(techIDs, id)
	}
	sort.Strings(techIDs)

	routes := make([]model.OptimizedRoute, len(techIDs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range techIDs {
		i, id := i, id
		g.Go(func() error {
			start, ok := dayStarts[id]
			if !ok {
				start = defaultStart
			}
			r := e.Sequencer.Sequence(gctx, id, part.Buckets[id], start)
			mu.Lock()
			routes[i] = r
			mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return DispatchResult{}, fmt.Errorf("dispatch: sequence: %w", err)
	}

	assigned := 0
	for _, r := range routes {
		assigned += len(r.Stops)
	}
	metrics.DispatchRuns.Inc()
	metrics.JobsAssigned.Add(float64(assigned))
	metrics.JobsUnassignable.Add(float64(len(part.Unassignable)))
	metrics.SequenceDuration.Observe(time.Since(started).Seconds())
	logger.Info("dispatch run complete",
		"tenantId", tenantID, "date", date,
		"technicians", len(techIDs), "assigned", assigned,
		"unassignable", len(part.Unassignable),
		"elapsed", time.Since(started))

	return DispatchResult{Date: date, Routes: routes, Unassignable: part.Unassignable}, nil
}
