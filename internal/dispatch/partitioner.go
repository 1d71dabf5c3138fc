// Package dispatch implements the technician dispatch and route-sequencing
// engine: day partitioning, stop sequencing, conflict detection, and
// concurrency-safe assignment commits.
package dispatch

import (
	"sort"

	"fieldops/internal/model"
)

// DefaultMaxStopsPerTechnician caps a technician's day when no explicit
// limit is configured.
const DefaultMaxStopsPerTechnician = 8

// Partitioner assigns a day's unclaimed jobs across technicians exactly
// once. Jobs already carrying a technician stay with that technician.
type Partitioner struct {
	MaxStopsPerTechnician int
}

// Partition is the result of one partitioning pass. Every job id appears
// in at most one bucket; jobs no technician could take are returned in
// Unassignable rather than erroring.
type Partition struct {
	Buckets      map[string][]model.Job
	Unassignable []model.Job
}

// Partition distributes jobs across technicians with a single greedy pass.
// Technicians are visited in stable id order; each claims from the shared
// pool until its cap is reached, and claimed jobs leave the pool before the
// next technician is considered. Jobs with statuses other than unassigned
// or scheduled are ignored.
func (p Partitioner) Partition(jobs []model.Job, technicians []model.Technician) Partition {
	cap := p.MaxStopsPerTechnician
	if cap <= 0 {
		cap = DefaultMaxStopsPerTechnician
	}

	out := Partition{Buckets: map[string][]model.Job{}}

	var pool []model.Job
	for _, j := range jobs {
		if j.Status != model.StatusUnassigned && j.Status != model.StatusScheduled {
			continue
		}
		if j.TechnicianID != "" {
			// Pre-existing commitment: never silently moved, and never
			// counted against the shared pool.
			out.Buckets[j.TechnicianID] = append(out.Buckets[j.TechnicianID], j)
			continue
		}
		pool = append(pool, j)
	}

	// Deterministic claim order: most urgent first, then earliest window,
	// then id.
	sortJobsForClaim(pool)

	ordered := append([]model.Technician(nil), technicians...)
	sort.Slice(ordered, func(i, k int) bool { return ordered[i].ID < ordered[k].ID })

	for _, t := range ordered {
		for len(pool) > 0 && len(out.Buckets[t.ID]) < cap {
			out.Buckets[t.ID] = append(out.Buckets[t.ID], pool[0])
			pool = pool[1:]
		}
	}

	out.Unassignable = pool
	return out
}

// sortJobsForClaim orders jobs by priority rank descending, then window
// start ascending (windowless jobs use the end-of-day sentinel), then id.
func sortJobsForClaim(jobs []model.Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		a, b := jobs[i], jobs[k]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra > rb
		}
		if wa, wb := windowStart(a.TimeWindow), windowStart(b.TimeWindow); wa != wb {
			return wa < wb
		}
		return a.ID < b.ID
	})
}

func windowStart(w *model.TimeWindow) model.ClockMinutes {
	if w == nil {
		return model.EndOfDay
	}
	return w.Start
}
