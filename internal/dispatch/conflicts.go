package dispatch

import (
	"context"
	"fmt"
	"sort"

	"fieldops/internal/estimate"
	"fieldops/internal/model"
)

// Detector classifies conflicts between a proposed stop and a technician's
// committed schedule. Detect is a pure function of its inputs: identical
// snapshots produce identical output regardless of slice order.
type Detector struct {
	Estimator estimate.Estimator
}

// Detect scans the committed stops for the technician and reports every
// conflict with the proposal. Multiple conflict types for the same pair
// are all reported; gating uses model.MaxSeverity over the result. The
// context bounds the estimator calls behind location checks.
func (d Detector) Detect(ctx context.Context, proposed model.CommittedStop, technicianID string, committed []model.CommittedStop) []model.Conflict {
	existing := append([]model.CommittedStop(nil), committed...)
	sort.Slice(existing, func(i, k int) bool {
		if existing[i].Start != existing[k].Start {
			return existing[i].Start < existing[k].Start
		}
		return existing[i].JobID < existing[k].JobID
	})

	var out []model.Conflict
	for _, e := range existing {
		if e.Date != proposed.Date {
			continue
		}
		if e.Overlaps(proposed) {
			out = append(out, d.timeOverlap(proposed, e))
			if e.JobID != proposed.JobID {
				out = append(out, d.doubleBooking(proposed, e, technicianID))
			}
		}
		if c, ok := d.locationConflict(ctx, proposed, e); ok {
			out = append(out, c)
		}
	}
	return out
}

func (d Detector) timeOverlap(proposed, e model.CommittedStop) model.Conflict {
	sev := model.SeverityHigh
	desc := fmt.Sprintf("proposed job %s overlaps committed job %s (%s-%s)",
		proposed.JobID, e.JobID, e.Start, e.End)
	if e.JobID == proposed.JobID {
		// Duplicate commit attempt for the same job.
		sev = model.SeverityCritical
		desc = fmt.Sprintf("job %s is already committed at %s-%s", e.JobID, e.Start, e.End)
	}
	return model.Conflict{
		Type:        model.ConflictTimeOverlap,
		Severity:    sev,
		Description: desc,
		JobIDs:      pairIDs(proposed, e),
		Jobs:        snapshots(proposed, e),
	}
}

func (d Detector) doubleBooking(proposed, e model.CommittedStop, technicianID string) model.Conflict {
	sev := model.SeverityHigh
	if proposed.Status == model.StatusInProgress && e.Status == model.StatusInProgress {
		// Two in-progress jobs at once: physically impossible.
		sev = model.SeverityCritical
	}
	return model.Conflict{
		Type:     model.ConflictDoubleBooking,
		Severity: sev,
		Description: fmt.Sprintf("technician %s already holds job %s for %s-%s",
			technicianID, e.JobID, e.Start, e.End),
		JobIDs: pairIDs(proposed, e),
		Jobs:   snapshots(proposed, e),
	}
}

// locationConflict reports a schedule that is too tight to drive between
// two stops: the gap between them is smaller than the estimated drive
// time. A negative gap (overlapping windows) escalates to high.
func (d Detector) locationConflict(ctx context.Context, proposed, e model.CommittedStop) (model.Conflict, bool) {
	if e.JobID == proposed.JobID {
		return model.Conflict{}, false
	}

	// Gap from the earlier stop's end to the later stop's start, and the
	// leg driven in that direction.
	earlier, later := e, proposed
	if proposed.Start < e.Start {
		earlier, later = proposed, e
	}
	gap := int(later.Start - earlier.End)

	drive := 0
	if gap >= 0 {
		leg, err := d.Estimator.Estimate(ctx, earlier.Location, later.Location)
		if err != nil {
			// Without an estimate a non-negative gap cannot be judged.
			return model.Conflict{}, false
		}
		drive = leg.DriveMinutes
	}
	if gap >= drive {
		return model.Conflict{}, false
	}

	sev := model.SeverityMedium
	if gap < 0 {
		sev = model.SeverityHigh
	}
	return model.Conflict{
		Type:     model.ConflictLocation,
		Severity: sev,
		Description: fmt.Sprintf("jobs %s and %s are %d min apart but only %d min separate them",
			earlier.JobID, later.JobID, drive, gap),
		JobIDs: pairIDs(proposed, e),
		Jobs:   snapshots(proposed, e),
	}, true
}

func pairIDs(proposed, e model.CommittedStop) []string {
	return []string{proposed.JobID, e.JobID}
}

func snapshots(stops ...model.CommittedStop) []model.ConflictJob {
	out := make([]model.ConflictJob, 0, len(stops))
	for _, s := range stops {
		out = append(out, model.ConflictJob{
			JobID:    s.JobID,
			Date:     s.Date,
			Start:    s.Start,
			End:      s.End,
			Customer: s.Customer,
			Address:  s.Address,
		})
	}
	return out
}
