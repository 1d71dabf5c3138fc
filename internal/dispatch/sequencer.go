package dispatch

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"fieldops/internal/estimate"
	"fieldops/internal/model"
)

// DefaultFallbackDriveMin is the conservative drive time assumed for a leg
// when the estimator fails.
const DefaultFallbackDriveMin = 20

// Sequencer orders one technician's stops and computes arrival and
// departure times with a running minute clock. The sequence is feasible
// but not globally optimal: greedy priority plus earliest-window, not TSP.
type Sequencer struct {
	Estimator        estimate.Estimator
	FallbackDriveMin int
	Logger           *slog.Logger
}

// Sequence builds the route for one technician. The walk starts at the
// depot (no coordinates), so the first leg uses the estimator's
// missing-coordinate behavior. An estimator failure marks the stop
// estimate_unavailable and substitutes the fallback drive time; it never
// aborts the route.
func (s Sequencer) Sequence(ctx context.Context, technicianID string, jobs []model.Job, dayStart model.ClockMinutes) model.OptimizedRoute {
	route := model.OptimizedRoute{
		TechnicianID:        technicianID,
		Stops:               []model.Stop{},
		EstimatedCompletion: dayStart,
	}
	if len(jobs) == 0 {
		return route
	}

	fallback := s.FallbackDriveMin
	if fallback <= 0 {
		fallback = DefaultFallbackDriveMin
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	points := make([]model.RoutePoint, 0, len(jobs))
	for _, j := range jobs {
		points = append(points, model.PointFromJob(j))
	}
	sortPoints(points)

	t := dayStart
	prev := model.Location{} // depot
	totalDistance := 0.0

	for i, pt := range points {
		stop := model.Stop{JobID: pt.JobID, Seq: i + 1}

		leg, err := s.Estimator.Estimate(ctx, prev, pt.Location)
		if err != nil {
			logger.Warn("leg estimate unavailable, using fallback",
				"technicianId", technicianID, "jobId", pt.JobID, "error", err)
			stop.EstimateUnavailable = true
			leg = estimate.Estimate{DriveMinutes: fallback}
		}

		stop.DrivingTimeMin = leg.DriveMinutes
		stop.DistanceFromPrev = leg.Distance
		totalDistance += leg.Distance

		t += model.ClockMinutes(leg.DriveMinutes)
		stop.EstimatedArrival = t
		t += model.ClockMinutes(pt.ServiceDurationMin)
		stop.EstimatedDeparture = t

		route.Stops = append(route.Stops, stop)
		prev = pt.Location
	}

	// Distances round to the nearest whole unit once, in the total only.
	route.TotalDistance = math.Round(totalDistance)
	route.TotalDurationMin = int(t - dayStart)
	route.EstimatedCompletion = t
	return route
}

// sortPoints orders stops by priority rank descending, breaking ties by
// time-window start ascending (windowless stops sort last via the
// end-of-day sentinel) and finally by job id for determinism.
func sortPoints(points []model.RoutePoint) {
	sort.SliceStable(points, func(i, k int) bool {
		a, b := points[i], points[k]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra > rb
		}
		if wa, wb := windowStart(a.TimeWindow), windowStart(b.TimeWindow); wa != wb {
			return wa < wb
		}
		return a.JobID < b.JobID
	})
}
