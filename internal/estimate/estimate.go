// Package estimate provides drive-time and distance estimation between
// job sites. The engine treats the estimator as an opaque strategy so the
// built-in placeholders and a routing-API-backed implementation are
// interchangeable.
package estimate

import (
	"context"

	"fieldops/internal/model"
)

// Estimate is one leg's drive time and distance. Distance units are
// caller-defined; the built-in estimators report miles.
type Estimate struct {
	DriveMinutes int
	Distance     float64
}

// Estimator computes the estimated leg between two stops.
type Estimator interface {
	Estimate(ctx context.Context, from, to model.Location) (Estimate, error)
}

// Fixed returns constant legs. It reproduces the scheduling placeholders
// the platform shipped with before a routing provider was wired in:
// 15 min / 5 mi per leg, 20 min / 8 mi when either endpoint has no
// coordinates.
type Fixed struct {
	DriveMinutes int
	Distance     float64

	// Used when either endpoint lacks coordinates.
	MissingCoordDriveMinutes int
	MissingCoordDistance     float64
}

// NewFixed returns a Fixed estimator with the reference placeholder values.
func NewFixed() Fixed {
	return Fixed{
		DriveMinutes:             15,
		Distance:                 5,
		MissingCoordDriveMinutes: 20,
		MissingCoordDistance:     8,
	}
}

func (f Fixed) Estimate(_ context.Context, from, to model.Location) (Estimate, error) {
	if !from.HasCoordinates() || !to.HasCoordinates() {
		return Estimate{DriveMinutes: f.MissingCoordDriveMinutes, Distance: f.MissingCoordDistance}, nil
	}
	return Estimate{DriveMinutes: f.DriveMinutes, Distance: f.Distance}, nil
}
