package estimate

import (
	"context"
	"math"

	"fieldops/internal/model"
)

// Haversine estimates legs from great-circle distance at a configured
// average road speed. Legs where either endpoint has no coordinates fall
// back to the Fixed placeholder values.
type Haversine struct {
	AvgSpeedMPH float64
	Fallback    Fixed
}

// NewHaversine returns a Haversine estimator. speedMPH <= 0 defaults to 30,
// a conservative urban average.
func NewHaversine(speedMPH float64) Haversine {
	if speedMPH <= 0 {
		speedMPH = 30
	}
	return Haversine{AvgSpeedMPH: speedMPH, Fallback: NewFixed()}
}

func (h Haversine) Estimate(ctx context.Context, from, to model.Location) (Estimate, error) {
	if !from.HasCoordinates() || !to.HasCoordinates() {
		return h.Fallback.Estimate(ctx, from, to)
	}
	miles := haversineMiles(*from.Lat, *from.Lng, *to.Lat, *to.Lng)
	minutes := int(math.Ceil(miles / h.AvgSpeedMPH * 60))
	return Estimate{DriveMinutes: minutes, Distance: miles}, nil
}

func haversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	const rMiles = 3958.8
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return rMiles * c
}
