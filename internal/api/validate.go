package api

import (
	"fmt"

	"fieldops/internal/model"
)

func validateJobIn(in model.JobIn) error {
	if !model.ValidDate(in.ScheduledDate) {
		return fmt.Errorf("scheduledDate must be YYYY-MM-DD, got %q", in.ScheduledDate)
	}
	if in.ServiceDurationMin <= 0 {
		return fmt.Errorf("serviceDurationMin must be > 0")
	}
	if in.Priority != "" && in.Priority.Rank() == 0 {
		return fmt.Errorf("unknown priority %q", in.Priority)
	}
	if in.TimeWindow != nil && in.TimeWindow.End <= in.TimeWindow.Start {
		return fmt.Errorf("timeWindow end must be after start")
	}
	if (in.Location.Lat == nil) != (in.Location.Lng == nil) {
		return fmt.Errorf("location must carry both lat and lng or neither")
	}
	return nil
}

func validateTechnicianIn(in model.TechnicianIn) error {
	if in.WorkDayStart < 0 || in.WorkDayStart >= model.EndOfDay {
		return fmt.Errorf("workDayStart out of range")
	}
	for _, d := range in.TimeOff {
		if !model.ValidDate(d) {
			return fmt.Errorf("timeOff entry %q must be YYYY-MM-DD", d)
		}
	}
	return nil
}

func validateProposeRequest(jobID, technicianID, start string) error {
	if jobID == "" {
		return fmt.Errorf("jobId required")
	}
	if technicianID == "" {
		return fmt.Errorf("technicianId required")
	}
	if start == "" {
		return fmt.Errorf("start required")
	}
	return nil
}
