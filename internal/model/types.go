// Package model holds the domain types shared by the dispatch engine,
// the store implementations, and the API layer.
package model

// Job statuses. Transitions only move forward
// (unassigned -> scheduled -> in_progress -> completed); cancellation is
// reachable from every non-terminal status.
type JobStatus string

const (
	StatusUnassigned JobStatus = "unassigned"
	StatusScheduled  JobStatus = "scheduled"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusCancelled  JobStatus = "cancelled"
)

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusUnassigned:
		return to == StatusScheduled || to == StatusCancelled
	case StatusScheduled:
		return to == StatusInProgress || to == StatusCancelled
	case StatusInProgress:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}

// Priority of a job. Urgent outranks high outranks medium outranks low.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns the ordinal used for sequencing (urgent=4 .. low=1).
// Unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// TimeWindow is the clock range a job's service must begin within.
type TimeWindow struct {
	Start ClockMinutes `json:"start"`
	End   ClockMinutes `json:"end"`
}

// Location is a job site. Coordinates may be absent when the address has
// not been geocoded yet.
type Location struct {
	Address string   `json:"address,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are present.
func (l Location) HasCoordinates() bool { return l.Lat != nil && l.Lng != nil }

// Job is a unit of work to schedule for one calendar date.
type Job struct {
	ID                 string        `json:"id"`
	TenantID           string        `json:"tenantId"`
	ScheduledDate      string        `json:"scheduledDate"` // YYYY-MM-DD
	Status             JobStatus     `json:"status"`
	TechnicianID       string        `json:"technicianId,omitempty"`
	Priority           Priority      `json:"priority"`
	TimeWindow         *TimeWindow   `json:"timeWindow,omitempty"`
	ServiceDurationMin int           `json:"serviceDurationMin"`
	Location           Location      `json:"location"`
	AccountName        string        `json:"accountName,omitempty"`
	ScheduledStart     *ClockMinutes `json:"scheduledStart,omitempty"`
	ScheduledEnd       *ClockMinutes `json:"scheduledEnd,omitempty"`
}

// JobIn is the create-job request shape. Missing priority defaults to
// medium; missing status defaults to unassigned.
type JobIn struct {
	ScheduledDate      string      `json:"scheduledDate"`
	Priority           Priority    `json:"priority,omitempty"`
	TimeWindow         *TimeWindow `json:"timeWindow,omitempty"`
	ServiceDurationMin int         `json:"serviceDurationMin"`
	Location           Location    `json:"location"`
	AccountName        string      `json:"accountName,omitempty"`
	TechnicianID       string      `json:"technicianId,omitempty"`
}

// Technician is a schedulable resource for a date. Committed stops are a
// derived view built from jobs; they are not stored here.
type Technician struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenantId"`
	Name         string       `json:"name,omitempty"`
	WorkDayStart ClockMinutes `json:"workDayStart"`
	TimeOff      []string     `json:"timeOff,omitempty"` // dates the technician is unavailable
}

// TechnicianIn is the upsert-technician request shape. A zero WorkDayStart
// falls back to DefaultWorkDayStart.
type TechnicianIn struct {
	ID           string       `json:"id,omitempty"`
	Name         string       `json:"name,omitempty"`
	WorkDayStart ClockMinutes `json:"workDayStart,omitempty"`
	TimeOff      []string     `json:"timeOff,omitempty"`
}

// DefaultWorkDayStart is used when a technician has no explicit day start.
const DefaultWorkDayStart = ClockMinutes(8 * 60)

// RoutePoint is the ephemeral projection of a Job used during sequencing.
// It is never persisted.
type RoutePoint struct {
	JobID              string
	Location           Location
	TimeWindow         *TimeWindow
	ServiceDurationMin int
	Priority           Priority
}

// PointFromJob projects a job into its sequencing view.
func PointFromJob(j Job) RoutePoint {
	return RoutePoint{
		JobID:              j.ID,
		Location:           j.Location,
		TimeWindow:         j.TimeWindow,
		ServiceDurationMin: j.ServiceDurationMin,
		Priority:           j.Priority,
	}
}

// Stop is one job's position within a sequenced route.
type Stop struct {
	JobID               string       `json:"jobId"`
	Seq                 int          `json:"seq"` // 1-based
	EstimatedArrival    ClockMinutes `json:"estimatedArrival"`
	EstimatedDeparture  ClockMinutes `json:"estimatedDeparture"`
	DrivingTimeMin      int          `json:"drivingTimeMin"`
	DistanceFromPrev    float64      `json:"distanceFromPrev"`
	EstimateUnavailable bool         `json:"estimateUnavailable,omitempty"`
}

// OptimizedRoute is the computed output for one technician's day.
type OptimizedRoute struct {
	TechnicianID        string       `json:"technicianId"`
	Stops               []Stop       `json:"stops"`
	TotalDistance       float64      `json:"totalDistance"` // whole units, rounded once
	TotalDurationMin    int          `json:"totalDurationMin"`
	EstimatedCompletion ClockMinutes `json:"estimatedCompletion"`
}

// CommittedStop is the snapshot view of an already-committed job used by
// conflict detection. Rebuilt from the repository on every validation.
type CommittedStop struct {
	JobID    string       `json:"jobId"`
	Date     string       `json:"date"`
	Start    ClockMinutes `json:"start"`
	End      ClockMinutes `json:"end"`
	Status   JobStatus    `json:"status"`
	Customer string       `json:"customer,omitempty"`
	Address  string       `json:"address,omitempty"`
	Location Location     `json:"-"`
}

// Overlaps reports whether two half-open [start, end) windows intersect.
func (s CommittedStop) Overlaps(o CommittedStop) bool {
	return s.Start < o.End && o.Start < s.End
}

// Conflict classification.
type ConflictType string

const (
	ConflictTimeOverlap   ConflictType = "time_overlap"
	ConflictDoubleBooking ConflictType = "technician_double_booking"
	ConflictLocation      ConflictType = "location_conflict"
)

// Severity determines whether a commit is blocked or merely warned.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal for severity comparison (critical=4 .. low=1).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// ConflictJob is the per-job snapshot attached to a conflict for display.
type ConflictJob struct {
	JobID    string       `json:"jobId"`
	Date     string       `json:"date"`
	Start    ClockMinutes `json:"start"`
	End      ClockMinutes `json:"end"`
	Customer string       `json:"customer,omitempty"`
	Address  string       `json:"address,omitempty"`
}

// Conflict is a detected incompatibility between a proposed assignment and
// a technician's committed schedule. Conflicts are first-class return
// values, never errors.
type Conflict struct {
	Type        ConflictType  `json:"type"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
	JobIDs      []string      `json:"jobIds"`
	Jobs        []ConflictJob `json:"jobs"`
}

// MaxSeverity returns the highest severity across conflicts, or "" when
// the slice is empty.
func MaxSeverity(conflicts []Conflict) Severity {
	var max Severity
	for _, c := range conflicts {
		if c.Severity.Rank() > max.Rank() {
			max = c.Severity
		}
	}
	return max
}
