package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ClockMinutes is a minute-resolution time of day, stored as minutes from
// midnight. All times exchanged at the API boundary are "HH:MM" strings;
// this type handles the conversion in one place.
type ClockMinutes int

// EndOfDay is the sentinel used when ordering jobs without a time window:
// they sort after every job that has one.
const EndOfDay ClockMinutes = 24 * 60

// ParseClock parses a 24h "HH:MM" string into minutes from midnight.
func ParseClock(s string) (ClockMinutes, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("parse clock %q: out of range", s)
	}
	return ClockMinutes(h*60 + m), nil
}

func (c ClockMinutes) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockMinutes) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockMinutes) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// DateLayout is the calendar-date format used at every boundary.
const DateLayout = "2006-01-02"

// ValidDate reports whether s is a well-formed ISO-8601 calendar date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
