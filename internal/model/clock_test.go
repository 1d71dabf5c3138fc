package model

import (
	"encoding/json"
	"testing"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want ClockMinutes
		ok   bool
	}{
		{"00:00", 0, true},
		{"08:00", 480, true},
		{"09:05", 545, true},
		{"23:59", 1439, true},
		{"24:00", EndOfDay, true},
		{"24:01", 0, false},
		{"25:00", 0, false},
		{"08:60", 0, false},
		{"8am", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, err := ParseClock(c.in)
		if c.ok && err != nil {
			t.Errorf("ParseClock(%q): unexpected error %v", c.in, err)
		}
		if !c.ok && err == nil {
			t.Errorf("ParseClock(%q): expected error, got %v", c.in, got)
		}
		if c.ok && got != c.want {
			t.Errorf("ParseClock(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestClockString(t *testing.T) {
	if s := ClockMinutes(545).String(); s != "09:05" {
		t.Errorf("String() = %q, want 09:05", s)
	}
	if s := ClockMinutes(0).String(); s != "00:00" {
		t.Errorf("String() = %q, want 00:00", s)
	}
}

func TestClockJSONRoundTrip(t *testing.T) {
	type wrap struct {
		At ClockMinutes `json:"at"`
	}
	b, err := json.Marshal(wrap{At: 9*60 + 30})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"at":"09:30"}` {
		t.Fatalf("marshal = %s", b)
	}
	var w wrap
	if err := json.Unmarshal([]byte(`{"at":"14:45"}`), &w); err != nil {
		t.Fatal(err)
	}
	if w.At != 14*60+45 {
		t.Fatalf("unmarshal = %d", w.At)
	}
	if err := json.Unmarshal([]byte(`{"at":"nope"}`), &w); err == nil {
		t.Fatal("expected error for malformed clock")
	}
}

func TestValidDate(t *testing.T) {
	if !ValidDate("2026-09-01") {
		t.Error("expected valid")
	}
	for _, bad := range []string{"", "09/01/2026", "2026-13-01", "2026-02-30"} {
		if ValidDate(bad) {
			t.Errorf("ValidDate(%q) should be false", bad)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]JobStatus{
		{StatusUnassigned, StatusScheduled},
		{StatusScheduled, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusUnassigned, StatusCancelled},
		{StatusScheduled, StatusCancelled},
		{StatusInProgress, StatusCancelled},
	}
	for _, p := range allowed {
		if !CanTransition(p[0], p[1]) {
			t.Errorf("%s -> %s should be allowed", p[0], p[1])
		}
	}
	denied := [][2]JobStatus{
		{StatusScheduled, StatusUnassigned},
		{StatusCompleted, StatusInProgress},
		{StatusCancelled, StatusScheduled},
		{StatusUnassigned, StatusCompleted},
	}
	for _, p := range denied {
		if CanTransition(p[0], p[1]) {
			t.Errorf("%s -> %s should be denied", p[0], p[1])
		}
	}
}

func TestOverlapsHalfOpen(t *testing.T) {
	a := CommittedStop{Start: 9 * 60, End: 10 * 60}
	b := CommittedStop{Start: 10 * 60, End: 11 * 60}
	if a.Overlaps(b) || b.Overlaps(a) {
		t.Error("touching windows must not overlap")
	}
	c := CommittedStop{Start: 9*60 + 59, End: 11 * 60}
	if !a.Overlaps(c) || !c.Overlaps(a) {
		t.Error("expected overlap")
	}
}
