// Package timewindow implements recurring weekly time windows with
// second resolution, including windows that cross midnight.
package timewindow

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// ValidationError describes a window that was rejected at construction.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid time window: %s: %s", e.Field, e.Reason)
}

// Window is a set of weekdays plus a start/end time of day.
// Days uses Sunday=0 .. Saturday=6. Start and End are seconds of day.
// When Start > End the window crosses midnight: it opens on a listed
// day and closes on the following day.
type Window struct {
	Days  []int `json:"days_of_week"`
	Start int   `json:"start_sec"`
	End   int   `json:"end_sec"`
}

// New builds a validated window from a weekday set and "HH:MM" or
// "HH:MM:SS" times. Zero-length windows are rejected rather than
// interpreted as always-on or never-on.
func New(days []int, startTime, endTime string) (Window, error) {
	if len(days) == 0 {
		return Window{}, &ValidationError{Field: "days_of_week", Reason: "must not be empty"}
	}

	seen := make(map[int]bool, len(days))
	normalized := make([]int, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return Window{}, &ValidationError{Field: "days_of_week", Reason: fmt.Sprintf("day %d out of range 0-6", d)}
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		normalized = append(normalized, d)
	}
	sort.Ints(normalized)

	start, err := ParseTimeOfDay(startTime)
	if err != nil {
		return Window{}, &ValidationError{Field: "start_time", Reason: err.Error()}
	}
	end, err := ParseTimeOfDay(endTime)
	if err != nil {
		return Window{}, &ValidationError{Field: "end_time", Reason: err.Error()}
	}
	if start == end {
		return Window{}, &ValidationError{Field: "end_time", Reason: "zero-length window"}
	}

	return Window{Days: normalized, Start: start, End: end}, nil
}

// FromSeconds builds a validated window from already-parsed seconds of day.
func FromSeconds(days []int, start, end int) (Window, error) {
	if start < 0 || start >= secondsPerDay {
		return Window{}, &ValidationError{Field: "start_time", Reason: "out of range"}
	}
	if end < 0 || end >= secondsPerDay {
		return Window{}, &ValidationError{Field: "end_time", Reason: "out of range"}
	}
	return New(days, FormatTimeOfDay(start), FormatTimeOfDay(end))
}

// WrapsMidnight reports whether the window closes on the day after it opens.
func (w Window) WrapsMidnight() bool {
	return w.Start > w.End
}

// Contains reports whether the instant falls inside the window.
// The instant reduces to (weekday, second of day). Same-day windows are
// half-open [start, end). For a midnight-crossing window the portion
// after midnight belongs to the previous day's rule, so the day test
// runs against (weekday-1) mod 7.
func (w Window) Contains(t time.Time) bool {
	day := int(t.Weekday())
	sec := t.Hour()*3600 + t.Minute()*60 + t.Second()

	if !w.WrapsMidnight() {
		return w.hasDay(day) && sec >= w.Start && sec < w.End
	}

	// Still on the opening day.
	if w.hasDay(day) && sec >= w.Start {
		return true
	}
	// Past midnight: driven by the previous day's entry.
	prev := (day + 6) % 7
	return w.hasDay(prev) && sec < w.End
}

func (w Window) hasDay(day int) bool {
	for _, d := range w.Days {
		if d == day {
			return true
		}
	}
	return false
}

// StartTime returns the opening time as "HH:MM:SS".
func (w Window) StartTime() string { return FormatTimeOfDay(w.Start) }

// EndTime returns the closing time as "HH:MM:SS".
func (w Window) EndTime() string { return FormatTimeOfDay(w.End) }

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into seconds of day.
func ParseTimeOfDay(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time format: %q", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	second := 0
	if len(parts) == 3 {
		second, err = strconv.Atoi(parts[2])
		if err != nil {
			return 0, fmt.Errorf("invalid second in %q: %w", s, err)
		}
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return hour*3600 + minute*60 + second, nil
}

// FormatTimeOfDay formats seconds of day as "HH:MM:SS".
func FormatTimeOfDay(sec int) string {
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec/60)%60, sec%60)
}

// EncodeDays serializes a weekday set as "1,2,3" for storage.
func EncodeDays(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// DecodeDays parses the storage form produced by EncodeDays.
func DecodeDays(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid day %q: %w", p, err)
		}
		days = append(days, d)
	}
	return days, nil
}
