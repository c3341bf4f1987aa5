// Package schedule holds one staff member's recurring work hours, breaks and
// dated exceptions, and turns them into open windows for a date.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
)

// WorkHourRule is a recurring open block on a weekday. Start and End are
// minutes since midnight.
type WorkHourRule struct {
	StaffID string       `json:"staff_id"`
	Weekday time.Weekday `json:"weekday"`
	Start   int          `json:"start_minute"`
	End     int          `json:"end_minute"`
}

// BreakRule is a recurring closed block carved out of the same weekday's work hours.
type BreakRule struct {
	StaffID string       `json:"staff_id"`
	Weekday time.Weekday `json:"weekday"`
	Start   int          `json:"start_minute"`
	End     int          `json:"end_minute"`
}

// Exception overrides the recurring rules for one date. Closed shuts the whole
// day; otherwise [Start, End) is closed on that date only.
type Exception struct {
	StaffID string        `json:"staff_id"`
	Date    calendar.Date `json:"date"`
	Closed  bool          `json:"is_closed"`
	Start   *int          `json:"start_minute,omitempty"`
	End     *int          `json:"end_minute,omitempty"`
}

// Window returns the closed sub-interval of a partial exception.
func (e Exception) Window() (calendar.Interval, bool) {
	if e.Closed || e.Start == nil || e.End == nil {
		return calendar.Interval{}, false
	}
	return calendar.Interval{Start: *e.Start, End: *e.End}, true
}

type Model struct {
	StaffID    string
	WorkHours  []WorkHourRule
	Breaks     []BreakRule
	Exceptions []Exception
}

// HasWorkHours reports whether any work-hour rule exists for weekday.
func (m Model) HasWorkHours(weekday time.Weekday) bool {
	for _, r := range m.WorkHours {
		if m.owns(r.StaffID) && r.Weekday == weekday {
			return true
		}
	}
	return false
}

// DayWindows returns the open intervals of date, sorted and disjoint.
// Overlapping work-hour rules are merged before breaks and exceptions are
// subtracted. A closed exception empties the day.
func (m Model) DayWindows(date calendar.Date) []calendar.Interval {
	weekday := date.Weekday()

	var open []calendar.Interval
	for _, r := range m.WorkHours {
		if m.owns(r.StaffID) && r.Weekday == weekday {
			open = append(open, calendar.Interval{Start: r.Start, End: r.End})
		}
	}
	if len(open) == 0 {
		return nil
	}

	var cuts []calendar.Interval
	for _, e := range m.Exceptions {
		if !m.owns(e.StaffID) || !e.Date.Equal(date) {
			continue
		}
		if e.Closed {
			return nil
		}
		if w, ok := e.Window(); ok {
			cuts = append(cuts, w)
		}
	}

	windows := calendar.Merge(open)
	for _, b := range m.Breaks {
		if m.owns(b.StaffID) && b.Weekday == weekday {
			windows = calendar.Subtract(windows, calendar.Interval{Start: b.Start, End: b.End})
		}
	}
	for _, c := range cuts {
		windows = calendar.Subtract(windows, c)
	}
	return windows
}

// Validate returns a copy of m without the rules that cannot be honoured,
// together with one error per dropped rule.
func (m Model) Validate() (Model, []error) {
	var problems []error
	out := Model{StaffID: m.StaffID}

	for _, r := range m.WorkHours {
		if err := checkRule(r.Weekday, r.Start, r.End); err != nil {
			problems = append(problems, fmt.Errorf("work hours %s %s: %w", r.Weekday, clockRange(r.Start, r.End), err))
			continue
		}
		out.WorkHours = append(out.WorkHours, r)
	}
	for _, b := range m.Breaks {
		if err := checkRule(b.Weekday, b.Start, b.End); err != nil {
			problems = append(problems, fmt.Errorf("break %s %s: %w", b.Weekday, clockRange(b.Start, b.End), err))
			continue
		}
		out.Breaks = append(out.Breaks, b)
	}
	for _, e := range m.Exceptions {
		if e.Date.IsZero() {
			problems = append(problems, errors.New("exception without date"))
			continue
		}
		if w, ok := e.Window(); ok {
			if err := checkRange(w.Start, w.End); err != nil {
				problems = append(problems, fmt.Errorf("exception %s: %w", e.Date, err))
				continue
			}
		}
		out.Exceptions = append(out.Exceptions, e)
	}
	return out, problems
}

func (m Model) owns(staffID string) bool {
	return staffID == "" || m.StaffID == "" || staffID == m.StaffID
}

func checkRule(weekday time.Weekday, start, end int) error {
	if weekday < time.Sunday || weekday > time.Saturday {
		return fmt.Errorf("weekday %d out of range", int(weekday))
	}
	return checkRange(start, end)
}

func checkRange(start, end int) error {
	if start < 0 || end > calendar.MinutesPerDay {
		return errors.New("times must lie within the day")
	}
	if start >= end {
		return errors.New("start must be before end")
	}
	return nil
}

func clockRange(start, end int) string {
	return calendar.FormatClock(start) + "-" + calendar.FormatClock(end)
}
