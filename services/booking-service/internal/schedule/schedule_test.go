package schedule

import (
	"reflect"
	"testing"
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
)

// 2026-03-02 is a Monday.
var monday = calendar.Date{Year: 2026, Month: time.March, Day: 2}

func minutes(s string) int {
	m, err := calendar.ParseClock(s)
	if err != nil {
		panic(err)
	}
	return m
}

func ptr(v int) *int { return &v }

func TestDayWindowsSubtractsBreak(t *testing.T) {
	m := Model{
		StaffID:   "s-1",
		WorkHours: []WorkHourRule{{StaffID: "s-1", Weekday: time.Monday, Start: minutes("09:00"), End: minutes("17:00")}},
		Breaks:    []BreakRule{{StaffID: "s-1", Weekday: time.Monday, Start: minutes("12:00"), End: minutes("13:00")}},
	}
	got := m.DayWindows(monday)
	want := []calendar.Interval{{Start: minutes("09:00"), End: minutes("12:00")}, {Start: minutes("13:00"), End: minutes("17:00")}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDayWindowsNoRulesForWeekday(t *testing.T) {
	m := Model{
		StaffID:   "s-1",
		WorkHours: []WorkHourRule{{StaffID: "s-1", Weekday: time.Tuesday, Start: 540, End: 1020}},
	}
	if got := m.DayWindows(monday); len(got) != 0 {
		t.Fatalf("expected no windows, got %v", got)
	}
	if m.HasWorkHours(time.Monday) || !m.HasWorkHours(time.Tuesday) {
		t.Fatal("HasWorkHours mismatch")
	}
}

func TestDayWindowsExceptions(t *testing.T) {
	base := Model{
		StaffID:   "s-1",
		WorkHours: []WorkHourRule{{StaffID: "s-1", Weekday: time.Monday, Start: minutes("09:00"), End: minutes("18:00")}},
	}

	partial := base
	partial.Exceptions = []Exception{{StaffID: "s-1", Date: monday, Start: ptr(minutes("12:00")), End: ptr(minutes("13:00"))}}
	got := partial.DayWindows(monday)
	want := []calendar.Interval{{Start: minutes("09:00"), End: minutes("12:00")}, {Start: minutes("13:00"), End: minutes("18:00")}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("partial exception: got %v, want %v", got, want)
	}
	if got := partial.DayWindows(monday.AddDays(7)); len(got) != 1 {
		t.Fatalf("exception must only apply to its date, got %v", got)
	}

	closed := base
	closed.Exceptions = []Exception{
		{StaffID: "s-1", Date: monday, Start: ptr(minutes("10:00")), End: ptr(minutes("11:00"))},
		{StaffID: "s-1", Date: monday, Closed: true},
	}
	if got := closed.DayWindows(monday); len(got) != 0 {
		t.Fatalf("closed exception: expected no windows, got %v", got)
	}

	incomplete := base
	incomplete.Exceptions = []Exception{{StaffID: "s-1", Date: monday, Start: ptr(600)}}
	if got := incomplete.DayWindows(monday); len(got) != 1 || got[0].Len() != 9*60 {
		t.Fatalf("exception without end must be ignored, got %v", got)
	}
}

func TestDayWindowsMergesOverlappingWorkHours(t *testing.T) {
	m := Model{
		StaffID: "s-1",
		WorkHours: []WorkHourRule{
			{StaffID: "s-1", Weekday: time.Monday, Start: minutes("13:00"), End: minutes("18:00")},
			{StaffID: "s-1", Weekday: time.Monday, Start: minutes("09:00"), End: minutes("14:00")},
		},
		Breaks: []BreakRule{{StaffID: "s-1", Weekday: time.Monday, Start: minutes("12:00"), End: minutes("12:30")}},
	}
	got := m.DayWindows(monday)
	want := []calendar.Interval{{Start: minutes("09:00"), End: minutes("12:00")}, {Start: minutes("12:30"), End: minutes("18:00")}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDayWindowsIgnoresOtherStaff(t *testing.T) {
	m := Model{
		StaffID:    "s-1",
		WorkHours:  []WorkHourRule{{StaffID: "s-1", Weekday: time.Monday, Start: 540, End: 720}},
		Exceptions: []Exception{{StaffID: "s-2", Date: monday, Closed: true}},
	}
	if got := m.DayWindows(monday); len(got) != 1 {
		t.Fatalf("another staff member's exception leaked: %v", got)
	}
}

func TestValidateDropsInvalidRules(t *testing.T) {
	m := Model{
		StaffID: "s-1",
		WorkHours: []WorkHourRule{
			{Weekday: time.Monday, Start: 540, End: 1020},
			{Weekday: time.Monday, Start: 600, End: 600},
			{Weekday: 7, Start: 540, End: 600},
		},
		Breaks:     []BreakRule{{Weekday: time.Monday, Start: 1400, End: 1500}},
		Exceptions: []Exception{{Date: monday, Start: ptr(700), End: ptr(650)}, {Date: monday, Closed: true}},
	}
	clean, problems := m.Validate()
	if len(problems) != 4 {
		t.Fatalf("expected 4 problems, got %d: %v", len(problems), problems)
	}
	if len(clean.WorkHours) != 1 || len(clean.Breaks) != 0 || len(clean.Exceptions) != 1 || !clean.Exceptions[0].Closed {
		t.Fatalf("unexpected cleaned model %+v", clean)
	}
}
