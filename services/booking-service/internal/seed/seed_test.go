package seed

import (
	"strings"
	"testing"
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
)

func TestReadFileBuildsSchedules(t *testing.T) {
	s, err := ReadFile("testdata/seed.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(s.Staff) != 3 || len(s.Services) != 4 {
		t.Fatalf("unexpected catalog: %d staff, %d services", len(s.Staff), len(s.Services))
	}
	schedules, err := s.Schedules()
	if err != nil {
		t.Fatalf("Schedules: %v", err)
	}

	rui := schedules["staff-rui"]
	windows := rui.DayWindows(calendar.Date{Year: 2026, Month: time.December, Day: 22})
	if len(windows) != 2 || windows[0].String() != "10:00-14:00" || windows[1].String() != "14:30-19:00" {
		t.Fatalf("unexpected Tuesday windows %v", windows)
	}

	ana := schedules["staff-ana"]
	if w := ana.DayWindows(calendar.Date{Year: 2026, Month: time.December, Day: 24}); len(w) != 1 || w[0].String() != "09:00-12:00" {
		t.Fatalf("unexpected Christmas Eve windows %v", w)
	}
	if w := ana.DayWindows(calendar.Date{Year: 2026, Month: time.December, Day: 25}); len(w) != 0 {
		t.Fatalf("expected closed day, got %v", w)
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	s, err := Decode(strings.NewReader(`{"work_hours":[{"staff_id":"s","weekday":1,"start":"9am","end":"17:00"}]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, err := s.Schedules(); err == nil {
		t.Fatal("expected error for malformed time")
	}
	if _, err := Decode(strings.NewReader(`{"staf":[]}`)); err == nil {
		t.Fatal("expected error for unknown field")
	}
	if _, err := Decode(strings.NewReader(`{"exceptions":[{"staff_id":"s","date":"2026-13-01","closed":true}]}`)); err == nil {
		t.Fatal("expected error for invalid date")
	}
}
