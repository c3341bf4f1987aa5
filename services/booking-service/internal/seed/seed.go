// Package seed reads the JSON document used to provision staff, services and
// schedules in development and tests.
package seed

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/schedule"
)

// Seed is the provisioning document. Times of day are "HH:MM" and weekdays
// count from Sunday = 0.
type Seed struct {
	Staff      []model.Staff   `json:"staff"`
	Services   []model.Service `json:"services"`
	WorkHours  []Rule          `json:"work_hours"`
	Breaks     []Rule          `json:"breaks"`
	Exceptions []Exception     `json:"exceptions"`
}

type Rule struct {
	StaffID string `json:"staff_id"`
	Weekday int    `json:"weekday"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

type Exception struct {
	StaffID string        `json:"staff_id"`
	Date    calendar.Date `json:"date"`
	Closed  bool          `json:"closed"`
	Start   string        `json:"start,omitempty"`
	End     string        `json:"end,omitempty"`
}

func ReadFile(path string) (Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return Seed{}, err
	}
	defer f.Close()
	s, err := Decode(f)
	if err != nil {
		return Seed{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func Decode(r io.Reader) (Seed, error) {
	var s Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	return s, nil
}

// Schedules groups the rules by staff member.
func (s Seed) Schedules() (map[string]schedule.Model, error) {
	models := map[string]*schedule.Model{}
	modelFor := func(staffID string) *schedule.Model {
		m, ok := models[staffID]
		if !ok {
			m = &schedule.Model{StaffID: staffID}
			models[staffID] = m
		}
		return m
	}

	for i, r := range s.WorkHours {
		start, end, err := clockPair(r.Start, r.End)
		if err != nil {
			return nil, fmt.Errorf("work_hours[%d]: %w", i, err)
		}
		m := modelFor(r.StaffID)
		m.WorkHours = append(m.WorkHours, schedule.WorkHourRule{StaffID: r.StaffID, Weekday: time.Weekday(r.Weekday), Start: start, End: end})
	}
	for i, r := range s.Breaks {
		start, end, err := clockPair(r.Start, r.End)
		if err != nil {
			return nil, fmt.Errorf("breaks[%d]: %w", i, err)
		}
		m := modelFor(r.StaffID)
		m.Breaks = append(m.Breaks, schedule.BreakRule{StaffID: r.StaffID, Weekday: time.Weekday(r.Weekday), Start: start, End: end})
	}
	for i, e := range s.Exceptions {
		ex := schedule.Exception{StaffID: e.StaffID, Date: e.Date, Closed: e.Closed}
		if !e.Closed {
			start, end, err := clockPair(e.Start, e.End)
			if err != nil {
				return nil, fmt.Errorf("exceptions[%d]: %w", i, err)
			}
			ex.Start, ex.End = &start, &end
		}
		m := modelFor(e.StaffID)
		m.Exceptions = append(m.Exceptions, ex)
	}

	out := make(map[string]schedule.Model, len(models))
	for id, m := range models {
		out[id] = *m
	}
	return out, nil
}

func clockPair(start, end string) (int, int, error) {
	s, err := calendar.ParseClock(start)
	if err != nil {
		return 0, 0, err
	}
	e, err := calendar.ParseClock(end)
	if err != nil {
		return 0, 0, err
	}
	return s, e, nil
}
