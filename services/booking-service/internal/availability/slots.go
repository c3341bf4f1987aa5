package availability

import (
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/conflict"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/schedule"
)

// DefaultStepMinutes is the slot granularity used when none is configured.
const DefaultStepMinutes = 15

// Slot is a bookable start time. It is only valid at the moment it was computed.
type Slot struct {
	Date        calendar.Date
	StartMinute int
	EndMinute   int
}

type Input struct {
	Schedule        schedule.Model
	StaffID         string
	Date            calendar.Date
	DurationMinutes int
	StepMinutes     int
	Existing        []model.Appointment

	// Now enables past filtering; the zero value disables it.
	Now      time.Time
	LeadTime time.Duration
	Location *time.Location
}

// ComputeSlots walks every open window of the day in StepMinutes steps from the
// window start and keeps each start whose service fits inside the window and
// overlaps no blocking appointment. Starts earlier than Now+LeadTime are skipped.
// The result is sorted ascending.
func ComputeSlots(in Input) []Slot {
	if in.DurationMinutes <= 0 {
		return nil
	}
	step := in.StepMinutes
	if step <= 0 {
		step = DefaultStepMinutes
	}
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	staffID := in.StaffID
	if staffID == "" {
		staffID = in.Schedule.StaffID
	}

	var cutoff time.Time
	if !in.Now.IsZero() {
		now := in.Now.In(loc)
		if in.Date.Before(calendar.DateOf(now)) {
			return nil
		}
		cutoff = now.Add(in.LeadTime)
	}

	busy := conflict.Blocking(staffID, in.Date, in.Existing)

	var slots []Slot
	for _, w := range in.Schedule.DayWindows(in.Date) {
		for start := w.Start; start+in.DurationMinutes <= w.End; start += step {
			if !cutoff.IsZero() && in.Date.At(start, loc).Before(cutoff) {
				continue
			}
			if overlapsAny(start, in.DurationMinutes, busy) {
				continue
			}
			slots = append(slots, Slot{Date: in.Date, StartMinute: start, EndMinute: start + in.DurationMinutes})
		}
	}
	return slots
}

func overlapsAny(start, duration int, busy []model.Appointment) bool {
	for _, b := range busy {
		if calendar.Overlaps(start, duration, b.StartMinute, b.DurationMinutes) {
			return true
		}
	}
	return false
}
