package conflict

import (
	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
)

// Blocking keeps the appointments of staffID on date that still hold their slot.
func Blocking(staffID string, date calendar.Date, existing []model.Appointment) []model.Appointment {
	var out []model.Appointment
	for _, a := range existing {
		if a.StaffID == staffID && a.Date.Equal(date) && a.Status.Blocking() {
			out = append(out, a)
		}
	}
	return out
}

// HasConflict reports whether [start, start+duration) overlaps a blocking appointment.
func HasConflict(staffID string, date calendar.Date, start, duration int, existing []model.Appointment) bool {
	_, found := FirstConflict(staffID, date, start, duration, existing)
	return found
}

// FirstConflict returns the first blocking appointment the candidate overlaps.
func FirstConflict(staffID string, date calendar.Date, start, duration int, existing []model.Appointment) (model.Appointment, bool) {
	for _, a := range existing {
		if a.StaffID != staffID || !a.Date.Equal(date) || !a.Status.Blocking() {
			continue
		}
		if calendar.Overlaps(start, duration, a.StartMinute, a.DurationMinutes) {
			return a, true
		}
	}
	return model.Appointment{}, false
}
