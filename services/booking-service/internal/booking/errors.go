package booking

import "errors"

// Kind classifies an expected booking failure.
type Kind string

const (
	KindSlotUnavailable     Kind = "slot_unavailable"
	KindStaffNotBookable    Kind = "staff_not_bookable"
	KindInvalidService      Kind = "invalid_service"
	KindPastOrOutOfRange    Kind = "past_or_out_of_range_date"
	KindPersistenceConflict Kind = "persistence_conflict"
)

// Error is an expected, typed outcome of a booking attempt. Any other error
// from TryBook is an infrastructure fault and the booking status is unknown.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrSlotUnavailable) works
// regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrSlotUnavailable     = &Error{Kind: KindSlotUnavailable}
	ErrStaffNotBookable    = &Error{Kind: KindStaffNotBookable}
	ErrInvalidService      = &Error{Kind: KindInvalidService}
	ErrPastOrOutOfRange    = &Error{Kind: KindPastOrOutOfRange}
	ErrPersistenceConflict = &Error{Kind: KindPersistenceConflict}
)

// Store-level errors.
var (
	// ErrNotFound is returned by stores for unknown ids.
	ErrNotFound = errors.New("not found")
	// ErrWriteConflict is wrapped by stores when an atomic write lost a race.
	ErrWriteConflict = errors.New("write conflict")
)

// Status update errors.
var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// KindOf returns the kind of a typed booking error.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

// IsSlotTaken reports the two kinds that mean "someone else has this time";
// callers should refresh the slot list and let the customer pick again.
func IsSlotTaken(err error) bool {
	return errors.Is(err, ErrSlotUnavailable) || errors.Is(err, ErrPersistenceConflict)
}
