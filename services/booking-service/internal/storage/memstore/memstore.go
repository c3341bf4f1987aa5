// Package memstore is an in-process booking.Store. Each (staff, date) pair is
// hashed onto one of a fixed set of mutexes, which makes InStaffDay atomic the
// way the advisory lock does in Postgres. Unrelated days may share a mutex.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/booking"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/conflict"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/schedule"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const dayLockStripes = 256

type Store struct {
	now func() time.Time

	mu           sync.RWMutex
	staff        map[string]model.Staff
	services     map[string]model.Service
	schedules    map[string]schedule.Model
	appointments map[string]model.Appointment
	byKey        map[string]string
	dayLocks     [dayLockStripes]sync.Mutex
}

var _ booking.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		now:          time.Now,
		staff:        map[string]model.Staff{},
		services:     map[string]model.Service{},
		schedules:    map[string]schedule.Model{},
		appointments: map[string]model.Appointment{},
		byKey:        map[string]string{},
	}
}

func (s *Store) PutStaff(st model.Staff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff[st.ID] = st
}

func (s *Store) PutService(svc model.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ID] = svc
}

// PutSchedule replaces the rules of m.StaffID.
func (s *Store) PutSchedule(m schedule.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[m.StaffID] = cloneSchedule(m)
}

// PutAppointment stores a as is, bypassing every check. Used for seeding.
func (s *Store) PutAppointment(a model.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.appointments[a.ID] = a
	if a.IdempotencyKey != "" {
		s.byKey[a.IdempotencyKey] = a.ID
	}
}

func (s *Store) Staff(_ context.Context, staffID string) (model.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.staff[staffID]
	if !ok {
		return model.Staff{}, fmt.Errorf("staff %s: %w", staffID, booking.ErrNotFound)
	}
	return st, nil
}

func (s *Store) Service(_ context.Context, serviceID string) (model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[serviceID]
	if !ok {
		return model.Service{}, fmt.Errorf("service %s: %w", serviceID, booking.ErrNotFound)
	}
	return svc, nil
}

func (s *Store) Schedule(_ context.Context, staffID string) (schedule.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scheduleLocked(staffID), nil
}

func (s *Store) Appointments(_ context.Context, staffID string, date calendar.Date) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dayLocked(staffID, date), nil
}

func (s *Store) Appointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, booking.ErrNotFound)
	}
	return a, nil
}

func (s *Store) ListStaff(context.Context) ([]model.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Staff, 0, len(s.staff))
	for _, st := range s.staff {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListServices(context.Context) ([]model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) AppointmentByIdempotencyKey(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	return id, ok, nil
}

func (s *Store) InStaffDay(ctx context.Context, staffID string, date calendar.Date, fn func(context.Context, booking.DayTx) error) error {
	lock := s.dayLock(staffID, date)
	lock.Lock()
	defer lock.Unlock()

	tx := &dayTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx.pending)
}

func (s *Store) UpdateAppointment(_ context.Context, id string, fn func(model.Appointment) (model.Appointment, error)) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, booking.ErrNotFound)
	}
	next, err := fn(cur)
	if err != nil {
		return model.Appointment{}, err
	}
	next.ID = cur.ID
	s.appointments[id] = next
	return next, nil
}

// commit re-checks pending inserts against committed rows. The day lock makes
// a failure here unreachable through the engine; it mirrors the database
// constraints for callers that bypass it.
func (s *Store) commit(pending []model.Appointment) error {
	if len(pending) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range pending {
		if a.IdempotencyKey != "" {
			if _, taken := s.byKey[a.IdempotencyKey]; taken {
				return fmt.Errorf("idempotency key %q: %w", a.IdempotencyKey, booking.ErrWriteConflict)
			}
		}
		if a.Status.Blocking() && conflict.HasConflict(a.StaffID, a.Date, a.StartMinute, a.DurationMinutes, s.dayLocked(a.StaffID, a.Date)) {
			return fmt.Errorf("overlapping appointment for %s on %s: %w", a.StaffID, a.Date, booking.ErrWriteConflict)
		}
	}
	for _, a := range pending {
		s.appointments[a.ID] = a
		if a.IdempotencyKey != "" {
			s.byKey[a.IdempotencyKey] = a.ID
		}
	}
	return nil
}

func (s *Store) dayLock(staffID string, date calendar.Date) *sync.Mutex {
	return &s.dayLocks[dayLockIndex(staffID, date)]
}

func dayLockIndex(staffID string, date calendar.Date) uint64 {
	return xxhash.Sum64String(staffID+"|"+date.String()) % dayLockStripes
}

func (s *Store) scheduleLocked(staffID string) schedule.Model {
	m, ok := s.schedules[staffID]
	if !ok {
		return schedule.Model{StaffID: staffID}
	}
	return cloneSchedule(m)
}

func (s *Store) dayLocked(staffID string, date calendar.Date) []model.Appointment {
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.StaffID == staffID && a.Date.Equal(date) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartMinute != out[j].StartMinute {
			return out[i].StartMinute < out[j].StartMinute
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type dayTx struct {
	store   *Store
	pending []model.Appointment
}

func (t *dayTx) Schedule(ctx context.Context, staffID string) (schedule.Model, error) {
	return t.store.Schedule(ctx, staffID)
}

func (t *dayTx) Appointments(ctx context.Context, staffID string, date calendar.Date) ([]model.Appointment, error) {
	out, err := t.store.Appointments(ctx, staffID, date)
	if err != nil {
		return nil, err
	}
	for _, a := range t.pending {
		if a.StaffID == staffID && a.Date.Equal(date) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *dayTx) FindByIdempotencyKey(_ context.Context, key string) (string, bool, error) {
	for _, a := range t.pending {
		if a.IdempotencyKey == key {
			return a.ID, true, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	id, ok := t.store.byKey[key]
	return id, ok, nil
}

func (t *dayTx) Insert(_ context.Context, a *model.Appointment) error {
	a.ID = uuid.NewString()
	a.CreatedAt = t.store.now().UTC()
	t.pending = append(t.pending, *a)
	return nil
}

func cloneSchedule(m schedule.Model) schedule.Model {
	return schedule.Model{
		StaffID:    m.StaffID,
		WorkHours:  append([]schedule.WorkHourRule(nil), m.WorkHours...),
		Breaks:     append([]schedule.BreakRule(nil), m.Breaks...),
		Exceptions: append([]schedule.Exception(nil), m.Exceptions...),
	}
}
