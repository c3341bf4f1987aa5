package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/booking"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/seed"
)

var tuesday = calendar.Date{Year: 2026, Month: time.December, Day: 22}

func TestFromSeed(t *testing.T) {
	sd, err := seed.ReadFile("../../seed/testdata/seed.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	s, err := FromSeed(sd)
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	ctx := context.Background()

	staff, _ := s.ListStaff(ctx)
	if len(staff) != 3 || staff[0].Name != "Ana" {
		t.Fatalf("unexpected staff %+v", staff)
	}
	svc, err := s.Service(ctx, "svc-cut")
	if err != nil || svc.DurationMinutes != 30 {
		t.Fatalf("unexpected service %+v err=%v", svc, err)
	}
	if _, err := s.Service(ctx, "nope"); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	sched, _ := s.Schedule(ctx, "staff-rui")
	if windows := sched.DayWindows(tuesday); len(windows) != 2 {
		t.Fatalf("unexpected windows %v", windows)
	}
}

func TestInStaffDayRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.InStaffDay(ctx, "s-1", tuesday, func(ctx context.Context, tx booking.DayTx) error {
		a := &model.Appointment{StaffID: "s-1", Date: tuesday, StartMinute: 600, DurationMinutes: 30, Status: model.StatusPending}
		if err := tx.Insert(ctx, a); err != nil {
			return err
		}
		in, _ := tx.Appointments(ctx, "s-1", tuesday)
		if len(in) != 1 {
			t.Fatalf("insert not visible inside the unit: %v", in)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got, _ := s.Appointments(ctx, "s-1", tuesday); len(got) != 0 {
		t.Fatalf("expected nothing committed, got %v", got)
	}
}

func TestCommitRejectsOverlapAndDuplicateKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutAppointment(model.Appointment{ID: "a", StaffID: "s-1", Date: tuesday, StartMinute: 600, DurationMinutes: 30, Status: model.StatusConfirmed, IdempotencyKey: "k1"})

	insert := func(a model.Appointment) error {
		return s.InStaffDay(ctx, "s-1", tuesday, func(ctx context.Context, tx booking.DayTx) error {
			return tx.Insert(ctx, &a)
		})
	}
	if err := insert(model.Appointment{StaffID: "s-1", Date: tuesday, StartMinute: 615, DurationMinutes: 30, Status: model.StatusPending}); !errors.Is(err, booking.ErrWriteConflict) {
		t.Fatalf("expected write conflict for overlap, got %v", err)
	}
	if err := insert(model.Appointment{StaffID: "s-1", Date: tuesday, StartMinute: 700, DurationMinutes: 30, Status: model.StatusPending, IdempotencyKey: "k1"}); !errors.Is(err, booking.ErrWriteConflict) {
		t.Fatalf("expected write conflict for duplicate key, got %v", err)
	}
	if err := insert(model.Appointment{StaffID: "s-1", Date: tuesday, StartMinute: 630, DurationMinutes: 30, Status: model.StatusPending}); err != nil {
		t.Fatalf("adjacent insert failed: %v", err)
	}
}

func TestUpdateAppointment(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutAppointment(model.Appointment{ID: "a", StaffID: "s-1", Date: tuesday, Status: model.StatusPending})

	got, err := s.UpdateAppointment(ctx, "a", func(cur model.Appointment) (model.Appointment, error) {
		cur.Status = model.StatusConfirmed
		cur.ID = "ignored"
		return cur, nil
	})
	if err != nil || got.ID != "a" || got.Status != model.StatusConfirmed {
		t.Fatalf("unexpected update result %+v err=%v", got, err)
	}
	if _, err := s.UpdateAppointment(ctx, "missing", nil); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDayLocksAreBounded(t *testing.T) {
	s := New()
	if s.dayLock("s-1", tuesday) != s.dayLock("s-1", tuesday) {
		t.Fatal("same staff day must map to the same lock")
	}

	ctx := context.Background()
	day := tuesday
	for i := 0; i < 5*dayLockStripes; i++ {
		if err := s.InStaffDay(ctx, "s-1", day, func(context.Context, booking.DayTx) error { return nil }); err != nil {
			t.Fatalf("InStaffDay %s: %v", day, err)
		}
		if idx := dayLockIndex("s-1", day); idx >= dayLockStripes {
			t.Fatalf("index %d out of range", idx)
		}
		day = day.AddDays(1)
	}
}
