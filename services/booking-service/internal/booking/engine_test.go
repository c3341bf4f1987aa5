package booking_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/booking"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/schedule"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/storage/memstore"
)

var (
	// Sunday morning; the shop works on Monday 2026-03-02.
	now    = time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)
	monday = calendar.Date{Year: 2026, Month: time.March, Day: 2}
)

func clock(s string) int {
	m, err := calendar.ParseClock(s)
	if err != nil {
		panic(err)
	}
	return m
}

func newFixture(t *testing.T) (*booking.Engine, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.PutStaff(model.Staff{ID: "s-1", Name: "Ana", Active: true})
	store.PutStaff(model.Staff{ID: "s-off", Name: "Joel", Active: false})
	store.PutService(model.Service{ID: "cut", Name: "Haircut", DurationMinutes: 30, Active: true})
	store.PutService(model.Service{ID: "combo", Name: "Cut and beard", DurationMinutes: 60, Active: true})
	store.PutService(model.Service{ID: "perm", Name: "Perm", DurationMinutes: 120, Active: false})
	store.PutSchedule(schedule.Model{
		StaffID: "s-1",
		WorkHours: []schedule.WorkHourRule{
			{StaffID: "s-1", Weekday: time.Monday, Start: clock("09:00"), End: clock("17:00")},
			{StaffID: "s-1", Weekday: time.Sunday, Start: clock("07:00"), End: clock("12:00")},
		},
		Breaks: []schedule.BreakRule{{StaffID: "s-1", Weekday: time.Monday, Start: clock("12:00"), End: clock("13:00")}},
	})

	engine := booking.NewEngine(store, booking.Config{
		StepMinutes:    15,
		MaxBookingDays: 90,
		Location:       time.UTC,
		Now:            func() time.Time { return now },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return engine, store
}

func request(start string, channel model.Channel) booking.Request {
	return booking.Request{
		StaffID:     "s-1",
		ServiceID:   "cut",
		Date:        monday,
		StartMinute: clock(start),
		Customer:    model.Customer{Name: "Carla", Phone: "+351912345678"},
		Channel:     channel,
	}
}

func TestTryBook_ConcurrentSameSlotHasOneWinner(t *testing.T) {
	engine, store := newFixture(t)
	const n = 32

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     []string
		losers  int
		unknown []error
	)
	startGate := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-startGate
			req := request("10:00", model.ChannelPublic)
			req.Customer.Name = fmt.Sprintf("customer-%d", i)
			id, err := engine.TryBook(context.Background(), req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ids = append(ids, id)
			case booking.IsSlotTaken(err):
				losers++
			default:
				unknown = append(unknown, err)
			}
		}(i)
	}
	close(startGate)
	wg.Wait()

	if len(unknown) > 0 {
		t.Fatalf("unexpected errors: %v", unknown)
	}
	if len(ids) != 1 || losers != n-1 {
		t.Fatalf("expected exactly one winner, got %d winners and %d losers", len(ids), losers)
	}
	appts, _ := store.Appointments(context.Background(), "s-1", monday)
	if len(appts) != 1 || appts[0].ID != ids[0] {
		t.Fatalf("expected one stored appointment, got %+v", appts)
	}
}

func TestTryBook_ConcurrentMixedRequestsNeverOverlap(t *testing.T) {
	engine, store := newFixture(t)
	services := []string{"cut", "combo"}
	rng := rand.New(rand.NewSource(7))

	var reqs []booking.Request
	for i := 0; i < 64; i++ {
		req := request("09:00", model.ChannelBot)
		req.StartMinute = clock("09:00") + 15*rng.Intn(32)
		req.ServiceID = services[rng.Intn(len(services))]
		reqs = append(reqs, req)
	}

	var wg sync.WaitGroup
	for _, req := range reqs {
		wg.Add(1)
		go func(req booking.Request) {
			defer wg.Done()
			_, err := engine.TryBook(context.Background(), req)
			if err != nil {
				if _, typed := booking.KindOf(err); !typed {
					t.Errorf("unexpected infrastructure error: %v", err)
				}
			}
		}(req)
	}
	wg.Wait()

	sched, _ := store.Schedule(context.Background(), "s-1")
	windows := sched.DayWindows(monday)
	appts, _ := store.Appointments(context.Background(), "s-1", monday)
	if len(appts) == 0 {
		t.Fatal("expected some bookings to succeed")
	}
	for i, a := range appts {
		contained := false
		for _, w := range windows {
			if w.Contains(a.Interval()) {
				contained = true
			}
		}
		if !contained {
			t.Fatalf("appointment %s at %s is outside the day windows %v", a.ID, a.Interval(), windows)
		}
		for _, b := range appts[i+1:] {
			if calendar.Overlaps(a.StartMinute, a.DurationMinutes, b.StartMinute, b.DurationMinutes) {
				t.Fatalf("double booking: %s and %s", a.Interval(), b.Interval())
			}
		}
	}
}

func TestTryBook_AdjacentBookingsBothSucceed(t *testing.T) {
	engine, _ := newFixture(t)
	if _, err := engine.TryBook(context.Background(), request("10:00", model.ChannelPublic)); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := engine.TryBook(context.Background(), request("10:30", model.ChannelPublic)); err != nil {
		t.Fatalf("adjacent booking: %v", err)
	}
	if _, err := engine.TryBook(context.Background(), request("10:15", model.ChannelPublic)); !errors.Is(err, booking.ErrSlotUnavailable) {
		t.Fatalf("expected slot unavailable for overlap, got %v", err)
	}
}

func TestTryBook_ErrorKinds(t *testing.T) {
	engine, store := newFixture(t)
	store.PutSchedule(schedule.Model{
		StaffID: "s-1",
		WorkHours: []schedule.WorkHourRule{
			{StaffID: "s-1", Weekday: time.Monday, Start: clock("09:00"), End: clock("17:00")},
			{StaffID: "s-1", Weekday: time.Sunday, Start: clock("07:00"), End: clock("12:00")},
		},
		Breaks:     []schedule.BreakRule{{StaffID: "s-1", Weekday: time.Monday, Start: clock("12:00"), End: clock("13:00")}},
		Exceptions: []schedule.Exception{{StaffID: "s-1", Date: monday.AddDays(7), Closed: true}},
	})

	cases := []struct {
		name   string
		mutate func(*booking.Request)
		want   error
	}{
		{"runs past window end", func(r *booking.Request) { r.StartMinute = clock("16:45") }, booking.ErrSlotUnavailable},
		{"inside break", func(r *booking.Request) { r.StartMinute = clock("11:45") }, booking.ErrSlotUnavailable},
		{"before opening", func(r *booking.Request) { r.StartMinute = clock("08:45") }, booking.ErrSlotUnavailable},
		{"closed exception", func(r *booking.Request) { r.Date = monday.AddDays(7) }, booking.ErrSlotUnavailable},
		{"no work hours on weekday", func(r *booking.Request) { r.Date = monday.AddDays(1) }, booking.ErrStaffNotBookable},
		{"inactive staff", func(r *booking.Request) { r.StaffID = "s-off" }, booking.ErrStaffNotBookable},
		{"unknown staff", func(r *booking.Request) { r.StaffID = "ghost" }, booking.ErrStaffNotBookable},
		{"unknown service", func(r *booking.Request) { r.ServiceID = "ghost" }, booking.ErrInvalidService},
		{"inactive service", func(r *booking.Request) { r.ServiceID = "perm" }, booking.ErrInvalidService},
		{"past date", func(r *booking.Request) { r.Date = monday.AddDays(-7) }, booking.ErrPastOrOutOfRange},
		{"earlier today", func(r *booking.Request) { r.Date = monday.AddDays(-1); r.StartMinute = clock("07:30") }, booking.ErrPastOrOutOfRange},
		{"beyond horizon", func(r *booking.Request) { r.Date = monday.AddDays(91) }, booking.ErrPastOrOutOfRange},
	}
	for _, tc := range cases {
		req := request("10:00", model.ChannelPublic)
		tc.mutate(&req)
		_, err := engine.TryBook(context.Background(), req)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	// Later the same day is still bookable.
	req := request("09:00", model.ChannelStaff)
	req.Date = monday.AddDays(-1)
	if _, err := engine.TryBook(context.Background(), req); err != nil {
		t.Fatalf("booking later today: %v", err)
	}
}

func TestTryBook_StatusFollowsChannel(t *testing.T) {
	engine, store := newFixture(t)
	publicID, err := engine.TryBook(context.Background(), request("09:00", model.ChannelPublic))
	if err != nil {
		t.Fatal(err)
	}
	staffID, err := engine.TryBook(context.Background(), request("09:30", model.ChannelStaff))
	if err != nil {
		t.Fatal(err)
	}
	botID, err := engine.TryBook(context.Background(), request("10:00", model.ChannelBot))
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]model.Status{publicID: model.StatusPending, staffID: model.StatusConfirmed, botID: model.StatusPending}
	for id, status := range want {
		a, err := store.Appointment(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if a.Status != status || a.DurationMinutes != 30 {
			t.Fatalf("appointment %s: status %s duration %d", id, a.Status, a.DurationMinutes)
		}
	}
}

func TestTryBook_IdempotencyKeyReplays(t *testing.T) {
	engine, store := newFixture(t)
	req := request("14:00", model.ChannelPublic)
	req.IdempotencyKey = "form-123"

	first, err := engine.TryBook(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.TryBook(context.Background(), req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected the original id %s, got %s", first, second)
	}
	appts, _ := store.Appointments(context.Background(), "s-1", monday)
	if len(appts) != 1 {
		t.Fatalf("expected one appointment, got %d", len(appts))
	}
}

func TestTryBook_ReplayAfterStartPassedOrStaffDeactivated(t *testing.T) {
	_, store := newFixture(t)
	var (
		mu      sync.Mutex
		current = time.Date(2026, time.March, 2, 9, 59, 30, 0, time.UTC)
	)
	engine := booking.NewEngine(store, booking.Config{
		StepMinutes:    15,
		MaxBookingDays: 90,
		Location:       time.UTC,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return current
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := request("10:00", model.ChannelBot)
	req.IdempotencyKey = "bot:session-1"
	first, err := engine.TryBook(context.Background(), req)
	if err != nil {
		t.Fatalf("first attempt: %v", err)
	}

	mu.Lock()
	current = time.Date(2026, time.March, 2, 10, 0, 10, 0, time.UTC)
	mu.Unlock()
	again, err := engine.TryBook(context.Background(), req)
	if err != nil || again != first {
		t.Fatalf("replay after start passed: id=%q err=%v, want %q", again, err, first)
	}

	store.PutStaff(model.Staff{ID: "s-1", Name: "Ana", Active: false})
	again, err = engine.TryBook(context.Background(), req)
	if err != nil || again != first {
		t.Fatalf("replay after staff deactivated: id=%q err=%v, want %q", again, err, first)
	}

	// A fresh key still goes through every check.
	req.IdempotencyKey = "bot:session-2"
	if _, err := engine.TryBook(context.Background(), req); err == nil {
		t.Fatal("expected a new request to be rejected")
	}

	appts, _ := store.Appointments(context.Background(), "s-1", monday)
	if len(appts) != 1 {
		t.Fatalf("expected one appointment, got %d", len(appts))
	}
}

func TestComputeSlots_ReflectsBookingsAndIsStable(t *testing.T) {
	engine, _ := newFixture(t)
	ctx := context.Background()

	before, err := engine.ComputeSlotsForService(ctx, "s-1", "combo", monday)
	if err != nil {
		t.Fatal(err)
	}
	again, _ := engine.ComputeSlotsForService(ctx, "s-1", "combo", monday)
	if fmt.Sprint(before) != fmt.Sprint(again) {
		t.Fatal("repeated reads differ")
	}
	if before[0].StartMinute != clock("09:00") || before[len(before)-1].StartMinute != clock("16:00") {
		t.Fatalf("unexpected slot range %v", before)
	}

	id, err := engine.TryBook(ctx, request("10:00", model.ChannelPublic))
	if err != nil {
		t.Fatal(err)
	}
	after, _ := engine.ComputeSlots(ctx, "s-1", monday, 30)
	for _, s := range after {
		if s.StartMinute == clock("10:00") {
			t.Fatal("booked slot still offered")
		}
	}

	if _, err := engine.UpdateStatus(ctx, id, model.StatusCancelled, "customer called"); err != nil {
		t.Fatal(err)
	}
	freed, _ := engine.ComputeSlots(ctx, "s-1", monday, 30)
	found := false
	for _, s := range freed {
		if s.StartMinute == clock("10:00") {
			found = true
		}
	}
	if !found {
		t.Fatal("cancelled slot was not released")
	}

	if _, err := engine.ComputeSlots(ctx, "s-off", monday, 30); !errors.Is(err, booking.ErrStaffNotBookable) {
		t.Fatalf("expected staff not bookable, got %v", err)
	}
	if _, err := engine.ComputeSlotsForService(ctx, "s-1", "perm", monday); !errors.Is(err, booking.ErrInvalidService) {
		t.Fatalf("expected invalid service, got %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	engine, _ := newFixture(t)
	ctx := context.Background()
	id, err := engine.TryBook(ctx, request("09:00", model.ChannelPublic))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := engine.UpdateStatus(ctx, id, model.StatusCompleted, ""); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("pending -> completed must be rejected, got %v", err)
	}
	if a, err := engine.UpdateStatus(ctx, id, model.StatusConfirmed, ""); err != nil || a.Status != model.StatusConfirmed {
		t.Fatalf("confirm: %+v %v", a, err)
	}
	a, err := engine.UpdateStatus(ctx, id, model.StatusCancelled, "  no show ")
	if err != nil || a.CancelledAt == nil || a.CancelReason != "no show" {
		t.Fatalf("cancel: %+v %v", a, err)
	}
	if _, err := engine.UpdateStatus(ctx, id, model.StatusConfirmed, ""); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("cancelled is terminal, got %v", err)
	}
	if _, err := engine.UpdateStatus(ctx, "missing", model.StatusConfirmed, ""); !errors.Is(err, booking.ErrAppointmentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	list, err := engine.ListAppointments(ctx, "s-1", monday)
	if err != nil || len(list) != 1 || list[0].Status != model.StatusCancelled {
		t.Fatalf("cancelled appointments stay listed: %+v %v", list, err)
	}
}

type racingStore struct {
	*memstore.Store
	err error
}

func (s racingStore) InStaffDay(ctx context.Context, staffID string, date calendar.Date, fn func(context.Context, booking.DayTx) error) error {
	if err := s.Store.InStaffDay(ctx, staffID, date, fn); err != nil {
		return err
	}
	return s.err
}

func TestTryBook_StoreErrorsAreClassified(t *testing.T) {
	_, store := newFixture(t)
	cfg := booking.Config{Location: time.UTC, Now: func() time.Time { return now }}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	lost := booking.NewEngine(racingStore{Store: store, err: fmt.Errorf("commit: %w", booking.ErrWriteConflict)}, cfg, logger)
	_, err := lost.TryBook(context.Background(), request("09:00", model.ChannelPublic))
	if !errors.Is(err, booking.ErrPersistenceConflict) || !booking.IsSlotTaken(err) {
		t.Fatalf("expected persistence conflict, got %v", err)
	}

	down := booking.NewEngine(racingStore{Store: store, err: errors.New("connection reset")}, cfg, logger)
	_, err = down.TryBook(context.Background(), request("11:00", model.ChannelPublic))
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, typed := booking.KindOf(err); typed {
		t.Fatalf("infrastructure faults must not look like booking outcomes: %v", err)
	}
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *countingObserver) BookingAttempt(_ model.Channel, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func (o *countingObserver) SlotsComputed(int) {}

func TestObserverSeesOutcomes(t *testing.T) {
	_, store := newFixture(t)
	obs := &countingObserver{outcomes: map[string]int{}}
	engine := booking.NewEngine(store, booking.Config{Location: time.UTC, Now: func() time.Time { return now }}, nil, booking.WithObserver(obs))

	req := request("09:00", model.ChannelPublic)
	req.IdempotencyKey = "k"
	_, _ = engine.TryBook(context.Background(), req)
	_, _ = engine.TryBook(context.Background(), req)
	_, _ = engine.TryBook(context.Background(), request("09:15", model.ChannelPublic))

	if obs.outcomes[booking.OutcomeBooked] != 1 || obs.outcomes[booking.OutcomeReplayed] != 1 || obs.outcomes[string(booking.KindSlotUnavailable)] != 1 {
		t.Fatalf("unexpected outcomes %v", obs.outcomes)
	}
}
