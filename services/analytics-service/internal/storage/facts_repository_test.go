package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/barberdesk/barberdesk/libs/db"
	"github.com/barberdesk/barberdesk/services/analytics-service/internal/stats"
	"github.com/barberdesk/barberdesk/services/analytics-service/internal/storage"
)

func openPool(t *testing.T) *db.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := storage.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE appointment_facts, inbox_events`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func TestFactsProjection(t *testing.T) {
	pool := openPool(t)
	repo := storage.NewFactsRepository(pool)
	ctx := context.Background()

	// Cancellation lands before the booked event.
	if err := repo.RecordStatus(ctx, "a-1", "rui", stats.StatusCancelled); err != nil {
		t.Fatalf("record status: %v", err)
	}
	for _, f := range []stats.Fact{
		{AppointmentID: "a-1", StaffID: "rui", Day: "2026-03-02", Channel: "public", Status: stats.StatusConfirmed},
		{AppointmentID: "a-2", StaffID: "rui", Day: "2026-03-02", Channel: "bot", Status: stats.StatusPending},
		{AppointmentID: "a-3", StaffID: "ana", Day: "2026-03-03", Channel: "staff", Status: stats.StatusConfirmed},
	} {
		if err := repo.RecordBooked(ctx, f); err != nil {
			t.Fatalf("record booked %s: %v", f.AppointmentID, err)
		}
	}
	if err := repo.RecordStatus(ctx, "a-2", "rui", stats.StatusConfirmed); err != nil {
		t.Fatalf("record status: %v", err)
	}
	// Replayed older status does not move a-2 backwards.
	if err := repo.RecordStatus(ctx, "a-2", "rui", stats.StatusPending); err != nil {
		t.Fatalf("record status: %v", err)
	}

	from, to, err := stats.ParseRange("2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	rows, err := repo.Daily(ctx, from, to, "rui")
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row for rui, got %+v", rows)
	}
	got := rows[0]
	if got.Day != "2026-03-02" || got.Booked != 2 || got.Cancelled != 1 || got.Confirmed != 1 || got.Pending != 0 {
		t.Fatalf("unexpected row: %+v", got)
	}
	all, err := repo.Daily(ctx, from, to, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected two rows across staff, got %+v err=%v", all, err)
	}
}
