package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/barberdesk/barberdesk/libs/config"
	"github.com/barberdesk/barberdesk/libs/db"
	"github.com/barberdesk/barberdesk/libs/runtime"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/booking"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/seed"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/storage"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/storage/memstore"
)

type openedStore struct {
	store booking.Store
	ready []runtime.ReadyCheck
	close func()
}

// openStore selects the backend from BOOKING_STORE ("postgres" or "memory").
// The default is postgres when DATABASE_URL is set. BOOKING_SEED_FILE, when
// set, provisions staff, services and schedules at start-up.
func openStore(ctx context.Context, logger *slog.Logger) (openedStore, error) {
	dbURL := config.String("DATABASE_URL", "")
	kind := config.String("BOOKING_STORE", "")
	if kind == "" {
		kind = "memory"
		if dbURL != "" {
			kind = "postgres"
		}
	}

	var sd *seed.Seed
	if path := config.String("BOOKING_SEED_FILE", ""); path != "" {
		s, err := seed.ReadFile(path)
		if err != nil {
			return openedStore{}, err
		}
		sd = &s
	}

	switch kind {
	case "memory":
		store := memstore.New()
		if sd != nil {
			seeded, err := memstore.FromSeed(*sd)
			if err != nil {
				return openedStore{}, err
			}
			store = seeded
		}
		logger.Warn("using in-memory booking store; bookings are lost on restart")
		return openedStore{store: store, close: func() {}}, nil

	case "postgres":
		if dbURL == "" {
			return openedStore{}, fmt.Errorf("BOOKING_STORE=postgres requires DATABASE_URL")
		}
		pool, err := db.Open(ctx, dbURL, db.PoolConfig{
			MaxConns: int32(config.Int("DB_MAX_CONNS", 10, 1)),
		})
		if err != nil {
			return openedStore{}, fmt.Errorf("db connection failed: %w", err)
		}
		if config.Bool("DB_MIGRATE", true) {
			if err := storage.Migrate(ctx, pool); err != nil {
				pool.Close()
				return openedStore{}, err
			}
		}
		repo := storage.NewBookingRepository(pool)
		if sd != nil {
			if err := repo.ApplySeed(ctx, *sd); err != nil {
				pool.Close()
				return openedStore{}, fmt.Errorf("apply seed: %w", err)
			}
		}
		return openedStore{
			store: repo,
			ready: []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}},
			close: pool.Close,
		}, nil
	}
	return openedStore{}, fmt.Errorf("unknown BOOKING_STORE %q", kind)
}
