package storage

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/barberdesk/barberdesk/libs/db"
)

//go:embed schema.sql
var schemaSQL string

func Migrate(ctx context.Context, pool *db.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply notification schema: %w", err)
	}
	return nil
}
