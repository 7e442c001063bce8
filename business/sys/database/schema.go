package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

var (
	//go:embed sql/schema.sql
	schemaDoc string

	//go:embed sql/seed.sql
	seedDoc string
)

// Migrate attempts to bring the schema for the database up to date.
func Migrate(ctx context.Context, db *sql.DB) error {
	if err := StatusCheck(ctx, db); err != nil {
		return fmt.Errorf("status check database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaDoc); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	return nil
}

// Seed inserts the demo accounts needed to exercise the service. Running
// seed more than once is safe.
func Seed(ctx context.Context, db *sql.DB) error {
	if err := StatusCheck(ctx, db); err != nil {
		return fmt.Errorf("status check database: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, seedDoc); err != nil {
		if err := tx.Rollback(); err != nil {
			return err
		}
		return fmt.Errorf("seed database: %w", err)
	}

	return tx.Commit()
}
