// Package database provides support for accessing the postgres database
// that holds accounts and transfer records.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq" // Calls init function.
	"go.uber.org/zap"
)

// Config is the required properties to use the database.
type Config struct {
	User         string
	Password     string
	Host         string
	Name         string
	MaxIdleConns int
	MaxOpenConns int
	DisableTLS   bool
}

// Open knows how to open a database connection based on the configuration.
func Open(cfg Config) (*sql.DB, error) {
	sslMode := "require"
	if cfg.DisableTLS {
		sslMode = "disable"
	}

	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host,
		Path:     cfg.Name,
		RawQuery: q.Encode(),
	}

	db, err := sql.Open("postgres", u.String())
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	return db, nil
}

// StatusCheck returns nil if it can successfully talk to the database. It
// returns a non-nil error otherwise.
func StatusCheck(ctx context.Context, db *sql.DB) error {

	// First check we can ping the database.
	var pingError error
	for attempts := 1; ; attempts++ {
		pingError = db.PingContext(ctx)
		if pingError == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	// Make sure we didn't time out or get cancelled.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Run a simple query to determine connectivity. Running this query forces
	// a round trip through the database.
	const q = `SELECT true`
	var tmp bool
	return db.QueryRowContext(ctx, q).Scan(&tmp)
}

// WithinTran runs the provided function within a database transaction,
// committing on success and rolling back on any error.
func WithinTran(ctx context.Context, log *zap.SugaredLogger, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tr, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tran: %w", err)
	}

	// A deferred rollback is a no-op once the commit has happened.
	mustRollback := true
	defer func() {
		if mustRollback {
			if err := tr.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Errorw("unable to rollback tran", "ERROR", err)
			}
		}
	}()

	if err := fn(tr); err != nil {
		return fmt.Errorf("exec tran: %w", err)
	}

	mustRollback = false
	if err := tr.Commit(); err != nil {
		return fmt.Errorf("commit tran: %w", err)
	}

	return nil
}
