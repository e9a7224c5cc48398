package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// ErrNotFound is returned by every Read* method when no row matches.
var ErrNotFound = errors.New("not found")

// DB is the shared federation store. All instances of the service point
// at the same database; nothing here keeps process-local state.
type DB struct {
	db *sql.DB
}

// transactionTimeout bounds a single transaction attempt.
const transactionTimeout = 5 * time.Second

// connection-level pragmas are set through the DSN so every pooled
// connection gets them, not only the first.
const dsnParams = "?_pragma=busy_timeout(5000)" +
	"&_pragma=journal_mode(WAL)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_pragma=foreign_keys(1)" +
	"&_txlock=immediate"

// Open opens (creating if needed) the SQLite database at path and runs
// the schema migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	db := &DB{db: sqlDB}
	if err := db.RunMigrations(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs f inside a transaction, retrying the whole
// transaction with exponential backoff while SQLite reports the database
// as busy. Any other error rolls back and is returned as is.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 10 * time.Millisecond
	exp.MaxInterval = 250 * time.Millisecond
	exp.MaxElapsedTime = transactionTimeout

	attempt := func() error {
		txCtx, cancel := context.WithTimeout(ctx, transactionTimeout)
		defer cancel()

		tx, err := db.db.BeginTx(txCtx, nil)
		if err != nil {
			return retryable(fmt.Errorf("error starting transaction: %w", err))
		}
		if err := f(tx); err != nil {
			tx.Rollback()
			return retryable(err)
		}
		if err := tx.Commit(); err != nil {
			return retryable(fmt.Errorf("error committing transaction: %w", err))
		}
		return nil
	}

	err := backoff.Retry(attempt, backoff.WithContext(exp, ctx))
	if err != nil {
		log.Debug().Err(err).Msg("Transaction failed")
	}
	return err
}

// retryable marks every error except SQLITE_BUSY/SQLITE_LOCKED permanent.
func retryable(err error) error {
	if isBusy(err) {
		return err
	}
	return backoff.Permanent(err)
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code() & 0xff
	return code == sqlitelib.SQLITE_BUSY || code == sqlitelib.SQLITE_LOCKED
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func now() time.Time {
	return time.Now().UTC()
}

// rowsAffected reports whether an insert-or-ignore actually inserted.
func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
