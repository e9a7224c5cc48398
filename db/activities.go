package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	sqlActivityColumns = `id, activity_uri, activity_type, actor_uri, object_uri, direction, public, raw_json, created_at`
	sqlInsertActivity  = `INSERT OR IGNORE INTO activities(` + sqlActivityColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActivity  = `SELECT ` + sqlActivityColumns + ` FROM activities WHERE activity_uri = ?`

	sqlOutboxFilter = `FROM activities WHERE actor_uri = ? AND direction = 'outbound' AND public = 1
		AND activity_type IN ('Create', 'Announce')`
	sqlSelectOutboxPage = `SELECT ` + sqlActivityColumns + ` ` + sqlOutboxFilter + `
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	sqlCountOutbox = `SELECT COUNT(*) ` + sqlOutboxFilter
)

// CreateActivity appends an entry to the activity log. Records are never
// updated; a second insert with the same activity URI is ignored and
// reported as false.
func (db *DB) CreateActivity(ctx context.Context, a *domain.Activity) (bool, error) {
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}
	var created bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertActivity,
			a.Id.String(),
			a.ActivityURI,
			a.ActivityType,
			a.ActorURI,
			a.ObjectURI,
			string(a.Direction),
			a.Public,
			a.RawJSON,
			a.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}
		created, err = rowsAffected(res)
		return err
	})
	return created, err
}

func (db *DB) ReadActivityByURI(ctx context.Context, uri string) (*domain.Activity, error) {
	if uri == "" {
		return nil, ErrNotFound
	}
	return scanActivity(db.db.QueryRowContext(ctx, sqlSelectActivity, uri))
}

// ReadOutboxPage lists an actor's public outbound Create and Announce
// records, newest first.
func (db *DB) ReadOutboxPage(ctx context.Context, actorIRI string, limit, offset int) ([]domain.Activity, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectOutboxPage, actorIRI, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return activities, err
		}
		activities = append(activities, *a)
	}
	return activities, rows.Err()
}

func (db *DB) CountOutbox(ctx context.Context, actorIRI string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountOutbox, actorIRI).Scan(&n)
	return n, err
}

func scanActivity(row rowScanner) (*domain.Activity, error) {
	var a domain.Activity
	var idStr, direction string
	err := row.Scan(
		&idStr,
		&a.ActivityURI,
		&a.ActivityType,
		&a.ActorURI,
		&a.ObjectURI,
		&direction,
		&a.Public,
		&a.RawJSON,
		&a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Id, _ = uuid.Parse(idStr)
	a.Direction = domain.Direction(direction)
	return &a, nil
}
