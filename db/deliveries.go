package db

import (
	"context"
	"database/sql"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertDeliveryAttempt = `INSERT INTO delivery_attempts(id, activity_uri, recipient_iri, inbox_uri, success,
		status_code, error, attempted_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectDeliveryAttempts = `SELECT id, activity_uri, recipient_iri, inbox_uri, success, status_code, error, attempted_at
		FROM delivery_attempts WHERE activity_uri = ? ORDER BY attempted_at ASC, rowid ASC`
)

// RecordDeliveryAttempt logs the outcome of one inbox POST. Attempts are
// never retried from this log.
func (db *DB) RecordDeliveryAttempt(ctx context.Context, d *domain.DeliveryAttempt) error {
	if d.Id == uuid.Nil {
		d.Id = uuid.New()
	}
	if d.AttemptedAt.IsZero() {
		d.AttemptedAt = now()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryAttempt,
			d.Id.String(),
			d.ActivityURI,
			d.RecipientIRI,
			d.InboxURI,
			d.Success,
			d.StatusCode,
			d.Error,
			d.AttemptedAt,
		)
		return err
	})
}

func (db *DB) ReadDeliveryAttempts(ctx context.Context, activityURI string) ([]domain.DeliveryAttempt, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectDeliveryAttempts, activityURI)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []domain.DeliveryAttempt
	for rows.Next() {
		var d domain.DeliveryAttempt
		var idStr string
		if err := rows.Scan(&idStr, &d.ActivityURI, &d.RecipientIRI, &d.InboxURI, &d.Success, &d.StatusCode, &d.Error, &d.AttemptedAt); err != nil {
			return attempts, err
		}
		d.Id, _ = uuid.Parse(idStr)
		attempts = append(attempts, d)
	}
	return attempts, rows.Err()
}
