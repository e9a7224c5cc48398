package db

import (
	"context"
	"database/sql"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertNotification = `INSERT INTO notifications(id, recipient_iri, kind, actor_iri, object_iri, activity_uri, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`
	sqlSelectNotifications = `SELECT id, recipient_iri, kind, actor_iri, object_iri, activity_uri, read, created_at
		FROM notifications WHERE recipient_iri = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`
	sqlMarkNotificationsRead = `UPDATE notifications SET read = 1 WHERE recipient_iri = ?`
	sqlCountUnread           = `SELECT COUNT(*) FROM notifications WHERE recipient_iri = ? AND read = 0`
)

func (db *DB) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if n.Id == uuid.Nil {
		n.Id = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNotification,
			n.Id.String(),
			n.RecipientIRI,
			string(n.Kind),
			n.ActorIRI,
			n.ObjectIRI,
			n.ActivityURI,
			n.CreatedAt,
		)
		return err
	})
}

// ReadNotifications returns the newest notifications for a local actor.
func (db *DB) ReadNotifications(ctx context.Context, recipientIRI string, limit int) ([]domain.Notification, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectNotifications, recipientIRI, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var idStr, kind string
		if err := rows.Scan(&idStr, &n.RecipientIRI, &kind, &n.ActorIRI, &n.ObjectIRI, &n.ActivityURI, &n.Read, &n.CreatedAt); err != nil {
			return notes, err
		}
		n.Id, _ = uuid.Parse(idStr)
		n.Kind = domain.NotificationKind(kind)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (db *DB) CountUnreadNotifications(ctx context.Context, recipientIRI string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountUnread, recipientIRI).Scan(&n)
	return n, err
}

func (db *DB) MarkNotificationsRead(ctx context.Context, recipientIRI string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkNotificationsRead, recipientIRI)
		return err
	})
}
