package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	sqlInteractionColumns = `id, kind, actor_iri, object_iri, activity_uri, created_at`
	sqlInsertInteraction  = `INSERT OR IGNORE INTO interactions(` + sqlInteractionColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectInteraction  = `SELECT ` + sqlInteractionColumns + ` FROM interactions
		WHERE kind = ? AND actor_iri = ? AND object_iri = ?`
	sqlSelectInteractionByActivityURI = `SELECT ` + sqlInteractionColumns + ` FROM interactions WHERE activity_uri = ?`
	sqlDeleteInteraction              = `DELETE FROM interactions WHERE id = ?`
	sqlCountInteractions              = `SELECT COUNT(*) FROM interactions WHERE kind = ? AND object_iri = ?`
)

func interactionCounter(kind domain.InteractionKind) objectCounter {
	if kind == domain.InteractionAnnounce {
		return announceCount
	}
	return likeCount
}

// CreateInteraction records a Like or Announce. The object's counter is
// incremented only when the edge is new, so concurrent or repeated
// deliveries for the same (kind, actor, object) converge on one row.
func (db *DB) CreateInteraction(ctx context.Context, in *domain.Interaction) (bool, error) {
	if in.Id == uuid.Nil {
		in.Id = uuid.New()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now()
	}

	var created bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertInteraction,
			in.Id.String(),
			string(in.Kind),
			in.ActorIRI,
			in.ObjectIRI,
			in.ActivityURI,
			in.CreatedAt,
		)
		if err != nil {
			return err
		}
		created, err = rowsAffected(res)
		if err != nil || !created {
			return err
		}
		return bumpObjectCounter(tx, in.ObjectIRI, interactionCounter(in.Kind), 1)
	})
	return created, err
}

func (db *DB) ReadInteractionByActivityURI(ctx context.Context, uri string) (*domain.Interaction, error) {
	if uri == "" {
		return nil, ErrNotFound
	}
	return scanInteraction(db.db.QueryRowContext(ctx, sqlSelectInteractionByActivityURI, uri))
}

// DeleteInteraction removes the edge for (kind, actor, object) and
// decrements the object's counter. It returns nil when nothing matched.
func (db *DB) DeleteInteraction(ctx context.Context, kind domain.InteractionKind, actorIRI, objectIRI string) (*domain.Interaction, error) {
	return db.deleteInteractionIf(ctx, kind, actorIRI, objectIRI, nil)
}

// UndoInteraction removes the Like or Announce created by the logged
// activity orig, leaving an edge created later by another activity alone.
func (db *DB) UndoInteraction(ctx context.Context, kind domain.InteractionKind, orig *domain.Activity) (*domain.Interaction, error) {
	return db.deleteInteractionIf(ctx, kind, orig.ActorURI, orig.ObjectURI, func(in *domain.Interaction) bool {
		return createdBy(orig, in.ActivityURI, in.CreatedAt)
	})
}

func (db *DB) deleteInteractionIf(ctx context.Context, kind domain.InteractionKind, actorIRI, objectIRI string, match func(*domain.Interaction) bool) (*domain.Interaction, error) {
	var removed *domain.Interaction
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		removed = nil
		in, err := scanInteraction(tx.QueryRow(sqlSelectInteraction, string(kind), actorIRI, objectIRI))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if match != nil && !match(in) {
			return nil
		}
		if err := deleteInteractionTx(tx, in); err != nil {
			return err
		}
		removed = in
		return nil
	})
	return removed, err
}

func (db *DB) CountInteractions(ctx context.Context, kind domain.InteractionKind, objectIRI string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountInteractions, string(kind), objectIRI).Scan(&n)
	return n, err
}

func deleteInteractionTx(tx *sql.Tx, in *domain.Interaction) error {
	res, err := tx.Exec(sqlDeleteInteraction, in.Id.String())
	if err != nil {
		return err
	}
	deleted, err := rowsAffected(res)
	if err != nil || !deleted {
		return err
	}
	return bumpObjectCounter(tx, in.ObjectIRI, interactionCounter(in.Kind), -1)
}

func scanInteraction(row rowScanner) (*domain.Interaction, error) {
	var in domain.Interaction
	var idStr, kind string
	err := row.Scan(&idStr, &kind, &in.ActorIRI, &in.ObjectIRI, &in.ActivityURI, &in.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	in.Id, _ = uuid.Parse(idStr)
	in.Kind = domain.InteractionKind(kind)
	return &in, nil
}
