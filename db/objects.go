package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	sqlObjectColumns = `id, iri, kind, author_iri, audience_iri, content, source, summary, visibility,
		in_reply_to, sensitive, attachments, overlays, like_count, reply_count, announce_count, local,
		published_at, updated_at, expires_at`
	sqlInsertObject = `INSERT OR IGNORE INTO objects(id, iri, kind, author_iri, audience_iri, content, source,
		summary, visibility, in_reply_to, sensitive, attachments, overlays, local, published_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectObjectByIRI = `SELECT ` + sqlObjectColumns + ` FROM objects WHERE iri = ?`
	sqlSelectObjectByID  = `SELECT ` + sqlObjectColumns + ` FROM objects WHERE id = ?`
	sqlUpdateObject      = `UPDATE objects SET content = ?, source = ?, summary = ?, sensitive = ?,
		attachments = ?, overlays = ?, updated_at = ? WHERE iri = ?`
	sqlDeleteObject             = `DELETE FROM objects WHERE iri = ?`
	sqlDeleteObjectViews        = `DELETE FROM story_views WHERE object_iri = ?`
	sqlDeleteObjectVotes        = `DELETE FROM story_votes WHERE object_iri = ?`
	sqlDeleteObjectInteractions = `DELETE FROM interactions WHERE object_iri = ?`

	sqlUpsertStoryView = `INSERT OR IGNORE INTO story_views(object_iri, actor_iri, viewed_at) VALUES (?, ?, ?)`
	sqlUpsertStoryVote = `INSERT INTO story_votes(object_iri, actor_iri, choice, voted_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(object_iri, actor_iri) DO UPDATE SET choice = excluded.choice, voted_at = excluded.voted_at`
	sqlCountStoryViews = `SELECT COUNT(*) FROM story_views WHERE object_iri = ?`
	sqlCountStoryVotes = `SELECT COUNT(*) FROM story_votes WHERE object_iri = ?`
)

// CreateObject stores a content object unless its IRI is already known.
// On first insert it bumps the parent's reply counter and the post
// counters of the author and of the community it was posted to.
func (db *DB) CreateObject(ctx context.Context, o *domain.Object) (bool, error) {
	if o.Id == uuid.Nil {
		o.Id = uuid.New()
	}
	if o.PublishedAt.IsZero() {
		o.PublishedAt = now()
	}
	if o.Kind == "" {
		o.Kind = domain.KindNote
	}
	if o.Visibility == "" {
		o.Visibility = domain.VisibilityPublic
	}
	attachments, overlays, err := encodeMedia(o)
	if err != nil {
		return false, err
	}

	var created bool
	err = db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertObject,
			o.Id.String(),
			o.IRI,
			string(o.Kind),
			o.AuthorIRI,
			o.AudienceIRI,
			o.Content,
			o.Source,
			o.Summary,
			o.Visibility,
			o.InReplyTo,
			o.Sensitive,
			attachments,
			overlays,
			o.Local,
			o.PublishedAt.UTC(),
			nullTime(o.UpdatedAt),
			nullTime(o.ExpiresAt),
		)
		if err != nil {
			return err
		}
		created, err = rowsAffected(res)
		if err != nil || !created {
			return err
		}
		if err := bumpObjectCounter(tx, o.InReplyTo, replyCount, 1); err != nil {
			return err
		}
		if err := bumpActorCounter(tx, o.AuthorIRI, postCount, 1); err != nil {
			return err
		}
		return bumpActorCounter(tx, o.AudienceIRI, postCount, 1)
	})
	return created, err
}

func (db *DB) ReadObjectByIRI(ctx context.Context, iri string) (*domain.Object, error) {
	return scanObject(db.db.QueryRowContext(ctx, sqlSelectObjectByIRI, iri))
}

func (db *DB) ReadObjectByID(ctx context.Context, id uuid.UUID) (*domain.Object, error) {
	return scanObject(db.db.QueryRowContext(ctx, sqlSelectObjectByID, id.String()))
}

// UpdateObject writes the mutable fields of o and stamps updated_at.
func (db *DB) UpdateObject(ctx context.Context, o *domain.Object) error {
	attachments, overlays, err := encodeMedia(o)
	if err != nil {
		return err
	}
	t := now()
	o.UpdatedAt = &t
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateObject,
			o.Content,
			o.Source,
			o.Summary,
			o.Sensitive,
			attachments,
			overlays,
			t,
			o.IRI,
		)
		if err != nil {
			return err
		}
		updated, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if !updated {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteObject removes an object together with its story views, votes
// and interactions, then decrements the counters that creating it had
// bumped. It returns nil when the object did not exist.
func (db *DB) DeleteObject(ctx context.Context, iri string) (*domain.Object, error) {
	var removed *domain.Object
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		removed = nil
		o, err := scanObject(tx.QueryRow(sqlSelectObjectByIRI, iri))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := deleteObjectTx(tx, o); err != nil {
			return err
		}
		removed = o
		return nil
	})
	return removed, err
}

func (db *DB) RecordStoryView(ctx context.Context, objectIRI, actorIRI string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertStoryView, objectIRI, actorIRI, now())
		return err
	})
}

func (db *DB) RecordStoryVote(ctx context.Context, objectIRI, actorIRI, choice string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertStoryVote, objectIRI, actorIRI, choice, now())
		return err
	})
}

// CountStoryEngagement returns the number of views and votes on a story.
func (db *DB) CountStoryEngagement(ctx context.Context, objectIRI string) (views int, votes int, err error) {
	if err = db.db.QueryRowContext(ctx, sqlCountStoryViews, objectIRI).Scan(&views); err != nil {
		return 0, 0, err
	}
	err = db.db.QueryRowContext(ctx, sqlCountStoryVotes, objectIRI).Scan(&votes)
	return views, votes, err
}

func deleteObjectTx(tx *sql.Tx, o *domain.Object) error {
	for _, q := range []string{sqlDeleteObjectViews, sqlDeleteObjectVotes, sqlDeleteObjectInteractions, sqlDeleteObject} {
		if _, err := tx.Exec(q, o.IRI); err != nil {
			return err
		}
	}
	if err := bumpObjectCounter(tx, o.InReplyTo, replyCount, -1); err != nil {
		return err
	}
	if err := bumpActorCounter(tx, o.AuthorIRI, postCount, -1); err != nil {
		return err
	}
	return bumpActorCounter(tx, o.AudienceIRI, postCount, -1)
}

func encodeMedia(o *domain.Object) (string, string, error) {
	attachments := o.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	overlays := o.Overlays
	if overlays == nil {
		overlays = []domain.Overlay{}
	}
	a, err := json.Marshal(attachments)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode attachments: %w", err)
	}
	ov, err := json.Marshal(overlays)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode overlays: %w", err)
	}
	return string(a), string(ov), nil
}

func scanObject(row rowScanner) (*domain.Object, error) {
	var o domain.Object
	var idStr, kind, attachments, overlays string
	var updatedAt, expiresAt sql.NullTime
	err := row.Scan(
		&idStr,
		&o.IRI,
		&kind,
		&o.AuthorIRI,
		&o.AudienceIRI,
		&o.Content,
		&o.Source,
		&o.Summary,
		&o.Visibility,
		&o.InReplyTo,
		&o.Sensitive,
		&attachments,
		&overlays,
		&o.LikeCount,
		&o.ReplyCount,
		&o.AnnounceCount,
		&o.Local,
		&o.PublishedAt,
		&updatedAt,
		&expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Id, _ = uuid.Parse(idStr)
	o.Kind = domain.ObjectKind(kind)
	o.UpdatedAt = timePtr(updatedAt)
	o.ExpiresAt = timePtr(expiresAt)
	if err := json.Unmarshal([]byte(attachments), &o.Attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	if err := json.Unmarshal([]byte(overlays), &o.Overlays); err != nil {
		return nil, fmt.Errorf("failed to decode overlays: %w", err)
	}
	return &o, nil
}
