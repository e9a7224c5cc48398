package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	sqlRemoteAccountColumns = `id, actor_uri, kind, username, domain, display_name, summary, inbox_uri,
		shared_inbox_uri, outbox_uri, public_key_id, public_key_pem, avatar_url, last_fetched_at`
	sqlUpsertRemoteAccount = `INSERT INTO remote_accounts(` + sqlRemoteAccountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(actor_uri) DO UPDATE SET
			kind = excluded.kind,
			username = excluded.username,
			domain = excluded.domain,
			display_name = excluded.display_name,
			summary = excluded.summary,
			inbox_uri = excluded.inbox_uri,
			shared_inbox_uri = excluded.shared_inbox_uri,
			outbox_uri = excluded.outbox_uri,
			public_key_id = excluded.public_key_id,
			public_key_pem = excluded.public_key_pem,
			avatar_url = excluded.avatar_url,
			last_fetched_at = excluded.last_fetched_at`
	sqlSelectRemoteAccountByURI = `SELECT ` + sqlRemoteAccountColumns + ` FROM remote_accounts WHERE actor_uri = ?`
	sqlDeleteRemoteAccount      = `DELETE FROM remote_accounts WHERE actor_uri = ?`

	sqlSelectFollowsOfActor      = `SELECT ` + sqlFollowColumns + ` FROM follows WHERE follower_iri = ? OR following_iri = ?`
	sqlSelectInteractionsOfActor = `SELECT ` + sqlInteractionColumns + ` FROM interactions WHERE actor_iri = ?`
	sqlSelectObjectsOfActor      = `SELECT ` + sqlObjectColumns + ` FROM objects WHERE author_iri = ?`
)

// UpsertRemoteAccount writes the cached copy of a remote actor keyed by
// its IRI. Repeating it with the same input is harmless. The stored row
// id is written back into acc.
func (db *DB) UpsertRemoteAccount(ctx context.Context, acc *domain.RemoteAccount) error {
	if acc.Id == uuid.Nil {
		acc.Id = uuid.New()
	}
	if acc.LastFetchedAt.IsZero() {
		acc.LastFetchedAt = now()
	}
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertRemoteAccount,
			acc.Id.String(),
			acc.ActorURI,
			acc.Kind,
			acc.Username,
			acc.Domain,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.SharedInboxURI,
			acc.OutboxURI,
			acc.PublicKeyID,
			acc.PublicKeyPem,
			acc.AvatarURL,
			acc.LastFetchedAt,
		)
		if err != nil {
			return err
		}
		var idStr string
		if err := tx.QueryRow(`SELECT id FROM remote_accounts WHERE actor_uri = ?`, acc.ActorURI).Scan(&idStr); err != nil {
			return err
		}
		acc.Id, _ = uuid.Parse(idStr)
		return nil
	})
	return err
}

func (db *DB) ReadRemoteAccountByURI(ctx context.Context, uri string) (*domain.RemoteAccount, error) {
	return scanRemoteAccount(db.db.QueryRowContext(ctx, sqlSelectRemoteAccountByURI, uri))
}

func scanRemoteAccount(row *sql.Row) (*domain.RemoteAccount, error) {
	var acc domain.RemoteAccount
	var idStr string
	err := row.Scan(
		&idStr,
		&acc.ActorURI,
		&acc.Kind,
		&acc.Username,
		&acc.Domain,
		&acc.DisplayName,
		&acc.Summary,
		&acc.InboxURI,
		&acc.SharedInboxURI,
		&acc.OutboxURI,
		&acc.PublicKeyID,
		&acc.PublicKeyPem,
		&acc.AvatarURL,
		&acc.LastFetchedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	acc.Id, _ = uuid.Parse(idStr)
	return &acc, nil
}

// DeleteRemoteActor forgets a remote actor that deleted itself: its cache
// row, every follow edge touching it, its likes and announces, and the
// objects it authored. Counters on the local side are decremented in the
// same transaction.
func (db *DB) DeleteRemoteActor(ctx context.Context, iri string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		follows, err := collect(tx, sqlSelectFollowsOfActor, scanFollowRow, iri, iri)
		if err != nil {
			return err
		}
		for _, f := range follows {
			if err := deleteFollowTx(tx, f); err != nil {
				return err
			}
		}

		interactions, err := collect(tx, sqlSelectInteractionsOfActor, scanInteraction, iri)
		if err != nil {
			return err
		}
		for _, in := range interactions {
			if err := deleteInteractionTx(tx, in); err != nil {
				return err
			}
		}

		objects, err := collect(tx, sqlSelectObjectsOfActor, scanObject, iri)
		if err != nil {
			return err
		}
		for _, o := range objects {
			if err := deleteObjectTx(tx, o); err != nil {
				return err
			}
		}

		_, err = tx.Exec(sqlDeleteRemoteAccount, iri)
		return err
	})
}

// collect reads every row of a query before the caller issues further
// statements on the same transaction.
func collect[T any](tx *sql.Tx, query string, scan func(rowScanner) (*T, error), args ...interface{}) ([]*T, error) {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
