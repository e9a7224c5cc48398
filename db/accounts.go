package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	sqlAccountColumns = `id, username, iri, display_name, summary, web_public_key, web_private_key,
		manually_approves_followers, follower_count, following_count, post_count, created_at`
	sqlInsertAccount = `INSERT INTO accounts(id, username, iri, display_name, summary, web_public_key, web_private_key,
		manually_approves_followers, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectAccountByUsername = `SELECT ` + sqlAccountColumns + ` FROM accounts WHERE username = ?`
	sqlSelectAccountByIRI      = `SELECT ` + sqlAccountColumns + ` FROM accounts WHERE iri = ?`
	sqlUpdateAccountPrivacy    = `UPDATE accounts SET manually_approves_followers = ? WHERE id = ?`
)

// CreateAccount inserts a local actor. Counters always start at zero.
func (db *DB) CreateAccount(ctx context.Context, acc *domain.Account) error {
	if acc.Id == uuid.Nil {
		acc.Id = uuid.New()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount,
			acc.Id.String(),
			acc.Username,
			acc.IRI,
			acc.DisplayName,
			acc.Summary,
			acc.WebPublicKey,
			acc.WebPrivateKey,
			acc.ManuallyApprovesFollowers,
			acc.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadAccByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return scanAccount(db.db.QueryRowContext(ctx, sqlSelectAccountByUsername, username))
}

func (db *DB) ReadAccByIRI(ctx context.Context, iri string) (*domain.Account, error) {
	return scanAccount(db.db.QueryRowContext(ctx, sqlSelectAccountByIRI, iri))
}

func (db *DB) UpdateAccountPrivacy(ctx context.Context, id uuid.UUID, manuallyApproves bool) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateAccountPrivacy, manuallyApproves, id.String())
		return err
	})
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var acc domain.Account
	var idStr string
	err := row.Scan(
		&idStr,
		&acc.Username,
		&acc.IRI,
		&acc.DisplayName,
		&acc.Summary,
		&acc.WebPublicKey,
		&acc.WebPrivateKey,
		&acc.ManuallyApprovesFollowers,
		&acc.FollowerCount,
		&acc.FollowingCount,
		&acc.PostCount,
		&acc.CreatedAt,
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
