package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	sqlGroupColumns = `id, name, iri, display_name, summary, join_policy, post_policy,
		web_public_key, web_private_key, follower_count, post_count, created_at`
	sqlInsertGroup = `INSERT INTO communities(id, name, iri, display_name, summary, join_policy, post_policy,
		web_public_key, web_private_key, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectGroupByName = `SELECT ` + sqlGroupColumns + ` FROM communities WHERE name = ?`
	sqlSelectGroupByIRI  = `SELECT ` + sqlGroupColumns + ` FROM communities WHERE iri = ?`

	sqlUpsertGroupMember = `INSERT INTO community_members(group_iri, actor_iri, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(group_iri, actor_iri) DO UPDATE SET role = excluded.role`
	sqlSelectGroupMember = `SELECT group_iri, actor_iri, role, created_at FROM community_members WHERE group_iri = ? AND actor_iri = ?`
	sqlDeleteGroupMember = `DELETE FROM community_members WHERE group_iri = ? AND actor_iri = ? AND role != 'owner'`
	sqlCountGroupMembers = `SELECT COUNT(*) FROM community_members WHERE group_iri = ?`

	sqlInsertGroupInvite = `INSERT OR IGNORE INTO community_invites(group_iri, actor_iri, created_at) VALUES (?, ?, ?)`
	sqlSelectGroupInvite = `SELECT COUNT(*) FROM community_invites WHERE group_iri = ? AND actor_iri = ?`
)

// CreateGroup inserts a community and, when ownerIRI is set, its owner
// membership in the same transaction.
func (db *DB) CreateGroup(ctx context.Context, g *domain.Group, ownerIRI string) error {
	if g.Id == uuid.Nil {
		g.Id = uuid.New()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertGroup,
			g.Id.String(),
			g.Name,
			g.IRI,
			g.DisplayName,
			g.Summary,
			string(g.JoinPolicy),
			string(g.PostPolicy),
			g.WebPublicKey,
			g.WebPrivateKey,
			g.CreatedAt,
		)
		if err != nil {
			return err
		}
		if ownerIRI == "" {
			return nil
		}
		_, err = tx.Exec(sqlUpsertGroupMember, g.IRI, ownerIRI, string(domain.RoleOwner), g.CreatedAt)
		return err
	})
}

func (db *DB) ReadGroupByName(ctx context.Context, name string) (*domain.Group, error) {
	return scanGroup(db.db.QueryRowContext(ctx, sqlSelectGroupByName, name))
}

func (db *DB) ReadGroupByIRI(ctx context.Context, iri string) (*domain.Group, error) {
	return scanGroup(db.db.QueryRowContext(ctx, sqlSelectGroupByIRI, iri))
}

// SetGroupMember creates or changes a membership role.
func (db *DB) SetGroupMember(ctx context.Context, groupIRI, actorIRI string, role domain.MemberRole) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertGroupMember, groupIRI, actorIRI, string(role), now())
		return err
	})
}

func (db *DB) ReadGroupMember(ctx context.Context, groupIRI, actorIRI string) (*domain.GroupMember, error) {
	var m domain.GroupMember
	var role string
	err := db.db.QueryRowContext(ctx, sqlSelectGroupMember, groupIRI, actorIRI).
		Scan(&m.GroupIRI, &m.ActorIRI, &role, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Role = domain.MemberRole(role)
	return &m, nil
}

func (db *DB) CountGroupMembers(ctx context.Context, groupIRI string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountGroupMembers, groupIRI).Scan(&n)
	return n, err
}

func (db *DB) CreateGroupInvite(ctx context.Context, groupIRI, actorIRI string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertGroupInvite, groupIRI, actorIRI, now())
		return err
	})
}

func (db *DB) HasGroupInvite(ctx context.Context, groupIRI, actorIRI string) (bool, error) {
	var n int
	if err := db.db.QueryRowContext(ctx, sqlSelectGroupInvite, groupIRI, actorIRI).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanGroup(row *sql.Row) (*domain.Group, error) {
	var g domain.Group
	var idStr, join, post string
	err := row.Scan(
		&idStr,
		&g.Name,
		&g.IRI,
		&g.DisplayName,
		&g.Summary,
		&join,
		&post,
		&g.WebPublicKey,
		&g.WebPrivateKey,
		&g.FollowerCount,
		&g.PostCount,
		&g.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Id, _ = uuid.Parse(idStr)
	g.JoinPolicy = domain.JoinPolicy(join)
	g.PostPolicy = domain.PostPolicy(post)
	return &g, nil
}
