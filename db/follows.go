package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	sqlFollowColumns = `id, follower_iri, following_iri, status, activity_uri, created_at, accepted_at`

	// A rejected edge does not block a new Follow for the same pair; any
	// other existing edge makes the insert a no-op.
	sqlInsertFollow = `INSERT INTO follows(` + sqlFollowColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(follower_iri, following_iri) DO UPDATE SET
			status = excluded.status,
			activity_uri = excluded.activity_uri,
			created_at = excluded.created_at,
			accepted_at = excluded.accepted_at
		WHERE follows.status = 'rejected'`
	sqlSelectFollow              = `SELECT ` + sqlFollowColumns + ` FROM follows WHERE follower_iri = ? AND following_iri = ?`
	sqlSelectFollowByActivityURI = `SELECT ` + sqlFollowColumns + ` FROM follows WHERE activity_uri = ?`
	sqlAcceptFollow              = `UPDATE follows SET status = 'accepted', accepted_at = ? WHERE id = ?`
	sqlDeleteFollow              = `DELETE FROM follows WHERE id = ?`

	sqlSelectFollowersPage = `SELECT ` + sqlFollowColumns + ` FROM follows
		WHERE following_iri = ? AND status = 'accepted'
		ORDER BY accepted_at DESC, rowid DESC LIMIT ? OFFSET ?`
	sqlCountFollowers      = `SELECT COUNT(*) FROM follows WHERE following_iri = ? AND status = 'accepted'`
	sqlSelectFollowingPage = `SELECT ` + sqlFollowColumns + ` FROM follows
		WHERE follower_iri = ? AND status = 'accepted'
		ORDER BY accepted_at DESC, rowid DESC LIMIT ? OFFSET ?`
	sqlCountFollowing       = `SELECT COUNT(*) FROM follows WHERE follower_iri = ? AND status = 'accepted'`
	sqlSelectPendingFollows = `SELECT ` + sqlFollowColumns + ` FROM follows
		WHERE following_iri = ? AND status = 'pending' ORDER BY created_at ASC`
	// Fan-out targets: accepted followers that are not local accounts or
	// communities.
	sqlSelectRemoteFollowerIRIs = `SELECT follower_iri FROM follows
		WHERE following_iri = ? AND status = 'accepted'
		AND follower_iri NOT IN (SELECT iri FROM accounts)
		AND follower_iri NOT IN (SELECT iri FROM communities)
		ORDER BY accepted_at ASC`

	sqlJoinGroup = `INSERT OR IGNORE INTO community_members(group_iri, actor_iri, role, created_at)
		SELECT iri, ?, 'member', ? FROM communities WHERE iri = ?`
)

// CreateFollow stores a new edge unless one already exists for the pair.
// An accepted edge bumps both counters (and joins the community when the
// target is one) in the same transaction. created is false when an edge
// already existed.
func (db *DB) CreateFollow(ctx context.Context, f *domain.Follow) (bool, error) {
	if f.Id == uuid.Nil {
		f.Id = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now()
	}
	if f.Status == domain.FollowAccepted && f.AcceptedAt == nil {
		t := f.CreatedAt
		f.AcceptedAt = &t
	}

	var created bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertFollow,
			f.Id.String(),
			f.FollowerIRI,
			f.FollowingIRI,
			string(f.Status),
			f.ActivityURI,
			f.CreatedAt,
			nullTime(f.AcceptedAt),
		)
		if err != nil {
			return err
		}
		created, err = rowsAffected(res)
		if err != nil || !created {
			return err
		}
		if f.Status != domain.FollowAccepted {
			return nil
		}
		return onFollowAccepted(tx, f.FollowerIRI, f.FollowingIRI)
	})
	return created, err
}

func (db *DB) ReadFollow(ctx context.Context, followerIRI, followingIRI string) (*domain.Follow, error) {
	return scanFollow(db.db.QueryRowContext(ctx, sqlSelectFollow, followerIRI, followingIRI))
}

func (db *DB) ReadFollowByActivityURI(ctx context.Context, uri string) (*domain.Follow, error) {
	if uri == "" {
		return nil, ErrNotFound
	}
	return scanFollow(db.db.QueryRowContext(ctx, sqlSelectFollowByActivityURI, uri))
}

// AcceptFollow moves a pending edge to accepted and bumps both counters
// atomically. It reports false when the edge is missing or not pending.
func (db *DB) AcceptFollow(ctx context.Context, followerIRI, followingIRI string) (bool, error) {
	var changed bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		changed = false
		f, err := scanFollow(tx.QueryRow(sqlSelectFollow, followerIRI, followingIRI))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if f.Status != domain.FollowPending {
			return nil
		}
		if _, err := tx.Exec(sqlAcceptFollow, now(), f.Id.String()); err != nil {
			return err
		}
		changed = true
		return onFollowAccepted(tx, followerIRI, followingIRI)
	})
	return changed, err
}

// DeleteFollow removes the edge for the pair, decrementing counters when
// it was accepted. It returns the removed edge, or nil when there was
// none, so repeating it is a no-op.
func (db *DB) DeleteFollow(ctx context.Context, followerIRI, followingIRI string) (*domain.Follow, error) {
	return db.deleteFollowIf(ctx, followerIRI, followingIRI, nil)
}

// UndoFollow removes the edge created by the logged Follow orig. An edge
// that a later Follow created for the same pair is left alone, so an old
// Undo replayed after a re-follow changes nothing.
func (db *DB) UndoFollow(ctx context.Context, orig *domain.Activity) (*domain.Follow, error) {
	return db.deleteFollowIf(ctx, orig.ActorURI, orig.ObjectURI, func(f *domain.Follow) bool {
		return createdBy(orig, f.ActivityURI, f.CreatedAt)
	})
}

func (db *DB) deleteFollowIf(ctx context.Context, followerIRI, followingIRI string, match func(*domain.Follow) bool) (*domain.Follow, error) {
	var removed *domain.Follow
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		removed = nil
		f, err := scanFollow(tx.QueryRow(sqlSelectFollow, followerIRI, followingIRI))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if match != nil && !match(f) {
			return nil
		}
		if err := deleteFollowTx(tx, f); err != nil {
			return err
		}
		removed = f
		return nil
	})
	return removed, err
}

// createdBy reports whether an edge stamped with activityURI at created
// belongs to the logged activity orig. Edges that carry another id but
// predate orig were kept when orig arrived as a repeat, so they count as
// orig's too.
func createdBy(orig *domain.Activity, activityURI string, created time.Time) bool {
	return activityURI == orig.ActivityURI || !created.After(orig.CreatedAt)
}

func (db *DB) ReadFollowersPage(ctx context.Context, iri string, limit, offset int) ([]domain.Follow, error) {
	return db.queryFollows(ctx, sqlSelectFollowersPage, iri, limit, offset)
}

func (db *DB) ReadFollowingPage(ctx context.Context, iri string, limit, offset int) ([]domain.Follow, error) {
	return db.queryFollows(ctx, sqlSelectFollowingPage, iri, limit, offset)
}

func (db *DB) ReadPendingFollows(ctx context.Context, iri string) ([]domain.Follow, error) {
	return db.queryFollows(ctx, sqlSelectPendingFollows, iri)
}

func (db *DB) CountFollowers(ctx context.Context, iri string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountFollowers, iri).Scan(&n)
	return n, err
}

func (db *DB) CountFollowing(ctx context.Context, iri string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountFollowing, iri).Scan(&n)
	return n, err
}

// ReadRemoteFollowerIRIs lists accepted, non-local followers of iri.
func (db *DB) ReadRemoteFollowerIRIs(ctx context.Context, iri string) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectRemoteFollowerIRIs, iri)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var iris []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return iris, err
		}
		iris = append(iris, s)
	}
	return iris, rows.Err()
}

func (db *DB) queryFollows(ctx context.Context, query string, args ...interface{}) ([]domain.Follow, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var follows []domain.Follow
	for rows.Next() {
		f, err := scanFollowRow(rows)
		if err != nil {
			return follows, err
		}
		follows = append(follows, *f)
	}
	return follows, rows.Err()
}

func onFollowAccepted(tx *sql.Tx, followerIRI, followingIRI string) error {
	if err := bumpFollowCounters(tx, followerIRI, followingIRI, 1); err != nil {
		return err
	}
	_, err := tx.Exec(sqlJoinGroup, followerIRI, now(), followingIRI)
	return err
}

func deleteFollowTx(tx *sql.Tx, f *domain.Follow) error {
	if _, err := tx.Exec(sqlDeleteFollow, f.Id.String()); err != nil {
		return err
	}
	if f.Status != domain.FollowAccepted {
		return nil
	}
	if err := bumpFollowCounters(tx, f.FollowerIRI, f.FollowingIRI, -1); err != nil {
		return err
	}
	_, err := tx.Exec(sqlDeleteGroupMember, f.FollowingIRI, f.FollowerIRI)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFollow(row *sql.Row) (*domain.Follow, error) {
	f, err := scanFollowRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

func scanFollowRow(row rowScanner) (*domain.Follow, error) {
	var f domain.Follow
	var idStr, status string
	var acceptedAt sql.NullTime
	err := row.Scan(
		&idStr,
		&f.FollowerIRI,
		&f.FollowingIRI,
		&status,
		&f.ActivityURI,
		&f.CreatedAt,
		&acceptedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Id, _ = uuid.Parse(idStr)
	f.Status = domain.FollowStatus(status)
	f.AcceptedAt = timePtr(acceptedAt)
	return &f, nil
}
