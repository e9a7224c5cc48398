package db

import (
	"database/sql"
	"fmt"
)

// Actor counters live on local rows only. Remote actors have no counter
// columns here, so bumping a remote IRI updates nothing.
type actorCounter string

const (
	followerCount  actorCounter = "follower_count"
	followingCount actorCounter = "following_count"
	postCount      actorCounter = "post_count"
)

type objectCounter string

const (
	likeCount     objectCounter = "like_count"
	replyCount    objectCounter = "reply_count"
	announceCount objectCounter = "announce_count"
)

// bumpActorCounter adds delta to a local account's or community's
// counter, flooring at zero.
func bumpActorCounter(tx *sql.Tx, iri string, counter actorCounter, delta int) error {
	if iri == "" || delta == 0 {
		return nil
	}
	q := fmt.Sprintf(`UPDATE accounts SET %[1]s = MAX(0, %[1]s + ?) WHERE iri = ?`, counter)
	if _, err := tx.Exec(q, delta, iri); err != nil {
		return fmt.Errorf("failed to update %s: %w", counter, err)
	}
	if counter == followingCount {
		return nil
	}
	q = fmt.Sprintf(`UPDATE communities SET %[1]s = MAX(0, %[1]s + ?) WHERE iri = ?`, counter)
	if _, err := tx.Exec(q, delta, iri); err != nil {
		return fmt.Errorf("failed to update community %s: %w", counter, err)
	}
	return nil
}

func bumpObjectCounter(tx *sql.Tx, iri string, counter objectCounter, delta int) error {
	if iri == "" || delta == 0 {
		return nil
	}
	q := fmt.Sprintf(`UPDATE objects SET %[1]s = MAX(0, %[1]s + ?) WHERE iri = ?`, counter)
	if _, err := tx.Exec(q, delta, iri); err != nil {
		return fmt.Errorf("failed to update %s: %w", counter, err)
	}
	return nil
}

// bumpFollowCounters applies delta to both sides of an accepted edge.
func bumpFollowCounters(tx *sql.Tx, followerIRI, followingIRI string, delta int) error {
	if err := bumpActorCounter(tx, followingIRI, followerCount, delta); err != nil {
		return err
	}
	return bumpActorCounter(tx, followerIRI, followingCount, delta)
}
