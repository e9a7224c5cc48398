package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{1,30}$`)

// ValidateUsername checks a name for a local account or group. Names end
// up in IRIs and acct: handles, so only lowercase letters, digits and
// underscores are allowed.
func ValidateUsername(name string) error {
	if !usernamePattern.MatchString(name) {
		return fmt.Errorf("invalid name %q: use 1-30 lowercase letters, digits or underscores", name)
	}
	return nil
}

// Account is an actor owned by this server.
type Account struct {
	Id                        uuid.UUID
	Username                  string
	IRI                       string
	DisplayName               string
	Summary                   string
	WebPublicKey              string
	WebPrivateKey             string
	ManuallyApprovesFollowers bool
	FollowerCount             int
	FollowingCount            int
	PostCount                 int
	CreatedAt                 time.Time
}

// KeyID is the IRI of the account's main public key.
func (acc *Account) KeyID() string {
	return acc.IRI + "#main-key"
}

func (acc *Account) InboxIRI() string     { return acc.IRI + "/inbox" }
func (acc *Account) OutboxIRI() string    { return acc.IRI + "/outbox" }
func (acc *Account) FollowersIRI() string { return acc.IRI + "/followers" }
func (acc *Account) FollowingIRI() string { return acc.IRI + "/following" }

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tIRI: %s \n\tFollowers: %d \n\tFollowing: %d \n\tCREATED_AT: %s)",
		acc.Id, acc.Username, acc.IRI, acc.FollowerCount, acc.FollowingCount, acc.CreatedAt)
}
