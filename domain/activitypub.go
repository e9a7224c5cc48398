package domain

import (
	"time"

	"github.com/google/uuid"
)

// RemoteAccount is the local cache of a remote actor's public profile.
// It is refreshed on demand and never the source of truth.
type RemoteAccount struct {
	Id             uuid.UUID
	ActorURI       string
	Kind           string // Person, Group, Service, Application
	Username       string
	Domain         string
	DisplayName    string
	Summary        string
	InboxURI       string
	SharedInboxURI string
	OutboxURI      string
	PublicKeyID    string
	PublicKeyPem   string
	AvatarURL      string
	LastFetchedAt  time.Time
}

type FollowStatus string

const (
	FollowPending  FollowStatus = "pending"
	FollowAccepted FollowStatus = "accepted"
	FollowRejected FollowStatus = "rejected"
)

// Follow is the edge follower -> following. At most one exists per
// ordered pair.
type Follow struct {
	Id           uuid.UUID
	FollowerIRI  string
	FollowingIRI string
	Status       FollowStatus
	ActivityURI  string // Follow activity that created the edge
	CreatedAt    time.Time
	AcceptedAt   *time.Time
}

type InteractionKind string

const (
	InteractionLike     InteractionKind = "like"
	InteractionAnnounce InteractionKind = "announce"
)

// Interaction is a Like or Announce edge. At most one per
// (kind, actor, object).
type Interaction struct {
	Id          uuid.UUID
	Kind        InteractionKind
	ActorIRI    string
	ObjectIRI   string
	ActivityURI string
	CreatedAt   time.Time
}

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Activity is an append-only log entry for every activity sent or received.
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string
	ActorURI     string
	ObjectURI    string
	Direction    Direction
	Public       bool
	RawJSON      string
	CreatedAt    time.Time
}

// DeliveryAttempt records the outcome of posting one activity to one inbox.
type DeliveryAttempt struct {
	Id           uuid.UUID
	ActivityURI  string
	RecipientIRI string
	InboxURI     string
	Success      bool
	StatusCode   int
	Error        string
	AttemptedAt  time.Time
}

type NotificationKind string

const (
	NotifyFollow        NotificationKind = "follow"
	NotifyFollowRequest NotificationKind = "follow_request"
	NotifyReply         NotificationKind = "reply"
	NotifyLike          NotificationKind = "like"
	NotifyAnnounce      NotificationKind = "announce"
)

// Notification is an entry in a local actor's notification inbox.
type Notification struct {
	Id           uuid.UUID
	RecipientIRI string
	Kind         NotificationKind
	ActorIRI     string
	ObjectIRI    string
	ActivityURI  string
	Read         bool
	CreatedAt    time.Time
}

// Actor is the resolved view of any actor, local or remote, carrying
// what the engine needs to deliver to it and verify its signatures.
type Actor struct {
	IRI            string
	Kind           string
	Username       string
	Domain         string
	Inbox          string
	SharedInbox    string
	PublicKeyID    string
	PublicKeyPem   string
	Local          bool
	RequiresReview bool
}

// DeliveryInbox prefers the shared inbox when the actor advertises one.
func (a *Actor) DeliveryInbox() string {
	if a.SharedInbox != "" {
		return a.SharedInbox
	}
	return a.Inbox
}
