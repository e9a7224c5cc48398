package domain

import (
	"time"

	"github.com/google/uuid"
)

// JoinPolicy decides how a Follow sent to a group is answered.
type JoinPolicy string

const (
	JoinOpen     JoinPolicy = "open"
	JoinApproval JoinPolicy = "approval"
	JoinInvite   JoinPolicy = "invite"
)

// PostPolicy decides who may Create posts in a group.
type PostPolicy string

const (
	PostAnyone     PostPolicy = "anyone"
	PostMembers    PostPolicy = "members"
	PostModerators PostPolicy = "moderators"
	PostOwners     PostPolicy = "owners"
)

type MemberRole string

const (
	RoleOwner     MemberRole = "owner"
	RoleModerator MemberRole = "moderator"
	RoleMember    MemberRole = "member"
)

// rank orders roles so that a policy can require "at least" a role.
func (r MemberRole) rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleModerator:
		return 2
	case RoleMember:
		return 1
	}
	return 0
}

// AtLeast reports whether r grants the privileges of min.
func (r MemberRole) AtLeast(min MemberRole) bool {
	return r.rank() >= min.rank() && r.rank() > 0
}

func ParseJoinPolicy(s string) (JoinPolicy, bool) {
	switch p := JoinPolicy(s); p {
	case JoinOpen, JoinApproval, JoinInvite:
		return p, true
	}
	return "", false
}

func ParsePostPolicy(s string) (PostPolicy, bool) {
	switch p := PostPolicy(s); p {
	case PostAnyone, PostMembers, PostModerators, PostOwners:
		return p, true
	}
	return "", false
}

// Group is a local community actor.
type Group struct {
	Id            uuid.UUID
	Name          string
	IRI           string
	DisplayName   string
	Summary       string
	JoinPolicy    JoinPolicy
	PostPolicy    PostPolicy
	WebPublicKey  string
	WebPrivateKey string
	FollowerCount int
	PostCount     int
	CreatedAt     time.Time
}

func (g *Group) KeyID() string        { return g.IRI + "#main-key" }
func (g *Group) InboxIRI() string     { return g.IRI + "/inbox" }
func (g *Group) OutboxIRI() string    { return g.IRI + "/outbox" }
func (g *Group) FollowersIRI() string { return g.IRI + "/followers" }

// GroupMember is a membership row. Members may be local or remote actors.
type GroupMember struct {
	GroupIRI  string
	ActorIRI  string
	Role      MemberRole
	CreatedAt time.Time
}
