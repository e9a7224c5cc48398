package web

import (
	"errors"
	"net/http"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var actorContext = []interface{}{
	activitypub.ActivityStreamsContext,
	activitypub.SecurityContext,
}

func (s *Server) handleUserActor(c *gin.Context) {
	if acc := s.account(c); acc != nil {
		activityJSON(c, http.StatusOK, AccountDocument(s.conf, acc))
	}
}

func (s *Server) handleGroupActor(c *gin.Context) {
	if g := s.group(c); g != nil {
		activityJSON(c, http.StatusOK, GroupDocument(s.conf, g))
	}
}

// handleObject serves a local note or story. Only public and unlisted
// objects are served; anything else is reported as missing.
func (s *Server) handleObject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		notFound(c)
		return
	}
	o, err := s.db.ReadObjectByID(c.Request.Context(), id)
	if err != nil {
		s.lookupFailed(c, err, "object")
		return
	}
	if !o.Local || (o.Visibility != domain.VisibilityPublic && o.Visibility != domain.VisibilityUnlisted) {
		notFound(c)
		return
	}
	doc := activitypub.ObjectDocument(o)
	doc.Context = activitypub.ActivityStreamsContext
	activityJSON(c, http.StatusOK, doc)
}

func (s *Server) lookupFailed(c *gin.Context, err error, what string) {
	if errors.Is(err, db.ErrNotFound) {
		notFound(c)
		return
	}
	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Failed to read " + what)
	c.Status(http.StatusInternalServerError)
}

// AccountDocument is the Person actor served for a local account.
func AccountDocument(conf *util.AppConfig, acc *domain.Account) *activitypub.ActorDocument {
	name := acc.DisplayName
	if name == "" {
		name = acc.Username
	}
	return &activitypub.ActorDocument{
		Context:                   actorContext,
		ID:                        acc.IRI,
		Type:                      "Person",
		PreferredUsername:         acc.Username,
		Name:                      name,
		Summary:                   acc.Summary,
		URL:                       acc.IRI,
		Inbox:                     acc.InboxIRI(),
		Outbox:                    acc.OutboxIRI(),
		Followers:                 acc.FollowersIRI(),
		Following:                 acc.FollowingIRI(),
		ManuallyApprovesFollowers: acc.ManuallyApprovesFollowers,
		Endpoints:                 &activitypub.Endpoints{SharedInbox: conf.BaseURL() + "/inbox"},
		PublicKey: activitypub.PublicKey{
			ID:           acc.KeyID(),
			Owner:        acc.IRI,
			PublicKeyPem: acc.WebPublicKey,
		},
		Published: acc.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// GroupDocument is the Group actor served for a local community. Only
// the approval join policy makes followers wait for review.
func GroupDocument(conf *util.AppConfig, g *domain.Group) *activitypub.ActorDocument {
	name := g.DisplayName
	if name == "" {
		name = g.Name
	}
	return &activitypub.ActorDocument{
		Context:                   actorContext,
		ID:                        g.IRI,
		Type:                      "Group",
		PreferredUsername:         g.Name,
		Name:                      name,
		Summary:                   g.Summary,
		URL:                       g.IRI,
		Inbox:                     g.InboxIRI(),
		Outbox:                    g.OutboxIRI(),
		Followers:                 g.FollowersIRI(),
		ManuallyApprovesFollowers: g.JoinPolicy == domain.JoinApproval,
		Endpoints:                 &activitypub.Endpoints{SharedInbox: conf.BaseURL() + "/inbox"},
		PublicKey: activitypub.PublicKey{
			ID:           g.KeyID(),
			Owner:        g.IRI,
			PublicKeyPem: g.WebPublicKey,
		},
		Published: g.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}
