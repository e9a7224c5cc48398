package activitypub

import (
	"context"
	"errors"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/rs/zerolog/log"
)

var postPolicyRoles = map[domain.PostPolicy]domain.MemberRole{
	domain.PostMembers:    domain.RoleMember,
	domain.PostModerators: domain.RoleModerator,
	domain.PostOwners:     domain.RoleOwner,
}

// mayPost applies a group's posting policy to actor.
func (e *Engine) mayPost(ctx context.Context, g *domain.Group, actor string) (bool, error) {
	required, restricted := postPolicyRoles[g.PostPolicy]
	if !restricted {
		return true, nil
	}
	m, err := e.db.ReadGroupMember(ctx, g.IRI, actor)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Role.AtLeast(required), nil
}

// groupForPost finds the local group a Create is addressed to: the group
// whose inbox received it, else the first local group named in the
// object's audience or addressing.
func (e *Engine) groupForPost(ctx context.Context, in *inbound, obj *Object) (*domain.Group, error) {
	candidates := []string{in.inbox, string(obj.Audience)}
	candidates = append(candidates, obj.To...)
	candidates = append(candidates, obj.Cc...)
	candidates = append(candidates, in.activity.To...)
	candidates = append(candidates, in.activity.Cc...)

	for _, iri := range candidates {
		if iri == "" || !e.conf.IsLocalIRI(iri) {
			continue
		}
		g, err := e.db.ReadGroupByIRI(ctx, iri)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	return nil, nil
}

// groupAnnounce boosts an accepted post from the group to its followers.
func (e *Engine) groupAnnounce(ctx context.Context, g *domain.Group, o *domain.Object) []DeliveryResult {
	announce := e.newActivity(ActivityAnnounce, g.IRI, o.IRI)
	announce.To = Audience{PublicCollection}
	announce.Cc = Audience{g.FollowersIRI(), o.AuthorIRI}

	_, err := e.db.CreateInteraction(ctx, &domain.Interaction{
		Kind:        domain.InteractionAnnounce,
		ActorIRI:    g.IRI,
		ObjectIRI:   o.IRI,
		ActivityURI: announce.ID,
	})
	if err != nil {
		log.Error().Err(err).Str("group", g.Name).Str("object", o.IRI).Msg("Failed to record group announce")
	}
	return e.DeliverToFollowers(ctx, announce, GroupSender(g))
}
