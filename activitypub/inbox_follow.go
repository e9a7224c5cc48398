package activitypub

import (
	"context"
	"errors"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/rs/zerolog/log"
)

func (e *Engine) handleFollow(ctx context.Context, in *inbound) error {
	target := in.activity.ObjectID()
	acc, g, err := e.localTarget(ctx, target)
	if err != nil {
		return err
	}
	if g != nil {
		return e.groupFollow(ctx, in, g)
	}
	if acc == nil {
		log.Debug().Str("object", target).Msg("Follow for an actor not hosted here")
		return nil
	}

	follower := in.actor()
	if known, err := e.hasLiveFollow(ctx, follower, acc.IRI); err != nil || known {
		return err
	}

	status := domain.FollowAccepted
	if acc.ManuallyApprovesFollowers {
		status = domain.FollowPending
	}
	created, err := e.db.CreateFollow(ctx, &domain.Follow{
		FollowerIRI:  follower,
		FollowingIRI: acc.IRI,
		Status:       status,
		ActivityURI:  in.activity.ID,
	})
	if err != nil || !created {
		return err
	}

	if status == domain.FollowPending {
		log.Info().Str("follower", follower).Str("account", acc.Username).Msg("Follow request pending approval")
		e.notify(ctx, acc.IRI, domain.NotifyFollowRequest, follower, acc.IRI, in.activity.ID)
		return nil
	}
	log.Info().Str("follower", follower).Str("account", acc.Username).Msg("Follow accepted")
	e.notify(ctx, acc.IRI, domain.NotifyFollow, follower, acc.IRI, in.activity.ID)
	e.answerFollow(ctx, AccountSender(acc), follower, in.activity.ID, ActivityAccept)
	return nil
}

// groupFollow answers a join request according to the group's policy.
// An accepted edge makes the follower a member in the same transaction.
func (e *Engine) groupFollow(ctx context.Context, in *inbound, g *domain.Group) error {
	follower := in.actor()
	if known, err := e.hasLiveFollow(ctx, follower, g.IRI); err != nil || known {
		return err
	}

	var status domain.FollowStatus
	switch g.JoinPolicy {
	case domain.JoinApproval:
		status = domain.FollowPending
	case domain.JoinInvite:
		invited, err := e.db.HasGroupInvite(ctx, g.IRI, follower)
		if err != nil {
			return err
		}
		status = domain.FollowRejected
		if invited {
			status = domain.FollowAccepted
		}
	default:
		status = domain.FollowAccepted
	}

	created, err := e.db.CreateFollow(ctx, &domain.Follow{
		FollowerIRI:  follower,
		FollowingIRI: g.IRI,
		Status:       status,
		ActivityURI:  in.activity.ID,
	})
	if err != nil || !created {
		return err
	}

	log.Info().Str("follower", follower).Str("group", g.Name).Str("status", string(status)).Msg("Join request answered")
	switch status {
	case domain.FollowAccepted:
		e.answerFollow(ctx, GroupSender(g), follower, in.activity.ID, ActivityAccept)
	case domain.FollowRejected:
		e.answerFollow(ctx, GroupSender(g), follower, in.activity.ID, ActivityReject)
	}
	return nil
}

// hasLiveFollow reports whether a pending or accepted edge already exists.
func (e *Engine) hasLiveFollow(ctx context.Context, follower, following string) (bool, error) {
	f, err := e.db.ReadFollow(ctx, follower, following)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if f.Status == domain.FollowRejected {
		return false, nil
	}
	log.Debug().Str("follower", follower).Str("following", following).Msg("Follow already recorded")
	return true, nil
}

// answerFollow sends an Accept or Reject for a Follow back to a remote
// follower. Local followers share our store and need no answer.
func (e *Engine) answerFollow(ctx context.Context, from Sender, follower, followID string, kind ActivityType) []DeliveryResult {
	if e.conf.IsLocalIRI(follower) {
		return nil
	}
	answer := e.newActivity(kind, from.IRI, followObject(followID, follower, from.IRI))
	answer.To = Audience{follower}
	return e.Deliver(ctx, answer, from, []string{follower})
}

func (e *Engine) handleAccept(ctx context.Context, in *inbound) error {
	edge, err := e.followForAnswer(ctx, in)
	if err != nil || edge == nil {
		return err
	}
	if edge.FollowingIRI != in.actor() {
		return unauthorized(in, "only the followed actor may accept")
	}
	accepted, err := e.db.AcceptFollow(ctx, edge.FollowerIRI, edge.FollowingIRI)
	if err != nil {
		return err
	}
	if accepted {
		log.Info().Str("follower", edge.FollowerIRI).Str("following", edge.FollowingIRI).Msg("Follow accepted by remote")
	}
	return nil
}

func (e *Engine) handleReject(ctx context.Context, in *inbound) error {
	edge, err := e.followForAnswer(ctx, in)
	if err != nil || edge == nil {
		return err
	}
	if edge.FollowingIRI != in.actor() {
		return unauthorized(in, "only the followed actor may reject")
	}
	removed, err := e.db.DeleteFollow(ctx, edge.FollowerIRI, edge.FollowingIRI)
	if err != nil {
		return err
	}
	if removed != nil {
		log.Info().Str("follower", removed.FollowerIRI).Str("following", removed.FollowingIRI).Str("was", string(removed.Status)).Msg("Follow rejected by remote")
	}
	return nil
}

// followForAnswer finds the edge an Accept or Reject refers to, by the
// Follow activity id or, for an embedded Follow, by its actor pair.
func (e *Engine) followForAnswer(ctx context.Context, in *inbound) (*domain.Follow, error) {
	edge, err := e.db.ReadFollowByActivityURI(ctx, in.activity.ObjectID())
	if err == nil {
		return edge, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if obj := in.activity.EmbeddedObject(); obj != nil && obj.Type == "Follow" {
		edge, err = e.db.ReadFollow(ctx, string(obj.Actor), obj.ObjectID())
		if err == nil {
			return edge, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}
	log.Debug().Str("activity", in.activity.ID).Msg("No follow matches answer")
	return nil, nil
}

func (e *Engine) handleUndo(ctx context.Context, in *inbound) error {
	target, err := e.undoTarget(ctx, in)
	if errors.Is(err, ErrNotAuthorized) {
		return unauthorized(in, "undo of another actor's activity")
	}
	if err != nil {
		return err
	}

	actor := in.actor()
	switch target.kind {
	case ActivityFollow:
		var removed *domain.Follow
		if target.orig != nil {
			removed, err = e.db.UndoFollow(ctx, target.orig)
		} else {
			removed, err = e.db.DeleteFollow(ctx, actor, target.object)
		}
		if err != nil {
			return err
		}
		if removed != nil {
			log.Info().Str("follower", actor).Str("following", target.object).Msg("Follow undone")
		}
	case ActivityLike, ActivityAnnounce:
		var removed *domain.Interaction
		if target.orig != nil {
			removed, err = e.db.UndoInteraction(ctx, interactionKind(target.kind), target.orig)
		} else {
			removed, err = e.db.DeleteInteraction(ctx, interactionKind(target.kind), actor, target.object)
		}
		if err != nil {
			return err
		}
		if removed != nil {
			log.Debug().Str("actor", actor).Str("object", target.object).Str("kind", string(removed.Kind)).Msg("Interaction undone")
		}
	default:
		log.Debug().Str("activity", in.activity.ID).Msg("Nothing to undo")
	}
	return nil
}

// undoRef is what an Undo reverses. orig is set when the original
// activity is in the log; only the edge that activity created may then
// be removed.
type undoRef struct {
	kind   ActivityType
	object string
	orig   *domain.Activity
}

// undoTarget works out what an Undo reverses: the type and object of the
// original activity, taken from the activity log, the embedded copy, or
// the stored edge the original created.
func (e *Engine) undoTarget(ctx context.Context, in *inbound) (undoRef, error) {
	id := in.activity.ObjectID()
	actor := in.actor()

	orig, err := e.db.ReadActivityByURI(ctx, id)
	switch {
	case err == nil:
		if orig.ActorURI != actor {
			return undoRef{}, ErrNotAuthorized
		}
		return undoRef{kind: ParseActivityType(orig.ActivityType), object: orig.ObjectURI, orig: orig}, nil
	case !errors.Is(err, db.ErrNotFound):
		return undoRef{}, err
	}

	if obj := in.activity.EmbeddedObject(); obj != nil && obj.ObjectID() != "" {
		if obj.Actor != "" && string(obj.Actor) != actor {
			return undoRef{}, ErrNotAuthorized
		}
		return undoRef{kind: ParseActivityType(obj.Type), object: obj.ObjectID()}, nil
	}

	if f, err := e.db.ReadFollowByActivityURI(ctx, id); err == nil {
		if f.FollowerIRI != actor {
			return undoRef{}, ErrNotAuthorized
		}
		return undoRef{kind: ActivityFollow, object: f.FollowingIRI}, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return undoRef{}, err
	}

	if it, err := e.db.ReadInteractionByActivityURI(ctx, id); err == nil {
		if it.ActorIRI != actor {
			return undoRef{}, ErrNotAuthorized
		}
		kind := ActivityLike
		if it.Kind == domain.InteractionAnnounce {
			kind = ActivityAnnounce
		}
		return undoRef{kind: kind, object: it.ObjectIRI}, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return undoRef{}, err
	}
	return undoRef{}, nil
}

func interactionKind(t ActivityType) domain.InteractionKind {
	if t == ActivityAnnounce {
		return domain.InteractionAnnounce
	}
	return domain.InteractionLike
}
