package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/rs/zerolog/log"
)

// inbound is one activity on its way through the handler table.
type inbound struct {
	activity *Activity
	raw      []byte
	// inbox is the local actor whose inbox received the activity, empty
	// for the shared inbox.
	inbox string
}

func (in *inbound) actor() string { return string(in.activity.Actor) }

type handlerFunc func(ctx context.Context, in *inbound) error

func (e *Engine) handlerTable() [numActivityTypes]handlerFunc {
	return [numActivityTypes]handlerFunc{
		ActivityFollow:   e.handleFollow,
		ActivityAccept:   e.handleAccept,
		ActivityReject:   e.handleReject,
		ActivityUndo:     e.handleUndo,
		ActivityCreate:   e.handleCreate,
		ActivityUpdate:   e.handleUpdate,
		ActivityDelete:   e.handleDelete,
		ActivityLike:     e.handleLike,
		ActivityAnnounce: e.handleAnnounce,
	}
}

// Authenticate checks the HTTP signature of an inbox POST and that the
// signing key belongs to the activity's actor. When verification fails
// against the cached key, the actor is refetched once in case the key
// was rotated.
func (e *Engine) Authenticate(ctx context.Context, r *http.Request, body []byte, activity *Activity) error {
	keyID, err := SignatureKeyID(r)
	if err != nil {
		return err
	}
	actor, err := e.directory.ResolveKey(ctx, keyID, false)
	if err != nil {
		return fmt.Errorf("signing key %s: %w", keyID, err)
	}
	if actor.IRI != string(activity.Actor) {
		return fmt.Errorf("key %s signs for %s, not %s: %w", keyID, actor.IRI, activity.Actor, ErrNotAuthorized)
	}

	_, err = VerifyRequest(r, body, actor.PublicKeyPem)
	if err == nil || actor.Local || errors.Is(err, ErrDigestMismatch) || errors.Is(err, ErrStaleDate) {
		return err
	}

	refreshed, rerr := e.directory.ResolveKey(ctx, keyID, true)
	if rerr != nil || refreshed.PublicKeyPem == actor.PublicKeyPem {
		return err
	}
	log.Debug().Str("actor", refreshed.IRI).Msg("Retrying signature with refreshed key")
	_, err = VerifyRequest(r, body, refreshed.PublicKeyPem)
	return err
}

// Dispatch applies one activity to the store. The activity is appended to
// the inbound log first; then its type selects a handler. Unknown types,
// incomplete envelopes and handler failures are logged and reported to
// the caller but never change what the sender is told.
func (e *Engine) Dispatch(ctx context.Context, activity *Activity, raw []byte, inbox string) error {
	if err := activity.Validate(); err != nil {
		inboxActivitiesTotal.WithLabelValues("invalid", "dropped").Inc()
		log.Warn().Err(err).Str("activity", activity.ID).Msg("Dropping invalid activity")
		return err
	}

	_, err := e.db.CreateActivity(ctx, &domain.Activity{
		ActivityURI:  activity.ID,
		ActivityType: activity.Type,
		ActorURI:     string(activity.Actor),
		ObjectURI:    activity.ObjectID(),
		Direction:    domain.Inbound,
		Public:       activity.IsPublic(),
		RawJSON:      string(raw),
	})
	if err != nil {
		log.Error().Err(err).Str("activity", activity.ID).Msg("Failed to record inbound activity")
	}

	kind := activity.Kind()
	if kind == ActivityUnknown {
		inboxActivitiesTotal.WithLabelValues("unknown", "ignored").Inc()
		log.Info().Str("type", activity.Type).Str("actor", string(activity.Actor)).Msg("Ignoring unsupported activity type")
		return nil
	}

	log.Debug().Str("type", activity.Type).Str("actor", string(activity.Actor)).Str("activity", activity.ID).Msg("Dispatching")
	in := &inbound{activity: activity, raw: raw, inbox: inbox}
	if err := e.handlers[kind](ctx, in); err != nil {
		inboxActivitiesTotal.WithLabelValues(kind.String(), "error").Inc()
		log.Error().Err(err).Str("type", activity.Type).Str("activity", activity.ID).Msg("Failed to handle activity")
		return err
	}
	inboxActivitiesTotal.WithLabelValues(kind.String(), "ok").Inc()
	return nil
}

// localTarget looks iri up among local accounts and groups. Both results
// are nil when iri is not hosted here.
func (e *Engine) localTarget(ctx context.Context, iri string) (*domain.Account, *domain.Group, error) {
	if !e.conf.IsLocalIRI(iri) {
		return nil, nil, nil
	}
	acc, err := e.db.ReadAccByIRI(ctx, iri)
	if err == nil {
		return acc, nil, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, nil, err
	}
	g, err := e.db.ReadGroupByIRI(ctx, iri)
	if err == nil {
		return nil, g, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, nil, err
	}
	return nil, nil, nil
}

// unauthorized logs an activity whose actor may not do what it asks.
// Such activities are acknowledged and dropped.
func unauthorized(in *inbound, reason string) error {
	log.Warn().
		Str("type", in.activity.Type).
		Str("actor", in.actor()).
		Str("activity", in.activity.ID).
		Msg("Ignoring unauthorized activity: " + reason)
	return nil
}
