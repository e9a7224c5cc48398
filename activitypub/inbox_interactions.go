package activitypub

import (
	"context"
	"errors"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/rs/zerolog/log"
)

func (e *Engine) handleLike(ctx context.Context, in *inbound) error {
	return e.interact(ctx, in, domain.InteractionLike, domain.NotifyLike)
}

func (e *Engine) handleAnnounce(ctx context.Context, in *inbound) error {
	return e.interact(ctx, in, domain.InteractionAnnounce, domain.NotifyAnnounce)
}

// interact records a Like or Announce of a stored object. Repeats of the
// same (kind, actor, object) change nothing.
func (e *Engine) interact(ctx context.Context, in *inbound, kind domain.InteractionKind, note domain.NotificationKind) error {
	objectIRI := in.activity.ObjectID()
	obj, err := e.db.ReadObjectByIRI(ctx, objectIRI)
	if errors.Is(err, db.ErrNotFound) {
		log.Debug().Str("object", objectIRI).Str("kind", string(kind)).Msg("Interaction with unknown object")
		return nil
	}
	if err != nil {
		return err
	}

	actor := in.actor()
	created, err := e.db.CreateInteraction(ctx, &domain.Interaction{
		Kind:        kind,
		ActorIRI:    actor,
		ObjectIRI:   objectIRI,
		ActivityURI: in.activity.ID,
	})
	if err != nil || !created {
		return err
	}
	e.notify(ctx, obj.AuthorIRI, note, actor, objectIRI, in.activity.ID)
	return nil
}
