package activitypub

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/rs/zerolog/log"
)

// storyLifetime applies when a story does not say when it ends.
const storyLifetime = 24 * time.Hour

var contentKinds = map[string]domain.ObjectKind{
	"Note":    domain.KindNote,
	"Article": domain.KindNote,
	"Story":   domain.KindStory,
}

func (e *Engine) handleCreate(ctx context.Context, in *inbound) error {
	obj := in.activity.EmbeddedObject()
	if obj == nil || obj.ID == "" {
		log.Debug().Str("activity", in.activity.ID).Msg("Create without an embedded object")
		return nil
	}
	kind, ok := contentKinds[obj.Type]
	if !ok {
		log.Debug().Str("type", obj.Type).Msg("Ignoring Create of unsupported object type")
		return nil
	}

	actor := in.actor()
	author := string(obj.AttributedTo)
	if author == "" {
		author = actor
	}
	if author != actor {
		return unauthorized(in, "attributedTo does not match actor")
	}
	if e.conf.IsLocalIRI(obj.ID) != e.conf.IsLocalIRI(actor) {
		return unauthorized(in, "object id outside the actor's origin")
	}

	to, cc := obj.To, obj.Cc
	if len(to) == 0 && len(cc) == 0 {
		to, cc = in.activity.To, in.activity.Cc
	}
	o := &domain.Object{
		IRI:         obj.ID,
		Kind:        kind,
		AuthorIRI:   author,
		Content:     obj.Content,
		Summary:     obj.Summary,
		Visibility:  visibilityOf(to, cc),
		InReplyTo:   string(obj.InReplyTo),
		Sensitive:   obj.Sensitive,
		Attachments: normalizeAttachments(obj.Attachment),
		Local:       e.conf.IsLocalIRI(obj.ID),
	}
	if obj.Source != nil {
		o.Source = obj.Source.Content
	}
	if t, ok := parseTime(obj.Published); ok {
		o.PublishedAt = t
	}
	if kind == domain.KindStory {
		if len(o.Attachments) == 0 {
			log.Warn().Str("object", obj.ID).Str("actor", actor).Msg("Dropping story without media")
			return nil
		}
		o.Overlays = normalizeOverlays(obj.Overlays)
		o.ExpiresAt = storyExpiry(obj, o.PublishedAt)
	}

	g, err := e.groupForPost(ctx, in, obj)
	if err != nil {
		return err
	}
	if g != nil {
		allowed, err := e.mayPost(ctx, g, actor)
		if err != nil {
			return err
		}
		if !allowed {
			return unauthorized(in, "posting policy of group "+g.Name)
		}
		o.AudienceIRI = g.IRI
	}

	created, err := e.db.CreateObject(ctx, o)
	if err != nil || !created {
		return err
	}
	log.Info().Str("object", o.IRI).Str("author", author).Str("kind", string(kind)).Msg("Stored content")

	e.notifyReply(ctx, o, in.activity.ID)
	if g != nil {
		e.groupAnnounce(ctx, g, o)
	}
	return nil
}

func (e *Engine) handleUpdate(ctx context.Context, in *inbound) error {
	actor := in.actor()
	obj := in.activity.EmbeddedObject()
	if obj == nil {
		if in.activity.ObjectID() == actor {
			e.refreshActor(ctx, actor)
		}
		return nil
	}
	if obj.IsActor() {
		if obj.ID != actor {
			return unauthorized(in, "update of another actor")
		}
		e.refreshActor(ctx, actor)
		return nil
	}

	existing, err := e.db.ReadObjectByIRI(ctx, obj.ID)
	if errors.Is(err, db.ErrNotFound) {
		log.Debug().Str("object", obj.ID).Msg("Update for unknown object")
		return nil
	}
	if err != nil {
		return err
	}
	if existing.AuthorIRI != actor {
		return unauthorized(in, "update of another actor's object")
	}

	existing.Content = obj.Content
	existing.Summary = obj.Summary
	existing.Sensitive = obj.Sensitive
	if obj.Source != nil {
		existing.Source = obj.Source.Content
	}
	if len(obj.Attachment) > 0 {
		existing.Attachments = normalizeAttachments(obj.Attachment)
	}
	if obj.Overlays != nil {
		existing.Overlays = normalizeOverlays(obj.Overlays)
	}
	if err := e.db.UpdateObject(ctx, existing); err != nil {
		return err
	}
	log.Info().Str("object", existing.IRI).Msg("Updated content")
	return nil
}

func (e *Engine) handleDelete(ctx context.Context, in *inbound) error {
	actor := in.actor()
	target := in.activity.ObjectID()

	if target == actor {
		if e.conf.IsLocalIRI(actor) {
			return nil
		}
		log.Info().Str("actor", actor).Msg("Remote actor deleted")
		return e.db.DeleteRemoteActor(ctx, actor)
	}

	obj, err := e.db.ReadObjectByIRI(ctx, target)
	if errors.Is(err, db.ErrNotFound) {
		log.Debug().Str("object", target).Msg("Delete for unknown object")
		return nil
	}
	if err != nil {
		return err
	}
	if obj.AuthorIRI != actor {
		return unauthorized(in, "delete of another actor's object")
	}
	if _, err := e.db.DeleteObject(ctx, target); err != nil {
		return err
	}
	log.Info().Str("object", target).Msg("Deleted content")
	return nil
}

// refreshActor refetches a remote actor after it announced a change.
func (e *Engine) refreshActor(ctx context.Context, iri string) {
	if e.conf.IsLocalIRI(iri) {
		return
	}
	if _, err := e.directory.Refresh(ctx, iri); err != nil {
		log.Warn().Err(err).Str("actor", iri).Msg("Could not refresh updated actor")
	}
}

// notifyReply tells the author of a local parent about a new reply.
func (e *Engine) notifyReply(ctx context.Context, o *domain.Object, activityURI string) {
	if o.InReplyTo == "" {
		return
	}
	parent, err := e.db.ReadObjectByIRI(ctx, o.InReplyTo)
	if err != nil {
		return
	}
	e.notify(ctx, parent.AuthorIRI, domain.NotifyReply, o.AuthorIRI, o.IRI, activityURI)
}

func visibilityOf(to, cc Audience) string {
	switch {
	case to.public():
		return domain.VisibilityPublic
	case cc.public():
		return domain.VisibilityUnlisted
	}
	for _, list := range []Audience{to, cc} {
		for _, iri := range list {
			if strings.HasSuffix(iri, "/followers") {
				return domain.VisibilityFollowers
			}
		}
	}
	return domain.VisibilityDirect
}

func normalizeAttachments(in Attachments) []domain.Attachment {
	var out []domain.Attachment
	for _, a := range in {
		if a.URL == "" {
			continue
		}
		kind := a.Type
		if kind == "" {
			kind = "Document"
		}
		out = append(out, domain.Attachment{
			Type:      kind,
			MediaType: a.MediaType,
			URL:       string(a.URL),
			Name:      a.Name,
			Width:     a.Width,
			Height:    a.Height,
		})
	}
	return out
}

// normalizeOverlays drops untyped overlays and clamps positions to the
// unit square.
func normalizeOverlays(in []domain.Overlay) []domain.Overlay {
	out := make([]domain.Overlay, 0, len(in))
	for _, ov := range in {
		if ov.Type == "" {
			continue
		}
		ov.X = clamp01(ov.X)
		ov.Y = clamp01(ov.Y)
		out = append(out, ov)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func storyExpiry(obj *Object, published time.Time) *time.Time {
	if t, ok := parseTime(obj.EndTime); ok {
		return &t
	}
	if published.IsZero() {
		published = time.Now().UTC()
	}
	t := published.Add(storyLifetime)
	return &t
}
