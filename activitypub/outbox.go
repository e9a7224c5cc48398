package activitypub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// The methods in this file are what local application code calls to act
// on behalf of a local actor. Each one changes the store first and then
// delivers; a failed delivery never undoes the local change.

// NoteDraft is a note composed by a local account.
type NoteDraft struct {
	Source     string // markdown
	Summary    string
	InReplyTo  string
	Audience   string // group to post into, local or remote
	Visibility string
	Sensitive  bool
}

func (e *Engine) newActivity(kind ActivityType, actor string, object interface{}) *Activity {
	return &Activity{
		Context:   ActivityStreamsContext,
		ID:        e.newActivityID(),
		Type:      kind.String(),
		Actor:     Ref(actor),
		Object:    rawJSON(object),
		Published: formatTime(time.Now()),
	}
}

func followObject(id, follower, following string) *Object {
	return &Object{
		ID:     id,
		Type:   ActivityFollow.String(),
		Actor:  Ref(follower),
		Object: rawJSON(following),
	}
}

// ObjectDocument is the ActivityStreams form of a stored content object.
func ObjectDocument(o *domain.Object) *Object {
	kind := "Note"
	if o.Kind == domain.KindStory {
		kind = "Story"
	}
	doc := &Object{
		ID:           o.IRI,
		Type:         kind,
		AttributedTo: Ref(o.AuthorIRI),
		Content:      o.Content,
		Summary:      o.Summary,
		InReplyTo:    Ref(o.InReplyTo),
		Published:    formatTime(o.PublishedAt),
		Sensitive:    o.Sensitive,
		Audience:     Ref(o.AudienceIRI),
		URL:          Ref(o.IRI),
		Overlays:     o.Overlays,
	}
	doc.To, doc.Cc = addressing(o)
	if o.Source != "" {
		doc.Source = &Source{Content: o.Source, MediaType: "text/markdown"}
	}
	if o.UpdatedAt != nil {
		doc.Updated = formatTime(*o.UpdatedAt)
	}
	if o.ExpiresAt != nil {
		doc.EndTime = formatTime(*o.ExpiresAt)
	}
	for _, a := range o.Attachments {
		doc.Attachment = append(doc.Attachment, Attachment{
			Type:      a.Type,
			MediaType: a.MediaType,
			URL:       Ref(a.URL),
			Name:      a.Name,
			Width:     a.Width,
			Height:    a.Height,
		})
	}
	return doc
}

func addressing(o *domain.Object) (Audience, Audience) {
	followers := o.AuthorIRI + "/followers"
	var to, cc Audience
	switch o.Visibility {
	case domain.VisibilityPublic:
		to, cc = Audience{PublicCollection}, Audience{followers}
	case domain.VisibilityUnlisted:
		to, cc = Audience{followers}, Audience{PublicCollection}
	case domain.VisibilityFollowers:
		to = Audience{followers}
	}
	if o.AudienceIRI != "" {
		to = append(to, o.AudienceIRI)
	}
	return to, cc
}

// Follow asks target to accept acc as a follower. Remote targets get a
// pending edge right away; local targets answer in-process.
func (e *Engine) Follow(ctx context.Context, acc *domain.Account, target string) ([]DeliveryResult, error) {
	actor, err := e.directory.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	if actor.IRI == acc.IRI {
		return nil, fmt.Errorf("%s cannot follow itself", acc.Username)
	}
	if known, err := e.hasLiveFollow(ctx, acc.IRI, actor.IRI); err != nil || known {
		return nil, err
	}

	follow := e.newActivity(ActivityFollow, acc.IRI, actor.IRI)
	follow.To = Audience{actor.IRI}
	if !actor.Local {
		_, err := e.db.CreateFollow(ctx, &domain.Follow{
			FollowerIRI:  acc.IRI,
			FollowingIRI: actor.IRI,
			Status:       domain.FollowPending,
			ActivityURI:  follow.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store follow: %w", err)
		}
	}
	return e.Deliver(ctx, follow, AccountSender(acc), []string{actor.IRI}), nil
}

func (e *Engine) Unfollow(ctx context.Context, acc *domain.Account, target string) ([]DeliveryResult, error) {
	removed, err := e.db.DeleteFollow(ctx, acc.IRI, target)
	if err != nil || removed == nil {
		return nil, err
	}
	undo := e.newActivity(ActivityUndo, acc.IRI, followObject(removed.ActivityURI, acc.IRI, target))
	undo.To = Audience{target}
	return e.Deliver(ctx, undo, AccountSender(acc), []string{target}), nil
}

// AcceptFollowRequest approves a pending follower of a local account or
// group.
func (e *Engine) AcceptFollowRequest(ctx context.Context, localIRI, follower string) ([]DeliveryResult, error) {
	as, err := e.senderFor(ctx, localIRI)
	if err != nil {
		return nil, err
	}
	edge, err := e.db.ReadFollow(ctx, follower, as.IRI)
	if err != nil {
		return nil, err
	}
	accepted, err := e.db.AcceptFollow(ctx, follower, as.IRI)
	if err != nil || !accepted {
		return nil, err
	}
	return e.answerFollow(ctx, as, follower, edge.ActivityURI, ActivityAccept), nil
}

// RejectFollowRequest drops a pending or accepted follower of a local
// account or group.
func (e *Engine) RejectFollowRequest(ctx context.Context, localIRI, follower string) ([]DeliveryResult, error) {
	as, err := e.senderFor(ctx, localIRI)
	if err != nil {
		return nil, err
	}
	removed, err := e.db.DeleteFollow(ctx, follower, as.IRI)
	if err != nil || removed == nil {
		return nil, err
	}
	return e.answerFollow(ctx, as, follower, removed.ActivityURI, ActivityReject), nil
}

// PublishNote renders and stores a new note, then sends a Create to the
// author's followers, the parent's author and a remote group audience.
// A post into a local group is checked against the group's posting
// policy and boosted by the group.
func (e *Engine) PublishNote(ctx context.Context, acc *domain.Account, draft NoteDraft) (*domain.Object, []DeliveryResult, error) {
	content, err := util.RenderMarkdown(draft.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to render note: %w", err)
	}
	if content == "" {
		return nil, nil, errors.New("note is empty")
	}
	visibility := draft.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}

	var extra []string
	var g *domain.Group
	if draft.Audience != "" {
		_, local, err := e.localTarget(ctx, draft.Audience)
		if err != nil {
			return nil, nil, err
		}
		if local != nil {
			allowed, err := e.mayPost(ctx, local, acc.IRI)
			if err != nil {
				return nil, nil, err
			}
			if !allowed {
				return nil, nil, fmt.Errorf("posting to %s: %w", local.Name, ErrNotAuthorized)
			}
			g = local
		} else {
			extra = append(extra, draft.Audience)
		}
	}
	if draft.InReplyTo != "" {
		if parent, err := e.db.ReadObjectByIRI(ctx, draft.InReplyTo); err == nil && !e.conf.IsLocalIRI(parent.AuthorIRI) {
			extra = append(extra, parent.AuthorIRI)
		}
	}

	id := uuid.New()
	o := &domain.Object{
		Id:          id,
		IRI:         e.conf.ObjectIRI(id.String()),
		Kind:        domain.KindNote,
		AuthorIRI:   acc.IRI,
		AudienceIRI: draft.Audience,
		Content:     content,
		Source:      draft.Source,
		Summary:     draft.Summary,
		Visibility:  visibility,
		InReplyTo:   draft.InReplyTo,
		Sensitive:   draft.Sensitive,
		Local:       true,
		PublishedAt: time.Now().UTC(),
	}
	if _, err := e.db.CreateObject(ctx, o); err != nil {
		return nil, nil, fmt.Errorf("failed to store note: %w", err)
	}

	doc := ObjectDocument(o)
	if visibility == domain.VisibilityDirect {
		doc.To = append(doc.To, extra...)
	} else {
		doc.Cc = append(doc.Cc, extra...)
	}
	create := e.newActivity(ActivityCreate, acc.IRI, doc)
	create.To, create.Cc = doc.To, doc.Cc
	e.notifyReply(ctx, o, create.ID)
	log.Info().Str("object", o.IRI).Str("account", acc.Username).Msg("Published note")

	var results []DeliveryResult
	if visibility == domain.VisibilityDirect {
		results = e.Deliver(ctx, create, AccountSender(acc), extra)
	} else {
		results = e.DeliverToFollowers(ctx, create, AccountSender(acc), extra...)
	}
	if g != nil {
		results = append(results, e.groupAnnounce(ctx, g, o)...)
	}
	return o, results, nil
}

// EditNote replaces the source of one of acc's notes and sends an Update.
func (e *Engine) EditNote(ctx context.Context, acc *domain.Account, objectIRI, source string) (*domain.Object, []DeliveryResult, error) {
	o, err := e.ownObject(ctx, acc, objectIRI)
	if err != nil {
		return nil, nil, err
	}
	content, err := util.RenderMarkdown(source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to render note: %w", err)
	}
	if content == "" {
		return nil, nil, errors.New("note is empty")
	}
	o.Content, o.Source = content, source
	if err := e.db.UpdateObject(ctx, o); err != nil {
		return nil, nil, fmt.Errorf("failed to update note: %w", err)
	}

	doc := ObjectDocument(o)
	update := e.newActivity(ActivityUpdate, acc.IRI, doc)
	update.To, update.Cc = doc.To, doc.Cc
	return o, e.DeliverToFollowers(ctx, update, AccountSender(acc), e.remoteAudience(o)...), nil
}

// DeleteNote removes one of acc's notes and sends a Delete carrying a
// Tombstone.
func (e *Engine) DeleteNote(ctx context.Context, acc *domain.Account, objectIRI string) ([]DeliveryResult, error) {
	o, err := e.ownObject(ctx, acc, objectIRI)
	if err != nil {
		return nil, err
	}
	if _, err := e.db.DeleteObject(ctx, objectIRI); err != nil {
		return nil, fmt.Errorf("failed to delete note: %w", err)
	}

	tombstone := &Object{
		ID:         objectIRI,
		Type:       "Tombstone",
		FormerType: ObjectDocument(o).Type,
		Deleted:    formatTime(time.Now()),
	}
	del := e.newActivity(ActivityDelete, acc.IRI, tombstone)
	del.To = Audience{PublicCollection}
	return e.DeliverToFollowers(ctx, del, AccountSender(acc), e.remoteAudience(o)...), nil
}

func (e *Engine) Like(ctx context.Context, acc *domain.Account, objectIRI string) ([]DeliveryResult, error) {
	return e.react(ctx, acc, objectIRI, ActivityLike)
}

func (e *Engine) Announce(ctx context.Context, acc *domain.Account, objectIRI string) ([]DeliveryResult, error) {
	return e.react(ctx, acc, objectIRI, ActivityAnnounce)
}

func (e *Engine) Unlike(ctx context.Context, acc *domain.Account, objectIRI string) ([]DeliveryResult, error) {
	return e.unreact(ctx, acc, objectIRI, ActivityLike)
}

func (e *Engine) Unannounce(ctx context.Context, acc *domain.Account, objectIRI string) ([]DeliveryResult, error) {
	return e.unreact(ctx, acc, objectIRI, ActivityAnnounce)
}

// react records a Like or Announce by acc and tells the object's author.
// An Announce also goes to acc's followers. Repeating it sends nothing.
func (e *Engine) react(ctx context.Context, acc *domain.Account, objectIRI string, kind ActivityType) ([]DeliveryResult, error) {
	o, err := e.db.ReadObjectByIRI(ctx, objectIRI)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}

	act := e.newActivity(kind, acc.IRI, objectIRI)
	created, err := e.db.CreateInteraction(ctx, &domain.Interaction{
		Kind:        interactionKind(kind),
		ActorIRI:    acc.IRI,
		ObjectIRI:   objectIRI,
		ActivityURI: act.ID,
	})
	if err != nil || !created {
		return nil, err
	}
	note := domain.NotifyLike
	if kind == ActivityAnnounce {
		note = domain.NotifyAnnounce
	}
	e.notify(ctx, o.AuthorIRI, note, acc.IRI, objectIRI, act.ID)

	author := e.remoteAuthor(o)
	if kind == ActivityLike {
		act.To = Audience{o.AuthorIRI}
		return e.Deliver(ctx, act, AccountSender(acc), author), nil
	}
	act.To = Audience{PublicCollection}
	act.Cc = Audience{o.AuthorIRI, acc.FollowersIRI()}
	return e.DeliverToFollowers(ctx, act, AccountSender(acc), author...), nil
}

func (e *Engine) unreact(ctx context.Context, acc *domain.Account, objectIRI string, kind ActivityType) ([]DeliveryResult, error) {
	removed, err := e.db.DeleteInteraction(ctx, interactionKind(kind), acc.IRI, objectIRI)
	if err != nil || removed == nil {
		return nil, err
	}

	undo := e.newActivity(ActivityUndo, acc.IRI, &Object{
		ID:     removed.ActivityURI,
		Type:   kind.String(),
		Actor:  Ref(acc.IRI),
		Object: rawJSON(objectIRI),
	})
	var author []string
	if o, err := e.db.ReadObjectByIRI(ctx, objectIRI); err == nil {
		author = e.remoteAuthor(o)
		undo.To = Audience{o.AuthorIRI}
	}
	if kind == ActivityLike {
		return e.Deliver(ctx, undo, AccountSender(acc), author), nil
	}
	undo.Cc = Audience{PublicCollection}
	return e.DeliverToFollowers(ctx, undo, AccountSender(acc), author...), nil
}

func (e *Engine) ownObject(ctx context.Context, acc *domain.Account, objectIRI string) (*domain.Object, error) {
	o, err := e.db.ReadObjectByIRI(ctx, objectIRI)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.AuthorIRI != acc.IRI {
		return nil, ErrNotAuthorized
	}
	return o, nil
}

func (e *Engine) remoteAuthor(o *domain.Object) []string {
	if o.AuthorIRI == "" || e.conf.IsLocalIRI(o.AuthorIRI) {
		return nil
	}
	return []string{o.AuthorIRI}
}

// remoteAudience is the group a note was posted into when that group
// lives on another server.
func (e *Engine) remoteAudience(o *domain.Object) []string {
	if o.AudienceIRI == "" || e.conf.IsLocalIRI(o.AudienceIRI) {
		return nil
	}
	return []string{o.AudienceIRI}
}
