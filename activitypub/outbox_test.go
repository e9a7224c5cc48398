package activitypub

import (
	"context"
	"testing"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishNoteFansOut(t *testing.T) {
	e := setupEngine(t)
	remote := newFakeRemote(t)
	ctx := context.Background()
	alice := createAccount(t, e, "alice", false)
	bob := remote.iri("bob")
	dispatch(t, e, alice.IRI, activityJSON(remote.id("follows/1"), "Follow", bob, alice.IRI))

	note, results, err := e.PublishNote(ctx, alice, NoteDraft{Source: "**hi** there"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)

	assert.Equal(t, "<p><strong>hi</strong> there</p>", note.Content)
	assert.Equal(t, domain.VisibilityPublic, note.Visibility)
	assert.True(t, note.Local)
	assert.Equal(t, 1, reloadAccount(t, e, alice.IRI).PostCount)

	creates := remote.postsOfType("Create")
	require.Len(t, creates, 1)
	assert.NoError(t, creates[0].SigErr)
	assert.True(t, creates[0].Activity.IsPublic())
	obj := creates[0].Activity.EmbeddedObject()
	require.NotNil(t, obj)
	assert.Equal(t, note.IRI, obj.ID)
	assert.Equal(t, alice.IRI, string(obj.AttributedTo))
	require.NotNil(t, obj.Source)
	assert.Equal(t, "**hi** there", obj.Source.Content)

	n, err := e.db.CountOutbox(ctx, alice.IRI)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPublishNoteRejectsEmptySource(t *testing.T) {
	e := setupEngine(t)
	alice := createAccount(t, e, "alice", false)

	_, _, err := e.PublishNote(context.Background(), alice, NoteDraft{Source: "  \n"})
	assert.Error(t, err)
	assert.Equal(t, 0, reloadAccount(t, e, alice.IRI).PostCount)
}

func TestPublishDirectReply(t *testing.T) {
	e := setupEngine(t)
	remote := newFakeRemote(t)
	ctx := context.Background()
	alice := createAccount(t, e, "alice", false)
	bob, dave := remote.iri("bob"), remote.iri("dave")
	parentID := remote.id("notes/1")

	dispatch(t, e, alice.IRI, activityJSON(remote.id("follows/1"), "Follow", dave, alice.IRI))
	dispatch(t, e, "", activityJSON(remote.id("create/1"), "Create", bob, noteJSON(parentID, bob, nil)))

	reply, results, err := e.PublishNote(ctx, alice, NoteDraft{
		Source:     "just for you",
		InReplyTo:  parentID,
		Visibility: domain.VisibilityDirect,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, bob, results[0].Recipient)
	assert.Equal(t, parentID, reply.InReplyTo)
	assert.Equal(t, 1, reloadObject(t, e, parentID).ReplyCount)

	creates := remote.postsOfType("Create")
	require.Len(t, creates, 1)
	assert.Equal(t, "/users/bob/inbox", creates[0].Path)
	assert.False(t, creates[0].Activity.IsPublic())

	n, err := e.db.CountOutbox(ctx, alice.IRI)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPublishNoteIntoGroup(t *testing.T) {
	e := setupEngine(t)
	remote := newFakeRemote(t)
	ctx := context.Background()
	alice := createAccount(t, e, "alice", false)
	bob := createAccount(t, e, "bob", false)
	g := createGroup(t, e, "club", alice.IRI, domain.JoinOpen, domain.PostMembers)
	dave := remote.iri("dave")
	dispatch(t, e, g.IRI, activityJSON(remote.id("follows/1"), "Follow", dave, g.IRI))

	_, _, err := e.PublishNote(ctx, bob, NoteDraft{Source: "let me in", Audience: g.IRI})
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, 0, reloadAccount(t, e, bob.IRI).PostCount)

	require.NoError(t, e.db.SetGroupMember(ctx, g.IRI, bob.IRI, domain.RoleMember))
	note, results, err := e.PublishNote(ctx, bob, NoteDraft{Source: "hello club", Audience: g.IRI})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, dave, results[0].Recipient)

	stored := reloadObject(t, e, note.IRI)
	assert.Equal(t, g.IRI, stored.AudienceIRI)
	assert.Equal(t, 1, stored.AnnounceCount)

	group, err := e.db.ReadGroupByIRI(ctx, g.IRI)
	require.NoError(t, err)
	assert.Equal(t, 1, group.PostCount)

	announces := remote.postsOfType("Announce")
	require.Len(t, announces, 1)
	assert.Equal(t, g.IRI, string(announces[0].Activity.Actor))
	assert.Equal(t, note.IRI, announces[0].Activity.ObjectID())
	assert.NoError(t, announces[0].SigErr)
}

func TestEditAndDeleteNote(t *testing.T) {
	e := setupEngine(t)
	remote := newFakeRemote(t)
	ctx := context.Background()
	alice := createAccount(t, e, "alice", false)
	carol := createAccount(t, e, "carol", false)
	bob := remote.iri("bob")
	dispatch(t, e, alice.IRI, activityJSON(remote.id("follows/1"), "Follow", bob, alice.IRI))

	note, _, err := e.PublishNote(ctx, alice, NoteDraft{Source: "first draft"})
	require.NoError(t, err)

	_, _, err = e.EditNote(ctx, carol, note.IRI, "mine now")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, _, err = e.EditNote(ctx, alice, e.conf.ObjectIRI("missing"), "x")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	edited, results, err := e.EditNote(ctx, alice, note.IRI, "_second_ draft")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "<p><em>second</em> draft</p>", edited.Content)
	assert.Equal(t, "<p><em>second</em> draft</p>", reloadObject(t, e, note.IRI).Content)

	updates := remote.postsOfType("Update")
	require.Len(t, updates, 1)
	obj := updates[0].Activity.EmbeddedObject()
	require.NotNil(t, obj)
	assert.Equal(t, note.IRI, obj.ID)
	assert.NotEmpty(t, obj.Updated)

	_, err = e.DeleteNote(ctx, carol, note.IRI)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = e.DeleteNote(ctx, alice, note.IRI)
	require.NoError(t, err)
	_, err = e.db.ReadObjectByIRI(ctx, note.IRI)
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Equal(t, 0, reloadAccount(t, e, alice.IRI).PostCount)

	deletes := remote.postsOfType("Delete")
	require.Len(t, deletes, 1)
	tombstone := deletes[0].Activity.EmbeddedObject()
	require.NotNil(t, tombstone)
	assert.Equal(t, "Tombstone", tombstone.Type)
	assert.Equal(t, "Note", tombstone.FormerType)
	assert.Equal(t, note.IRI, tombstone.ID)
}

func TestReactionsOnRemoteObject(t *testing.T) {
	e := setupEngine(t)
	remote := newFakeRemote(t)
	ctx := context.Background()
	alice := createAccount(t, e, "alice", false)
	bob := remote.iri("bob")
	noteID := remote.id("notes/1")
	dispatch(t, e, "", activityJSON(remote.id("create/1"), "Create", bob, noteJSON(noteID, bob, nil)))

	_, err := e.Like(ctx, alice, remote.id("notes/unknown"))
	assert.ErrorIs(t, err, ErrObjectNotFound)

	results, err := e.Like(ctx, alice, noteID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	assert.Equal(t, 1, reloadObject(t, e, noteID).LikeCount)

	results, err = e.Like(ctx, alice, noteID)
	require.NoError(t, err)
	assert.Empty(t, results)
	likes := remote.postsOfType("Like")
	require.Len(t, likes, 1)
	assert.Equal(t, noteID, likes[0].Activity.ObjectID())

	_, err = e.Announce(ctx, alice, noteID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloadObject(t, e, noteID).AnnounceCount)
	require.Len(t, remote.postsOfType("Announce"), 1)

	n, err := e.db.CountOutbox(ctx, alice.IRI)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.Unlike(ctx, alice, noteID)
	require.NoError(t, err)
	_, err = e.Unannounce(ctx, alice, noteID)
	require.NoError(t, err)
	o := reloadObject(t, e, noteID)
	assert.Zero(t, o.LikeCount)
	assert.Zero(t, o.AnnounceCount)

	undos := remote.postsOfType("Undo")
	require.Len(t, undos, 2)
	undone := undos[0].Activity.EmbeddedObject()
	require.NotNil(t, undone)
	assert.Equal(t, "Like", undone.Type)
	assert.Equal(t, likes[0].Activity.ID, undone.ID)

	results, err = e.Unlike(ctx, alice, noteID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFollowAndUnfollowRemote(t *testing.T) {
	e := setupEngine(t)
	remote := newFakeRemote(t)
	ctx := context.Background()
	alice := createAccount(t, e, "alice", false)
	bob := remote.iri("bob")

	_, err := e.Follow(ctx, alice, alice.IRI)
	assert.Error(t, err)

	_, err = e.Follow(ctx, alice, bob)
	require.NoError(t, err)
	followID := remote.postsOfType("Follow")[0].Activity.ID
	dispatch(t, e, alice.IRI, activityJSON(remote.id("accept/1"), "Accept", bob, followID))
	require.Equal(t, 1, reloadAccount(t, e, alice.IRI).FollowingCount)

	// A live edge is not followed twice.
	results, err := e.Follow(ctx, alice, bob)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Len(t, remote.postsOfType("Follow"), 1)

	results, err = e.Unfollow(ctx, alice, bob)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, reloadAccount(t, e, alice.IRI).FollowingCount)

	undos := remote.postsOfType("Undo")
	require.Len(t, undos, 1)
	embedded := undos[0].Activity.EmbeddedObject()
	require.NotNil(t, embedded)
	assert.Equal(t, followID, embedded.ID)
	assert.Equal(t, bob, embedded.ObjectID())

	results, err = e.Unfollow(ctx, alice, bob)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFollowByUnknownActor(t *testing.T) {
	e := setupEngine(t)
	remote := newFakeRemote(t)
	alice := createAccount(t, e, "alice", false)

	_, err := e.Follow(context.Background(), alice, remote.iri("gone"))
	assert.ErrorIs(t, err, ErrActorNotFound)
	assert.Equal(t, 0, reloadAccount(t, e, alice.IRI).FollowingCount)
}
