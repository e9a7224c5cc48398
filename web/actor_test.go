package web

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserActor(t *testing.T) {
	ts := setupServer(t, "")
	alice := ts.account(t, "alice", true)

	w := ts.get(t, "/users/alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/activity+json; charset=utf-8", w.Header().Get("Content-Type"))

	var doc activitypub.ActorDocument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, alice.IRI, doc.ID)
	assert.Equal(t, "Person", doc.Type)
	assert.Equal(t, "alice", doc.PreferredUsername)
	assert.Equal(t, "ALICE", doc.Name)
	assert.Equal(t, "https://local.example/users/alice/inbox", doc.Inbox)
	assert.Equal(t, alice.OutboxIRI(), doc.Outbox)
	assert.Equal(t, alice.FollowersIRI(), doc.Followers)
	assert.Equal(t, alice.FollowingIRI(), doc.Following)
	assert.True(t, doc.ManuallyApprovesFollowers)
	require.NotNil(t, doc.Endpoints)
	assert.Equal(t, "https://local.example/inbox", doc.Endpoints.SharedInbox)
	assert.Equal(t, alice.KeyID(), doc.PublicKey.ID)
	assert.Equal(t, alice.IRI, doc.PublicKey.Owner)
	assert.Equal(t, alice.WebPublicKey, doc.PublicKey.PublicKeyPem)
	assert.NotContains(t, w.Body.String(), "PRIVATE KEY")

	raw := decode(t, w)
	assert.Equal(t, []interface{}{activitypub.ActivityStreamsContext, activitypub.SecurityContext}, raw["@context"])
}

func TestUserActorNotFound(t *testing.T) {
	ts := setupServer(t, "")

	w := ts.get(t, "/users/nobody")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"Not Found"}`, w.Body.String())
}

func TestGroupActor(t *testing.T) {
	ts := setupServer(t, "")
	owner := ts.account(t, "owner", false)
	ts.group(t, "open", owner.IRI, domain.JoinOpen)
	g := ts.group(t, "closed", owner.IRI, domain.JoinApproval)

	w := ts.get(t, "/groups/closed")
	require.Equal(t, http.StatusOK, w.Code)
	var doc activitypub.ActorDocument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "Group", doc.Type)
	assert.Equal(t, g.IRI, doc.ID)
	assert.Equal(t, "closed", doc.Name)
	assert.Equal(t, g.InboxIRI(), doc.Inbox)
	assert.Equal(t, g.KeyID(), doc.PublicKey.ID)
	assert.Empty(t, doc.Following)
	assert.True(t, doc.ManuallyApprovesFollowers)

	w = ts.get(t, "/groups/open")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.False(t, doc.ManuallyApprovesFollowers)

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/groups/nobody").Code)
}

func TestObjectEndpoint(t *testing.T) {
	ts := setupServer(t, "")
	ctx := context.Background()
	alice := ts.account(t, "alice", false)

	note, _, err := ts.engine.PublishNote(ctx, alice, activitypub.NoteDraft{Source: "hello **world**"})
	require.NoError(t, err)

	w := ts.get(t, "/objects/"+note.Id.String())
	require.Equal(t, http.StatusOK, w.Code)
	var doc activitypub.Object
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, note.IRI, doc.ID)
	assert.Equal(t, "Note", doc.Type)
	assert.Equal(t, alice.IRI, string(doc.AttributedTo))
	assert.Contains(t, doc.Content, "<strong>world</strong>")
	assert.True(t, doc.To.Contains(activitypub.PublicCollection))

	hidden := func(t *testing.T, o *domain.Object) {
		t.Helper()
		o.Id = uuid.New()
		o.IRI = ts.conf.ObjectIRI(o.Id.String())
		_, err := ts.db.CreateObject(ctx, o)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, ts.get(t, "/objects/"+o.Id.String()).Code, o.Visibility)
	}
	t.Run("direct", func(t *testing.T) {
		hidden(t, &domain.Object{AuthorIRI: alice.IRI, Content: "secret", Visibility: domain.VisibilityDirect, Local: true})
	})
	t.Run("followers only", func(t *testing.T) {
		hidden(t, &domain.Object{AuthorIRI: alice.IRI, Content: "friends", Visibility: domain.VisibilityFollowers, Local: true})
	})
	t.Run("remote copy", func(t *testing.T) {
		hidden(t, &domain.Object{AuthorIRI: "https://remote.example/users/bob", Content: "cached", Visibility: domain.VisibilityPublic})
	})

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/objects/not-a-uuid").Code)
	assert.Equal(t, http.StatusNotFound, ts.get(t, "/objects/"+uuid.NewString()).Code)
}
