package web

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePageParam(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"1", 1},
		{"7", 7},
		{"0", 0},
		{"-3", 0},
		{"abc", 0},
		{"2.5", 0},
		{"9223372036854775807", maxPage},
		{"99999999999999999999", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParsePageParam(tt.in), "page %q", tt.in)
	}
}

func TestCollectionSummary(t *testing.T) {
	ts := setupServer(t, "")
	ctx := context.Background()
	alice := ts.account(t, "alice", false)
	bob := ts.account(t, "bob", false)
	_, err := ts.db.CreateFollow(ctx, &domain.Follow{FollowerIRI: bob.IRI, FollowingIRI: alice.IRI, Status: domain.FollowAccepted})
	require.NoError(t, err)

	w := ts.get(t, "/users/alice/followers")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/activity+json; charset=utf-8", w.Header().Get("Content-Type"))
	summary := decode(t, w)
	assert.Equal(t, activitypub.ActivityStreamsContext, summary["@context"])
	assert.Equal(t, alice.FollowersIRI(), summary["id"])
	assert.Equal(t, "OrderedCollection", summary["type"])
	assert.EqualValues(t, 1, summary["totalItems"])
	assert.Equal(t, alice.FollowersIRI()+"?page=1", summary["first"])

	page := decode(t, ts.get(t, "/users/alice/followers?page=1"))
	assert.Equal(t, "OrderedCollectionPage", page["type"])
	assert.Equal(t, alice.FollowersIRI(), page["partOf"])
	assert.Equal(t, []interface{}{bob.IRI}, page["orderedItems"])
	assert.NotContains(t, page, "next")
	assert.NotContains(t, page, "prev")

	following := decode(t, ts.get(t, "/users/bob/following?page=1"))
	assert.Equal(t, []interface{}{alice.IRI}, following["orderedItems"])
}

func TestCollectionPendingFollowersAreHidden(t *testing.T) {
	ts := setupServer(t, "")
	ctx := context.Background()
	alice := ts.account(t, "alice", true)
	_, err := ts.db.CreateFollow(ctx, &domain.Follow{FollowerIRI: "https://remote.example/users/bob", FollowingIRI: alice.IRI, Status: domain.FollowPending})
	require.NoError(t, err)

	summary := decode(t, ts.get(t, "/users/alice/followers"))
	assert.EqualValues(t, 0, summary["totalItems"])
}

func TestCollectionEmptyPage(t *testing.T) {
	ts := setupServer(t, "")
	ts.account(t, "alice", false)

	for _, path := range []string{"/users/alice/outbox?page=1", "/users/alice/following?page=3"} {
		w := ts.get(t, path)
		require.Equal(t, http.StatusOK, w.Code, path)
		page := decode(t, w)
		assert.Equal(t, []interface{}{}, page["orderedItems"], path)
	}
}

func TestCollectionHugePageIsClamped(t *testing.T) {
	ts := setupServer(t, "")
	ctx := context.Background()
	alice := ts.account(t, "alice", false)
	_, err := ts.db.CreateFollow(ctx, &domain.Follow{
		FollowerIRI:  "https://remote.example/users/bob",
		FollowingIRI: alice.IRI,
		Status:       domain.FollowAccepted,
	})
	require.NoError(t, err)

	w := ts.get(t, "/users/alice/followers?page=9223372036854775807")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	assert.Equal(t, fmt.Sprintf("%s?page=%d", alice.FollowersIRI(), maxPage), page["id"])
	assert.Equal(t, []interface{}{}, page["orderedItems"])
	assert.NotContains(t, page, "next")
}

func TestCollectionPaging(t *testing.T) {
	ts := setupServer(t, "")
	ctx := context.Background()
	alice := ts.account(t, "alice", false)

	total := itemsPerPage + 5
	for i := 0; i < total; i++ {
		_, err := ts.db.CreateFollow(ctx, &domain.Follow{
			FollowerIRI:  fmt.Sprintf("https://remote.example/users/u%d", i),
			FollowingIRI: alice.IRI,
			Status:       domain.FollowAccepted,
		})
		require.NoError(t, err)
	}

	summary := decode(t, ts.get(t, "/users/alice/followers"))
	assert.EqualValues(t, total, summary["totalItems"])

	first := decode(t, ts.get(t, "/users/alice/followers?page=1"))
	assert.Len(t, first["orderedItems"], itemsPerPage)
	assert.Equal(t, alice.FollowersIRI()+"?page=2", first["next"])
	assert.NotContains(t, first, "prev")

	second := decode(t, ts.get(t, "/users/alice/followers?page=2"))
	assert.Len(t, second["orderedItems"], 5)
	assert.NotContains(t, second, "next")
	assert.Equal(t, alice.FollowersIRI()+"?page=1", second["prev"])

	seen := map[interface{}]bool{}
	for _, page := range []map[string]interface{}{first, second} {
		for _, item := range page["orderedItems"].([]interface{}) {
			assert.False(t, seen[item], "%v listed twice", item)
			seen[item] = true
		}
	}
	assert.Len(t, seen, total)
}

func TestOutboxCollection(t *testing.T) {
	ts := setupServer(t, "")
	ctx := context.Background()
	alice := ts.account(t, "alice", false)

	note, _, err := ts.engine.PublishNote(ctx, alice, activitypub.NoteDraft{Source: "first post"})
	require.NoError(t, err)
	_, _, err = ts.engine.PublishNote(ctx, alice, activitypub.NoteDraft{Source: "just us", Visibility: domain.VisibilityFollowers})
	require.NoError(t, err)

	summary := decode(t, ts.get(t, "/users/alice/outbox"))
	assert.EqualValues(t, 1, summary["totalItems"])

	page := decode(t, ts.get(t, "/users/alice/outbox?page=1"))
	items := page["orderedItems"].([]interface{})
	require.Len(t, items, 1)
	create := items[0].(map[string]interface{})
	assert.Equal(t, "Create", create["type"])
	assert.Equal(t, alice.IRI, create["actor"])
	assert.Equal(t, note.IRI, create["object"].(map[string]interface{})["id"])
}

func TestGroupCollections(t *testing.T) {
	ts := setupServer(t, "")
	ctx := context.Background()
	owner := ts.account(t, "owner", false)
	g := ts.group(t, "gophers", owner.IRI, domain.JoinOpen)
	_, err := ts.db.CreateFollow(ctx, &domain.Follow{FollowerIRI: owner.IRI, FollowingIRI: g.IRI, Status: domain.FollowAccepted})
	require.NoError(t, err)

	followers := decode(t, ts.get(t, "/groups/gophers/followers?page=1"))
	assert.Equal(t, []interface{}{owner.IRI}, followers["orderedItems"])

	outbox := decode(t, ts.get(t, "/groups/gophers/outbox"))
	assert.Equal(t, g.OutboxIRI(), outbox["id"])
	assert.EqualValues(t, 0, outbox["totalItems"])
}

func TestCollectionUnknownActor(t *testing.T) {
	ts := setupServer(t, "")

	for _, path := range []string{
		"/users/nobody/outbox",
		"/users/nobody/followers?page=1",
		"/users/nobody/following",
		"/groups/nobody/outbox",
		"/groups/nobody/followers",
	} {
		assert.Equal(t, http.StatusNotFound, ts.get(t, path).Code, path)
	}
}
