package activitypub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/deemkeen/stegofed/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefForms(t *testing.T) {
	tests := map[string]Ref{
		`"https://example.com/a"`:                            "https://example.com/a",
		`{"id":"https://example.com/a","type":"Person"}`:     "https://example.com/a",
		`{"type":"Link","href":"https://example.com/a"}`:     "https://example.com/a",
		`{"type":"Image","url":"https://example.com/a.png"}`: "https://example.com/a.png",
		`{"type":"Image","url":[{"href":"https://x/1"}]}`:    "https://x/1",
		`["", "https://example.com/a", "https://b"]`:         "https://example.com/a",
		`null`: "",
	}
	for in, want := range tests {
		var r Ref
		require.NoError(t, json.Unmarshal([]byte(in), &r), in)
		assert.Equal(t, want, r, in)
	}
}

func TestAudienceForms(t *testing.T) {
	var a Audience
	require.NoError(t, json.Unmarshal([]byte(`"https://www.w3.org/ns/activitystreams#Public"`), &a))
	assert.True(t, a.public())

	a = nil
	require.NoError(t, json.Unmarshal([]byte(`["https://a", {"id":"https://b"}, ""]`), &a))
	assert.Equal(t, Audience{"https://a", "https://b"}, a)
	assert.True(t, a.Contains("https://b"))
	assert.False(t, a.public())

	a = nil
	require.NoError(t, json.Unmarshal([]byte(`null`), &a))
	assert.Empty(t, a)

	a = Audience{"as:Public"}
	assert.True(t, a.public())
}

func TestParseActivityType(t *testing.T) {
	for kind := ActivityFollow; kind < numActivityTypes; kind++ {
		assert.Equal(t, kind, ParseActivityType(kind.String()))
	}
	assert.Equal(t, ActivityUnknown, ParseActivityType("Move"))
	assert.Equal(t, ActivityUnknown, ParseActivityType("follow"))
	assert.Equal(t, "Unknown", ActivityUnknown.String())
}

func TestActivityValidate(t *testing.T) {
	tests := map[string]bool{
		`{"id":"https://a/1","type":"Like","actor":"https://a/u","object":"https://b/n"}`: true,
		`{"id":"https://a/1","type":"Like","actor":{"id":"https://a/u"}}`:                 true,
		`{"type":"Like","actor":"https://a/u"}`:                                           false,
		`{"id":"https://a/1","actor":"https://a/u"}`:                                      false,
		`{"id":"https://a/1","type":"Like"}`:                                              false,
		`{"id":"https://b/1","type":"Like","actor":"https://a/u"}`:                        false,
		`{"id":"http://a/1","type":"Like","actor":"https://a/u"}`:                         false,
		`{"id":"urn:x:1","type":"Like","actor":"https://a/u"}`:                            false,
		`{"id":"https://A/1","type":"Like","actor":"https://a/u"}`:                        true,
	}
	for body, valid := range tests {
		a, err := ParseActivity([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, valid, a.Validate() == nil, body)
	}

	_, err := ParseActivity([]byte(`not json`))
	assert.Error(t, err)
}

func TestActivityObject(t *testing.T) {
	a, err := ParseActivity([]byte(`{"id":"https://a/1","type":"Like","actor":"https://a/u","object":"https://b/n","cc":"https://www.w3.org/ns/activitystreams#Public"}`))
	require.NoError(t, err)
	assert.Equal(t, "https://b/n", a.ObjectID())
	assert.Nil(t, a.EmbeddedObject())
	assert.True(t, a.IsPublic())
	assert.Equal(t, ActivityLike, a.Kind())

	a, err = ParseActivity([]byte(`{"id":"https://a/2","type":"Undo","actor":"https://a/u",
		"object":{"id":"https://a/1","type":"Follow","actor":"https://a/u","object":"https://b/v"}}`))
	require.NoError(t, err)
	assert.Equal(t, "https://a/1", a.ObjectID())
	obj := a.EmbeddedObject()
	require.NotNil(t, obj)
	assert.Equal(t, "Follow", obj.Type)
	assert.Equal(t, "https://b/v", obj.ObjectID())
	assert.False(t, a.IsPublic())

	a, err = ParseActivity([]byte(`{"id":"https://a/3","type":"Update","actor":"https://a/u","object":{"id":"https://a/u","type":"Service"}}`))
	require.NoError(t, err)
	assert.True(t, a.EmbeddedObject().IsActor())
}

func TestVisibilityOf(t *testing.T) {
	followers := "https://a/users/u/followers"
	assert.Equal(t, domain.VisibilityPublic, visibilityOf(Audience{PublicCollection}, Audience{followers}))
	assert.Equal(t, domain.VisibilityUnlisted, visibilityOf(Audience{followers}, Audience{PublicCollection}))
	assert.Equal(t, domain.VisibilityFollowers, visibilityOf(Audience{followers}, nil))
	assert.Equal(t, domain.VisibilityDirect, visibilityOf(Audience{"https://b/users/v"}, nil))
	assert.Equal(t, domain.VisibilityDirect, visibilityOf(nil, nil))
}

func TestNormalizeAttachments(t *testing.T) {
	out := normalizeAttachments(Attachments{
		{Type: "Image", MediaType: "image/png", URL: "https://cdn/a.png", Width: 10, Height: 20},
		{Type: "Image"},
		{URL: "https://cdn/b.bin", Name: "b"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, domain.Attachment{Type: "Image", MediaType: "image/png", URL: "https://cdn/a.png", Width: 10, Height: 20}, out[0])
	assert.Equal(t, "Document", out[1].Type)
	assert.Equal(t, "b", out[1].Name)

	var single Attachments
	require.NoError(t, json.Unmarshal([]byte(`{"type":"Video","url":{"href":"https://cdn/v.mp4"}}`), &single))
	require.Len(t, single, 1)
	assert.Equal(t, Ref("https://cdn/v.mp4"), single[0].URL)
}

func TestNormalizeOverlays(t *testing.T) {
	out := normalizeOverlays([]domain.Overlay{
		{Type: "text", Text: "hi", X: -1, Y: 2},
		{Text: "no type", X: 0.5, Y: 0.5},
		{Type: "sticker", X: 0.25, Y: 0.75, Color: "#fff"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, domain.Overlay{Type: "text", Text: "hi", X: 0, Y: 1}, out[0])
	assert.Equal(t, 0.25, out[1].X)
	assert.Equal(t, "#fff", out[1].Color)
	assert.NotNil(t, normalizeOverlays(nil))
}

func TestStoryExpiry(t *testing.T) {
	published := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, published.Add(storyLifetime), *storyExpiry(&Object{}, published))

	end := storyExpiry(&Object{EndTime: "2026-03-01T18:00:00Z"}, published)
	assert.Equal(t, time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC), *end)

	before := time.Now().UTC()
	assert.True(t, storyExpiry(&Object{}, time.Time{}).After(before))
}

func TestObjectDocument(t *testing.T) {
	updated := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	o := &domain.Object{
		IRI:         "https://local.example/objects/1",
		Kind:        domain.KindNote,
		AuthorIRI:   "https://local.example/users/alice",
		AudienceIRI: "https://local.example/groups/club",
		Content:     "<p>hi</p>",
		Source:      "hi",
		Visibility:  domain.VisibilityPublic,
		PublishedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   &updated,
		Attachments: []domain.Attachment{{Type: "Image", URL: "https://cdn/a.png"}},
	}
	doc := ObjectDocument(o)
	assert.Equal(t, "Note", doc.Type)
	assert.Equal(t, Audience{PublicCollection, o.AudienceIRI}, doc.To)
	assert.Equal(t, Audience{o.AuthorIRI + "/followers"}, doc.Cc)
	assert.Equal(t, "2026-02-01T00:00:00Z", doc.Published)
	assert.Equal(t, "2026-02-02T00:00:00Z", doc.Updated)
	require.NotNil(t, doc.Source)
	assert.Equal(t, "text/markdown", doc.Source.MediaType)
	require.Len(t, doc.Attachment, 1)
	assert.Equal(t, Ref("https://cdn/a.png"), doc.Attachment[0].URL)

	o.Visibility = domain.VisibilityUnlisted
	o.AudienceIRI = ""
	doc = ObjectDocument(o)
	assert.Equal(t, Audience{o.AuthorIRI + "/followers"}, doc.To)
	assert.Equal(t, Audience{PublicCollection}, doc.Cc)

	o.Visibility = domain.VisibilityDirect
	doc = ObjectDocument(o)
	assert.Empty(t, doc.To)
	assert.Empty(t, doc.Cc)

	o.Kind = domain.KindStory
	expires := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	o.ExpiresAt = &expires
	doc = ObjectDocument(o)
	assert.Equal(t, "Story", doc.Type)
	assert.Equal(t, "2026-02-03T00:00:00Z", doc.EndTime)
}
