package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ObjectKind string

const (
	KindNote  ObjectKind = "note"
	KindStory ObjectKind = "story"
)

const (
	VisibilityPublic    = "public"
	VisibilityUnlisted  = "unlisted"
	VisibilityFollowers = "followers"
	VisibilityDirect    = "direct"
)

// Attachment is a normalized media attachment.
type Attachment struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url"`
	Name      string `json:"name,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Overlay is a story decoration positioned relative to the media,
// x and y in the range 0..1.
type Overlay struct {
	Type  string  `json:"type"`
	Text  string  `json:"text,omitempty"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color,omitempty"`
}

// Object is a piece of content (Note or Story) touched by federation.
type Object struct {
	Id            uuid.UUID
	IRI           string
	Kind          ObjectKind
	AuthorIRI     string
	AudienceIRI   string // group the object was posted to, if any
	Content       string
	Source        string // markdown source for local notes
	Summary       string
	Visibility    string
	InReplyTo     string
	Sensitive     bool
	Attachments   []Attachment
	Overlays      []Overlay
	LikeCount     int
	ReplyCount    int
	AnnounceCount int
	Local         bool
	PublishedAt   time.Time
	UpdatedAt     *time.Time
	ExpiresAt     *time.Time
}

func (o *Object) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tIRI: %s \n\tAuthor: %s \n\tKind: %s \n\tPublished: %s)", o.Id, o.IRI, o.AuthorIRI, o.Kind, o.PublishedAt)
}
