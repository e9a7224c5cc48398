package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/stegofed/domain"
)

const (
	ContentType  = "application/activity+json"
	AcceptHeader = "application/activity+json, application/ld+json"

	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	SecurityContext        = "https://w3id.org/security/v1"
	PublicCollection       = "https://www.w3.org/ns/activitystreams#Public"
)

// ActivityType is the closed set of activities the engine understands.
type ActivityType int

const (
	ActivityUnknown ActivityType = iota
	ActivityFollow
	ActivityAccept
	ActivityReject
	ActivityUndo
	ActivityCreate
	ActivityUpdate
	ActivityDelete
	ActivityLike
	ActivityAnnounce

	numActivityTypes
)

var activityTypeNames = [numActivityTypes]string{
	ActivityUnknown:  "",
	ActivityFollow:   "Follow",
	ActivityAccept:   "Accept",
	ActivityReject:   "Reject",
	ActivityUndo:     "Undo",
	ActivityCreate:   "Create",
	ActivityUpdate:   "Update",
	ActivityDelete:   "Delete",
	ActivityLike:     "Like",
	ActivityAnnounce: "Announce",
}

func ParseActivityType(s string) ActivityType {
	for t := ActivityFollow; t < numActivityTypes; t++ {
		if activityTypeNames[t] == s {
			return t
		}
	}
	return ActivityUnknown
}

func (t ActivityType) String() string {
	if t <= ActivityUnknown || t >= numActivityTypes {
		return "Unknown"
	}
	return activityTypeNames[t]
}

// actorTypes are the object types that denote an actor rather than content.
var actorTypes = map[string]bool{
	"Person":       true,
	"Group":        true,
	"Service":      true,
	"Application":  true,
	"Organization": true,
}

// Ref is the identifier of a linked value. Remote servers send links as a
// bare IRI, as an embedded object carrying an id (or href/url), or as a
// list of those; Ref keeps the first identifier it finds.
type Ref string

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Ref(s)
	case '{':
		var obj struct {
			ID   string `json:"id"`
			Href string `json:"href"`
			URL  Ref    `json:"url"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		switch {
		case obj.ID != "":
			*r = Ref(obj.ID)
		case obj.Href != "":
			*r = Ref(obj.Href)
		default:
			*r = obj.URL
		}
	case '[':
		var list []Ref
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		for _, item := range list {
			if item != "" {
				*r = item
				break
			}
		}
	}
	return nil
}

func (r Ref) String() string { return string(r) }

// Audience is a to/cc field: a single IRI or a list.
type Audience []string

func (a *Audience) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == 'n' {
		return nil
	}
	if b[0] != '[' {
		var one Ref
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		if one != "" {
			*a = Audience{string(one)}
		}
		return nil
	}
	var list []Ref
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	out := make(Audience, 0, len(list))
	for _, item := range list {
		if item != "" {
			out = append(out, string(item))
		}
	}
	*a = out
	return nil
}

func (a Audience) Contains(iri string) bool {
	for _, v := range a {
		if v == iri {
			return true
		}
	}
	return false
}

func (a Audience) public() bool {
	return a.Contains(PublicCollection) || a.Contains("as:Public") || a.Contains("Public")
}

// Activity is the envelope of an activity. Object is kept raw because
// it is either an IRI or an embedded object depending on the type.
type Activity struct {
	Context   interface{}     `json:"@context,omitempty"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     Ref             `json:"actor"`
	Object    json.RawMessage `json:"object,omitempty"`
	Target    Ref             `json:"target,omitempty"`
	To        Audience        `json:"to,omitempty"`
	Cc        Audience        `json:"cc,omitempty"`
	Published string          `json:"published,omitempty"`
}

// ParseActivity decodes an activity body. A body that is not JSON is an
// error; missing fields are reported by Validate.
func ParseActivity(body []byte) (*Activity, error) {
	var a Activity
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("invalid activity: %w", err)
	}
	return &a, nil
}

// Validate reports the first required envelope field that is missing.
func (a *Activity) Validate() error {
	switch {
	case a.ID == "":
		return fmt.Errorf("activity has no id")
	case a.Type == "":
		return fmt.Errorf("activity has no type")
	case a.Actor == "":
		return fmt.Errorf("activity has no actor")
	case !sameOrigin(a.ID, string(a.Actor)):
		return fmt.Errorf("activity %s is not hosted by its actor %s", a.ID, a.Actor)
	}
	return nil
}

func sameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil || ua.Host == "" {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) && strings.EqualFold(ua.Host, ub.Host)
}

func (a *Activity) Kind() ActivityType {
	return ParseActivityType(a.Type)
}

// ObjectID is the id of the activity's object, embedded or referenced.
func (a *Activity) ObjectID() string {
	var r Ref
	if len(a.Object) == 0 || json.Unmarshal(a.Object, &r) != nil {
		return ""
	}
	return string(r)
}

// EmbeddedObject decodes the activity's object when it was sent inline.
// It returns nil when the object is only a reference.
func (a *Activity) EmbeddedObject() *Object {
	raw := bytes.TrimSpace(a.Object)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var o Object
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil
	}
	return &o
}

// IsPublic reports whether the activity is addressed to the public
// collection.
func (a *Activity) IsPublic() bool {
	return a.To.public() || a.Cc.public()
}

// Attachment is an ActivityStreams media attachment.
type Attachment struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       Ref    `json:"url"`
	Name      string `json:"name,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Attachments accepts a single attachment object or a list.
type Attachments []Attachment

func (as *Attachments) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == 'n' {
		return nil
	}
	if b[0] == '{' {
		var one Attachment
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*as = Attachments{one}
		return nil
	}
	var list []Attachment
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*as = list
	return nil
}

type Source struct {
	Content   string `json:"content"`
	MediaType string `json:"mediaType"`
}

// Object is a content object (Note, Story, Tombstone), an embedded
// activity inside an Undo, or an actor inside an Update.
type Object struct {
	Context      interface{}      `json:"@context,omitempty"`
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Actor        Ref              `json:"actor,omitempty"`
	Object       json.RawMessage  `json:"object,omitempty"`
	AttributedTo Ref              `json:"attributedTo,omitempty"`
	Content      string           `json:"content,omitempty"`
	Source       *Source          `json:"source,omitempty"`
	Summary      string           `json:"summary,omitempty"`
	InReplyTo    Ref              `json:"inReplyTo,omitempty"`
	Published    string           `json:"published,omitempty"`
	Updated      string           `json:"updated,omitempty"`
	EndTime      string           `json:"endTime,omitempty"`
	Sensitive    bool             `json:"sensitive,omitempty"`
	To           Audience         `json:"to,omitempty"`
	Cc           Audience         `json:"cc,omitempty"`
	Audience     Ref              `json:"audience,omitempty"`
	URL          Ref              `json:"url,omitempty"`
	Attachment   Attachments      `json:"attachment,omitempty"`
	Overlays     []domain.Overlay `json:"overlays,omitempty"`
	FormerType   string           `json:"formerType,omitempty"`
	Deleted      string           `json:"deleted,omitempty"`
}

// ObjectID is the id of an embedded activity's own object.
func (o *Object) ObjectID() string {
	var r Ref
	if len(o.Object) == 0 || json.Unmarshal(o.Object, &r) != nil {
		return ""
	}
	return string(r)
}

func (o *Object) IsActor() bool {
	return actorTypes[o.Type]
}

func (o *Object) IsPublic() bool {
	return o.To.public() || o.Cc.public()
}

// rawJSON encodes a value for an Activity's object field.
func rawJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
