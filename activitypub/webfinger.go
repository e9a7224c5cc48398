package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/rs/zerolog/log"
)

type WebfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// WebfingerResponse is a JRD document.
type WebfingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebfingerLink `json:"links"`
}

// SelfLink returns the ActivityPub actor IRI advertised by the document.
func (w *WebfingerResponse) SelfLink() string {
	for _, l := range w.Links {
		if l.Rel != "self" {
			continue
		}
		if l.Type == ContentType || strings.HasPrefix(l.Type, "application/ld+json") {
			return l.Href
		}
	}
	return ""
}

// SplitHandle parses "user@host", "@user@host" and "acct:user@host".
func SplitHandle(handle string) (string, string, error) {
	handle = strings.TrimPrefix(strings.TrimPrefix(handle, "acct:"), "@")
	user, host, ok := strings.Cut(handle, "@")
	if !ok || user == "" || host == "" || strings.Contains(host, "@") {
		return "", "", fmt.Errorf("invalid handle %q", handle)
	}
	return user, strings.ToLower(host), nil
}

// ResolveHandle finds an actor by its user@host handle. Local handles are
// answered from the store; remote ones go through WebFinger and Resolve.
func (d *Directory) ResolveHandle(ctx context.Context, handle string) (*domain.Actor, error) {
	user, host, err := SplitHandle(handle)
	if err != nil {
		return nil, ErrActorNotFound
	}

	if host == strings.ToLower(d.conf.Conf.SslDomain) {
		if acc, err := d.db.ReadAccByUsername(ctx, user); err == nil {
			return LocalActor(acc), nil
		} else if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		if g, err := d.db.ReadGroupByName(ctx, user); err == nil {
			return GroupActor(g), nil
		} else if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		return nil, ErrActorNotFound
	}

	actorIRI, err := d.webfinger(ctx, user, host)
	if err != nil {
		log.Warn().Err(err).Str("handle", handle).Msg("WebFinger lookup failed")
		return nil, ErrActorNotFound
	}
	return d.Resolve(ctx, actorIRI)
}

func (d *Directory) webfinger(ctx context.Context, user, host string) (string, error) {
	u := url.URL{
		Scheme:   "https",
		Host:     host,
		Path:     "/.well-known/webfinger",
		RawQuery: url.Values{"resource": {"acct:" + user + "@" + host}}.Encode(),
	}
	if err := d.guard.Check(ctx, u.String()); err != nil {
		return "", err
	}
	body, err := d.get(ctx, u.String(), "application/jrd+json, application/json")
	if err != nil {
		return "", err
	}
	var jrd WebfingerResponse
	if err := json.Unmarshal(body, &jrd); err != nil {
		return "", fmt.Errorf("failed to parse webfinger: %w", err)
	}
	self := jrd.SelfLink()
	if self == "" {
		return "", fmt.Errorf("no activitypub link for %s@%s", user, host)
	}
	return self, nil
}
