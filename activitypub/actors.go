package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// ErrActorNotFound covers every way an actor can fail to resolve: not
// stored, unreachable, refused by the guard, or an unusable document.
var ErrActorNotFound = errors.New("actor not found")

// maxDocumentBytes caps remote actor and webfinger documents.
const maxDocumentBytes = 1 << 20

type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// ActorDocument is the JSON form of a Person or Group actor, both the
// ones we serve and the ones we fetch.
type ActorDocument struct {
	Context                   interface{} `json:"@context,omitempty"`
	ID                        string      `json:"id"`
	Type                      string      `json:"type"`
	PreferredUsername         string      `json:"preferredUsername"`
	Name                      string      `json:"name,omitempty"`
	Summary                   string      `json:"summary,omitempty"`
	URL                       string      `json:"url,omitempty"`
	Inbox                     string      `json:"inbox"`
	Outbox                    string      `json:"outbox,omitempty"`
	Followers                 string      `json:"followers,omitempty"`
	Following                 string      `json:"following,omitempty"`
	ManuallyApprovesFollowers bool        `json:"manuallyApprovesFollowers"`
	Endpoints                 *Endpoints  `json:"endpoints,omitempty"`
	PublicKey                 PublicKey   `json:"publicKey"`
	Icon                      Ref         `json:"icon,omitempty"`
	Published                 string      `json:"published,omitempty"`
}

// Directory resolves actor IRIs to the data needed to deliver to them and
// to verify their signatures. Remote actors are cached in the shared
// store and only refetched on demand.
type Directory struct {
	db     *db.DB
	conf   *util.AppConfig
	guard  URLChecker
	client *resty.Client
}

func NewDirectory(database *db.DB, conf *util.AppConfig, guard URLChecker, httpClient *http.Client) *Directory {
	client := resty.NewWithClient(httpClient).
		SetTimeout(conf.FetchTimeout()).
		SetHeader("Accept", AcceptHeader).
		SetHeader("User-Agent", util.UserAgent(conf.Conf.SslDomain)).
		SetRedirectPolicy(resty.RedirectPolicyFunc(GuardRedirects(guard)))
	return &Directory{
		db:     database,
		conf:   conf,
		guard:  guard,
		client: client,
	}
}

// Resolve looks an actor up in the local accounts, the local groups, the
// remote cache and finally on the network. Failures of any kind resolve
// to ErrActorNotFound.
func (d *Directory) Resolve(ctx context.Context, iri string) (*domain.Actor, error) {
	if iri == "" {
		return nil, ErrActorNotFound
	}
	if actor, err := d.resolveLocal(ctx, iri); err == nil {
		return actor, nil
	} else if !errors.Is(err, ErrActorNotFound) {
		return nil, err
	}

	cached, err := d.db.ReadRemoteAccountByURI(ctx, iri)
	if err == nil && cached.InboxURI != "" {
		return remoteActor(cached), nil
	}
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		log.Error().Err(err).Str("actor", iri).Msg("Failed to read actor cache")
	}
	return d.Refresh(ctx, iri)
}

// Refresh refetches a remote actor and rewrites its cache entry, e.g.
// after an Update or when a signature no longer verifies because the
// key was rotated. Local actors are returned as stored.
func (d *Directory) Refresh(ctx context.Context, iri string) (*domain.Actor, error) {
	if d.conf.IsLocalIRI(iri) {
		return d.resolveLocal(ctx, iri)
	}
	acc, err := d.fetch(ctx, iri)
	if err != nil {
		actorFetchesTotal.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("actor", iri).Msg("Failed to fetch remote actor")
		return nil, ErrActorNotFound
	}
	if err := d.db.UpsertRemoteAccount(ctx, acc); err != nil {
		log.Error().Err(err).Str("actor", iri).Msg("Failed to cache remote actor")
		return nil, ErrActorNotFound
	}
	actorFetchesTotal.WithLabelValues("ok").Inc()
	return remoteActor(acc), nil
}

// ResolveKey finds the actor owning keyID. The owner is derived from the
// key id itself and must publish exactly that key; a cached copy holding
// another key id is refetched once. With refresh set the actor is
// refetched first.
func (d *Directory) ResolveKey(ctx context.Context, keyID string, refresh bool) (*domain.Actor, error) {
	owner := KeyOwner(keyID)
	var actor *domain.Actor
	var err error
	if refresh {
		actor, err = d.Refresh(ctx, owner)
	} else {
		actor, err = d.Resolve(ctx, owner)
		if err == nil && !actor.Local && actor.PublicKeyID != keyID {
			actor, err = d.Refresh(ctx, owner)
		}
	}
	if err != nil {
		return nil, err
	}
	if actor.PublicKeyID != keyID {
		return nil, fmt.Errorf("actor %s does not publish key %s: %w", actor.IRI, keyID, ErrActorNotFound)
	}
	return actor, nil
}

func (d *Directory) resolveLocal(ctx context.Context, iri string) (*domain.Actor, error) {
	acc, err := d.db.ReadAccByIRI(ctx, iri)
	if err == nil {
		return LocalActor(acc), nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	g, err := d.db.ReadGroupByIRI(ctx, iri)
	if err == nil {
		return GroupActor(g), nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("failed to read group: %w", err)
	}
	return nil, ErrActorNotFound
}

func (d *Directory) fetch(ctx context.Context, iri string) (*domain.RemoteAccount, error) {
	if err := d.guard.Check(ctx, iri); err != nil {
		return nil, err
	}
	body, err := d.get(ctx, iri, AcceptHeader)
	if err != nil {
		return nil, err
	}

	var doc ActorDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}
	if doc.ID == "" || doc.Inbox == "" {
		return nil, fmt.Errorf("actor document missing id or inbox")
	}
	requested, err := url.Parse(iri)
	if err != nil {
		return nil, err
	}
	served, err := url.Parse(doc.ID)
	if err != nil || served.Host != requested.Host {
		return nil, fmt.Errorf("actor id %q does not belong to %s", doc.ID, requested.Host)
	}
	if doc.PublicKey.Owner != "" && doc.PublicKey.Owner != doc.ID {
		return nil, fmt.Errorf("key owner %q is not actor %q", doc.PublicKey.Owner, doc.ID)
	}
	if doc.PublicKey.ID != "" && KeyOwner(doc.PublicKey.ID) != doc.ID {
		return nil, fmt.Errorf("key id %q is not owned by actor %q", doc.PublicKey.ID, doc.ID)
	}

	kind := doc.Type
	if kind == "" {
		kind = "Person"
	}
	acc := &domain.RemoteAccount{
		ActorURI:      doc.ID,
		Kind:          kind,
		Username:      doc.PreferredUsername,
		Domain:        served.Host,
		DisplayName:   doc.Name,
		Summary:       doc.Summary,
		InboxURI:      doc.Inbox,
		OutboxURI:     doc.Outbox,
		PublicKeyID:   doc.PublicKey.ID,
		PublicKeyPem:  doc.PublicKey.PublicKeyPem,
		AvatarURL:     string(doc.Icon),
		LastFetchedAt: time.Now().UTC(),
	}
	if doc.Endpoints != nil {
		acc.SharedInboxURI = doc.Endpoints.SharedInbox
	}
	return acc, nil
}

// get performs a guarded GET and returns at most maxDocumentBytes of body.
func (d *Directory) get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Accept", accept).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, fmt.Errorf("fetch failed with status: %d", resp.StatusCode())
	}
	body, err := io.ReadAll(io.LimitReader(raw, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxDocumentBytes {
		return nil, fmt.Errorf("document larger than %d bytes", maxDocumentBytes)
	}
	return body, nil
}

// LocalActor is the directory view of a local account.
func LocalActor(acc *domain.Account) *domain.Actor {
	return &domain.Actor{
		IRI:            acc.IRI,
		Kind:           "Person",
		Username:       acc.Username,
		Inbox:          acc.InboxIRI(),
		PublicKeyID:    acc.KeyID(),
		PublicKeyPem:   acc.WebPublicKey,
		Local:          true,
		RequiresReview: acc.ManuallyApprovesFollowers,
	}
}

// GroupActor is the directory view of a local community. Only the
// approval join policy asks for review; the other policies answer at once.
func GroupActor(g *domain.Group) *domain.Actor {
	return &domain.Actor{
		IRI:            g.IRI,
		Kind:           "Group",
		Username:       g.Name,
		Inbox:          g.InboxIRI(),
		PublicKeyID:    g.KeyID(),
		PublicKeyPem:   g.WebPublicKey,
		Local:          true,
		RequiresReview: g.JoinPolicy == domain.JoinApproval,
	}
}

func remoteActor(acc *domain.RemoteAccount) *domain.Actor {
	return &domain.Actor{
		IRI:          acc.ActorURI,
		Kind:         acc.Kind,
		Username:     acc.Username,
		Domain:       acc.Domain,
		Inbox:        acc.InboxURI,
		SharedInbox:  acc.SharedInboxURI,
		PublicKeyID:  acc.PublicKeyID,
		PublicKeyPem: acc.PublicKeyPem,
	}
}
