package activitypub

import (
	"context"
	"errors"
	"net/http"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotAuthorized  = errors.New("not authorized")
	ErrObjectNotFound = errors.New("object not found")
)

// Engine ties the store, the actor directory and the outbound HTTP client
// together. It keeps no state of its own beyond configuration; every
// instance pointed at the same database behaves identically.
type Engine struct {
	db        *db.DB
	conf      *util.AppConfig
	guard     URLChecker
	client    *http.Client
	directory *Directory
	handlers  [numActivityTypes]handlerFunc
}

type options struct {
	guard  URLChecker
	client *http.Client
}

type Option func(*options)

// WithURLChecker replaces the default SSRF guard.
func WithURLChecker(c URLChecker) Option {
	return func(o *options) { o.guard = c }
}

// WithHTTPClient replaces the guarded clients used for actor fetches and
// inbox delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

func NewEngine(database *db.DB, conf *util.AppConfig, opts ...Option) *Engine {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.guard == nil {
		o.guard = NewURLGuard()
	}
	deliveryClient, fetchClient := o.client, o.client
	if o.client == nil {
		deliveryClient = NewSafeHTTPClient(o.guard, conf.DeliveryTimeout())
		fetchClient = NewSafeHTTPClient(o.guard, conf.FetchTimeout())
	}

	e := &Engine{
		db:        database,
		conf:      conf,
		guard:     o.guard,
		client:    deliveryClient,
		directory: NewDirectory(database, conf, o.guard, fetchClient),
	}
	e.handlers = e.handlerTable()
	return e
}

func (e *Engine) Directory() *Directory {
	return e.directory
}

// Sender is the local actor an outbound activity is signed as.
type Sender struct {
	IRI           string
	KeyID         string
	PrivateKeyPem string
}

func AccountSender(acc *domain.Account) Sender {
	return Sender{IRI: acc.IRI, KeyID: acc.KeyID(), PrivateKeyPem: acc.WebPrivateKey}
}

func GroupSender(g *domain.Group) Sender {
	return Sender{IRI: g.IRI, KeyID: g.KeyID(), PrivateKeyPem: g.WebPrivateKey}
}

// senderFor loads the signing identity of a local account or group.
func (e *Engine) senderFor(ctx context.Context, iri string) (Sender, error) {
	if acc, err := e.db.ReadAccByIRI(ctx, iri); err == nil {
		return AccountSender(acc), nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return Sender{}, err
	}
	g, err := e.db.ReadGroupByIRI(ctx, iri)
	if err != nil {
		return Sender{}, err
	}
	return GroupSender(g), nil
}

func (e *Engine) newActivityID() string {
	return e.conf.ActivityIRI(uuid.New().String())
}

// notify writes a notification for recipient when it is a local account
// other than the actor.
func (e *Engine) notify(ctx context.Context, recipient string, kind domain.NotificationKind, actor, object, activityURI string) {
	if recipient == "" || recipient == actor {
		return
	}
	if _, err := e.db.ReadAccByIRI(ctx, recipient); err != nil {
		return
	}
	err := e.db.CreateNotification(ctx, &domain.Notification{
		RecipientIRI: recipient,
		Kind:         kind,
		ActorIRI:     actor,
		ObjectIRI:    object,
		ActivityURI:  activityURI,
	})
	if err != nil {
		log.Error().Err(err).Str("recipient", recipient).Str("kind", string(kind)).Msg("Failed to store notification")
	}
}
