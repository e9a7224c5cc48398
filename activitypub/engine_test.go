package activitypub

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAll struct{}

func (allowAll) Check(context.Context, string) error { return nil }

func testConfig(t *testing.T) *util.AppConfig {
	t.Helper()
	conf, err := util.ParseConf([]byte("conf:\n  sslDomain: local.example\n"))
	require.NoError(t, err)
	return conf
}

// testClient trusts the self-signed certificates of httptest TLS servers.
func testClient() *http.Client {
	return &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}}
}

// setupEngine returns an engine on a fresh database that may talk to
// loopback test servers.
func setupEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	opts = append([]Option{WithURLChecker(allowAll{}), WithHTTPClient(testClient())}, opts...)
	return NewEngine(database, testConfig(t), opts...)
}

func createAccount(t *testing.T, e *Engine, name string, private bool) *domain.Account {
	t.Helper()
	k, _ := generateTestKeys(t)
	acc := &domain.Account{
		Username:                  name,
		IRI:                       e.conf.UserIRI(name),
		WebPublicKey:              k.publicPEM,
		WebPrivateKey:             k.privatePEM,
		ManuallyApprovesFollowers: private,
	}
	require.NoError(t, e.db.CreateAccount(context.Background(), acc))
	return acc
}

func createGroup(t *testing.T, e *Engine, name, owner string, join domain.JoinPolicy, post domain.PostPolicy) *domain.Group {
	t.Helper()
	k, _ := generateTestKeys(t)
	g := &domain.Group{
		Name:          name,
		IRI:           e.conf.GroupIRI(name),
		JoinPolicy:    join,
		PostPolicy:    post,
		WebPublicKey:  k.publicPEM,
		WebPrivateKey: k.privatePEM,
	}
	require.NoError(t, e.db.CreateGroup(context.Background(), g, owner))
	return g
}

func reloadAccount(t *testing.T, e *Engine, iri string) *domain.Account {
	t.Helper()
	acc, err := e.db.ReadAccByIRI(context.Background(), iri)
	require.NoError(t, err)
	return acc
}

func reloadObject(t *testing.T, e *Engine, iri string) *domain.Object {
	t.Helper()
	o, err := e.db.ReadObjectByIRI(context.Background(), iri)
	require.NoError(t, err)
	return o
}

func activityJSON(id, kind, actor string, object interface{}) string {
	b, err := json.Marshal(map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       id,
		"type":     kind,
		"actor":    actor,
		"object":   object,
		"to":       []string{PublicCollection},
	})
	if err != nil {
		panic(err)
	}
	return string(b)
}

func dispatch(t *testing.T, e *Engine, inbox, body string) {
	t.Helper()
	a, err := ParseActivity([]byte(body))
	require.NoError(t, err)
	require.NoError(t, e.Dispatch(context.Background(), a, []byte(body), inbox))
}

type received struct {
	Path     string
	Activity *Activity
	SigErr   error
}

// fakeRemote is another fediverse server: it serves actor documents and
// WebFinger, and records every inbox POST after checking its signature
// against verifyWith.
type fakeRemote struct {
	srv       *httptest.Server
	key       testKeys
	actorGets atomic.Int32

	mu          sync.Mutex
	status      int
	sharedInbox bool
	verifyWith  string
	claims      map[string]string
	got         []received
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	local, remote := generateTestKeys(t)
	r := &fakeRemote{key: remote, status: http.StatusAccepted, verifyWith: local.publicPEM}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/{name}", r.serveActor)
	mux.HandleFunc("POST /users/{name}/inbox", r.serveInbox)
	mux.HandleFunc("POST /inbox", r.serveInbox)
	mux.HandleFunc("GET /.well-known/webfinger", r.serveWebfinger)
	r.srv = httptest.NewTLSServer(mux)
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRemote) iri(name string) string   { return r.srv.URL + "/users/" + name }
func (r *fakeRemote) keyID(name string) string { return r.iri(name) + "#main-key" }
func (r *fakeRemote) id(path string) string    { return r.srv.URL + "/" + path }

func (r *fakeRemote) setStatus(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = code
}

func (r *fakeRemote) useSharedInbox() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sharedInbox = true
}

// impersonate makes name's actor document advertise victim's key id and
// owner.
func (r *fakeRemote) impersonate(name, victim string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claims == nil {
		r.claims = make(map[string]string)
	}
	r.claims[name] = victim
}

func (r *fakeRemote) serveActor(w http.ResponseWriter, req *http.Request) {
	r.actorGets.Add(1)
	name := req.PathValue("name")
	if name == "gone" {
		http.Error(w, "gone", http.StatusGone)
		return
	}
	doc := ActorDocument{
		Context:           ActivityStreamsContext,
		ID:                r.iri(name),
		Type:              "Person",
		PreferredUsername: name,
		Inbox:             r.iri(name) + "/inbox",
		PublicKey: PublicKey{
			ID:           r.keyID(name),
			Owner:        r.iri(name),
			PublicKeyPem: r.key.publicPEM,
		},
	}
	r.mu.Lock()
	if r.sharedInbox {
		doc.Endpoints = &Endpoints{SharedInbox: r.srv.URL + "/inbox"}
	}
	if victim, ok := r.claims[name]; ok {
		doc.PublicKey.ID = r.keyID(victim)
		doc.PublicKey.Owner = r.iri(victim)
	}
	r.mu.Unlock()
	w.Header().Set("Content-Type", ContentType)
	json.NewEncoder(w).Encode(doc)
}

func (r *fakeRemote) serveInbox(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	a, _ := ParseActivity(body)

	r.mu.Lock()
	_, sigErr := VerifyRequest(req, body, r.verifyWith)
	r.got = append(r.got, received{Path: req.URL.Path, Activity: a, SigErr: sigErr})
	status := r.status
	r.mu.Unlock()
	w.WriteHeader(status)
}

func (r *fakeRemote) serveWebfinger(w http.ResponseWriter, req *http.Request) {
	user, host, err := SplitHandle(req.URL.Query().Get("resource"))
	if err != nil || user == "nobody" {
		http.NotFound(w, req)
		return
	}
	json.NewEncoder(w).Encode(WebfingerResponse{
		Subject: "acct:" + user + "@" + host,
		Links: []WebfingerLink{
			{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: r.srv.URL + "/@" + user},
			{Rel: "self", Type: ContentType, Href: r.iri(user)},
		},
	})
}

func (r *fakeRemote) posts() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.got...)
}

func (r *fakeRemote) postsOfType(kind string) []received {
	var out []received
	for _, p := range r.posts() {
		if p.Activity != nil && p.Activity.Type == kind {
			out = append(out, p)
		}
	}
	return out
}

func TestHandlerTableIsComplete(t *testing.T) {
	e := setupEngine(t)
	for kind := ActivityFollow; kind < numActivityTypes; kind++ {
		assert.NotNil(t, e.handlers[kind], kind.String())
	}
	assert.Nil(t, e.handlers[ActivityUnknown])
}

func TestNewEngineDefaults(t *testing.T) {
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer database.Close()

	e := NewEngine(database, testConfig(t))
	assert.IsType(t, &URLGuard{}, e.guard)
	assert.Equal(t, e.conf.DeliveryTimeout(), e.client.Timeout)
	assert.NotNil(t, e.client.CheckRedirect)
	assert.NotNil(t, e.Directory())
}

func TestSenderFor(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	alice := createAccount(t, e, "alice", false)
	g := createGroup(t, e, "gardening", alice.IRI, domain.JoinOpen, domain.PostAnyone)

	s, err := e.senderFor(ctx, alice.IRI)
	require.NoError(t, err)
	assert.Equal(t, alice.KeyID(), s.KeyID)

	s, err = e.senderFor(ctx, g.IRI)
	require.NoError(t, err)
	assert.Equal(t, g.IRI+"#main-key", s.KeyID)

	_, err = e.senderFor(ctx, e.conf.UserIRI("nobody"))
	assert.ErrorIs(t, err, db.ErrNotFound)
}
