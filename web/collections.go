package web

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	itemsPerPage = 20
	// maxPage keeps (page-1)*itemsPerPage inside a 32-bit offset.
	maxPage = math.MaxInt32 / itemsPerPage
)

type collectionSummary struct {
	Context    string `json:"@context"`
	ID         string `json:"id"`
	Type       string `json:"type"`
	TotalItems int    `json:"totalItems"`
	First      string `json:"first"`
}

type collectionPage struct {
	Context      string        `json:"@context"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	PartOf       string        `json:"partOf"`
	OrderedItems []interface{} `json:"orderedItems"`
	Next         string        `json:"next,omitempty"`
	Prev         string        `json:"prev,omitempty"`
}

// collection is one paged list belonging to a local actor.
type collection struct {
	id    string
	count func(ctx context.Context) (int, error)
	// page returns up to limit items starting at offset, newest first.
	page func(ctx context.Context, limit, offset int) ([]interface{}, error)
}

// ParsePageParam extracts the page parameter from a query string. Zero
// asks for the collection summary; larger pages are clamped to maxPage.
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return min(page, maxPage)
}

func (s *Server) serveCollection(c *gin.Context, coll collection) {
	ctx := c.Request.Context()
	page := ParsePageParam(c.Query("page"))

	if page == 0 {
		total, err := coll.count(ctx)
		if err != nil {
			s.collectionFailed(c, coll, err)
			return
		}
		activityJSON(c, http.StatusOK, collectionSummary{
			Context:    activitypub.ActivityStreamsContext,
			ID:         coll.id,
			Type:       "OrderedCollection",
			TotalItems: total,
			First:      pageURL(coll.id, 1),
		})
		return
	}

	// One extra row tells whether a next page exists.
	items, err := coll.page(ctx, itemsPerPage+1, (page-1)*itemsPerPage)
	if err != nil {
		s.collectionFailed(c, coll, err)
		return
	}
	resp := collectionPage{
		Context:      activitypub.ActivityStreamsContext,
		ID:           pageURL(coll.id, page),
		Type:         "OrderedCollectionPage",
		PartOf:       coll.id,
		OrderedItems: []interface{}{},
	}
	if len(items) > itemsPerPage {
		items = items[:itemsPerPage]
		resp.Next = pageURL(coll.id, page+1)
	}
	if page > 1 {
		resp.Prev = pageURL(coll.id, page-1)
	}
	resp.OrderedItems = append(resp.OrderedItems, items...)
	activityJSON(c, http.StatusOK, resp)
}

func (s *Server) collectionFailed(c *gin.Context, coll collection, err error) {
	log.Error().Err(err).Str("collection", coll.id).Msg("Failed to read collection")
	c.Status(http.StatusInternalServerError)
}

func pageURL(id string, page int) string {
	return fmt.Sprintf("%s?page=%d", id, page)
}

func (s *Server) handleUserOutbox(c *gin.Context) {
	if acc := s.account(c); acc != nil {
		s.serveCollection(c, s.outbox(acc.OutboxIRI(), acc.IRI))
	}
}

func (s *Server) handleUserFollowers(c *gin.Context) {
	if acc := s.account(c); acc != nil {
		s.serveCollection(c, s.followers(acc.FollowersIRI(), acc.IRI))
	}
}

func (s *Server) handleUserFollowing(c *gin.Context) {
	acc := s.account(c)
	if acc == nil {
		return
	}
	s.serveCollection(c, collection{
		id: acc.FollowingIRI(),
		count: func(ctx context.Context) (int, error) {
			return s.db.CountFollowing(ctx, acc.IRI)
		},
		page: func(ctx context.Context, limit, offset int) ([]interface{}, error) {
			follows, err := s.db.ReadFollowingPage(ctx, acc.IRI, limit, offset)
			return followIRIs(follows, func(f domain.Follow) string { return f.FollowingIRI }), err
		},
	})
}

func (s *Server) handleGroupOutbox(c *gin.Context) {
	if g := s.group(c); g != nil {
		s.serveCollection(c, s.outbox(g.OutboxIRI(), g.IRI))
	}
}

func (s *Server) handleGroupFollowers(c *gin.Context) {
	if g := s.group(c); g != nil {
		s.serveCollection(c, s.followers(g.FollowersIRI(), g.IRI))
	}
}

func (s *Server) followers(id, actorIRI string) collection {
	return collection{
		id: id,
		count: func(ctx context.Context) (int, error) {
			return s.db.CountFollowers(ctx, actorIRI)
		},
		page: func(ctx context.Context, limit, offset int) ([]interface{}, error) {
			follows, err := s.db.ReadFollowersPage(ctx, actorIRI, limit, offset)
			return followIRIs(follows, func(f domain.Follow) string { return f.FollowerIRI }), err
		},
	}
}

// outbox lists the public Create and Announce activities the actor sent,
// exactly as they were delivered.
func (s *Server) outbox(id, actorIRI string) collection {
	return collection{
		id: id,
		count: func(ctx context.Context) (int, error) {
			return s.db.CountOutbox(ctx, actorIRI)
		},
		page: func(ctx context.Context, limit, offset int) ([]interface{}, error) {
			records, err := s.db.ReadOutboxPage(ctx, actorIRI, limit, offset)
			items := make([]interface{}, 0, len(records))
			for _, r := range records {
				items = append(items, json.RawMessage(r.RawJSON))
			}
			return items, err
		},
	}
}

func followIRIs(follows []domain.Follow, side func(domain.Follow) string) []interface{} {
	items := make([]interface{}, 0, len(follows))
	for _, f := range follows {
		items = append(items, side(f))
	}
	return items
}

// account loads the account named in the path, answering 404 itself
// when there is none.
func (s *Server) account(c *gin.Context) *domain.Account {
	acc, err := s.db.ReadAccByUsername(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.lookupFailed(c, err, "user")
		return nil
	}
	return acc
}

func (s *Server) group(c *gin.Context) *domain.Group {
	g, err := s.db.ReadGroupByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.lookupFailed(c, err, "group")
		return nil
	}
	return g
}
