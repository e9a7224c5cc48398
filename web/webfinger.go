package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/db"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// handleWebfinger answers acct: lookups for local accounts and groups.
func (s *Server) handleWebfinger(c *gin.Context) {
	resource := c.Query("resource")
	if !strings.HasPrefix(resource, "acct:") {
		notFound(c)
		return
	}
	user, host, err := activitypub.SplitHandle(resource)
	if err != nil || host != strings.ToLower(s.conf.Conf.SslDomain) {
		notFound(c)
		return
	}

	resp, err := s.webfinger(c, user)
	if errors.Is(err, db.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("resource", resource).Msg("WebFinger lookup failed")
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	c.JSON(http.StatusOK, resp)
}

func (s *Server) webfinger(c *gin.Context, name string) (*activitypub.WebfingerResponse, error) {
	ctx := c.Request.Context()
	iri := ""
	if acc, err := s.db.ReadAccByUsername(ctx, name); err == nil {
		iri = acc.IRI
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	} else {
		g, err := s.db.ReadGroupByName(ctx, name)
		if err != nil {
			return nil, err
		}
		iri = g.IRI
	}

	return &activitypub.WebfingerResponse{
		Subject: "acct:" + name + "@" + s.conf.Conf.SslDomain,
		Aliases: []string{iri},
		Links: []activitypub.WebfingerLink{
			{Rel: "self", Type: activitypub.ContentType, Href: iri},
		},
	}, nil
}
