package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const defaultMaxBodyBytes = 1 << 20

// bodyLimit is the configured cap on inbox bodies.
func (s *Server) bodyLimit() int64 {
	if n := s.conf.Conf.MaxBodyBytes; n > 0 {
		return n
	}
	return defaultMaxBodyBytes
}

// limitBody refuses a POST whose declared length is over bodyLimit and
// caps the reader for one that declares none.
func (s *Server) limitBody(c *gin.Context) {
	limit := s.bodyLimit()
	if c.Request.ContentLength > limit {
		log.Debug().
			Int64("length", c.Request.ContentLength).
			Int64("limit", limit).
			Str("path", c.Request.URL.Path).
			Msg("Refusing oversized body")
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	c.Next()
}
