package web

import (
	"errors"
	"net/http"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func (s *Server) handleUserInbox(c *gin.Context) {
	if acc := s.account(c); acc != nil {
		s.receive(c, acc.IRI)
	}
}

func (s *Server) handleGroupInbox(c *gin.Context) {
	if g := s.group(c); g != nil {
		s.receive(c, g.IRI)
	}
}

// handleSharedInbox leaves targeting to the dispatcher, which works it out
// from the activity's object and addressing.
func (s *Server) handleSharedInbox(c *gin.Context) {
	s.receive(c, "")
}

// receive parses, authenticates and dispatches one inbox POST. Only a body
// that is not JSON (400) or a signature that does not verify (401) is
// reported to the sender; everything else is acknowledged with 200.
func (s *Server) receive(c *gin.Context, inbox string) {
	ctx := c.Request.Context()
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		log.Warn().Err(err).Str("inbox", inbox).Msg("Failed to read inbox body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	activity, err := activitypub.ParseActivity(body)
	if err != nil {
		log.Warn().Err(err).Str("inbox", inbox).Msg("Rejecting malformed activity")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}

	if s.conf.Conf.RequireSignatures {
		if err := s.engine.Authenticate(ctx, c.Request, body, activity); err != nil {
			log.Warn().Err(err).Str("actor", string(activity.Actor)).Str("activity", activity.ID).Msg("Signature verification failed")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
			return
		}
	}

	// Dispatch failures are logged by the engine and never change the
	// answer.
	_ = s.engine.Dispatch(ctx, activity, body, inbox)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
