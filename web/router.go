package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 30 * time.Second

// Server holds what the HTTP handlers need. The handlers keep no state of
// their own.
type Server struct {
	db     *db.DB
	conf   *util.AppConfig
	engine *activitypub.Engine
}

func NewServer(database *db.DB, conf *util.AppConfig, engine *activitypub.Engine) *Server {
	return &Server{db: database, conf: conf, engine: engine}
}

// Handler builds the gin engine with every federation route.
func (s *Server) Handler() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), requestLogger())
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	g.GET("/users/:name", s.handleUserActor)
	g.GET("/groups/:name", s.handleGroupActor)
	g.GET("/objects/:id", s.handleObject)

	g.POST("/inbox", s.limitBody, s.handleSharedInbox)
	g.POST("/users/:name/inbox", s.limitBody, s.handleUserInbox)
	g.POST("/groups/:name/inbox", s.limitBody, s.handleGroupInbox)

	g.GET("/users/:name/outbox", s.handleUserOutbox)
	g.GET("/users/:name/followers", s.handleUserFollowers)
	g.GET("/users/:name/following", s.handleUserFollowing)
	g.GET("/groups/:name/outbox", s.handleGroupOutbox)
	g.GET("/groups/:name/followers", s.handleGroupFollowers)

	g.GET("/.well-known/webfinger", s.handleWebfinger)
	g.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return g
}

// Router serves until ctx is cancelled or the listener fails. In-flight
// requests get shutdownTimeout to finish.
func Router(ctx context.Context, database *db.DB, conf *util.AppConfig, engine *activitypub.Engine) error {
	addr := fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	log.Info().Str("addr", addr).Str("domain", conf.Conf.SslDomain).Msg("Starting federation server")
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewServer(database, conf, engine).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("Stopping federation server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("Request")
	}
}

// activityJSON renders v with the ActivityStreams content type.
func activityJSON(c *gin.Context, code int, v interface{}) {
	c.Header("Content-Type", activitypub.ContentType+"; charset=utf-8")
	c.JSON(code, v)
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
}
