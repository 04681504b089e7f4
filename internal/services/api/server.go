// Package api serves ping ingest and the read/manage endpoints over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/domain/flip"
	"github.com/NordCoder/Lastbeat/internal/domain/notification"
	"github.com/NordCoder/Lastbeat/internal/domain/ping"
	"github.com/NordCoder/Lastbeat/internal/obs"
	"github.com/NordCoder/Lastbeat/internal/services/ingest"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ingest is the subset of the ingest usecase the HTTP layer needs.
type Ingest interface {
	RecordPing(ctx context.Context, in ingest.PingInput) (*check.Check, error)
	Pause(ctx context.Context, code uuid.UUID) (*check.Check, error)
	Resume(ctx context.Context, code uuid.UUID) (*check.Check, error)
	Check(ctx context.Context, code uuid.UUID) (*check.Check, error)
	Flips(ctx context.Context, code uuid.UUID, limit int) ([]*flip.Flip, error)
	Pings(ctx context.Context, code uuid.UUID, limit int) ([]*ping.Ping, error)
	Notifications(ctx context.Context, channelID int64, limit int) ([]*notification.Notification, error)
}

type Options struct {
	MaxBodySize int
}

type Server struct {
	uc   Ingest
	log  *zap.Logger
	opts Options
}

func NewServer(uc Ingest, log *zap.Logger, opts Options) *Server {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 10000
	}
	return &Server{uc: uc, log: log.With(zap.String("component", "api")), opts: opts}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	pingGroup := r.Group("/ping/:code")
	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodHead} {
		pingGroup.Handle(m, "", s.ping)
		pingGroup.Handle(m, "/:action", s.ping)
	}

	v1 := r.Group("/api/v1")
	v1.GET("/checks/:code", s.getCheck)
	v1.GET("/checks/:code/flips", s.listFlips)
	v1.GET("/checks/:code/pings", s.listPings)
	v1.POST("/checks/:code/pause", s.pause)
	v1.POST("/checks/:code/resume", s.resume)
	v1.GET("/channels/:id/notifications", s.listNotifications)
	return r
}

// Handler is Router wrapped with inbound tracing.
func (s *Server) Handler() http.Handler {
	return obs.HTTPHandler(s.Router(), "api")
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		obs.WithTrace(c.Request.Context(), s.log).Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
		)
	}
}
