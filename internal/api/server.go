// Package api is the request-accepting side: page parsing and moderated summarization behind the
// authoritative per-address rate limiter.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"pagesum/internal/domain"
	"pagesum/internal/ratelimiter"
	"pagesum/internal/summarizer"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	readHeaderTimeout = 10 * time.Second
	maxBodyBytes      = 2 << 20
)

// Extractor turns a page URL into its readable content.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (domain.ParsedArticle, error)
}

type Server struct {
	engine            *gin.Engine
	http              *http.Server
	extractor         Extractor
	summarizer        summarizer.Service
	limiter           *ratelimiter.RateLimiter
	trustProxyHeaders bool
	log               *slog.Logger
}

type Option func(*Server)

// WithProxyHeaders controls whether X-Forwarded-For and X-Real-IP identify the caller.
func WithProxyHeaders(trust bool) Option {
	return func(s *Server) {
		s.trustProxyHeaders = trust
	}
}

// New builds the server. A nil summarizer makes the summaries endpoint report the service as unavailable.
func New(
	addr string,
	extractor Extractor,
	sum summarizer.Service,
	limiter *ratelimiter.RateLimiter,
	log *slog.Logger,
	opts ...Option,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		extractor:         extractor,
		summarizer:        sum,
		limiter:           limiter,
		trustProxyHeaders: true,
		log:               log,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.engine = s.newRouter()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := r.Group("/api")
	api.Use(limitBody(maxBodyBytes))
	api.POST("/parse", s.handleParse)
	api.POST("/summaries", s.handleSummarise)
	api.POST("/openai/responses", s.handleSummarise)
	api.GET("/ratelimit", s.handleRateLimit)

	return r
}
