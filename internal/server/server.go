// Package server exposes a read-only HTTP view over a storage reader and,
// optionally, a live channel client.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/goes/internal/auth"
	"github.com/danmuck/goes/internal/events"
	"github.com/danmuck/goes/internal/observability"
	"github.com/danmuck/goes/internal/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const nodeName = "goes-api"

// StreamSource answers stream reads, typically a *client.Client.
type StreamSource interface {
	ReadStream(ctx context.Context, streamID string) ([]events.Envelope, error)
	ReadAll(ctx context.Context) ([]events.Envelope, error)
}

type Config struct {
	Addr        string
	CorsOrigins []string
	// Token, when set, is required as a bearer token on every route but
	// /health.
	Token string
	// RequestTimeout bounds reads issued on behalf of one request.
	RequestTimeout time.Duration
}

type Server struct {
	cfg      Config
	reader   *storage.Reader
	streams  StreamSource
	router   *gin.Engine
	logger   zerolog.Logger
	appeared time.Time
}

// New builds the router. reader and streams may each be nil; their routes then
// answer 503.
func New(cfg Config, reader *storage.Reader, streams StreamSource) *Server {
	observability.RegisterMetrics()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(nodeName))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:      cfg,
		reader:   reader,
		streams:  streams,
		router:   r,
		logger:   log.Logger.With().Str("component", "server").Logger(),
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on cfg.Addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) protected() gin.IRoutes {
	if strings.TrimSpace(s.cfg.Token) == "" {
		return s.router
	}
	return s.router.Group("/", auth.Middleware(auth.StaticToken{Token: s.cfg.Token}))
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
