// Package query implements the HTTP query service: identity
// resolution, per-counterparty aggregation, and the circles image
// composition endpoint.
package query

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/hpmartins/bsky-codes/internal/identity"
	"github.com/hpmartins/bsky-codes/internal/store"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// Server wires the HTTP surface in §6 to the store, resolver, and
// result cache.
type Server struct {
	echo     *echo.Echo
	store    *store.Store
	resolver *identity.Resolver
	cache    *ResultCache
	apiKey   string
	log      zerolog.Logger
}

// New constructs a Server and registers its routes.
func New(s *store.Store, resolver *identity.Resolver, cache *ResultCache, apiKey string, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	srv := &Server{echo: e, store: s, resolver: resolver, cache: cache, apiKey: apiKey, log: log}
	srv.registerRoutes()
	return srv
}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleHealth)
	s.echo.POST("/interactions", s.handleInteractions, s.requireAPIKey)
	s.echo.GET("/circles", s.handleCircles, s.requireAPIKey)
	s.echo.GET("/dd/:name", s.handleDynamicData, s.requireAPIKey)
	s.echo.GET("/collStats", s.handleCollStats, s.requireAPIKey)
}

// Start runs the HTTP server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// requireAPIKey enforces the X-API-Key header unless the configured
// key is empty (auth disabled).
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.apiKey == "" {
			return next(c)
		}
		got := c.Request().Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
			return jsonError(c, http.StatusUnauthorized, "invalid api key")
		}
		return next(c)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{})
}

func jsonError(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": http.StatusText(status), "message": message})
}
