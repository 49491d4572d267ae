package query

import (
	"errors"
	"net/http"
	"time"

	"github.com/hpmartins/bsky-codes/internal/aggregator"
	"github.com/hpmartins/bsky-codes/internal/identity"
	"github.com/hpmartins/bsky-codes/internal/store"
	"github.com/labstack/echo/v4"
)

const aggregationWindow = 15 * 24 * time.Hour

type interactionsRequest struct {
	Handle string `json:"handle"`
}

type interactionsResponse struct {
	DID          string            `json:"did"`
	Handle       string            `json:"handle"`
	Interactions aggregator.Result `json:"interactions"`
}

// handleInteractions resolves the requested handle, then either
// serves a cached result, returns a 4xx if a computation for the same
// DID is already in flight, or runs the aggregation and caches it
// (§4.7, scenario 5).
func (s *Server) handleInteractions(c echo.Context) error {
	var req interactionsRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Handle == "" {
		return jsonError(c, http.StatusBadRequest, "handle is required")
	}

	ctx := c.Request().Context()
	resolved, err := s.resolver.Resolve(ctx, req.Handle)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return jsonError(c, http.StatusNotFound, "unknown handle")
		}
		s.log.Warn().Err(err).Str("handle", req.Handle).Msg("query: resolve handle")
		return jsonError(c, http.StatusBadGateway, "identity resolution failed")
	}

	var cached aggregator.Result
	if found, err := s.cache.Get(ctx, resolved.DID, &cached); err != nil {
		s.log.Warn().Err(err).Msg("query: cache get")
	} else if found {
		return c.JSON(http.StatusOK, interactionsResponse{DID: resolved.DID, Handle: resolved.Handle, Interactions: cached})
	}

	if err := s.cache.TryAcquire(ctx, resolved.DID); err != nil {
		if errors.Is(err, ErrInFlight) {
			return jsonError(c, http.StatusBadRequest, "check again later")
		}
		s.log.Warn().Err(err).Msg("query: acquire semaphore")
		return jsonError(c, http.StatusInternalServerError, "internal error")
	}

	since := time.Now().UTC().Add(-aggregationWindow)
	result, err := aggregator.Aggregate(ctx, s.store, resolved.DID, since, 0)
	if err != nil {
		s.log.Warn().Err(err).Str("did", resolved.DID).Msg("query: aggregate")
		return jsonError(c, http.StatusInternalServerError, "aggregation failed")
	}

	if err := s.cache.Release(ctx, resolved.DID, result); err != nil {
		s.log.Warn().Err(err).Msg("query: release cache")
	}

	return c.JSON(http.StatusOK, interactionsResponse{DID: resolved.DID, Handle: resolved.Handle, Interactions: result})
}

// handleCircles resolves the actor, aggregates, and renders the
// composite PNG (§6, external renderer contract).
func (s *Server) handleCircles(c echo.Context) error {
	actor := c.QueryParam("actor")
	if actor == "" {
		return jsonError(c, http.StatusBadRequest, "actor is required")
	}
	source := c.QueryParam("source")
	if source == "" {
		source = "both"
	}

	ctx := c.Request().Context()
	resolved, err := s.resolver.Resolve(ctx, actor)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return jsonError(c, http.StatusNotFound, "unknown actor")
		}
		return jsonError(c, http.StatusBadGateway, "identity resolution failed")
	}

	since := time.Now().UTC().Add(-aggregationWindow)
	result, err := aggregator.Aggregate(ctx, s.store, resolved.DID, since, 50)
	if err != nil {
		s.log.Warn().Err(err).Str("did", resolved.DID).Msg("query: aggregate for circles")
		return jsonError(c, http.StatusInternalServerError, "aggregation failed")
	}

	png, err := s.renderCircles(ctx, resolved, result, source)
	if err != nil {
		s.log.Warn().Err(err).Str("did", resolved.DID).Msg("query: render circles")
		return jsonError(c, http.StatusInternalServerError, "render failed")
	}

	return c.Stream(http.StatusOK, "image/png", png)
}

// handleDynamicData serves the latest leaderboard snapshot for name.
func (s *Server) handleDynamicData(c echo.Context) error {
	name := c.Param("name")
	if name != store.DynamicTopInteractions && name != store.DynamicTopBlocks {
		return jsonError(c, http.StatusBadRequest, "unknown dynamic data name")
	}

	ctx := c.Request().Context()
	var cached store.DynamicData
	if found, err := s.cache.Get(ctx, "dd."+name, &cached); err == nil && found {
		return c.JSON(http.StatusOK, cached)
	}

	doc, err := s.store.LatestDynamicData(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return jsonError(c, http.StatusNotFound, "no data yet")
		}
		return jsonError(c, http.StatusInternalServerError, "internal error")
	}

	if err := s.cache.Release(ctx, "dd."+name, doc); err != nil {
		s.log.Warn().Err(err).Msg("query: cache dynamic data")
	}
	return c.JSON(http.StatusOK, doc)
}

// handleCollStats serves the fixed-collection document-count map.
func (s *Server) handleCollStats(c echo.Context) error {
	stats, err := s.store.CollectionStats(c.Request().Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("query: collection stats")
		return jsonError(c, http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, stats)
}
