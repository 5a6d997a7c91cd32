package api

import (
	"net/http"
	"strconv"

	"market-signal-bot/internal/audit"
	"market-signal-bot/internal/cache"
	"market-signal-bot/internal/ratelimit"

	"github.com/gin-gonic/gin"
)

type metricsResponse struct {
	Audit     *audit.Metrics           `json:"audit,omitempty"`
	Cache     *cache.Stats             `json:"cache,omitempty"`
	Limiter   []ratelimit.WindowStatus `json:"limiter"`
	Coalesce  interface{}              `json:"coalesce,omitempty"`
	Stream    *audit.StreamStats       `json:"stream,omitempty"`
	WSClients int                      `json:"wsClients"`
}

// handleMetrics reports audit counters, cache stats and limiter windows
func (s *Server) handleMetrics(c *gin.Context) {
	resp := metricsResponse{
		Limiter:   []ratelimit.WindowStatus{},
		WSClients: s.hub.GetClientCount(),
	}
	if s.deps.Collector != nil {
		m := s.deps.Collector.Snapshot()
		resp.Audit = &m
	}
	if s.deps.Cache != nil {
		st := s.deps.Cache.Stats()
		resp.Cache = &st
	}
	if s.deps.Limiter != nil {
		resp.Limiter = s.deps.Limiter.Snapshot()
	}
	if s.deps.Assets != nil {
		resp.Coalesce = s.deps.Assets.Stats()
	}
	if s.deps.Stream != nil {
		st := s.deps.Stream.Stats()
		resp.Stream = &st
	}
	successResponse(c, resp)
}

// handleRecentAudit returns the newest entries of the audit stream
func (s *Server) handleRecentAudit(c *gin.Context) {
	if s.deps.Stream == nil {
		errorResponse(c, http.StatusServiceUnavailable, "Audit stream is disabled")
		return
	}

	limit := int64(50)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}

	entries, err := s.deps.Stream.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Warn("Failed to read audit stream", "error", err)
		errorResponse(c, http.StatusServiceUnavailable, "Audit stream unavailable")
		return
	}
	successResponse(c, gin.H{"count": len(entries), "events": entries})
}
