package api

import (
	"errors"
	"net/http"
	"strings"

	"market-signal-bot/internal/assets"
	"market-signal-bot/internal/coalesce"
	"market-signal-bot/internal/marketdata"

	"github.com/gin-gonic/gin"
)

// handleSearchAssets runs a debounced search. A search replaced by a newer
// one from the same client answers with an empty, superseded result.
func (s *Server) handleSearchAssets(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	key := userID(c)
	if key == "" {
		key = c.ClientIP()
	}
	ctx := assets.WithClientKey(c.Request.Context(), key)

	quotes, err := s.deps.Assets.SearchAssets(ctx, q)
	if errors.Is(err, coalesce.ErrSuperseded) {
		successResponse(c, gin.H{"query": q, "results": []marketdata.Quote{}, "superseded": true})
		return
	}
	if errors.Is(err, marketdata.ErrNotFound) {
		quotes, err = []marketdata.Quote{}, nil
	}
	if err != nil {
		s.fail(c, err, "Asset search failed")
		return
	}
	if quotes == nil {
		quotes = []marketdata.Quote{}
	}
	successResponse(c, gin.H{"query": q, "results": quotes, "superseded": false})
}

func (s *Server) handleAssetDetails(c *gin.Context) {
	symbol := c.Param("symbol")
	quote, err := s.deps.Assets.GetAssetDetails(c.Request.Context(), symbol)
	if err != nil {
		s.fail(c, err, "Asset lookup failed")
		return
	}
	if quote == nil {
		errorResponse(c, http.StatusNotFound, "asset not found: "+strings.ToUpper(symbol))
		return
	}
	successResponse(c, quote)
}

func (s *Server) handlePriceHistory(c *gin.Context) {
	interval, err := marketdata.ParseInterval(c.Query("interval"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	series, err := s.deps.Assets.GetPriceHistory(c.Request.Context(), c.Param("symbol"), interval)
	if err != nil {
		s.fail(c, err, "Price history failed")
		return
	}
	successResponse(c, series)
}

func (s *Server) handleEnhancedAsset(c *gin.Context) {
	symbol := c.Param("symbol")
	data, err := s.deps.Assets.GetEnhancedAssetData(c.Request.Context(), symbol)
	if err != nil {
		s.fail(c, err, "Enhanced asset lookup failed")
		return
	}
	if data == nil {
		errorResponse(c, http.StatusNotFound, "asset not found: "+strings.ToUpper(symbol))
		return
	}
	successResponse(c, data)
}
