package api

import (
	"errors"
	"io"
	"net/http"

	"market-signal-bot/internal/database"

	"github.com/gin-gonic/gin"
)

type analyzeRequest struct {
	Trigger string `json:"trigger"`
}

// handleAnalyze runs generateAutomatedAnalysis for the caller
func (s *Server) handleAnalyze(c *gin.Context) {
	uid, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.deps.Automation.GenerateAutomatedAnalysis(c.Request.Context(), c.Param("symbol"), uid, req.Trigger)
	if err != nil {
		s.fail(c, err, "Automated analysis failed")
		return
	}
	if !result.Found {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   true,
			"message": "asset not found: " + result.Symbol,
			"data":    result,
		})
		return
	}
	successResponse(c, result)
}

func (s *Server) handleGetSettings(c *gin.Context) {
	uid, ok := getUserIDRequired(c)
	if !ok {
		return
	}
	settings, err := s.deps.Automation.Settings(c.Request.Context(), uid)
	if err != nil {
		s.fail(c, err, "Failed to load automation settings")
		return
	}
	successResponse(c, settings)
}

// handleUpdateSettings replaces the caller's settings. The user id always
// comes from the header, never the body.
func (s *Server) handleUpdateSettings(c *gin.Context) {
	uid, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	var settings database.AutomationSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	settings.UserID = uid

	saved, err := s.deps.Automation.UpdateSettings(c.Request.Context(), settings)
	if err != nil {
		s.fail(c, err, "Failed to save automation settings")
		return
	}
	successResponse(c, saved)
}
