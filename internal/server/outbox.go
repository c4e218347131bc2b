package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	outboxdomain "github.com/vidlens/trendsync/internal/outbox/domain"
)

func (s *Server) ListOutbox(c *gin.Context) {
	var query struct {
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := outboxdomain.Status(strings.TrimSpace(strings.ToLower(query.Status)))
	if status == "" {
		status = outboxdomain.StatusPending
	}
	switch status {
	case outboxdomain.StatusPending, outboxdomain.StatusProcessing,
		outboxdomain.StatusCompleted, outboxdomain.StatusFailed:
	default:
		AbortWithError(c, newValidationError("status", "invalid_status", "unknown outbox status"))
		return
	}

	entries, err := s.outboxSvc.List(c.Request.Context(), status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	depth, err := s.outboxSvc.Depth(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"entries": entries,
		"depth":   depth,
	}})
}

func (s *Server) ReplayOutbox(c *gin.Context) {
	result, err := s.outboxSvc.Replay(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) PruneOutbox(c *gin.Context) {
	pruned, err := s.outboxSvc.Prune(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"pruned": pruned}})
}

func (s *Server) ClearFailedOutbox(c *gin.Context) {
	cleared, err := s.outboxSvc.ClearFailed(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"cleared": cleared}})
}
