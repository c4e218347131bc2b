package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obsmetrics "github.com/vidlens/trendsync/internal/observability/metrics"
	"github.com/vidlens/trendsync/internal/syncer"
	"go.uber.org/zap"
)

type triggerSyncRequest struct {
	Kind string `json:"kind"`
}

func (s *Server) SyncStatus(c *gin.Context) {
	status := s.syncerSvc.Status(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"data": status})
}

// TriggerSync starts a sync pass in the background. The in-flight marker
// inside the orchestrator guards against overlap; this handler only reports
// the obvious conflict early.
func (s *Server) TriggerSync(c *gin.Context) {
	// a bare POST with no body asks for the default incremental pass
	var req triggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	kind := strings.TrimSpace(strings.ToLower(req.Kind))
	switch kind {
	case "", obsmetrics.SyncKindIncremental:
		kind = obsmetrics.SyncKindIncremental
	case obsmetrics.SyncKindBootstrap:
	default:
		AbortWithError(c, newValidationError("kind", "invalid_kind", "kind must be bootstrap or incremental"))
		return
	}

	if s.syncerSvc.Status(c.Request.Context()).InFlight {
		AbortWithError(c, syncer.ErrSyncInFlight)
		return
	}

	go func() {
		ctx := context.WithoutCancel(c.Request.Context())
		var err error
		if kind == obsmetrics.SyncKindBootstrap {
			_, err = s.syncerSvc.BootstrapSync(ctx)
		} else {
			_, err = s.syncerSvc.IncrementalSync(ctx)
		}
		if err != nil && !errors.Is(err, syncer.ErrSyncInFlight) {
			s.log.Warn("triggered sync failed", zap.String("kind", kind), zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"kind": kind, "started": true}})
}
