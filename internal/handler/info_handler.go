package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/domain/syncstate"
)

// InfoHandler serves node status endpoints. The sync endpoint is read
// by peers to decide whether this node's feed is complete, so its
// shape is part of the peer protocol and deliberately unwrapped.
type InfoHandler struct {
	state  syncstate.StateRepository
	logger *zap.Logger
}

// NewInfoHandler creates a new InfoHandler.
func NewInfoHandler(state syncstate.StateRepository, logger *zap.Logger) *InfoHandler {
	return &InfoHandler{state: state, logger: logger}
}

// RegisterRoutes registers info routes on the root engine.
func (h *InfoHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/info/sync", h.GetSyncInfo)
	r.GET("/healthz", h.Healthz)
}

// RegisterAPIRoutes registers the versioned alias miners query for
// sync status.
func (h *InfoHandler) RegisterAPIRoutes(r *gin.RouterGroup) {
	r.GET("/coupons/sync/status", h.GetSyncInfo)
}

// GetSyncInfo handles GET /info/sync
func (h *InfoHandler) GetSyncInfo(c *gin.Context) {
	progress, err := h.state.GetProgress(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read sync progress", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read sync info"})
		return
	}
	lastResult, err := h.state.GetLastResult(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read last sync result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read sync info"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"progress":    progress,
		"last_result": lastResult,
	})
}

// Healthz handles GET /healthz
func (h *InfoHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
