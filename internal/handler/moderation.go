package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relaybot/internal/models"
	"relaybot/internal/repository"
)

// apiModeratorID is recorded as the moderator for ban changes made over HTTP.
const apiModeratorID = 0

// ModerationHandler exposes the ban set and counters to the operator.
type ModerationHandler struct {
	store  repository.Store
	logger *zap.Logger
}

func NewModerationHandler(store repository.Store, logger *zap.Logger) *ModerationHandler {
	return &ModerationHandler{store: store, logger: logger}
}

func (h *ModerationHandler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to collect stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to collect stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ModerationHandler) ListBans(c *gin.Context) {
	bans, err := h.store.ListBanned(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list bans", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list bans"})
		return
	}
	if bans == nil {
		bans = []models.Ban{}
	}
	c.JSON(http.StatusOK, gin.H{"bans": bans})
}

func (h *ModerationHandler) Ban(c *gin.Context) {
	h.setBan(c, true)
}

func (h *ModerationHandler) Unban(c *gin.Context) {
	h.setBan(c, false)
}

func (h *ModerationHandler) setBan(c *gin.Context, ban bool) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}

	apply := h.store.Unban
	if ban {
		apply = h.store.Ban
	}
	if err := apply(c.Request.Context(), userID, apiModeratorID); err != nil {
		h.logger.Error("Failed to update ban state", zap.Int64("user_id", userID), zap.Bool("ban", ban), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update ban state"})
		return
	}

	h.logger.Info("Ban state updated over API",
		zap.Int64("user_id", userID),
		zap.Bool("banned", ban),
		zap.String("operator", c.GetString("username")),
	)
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "banned": ban})
}
