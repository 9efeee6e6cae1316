package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trading-engine/internal/models"
	"trading-engine/internal/services"
)

// AccountHandler serves session-level state: the snapshot, margin, settings
// and notifications.
type AccountHandler struct {
	service *services.TradingService
}

func NewAccountHandler(service *services.TradingService) *AccountHandler {
	return &AccountHandler{service: service}
}

type MarginRequest struct {
	Margin int `json:"margin" binding:"required"`
}

func (h *AccountHandler) GetState(c *gin.Context) {
	snapshot, err := h.service.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *AccountHandler) SetMargin(c *gin.Context) {
	var req MarginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.service.SetMargin(c.Request.Context(), req.Margin); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"margin": req.Margin})
}

func (h *AccountHandler) ResetAccount(c *gin.Context) {
	if err := h.service.ResetAccount(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	snapshot, err := h.service.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *AccountHandler) GetSettings(c *gin.Context) {
	settings, err := h.service.Settings(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *AccountHandler) UpdateSettings(c *gin.Context) {
	var req models.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	settings, err := h.service.UpdateSettings(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *AccountHandler) GetNotifications(c *gin.Context) {
	notes, err := h.service.Notifications(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	unread := 0
	for _, n := range notes {
		if !n.Read {
			unread++
		}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notes, "unread": unread})
}

func (h *AccountHandler) MarkNotificationRead(c *gin.Context) {
	if err := h.service.MarkNotificationRead(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}

func (h *AccountHandler) ClearNotifications(c *gin.Context) {
	if err := h.service.ClearNotifications(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notifications cleared"})
}
