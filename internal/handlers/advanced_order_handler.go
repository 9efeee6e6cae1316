package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "trading-engine/internal/errors"
	"trading-engine/internal/models"
	"trading-engine/internal/services"
)

// AdvancedOrderHandler serves holdings and their protective orders.
type AdvancedOrderHandler struct {
	service *services.TradingService
}

func NewAdvancedOrderHandler(service *services.TradingService) *AdvancedOrderHandler {
	return &AdvancedOrderHandler{service: service}
}

// EditHoldingRequest sets or clears a holding's risk levels. Both fields
// are always applied: an absent or null field removes that level.
type EditHoldingRequest struct {
	StopLossPrice   *float64 `json:"stopLossPrice"`
	TakeProfitPrice *float64 `json:"takeProfitPrice"`
}

func (h *AdvancedOrderHandler) GetHoldings(c *gin.Context) {
	holdings, err := h.service.Holdings(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	status := models.HoldingStatus(c.Query("status"))
	switch status {
	case "", models.HoldingOpen, models.HoldingClosed:
	default:
		respondError(c, apperrors.NewValidationError("status", status, "must be open or closed"))
		return
	}

	filtered := make([]models.Holding, 0, len(holdings))
	for _, holding := range holdings {
		if status == "" || holding.Status == status {
			filtered = append(filtered, holding)
		}
	}
	c.JSON(http.StatusOK, gin.H{"holdings": filtered})
}

func (h *AdvancedOrderHandler) EditHolding(c *gin.Context) {
	var req EditHoldingRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		badRequest(c, err)
		return
	}

	holding, err := h.service.EditHolding(c.Request.Context(), c.Param("id"), req.StopLossPrice, req.TakeProfitPrice)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, holding)
}

func (h *AdvancedOrderHandler) ClosePosition(c *gin.Context) {
	order, err := h.service.ClosePosition(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondOrderError(c, order, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Position closed", "order": order})
}
