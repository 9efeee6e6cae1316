package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "trading-engine/internal/errors"
	"trading-engine/internal/models"
	"trading-engine/internal/services"
)

type OrderHandler struct {
	service *services.TradingService
}

func NewOrderHandler(service *services.TradingService) *OrderHandler {
	return &OrderHandler{service: service}
}

// PlaceOrderRequest is the wire shape of an order submission. OrderType is
// buy, sell, stoploss or take_profit; ExecutionType (market or limit) only
// applies to buy and sell.
type PlaceOrderRequest struct {
	StockID         string   `json:"stockId" binding:"required"`
	OrderType       string   `json:"orderType" binding:"required"`
	ExecutionType   string   `json:"executionType"`
	Quantity        int      `json:"quantity" binding:"min=0"`
	LimitPrice      *float64 `json:"limitPrice"`
	StopPrice       *float64 `json:"stopPrice"`
	TakeProfitPrice *float64 `json:"takeProfitPrice"`
	HoldingID       string   `json:"holdingId"`
	Leverage        float64  `json:"leverage"`
}

// Spec converts the request into its typed order variant.
func (r PlaceOrderRequest) Spec() (models.OrderSpec, error) {
	switch models.OrderType(r.OrderType) {
	case models.OrderTypeBuy, models.OrderTypeSell:
		side := models.Side(r.OrderType)
		switch models.ExecutionType(r.ExecutionType) {
		case "", models.ExecutionMarket:
			return models.MarketOrder{Side: side, Quantity: r.Quantity}, nil
		case models.ExecutionLimit:
			if r.LimitPrice == nil {
				return nil, apperrors.NewValidationError("limitPrice", nil, "required for limit orders")
			}
			return models.LimitOrder{Side: side, Quantity: r.Quantity, LimitPrice: *r.LimitPrice}, nil
		default:
			return nil, apperrors.NewValidationError("executionType", r.ExecutionType, "must be market or limit")
		}
	case models.OrderTypeStopLoss:
		if r.StopPrice == nil {
			return nil, apperrors.NewValidationError("stopPrice", nil, "required for stop-loss orders")
		}
		if r.HoldingID == "" {
			return nil, apperrors.NewValidationError("holdingId", "", "required for stop-loss orders")
		}
		return models.StopLossOrder{HoldingID: r.HoldingID, Quantity: r.Quantity, StopPrice: *r.StopPrice}, nil
	case models.OrderTypeTakeProfit:
		if r.TakeProfitPrice == nil {
			return nil, apperrors.NewValidationError("takeProfitPrice", nil, "required for take-profit orders")
		}
		if r.HoldingID == "" {
			return nil, apperrors.NewValidationError("holdingId", "", "required for take-profit orders")
		}
		return models.TakeProfitOrder{HoldingID: r.HoldingID, Quantity: r.Quantity, TakeProfitPrice: *r.TakeProfitPrice}, nil
	}
	return nil, apperrors.NewValidationError("orderType", r.OrderType, "must be buy, sell, stoploss or take_profit")
}

func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	spec, err := req.Spec()
	if err != nil {
		respondError(c, err)
		return
	}

	order, err := h.service.PlaceOrder(c.Request.Context(), services.PlaceOrderRequest{
		StockID:  req.StockID,
		Spec:     spec,
		Leverage: req.Leverage,
	})
	if err != nil {
		respondOrderError(c, order, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Order placed successfully",
		"order":   order,
	})
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	order, err := h.service.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondOrderError(c, order, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order cancelled", "order": order})
}

// GetOrders lists orders newest first, optionally filtered by ?status=.
func (h *OrderHandler) GetOrders(c *gin.Context) {
	orders, err := h.service.Orders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	status := models.OrderStatus(c.Query("status"))
	filtered := make([]models.Order, 0, len(orders))
	for i := len(orders) - 1; i >= 0; i-- {
		if status == "" || orders[i].Status == status {
			filtered = append(filtered, orders[i])
		}
	}
	paginate(c, filtered)
}

// GetTransactions lists the ledger newest first.
func (h *OrderHandler) GetTransactions(c *gin.Context) {
	txs, err := h.service.Transactions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	reversed := make([]models.Transaction, len(txs))
	for i, tx := range txs {
		reversed[len(txs)-1-i] = tx
	}
	paginate(c, reversed)
}

func (h *OrderHandler) GetPortfolio(c *gin.Context) {
	summary, err := h.service.Portfolio(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
