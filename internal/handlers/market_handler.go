package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "trading-engine/internal/errors"
	"trading-engine/internal/models"
	"trading-engine/internal/services"
)

type MarketHandler struct {
	service *services.TradingService
}

func NewMarketHandler(service *services.TradingService) *MarketHandler {
	return &MarketHandler{service: service}
}

// StockView is a stock as listed on the market page.
type StockView struct {
	models.Stock
	ChangePercent float64 `json:"changePercent"`
}

func (h *MarketHandler) ListStocks(c *gin.Context) {
	stocks, err := h.service.Stocks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]StockView, 0, len(stocks))
	for _, s := range stocks {
		views = append(views, StockView{Stock: s, ChangePercent: s.ChangePercent()})
	}
	c.JSON(http.StatusOK, gin.H{"stocks": views})
}

func (h *MarketHandler) GetStock(c *gin.Context) {
	stock, err := h.service.Stock(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stock)
}

func (h *MarketHandler) CreateStock(c *gin.Context) {
	var req services.CreateStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	stock, err := h.service.CreateStock(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stock)
}

func (h *MarketHandler) DeleteStock(c *gin.Context) {
	if err := h.service.DeleteStock(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Stock deleted"})
}

func (h *MarketHandler) SelectStock(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.SelectStock(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selectedStockId": id})
}

// TickRequest drives a manual market update. Prices, when given, move the
// listed stocks to exact values; otherwise a random walk runs at
// Volatility (0..1), defaulting to the configured volatility.
type TickRequest struct {
	Volatility *float64           `json:"volatility"`
	Prices     map[string]float64 `json:"prices"`
}

func (h *MarketHandler) Tick(c *gin.Context) {
	var req TickRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	ctx := c.Request.Context()

	if len(req.Prices) > 0 {
		result, err := h.service.TickTo(ctx, req.Prices)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	var volatility float64
	if req.Volatility != nil {
		volatility = *req.Volatility
		if volatility < 0 || volatility > 1 {
			respondError(c, apperrors.NewValidationError("volatility", volatility, "must be between 0 and 1"))
			return
		}
	} else {
		settings, err := h.service.Settings(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		volatility = float64(settings.VolatilityPercent) / 100
	}

	result, err := h.service.Tick(ctx, volatility)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
