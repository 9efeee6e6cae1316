package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"trading-engine/internal/logging"
	"trading-engine/internal/services"
)

// NewRouter wires every HTTP route. hub may be nil, in which case /ws is
// not served.
func NewRouter(service *services.TradingService, hub *services.WebSocketHub, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinMiddleware(logger), cors())

	market := NewMarketHandler(service)
	orders := NewOrderHandler(service)
	holdings := NewAdvancedOrderHandler(service)
	account := NewAccountHandler(service)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "OK",
			"message": "Trading engine is running",
		})
	})

	api := router.Group("/api")
	{
		api.GET("/state", account.GetState)

		api.GET("/stocks", market.ListStocks)
		api.POST("/stocks", market.CreateStock)
		api.GET("/stocks/:id", market.GetStock)
		api.DELETE("/stocks/:id", market.DeleteStock)
		api.POST("/stocks/:id/select", market.SelectStock)
		api.POST("/market/tick", market.Tick)

		api.GET("/orders", orders.GetOrders)
		api.POST("/orders", orders.PlaceOrder)
		api.POST("/orders/:id/cancel", orders.CancelOrder)
		api.GET("/transactions", orders.GetTransactions)
		api.GET("/portfolio", orders.GetPortfolio)

		api.GET("/holdings", holdings.GetHoldings)
		api.PATCH("/holdings/:id", holdings.EditHolding)
		api.POST("/holdings/:id/close", holdings.ClosePosition)

		api.GET("/notifications", account.GetNotifications)
		api.POST("/notifications/:id/read", account.MarkNotificationRead)
		api.DELETE("/notifications", account.ClearNotifications)

		api.PUT("/margin", account.SetMargin)
		api.POST("/account/reset", account.ResetAccount)
		api.GET("/settings", account.GetSettings)
		api.PUT("/settings", account.UpdateSettings)
	}

	if hub != nil {
		router.GET("/ws", NewWebSocketHandler(hub, logger).Serve)
	}
	return router
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
