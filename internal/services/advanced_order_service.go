package services

import (
	"github.com/rs/zerolog"

	"trading-engine/internal/logging"
	"trading-engine/internal/models"
)

// AdvancedOrderService evaluates open limit, stop-loss and take-profit
// orders against each price tick.
type AdvancedOrderService struct {
	orders *OrderService
	logger zerolog.Logger
}

func NewAdvancedOrderService(orders *OrderService, logger zerolog.Logger) *AdvancedOrderService {
	return &AdvancedOrderService{
		orders: orders,
		logger: logger,
	}
}

// CheckAndExecuteOrders scans open orders in submission order against the
// price snapshot taken at the start of the tick. Triggered orders move to
// triggered and then execute before the next order is examined. It returns
// the orders that were triggered.
func (s *AdvancedOrderService) CheckAndExecuteOrders(prices map[string]float64) []models.Order {
	open := make([]*models.Order, 0)
	for _, o := range s.orders.orders {
		if o.Status == models.OrderOpen {
			open = append(open, o)
		}
	}

	var triggered []models.Order
	for _, order := range open {
		// An earlier execution in this scan may have closed the holding
		// and cancelled this order.
		if order.Status != models.OrderOpen {
			continue
		}
		price, ok := prices[order.StockID]
		if !ok {
			continue
		}

		spec, err := order.Spec()
		if err != nil {
			s.logger.Error().Err(err).Str("order_id", order.ID).Msg("Malformed open order cancelled")
			s.orders.cancel(order)
			continue
		}

		var holding *models.Holding
		if order.HoldingID != "" && isProtective(spec) {
			holding, err = s.orders.positions.Get(order.HoldingID)
			if err != nil || !holding.IsOpen() {
				s.orders.cancel(order)
				continue
			}
		}

		if !ShouldTrigger(spec, price, holding) {
			continue
		}
		s.trigger(order, spec, holding)
		triggered = append(triggered, *order)
	}
	return triggered
}

func (s *AdvancedOrderService) trigger(order *models.Order, spec models.OrderSpec, holding *models.Holding) {
	order.Status = models.OrderTriggered
	order.UpdatedAt = models.Millis(s.orders.clock())
	logging.LogOrder(s.logger, order.ID, order.Symbol, string(order.OrderType), string(order.Status))

	stock, err := s.orders.market.Get(order.StockID)
	if err != nil {
		s.orders.cancel(order)
		return
	}

	var (
		side     models.Side
		quantity int
		price    float64
	)
	switch o := spec.(type) {
	case models.LimitOrder:
		side, quantity, price = o.Side, o.Quantity, o.LimitPrice
	case models.StopLossOrder:
		side, quantity, price = holding.PositionType.ClosingSide(), min(o.Quantity, holding.Quantity), stock.CurrentValue
	case models.TakeProfitOrder:
		side, quantity, price = holding.PositionType.ClosingSide(), min(o.Quantity, holding.Quantity), stock.CurrentValue
	default:
		s.orders.cancel(order)
		return
	}

	if err := s.orders.execute(order, side, quantity, price); err != nil {
		log := logging.WithOrderID(s.logger, order.ID)
		log.Warn().Err(err).Msg("Triggered order not executed")
	}
}

// ShouldTrigger reports whether an open order fires at price. Protective
// orders need the holding they protect to know its direction.
func ShouldTrigger(spec models.OrderSpec, price float64, holding *models.Holding) bool {
	switch o := spec.(type) {
	case models.LimitOrder:
		if o.Side == models.SideBuy {
			return price <= o.LimitPrice
		}
		return price >= o.LimitPrice
	case models.StopLossOrder:
		if holding == nil {
			return false
		}
		if holding.PositionType == models.PositionLong {
			return price <= o.StopPrice
		}
		return price >= o.StopPrice
	case models.TakeProfitOrder:
		if holding == nil {
			return false
		}
		if holding.PositionType == models.PositionLong {
			return price >= o.TakeProfitPrice
		}
		return price <= o.TakeProfitPrice
	}
	return false
}

func isProtective(spec models.OrderSpec) bool {
	switch spec.(type) {
	case models.StopLossOrder, models.TakeProfitOrder:
		return true
	}
	return false
}
