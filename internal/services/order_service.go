package services

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "trading-engine/internal/errors"
	"trading-engine/internal/logging"
	"trading-engine/internal/models"
)

const (
	MinLeverage = 1
	MaxLeverage = 10
)

// Account holds the user's free cash.
type Account struct {
	Balance float64
}

// PlaceOrderRequest is a typed order submission.
type PlaceOrderRequest struct {
	StockID  string
	Spec     models.OrderSpec
	Leverage float64
}

// OrderService owns order records and drives them through
// pending/open -> triggered -> executed | cancelled.
type OrderService struct {
	orders    []*models.Order
	market    *MarketDataService
	positions *PositionService
	ledger    *TransactionLedger
	notifier  *NotificationService
	account   *Account
	clock     func() time.Time
	logger    zerolog.Logger
}

func NewOrderService(market *MarketDataService, positions *PositionService, ledger *TransactionLedger,
	notifier *NotificationService, account *Account, clock func() time.Time, logger zerolog.Logger) *OrderService {
	if clock == nil {
		clock = time.Now
	}
	return &OrderService{
		market:    market,
		positions: positions,
		ledger:    ledger,
		notifier:  notifier,
		account:   account,
		clock:     clock,
		logger:    logger,
	}
}

func (s *OrderService) Load(orders []models.Order) {
	s.orders = make([]*models.Order, 0, len(orders))
	for i := range orders {
		o := orders[i]
		s.orders = append(s.orders, &o)
	}
}

func (s *OrderService) Orders() []models.Order {
	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out
}

func (s *OrderService) Get(orderID string) (*models.Order, error) {
	for _, o := range s.orders {
		if o.ID == orderID {
			return o, nil
		}
	}
	return nil, apperrors.NewNotFoundError("order", orderID)
}

// PlaceOrder validates and submits an order. Market orders execute at once;
// limit, stop-loss and take-profit orders wait in the open state. When the
// fill cannot be covered the order is returned cancelled together with the
// policy error.
func (s *OrderService) PlaceOrder(req PlaceOrderRequest) (*models.Order, error) {
	stock, err := s.market.Get(req.StockID)
	if err != nil {
		s.notifier.Error("Order Rejected", fmt.Sprintf("Stock %s does not exist", req.StockID))
		return nil, err
	}
	spec, leverage, err := s.validate(stock, req)
	if err != nil {
		s.notifier.Error("Order Rejected", err.Error())
		return nil, err
	}

	now := models.Millis(s.clock())
	if market, ok := spec.(models.MarketOrder); ok {
		order := models.NewOrder(stock, market, leverage, models.OrderPending, now)
		s.orders = append(s.orders, order)
		logging.LogOrder(s.logger, order.ID, order.Symbol, string(order.OrderType), string(order.Status))
		err := s.execute(order, market.Side, market.Quantity, stock.CurrentValue)
		return order, err
	}

	order := models.NewOrder(stock, spec, leverage, models.OrderOpen, now)
	s.orders = append(s.orders, order)
	logging.LogOrder(s.logger, order.ID, order.Symbol, string(order.OrderType), string(order.Status))
	s.notifier.Info("Order Placed", describeOpenOrder(order))
	return order, nil
}

func (s *OrderService) validate(stock *models.Stock, req PlaceOrderRequest) (models.OrderSpec, float64, error) {
	leverage := req.Leverage
	if leverage == 0 {
		leverage = MinLeverage
	}
	if leverage < MinLeverage || leverage > MaxLeverage {
		return nil, 0, apperrors.NewValidationError("leverage", req.Leverage, "must be between 1 and 10")
	}

	switch spec := req.Spec.(type) {
	case models.MarketOrder:
		if err := validateSide(spec.Side); err != nil {
			return nil, 0, err
		}
		if spec.Quantity <= 0 {
			return nil, 0, apperrors.NewValidationError("quantity", spec.Quantity, "must be greater than 0")
		}
		return spec, leverage, nil
	case models.LimitOrder:
		if err := validateSide(spec.Side); err != nil {
			return nil, 0, err
		}
		if spec.Quantity <= 0 {
			return nil, 0, apperrors.NewValidationError("quantity", spec.Quantity, "must be greater than 0")
		}
		if !(spec.LimitPrice > 0) {
			return nil, 0, apperrors.NewValidationError("limitPrice", spec.LimitPrice, "must be greater than 0")
		}
		return spec, leverage, nil
	case models.StopLossOrder:
		h, err := s.protectedHolding(stock, spec.HoldingID)
		if err != nil {
			return nil, 0, err
		}
		if !(spec.StopPrice > 0) {
			return nil, 0, apperrors.NewValidationError("stopPrice", spec.StopPrice, "must be greater than 0")
		}
		if spec.Quantity, err = protectedQuantity(h, spec.Quantity); err != nil {
			return nil, 0, err
		}
		return spec, h.Leverage, nil
	case models.TakeProfitOrder:
		h, err := s.protectedHolding(stock, spec.HoldingID)
		if err != nil {
			return nil, 0, err
		}
		if !(spec.TakeProfitPrice > 0) {
			return nil, 0, apperrors.NewValidationError("takeProfitPrice", spec.TakeProfitPrice, "must be greater than 0")
		}
		if spec.Quantity, err = protectedQuantity(h, spec.Quantity); err != nil {
			return nil, 0, err
		}
		return spec, h.Leverage, nil
	}
	return nil, 0, apperrors.NewValidationError("orderType", req.Spec, "unsupported order")
}

func validateSide(side models.Side) error {
	if side != models.SideBuy && side != models.SideSell {
		return apperrors.NewValidationError("orderType", side, "must be buy or sell")
	}
	return nil
}

func (s *OrderService) protectedHolding(stock *models.Stock, holdingID string) (*models.Holding, error) {
	h, err := s.positions.Get(holdingID)
	if err != nil {
		return nil, err
	}
	if !h.IsOpen() {
		return nil, apperrors.NewInvalidStateError("holding", holdingID, string(h.Status), "protect")
	}
	if h.StockID != stock.ID {
		return nil, apperrors.NewValidationError("holdingId", holdingID, "holding belongs to another stock")
	}
	return h, nil
}

func protectedQuantity(h *models.Holding, quantity int) (int, error) {
	if quantity == 0 {
		return h.Quantity, nil
	}
	if quantity < 0 || quantity > h.Quantity {
		return 0, apperrors.NewValidationError("quantity", quantity, "must be between 1 and the holding quantity")
	}
	return quantity, nil
}

// CancelOrder cancels a pending or open order. Cancelling a terminal order
// changes nothing and reports an InvalidStateError.
func (s *OrderService) CancelOrder(orderID string) (*models.Order, error) {
	order, err := s.Get(orderID)
	if err != nil {
		s.notifier.Error("Order Not Cancelled", err.Error())
		return nil, err
	}
	if !order.Status.IsCancellable() {
		s.notifier.Warning("Order Unchanged", fmt.Sprintf("Order for %s is already %s", order.Symbol, order.Status))
		return order, apperrors.NewInvalidStateError("order", orderID, string(order.Status), "cancel")
	}
	s.cancel(order)
	s.notifier.Info("Order Cancelled", fmt.Sprintf("%s order for %d %s cancelled", order.OrderType, order.Quantity, order.Symbol))
	return order, nil
}

// CancelForStock cancels every live order on stockID and returns how many
// were cancelled.
func (s *OrderService) CancelForStock(stockID string) int {
	n := 0
	for _, o := range s.orders {
		if o.StockID == stockID && o.Status.IsCancellable() {
			s.cancel(o)
			n++
		}
	}
	return n
}

// CancelProtective cancels open stop-loss and take-profit orders that
// reference holdingID.
func (s *OrderService) CancelProtective(holdingID string) int {
	n := 0
	for _, o := range s.orders {
		if o.HoldingID != holdingID || !o.Status.IsCancellable() {
			continue
		}
		if o.OrderType == models.OrderTypeStopLoss || o.OrderType == models.OrderTypeTakeProfit {
			s.cancel(o)
			n++
		}
	}
	return n
}

// resizeProtective grows the live protective orders that covered the whole
// of h before it was extended from prevQuantity, so they keep covering the
// whole position. Orders for part of the holding keep their size.
func (s *OrderService) resizeProtective(h *models.Holding, prevQuantity int) {
	for _, o := range s.orders {
		if o.HoldingID != h.ID || !o.Status.IsCancellable() {
			continue
		}
		if o.OrderType != models.OrderTypeStopLoss && o.OrderType != models.OrderTypeTakeProfit {
			continue
		}
		if o.Quantity >= prevQuantity {
			o.Quantity = h.Quantity
			o.UpdatedAt = h.UpdatedAt
		}
	}
}

// EditHolding replaces the protective levels of a holding and re-spawns the
// matching stop-loss and take-profit orders.
func (s *OrderService) EditHolding(holdingID string, stopLoss, takeProfit *float64) (*models.Holding, error) {
	h, err := s.positions.EditRiskLevels(holdingID, stopLoss, takeProfit)
	if err != nil {
		s.notifier.Error("Holding Not Updated", err.Error())
		return nil, err
	}
	s.CancelProtective(h.ID)

	now := models.Millis(s.clock())
	stock, err := s.market.Get(h.StockID)
	if err != nil {
		return nil, err
	}
	if stopLoss != nil {
		o := models.NewOrder(stock, models.StopLossOrder{HoldingID: h.ID, Quantity: h.Quantity, StopPrice: *stopLoss}, h.Leverage, models.OrderOpen, now)
		s.orders = append(s.orders, o)
		logging.LogOrder(s.logger, o.ID, o.Symbol, string(o.OrderType), string(o.Status))
	}
	if takeProfit != nil {
		o := models.NewOrder(stock, models.TakeProfitOrder{HoldingID: h.ID, Quantity: h.Quantity, TakeProfitPrice: *takeProfit}, h.Leverage, models.OrderOpen, now)
		s.orders = append(s.orders, o)
		logging.LogOrder(s.logger, o.ID, o.Symbol, string(o.OrderType), string(o.Status))
	}
	s.notifier.Success("Holding Updated", fmt.Sprintf("Risk levels updated for %s", h.Symbol))
	return h, nil
}

// ClosePosition closes an open holding with a market order for its full
// quantity on the opposite side.
func (s *OrderService) ClosePosition(holdingID string) (*models.Order, error) {
	h, err := s.positions.Get(holdingID)
	if err != nil {
		s.notifier.Error("Position Not Closed", err.Error())
		return nil, err
	}
	if !h.IsOpen() {
		s.notifier.Info("Position Unchanged", fmt.Sprintf("%s position is already closed", h.Symbol))
		return nil, apperrors.NewInvalidStateError("holding", holdingID, string(h.Status), "close")
	}
	stock, err := s.market.Get(h.StockID)
	if err != nil {
		return nil, err
	}

	side := h.PositionType.ClosingSide()
	order := models.NewOrder(stock, models.MarketOrder{Side: side, Quantity: h.Quantity}, h.Leverage, models.OrderPending, models.Millis(s.clock()))
	order.HoldingID = h.ID
	s.orders = append(s.orders, order)
	err = s.execute(order, side, h.Quantity, stock.CurrentValue)
	return order, err
}

// DeleteStock removes a stock after cancelling its live orders and closing
// its open holding at the last known price.
func (s *OrderService) DeleteStock(stockID string) error {
	stock, err := s.market.Get(stockID)
	if err != nil {
		return err
	}
	log := logging.WithStock(s.logger, stockID)

	cancelled := s.CancelForStock(stockID)
	if h := s.positions.OpenHolding(stockID); h != nil {
		side := h.PositionType.ClosingSide()
		quantity, leverage := h.Quantity, h.Leverage
		fill, err := s.positions.ForceClose(h.ID, stock.CurrentValue)
		if err != nil {
			return err
		}
		s.account.Balance += fill.CashDelta()
		s.ledger.Record(stock, side, quantity, stock.CurrentValue, leverage, "")
		log.Info().Float64("realized_pnl", fill.RealizedPnL).Msg("Holding force-closed for stock deletion")
		s.notifier.Info("Position Closed", fmt.Sprintf("%s position closed at %.2f with P&L %.2f", stock.Name, stock.CurrentValue, fill.RealizedPnL))
	}
	if err := s.market.Remove(stockID); err != nil {
		return err
	}
	log.Info().Int("cancelled_orders", cancelled).Msg("Stock deleted")
	s.notifier.Success("Stock Deleted", fmt.Sprintf("%s has been removed from the market", stock.Name))
	return nil
}

// Reset drops every order.
func (s *OrderService) Reset() {
	s.orders = nil
}

func (s *OrderService) cancel(order *models.Order) {
	order.Status = models.OrderCancelled
	order.UpdatedAt = models.Millis(s.clock())
	logging.LogOrder(s.logger, order.ID, order.Symbol, string(order.OrderType), string(order.Status))
}

// execute runs one fill to completion: position ledger, market impact,
// balance, transaction ledger, marks and notifications. Policy failures
// cancel the order before anything is mutated.
func (s *OrderService) execute(order *models.Order, side models.Side, quantity int, price float64) error {
	stock, err := s.market.Get(order.StockID)
	if err != nil {
		s.cancel(order)
		return err
	}
	leverage := order.Leverage
	if leverage < MinLeverage {
		leverage = MinLeverage
	}

	closing, opening := s.positions.Preview(stock.ID, side, quantity)
	// Only long exposure moves shares out of or back into the float.
	longQuantity := opening
	if side == models.SideSell {
		longQuantity = closing
	}

	required := float64(opening) * price / leverage
	if required > s.account.Balance {
		s.cancel(order)
		s.notifier.Error("Insufficient Balance", fmt.Sprintf("Need %.2f to %s %d %s, available %.2f", required, side, quantity, stock.Name, s.account.Balance))
		return apperrors.NewInsufficientBalanceError(required, s.account.Balance)
	}
	if err := s.market.CheckFill(stock.ID, side, longQuantity); err != nil {
		s.cancel(order)
		s.notifier.Error("Order Cancelled", err.Error())
		return err
	}

	prevQuantity := 0
	if h := s.positions.OpenHolding(stock.ID); h != nil {
		prevQuantity = h.Quantity
	}
	fill := s.positions.ApplyFill(stock, side, quantity, price, leverage)
	if _, err := s.market.ApplyFill(stock.ID, side, quantity, longQuantity); err != nil {
		// CheckFill passed above, so this cannot happen without a bug.
		return apperrors.Wrap(err, "apply market impact")
	}
	s.account.Balance += fill.CashDelta()
	s.ledger.Record(stock, side, quantity, price, leverage, order.ID)

	now := models.Millis(s.clock())
	order.Status = models.OrderExecuted
	order.ExecutedAt = models.Int64(now)
	order.ExecutedPrice = models.Float(price)
	order.UpdatedAt = now
	switch {
	case fill.Holding != nil:
		order.HoldingID = fill.Holding.ID
	case fill.Closed != nil:
		order.HoldingID = fill.Closed.ID
	}

	s.positions.MarkAll(s.market.Prices())
	if fill.Closed != nil {
		s.CancelProtective(fill.Closed.ID)
	} else if fill.Holding != nil && fill.OpenedQuantity > 0 && prevQuantity > 0 {
		s.resizeProtective(fill.Holding, prevQuantity)
	}

	logging.LogTrade(s.logger, stock.Name, string(side), quantity, price)
	logging.LogOrder(s.logger, order.ID, order.Symbol, string(order.OrderType), string(order.Status))
	s.notifier.Success("Order Executed", describeFill(order, side, quantity, price, fill))
	return nil
}

func describeFill(order *models.Order, side models.Side, quantity int, price float64, fill FillResult) string {
	verb := "Bought"
	if side == models.SideSell {
		verb = "Sold"
	}
	msg := fmt.Sprintf("%s %d %s @ %.2f", verb, quantity, order.Symbol, price)
	if fill.ClosedQuantity > 0 {
		msg += fmt.Sprintf(", realized P&L %.2f", fill.RealizedPnL)
	}
	return msg
}

func describeOpenOrder(order *models.Order) string {
	switch order.OrderType {
	case models.OrderTypeStopLoss:
		return fmt.Sprintf("Stop-loss for %d %s at %.2f", order.Quantity, order.Symbol, *order.StopPrice)
	case models.OrderTypeTakeProfit:
		return fmt.Sprintf("Take-profit for %d %s at %.2f", order.Quantity, order.Symbol, *order.TakeProfitPrice)
	}
	return fmt.Sprintf("Limit %s %d %s at %.2f", order.OrderType, order.Quantity, order.Symbol, *order.LimitPrice)
}
