package services

import (
	"time"

	apperrors "trading-engine/internal/errors"
	"trading-engine/internal/models"
)

// FillResult describes what a fill did to the position ledger.
type FillResult struct {
	// Holding is the open holding after the fill, nil when the fill left the stock flat.
	Holding *models.Holding
	// Closed is the holding the fill closed, if any.
	Closed *models.Holding

	ClosedQuantity  int
	OpenedQuantity  int
	RealizedPnL     float64
	MarginReleased  float64
	MarginCommitted float64
}

// CashDelta is the change the fill makes to the account balance.
func (r FillResult) CashDelta() float64 {
	return r.MarginReleased + r.RealizedPnL - r.MarginCommitted
}

// PositionService owns the user's holdings. At most one holding per stock
// is open at any time.
type PositionService struct {
	holdings []*models.Holding
	history  []models.HoldingHistory
	clock    func() time.Time
}

func NewPositionService(clock func() time.Time) *PositionService {
	if clock == nil {
		clock = time.Now
	}
	return &PositionService{clock: clock}
}

func (p *PositionService) Load(holdings []models.Holding, history []models.HoldingHistory) {
	p.holdings = make([]*models.Holding, 0, len(holdings))
	for i := range holdings {
		h := holdings[i]
		p.holdings = append(p.holdings, &h)
	}
	p.history = append([]models.HoldingHistory{}, history...)
}

// Holdings returns copies of all holdings, open and closed.
func (p *PositionService) Holdings() []models.Holding {
	out := make([]models.Holding, 0, len(p.holdings))
	for _, h := range p.holdings {
		out = append(out, *h)
	}
	return out
}

func (p *PositionService) History() []models.HoldingHistory {
	return append([]models.HoldingHistory{}, p.history...)
}

func (p *PositionService) Get(holdingID string) (*models.Holding, error) {
	for _, h := range p.holdings {
		if h.ID == holdingID {
			return h, nil
		}
	}
	return nil, apperrors.NewNotFoundError("holding", holdingID)
}

// OpenHolding returns the open holding on stockID, or nil.
func (p *PositionService) OpenHolding(stockID string) *models.Holding {
	for _, h := range p.holdings {
		if h.StockID == stockID && h.IsOpen() {
			return h
		}
	}
	return nil
}

// Preview splits a fill into the part that nets against the open holding
// and the part that opens new exposure, without changing anything.
func (p *PositionService) Preview(stockID string, side models.Side, quantity int) (closing, opening int) {
	existing := p.OpenHolding(stockID)
	if existing == nil || existing.PositionType == models.PositionFor(side) {
		return 0, quantity
	}
	closing = min(existing.Quantity, quantity)
	return closing, quantity - closing
}

// ApplyFill nets a fill of quantity shares at price against the open holding
// on stock: it opens, extends, reduces, closes or flips the position.
func (p *PositionService) ApplyFill(stock *models.Stock, side models.Side, quantity int, price, leverage float64) FillResult {
	if leverage < 1 {
		leverage = 1
	}
	now := models.Millis(p.clock())
	existing := p.OpenHolding(stock.ID)

	if existing == nil {
		h := p.open(stock, models.PositionFor(side), quantity, price, leverage, now)
		return FillResult{
			Holding:         h,
			OpenedQuantity:  quantity,
			MarginCommitted: h.MarginUsed,
		}
	}

	if existing.PositionType == models.PositionFor(side) {
		committed := float64(quantity) * price / leverage
		total := existing.Quantity + quantity
		existing.AverageEntryPrice = (existing.AverageEntryPrice*float64(existing.Quantity) + price*float64(quantity)) / float64(total)
		existing.Quantity = total
		existing.MarginUsed += committed
		existing.UpdatedAt = now
		existing.UnrealizedPnL = existing.PnLAt(price)
		return FillResult{
			Holding:         existing,
			OpenedQuantity:  quantity,
			MarginCommitted: committed,
		}
	}

	closing := min(existing.Quantity, quantity)
	result := p.reduce(existing, closing, price, now)

	if remainder := quantity - closing; remainder > 0 {
		h := p.open(stock, models.PositionFor(side), remainder, price, leverage, now)
		result.Holding = h
		result.OpenedQuantity = remainder
		result.MarginCommitted = h.MarginUsed
	}
	return result
}

// ForceClose closes the whole holding at price through the same realization
// path as an opposite-direction fill.
func (p *PositionService) ForceClose(holdingID string, price float64) (FillResult, error) {
	h, err := p.Get(holdingID)
	if err != nil {
		return FillResult{}, err
	}
	if !h.IsOpen() {
		return FillResult{}, apperrors.NewInvalidStateError("holding", holdingID, string(h.Status), "close")
	}
	return p.reduce(h, h.Quantity, price, models.Millis(p.clock())), nil
}

// MarkAll marks every open holding against prices.
func (p *PositionService) MarkAll(prices map[string]float64) {
	for _, h := range p.holdings {
		if !h.IsOpen() {
			continue
		}
		if price, ok := prices[h.StockID]; ok {
			h.UnrealizedPnL = h.PnLAt(price)
		}
	}
}

// EditRiskLevels sets the protective levels of an open holding. A nil level
// clears it.
func (p *PositionService) EditRiskLevels(holdingID string, stopLoss, takeProfit *float64) (*models.Holding, error) {
	h, err := p.Get(holdingID)
	if err != nil {
		return nil, err
	}
	if !h.IsOpen() {
		return nil, apperrors.NewInvalidStateError("holding", holdingID, string(h.Status), "edit")
	}
	if stopLoss != nil && !(*stopLoss > 0) {
		return nil, apperrors.NewValidationError("stopLossPrice", *stopLoss, "must be greater than 0")
	}
	if takeProfit != nil && !(*takeProfit > 0) {
		return nil, apperrors.NewValidationError("takeProfitPrice", *takeProfit, "must be greater than 0")
	}
	h.StopLossPrice = copyFloat(stopLoss)
	h.TakeProfitPrice = copyFloat(takeProfit)
	h.UpdatedAt = models.Millis(p.clock())
	return h, nil
}

// Reset discards every holding and the closed-holding archive.
func (p *PositionService) Reset() {
	p.holdings = nil
	p.history = nil
}

func (p *PositionService) open(stock *models.Stock, positionType models.PositionType, quantity int, price, leverage float64, now int64) *models.Holding {
	h := &models.Holding{
		ID:                models.NewID(),
		StockID:           stock.ID,
		Symbol:            stock.Name,
		Status:            models.HoldingOpen,
		PositionType:      positionType,
		Quantity:          quantity,
		AverageEntryPrice: price,
		Leverage:          leverage,
		MarginUsed:        float64(quantity) * price / leverage,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	p.holdings = append(p.holdings, h)
	return h
}

// reduce realizes P&L on closing shares of h. The remainder keeps its entry
// price; reducing to zero closes and archives the holding.
func (p *PositionService) reduce(h *models.Holding, closing int, price float64, now int64) FillResult {
	realized := (price - h.AverageEntryPrice) * float64(closing)
	if h.PositionType == models.PositionShort {
		realized = -realized
	}
	released := h.MarginUsed * float64(closing) / float64(h.Quantity)

	h.RealizedPnL += realized
	h.UpdatedAt = now
	result := FillResult{
		ClosedQuantity: closing,
		RealizedPnL:    realized,
		MarginReleased: released,
	}

	if closing < h.Quantity {
		h.Quantity -= closing
		h.MarginUsed -= released
		h.UnrealizedPnL = h.PnLAt(price)
		result.Holding = h
		return result
	}

	h.Status = models.HoldingClosed
	h.AverageExitPrice = models.Float(price)
	h.UnrealizedPnL = 0
	h.ClosedAt = models.Int64(now)
	p.history = append(p.history, models.HoldingHistory{
		HoldingID:         h.ID,
		StockID:           h.StockID,
		Symbol:            h.Symbol,
		PositionType:      h.PositionType,
		Quantity:          h.Quantity,
		AverageEntryPrice: h.AverageEntryPrice,
		AverageExitPrice:  price,
		RealizedPnL:       h.RealizedPnL,
		Leverage:          h.Leverage,
		MarginUsed:        h.MarginUsed,
		CreatedAt:         h.CreatedAt,
		ClosedAt:          now,
	})
	result.Closed = h
	return result
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return models.Float(*v)
}
