package services

import (
	"math"
	"math/rand"
	"strings"
	"time"

	apperrors "trading-engine/internal/errors"
	"trading-engine/internal/models"
)

// CreateStockRequest carries the user-supplied parameters of a new stock.
type CreateStockRequest struct {
	Name           string  `json:"name" binding:"required"`
	InitialValue   float64 `json:"initialValue" binding:"required"`
	TotalShares    int     `json:"totalShares" binding:"required"`
	PriceEvolution float64 `json:"priceEvolution" binding:"required"`
}

// MarketDataService owns every stock's price, share supply and history.
type MarketDataService struct {
	stocks []*models.Stock
	clock  func() time.Time
	rng    *rand.Rand
}

func NewMarketDataService(clock func() time.Time, rng *rand.Rand) *MarketDataService {
	if clock == nil {
		clock = time.Now
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &MarketDataService{
		clock: clock,
		rng:   rng,
	}
}

// DefaultStocks are seeded when the store has no saved stocks.
func DefaultStocks(now int64) []models.Stock {
	return []models.Stock{
		newStock("TechCorp", 1000, 1000, 0.1, now),
		newStock("FinanceHub", 500, 2000, 0.2, now),
	}
}

func newStock(name string, initialValue float64, totalShares int, priceEvolution float64, now int64) models.Stock {
	return models.Stock{
		ID:              models.NewID(),
		Name:            name,
		InitialValue:    initialValue,
		CurrentValue:    initialValue,
		TotalShares:     totalShares,
		AvailableShares: totalShares,
		PriceEvolution:  priceEvolution,
		History:         []models.PricePoint{{Timestamp: now, Price: initialValue}},
		Volume:          []models.VolumePoint{},
	}
}

// Load replaces the stock set with a copy of stocks.
func (m *MarketDataService) Load(stocks []models.Stock) {
	m.stocks = make([]*models.Stock, 0, len(stocks))
	for _, s := range stocks {
		stock := s.Clone()
		m.stocks = append(m.stocks, &stock)
	}
}

// Stocks returns deep copies of all stocks in creation order.
func (m *MarketDataService) Stocks() []models.Stock {
	out := make([]models.Stock, 0, len(m.stocks))
	for _, s := range m.stocks {
		out = append(out, s.Clone())
	}
	return out
}

// Get returns the live stock with the given ID.
func (m *MarketDataService) Get(stockID string) (*models.Stock, error) {
	for _, s := range m.stocks {
		if s.ID == stockID {
			return s, nil
		}
	}
	return nil, apperrors.NewNotFoundError("stock", stockID)
}

// Prices snapshots the current price of every stock.
func (m *MarketDataService) Prices() map[string]float64 {
	prices := make(map[string]float64, len(m.stocks))
	for _, s := range m.stocks {
		prices[s.ID] = s.CurrentValue
	}
	return prices
}

func (m *MarketDataService) CreateStock(req CreateStockRequest) (*models.Stock, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.NewValidationError("name", req.Name, "must not be empty")
	}
	if !(req.InitialValue > 0) || math.IsInf(req.InitialValue, 0) {
		return nil, apperrors.NewValidationError("initialValue", req.InitialValue, "must be greater than 0")
	}
	if req.TotalShares < models.MinTotalShares {
		return nil, apperrors.NewValidationError("totalShares", req.TotalShares, "must be at least 100")
	}
	if !(req.PriceEvolution > 0) || math.IsInf(req.PriceEvolution, 0) {
		return nil, apperrors.NewValidationError("priceEvolution", req.PriceEvolution, "must be greater than 0")
	}

	stock := newStock(name, req.InitialValue, req.TotalShares, req.PriceEvolution, models.Millis(m.clock()))
	m.stocks = append(m.stocks, &stock)
	return &stock, nil
}

// Impact is the price move caused by trading quantity shares of stock.
func Impact(stock *models.Stock, quantity int) float64 {
	return (stock.PriceEvolution / 100) * stock.InitialValue * (float64(quantity) / 100)
}

// CheckFill verifies that moving longQuantity shares in or out of the float
// keeps availableShares within [0, totalShares].
func (m *MarketDataService) CheckFill(stockID string, side models.Side, longQuantity int) error {
	stock, err := m.Get(stockID)
	if err != nil {
		return err
	}
	switch side {
	case models.SideBuy:
		if longQuantity > stock.AvailableShares {
			return apperrors.NewInsufficientSharesError(stockID, longQuantity, stock.AvailableShares)
		}
	case models.SideSell:
		if stock.AvailableShares+longQuantity > stock.TotalShares {
			return apperrors.NewValidationError("quantity", longQuantity, "would return more shares than the stock's total supply")
		}
	}
	return nil
}

// ApplyFill moves the price by the market impact of quantity shares and
// records the trade. longQuantity is the part of the fill that takes shares
// out of (buy) or returns them to (sell) the float; short exposure does not
// touch availableShares.
func (m *MarketDataService) ApplyFill(stockID string, side models.Side, quantity, longQuantity int) (*models.Stock, error) {
	if err := m.CheckFill(stockID, side, longQuantity); err != nil {
		return nil, err
	}
	stock, _ := m.Get(stockID)

	impact := Impact(stock, quantity)
	newPrice := stock.CurrentValue + impact
	if side == models.SideSell {
		newPrice = stock.CurrentValue - impact
		stock.AvailableShares += longQuantity
	} else {
		stock.AvailableShares -= longQuantity
	}
	stock.CurrentValue = math.Max(newPrice, models.MinPrice)

	now := m.now(stock)
	stock.History = append(stock.History, models.PricePoint{Timestamp: now, Price: stock.CurrentValue})
	stock.Volume = append(stock.Volume, models.VolumePoint{Timestamp: now, Volume: quantity, Type: side})
	return stock, nil
}

// Tick applies one random-walk step to every stock. volatility is in [0, 1];
// 0 freezes the market.
func (m *MarketDataService) Tick(volatility float64) map[string]float64 {
	volatility = math.Min(math.Max(volatility, 0), 1)
	for _, s := range m.stocks {
		change := s.InitialValue * (m.rng.Float64() - 0.5) * 0.02 * volatility
		s.CurrentValue = math.Max(s.CurrentValue+change, models.MinPrice)
		s.History = append(s.History, models.PricePoint{Timestamp: m.now(s), Price: s.CurrentValue})
	}
	return m.Prices()
}

// SetPrice moves a stock to price directly. Used by manual ticks and tests.
func (m *MarketDataService) SetPrice(stockID string, price float64) (*models.Stock, error) {
	stock, err := m.Get(stockID)
	if err != nil {
		return nil, err
	}
	if !(price > 0) {
		return nil, apperrors.NewValidationError("price", price, "must be greater than 0")
	}
	stock.CurrentValue = math.Max(price, models.MinPrice)
	stock.History = append(stock.History, models.PricePoint{Timestamp: m.now(stock), Price: stock.CurrentValue})
	return stock, nil
}

// Remove drops a stock from the set. Cascading cleanup is the caller's job.
func (m *MarketDataService) Remove(stockID string) error {
	for i, s := range m.stocks {
		if s.ID == stockID {
			m.stocks = append(m.stocks[:i], m.stocks[i+1:]...)
			return nil
		}
	}
	return apperrors.NewNotFoundError("stock", stockID)
}

// Reset returns every stock to its initial value and full share supply.
func (m *MarketDataService) Reset() {
	now := models.Millis(m.clock())
	for _, s := range m.stocks {
		s.CurrentValue = s.InitialValue
		s.AvailableShares = s.TotalShares
		s.History = []models.PricePoint{{Timestamp: now, Price: s.InitialValue}}
		s.Volume = []models.VolumePoint{}
	}
}

// now returns a timestamp strictly after the stock's last history point so
// history stays monotonic even when several updates share a clock reading.
func (m *MarketDataService) now(stock *models.Stock) int64 {
	now := models.Millis(m.clock())
	if n := len(stock.History); n > 0 && now <= stock.History[n-1].Timestamp {
		now = stock.History[n-1].Timestamp + 1
	}
	return now
}
