package services

import (
	"math/rand"
	"testing"

	apperrors "trading-engine/internal/errors"
	"trading-engine/internal/models"
)

func TestImpact(t *testing.T) {
	stock := &models.Stock{InitialValue: 100, PriceEvolution: 10}
	assertFloat(t, "impact(100)", Impact(stock, 100), 10)
	assertFloat(t, "impact(50)", Impact(stock, 50), 5)

	tech := &models.Stock{InitialValue: 1000, PriceEvolution: 0.1}
	assertFloat(t, "impact(10)", Impact(tech, 10), 0.1)
}

func TestCreateStockValidation(t *testing.T) {
	m := NewMarketDataService(newTestClock().Now, nil)

	tests := []struct {
		name string
		req  CreateStockRequest
	}{
		{"blank name", CreateStockRequest{Name: "  ", InitialValue: 10, TotalShares: 100, PriceEvolution: 1}},
		{"zero value", CreateStockRequest{Name: "A", InitialValue: 0, TotalShares: 100, PriceEvolution: 1}},
		{"too few shares", CreateStockRequest{Name: "A", InitialValue: 10, TotalShares: 99, PriceEvolution: 1}},
		{"negative evolution", CreateStockRequest{Name: "A", InitialValue: 10, TotalShares: 100, PriceEvolution: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.CreateStock(tt.req); !apperrors.Is(err, apperrors.ErrValidation) {
				t.Errorf("error = %v, want validation", err)
			}
		})
	}
	if got := len(m.Stocks()); got != 0 {
		t.Errorf("stocks = %d, want 0", got)
	}

	stock, err := m.CreateStock(CreateStockRequest{Name: " Acme ", InitialValue: 10, TotalShares: 100, PriceEvolution: 1})
	if err != nil {
		t.Fatalf("CreateStock() error = %v", err)
	}
	if stock.Name != "Acme" || stock.CurrentValue != 10 || stock.AvailableShares != 100 {
		t.Errorf("stock = %+v", stock)
	}
	if len(stock.History) != 1 || stock.History[0].Price != 10 {
		t.Errorf("history = %+v, want the initial point", stock.History)
	}
}

func TestSellImpactIsFloored(t *testing.T) {
	e := newTestEngine(1e9)
	stock := e.createStock(t, "Penny", 1, 100, 100)

	e.fill(t, stock.ID, models.SideSell, 100)

	if stock.CurrentValue != models.MinPrice {
		t.Errorf("currentValue = %v, want %v", stock.CurrentValue, models.MinPrice)
	}
}

func TestTickWithZeroVolatilityFreezesPrices(t *testing.T) {
	m := NewMarketDataService(newTestClock().Now, rand.New(rand.NewSource(7)))
	m.Load(DefaultStocks(0))

	before := m.Prices()
	after := m.Tick(0)
	for id, price := range before {
		if after[id] != price {
			t.Errorf("price of %s moved from %v to %v", id, price, after[id])
		}
	}
}

func TestTickStaysWithinStepBound(t *testing.T) {
	m := NewMarketDataService(newTestClock().Now, rand.New(rand.NewSource(42)))
	m.Load(DefaultStocks(0))

	for i := 0; i < 200; i++ {
		before := m.Prices()
		after := m.Tick(1)
		for _, s := range m.Stocks() {
			// |change| <= initialValue * 0.5 * 0.02
			bound := s.InitialValue*0.01 + epsilon
			if diff := after[s.ID] - before[s.ID]; diff > bound || diff < -bound {
				t.Fatalf("tick %d moved %s by %v, bound %v", i, s.Name, diff, bound)
			}
			if after[s.ID] < models.MinPrice {
				t.Fatalf("tick %d priced %s below the floor", i, s.Name)
			}
		}
	}
}

func TestHistoryTimestampsAreIncreasing(t *testing.T) {
	m := NewMarketDataService(newTestClock().Now, rand.New(rand.NewSource(1)))
	// Every stock starts in the future relative to the clock.
	m.Load(DefaultStocks(models.Millis(newTestClock().Now()) + 60_000))

	for i := 0; i < 5; i++ {
		m.Tick(0.5)
	}
	for _, s := range m.Stocks() {
		for i := 1; i < len(s.History); i++ {
			if s.History[i].Timestamp <= s.History[i-1].Timestamp {
				t.Fatalf("%s history not increasing at %d: %d <= %d", s.Name, i, s.History[i].Timestamp, s.History[i-1].Timestamp)
			}
		}
	}
}

func TestMarketReset(t *testing.T) {
	e := newTestEngine(100000)
	stock := e.createStock(t, "Acme", 100, 1000, 10)
	e.fill(t, stock.ID, models.SideBuy, 100)

	e.market.Reset()

	if stock.CurrentValue != 100 || stock.AvailableShares != 1000 {
		t.Errorf("after reset = %v/%d, want 100/1000", stock.CurrentValue, stock.AvailableShares)
	}
	if len(stock.History) != 1 || len(stock.Volume) != 0 {
		t.Errorf("after reset history=%d volume=%d, want 1/0", len(stock.History), len(stock.Volume))
	}
}

func TestStocksReturnsCopies(t *testing.T) {
	m := NewMarketDataService(newTestClock().Now, nil)
	m.Load(DefaultStocks(0))

	stocks := m.Stocks()
	stocks[0].CurrentValue = 1
	stocks[0].History[0].Price = 1

	live, err := m.Get(stocks[0].ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if live.CurrentValue == 1 || live.History[0].Price == 1 {
		t.Error("Stocks() aliased live state")
	}
}
