package services

import (
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "trading-engine/internal/errors"
	"trading-engine/internal/models"
)

const epsilon = 1e-9

// testClock advances one second per reading so timestamps are distinct.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// testEngine wires the core services the way TradingService does, without
// the actor loop.
type testEngine struct {
	market    *MarketDataService
	positions *PositionService
	ledger    *TransactionLedger
	notifier  *NotificationService
	account   *Account
	orders    *OrderService
	advanced  *AdvancedOrderService
}

func newTestEngine(balance float64) *testEngine {
	clock := newTestClock()
	e := &testEngine{
		market:    NewMarketDataService(clock.Now, rand.New(rand.NewSource(1))),
		positions: NewPositionService(clock.Now),
		ledger:    NewTransactionLedger(clock.Now),
		notifier:  NewNotificationService(clock.Now),
		account:   &Account{Balance: balance},
	}
	e.orders = NewOrderService(e.market, e.positions, e.ledger, e.notifier, e.account, clock.Now, zerolog.Nop())
	e.advanced = NewAdvancedOrderService(e.orders, zerolog.Nop())
	return e
}

func (e *testEngine) createStock(t *testing.T, name string, initialValue float64, totalShares int, priceEvolution float64) *models.Stock {
	t.Helper()
	stock, err := e.market.CreateStock(CreateStockRequest{
		Name:           name,
		InitialValue:   initialValue,
		TotalShares:    totalShares,
		PriceEvolution: priceEvolution,
	})
	if err != nil {
		t.Fatalf("CreateStock(%s) error = %v", name, err)
	}
	return stock
}

func (e *testEngine) fill(t *testing.T, stockID string, side models.Side, quantity int) *models.Order {
	t.Helper()
	order, err := e.orders.PlaceOrder(PlaceOrderRequest{
		StockID:  stockID,
		Spec:     models.MarketOrder{Side: side, Quantity: quantity},
		Leverage: 1,
	})
	if err != nil {
		t.Fatalf("market %s %d error = %v", side, quantity, err)
	}
	if order.Status != models.OrderExecuted {
		t.Fatalf("market %s %d status = %s, want executed", side, quantity, order.Status)
	}
	return order
}

func (e *testEngine) openHolding(t *testing.T, stockID string) *models.Holding {
	t.Helper()
	h := e.positions.OpenHolding(stockID)
	if h == nil {
		t.Fatalf("no open holding on %s", stockID)
	}
	return h
}

// tickTo moves a stock and runs the trigger scan, as a manual tick does.
func (e *testEngine) tickTo(t *testing.T, stockID string, price float64) []models.Order {
	t.Helper()
	if _, err := e.market.SetPrice(stockID, price); err != nil {
		t.Fatalf("SetPrice(%v) error = %v", price, err)
	}
	prices := e.market.Prices()
	e.positions.MarkAll(prices)
	return e.advanced.CheckAndExecuteOrders(prices)
}

func (e *testEngine) countNotifications(kind models.NotificationType) int {
	n := 0
	for _, note := range e.notifier.Notifications() {
		if note.Type == kind {
			n++
		}
	}
	return n
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func assertFloat(t *testing.T, name string, got, want float64) {
	t.Helper()
	if !almostEqual(got, want) {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestScenarioA_MarketBuyOpensLongAndMovesPrice(t *testing.T) {
	e := newTestEngine(100000)
	stock := e.createStock(t, "Acme", 100, 1000, 10)

	order := e.fill(t, stock.ID, models.SideBuy, 100)

	if order.ExecutedPrice == nil || *order.ExecutedPrice != 100 {
		t.Fatalf("executed price = %v, want 100", order.ExecutedPrice)
	}
	h := e.openHolding(t, stock.ID)
	if h.PositionType != models.PositionLong || h.Quantity != 100 {
		t.Errorf("holding = %s x%d, want long x100", h.PositionType, h.Quantity)
	}
	assertFloat(t, "averageEntryPrice", h.AverageEntryPrice, 100)
	assertFloat(t, "currentValue", stock.CurrentValue, 110)
	if stock.AvailableShares != 900 {
		t.Errorf("availableShares = %d, want 900", stock.AvailableShares)
	}
	assertFloat(t, "balance", e.account.Balance, 90000)
	if order.HoldingID != h.ID {
		t.Errorf("order.HoldingID = %q, want %q", order.HoldingID, h.ID)
	}
	if got := e.ledger.Len(); got != 1 {
		t.Errorf("transactions = %d, want 1", got)
	}
	if len(stock.Volume) != 1 || stock.Volume[0].Volume != 100 || stock.Volume[0].Type != models.SideBuy {
		t.Errorf("volume = %+v, want one buy of 100", stock.Volume)
	}
}

func TestScenarioB_SellThroughFlipsToShort(t *testing.T) {
	e := newTestEngine(100000)
	stock := e.createStock(t, "Acme", 100, 1000, 10)
	e.fill(t, stock.ID, models.SideBuy, 100)
	long := e.openHolding(t, stock.ID)

	order := e.fill(t, stock.ID, models.SideSell, 150)

	assertFloat(t, "executed price", *order.ExecutedPrice, 110)
	if long.Status != models.HoldingClosed {
		t.Fatalf("long holding status = %s, want closed", long.Status)
	}
	assertFloat(t, "long realizedPnL", long.RealizedPnL, 1000)
	if long.AverageExitPrice == nil || !almostEqual(*long.AverageExitPrice, 110) {
		t.Errorf("averageExitPrice = %v, want 110", long.AverageExitPrice)
	}

	short := e.openHolding(t, stock.ID)
	if short.ID == long.ID {
		t.Fatal("flip reused the closed holding")
	}
	if short.PositionType != models.PositionShort || short.Quantity != 50 {
		t.Errorf("new holding = %s x%d, want short x50", short.PositionType, short.Quantity)
	}
	assertFloat(t, "short averageEntryPrice", short.AverageEntryPrice, 110)

	// 90000 + 10000 released + 1000 realized - 5500 committed to the short.
	assertFloat(t, "balance", e.account.Balance, 95500)
	// Only the 100 long shares return to the float.
	if stock.AvailableShares != 1000 {
		t.Errorf("availableShares = %d, want 1000", stock.AvailableShares)
	}
	assertFloat(t, "currentValue", stock.CurrentValue, 95)

	history := e.positions.History()
	if len(history) != 1 || history[0].HoldingID != long.ID {
		t.Fatalf("history = %+v, want the closed long", history)
	}
}

func TestScenarioC_LimitBuyExecutesAtLimitPrice(t *testing.T) {
	e := newTestEngine(100000)
	stock := e.createStock(t, "Acme", 100, 1000, 10)
	e.fill(t, stock.ID, models.SideBuy, 100)

	limit, err := e.orders.PlaceOrder(PlaceOrderRequest{
		StockID:  stock.ID,
		Spec:     models.LimitOrder{Side: models.SideBuy, Quantity: 10, LimitPrice: 90},
		Leverage: 1,
	})
	if err != nil {
		t.Fatalf("PlaceOrder(limit) error = %v", err)
	}
	if limit.Status != models.OrderOpen {
		t.Fatalf("limit status = %s, want open", limit.Status)
	}

	if got := e.tickTo(t, stock.ID, 95); len(got) != 0 {
		t.Fatalf("tick to 95 triggered %d orders, want 0", len(got))
	}
	if limit.Status != models.OrderOpen {
		t.Fatalf("limit status after 95 = %s, want open", limit.Status)
	}

	triggered := e.tickTo(t, stock.ID, 88)
	if len(triggered) != 1 || triggered[0].ID != limit.ID {
		t.Fatalf("triggered = %+v, want the limit order", triggered)
	}
	if limit.Status != models.OrderExecuted {
		t.Fatalf("limit status = %s, want executed", limit.Status)
	}
	if *limit.ExecutedPrice != 90 {
		t.Errorf("executed price = %v, want 90", *limit.ExecutedPrice)
	}

	h := e.openHolding(t, stock.ID)
	if h.Quantity != 110 {
		t.Errorf("holding quantity = %d, want 110", h.Quantity)
	}
	assertFloat(t, "averageEntryPrice", h.AverageEntryPrice, (100.0*100+90*10)/110)
}

func TestScenarioD_InsufficientBalanceCancels(t *testing.T) {
	e := newTestEngine(1000)
	stock := e.createStock(t, "TechCorp", 1000, 1000, 0.1)

	order, err := e.orders.PlaceOrder(PlaceOrderRequest{
		StockID:  stock.ID,
		Spec:     models.MarketOrder{Side: models.SideBuy, Quantity: 100},
		Leverage: 1,
	})
	if !apperrors.Is(err, apperrors.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want insufficient balance", err)
	}
	if order == nil || order.Status != models.OrderCancelled {
		t.Fatalf("order = %+v, want cancelled", order)
	}
	assertFloat(t, "balance", e.account.Balance, 1000)
	assertFloat(t, "currentValue", stock.CurrentValue, 1000)
	if len(e.positions.Holdings()) != 0 {
		t.Errorf("holdings = %d, want 0", len(e.positions.Holdings()))
	}
	if e.ledger.Len() != 0 {
		t.Errorf("transactions = %d, want 0", e.ledger.Len())
	}
	if got := e.countNotifications(models.NotificationError); got != 1 {
		t.Errorf("error notifications = %d, want 1", got)
	}
	if got := len(e.notifier.Notifications()); got != 1 {
		t.Errorf("notifications = %d, want exactly 1", got)
	}
}

func TestScenarioE_DeleteStockCascades(t *testing.T) {
	e := newTestEngine(100000)
	stock := e.createStock(t, "Acme", 100, 1000, 10)
	other := e.createStock(t, "Other", 50, 1000, 1)
	e.fill(t, stock.ID, models.SideBuy, 100)
	h := e.openHolding(t, stock.ID)

	limit, err := e.orders.PlaceOrder(PlaceOrderRequest{
		StockID: stock.ID,
		Spec:    models.LimitOrder{Side: models.SideBuy, Quantity: 5, LimitPrice: 50},
	})
	if err != nil {
		t.Fatalf("PlaceOrder(limit) error = %v", err)
	}
	stop, err := e.orders.PlaceOrder(PlaceOrderRequest{
		StockID: stock.ID,
		Spec:    models.StopLossOrder{HoldingID: h.ID, StopPrice: 80},
	})
	if err != nil {
		t.Fatalf("PlaceOrder(stop) error = %v", err)
	}
	otherLimit, err := e.orders.PlaceOrder(PlaceOrderRequest{
		StockID: other.ID,
		Spec:    models.LimitOrder{Side: models.SideBuy, Quantity: 5, LimitPrice: 10},
	})
	if err != nil {
		t.Fatalf("PlaceOrder(other) error = %v", err)
	}

	if err := e.orders.DeleteStock(stock.ID); err != nil {
		t.Fatalf("DeleteStock() error = %v", err)
	}

	for _, o := range []*models.Order{limit, stop} {
		if o.Status != models.OrderCancelled {
			t.Errorf("order %s status = %s, want cancelled", o.OrderType, o.Status)
		}
	}
	if otherLimit.Status != models.OrderOpen {
		t.Errorf("unrelated order status = %s, want open", otherLimit.Status)
	}
	if h.Status != models.HoldingClosed {
		t.Fatalf("holding status = %s, want closed", h.Status)
	}
	assertFloat(t, "realizedPnL", h.RealizedPnL, 1000)
	assertFloat(t, "balance", e.account.Balance, 101000)

	if _, err := e.market.Get(stock.ID); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Get(deleted) error = %v, want not found", err)
	}
	txs := e.ledger.Transactions()
	last := txs[len(txs)-1]
	if last.Type != models.SideSell || last.Quantity != 100 || !almostEqual(last.Price, 110) || last.OrderID != "" {
		t.Errorf("force-close transaction = %+v", last)
	}

	if err := e.orders.DeleteStock(stock.ID); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("second DeleteStock() error = %v, want not found", err)
	}
}
