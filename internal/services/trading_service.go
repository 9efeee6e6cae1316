package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"trading-engine/config"
	apperrors "trading-engine/internal/errors"
	"trading-engine/internal/models"
	"trading-engine/internal/store"
)

// ErrNotRunning is returned when a command is issued after Run has exited.
var ErrNotRunning = errors.New("trading service is not running")

// EventPublisher receives state-change events, e.g. the websocket hub.
type EventPublisher interface {
	Publish(event models.Event)
}

type dirty uint8

const (
	dirtyStocks dirty = 1 << iota
	dirtyUser
	dirtyNotifications
	dirtySettings
)

type command struct {
	run  func() (dirty, error)
	done chan error
}

// Options configure a TradingService.
type Options struct {
	Store           store.Store
	Publisher       EventPublisher
	Settings        models.Settings
	StartingBalance float64
	Clock           func() time.Time
	Rand            *rand.Rand
	Logger          zerolog.Logger
}

// Snapshot is the full read-only view handed to presentation.
type Snapshot struct {
	Stocks          []models.Stock        `json:"stocks"`
	User            models.User           `json:"user"`
	Notifications   []models.Notification `json:"notifications"`
	SelectedStockID string                `json:"selectedStockId,omitempty"`
	Margin          int                   `json:"margin"`
	Settings        models.Settings       `json:"settings"`
}

// TickResult reports one market update.
type TickResult struct {
	Prices    map[string]float64 `json:"prices"`
	Triggered []models.Order     `json:"triggered"`
}

// TradingService owns all trading state and applies every command on a
// single goroutine, so a tick's price update, trigger scan and resulting
// fills always complete before the next command starts.
type TradingService struct {
	commands chan command
	stopped  chan struct{}

	market    *MarketDataService
	positions *PositionService
	orders    *OrderService
	advanced  *AdvancedOrderService
	ledger    *TransactionLedger
	notifier  *NotificationService
	account   *Account

	store           store.Store
	publisher       EventPublisher
	settings        models.Settings
	settingsUpdates chan models.Settings
	selectedStockID string
	margin          int
	startingBalance float64
	clock           func() time.Time
	logger          zerolog.Logger
}

func NewTradingService(opts Options) *TradingService {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	if opts.StartingBalance <= 0 {
		opts.StartingBalance = 1000
	}
	if opts.Settings == (models.Settings{}) {
		opts.Settings = models.DefaultSettings()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}

	account := &Account{Balance: opts.StartingBalance}
	market := NewMarketDataService(clock, opts.Rand)
	positions := NewPositionService(clock)
	ledger := NewTransactionLedger(clock)
	notifier := NewNotificationService(clock)
	orders := NewOrderService(market, positions, ledger, notifier, account, clock, opts.Logger)

	return &TradingService{
		commands:        make(chan command),
		stopped:         make(chan struct{}),
		market:          market,
		positions:       positions,
		orders:          orders,
		advanced:        NewAdvancedOrderService(orders, opts.Logger),
		ledger:          ledger,
		notifier:        notifier,
		account:         account,
		store:           opts.Store,
		publisher:       opts.Publisher,
		settings:        opts.Settings,
		settingsUpdates: make(chan models.Settings, 1),
		margin:          MinLeverage,
		startingBalance: opts.StartingBalance,
		clock:           clock,
		logger:          opts.Logger,
	}
}

// Init loads persisted state, seeding default stocks and a default user for
// slices the store has never saved. Saved market settings replace the
// configured ones. It must be called before Run.
func (s *TradingService) Init(ctx context.Context) error {
	state, err := s.store.Load(ctx)
	if err != nil {
		return apperrors.Wrap(err, "load state")
	}

	if state.Stocks == nil {
		state.Stocks = DefaultStocks(models.Millis(s.clock()))
		if err := s.store.SaveStocks(ctx, state.Stocks); err != nil {
			return apperrors.Wrap(err, "seed stocks")
		}
		s.logger.Info().Int("stocks", len(state.Stocks)).Msg("Seeded default stocks")
	}
	if state.User == nil {
		user := models.NewUser(s.startingBalance)
		state.User = &user
		if err := s.store.SaveUser(ctx, user); err != nil {
			return apperrors.Wrap(err, "seed user")
		}
		s.logger.Info().Float64("balance", user.Balance).Msg("Created default user")
	}

	if state.Settings != nil {
		if err := config.ValidateSettings(*state.Settings); err != nil {
			s.logger.Warn().Err(err).Msg("Ignoring saved market settings")
		} else {
			s.settings = *state.Settings
		}
	}

	s.market.Load(state.Stocks)
	s.account.Balance = state.User.Balance
	s.positions.Load(state.User.Holdings, state.User.HoldingHistory)
	s.orders.Load(state.User.Orders)
	s.ledger.Load(state.User.Transactions)
	s.notifier.Load(state.Notifications)
	s.positions.MarkAll(s.market.Prices())
	return nil
}

// Run executes commands until ctx is cancelled.
func (s *TradingService) Run(ctx context.Context) error {
	defer close(s.stopped)
	s.logger.Info().Msg("Trading service started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Trading service stopped")
			return nil
		case cmd := <-s.commands:
			mark := s.notifier.Emitted()
			changed, err := s.safeRun(cmd.run)
			if s.notifier.Emitted() != mark {
				changed |= dirtyNotifications
			}
			s.persist(ctx, changed)
			s.publish(changed, mark)
			cmd.done <- err
		}
	}
}

func (s *TradingService) safeRun(run func() (dirty, error)) (changed dirty, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Command panicked")
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return run()
}

// do runs fn on the service goroutine and waits for it.
func (s *TradingService) do(ctx context.Context, fn func() (dirty, error)) error {
	cmd := command{run: fn, done: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-s.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-s.stopped:
		return ErrNotRunning
	}
}

func (s *TradingService) persist(ctx context.Context, changed dirty) {
	if changed&dirtyStocks != 0 {
		if err := s.store.SaveStocks(ctx, s.market.Stocks()); err != nil {
			s.logger.Error().Err(err).Msg("Failed to persist stocks")
		}
	}
	if changed&dirtyUser != 0 {
		if err := s.store.SaveUser(ctx, s.user()); err != nil {
			s.logger.Error().Err(err).Msg("Failed to persist user")
		}
	}
	if changed&dirtyNotifications != 0 {
		if err := s.store.SaveNotifications(ctx, s.notifier.Notifications()); err != nil {
			s.logger.Error().Err(err).Msg("Failed to persist notifications")
		}
	}
	if changed&dirtySettings != 0 {
		if err := s.store.SaveSettings(ctx, s.settings); err != nil {
			s.logger.Error().Err(err).Msg("Failed to persist settings")
		}
	}
}

func (s *TradingService) publish(changed dirty, mark int) {
	if s.publisher == nil {
		return
	}
	now := models.Millis(s.clock())
	if changed&dirtyStocks != 0 {
		s.publisher.Publish(models.Event{Type: models.EventStocks, Timestamp: now, Payload: s.market.Stocks()})
	}
	if changed&dirtyUser != 0 {
		s.publisher.Publish(models.Event{Type: models.EventUser, Timestamp: now, Payload: s.user()})
	}
	if changed&dirtySettings != 0 {
		s.publisher.Publish(models.Event{Type: models.EventSettings, Timestamp: now, Payload: s.settings})
	}
	fresh := s.notifier.Since(mark)
	// Oldest first so subscribers see them in emission order.
	for i := len(fresh) - 1; i >= 0; i-- {
		s.publisher.Publish(models.Event{Type: models.EventNotification, Timestamp: now, Payload: fresh[i]})
	}
}

func (s *TradingService) user() models.User {
	return models.User{
		Balance:        s.account.Balance,
		Holdings:       s.positions.Holdings(),
		HoldingHistory: s.positions.History(),
		Orders:         s.orders.Orders(),
		Transactions:   s.ledger.Transactions(),
	}
}

func (s *TradingService) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() (dirty, error) {
		snap = Snapshot{
			Stocks:          s.market.Stocks(),
			User:            s.user(),
			Notifications:   s.notifier.Notifications(),
			SelectedStockID: s.selectedStockID,
			Margin:          s.margin,
			Settings:        s.settings,
		}
		return 0, nil
	})
	return snap, err
}

func (s *TradingService) Stocks(ctx context.Context) ([]models.Stock, error) {
	var stocks []models.Stock
	err := s.do(ctx, func() (dirty, error) {
		stocks = s.market.Stocks()
		return 0, nil
	})
	return stocks, err
}

func (s *TradingService) Stock(ctx context.Context, stockID string) (models.Stock, error) {
	var stock models.Stock
	err := s.do(ctx, func() (dirty, error) {
		st, err := s.market.Get(stockID)
		if err != nil {
			return 0, err
		}
		stock = st.Clone()
		return 0, nil
	})
	return stock, err
}

func (s *TradingService) CreateStock(ctx context.Context, req CreateStockRequest) (models.Stock, error) {
	var stock models.Stock
	err := s.do(ctx, func() (dirty, error) {
		st, err := s.market.CreateStock(req)
		if err != nil {
			s.notifier.Error("Stock Not Created", err.Error())
			return 0, err
		}
		stock = st.Clone()
		if s.selectedStockID == "" {
			s.selectedStockID = st.ID
		}
		s.notifier.Success("Stock Created", fmt.Sprintf("%s listed at %.2f with %d shares", st.Name, st.InitialValue, st.TotalShares))
		s.logger.Info().Str("stock_id", st.ID).Str("name", st.Name).Msg("Stock created")
		return dirtyStocks, nil
	})
	return stock, err
}

func (s *TradingService) DeleteStock(ctx context.Context, stockID string) error {
	return s.do(ctx, func() (dirty, error) {
		if err := s.orders.DeleteStock(stockID); err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				s.notifier.Error("Stock Not Deleted", err.Error())
			}
			return 0, err
		}
		if s.selectedStockID == stockID {
			s.selectedStockID = ""
		}
		return dirtyStocks | dirtyUser, nil
	})
}

// PlaceOrder submits an order. A zero leverage uses the session margin.
func (s *TradingService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (models.Order, error) {
	var order models.Order
	err := s.do(ctx, func() (dirty, error) {
		if req.Leverage == 0 {
			req.Leverage = float64(s.margin)
		}
		o, err := s.orders.PlaceOrder(req)
		if o == nil {
			return 0, err
		}
		order = *o
		return dirtyStocks | dirtyUser, err
	})
	return order, err
}

func (s *TradingService) CancelOrder(ctx context.Context, orderID string) (models.Order, error) {
	var order models.Order
	err := s.do(ctx, func() (dirty, error) {
		o, err := s.orders.CancelOrder(orderID)
		if o != nil {
			order = *o
		}
		if err != nil {
			return 0, err
		}
		return dirtyUser, nil
	})
	return order, err
}

func (s *TradingService) EditHolding(ctx context.Context, holdingID string, stopLoss, takeProfit *float64) (models.Holding, error) {
	var holding models.Holding
	err := s.do(ctx, func() (dirty, error) {
		h, err := s.orders.EditHolding(holdingID, stopLoss, takeProfit)
		if err != nil {
			return 0, err
		}
		holding = *h
		return dirtyUser, nil
	})
	return holding, err
}

func (s *TradingService) ClosePosition(ctx context.Context, holdingID string) (models.Order, error) {
	var order models.Order
	err := s.do(ctx, func() (dirty, error) {
		o, err := s.orders.ClosePosition(holdingID)
		if o == nil {
			return 0, err
		}
		order = *o
		return dirtyStocks | dirtyUser, err
	})
	return order, err
}

// ResetAccount restores the default user and every stock's initial state.
func (s *TradingService) ResetAccount(ctx context.Context) error {
	return s.do(ctx, func() (dirty, error) {
		s.market.Reset()
		s.positions.Reset()
		s.orders.Reset()
		s.ledger.Reset()
		s.account.Balance = s.startingBalance
		s.notifier.Info("Account Reset", fmt.Sprintf("Balance restored to %.2f and all stocks reset", s.startingBalance))
		s.logger.Info().Float64("balance", s.startingBalance).Msg("Account reset")
		return dirtyStocks | dirtyUser, nil
	})
}

func (s *TradingService) SelectStock(ctx context.Context, stockID string) error {
	return s.do(ctx, func() (dirty, error) {
		if _, err := s.market.Get(stockID); err != nil {
			return 0, err
		}
		s.selectedStockID = stockID
		return 0, nil
	})
}

func (s *TradingService) SetMargin(ctx context.Context, margin int) error {
	return s.do(ctx, func() (dirty, error) {
		if margin < MinLeverage || margin > MaxLeverage {
			return 0, apperrors.NewValidationError("margin", margin, "must be between 1 and 10")
		}
		s.margin = margin
		return 0, nil
	})
}

// Tick runs one random-walk market update at volatility (0..1), marks every
// open holding and executes whatever the new prices trigger.
func (s *TradingService) Tick(ctx context.Context, volatility float64) (TickResult, error) {
	var result TickResult
	err := s.do(ctx, func() (dirty, error) {
		prices := s.market.Tick(volatility)
		result = s.afterPriceUpdate(prices)
		return dirtyStocks | dirtyUser, nil
	})
	return result, err
}

// TickTo moves the given stocks to explicit prices, then evaluates triggers
// exactly as a random tick does.
func (s *TradingService) TickTo(ctx context.Context, prices map[string]float64) (TickResult, error) {
	var result TickResult
	err := s.do(ctx, func() (dirty, error) {
		for stockID, price := range prices {
			if _, err := s.market.Get(stockID); err != nil {
				return 0, err
			}
			if !(price > 0) {
				return 0, apperrors.NewValidationError("price", price, "must be greater than 0")
			}
		}
		for stockID, price := range prices {
			if _, err := s.market.SetPrice(stockID, price); err != nil {
				return dirtyStocks | dirtyUser, err
			}
		}
		result = s.afterPriceUpdate(s.market.Prices())
		return dirtyStocks | dirtyUser, nil
	})
	return result, err
}

func (s *TradingService) afterPriceUpdate(prices map[string]float64) TickResult {
	s.positions.MarkAll(prices)
	triggered := s.advanced.CheckAndExecuteOrders(prices)
	if len(triggered) > 0 {
		s.logger.Info().Int("triggered", len(triggered)).Msg("Orders triggered by tick")
	}
	if triggered == nil {
		triggered = []models.Order{}
	}
	return TickResult{Prices: s.market.Prices(), Triggered: triggered}
}

func (s *TradingService) Holdings(ctx context.Context) ([]models.Holding, error) {
	var holdings []models.Holding
	err := s.do(ctx, func() (dirty, error) {
		holdings = s.positions.Holdings()
		return 0, nil
	})
	return holdings, err
}

func (s *TradingService) Orders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.do(ctx, func() (dirty, error) {
		orders = s.orders.Orders()
		return 0, nil
	})
	return orders, err
}

func (s *TradingService) Transactions(ctx context.Context) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.do(ctx, func() (dirty, error) {
		txs = s.ledger.Transactions()
		return 0, nil
	})
	return txs, err
}

func (s *TradingService) Notifications(ctx context.Context) ([]models.Notification, error) {
	var notes []models.Notification
	err := s.do(ctx, func() (dirty, error) {
		notes = s.notifier.Notifications()
		return 0, nil
	})
	return notes, err
}

func (s *TradingService) MarkNotificationRead(ctx context.Context, id string) error {
	return s.do(ctx, func() (dirty, error) {
		if err := s.notifier.MarkRead(id); err != nil {
			return 0, err
		}
		return dirtyNotifications, nil
	})
}

func (s *TradingService) ClearNotifications(ctx context.Context) error {
	return s.do(ctx, func() (dirty, error) {
		s.notifier.ClearAll()
		return dirtyNotifications, nil
	})
}

func (s *TradingService) Portfolio(ctx context.Context) (PortfolioSummary, error) {
	var summary PortfolioSummary
	err := s.do(ctx, func() (dirty, error) {
		summary = BuildPortfolio(s.account.Balance, s.positions.Holdings(), s.ledger.Transactions(), s.market.Prices(), time.Local)
		return 0, nil
	})
	return summary, err
}

func (s *TradingService) Settings(ctx context.Context) (models.Settings, error) {
	var settings models.Settings
	err := s.do(ctx, func() (dirty, error) {
		settings = s.settings
		return 0, nil
	})
	return settings, err
}

// UpdateSettings validates and applies new market settings and forwards
// them to the market driver.
func (s *TradingService) UpdateSettings(ctx context.Context, settings models.Settings) (models.Settings, error) {
	err := s.do(ctx, func() (dirty, error) {
		if err := config.ValidateSettings(settings); err != nil {
			return 0, err
		}
		s.settings = settings
		// Keep only the latest pending update for the driver.
		select {
		case <-s.settingsUpdates:
		default:
		}
		s.settingsUpdates <- settings
		s.logger.Info().
			Int("interval_seconds", settings.UpdateIntervalSeconds).
			Bool("auto_update", settings.AutoUpdateEnabled).
			Int("volatility_percent", settings.VolatilityPercent).
			Msg("Market settings updated")
		return dirtySettings, nil
	})
	return settings, err
}

// SettingsUpdates delivers settings changes to the market driver.
func (s *TradingService) SettingsUpdates() <-chan models.Settings {
	return s.settingsUpdates
}
