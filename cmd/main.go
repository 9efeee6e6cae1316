package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"trading-engine/config"
	"trading-engine/internal/handlers"
	"trading-engine/internal/logging"
	"trading-engine/internal/models"
	"trading-engine/internal/services"
	"trading-engine/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "trading-engine",
		Short:         "Simulated stock trading engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml)")

	// Wraps a subcommand so it gets a loaded config and logger.
	withApp := func(run func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				fmt.Fprintln(os.Stderr, "config:", err)
				return err
			}
			logger := logging.NewLogger(cfg.Log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, logger); err != nil {
				logger.Error().Err(err).Str("command", cmd.Name()).Msg("Command failed")
				return err
			}
			return nil
		}
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket stream and market simulation",
		RunE:  withApp(serve),
	}
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Restore default stocks and a fresh account in the configured store",
		RunE:  withApp(reset),
	}
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Create default stocks and account if the store has none",
		RunE:  withApp(seed),
	}

	rootCmd.RunE = serveCmd.RunE
	rootCmd.AddCommand(serveCmd, resetCmd, seedCmd)
	return rootCmd
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn().Msg("Using in-memory store, state will not survive a restart")
		return store.NewMemoryStore(), nil
	case "mongo":
		client, err := config.ConnectDB(ctx, cfg.Store.MongoURI)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("database", cfg.Store.Database).Msg("Connected to MongoDB")
		collection := config.GetCollection(client, cfg.Store.Database, store.StateCollection)
		return store.NewMongoStore(client, collection), nil
	default:
		s, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.Store.SQLitePath).Msg("Opened SQLite store")
		return s, nil
	}
}

func closeStore(st store.Store, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := st.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to close store")
	}
}

func newService(cfg *config.Config, st store.Store, publisher services.EventPublisher, logger zerolog.Logger) *services.TradingService {
	opts := services.Options{
		Store:           st,
		Settings:        cfg.Market,
		StartingBalance: cfg.Account.StartingBalance,
		Publisher:       publisher,
		Logger:          logger.With().Str("component", "trading").Logger(),
	}
	return services.NewTradingService(opts)
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	hub := services.NewWebSocketHub(logger.With().Str("component", "websocket").Logger())
	service := newService(cfg, st, hub, logger)
	if err := service.Init(ctx); err != nil {
		return err
	}
	driver := services.NewMarketDriver(service, logger.With().Str("component", "market").Logger())

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handlers.NewRouter(service, hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return driver.Run(gctx) })
	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Server.Port).
			Str("store", cfg.Store.Driver).
			Msg("Trading engine listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info().Msg("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func reset(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	stocks := services.DefaultStocks(models.Millis(time.Now()))
	if err := st.SaveStocks(ctx, stocks); err != nil {
		return err
	}
	if err := st.SaveUser(ctx, models.NewUser(cfg.Account.StartingBalance)); err != nil {
		return err
	}
	if err := st.SaveNotifications(ctx, []models.Notification{}); err != nil {
		return err
	}
	logger.Info().
		Int("stocks", len(stocks)).
		Float64("balance", cfg.Account.StartingBalance).
		Msg("Store reset")
	return nil
}

func seed(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	return newService(cfg, st, nil, logger).Init(ctx)
}
