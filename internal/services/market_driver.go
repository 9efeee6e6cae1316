package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"trading-engine/internal/models"
)

// MarketDriver ticks the market at the configured interval while automatic
// updates are enabled.
type MarketDriver struct {
	service *TradingService
	logger  zerolog.Logger
}

func NewMarketDriver(service *TradingService, logger zerolog.Logger) *MarketDriver {
	return &MarketDriver{
		service: service,
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled.
func (d *MarketDriver) Run(ctx context.Context) error {
	settings, err := d.service.Settings(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	d.logger.Info().
		Int("interval_seconds", settings.UpdateIntervalSeconds).
		Bool("auto_update", settings.AutoUpdateEnabled).
		Msg("Starting market simulation")

	ticker := time.NewTicker(interval(settings))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case settings = <-d.service.SettingsUpdates():
			ticker.Reset(interval(settings))
		case <-ticker.C:
			if !settings.AutoUpdateEnabled {
				continue
			}
			result, err := d.service.Tick(ctx, float64(settings.VolatilityPercent)/100)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.logger.Error().Err(err).Msg("Market tick failed")
				continue
			}
			d.logger.Debug().
				Int("stocks", len(result.Prices)).
				Int("triggered", len(result.Triggered)).
				Msg("Market tick")
		}
	}
}

func interval(s models.Settings) time.Duration {
	seconds := s.UpdateIntervalSeconds
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
