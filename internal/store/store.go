// Package store persists the independent slices of trading state: stocks,
// the user account, notifications and market settings.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"trading-engine/internal/models"
)

// Slice keys, shared by every backend.
const (
	KeyStocks        = "stocks"
	KeyUser          = "user"
	KeyNotifications = "notifications"
	KeySettings      = "settings"
)

// Store is the persistence collaborator. Load returns nil fields for slices
// that were never saved.
type Store interface {
	Load(ctx context.Context) (*models.State, error)
	SaveStocks(ctx context.Context, stocks []models.Stock) error
	SaveUser(ctx context.Context, user models.User) error
	SaveNotifications(ctx context.Context, notifications []models.Notification) error
	SaveSettings(ctx context.Context, settings models.Settings) error
	Close(ctx context.Context) error
}

// decodeState rebuilds a State from raw JSON documents keyed by slice name.
func decodeState(raw map[string][]byte) (*models.State, error) {
	state := &models.State{}
	if data, ok := raw[KeyStocks]; ok {
		if err := json.Unmarshal(data, &state.Stocks); err != nil {
			return nil, fmt.Errorf("decode stocks: %w", err)
		}
		if state.Stocks == nil {
			state.Stocks = []models.Stock{}
		}
	}
	if data, ok := raw[KeyUser]; ok {
		var user models.User
		if err := json.Unmarshal(data, &user); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		state.User = &user
	}
	if data, ok := raw[KeyNotifications]; ok {
		if err := json.Unmarshal(data, &state.Notifications); err != nil {
			return nil, fmt.Errorf("decode notifications: %w", err)
		}
		if state.Notifications == nil {
			state.Notifications = []models.Notification{}
		}
	}
	if data, ok := raw[KeySettings]; ok {
		var settings models.Settings
		if err := json.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
		state.Settings = &settings
	}
	return state, nil
}
