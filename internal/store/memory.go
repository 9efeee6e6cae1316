package store

import (
	"context"
	"encoding/json"
	"sync"

	"trading-engine/internal/models"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps each slice as its JSON encoding so loads never alias
// the caller's state.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	saves map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string][]byte),
		saves: make(map[string]int),
	}
}

func (m *MemoryStore) Load(_ context.Context) (*models.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return decodeState(m.data)
}

func (m *MemoryStore) SaveStocks(_ context.Context, stocks []models.Stock) error {
	return m.put(KeyStocks, stocks)
}

func (m *MemoryStore) SaveUser(_ context.Context, user models.User) error {
	return m.put(KeyUser, user)
}

func (m *MemoryStore) SaveNotifications(_ context.Context, notifications []models.Notification) error {
	return m.put(KeyNotifications, notifications)
}

func (m *MemoryStore) SaveSettings(_ context.Context, settings models.Settings) error {
	return m.put(KeySettings, settings)
}

func (m *MemoryStore) Close(_ context.Context) error {
	return nil
}

// Saves reports how many times the slice key has been written.
func (m *MemoryStore) Saves(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[key]
}

func (m *MemoryStore) put(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	m.saves[key]++
	return nil
}
