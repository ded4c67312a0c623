package cache

import (
	"context"
	"sync"
)

// Store is the key-value persistence the session relies on. Implementations:
// Redis, Memory and storage.SQLStore.
type Store interface {
	// Get returns ok=false when the key does not exist.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// SetMany writes all pairs together where the backend allows it.
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, key string) error
}

const (
	KeyLastCity       = "last_city"
	KeyUnits          = "units"
	KeyDarkTheme      = "dark_theme"
	KeyHistory        = "history_cities"
	KeyCachedWeather  = "cache_weather"
	KeyCachedForecast = "cache_forecast"
	KeyCacheTimestamp = "cache_timestamp"
)

// Memory is a process-local Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) SetMany(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.data[k] = v
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
