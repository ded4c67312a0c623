package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gometeo/skycast/internal/model"
)

// Memo keeps recent gateway responses in memory, keyed by location and units.
// Entries live for ttl and at most maxEntries are kept per endpoint; the
// oldest entry is evicted first.
type Memo struct {
	next     Gateway
	current  *memoTable[model.WeatherSnapshot]
	forecast *memoTable[model.ForecastSnapshot]
}

func NewMemo(next Gateway, ttl time.Duration, maxEntries int) *Memo {
	return &Memo{
		next:     next,
		current:  newMemoTable[model.WeatherSnapshot](ttl, maxEntries),
		forecast: newMemoTable[model.ForecastSnapshot](ttl, maxEntries),
	}
}

func (m *Memo) FetchCurrent(ctx context.Context, loc model.Location, units model.Units) (model.WeatherSnapshot, error) {
	key := memoKey(loc, units)
	if w, ok := m.current.get(key); ok {
		return w, nil
	}
	w, err := m.next.FetchCurrent(ctx, loc, units)
	if err != nil {
		return model.WeatherSnapshot{}, err
	}
	m.current.put(key, w)
	return w, nil
}

func (m *Memo) FetchForecast(ctx context.Context, loc model.Location, units model.Units) (model.ForecastSnapshot, error) {
	key := memoKey(loc, units)
	if f, ok := m.forecast.get(key); ok {
		return f, nil
	}
	f, err := m.next.FetchForecast(ctx, loc, units)
	if err != nil {
		return model.ForecastSnapshot{}, err
	}
	m.forecast.put(key, f)
	return f, nil
}

// Stats returns hit and miss counts across both endpoints.
func (m *Memo) Stats() (hits, misses int) {
	ch, cm := m.current.stats()
	fh, fm := m.forecast.stats()
	return ch + fh, cm + fm
}

func memoKey(loc model.Location, units model.Units) string {
	return loc.Key() + "|" + units.String()
}

type memoEntry[T any] struct {
	value    T
	storedAt time.Time
}

type memoTable[T any] struct {
	mu         sync.Mutex
	entries    map[string]memoEntry[T]
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	hits       int
	misses     int
}

func newMemoTable[T any](ttl time.Duration, maxEntries int) *memoTable[T] {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &memoTable[T]{
		entries:    make(map[string]memoEntry[T]),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (t *memoTable[T]) get(key string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if ok && t.now().Sub(entry.storedAt) < t.ttl {
		t.hits++
		return entry.value, true
	}
	if ok {
		delete(t.entries, key)
	}
	t.misses++
	var zero T
	return zero, false
}

func (t *memoTable[T]) put(key string, value T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[key]; !exists && len(t.entries) >= t.maxEntries {
		var oldestKey string
		var oldest time.Time
		for k, e := range t.entries {
			if oldestKey == "" || e.storedAt.Before(oldest) {
				oldestKey, oldest = k, e.storedAt
			}
		}
		delete(t.entries, oldestKey)
	}
	t.entries[key] = memoEntry[T]{value: value, storedAt: t.now()}
}

func (t *memoTable[T]) stats() (hits, misses int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hits, t.misses
}

var _ Gateway = (*Memo)(nil)
