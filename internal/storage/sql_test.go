package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gometeo/skycast/internal/cache"
	"github.com/gometeo/skycast/internal/events"
	"github.com/gometeo/skycast/internal/model"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "skycast.db"), testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStoreKeyValue(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, ok, err := s.Get(ctx, cache.KeyLastCity)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, cache.KeyLastCity, "Paris"))
	require.NoError(t, s.Set(ctx, cache.KeyLastCity, "Berlin"))
	v, ok, err := s.Get(ctx, cache.KeyLastCity)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Berlin", v)

	require.NoError(t, s.SetMany(ctx, map[string]string{"a": "1", "b": "2"}))
	v, _, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	require.NoError(t, s.Delete(ctx, "a"))
	_, ok, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLStoreBacksSnapshots(t *testing.T) {
	ctx := context.Background()
	snaps := cache.NewSnapshots(openTestStore(t), 0, testLogger)

	weather := model.WeatherSnapshot{Name: "Paris", Temp: 18.5, Humidity: 60}
	forecast := model.ForecastSnapshot{Entries: []model.ForecastEntry{{Time: 1718344800, Temp: 17}}}

	_, err := snaps.Save(ctx, weather, forecast)
	require.NoError(t, err)

	entry, ok, err := snaps.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, weather, entry.Weather)
	assert.Equal(t, forecast, entry.Forecast)
}

func TestSQLStoreEvents(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	first := events.FetchEvent{ID: "e1", Location: "Paris", Units: "metric", Outcome: events.OutcomeSuccess, Timestamp: base}
	second := events.FetchEvent{ID: "e2", Location: "Atlantis", Units: "metric", Outcome: events.OutcomeError,
		Kind: "not_found", Message: "Location not found. Check the city name.", AutoLoad: true, Timestamp: base.Add(time.Minute)}

	require.NoError(t, s.SaveEvent(ctx, first))
	require.NoError(t, s.SaveEvent(ctx, second))
	require.NoError(t, s.SaveEvent(ctx, second))

	list, err := s.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e2", list[0].ID)
	assert.True(t, list[0].AutoLoad)
	assert.Equal(t, "not_found", list[0].Kind)
	assert.True(t, list[1].Timestamp.Equal(base))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "", testLogger)
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "SELECT $1, $2", pg.rebind("SELECT ?, ?"))

	lite := &SQLStore{driver: DriverSQLite}
	assert.Equal(t, "SELECT ?, ?", lite.rebind("SELECT ?, ?"))
}
