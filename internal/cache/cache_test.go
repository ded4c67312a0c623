package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gometeo/skycast/internal/model"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisWithClient(client, "skycast:", testLogger), mr
}

func parisWeather() model.WeatherSnapshot {
	return model.WeatherSnapshot{
		Name:      "Paris",
		Condition: model.Condition{Main: "Clouds", Description: "broken clouds", Icon: "04d"},
		Temp:      18.5,
		FeelsLike: 17.9,
		Humidity:  60,
		Pressure:  1012,
		WindSpeed: 3.6,
		Sunrise:   1700000000,
		Sunset:    1700040000,
	}
}

func parisForecast() model.ForecastSnapshot {
	entries := make([]model.ForecastEntry, 5)
	for i := range entries {
		entries[i] = model.ForecastEntry{Time: int64(1700000000 + i*10800), Temp: 15 + float64(i)}
	}
	return model.ForecastSnapshot{Entries: entries}
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedis(t)

	_, ok, err := store.Get(ctx, KeyLastCity)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, KeyLastCity, "Paris"))
	raw, err := mr.Get("skycast:last_city")
	require.NoError(t, err)
	assert.Equal(t, "Paris", raw)

	require.NoError(t, store.SetMany(ctx, map[string]string{"a": "1", "b": "2"}))
	v, ok, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	require.NoError(t, store.Delete(ctx, "a"))
	_, ok, err = store.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newTestRedis(t)
	mr.Close()

	_, _, err := store.Get(context.Background(), KeyLastCity)
	assert.Error(t, err)
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	prefs := NewPreferences(NewMemory(), testLogger)

	units, err := prefs.Units(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Metric, units)

	require.NoError(t, prefs.SetUnits(ctx, model.Imperial))
	units, err = prefs.Units(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Imperial, units)

	dark, err := prefs.DarkTheme(ctx)
	require.NoError(t, err)
	assert.False(t, dark)
	require.NoError(t, prefs.SetDarkTheme(ctx, true))
	dark, err = prefs.DarkTheme(ctx)
	require.NoError(t, err)
	assert.True(t, dark)

	require.NoError(t, prefs.SetLastCity(ctx, "Oslo"))
	city, err := prefs.LastCity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Oslo", city)
}

func TestPreferencesHistory(t *testing.T) {
	ctx := context.Background()
	prefs := NewPreferences(NewMemory(), testLogger)

	for _, c := range []string{"Paris", "Berlin", "Rome", "Oslo", "Lima", "Kyiv"} {
		_, err := prefs.AddToHistory(ctx, c)
		require.NoError(t, err)
	}
	history, err := prefs.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Kyiv", "Lima", "Oslo", "Rome", "Berlin"}, history)

	history, err = prefs.AddToHistory(ctx, "ROME")
	require.NoError(t, err)
	assert.Equal(t, []string{"ROME", "Kyiv", "Lima", "Oslo", "Berlin"}, history)

	history, err = prefs.AddToHistory(ctx, "  ")
	require.NoError(t, err)
	assert.Len(t, history, 5)

	require.NoError(t, prefs.ClearHistory(ctx))
	history, err = prefs.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPreferencesCorruptHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Set(ctx, KeyHistory, "{not json"))

	history, err := NewPreferences(store, testLogger).History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSnapshotsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedis(t)
	snaps := NewSnapshots(store, 0, testLogger)

	_, ok, err := snaps.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	before := time.Now()
	savedAt, err := snaps.Save(ctx, parisWeather(), parisForecast())
	require.NoError(t, err)
	assert.False(t, savedAt.Before(before))

	entry, ok, err := snaps.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, parisWeather(), entry.Weather)
	assert.Equal(t, parisForecast(), entry.Forecast)
	assert.Equal(t, savedAt, entry.SavedAt)
}

func TestSnapshotsTimestampRoundsUp(t *testing.T) {
	testCases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"whole millisecond", time.UnixMilli(1_700_000_000_123), time.UnixMilli(1_700_000_000_123)},
		{"sub millisecond", time.Unix(1_700_000_000, 123_000_001), time.UnixMilli(1_700_000_000_124)},
		{"just below", time.Unix(1_700_000_000, 123_999_999), time.UnixMilli(1_700_000_000_124)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			snaps := NewSnapshots(NewMemory(), 0, testLogger)
			snaps.now = func() time.Time { return tc.now }

			savedAt, err := snaps.Save(ctx, parisWeather(), parisForecast())
			require.NoError(t, err)
			assert.Equal(t, tc.want, savedAt)

			ts, ok, err := snaps.Timestamp(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tc.want, ts)
		})
	}
}

func TestSnapshotsInvalid(t *testing.T) {
	testCases := []struct {
		name string
		data map[string]string
	}{
		{"forecast missing", map[string]string{KeyCachedWeather: `{"name":"Paris"}`}},
		{"weather empty", map[string]string{KeyCachedWeather: "", KeyCachedForecast: `{"list":[]}`}},
		{"weather corrupt", map[string]string{KeyCachedWeather: "{", KeyCachedForecast: `{"list":[]}`}},
		{"forecast corrupt", map[string]string{KeyCachedWeather: `{"name":"Paris"}`, KeyCachedForecast: "[1,"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := NewMemory()
			require.NoError(t, store.SetMany(ctx, tc.data))

			_, ok, err := NewSnapshots(store, 0, testLogger).Load(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSnapshotsMaxAge(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshots(NewMemory(), time.Hour, testLogger)
	now := time.Now()
	snaps.now = func() time.Time { return now }

	_, err := snaps.Save(ctx, parisWeather(), parisForecast())
	require.NoError(t, err)

	_, ok, err := snaps.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	snaps.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, ok, err = snaps.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ts, ok, err := snaps.Timestamp(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, ts.Before(now))
	assert.Less(t, ts.Sub(now), time.Millisecond)
}
