package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gometeo/skycast/internal/model"
)

// Entry is the last successful weather and forecast pair.
type Entry struct {
	Weather  model.WeatherSnapshot
	Forecast model.ForecastSnapshot
	SavedAt  time.Time
}

// Snapshots reads and writes the offline fallback entry. Entries older than
// maxAge are ignored; maxAge <= 0 keeps them forever.
type Snapshots struct {
	store  Store
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewSnapshots(store Store, maxAge time.Duration, logger *slog.Logger) *Snapshots {
	return &Snapshots{
		store:  store,
		maxAge: maxAge,
		now:    time.Now,
		logger: logger,
	}
}

// Save writes both blobs and the capture time in one SetMany call and returns
// the capture time.
func (s *Snapshots) Save(ctx context.Context, weather model.WeatherSnapshot, forecast model.ForecastSnapshot) (time.Time, error) {
	weatherJSON, err := json.Marshal(weather)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode weather: %w", err)
	}
	forecastJSON, err := json.Marshal(forecast)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode forecast: %w", err)
	}

	savedAt := ceilMilli(s.now())
	err = s.store.SetMany(ctx, map[string]string{
		KeyCachedWeather:  string(weatherJSON),
		KeyCachedForecast: string(forecastJSON),
		KeyCacheTimestamp: strconv.FormatInt(savedAt.UnixMilli(), 10),
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("save snapshot: %w", err)
	}

	s.logger.Debug("Snapshot cached", "name", weather.Name, "entries", len(forecast.Entries))
	return savedAt, nil
}

// ceilMilli rounds t up to the millisecond precision the timestamp is stored
// with, so the saved time never precedes the capture.
func ceilMilli(t time.Time) time.Time {
	return time.UnixMilli((t.UnixNano() + 999_999) / int64(time.Millisecond))
}

// Load returns ok=false when either blob is missing, empty or unparseable, or
// the entry has expired. err is only set when the store itself fails.
func (s *Snapshots) Load(ctx context.Context) (Entry, bool, error) {
	weatherJSON, ok, err := s.store.Get(ctx, KeyCachedWeather)
	if err != nil {
		return Entry{}, false, fmt.Errorf("read cached weather: %w", err)
	}
	if !ok || weatherJSON == "" {
		return Entry{}, false, nil
	}
	forecastJSON, ok, err := s.store.Get(ctx, KeyCachedForecast)
	if err != nil {
		return Entry{}, false, fmt.Errorf("read cached forecast: %w", err)
	}
	if !ok || forecastJSON == "" {
		return Entry{}, false, nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(weatherJSON), &entry.Weather); err != nil {
		s.logger.Warn("Cached weather is corrupt", "error", err)
		return Entry{}, false, nil
	}
	if err := json.Unmarshal([]byte(forecastJSON), &entry.Forecast); err != nil {
		s.logger.Warn("Cached forecast is corrupt", "error", err)
		return Entry{}, false, nil
	}

	savedAt, ok, err := s.Timestamp(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	if ok {
		entry.SavedAt = savedAt
	}
	if s.maxAge > 0 && (!ok || s.now().Sub(savedAt) > s.maxAge) {
		s.logger.Debug("Cached snapshot expired", "saved_at", savedAt, "max_age", s.maxAge)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Timestamp returns the capture time of the cached entry, if any.
func (s *Snapshots) Timestamp(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := s.store.Get(ctx, KeyCacheTimestamp)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read cache timestamp: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(millis), true, nil
}
