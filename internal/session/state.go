package session

import (
	"slices"
	"time"

	"github.com/gometeo/skycast/internal/model"
)

// State is what the presentation layer sees. It is replaced as a whole on
// every publish and never mutated afterwards.
type State struct {
	Weather   Result[model.WeatherSnapshot]  `json:"weather"`
	Forecast  Result[model.ForecastSnapshot] `json:"forecast"`
	City      string                         `json:"city"`
	Units     model.Units                    `json:"units"`
	DarkTheme bool                           `json:"dark_theme"`
	History   []string                       `json:"history"`
	// Stale is set while cached data is shown because the last fetch failed.
	Stale bool `json:"stale"`
	// CachedAt is the capture time of the cached entry; zero if none.
	CachedAt time.Time `json:"cached_at,omitzero"`
	// Advisory carries the fault message that caused a stale fallback.
	Advisory string `json:"advisory,omitempty"`
}

func (s State) IsLoading() bool {
	return s.Weather.IsLoading() || s.Forecast.IsLoading()
}

// Err returns the first error message among the two results, or "".
func (s State) Err() string {
	if c, ok := s.Weather.Fault(); ok {
		return c.Message
	}
	if c, ok := s.Forecast.Fault(); ok {
		return c.Message
	}
	return ""
}

func (s State) WeatherData() (model.WeatherSnapshot, bool) {
	return s.Weather.Value()
}

func (s State) ForecastData() (model.ForecastSnapshot, bool) {
	return s.Forecast.Value()
}

func (s State) clone() State {
	s.History = slices.Clone(s.History)
	return s
}
