package testutils

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/gometeo/skycast/internal/events"
	"github.com/gometeo/skycast/internal/model"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) FetchCurrent(ctx context.Context, loc model.Location, units model.Units) (model.WeatherSnapshot, error) {
	args := m.Called(ctx, loc, units)
	return args.Get(0).(model.WeatherSnapshot), args.Error(1)
}

func (m *MockGateway) FetchForecast(ctx context.Context, loc model.Location, units model.Units) (model.ForecastSnapshot, error) {
	args := m.Called(ctx, loc, units)
	return args.Get(0).(model.ForecastSnapshot), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event events.FetchEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

func ParisWeather() model.WeatherSnapshot {
	return model.WeatherSnapshot{
		Name:       "Paris",
		Condition:  model.Condition{Main: "Clouds", Description: "broken clouds", Icon: "04d"},
		Temp:       18.5,
		FeelsLike:  18.1,
		TempMin:    16.2,
		TempMax:    20.3,
		Humidity:   60,
		Pressure:   1014,
		WindSpeed:  4.1,
		Clouds:     75,
		Visibility: 10000,
		Sunrise:    1718337600,
		Sunset:     1718395200,
	}
}

// Forecast returns n entries spaced three hours apart.
func Forecast(n int, temp float64) model.ForecastSnapshot {
	entries := make([]model.ForecastEntry, n)
	for i := range entries {
		entries[i] = model.ForecastEntry{
			Time:      1718344800 + int64(i)*10800,
			Condition: model.Condition{Main: "Clear", Description: "clear sky", Icon: "01d"},
			Temp:      temp + float64(i),
			Humidity:  55,
			Pressure:  1015,
			WindSpeed: 3.2,
		}
	}
	return model.ForecastSnapshot{Entries: entries}
}
