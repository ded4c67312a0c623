package gateway

import (
	"context"

	"github.com/gometeo/skycast/internal/model"
)

// Gateway fetches current conditions and the forecast for a location.
// Implementations report protocol failures as *fault.StatusError.
type Gateway interface {
	FetchCurrent(ctx context.Context, loc model.Location, units model.Units) (model.WeatherSnapshot, error)
	FetchForecast(ctx context.Context, loc model.Location, units model.Units) (model.ForecastSnapshot, error)
}
