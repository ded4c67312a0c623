package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gometeo/skycast/internal/fault"
	"github.com/gometeo/skycast/internal/model"
)

const DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

// OpenWeather talks to the OpenWeatherMap 2.5 API. One instance (and one
// http.Client) is shared by all requests.
type OpenWeather struct {
	client  *http.Client
	baseURL string
	apiKey  string
	lang    string
	logger  *slog.Logger
}

func NewOpenWeather(baseURL, apiKey, lang string, timeout time.Duration, logger *slog.Logger) *OpenWeather {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OpenWeather{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
		lang:    lang,
		logger:  logger.With("component", "openweather"),
	}
}

type owCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type owMain struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	TempMin   float64 `json:"temp_min"`
	TempMax   float64 `json:"temp_max"`
	Pressure  int     `json:"pressure"`
	Humidity  int     `json:"humidity"`
}

type owWind struct {
	Speed float64 `json:"speed"`
}

type currentResponse struct {
	Weather    []owCondition `json:"weather"`
	Main       owMain        `json:"main"`
	Visibility int           `json:"visibility"`
	Wind       owWind        `json:"wind"`
	Clouds     struct {
		All int `json:"all"`
	} `json:"clouds"`
	Sys struct {
		Sunrise int64 `json:"sunrise"`
		Sunset  int64 `json:"sunset"`
	} `json:"sys"`
	Name string `json:"name"`
}

type forecastResponse struct {
	List []struct {
		Dt      int64         `json:"dt"`
		Main    owMain        `json:"main"`
		Weather []owCondition `json:"weather"`
		Wind    owWind        `json:"wind"`
	} `json:"list"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (p *OpenWeather) FetchCurrent(ctx context.Context, loc model.Location, units model.Units) (model.WeatherSnapshot, error) {
	var resp currentResponse
	if err := p.get(ctx, "weather", loc, units, &resp); err != nil {
		return model.WeatherSnapshot{}, fmt.Errorf("fetch current weather for %s: %w", loc, err)
	}

	return model.WeatherSnapshot{
		Name:       resp.Name,
		Condition:  firstCondition(resp.Weather),
		Temp:       resp.Main.Temp,
		FeelsLike:  resp.Main.FeelsLike,
		TempMin:    resp.Main.TempMin,
		TempMax:    resp.Main.TempMax,
		Humidity:   resp.Main.Humidity,
		Pressure:   resp.Main.Pressure,
		WindSpeed:  resp.Wind.Speed,
		Clouds:     resp.Clouds.All,
		Visibility: resp.Visibility,
		Sunrise:    resp.Sys.Sunrise,
		Sunset:     resp.Sys.Sunset,
	}, nil
}

func (p *OpenWeather) FetchForecast(ctx context.Context, loc model.Location, units model.Units) (model.ForecastSnapshot, error) {
	var resp forecastResponse
	if err := p.get(ctx, "forecast", loc, units, &resp); err != nil {
		return model.ForecastSnapshot{}, fmt.Errorf("fetch forecast for %s: %w", loc, err)
	}

	entries := make([]model.ForecastEntry, 0, len(resp.List))
	for _, item := range resp.List {
		entries = append(entries, model.ForecastEntry{
			Time:      item.Dt,
			Condition: firstCondition(item.Weather),
			Temp:      item.Main.Temp,
			FeelsLike: item.Main.FeelsLike,
			TempMin:   item.Main.TempMin,
			TempMax:   item.Main.TempMax,
			Humidity:  item.Main.Humidity,
			Pressure:  item.Main.Pressure,
			WindSpeed: item.Wind.Speed,
		})
	}
	return model.ForecastSnapshot{Entries: entries}, nil
}

func (p *OpenWeather) get(ctx context.Context, endpoint string, loc model.Location, units model.Units, out any) error {
	params := url.Values{}
	if loc.IsCoords() {
		params.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
		params.Set("lon", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	} else {
		params.Set("q", loc.City)
	}
	params.Set("appid", p.apiKey)
	params.Set("units", units.String())
	if p.lang != "" {
		params.Set("lang", p.lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	p.logger.Debug("Weather API response",
		"endpoint", endpoint,
		"location", loc.String(),
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		_ = json.Unmarshal(body, &apiErr)
		return &fault.StatusError{StatusCode: resp.StatusCode, Message: apiErr.Message}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func firstCondition(list []owCondition) model.Condition {
	if len(list) == 0 {
		return model.Condition{}
	}
	return model.Condition{Main: list[0].Main, Description: list[0].Description, Icon: list[0].Icon}
}

var _ Gateway = (*OpenWeather)(nil)
