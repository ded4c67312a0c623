package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrBlankCity          = errors.New("city name is blank")
	ErrInvalidCoordinates = errors.New("coordinates out of range")
)

// Location - either a city name or a coordinate pair, never both.
type Location struct {
	City   string
	Lat    float64
	Lon    float64
	coords bool
}

func CityLocation(city string) Location {
	return Location{City: strings.TrimSpace(city)}
}

func CoordsLocation(lat, lon float64) Location {
	return Location{Lat: lat, Lon: lon, coords: true}
}

func (l Location) IsCoords() bool {
	return l.coords
}

func (l Location) Validate() error {
	if !l.coords {
		if strings.TrimSpace(l.City) == "" {
			return ErrBlankCity
		}
		return nil
	}
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lon) || l.Lat < -90 || l.Lat > 90 || l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("%w: %v,%v", ErrInvalidCoordinates, l.Lat, l.Lon)
	}
	return nil
}

// Key identifies the location for de-duplication and memoization. City names
// compare case-insensitively.
func (l Location) Key() string {
	if l.coords {
		return fmt.Sprintf("coords:%.4f,%.4f", l.Lat, l.Lon)
	}
	return "city:" + strings.ToLower(strings.TrimSpace(l.City))
}

func (l Location) String() string {
	if l.coords {
		return fmt.Sprintf("%.4f,%.4f", l.Lat, l.Lon)
	}
	return l.City
}

type Units int

const (
	Metric Units = iota
	Imperial
)

// ParseUnits accepts the gateway spelling ("metric", "imperial") and the
// short forms "c"/"f". Empty input yields Metric.
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "metric", "c", "celsius":
		return Metric, nil
	case "imperial", "f", "fahrenheit":
		return Imperial, nil
	default:
		return Metric, fmt.Errorf("unknown units %q", s)
	}
}

// String returns the value sent to the gateway.
func (u Units) String() string {
	if u == Imperial {
		return "imperial"
	}
	return "metric"
}

func (u Units) Suffix() string {
	if u == Imperial {
		return "°F"
	}
	return "°C"
}

func (u Units) WindSuffix() string {
	if u == Imperial {
		return "mph"
	}
	return "m/s"
}

func (u Units) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *Units) UnmarshalText(b []byte) error {
	parsed, err := ParseUnits(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

type Condition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// WeatherSnapshot - current conditions as returned by the gateway. Sunrise and
// sunset are unix seconds.
type WeatherSnapshot struct {
	Name       string    `json:"name"`
	Condition  Condition `json:"condition"`
	Temp       float64   `json:"temp"`
	FeelsLike  float64   `json:"feels_like"`
	TempMin    float64   `json:"temp_min"`
	TempMax    float64   `json:"temp_max"`
	Humidity   int       `json:"humidity"`
	Pressure   int       `json:"pressure"`
	WindSpeed  float64   `json:"wind_speed"`
	Clouds     int       `json:"clouds"`
	Visibility int       `json:"visibility"`
	Sunrise    int64     `json:"sunrise"`
	Sunset     int64     `json:"sunset"`
}

func (w WeatherSnapshot) SunriseTime() time.Time { return time.Unix(w.Sunrise, 0) }
func (w WeatherSnapshot) SunsetTime() time.Time  { return time.Unix(w.Sunset, 0) }

type ForecastEntry struct {
	Time      int64     `json:"dt"`
	Condition Condition `json:"condition"`
	Temp      float64   `json:"temp"`
	FeelsLike float64   `json:"feels_like"`
	TempMin   float64   `json:"temp_min"`
	TempMax   float64   `json:"temp_max"`
	Humidity  int       `json:"humidity"`
	Pressure  int       `json:"pressure"`
	WindSpeed float64   `json:"wind_speed"`
}

func (e ForecastEntry) At() time.Time { return time.Unix(e.Time, 0) }

// ForecastSnapshot keeps the gateway's ordering; grouping by day is left to callers.
type ForecastSnapshot struct {
	Entries []ForecastEntry `json:"list"`
}

func (f ForecastSnapshot) IsEmpty() bool {
	return len(f.Entries) == 0
}
