package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gometeo/skycast/internal/model"
)

const MaxHistory = 5

// Preferences stores the user's scalar settings and search history.
type Preferences struct {
	store  Store
	logger *slog.Logger
}

func NewPreferences(store Store, logger *slog.Logger) *Preferences {
	return &Preferences{store: store, logger: logger}
}

func (p *Preferences) LastCity(ctx context.Context) (string, error) {
	city, _, err := p.store.Get(ctx, KeyLastCity)
	if err != nil {
		return "", fmt.Errorf("read last city: %w", err)
	}
	return city, nil
}

func (p *Preferences) SetLastCity(ctx context.Context, city string) error {
	if err := p.store.Set(ctx, KeyLastCity, city); err != nil {
		return fmt.Errorf("save last city %q: %w", city, err)
	}
	return nil
}

// Units falls back to Metric when nothing (or garbage) is stored.
func (p *Preferences) Units(ctx context.Context) (model.Units, error) {
	raw, ok, err := p.store.Get(ctx, KeyUnits)
	if err != nil {
		return model.Metric, fmt.Errorf("read units: %w", err)
	}
	if !ok {
		return model.Metric, nil
	}
	units, err := model.ParseUnits(raw)
	if err != nil {
		p.logger.Warn("Ignoring stored units", "value", raw, "error", err)
		return model.Metric, nil
	}
	return units, nil
}

func (p *Preferences) SetUnits(ctx context.Context, units model.Units) error {
	if err := p.store.Set(ctx, KeyUnits, units.String()); err != nil {
		return fmt.Errorf("save units: %w", err)
	}
	return nil
}

func (p *Preferences) DarkTheme(ctx context.Context) (bool, error) {
	raw, ok, err := p.store.Get(ctx, KeyDarkTheme)
	if err != nil {
		return false, fmt.Errorf("read theme: %w", err)
	}
	if !ok {
		return false, nil
	}
	dark, err := strconv.ParseBool(raw)
	if err != nil {
		return false, nil
	}
	return dark, nil
}

func (p *Preferences) SetDarkTheme(ctx context.Context, dark bool) error {
	if err := p.store.Set(ctx, KeyDarkTheme, strconv.FormatBool(dark)); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	return nil
}

// History returns the recent cities, most recent first. A corrupt list reads
// as empty.
func (p *Preferences) History(ctx context.Context) ([]string, error) {
	raw, ok, err := p.store.Get(ctx, KeyHistory)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if !ok || raw == "" {
		return []string{}, nil
	}
	var cities []string
	if err := json.Unmarshal([]byte(raw), &cities); err != nil {
		p.logger.Warn("Discarding corrupt history", "error", err)
		return []string{}, nil
	}
	return cities, nil
}

// AddToHistory moves city to the front, dropping case-insensitive duplicates
// and anything past MaxHistory. It returns the new list.
func (p *Preferences) AddToHistory(ctx context.Context, city string) ([]string, error) {
	city = strings.TrimSpace(city)
	current, err := p.History(ctx)
	if err != nil {
		return nil, err
	}
	if city == "" {
		return current, nil
	}

	next := PushHistory(current, city)
	if err := p.saveHistory(ctx, next); err != nil {
		return current, err
	}
	return next, nil
}

func (p *Preferences) ClearHistory(ctx context.Context) error {
	return p.saveHistory(ctx, []string{})
}

func (p *Preferences) saveHistory(ctx context.Context, cities []string) error {
	data, err := json.Marshal(cities)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := p.store.Set(ctx, KeyHistory, string(data)); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// PushHistory returns a new list with city in front.
func PushHistory(cities []string, city string) []string {
	next := make([]string, 0, MaxHistory)
	next = append(next, city)
	for _, c := range cities {
		if len(next) == MaxHistory {
			break
		}
		if strings.EqualFold(c, city) {
			continue
		}
		next = append(next, c)
	}
	return next
}
