package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/gometeo/skycast/internal/fault"
	"github.com/gometeo/skycast/internal/model"
)

// Retrying repeats retryable failures, waiting fault.RetryDelay between tries.
type Retrying struct {
	next     Gateway
	attempts int
	base     time.Duration
	logger   *slog.Logger
}

// NewRetrying wraps next. attempts counts the first call, so 1 disables retries.
func NewRetrying(next Gateway, attempts int, base time.Duration, logger *slog.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{next: next, attempts: attempts, base: base, logger: logger}
}

func (r *Retrying) FetchCurrent(ctx context.Context, loc model.Location, units model.Units) (model.WeatherSnapshot, error) {
	return retry(ctx, r, "current", loc, func() (model.WeatherSnapshot, error) {
		return r.next.FetchCurrent(ctx, loc, units)
	})
}

func (r *Retrying) FetchForecast(ctx context.Context, loc model.Location, units model.Units) (model.ForecastSnapshot, error) {
	return retry(ctx, r, "forecast", loc, func() (model.ForecastSnapshot, error) {
		return r.next.FetchForecast(ctx, loc, units)
	})
}

func retry[T any](ctx context.Context, r *Retrying, op string, loc model.Location, call func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, err = call()
		if err == nil || attempt >= r.attempts {
			return result, err
		}

		class := fault.Classify(err)
		delay := fault.RetryDelay(class, attempt, r.base)
		if delay <= 0 {
			return result, err
		}

		r.logger.Warn("Weather request failed, retrying",
			"op", op,
			"location", loc.String(),
			"attempt", attempt,
			"kind", class.Kind.String(),
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, err
		case <-timer.C:
		}
	}
}

var _ Gateway = (*Retrying)(nil)
