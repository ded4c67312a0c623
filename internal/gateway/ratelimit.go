package gateway

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/gometeo/skycast/internal/model"
)

// RateLimited shares one token bucket between current and forecast calls,
// since both count against the same API key quota.
type RateLimited struct {
	next    Gateway
	limiter *rate.Limiter
}

// NewRateLimited wraps next. rps may be fractional; burst is the bucket size.
func NewRateLimited(next Gateway, rps float64, burst int) *RateLimited {
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimited) FetchCurrent(ctx context.Context, loc model.Location, units model.Units) (model.WeatherSnapshot, error) {
	if err := r.wait(ctx); err != nil {
		return model.WeatherSnapshot{}, err
	}
	return r.next.FetchCurrent(ctx, loc, units)
}

func (r *RateLimited) FetchForecast(ctx context.Context, loc model.Location, units model.Units) (model.ForecastSnapshot, error) {
	if err := r.wait(ctx); err != nil {
		return model.ForecastSnapshot{}, err
	}
	return r.next.FetchForecast(ctx, loc, units)
}

// wait takes a token. The limiter fails early, with ctx still live, when the
// token would only arrive after ctx's deadline; that is reported as a timeout.
func (r *RateLimited) wait(ctx context.Context) error {
	err := r.limiter.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil {
		err = errors.Join(context.DeadlineExceeded, err)
	}
	return fmt.Errorf("rate limit wait: %w", err)
}

var _ Gateway = (*RateLimited)(nil)
