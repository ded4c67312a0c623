package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gometeo/skycast/internal/app"
	"github.com/gometeo/skycast/internal/config"
	"github.com/gometeo/skycast/internal/logging"
	"github.com/gometeo/skycast/internal/model"
	"github.com/gometeo/skycast/internal/session"
)

// The collector probes the weather provider on a cron schedule. Each probe
// runs through a private in-memory session, so the user's preferences are
// never touched, and its fetch events land in the Kafka archive.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.Env)
	logger.Info("Starting provider probe...")

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if len(cfg.ProbeCities) == 0 {
		logger.Error("PROBE_CITIES is empty")
		os.Exit(1)
	}

	publisher := app.NewPublisher(cfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("Could not close publisher", "error", err)
		}
	}()

	probeCfg := *cfg
	probeCfg.StoreBackend = config.BackendMemory
	probeCfg.AutoSearchDelay = 0
	backend, err := app.OpenBackend(&probeCfg, logger)
	if err != nil {
		logger.Error("Could not open probe store", "error", err)
		os.Exit(1)
	}

	sess := app.NewSession(&probeCfg, app.NewGateway(&probeCfg, logger), backend, publisher, logger)
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Probes share one session, so a slow probe must not overlap the next.
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddJob(cfg.ProbeSchedule, newProber(ctx, sess, cfg.ProbeCities, logger)); err != nil {
		logger.Error("Invalid PROBE_SCHEDULE", "schedule", cfg.ProbeSchedule, "error", err)
		os.Exit(1)
	}
	c.Start()
	logger.Info("Probing", "cities", cfg.ProbeCities, "schedule", cfg.ProbeSchedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping...")
	cancel()
	<-c.Stop().Done()
}

// prober is a cron.Job that fetches one city per run, cycling through cities.
type prober struct {
	ctx    context.Context
	sess   *session.Session
	cities []string
	next   int
	logger *slog.Logger
}

func newProber(ctx context.Context, sess *session.Session, cities []string, logger *slog.Logger) *prober {
	return &prober{ctx: ctx, sess: sess, cities: cities, logger: logger}
}

func (p *prober) Run() {
	if p.ctx.Err() != nil {
		return
	}
	city := p.cities[p.next]
	p.next = (p.next + 1) % len(p.cities)

	start := time.Now()
	p.sess.FetchWeather(p.ctx, model.CityLocation(city), model.Metric, false)

	st := p.sess.State()
	switch {
	case st.Stale:
		p.logger.Warn("Probe failed, provider degraded", "city", city, "reason", st.Advisory)
	case st.Err() != "":
		p.logger.Warn("Probe failed", "city", city, "reason", st.Err())
	default:
		w, _ := st.WeatherData()
		fc, _ := st.ForecastData()
		if fc.IsEmpty() {
			p.logger.Warn("Probe returned no forecast entries", "city", city)
			return
		}
		p.logger.Info("Probe succeeded",
			"city", city,
			"temp", w.Temp,
			"sunrise", w.SunriseTime().UTC().Format(time.Kitchen),
			"sunset", w.SunsetTime().UTC().Format(time.Kitchen),
			"forecast_from", fc.Entries[0].At().UTC(),
			"forecast_entries", len(fc.Entries),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
