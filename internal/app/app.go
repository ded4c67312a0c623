// Package app assembles the components shared by the skycast binaries.
package app

import (
	"fmt"
	"log/slog"

	"github.com/gometeo/skycast/internal/api/handlers"
	"github.com/gometeo/skycast/internal/cache"
	"github.com/gometeo/skycast/internal/config"
	"github.com/gometeo/skycast/internal/events"
	"github.com/gometeo/skycast/internal/gateway"
	"github.com/gometeo/skycast/internal/session"
	"github.com/gometeo/skycast/internal/storage"
)

// Backend is the configured preference store plus what it can offer besides
// key-value access.
type Backend struct {
	Store   cache.Store
	Checks  map[string]handlers.Pinger
	Archive handlers.EventLister
	close   func() error
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func OpenBackend(cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		r, err := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: r, Checks: map[string]handlers.Pinger{"redis": r}, close: r.Close}, nil

	case config.BackendPostgres, config.BackendSQLite:
		driver, dsn := SQLTarget(cfg)
		s, err := storage.Open(driver, dsn, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, Checks: map[string]handlers.Pinger{"database": s}, Archive: s, close: s.Close}, nil

	case config.BackendMemory:
		logger.Warn("Using in-memory store, preferences are lost on restart")
		return &Backend{Store: cache.NewMemory()}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// SQLTarget picks the database/sql driver and DSN for the configured backend.
// Anything other than sqlite means Postgres.
func SQLTarget(cfg *config.Config) (driver, dsn string) {
	if cfg.StoreBackend == config.BackendSQLite {
		return storage.DriverSQLite, cfg.SQLitePath
	}
	return storage.DriverPostgres, cfg.DBDSN
}

// NewGateway stacks memo and retry over the rate-limited OpenWeather client,
// so every attempt, retries included, takes a token.
func NewGateway(cfg *config.Config, logger *slog.Logger) *gateway.Memo {
	var gw gateway.Gateway = gateway.NewOpenWeather(cfg.BaseURL, cfg.APIKey, cfg.Lang, cfg.GatewayTimeout, logger)
	gw = gateway.NewRateLimited(gw, cfg.GatewayRPS, cfg.GatewayBurst)
	gw = gateway.NewRetrying(gw, cfg.GatewayRetries, cfg.GatewayRetryBase, logger)
	return gateway.NewMemo(gw, cfg.MemoTTL, cfg.MemoMaxEntries)
}

// NewPublisher returns a Kafka publisher, or Nop when Kafka is not configured
// or cannot be reached.
func NewPublisher(cfg *config.Config, logger *slog.Logger) events.Publisher {
	if !cfg.KafkaEnabled() {
		return events.Nop{}
	}
	kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	if err != nil {
		logger.Warn("Kafka unavailable, fetch events disabled", "error", err)
		return events.Nop{}
	}
	logger.Info("Publishing fetch events", "topic", cfg.KafkaTopic)
	return kp
}

// NewSession builds a Session over backend with the configured options.
func NewSession(cfg *config.Config, gw gateway.Gateway, backend *Backend, publisher events.Publisher, logger *slog.Logger) *session.Session {
	return session.New(gw,
		cache.NewPreferences(backend.Store, logger),
		cache.NewSnapshots(backend.Store, cfg.SnapshotMaxAge, logger),
		logger,
		session.WithEvents(publisher),
		session.WithFetchTimeout(cfg.FetchTimeout),
		session.WithAutoSearch(cfg.AutoSearchDelay),
	)
}
