package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gometeo/skycast/internal/config"
	"github.com/gometeo/skycast/internal/events"
	"github.com/gometeo/skycast/internal/fault"
	"github.com/gometeo/skycast/internal/model"
	"github.com/gometeo/skycast/internal/storage"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOpenBackendMemory(t *testing.T) {
	b, err := OpenBackend(&config.Config{StoreBackend: config.BackendMemory}, testLogger)
	require.NoError(t, err)
	defer b.Close()

	assert.Empty(t, b.Checks)
	assert.Nil(t, b.Archive)
	require.NoError(t, b.Store.Set(context.Background(), "k", "v"))
}

func TestOpenBackendRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{StoreBackend: config.BackendRedis, RedisAddr: mr.Addr(), RedisPrefix: "test:"}

	b, err := OpenBackend(cfg, testLogger)
	require.NoError(t, err)
	defer b.Close()

	require.Contains(t, b.Checks, "redis")
	assert.NoError(t, b.Checks["redis"].Ping(context.Background()))
	require.NoError(t, b.Store.Set(context.Background(), "units", "imperial"))
	v, err := mr.Get("test:units")
	require.NoError(t, err)
	assert.Equal(t, "imperial", v)
}

func TestOpenBackendSQLite(t *testing.T) {
	cfg := &config.Config{StoreBackend: config.BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "s.db")}

	b, err := OpenBackend(cfg, testLogger)
	require.NoError(t, err)
	defer b.Close()

	assert.Contains(t, b.Checks, "database")
	assert.NotNil(t, b.Archive)
}

func TestOpenBackendUnknown(t *testing.T) {
	_, err := OpenBackend(&config.Config{StoreBackend: "etcd"}, testLogger)
	assert.Error(t, err)
}

func TestSQLTarget(t *testing.T) {
	driver, dsn := SQLTarget(&config.Config{StoreBackend: config.BackendSQLite, SQLitePath: "a.db", DBDSN: "postgres://x"})
	assert.Equal(t, storage.DriverSQLite, driver)
	assert.Equal(t, "a.db", dsn)

	driver, dsn = SQLTarget(&config.Config{StoreBackend: config.BackendPostgres, DBDSN: "postgres://x"})
	assert.Equal(t, storage.DriverPostgres, driver)
	assert.Equal(t, "postgres://x", dsn)
}

func TestNewPublisherWithoutKafka(t *testing.T) {
	assert.Equal(t, events.Nop{}, NewPublisher(&config.Config{}, testLogger))
}

func TestGatewayRetriesTakeRateLimitTokens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := &config.Config{
		BaseURL:          server.URL,
		APIKey:           "k",
		GatewayTimeout:   time.Second,
		GatewayRPS:       0.001,
		GatewayBurst:     1,
		GatewayRetries:   3,
		GatewayRetryBase: time.Millisecond,
		MemoTTL:          time.Minute,
		MemoMaxEntries:   10,
	}
	gw := NewGateway(cfg, testLogger)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := gw.FetchCurrent(ctx, model.CityLocation("Paris"), model.Metric)

	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, fault.MsgTimeout, fault.Classify(err).Message)
}
