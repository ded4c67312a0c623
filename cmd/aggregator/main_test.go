package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gometeo/skycast/internal/events"
	"github.com/gometeo/skycast/internal/storage"
)

type brokenSink struct{}

func (brokenSink) SaveEvent(context.Context, events.FetchEvent) error {
	return errors.New("database is down")
}

func TestHandleStoresEvent(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.Open(storage.DriverSQLite, filepath.Join(t.TempDir(), "events.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &ConsumerHandler{logger: logger, sink: store}
	event := events.FetchEvent{
		ID:        "7d0f6c1e-2b0c-4a55-9f55-1c1f3f1d0a01",
		Location:  "Paris",
		Units:     "metric",
		Outcome:   events.OutcomeSuccess,
		Timestamp: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	value, err := json.Marshal(event)
	require.NoError(t, err)

	assert.True(t, h.handle(ctx, value))

	list, err := store.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, event.ID, list[0].ID)
	assert.Equal(t, "Paris", list[0].Location)
}

func TestHandleMalformedIsCommitted(t *testing.T) {
	h := &ConsumerHandler{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), sink: brokenSink{}}

	assert.True(t, h.handle(context.Background(), []byte("{broken")))
}

func TestHandleSinkFailureIsRedelivered(t *testing.T) {
	h := &ConsumerHandler{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), sink: brokenSink{}}

	assert.False(t, h.handle(context.Background(), []byte(`{"id":"e1","location":"Paris","outcome":"success"}`)))
}
