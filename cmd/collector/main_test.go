package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gometeo/skycast/internal/cache"
	"github.com/gometeo/skycast/internal/config"
	"github.com/gometeo/skycast/internal/events"
	"github.com/gometeo/skycast/internal/fault"
	"github.com/gometeo/skycast/internal/model"
	"github.com/gometeo/skycast/internal/session"
	"github.com/gometeo/skycast/internal/testutils"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestProberCyclesThroughCities(t *testing.T) {
	gw := &testutils.MockGateway{}
	pub := &testutils.MockPublisher{}

	london := model.CityLocation("London")
	tokyo := model.CityLocation("Tokyo")
	londonWeather := testutils.ParisWeather()
	londonWeather.Name = "London"
	gw.On("FetchCurrent", mock.Anything, london, model.Metric).Return(londonWeather, nil).Twice()
	gw.On("FetchForecast", mock.Anything, london, model.Metric).Return(testutils.Forecast(1, 12), nil).Twice()
	gw.On("FetchCurrent", mock.Anything, tokyo, model.Metric).Return(model.WeatherSnapshot{}, &fault.StatusError{StatusCode: 500}).Once()
	gw.On("FetchForecast", mock.Anything, tokyo, model.Metric).Return(model.ForecastSnapshot{}, &fault.StatusError{StatusCode: 500}).Once()

	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e events.FetchEvent) bool {
		return e.Location == "London" && e.Outcome == events.OutcomeSuccess
	})).Return(nil).Twice()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e events.FetchEvent) bool {
		return e.Location == "Tokyo" && e.Outcome == events.OutcomeStale && e.Kind == "server"
	})).Return(nil).Once()

	store := cache.NewMemory()
	sess := session.New(gw, cache.NewPreferences(store, testLogger), cache.NewSnapshots(store, 0, testLogger), testLogger,
		session.WithEvents(pub))
	defer sess.Close()

	p := newProber(context.Background(), sess, []string{"London", "Tokyo"}, testLogger)
	p.Run()
	p.Run()
	assert.True(t, sess.State().Stale)
	p.Run()

	assert.False(t, sess.State().Stale)
	gw.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestProberStopsWithContext(t *testing.T) {
	gw := &testutils.MockGateway{}
	store := cache.NewMemory()
	sess := session.New(gw, cache.NewPreferences(store, testLogger), cache.NewSnapshots(store, 0, testLogger), testLogger)
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	newProber(ctx, sess, []string{"London"}, testLogger).Run()

	gw.AssertNotCalled(t, "FetchCurrent", mock.Anything, mock.Anything, mock.Anything)
}

func TestDefaultProbeScheduleParses(t *testing.T) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	t.Setenv("PROBE_SCHEDULE", "")
	_, err := parser.Parse(config.Load().ProbeSchedule)
	require.NoError(t, err)
}
