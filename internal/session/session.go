package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gometeo/skycast/internal/cache"
	"github.com/gometeo/skycast/internal/events"
	"github.com/gometeo/skycast/internal/fault"
	"github.com/gometeo/skycast/internal/gateway"
	"github.com/gometeo/skycast/internal/model"
)

const (
	subscriberBuffer   = 16
	msgLocationUnknown = "Unable to determine your location."
)

type Option func(*Session)

// WithEvents sends a FetchEvent after every completed fetch.
func WithEvents(p events.Publisher) Option {
	return func(s *Session) { s.events = p }
}

// WithFetchTimeout bounds each fetch, on top of the gateway's own timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Session) { s.fetchTimeout = d }
}

// WithAutoSearch fetches the typed city once input has been idle for delay.
func WithAutoSearch(delay time.Duration) Option {
	return func(s *Session) {
		if delay > 0 {
			s.search = newDebouncer(delay)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

type request struct {
	key    string
	gen    uint64
	cancel context.CancelFunc
}

// fetchOutcome is the joined result of the current and forecast calls.
type fetchOutcome struct {
	weather  model.WeatherSnapshot
	forecast model.ForecastSnapshot
	err      error
}

// Session owns the State shown to the user and mediates every weather fetch.
// All methods are safe for concurrent use; state publication is serialized.
type Session struct {
	gateway      gateway.Gateway
	prefs        *cache.Preferences
	snapshots    *cache.Snapshots
	events       events.Publisher
	logger       *slog.Logger
	now          func() time.Time
	fetchTimeout time.Duration
	search       *debouncer

	// persistMu orders the store writes of completing fetches.
	persistMu sync.Mutex

	mu       sync.Mutex
	state    State
	inflight *request
	gen      uint64
	subs     map[chan State]struct{}
	closed   bool
}

func New(gw gateway.Gateway, prefs *cache.Preferences, snapshots *cache.Snapshots, logger *slog.Logger, opts ...Option) *Session {
	s := &Session{
		gateway:   gw,
		prefs:     prefs,
		snapshots: snapshots,
		events:    events.Nop{},
		logger:    logger.With("component", "session"),
		now:       time.Now,
		state:     State{History: []string{}},
		subs:      make(map[chan State]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the latest published state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe returns a channel that receives the current state and every
// later one, in order. A reader that falls behind loses the oldest queued
// states. The returned func unsubscribes and closes the channel.
func (s *Session) Subscribe() (<-chan State, func()) {
	ch := make(chan State, subscriberBuffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	ch <- s.state.clone()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

// Close cancels any in-flight fetch and pending auto-search and closes all
// subscriber channels.
func (s *Session) Close() {
	if s.search != nil {
		s.search.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.inflight != nil {
		s.inflight.cancel()
		s.inflight = nil
	}
	for ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

func (s *Session) publishLocked(next State) {
	s.state = next
	for ch := range s.subs {
		st := next.clone()
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

// update applies fn to a copy of the state and publishes the result.
func (s *Session) update(fn func(*State)) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.clone()
	fn(&next)
	s.publishLocked(next)
	return next
}

// Restore loads saved preferences and, if a city was saved, auto-loads it.
func (s *Session) Restore(ctx context.Context) {
	units, err := s.prefs.Units(ctx)
	if err != nil {
		s.logger.Warn("Could not load units", "error", err)
	}
	dark, err := s.prefs.DarkTheme(ctx)
	if err != nil {
		s.logger.Warn("Could not load theme", "error", err)
	}
	history, err := s.prefs.History(ctx)
	if err != nil {
		s.logger.Warn("Could not load history", "error", err)
		history = []string{}
	}
	cachedAt, _, err := s.snapshots.Timestamp(ctx)
	if err != nil {
		s.logger.Warn("Could not load cache timestamp", "error", err)
	}
	lastCity, err := s.prefs.LastCity(ctx)
	if err != nil {
		s.logger.Warn("Could not load saved city, clearing it", "error", err)
		lastCity = ""
		if err := s.prefs.SetLastCity(ctx, ""); err != nil {
			s.logger.Warn("Could not clear saved city", "error", err)
		}
	}

	s.update(func(st *State) {
		st.Units = units
		st.DarkTheme = dark
		st.History = history
		st.CachedAt = cachedAt
		st.City = lastCity
	})

	s.logger.Info("Session restored", "city", lastCity, "units", units.String())
	if strings.TrimSpace(lastCity) != "" {
		s.FetchWeather(ctx, model.CityLocation(lastCity), units, true)
	}
}

// ChangeLocationInput updates the pending city without fetching. Error
// results from the previous input are reset to Idle.
func (s *Session) ChangeLocationInput(text string) {
	s.update(func(st *State) {
		st.City = text
		if st.Weather.IsError() {
			st.Weather = Idle[model.WeatherSnapshot]()
		}
		if st.Forecast.IsError() {
			st.Forecast = Idle[model.ForecastSnapshot]()
		}
	})

	if s.search == nil {
		return
	}
	if strings.TrimSpace(text) == "" {
		s.search.Stop()
		return
	}
	s.search.Trigger(func() { s.Search(context.Background()) })
}

// Search fetches the pending city with the current units.
func (s *Session) Search(ctx context.Context) {
	st := s.State()
	s.FetchWeather(ctx, model.CityLocation(st.City), st.Units, false)
}

// SelectFromHistory makes city the pending input and fetches it.
func (s *Session) SelectFromHistory(ctx context.Context, city string) {
	s.FetchWeather(ctx, model.CityLocation(city), s.State().Units, false)
}

// ChangeUnits persists the preference and re-fetches the current city.
func (s *Session) ChangeUnits(ctx context.Context, units model.Units) error {
	err := s.prefs.SetUnits(ctx, units)
	if err != nil {
		s.logger.Warn("Could not save units", "units", units.String(), "error", err)
	}

	st := s.update(func(st *State) { st.Units = units })
	if strings.TrimSpace(st.City) != "" {
		s.FetchWeather(ctx, model.CityLocation(st.City), units, false)
	}
	return err
}

// LocationResolved fetches weather for a position reported by the device.
func (s *Session) LocationResolved(ctx context.Context, lat, lon float64) {
	s.FetchWeather(ctx, model.CoordsLocation(lat, lon), s.State().Units, false)
}

// LocationFailed shows message as an error. The cache is left alone.
func (s *Session) LocationFailed(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = msgLocationUnknown
	}
	c := fault.Classification{Kind: fault.KindUnknown, Severity: fault.SeverityWarning, Message: message}

	s.update(func(st *State) {
		st.Weather = Failure[model.WeatherSnapshot](c)
		st.Forecast = Failure[model.ForecastSnapshot](c)
		st.Stale = false
		st.Advisory = ""
	})
}

func (s *Session) SetDarkTheme(ctx context.Context, dark bool) error {
	s.update(func(st *State) { st.DarkTheme = dark })
	if err := s.prefs.SetDarkTheme(ctx, dark); err != nil {
		s.logger.Warn("Could not save theme", "error", err)
		return err
	}
	return nil
}

func (s *Session) ToggleTheme(ctx context.Context) error {
	return s.SetDarkTheme(ctx, !s.State().DarkTheme)
}

func (s *Session) ClearHistory(ctx context.Context) error {
	if err := s.prefs.ClearHistory(ctx); err != nil {
		return err
	}
	s.update(func(st *State) { st.History = []string{} })
	return nil
}

// FetchWeather loads current weather and forecast for loc and publishes the
// outcome. It returns once the terminal state is published, or immediately
// when loc is blank or an identical fetch is already running. A fetch for a
// different location or units cancels the running one; a cancelled fetch
// publishes nothing.
func (s *Session) FetchWeather(ctx context.Context, loc model.Location, units model.Units, autoLoad bool) {
	if err := loc.Validate(); err != nil {
		s.logger.Debug("Skipping fetch", "location", loc.String(), "reason", err)
		return
	}
	key := loc.Key() + "|" + units.String()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.inflight != nil && s.inflight.key == key {
		s.mu.Unlock()
		s.logger.Debug("Fetch already in flight", "location", loc.String(), "units", units.String())
		return
	}
	if s.inflight != nil {
		s.inflight.cancel()
	}
	s.gen++
	gen := s.gen
	fetchCtx, cancel := s.fetchContext(ctx)
	s.inflight = &request{key: key, gen: gen, cancel: cancel}

	next := s.state.clone()
	next.Weather = Loading[model.WeatherSnapshot]()
	next.Forecast = Loading[model.ForecastSnapshot]()
	next.Units = units
	if !loc.IsCoords() {
		next.City = loc.City
	}
	s.publishLocked(next)
	s.mu.Unlock()
	defer cancel()

	s.logger.Info("Fetching weather", "location", loc.String(), "units", units.String(), "auto_load", autoLoad)
	start := time.Now()
	outcome := s.fetchBoth(fetchCtx, loc, units)

	// Persistence and the event sink must outlive a cancelled caller.
	persistCtx := context.WithoutCancel(ctx)
	if outcome.err == nil {
		s.completeSuccess(persistCtx, gen, loc, units, autoLoad, outcome)
	} else {
		s.completeFailure(persistCtx, gen, loc, units, autoLoad, outcome.err)
	}
	s.logger.Debug("Fetch finished", "location", loc.String(), "duration_ms", time.Since(start).Milliseconds())
}

func (s *Session) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.fetchTimeout > 0 {
		return context.WithTimeout(ctx, s.fetchTimeout)
	}
	return context.WithCancel(ctx)
}

// fetchBoth runs both gateway calls and waits for both to settle.
func (s *Session) fetchBoth(ctx context.Context, loc model.Location, units model.Units) fetchOutcome {
	var out fetchOutcome
	var g errgroup.Group

	g.Go(func() error {
		w, err := s.gateway.FetchCurrent(ctx, loc, units)
		if err != nil {
			return err
		}
		out.weather = w
		return nil
	})
	g.Go(func() error {
		f, err := s.gateway.FetchForecast(ctx, loc, units)
		if err != nil {
			return err
		}
		out.forecast = f
		return nil
	})

	out.err = g.Wait()
	return out
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && gen == s.gen
}

func (s *Session) completeSuccess(ctx context.Context, gen uint64, loc model.Location, units model.Units, autoLoad bool, out fetchOutcome) {
	if !s.commitSuccess(ctx, gen, loc, out) {
		s.logger.Debug("Dropping superseded result", "location", loc.String())
		return
	}
	s.logger.Info("Weather updated", "location", loc.String(), "name", out.weather.Name, "temp", out.weather.Temp)
	s.emit(ctx, loc, units, autoLoad, events.OutcomeSuccess, nil)
}

// commitSuccess persists a successful fetch and publishes it. Writes are
// serialized across fetches and gen is rechecked before each one, so once a
// newer fetch starts nothing of this one reaches the store or the state.
func (s *Session) commitSuccess(ctx context.Context, gen uint64, loc model.Location, out fetchOutcome) bool {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	// Coordinate lookups are remembered by the place name the gateway resolved.
	name := loc.City
	if loc.IsCoords() {
		name = strings.TrimSpace(out.weather.Name)
	}

	var history []string
	if name != "" {
		if !s.isCurrent(gen) {
			return false
		}
		if err := s.prefs.SetLastCity(ctx, name); err != nil {
			s.logger.Warn("Could not save last city", "city", name, "error", err)
		}
		if !s.isCurrent(gen) {
			return false
		}
		h, err := s.prefs.AddToHistory(ctx, name)
		if err != nil {
			s.logger.Warn("Could not update history", "city", name, "error", err)
		} else {
			history = h
		}
	}

	if !s.isCurrent(gen) {
		return false
	}
	savedAt, cacheErr := s.snapshots.Save(ctx, out.weather, out.forecast)
	if cacheErr != nil {
		s.logger.Warn("Could not cache snapshot", "location", loc.String(), "error", cacheErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		return false
	}
	next := s.state.clone()
	next.Weather = Success(out.weather)
	next.Forecast = Success(out.forecast)
	next.Stale = false
	next.Advisory = ""
	if name != "" {
		next.City = name
	}
	if history != nil {
		next.History = history
	}
	if cacheErr == nil {
		next.CachedAt = savedAt
	}
	s.inflight = nil
	s.publishLocked(next)
	return true
}

func (s *Session) completeFailure(ctx context.Context, gen uint64, loc model.Location, units model.Units, autoLoad bool, err error) {
	class := fault.Classify(err)
	outcome, ok := s.commitFailure(ctx, gen, autoLoad, class)
	if !ok {
		s.logger.Debug("Dropping superseded failure", "location", loc.String(), "error", err)
		return
	}
	s.logger.Warn("Weather fetch failed",
		"location", loc.String(),
		"kind", class.Kind.String(),
		"severity", class.Severity.String(),
		"outcome", outcome,
		"error", err)
	s.emit(ctx, loc, units, autoLoad, outcome, &class)
}

// commitFailure publishes the cached entry as stale data, or the fault when
// nothing is cached. It holds persistMu like commitSuccess.
func (s *Session) commitFailure(ctx context.Context, gen uint64, autoLoad bool, class fault.Classification) (string, bool) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if !s.isCurrent(gen) {
		return "", false
	}
	// A restored city that fails should not be retried on every start.
	if autoLoad {
		if err := s.prefs.SetLastCity(ctx, ""); err != nil {
			s.logger.Warn("Could not clear saved city", "error", err)
		}
	}

	entry, cached, loadErr := s.snapshots.Load(ctx)
	if loadErr != nil {
		s.logger.Warn("Could not read cached snapshot", "error", loadErr)
		cached = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		return "", false
	}
	next := s.state.clone()
	outcome := events.OutcomeError
	if cached {
		outcome = events.OutcomeStale
		next.Weather = Success(entry.Weather)
		next.Forecast = Success(entry.Forecast)
		next.Stale = true
		next.Advisory = class.Message
		next.CachedAt = entry.SavedAt
	} else {
		next.Weather = Failure[model.WeatherSnapshot](class)
		next.Forecast = Failure[model.ForecastSnapshot](class)
		next.Stale = false
		next.Advisory = ""
		if autoLoad {
			next.City = ""
		}
	}
	s.inflight = nil
	s.publishLocked(next)
	return outcome, true
}

func (s *Session) emit(ctx context.Context, loc model.Location, units model.Units, autoLoad bool, outcome string, class *fault.Classification) {
	event := events.FetchEvent{
		ID:        uuid.NewString(),
		Location:  loc.String(),
		Units:     units.String(),
		Outcome:   outcome,
		AutoLoad:  autoLoad,
		Timestamp: s.now(),
	}
	if class != nil {
		event.Kind = class.Kind.String()
		event.Message = class.Message
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("Could not publish fetch event", "location", event.Location, "error", err)
	}
}
