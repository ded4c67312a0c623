package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/gometeo/skycast/internal/events"
	"github.com/gometeo/skycast/internal/model"
	"github.com/gometeo/skycast/internal/session"
)

// Pinger is a dependency checked by HealthCheck.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EventLister serves the fetch event archive.
type EventLister interface {
	RecentEvents(ctx context.Context, limit int) ([]events.FetchEvent, error)
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type SessionHandler struct {
	session *session.Session
	checks  map[string]Pinger
	archive EventLister
	logger  *slog.Logger
}

// NewSessionHandler wires the HTTP surface to s. archive may be nil.
func NewSessionHandler(s *session.Session, checks map[string]Pinger, archive EventLister, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		session: s,
		checks:  checks,
		archive: archive,
		logger:  logger,
	}
}

// Register mounts every route on r.
func (h *SessionHandler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/session", h.GetState).Methods(http.MethodGet)
	api.HandleFunc("/session/input", h.ChangeInput).Methods(http.MethodPut)
	api.HandleFunc("/session/search", h.Search).Methods(http.MethodPost)
	api.HandleFunc("/session/location", h.Location).Methods(http.MethodPost)
	api.HandleFunc("/session/units", h.ChangeUnits).Methods(http.MethodPut)
	api.HandleFunc("/session/history/{city}", h.SelectFromHistory).Methods(http.MethodPost)
	api.HandleFunc("/session/history", h.ClearHistory).Methods(http.MethodDelete)
	api.HandleFunc("/session/theme", h.SetTheme).Methods(http.MethodPut)
	api.HandleFunc("/events", h.RecentEvents).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}

// fetchContext detaches a fetch from the request so a dropped client does
// not abort it.
func fetchContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (h *SessionHandler) GetState(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, h.session.State())
}

type inputRequest struct {
	City string `json:"city"`
}

func (h *SessionHandler) ChangeInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	h.session.ChangeLocationInput(req.City)
	sendJSON(w, http.StatusOK, h.session.State())
}

// Search runs the pending input. It responds after the fetch settles.
func (h *SessionHandler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.session.Search(fetchContext(r))
	st := h.session.State()
	h.logger.Info("Search finished",
		"city", st.City,
		"status", st.Weather.Status().String(),
		"stale", st.Stale,
		"duration_ms", time.Since(start).Milliseconds())
	sendJSON(w, http.StatusOK, st)
}

type locationRequest struct {
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Error string   `json:"error"`
}

// Location accepts a device position, or the reason one is unavailable.
func (h *SessionHandler) Location(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	switch {
	case req.Lat != nil && req.Lon != nil:
		if err := model.CoordsLocation(*req.Lat, *req.Lon).Validate(); err != nil {
			sendError(w, http.StatusBadRequest, "Invalid coordinates", err.Error())
			return
		}
		h.session.LocationResolved(fetchContext(r), *req.Lat, *req.Lon)
	case req.Error != "":
		h.session.LocationFailed(req.Error)
	default:
		sendError(w, http.StatusBadRequest, "Either lat and lon or error is required", "")
		return
	}
	sendJSON(w, http.StatusOK, h.session.State())
}

type unitsRequest struct {
	Units string `json:"units"`
}

func (h *SessionHandler) ChangeUnits(w http.ResponseWriter, r *http.Request) {
	var req unitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	units, err := model.ParseUnits(req.Units)
	if err != nil {
		sendError(w, http.StatusBadRequest, "Invalid units", err.Error())
		return
	}

	if err := h.session.ChangeUnits(fetchContext(r), units); err != nil {
		h.logger.Warn("Units not saved", "units", units.String(), "error", err)
	}
	sendJSON(w, http.StatusOK, h.session.State())
}

func (h *SessionHandler) SelectFromHistory(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(mux.Vars(r)["city"])
	if city == "" {
		sendError(w, http.StatusBadRequest, "City is required", "")
		return
	}
	h.session.SelectFromHistory(fetchContext(r), city)
	sendJSON(w, http.StatusOK, h.session.State())
}

func (h *SessionHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.session.ClearHistory(r.Context()); err != nil {
		h.logger.Error("Could not clear history", "error", err)
		sendError(w, http.StatusInternalServerError, "Could not clear history", "")
		return
	}
	sendJSON(w, http.StatusOK, h.session.State())
}

type themeRequest struct {
	Dark *bool `json:"dark"`
}

// SetTheme sets the theme from {"dark": bool}; an empty body toggles it.
func (h *SessionHandler) SetTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
			return
		}
	}

	var err error
	if req.Dark == nil {
		err = h.session.ToggleTheme(r.Context())
	} else {
		err = h.session.SetDarkTheme(r.Context(), *req.Dark)
	}
	if err != nil {
		h.logger.Warn("Theme not saved", "error", err)
	}
	sendJSON(w, http.StatusOK, h.session.State())
}

func (h *SessionHandler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		sendError(w, http.StatusNotFound, "Event archive is not configured", "")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			sendError(w, http.StatusBadRequest, "limit must be between 1 and 500", "")
			return
		}
		limit = n
	}

	list, err := h.archive.RecentEvents(r.Context(), limit)
	if err != nil {
		h.logger.Error("Could not read events", "error", err)
		sendError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"events": list, "total": len(list)})
}

// HealthCheck pings every dependency.
func (h *SessionHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			health[name] = "unhealthy"
			health["status"] = "degraded"
			h.logger.Error("Health check failed", "dependency", name, "error", err)
			continue
		}
		health[name] = "healthy"
	}

	status := http.StatusOK
	if health["status"] == "degraded" {
		status = http.StatusServiceUnavailable
	}
	sendJSON(w, status, health)
}

func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, status int, errorMsg, details string) {
	sendJSON(w, status, ErrorResponse{Error: errorMsg, Message: details})
}
