package uiapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/awaistahir/smart-sprinkler/internal/auth"
	"github.com/awaistahir/smart-sprinkler/internal/engine"
	"github.com/awaistahir/smart-sprinkler/internal/metrics"
	"github.com/awaistahir/smart-sprinkler/internal/zone"
)

// Zones is the zone manager as seen by the API
type Zones interface {
	Zones() []engine.Zone
	Zone(id int) (*zone.Zone, error)
	Override(ctx context.Context, id int, cmd zone.Command) error
	Patch(ctx context.Context, patches []engine.ZonePatch) error
}

// Forecasts supplies the current forecast
type Forecasts interface {
	Forecast(ctx context.Context) (*engine.Forecast, error)
}

// Config holds the API settings
type Config struct {
	// Password protects login. Empty means anyone on the network can log in.
	Password string

	// LoginRate and LoginBurst limit login attempts across all clients
	LoginRate  rate.Limit
	LoginBurst int
}

type Server struct {
	zones    Zones
	forecast Forecasts
	tokens   *auth.TokenService
	password string
	limiter  *rate.Limiter
	log      zerolog.Logger
}

func NewServer(cfg Config, zones Zones, forecast Forecasts, tokens *auth.TokenService, log zerolog.Logger) *Server {
	if cfg.LoginRate == 0 {
		cfg.LoginRate = rate.Every(time.Second)
	}
	if cfg.LoginBurst <= 0 {
		cfg.LoginBurst = 5
	}

	return &Server{
		zones:    zones,
		forecast: forecast,
		tokens:   tokens,
		password: cfg.Password,
		limiter:  rate.NewLimiter(cfg.LoginRate, cfg.LoginBurst),
		log:      log.With().Str("component", "api").Logger(),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.tokens.Require)

			r.Get("/zones", s.handleGetZones)
			r.Patch("/zones", s.handlePatchZones)
			r.Get("/zones/{id}", s.handleGetZone)
			r.Get("/forecast", s.handleGetForecast)
			r.Post("/override", s.handleOverride)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"` // seconds
}

// handleLogin exchanges the password, or an empty password plus a refresh cookie,
// for a new token pair
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		respondError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch {
	case s.password == "":
	case req.Password == "":
		if !s.validRefresh(r) {
			auth.ClearRefreshCookie(w)
			respondError(w, http.StatusUnauthorized, "login required")
			return
		}
	case req.Password != s.password:
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("failed login attempt")
		respondError(w, http.StatusUnauthorized, "wrong password")
		return
	}

	access, err := s.tokens.IssueAccess()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	refresh, err := s.tokens.IssueRefresh()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	auth.SetRefreshCookie(w, refresh)
	respondJSON(w, http.StatusOK, loginResponse{
		Token:     access,
		ExpiresIn: int(auth.TokenTTL.Seconds()),
	})
}

func (s *Server) validRefresh(r *http.Request) bool {
	c, err := r.Cookie(auth.RefreshCookie)
	if err != nil || c.Value == "" {
		return false
	}
	return s.tokens.VerifyRefresh(c.Value) == nil
}

func (s *Server) handleGetZones(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.zones.Zones())
}

type jobView struct {
	At   time.Time `json:"at"`
	Name string    `json:"name"`
}

type zoneDetail struct {
	engine.Zone
	Jobs     []jobView  `json:"jobs"`
	NextWake *time.Time `json:"nextWake,omitempty"`
}

func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid zone id")
		return
	}

	z, err := s.zones.Zone(id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	detail := zoneDetail{Zone: z.Snapshot(), Jobs: []jobView{}}
	for _, j := range z.Jobs() {
		detail.Jobs = append(detail.Jobs, jobView{At: j.At, Name: j.Name})
	}
	if at, ok := z.NextWake(); ok {
		detail.NextWake = &at
	}

	respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handlePatchZones(w http.ResponseWriter, r *http.Request) {
	patches, err := engine.DecodePatches(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.zones.Patch(r.Context(), patches); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, s.zones.Zones())
}

func (s *Server) handleGetForecast(w http.ResponseWriter, r *http.Request) {
	f, err := s.forecast.Forecast(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, f)
}

type overrideRequest struct {
	ZoneID   int    `json:"zoneId"`
	Schedule string `json:"schedule"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cmd, err := zone.ParseCommand(req.Schedule)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.zones.Override(r.Context(), req.ZoneID, cmd); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"zoneId": req.ZoneID, "schedule": cmd})
}

// statusFor maps zone errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, zone.ErrUnknownZone):
		return http.StatusNotFound
	case errors.Is(err, zone.ErrUnknownCommand), errors.Is(err, engine.ErrInvalidPatch):
		return http.StatusBadRequest
	case errors.Is(err, zone.ErrNotRunning), errors.Is(err, zone.ErrRunning), errors.Is(err, zone.ErrNoWindow):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a single JSON object with no unknown fields
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
