// Package httpapi serves the settings router over JSON/HTTP and streams
// container notifications over WebSocket.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/router"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/settings"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/tracing"
)

// NoPlayer in a player path segment addresses GameInstance settings only.
const NoPlayer = "-"

// DefinitionLister lists the catalog's definitions by scope.
type DefinitionLister interface {
	Definitions(scope settings.Scope) []*settings.Definition
}

// Options tunes request limiting and the notification stream.
type Options struct {
	RequestsPerSecond float64
	Burst             int
	PingInterval      time.Duration
	ReadTimeout       time.Duration
}

// Handler serves the settings API.
type Handler struct {
	router  *router.Router
	catalog DefinitionLister
	hub     *streaming.Hub
	limiter *playerLimiter
	opts    Options
	logger  *zap.Logger
}

// NewHandler creates the API handler. hub may be nil to disable streaming.
func NewHandler(r *router.Router, catalog DefinitionLister, hub *streaming.Hub, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 20 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	return &Handler{
		router:  r,
		catalog: catalog,
		hub:     hub,
		limiter: newPlayerLimiter(opts.RequestsPerSecond, opts.Burst),
		opts:    opts,
		logger:  logger,
	}
}

// RegisterRoutes registers API routes on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	h.handle(mux, "GET /v1/definitions", h.handleListDefinitions, false)
	h.handle(mux, "POST /v1/players", h.handleAddPlayer, false)
	h.handle(mux, "DELETE /v1/players/{player}", h.handleRemovePlayer, false)

	h.handle(mux, "GET /v1/players/{player}/settings", h.handleListSettings, false)
	h.handle(mux, "GET /v1/players/{player}/settings/{setting}", h.handleGetSetting, false)
	h.handle(mux, "PUT /v1/players/{player}/settings/{setting}", h.handleChangeSetting, true)
	h.handle(mux, "POST /v1/players/{player}/apply", h.handleApply, true)
	h.handle(mux, "POST /v1/players/{player}/clear", h.handleClear, true)
	h.handle(mux, "POST /v1/players/{player}/reset", h.handleReset, true)
	h.handle(mux, "GET /v1/players/{player}/status", h.handleStatus, false)
	h.handle(mux, "PUT /v1/players/{player}/profile", h.handleSetProfile, true)

	h.handle(mux, "PUT /v1/players/{player}/stacks/{stack}", h.handleSaveStack, true)
	h.handle(mux, "POST /v1/players/{player}/stacks/{stack}/apply", h.handleApplyStack, true)
	h.handle(mux, "DELETE /v1/players/{player}/stacks/{stack}", h.handleRemoveStack, true)

	if h.hub != nil {
		mux.HandleFunc("GET /v1/stream/ws", h.handleWS)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// handle wraps fn with tracing, request metrics and, for mutating routes,
// the per-player rate limit.
func (h *Handler) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc, limited bool) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartHTTPSpan(r.Context(), r.Method, pattern)
		defer span.End()
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			metrics.HTTPRequests.WithLabelValues(pattern, strconv.Itoa(rec.code)).Inc()
		}()

		if limited && !h.limiter.allow(r.PathValue("player")) {
			metrics.RateLimited.Inc()
			writeError(rec, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		fn(rec, r)
	})
}

// playerID maps the path segment to a router player id.
func playerID(r *http.Request) string {
	p := r.PathValue("player")
	if p == NoPlayer {
		return ""
	}
	return p
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"error": message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, settings.ErrInvalidSetting),
		errors.Is(err, settings.ErrSettingNotFound),
		errors.Is(err, settings.ErrStackNotFound),
		errors.Is(err, router.ErrPlayerNotFound),
		errors.Is(err, router.ErrScopeNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, settings.ErrTypeMismatch),
		errors.Is(err, settings.ErrOutOfRange),
		errors.Is(err, settings.ErrNotAnOption),
		errors.Is(err, settings.ErrInvalidStackTag),
		errors.Is(err, router.ErrInvalidPlayer):
		return http.StatusBadRequest
	case errors.Is(err, router.ErrNotEditable):
		return http.StatusForbidden
	case errors.Is(err, router.ErrPlayerExists):
		return http.StatusConflict
	case errors.Is(err, router.ErrNoSession),
		errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen),
		errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("Settings request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, code, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}
