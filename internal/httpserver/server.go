package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookline/gateway/internal/auth"
	"github.com/hookline/gateway/internal/capture"
	"github.com/hookline/gateway/internal/httpresp"
	"github.com/hookline/gateway/internal/kv"
	"github.com/hookline/gateway/internal/search"
)

// maxIngressBodyBytes bounds every request body the gateway accepts,
// matching the public capture surface's ingress cap.
const maxIngressBodyBytes = 100 * 1024

// cacheEvictor is the subset of *kv.Store the cache-invalidate endpoint
// depends on.
type cacheEvictor interface {
	EvictEndpoint(ctx context.Context, slug string) error
	EvictQuota(ctx context.Context, slug string) error
}

// circuitState is the subset of *breaker.Breaker the health endpoint
// depends on.
type circuitState interface {
	State(ctx context.Context) kv.CircuitState
	IsDegraded(ctx context.Context) bool
}

// Server wires the gateway's public and internal HTTP surface.
type Server struct {
	Router  *chi.Mux
	Logger  *slog.Logger
	breaker circuitState
	kv      cacheEvictor
	secret  string
}

// NewServer builds the router and mounts the public capture endpoints, the
// internal (bearer-auth) endpoints, health, and metrics. Domain handlers
// (capture, search) are mounted here rather than passed in after the fact,
// since every route on this gateway is already known at construction time.
func NewServer(
	logger *slog.Logger,
	metricsReg *prometheus.Registry,
	kvStore cacheEvictor,
	br circuitState,
	captureHandler *capture.Handler,
	searchHandler *search.Handler,
	sharedSecret string,
) *Server {
	s := &Server{
		Router:  chi.NewRouter(),
		Logger:  logger,
		breaker: br,
		kv:      kvStore,
		secret:  sharedSecret,
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(limitBody(maxIngressBodyBytes))

	// Public endpoints accept requests from anyone's browser or server; CORS
	// is wide open by design. The internal endpoints below sit outside this
	// group and send no CORS headers.
	s.Router.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
			AllowedHeaders: []string{"*"},
			MaxAge:         300,
		}))
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
		captureHandler.Mount(r)
	})

	s.Router.With(auth.RequireBearer(sharedSecret)).
		Post("/internal/cache-invalidate/{slug}", s.handleCacheInvalidate)
	searchHandler.Mount(s.Router)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

type healthResponse struct {
	Status  string `json:"status"`
	Circuit string `json:"circuit"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	circuit := s.breaker.State(ctx)
	degraded := s.breaker.IsDegraded(ctx)

	status := "ok"
	code := http.StatusOK
	if degraded {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	httpresp.Respond(w, code, healthResponse{Status: status, Circuit: string(circuit)})
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if !capture.ValidSlug(slug) {
		httpresp.RespondError(w, http.StatusBadRequest, "invalid_slug")
		return
	}

	ctx := r.Context()
	if err := s.kv.EvictEndpoint(ctx, slug); err != nil {
		s.Logger.Error("evicting endpoint cache failed", "slug", slug, "error", err)
	}
	if err := s.kv.EvictQuota(ctx, slug); err != nil {
		s.Logger.Error("evicting quota cache failed", "slug", slug, "error", err)
	}

	httpresp.Respond(w, http.StatusOK, map[string]bool{"ok": true})
}

// limitBody caps every request body at n bytes before it reaches a handler.
func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
