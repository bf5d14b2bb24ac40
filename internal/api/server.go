package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/auth"
	"github.com/lorawan-server/lora-pkt-fwd/internal/config"
	"github.com/lorawan-server/lora-pkt-fwd/internal/integration"
	"github.com/lorawan-server/lora-pkt-fwd/internal/jit"
	"github.com/lorawan-server/lora-pkt-fwd/internal/stats"
	"github.com/lorawan-server/lora-pkt-fwd/internal/storage"
	"github.com/lorawan-server/lora-pkt-fwd/internal/validation"
	"github.com/lorawan-server/lora-pkt-fwd/pkg/lorawan"
)

type ctxKey struct{}

// Gateway is the part of the forwarder the API exposes
type Gateway interface {
	integration.Submitter
	GatewayEUI() lorawan.EUI64
	Stats() stats.Report
	Queue() []jit.Entry
}

// RESTServer represents the local admin API
type RESTServer struct {
	config    *config.Config
	gateway   Gateway
	store     storage.Store
	auth      *auth.JWTManager
	validator *validation.Validator
	router    chi.Router
	server    *http.Server
	started   time.Time
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, gw Gateway, store storage.Store) *RESTServer {
	s := &RESTServer{
		config:    cfg,
		gateway:   gw,
		store:     store,
		auth:      auth.NewJWTManager(&cfg.JWT, cfg.API.AdminUser, cfg.API.AdminPasswordHash),
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
		started:   time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.setupMetricsRoute(s.router)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// Handler returns the router, used by tests
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *RESTServer) Run(ctx context.Context, addr string) error {
	s.server.Addr = addr

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting REST API server")
		errc <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestLogger logs every request with zerolog
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("API request")
	})
}

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		// Parse Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		// Validate token
		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
