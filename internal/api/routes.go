package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/gateway", func(r chi.Router) {
			r.Get("/", s.HandleGetGateway)
			r.Get("/stats", s.HandleListGatewayStats)
		})

		r.Get("/queue", s.HandleGetQueue)

		// Downlinks
		r.Post("/downlink", s.HandleSendDownlink)
		r.Route("/downlinks", func(r chi.Router) {
			r.Get("/", s.HandleListDownlinks)
			r.Get("/{id}", s.HandleGetDownlink)
		})

		r.Get("/uplinks", s.HandleListUplinks)
	})
}

func (s *RESTServer) setupMetricsRoute(r chi.Router) {
	r.Handle("/metrics", promhttp.Handler())
}
