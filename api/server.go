/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/pharmacies/*    Pharmacy listings, catalogs, count queries
  /api/users/*         User details and spending ranking
  /api/masks/*         Stock adjustment
  /api/purchases       Purchase execution
  /api/transactions    Purchase history
  /api/search          Ranked name search

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Pharmacy routes. mask-counts comes before {id} so chi does not
		// try to parse it as an ID.
		r.Route("/pharmacies", func(r chi.Router) {
			r.Get("/", h.ListPharmacies)
			r.Get("/mask-counts", h.PharmacyMaskCounts)
			r.Get("/{id}", h.GetPharmacy)
			r.Get("/{id}/masks", h.ListPharmacyMasks)
			r.Post("/{id}/masks", h.UpsertPharmacyMasks)
		})

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/top-spenders", h.TopSpenders)
			r.Get("/{id}", h.GetUser)
		})

		// Inventory routes
		r.Route("/masks", func(r chi.Router) {
			r.Post("/{id}/stock", h.AdjustMaskStock)
		})

		// Purchase routes
		r.Post("/purchases", h.CreatePurchase)
		r.Get("/transactions", h.ListTransactions)

		// Search
		r.Get("/search", h.Search)
	})

	return r
}
