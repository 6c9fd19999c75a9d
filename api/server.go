/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counters and latency
  5. CORS:       Cross-origin requests for the marketplace frontend

ROUTE GROUPS:
  /api/wallets/{userID}/*   Wallet ledger operations
  /api/scenarios/*          Demo scenarios
  /health                   Liveness
  /metrics                  Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. The user id in the path is trusted; put
  this service behind the marketplace gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/wallets/{userID}", func(r chi.Router) {
			r.Get("/", h.GetWallet)
			r.Get("/transactions", h.ListTransactions)
			r.Get("/transactions/{txID}", h.GetTransaction)
			r.Get("/breakdown", h.GetBreakdown)
			r.Post("/earnings", h.AddEarning)
			r.Post("/payments", h.ProcessPayment)
			r.Post("/withdrawals", h.WithdrawFunds)
			r.Post("/refunds", h.Refund)
			r.Post("/reload", h.Reload)

			r.Route("/payment-methods", func(r chi.Router) {
				r.Get("/", h.ListPaymentMethods)
				r.Post("/", h.AddPaymentMethod)
				r.Delete("/{methodID}", h.RemovePaymentMethod)
				r.Post("/{methodID}/default", h.SetDefaultPaymentMethod)
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
