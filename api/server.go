/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Zap logger: Structured request logging
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/parts/*          Parts catalogue
  /api/clients/*        Clients and their ledgers
  /api/transactions/*   Transactions and nested line items
  /api/lines/*          Line item edits
  /api/stock/*          Stock read model + recounts
  /api/debts/*          Debt ledger, summary, adjustments

SECURITY NOTE:
  No authentication middleware. The server is meant to sit on a trusted
  network behind the shop's admin UI.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Part routes
		r.Route("/parts", func(r chi.Router) {
			r.Get("/", h.ListParts)
			r.Post("/", h.CreatePart)
			r.Get("/{id}", h.GetPart)
			r.Put("/{id}", h.UpdatePart)
			r.Delete("/{id}", h.DeletePart)
		})

		// Client routes
		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
			r.Get("/{id}", h.GetClient)
			r.Put("/{id}", h.UpdateClient)
			r.Delete("/{id}", h.DeleteClient)
			r.Get("/{id}/debts", h.ListClientDebts)
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.CreateTransaction)
			r.Get("/{id}", h.GetTransaction)
			r.Put("/{id}", h.UpdateTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
			r.Get("/{id}/lines", h.ListLines)
			r.Post("/{id}/lines", h.CreateLine)
		})

		// Line item routes
		r.Route("/lines", func(r chi.Router) {
			r.Put("/{id}", h.UpdateLine)
			r.Delete("/{id}", h.DeleteLine)
		})

		// Stock routes
		r.Route("/stock", func(r chi.Router) {
			r.Get("/", h.ListStock)
			r.Post("/recount", h.RecountAllStock)
			r.Post("/{partID}/recount", h.RecountStock)
		})

		// Debt ledger routes
		r.Route("/debts", func(r chi.Router) {
			r.Get("/", h.ListDebts)
			r.Get("/summary", h.DebtSummary)
			r.Post("/adjustments", h.CreateAdjustment)
			r.Put("/{id}", h.UpdateAdjustment)
			r.Delete("/{id}", h.DeleteDebtEntry)
		})
	})

	return r
}

// requestLogger logs every request with method, path, status and latency.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
