/**
 * @description
 * HTTP router setup for the billing service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers billing routes.
func NewRouter(h *Handler, jwtSecret string, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Callback-Signature", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Billing service is healthy"))
	})

	// Public gateway callbacks; authenticated by signature, not by session.
	r.Post("/webhooks/payments/{gateway}", h.handleGatewayWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AdminAuthMiddleware(jwtSecret))

		r.Get("/invoices/{id}", h.handleGetInvoice)
		r.Post("/invoices/{id}/payments", h.handleRecordPayment)
		r.Post("/invoices/{id}/charge", h.handleCreateGatewayPayment)
		r.Get("/invoices/{id}/discounts", h.handleListInvoiceDiscounts)
		r.Post("/invoices/{id}/discounts", h.handleApplyDiscount)
		r.Delete("/discounts/{id}", h.handleRemoveDiscount)

		r.Get("/customers/{customerID}/invoices", h.handleListCustomerInvoices)
		r.Get("/customers/{customerID}/late-payments", h.handleGetLatePaymentStats)
		r.Post("/customers/{customerID}/late-payments/reset", h.handleResetLatePayments)
		r.Post("/customers/{customerID}/late-payments/adjust", h.handleAdjustLatePayments)
		r.Post("/customers/{customerID}/sla-rebates", h.handleApplySLARebate)
		r.Post("/late-payments/batch-reset", h.handleBatchResetLatePayments)

		r.Post("/enforcement/bulk-isolate", h.handleBulkIsolate)

		r.Get("/scheduler/settings", h.handleListSchedules)
		r.Get("/scheduler/settings/{taskName}", h.handleGetSchedule)
		r.Put("/scheduler/settings/{taskName}", h.handleUpdateSchedule)
	})

	r.Route("/internal/billing", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Post("/invoices/generate", h.handleGenerateInvoices)
		r.Post("/isolation/run", h.handleRunIsolation)
		r.Post("/restore/run", h.handleRunRestore)
		r.Post("/late-payments/recalculate", h.handleRecalculateLatePayments)
	})

	return r
}
