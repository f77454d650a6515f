/**
 * @description
 * HTTP handlers for the billing service.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/netbill/billing-service/internal/app"
	"github.com/netbill/billing-service/internal/domain"
	"github.com/netbill/billing-service/internal/store"
	"github.com/netbill/billing-service/pkg/gateway"
)

// maxWebhookBody caps a gateway callback body.
const maxWebhookBody = 1 << 20

// WebhookRateLimiter throttles the public webhook endpoint.
type WebhookRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// CustomerGetter resolves customers for handlers that need display fields.
type CustomerGetter interface {
	GetCustomerByID(ctx context.Context, customerID string) (*domain.Customer, error)
}

// Handler holds the application services that handlers interact with.
type Handler struct {
	invoices    *app.InvoiceService
	payments    *app.PaymentService
	latePayment *app.LatePaymentService
	enforcement *app.EnforcementService
	discounts   *app.DiscountService
	scheduler   *app.SchedulerService
	customers   CustomerGetter
	gateways    *gateway.Registry
	limiter     WebhookRateLimiter
	logger      *slog.Logger
	loc         *time.Location

	webhookRateLimit  int
	webhookRateWindow time.Duration
}

// NewHandler creates a Handler wired to the billing services.
func NewHandler(
	invoices *app.InvoiceService,
	payments *app.PaymentService,
	latePayment *app.LatePaymentService,
	enforcement *app.EnforcementService,
	discounts *app.DiscountService,
	scheduler *app.SchedulerService,
	customers CustomerGetter,
	gateways *gateway.Registry,
	limiter WebhookRateLimiter,
	logger *slog.Logger,
	loc *time.Location,
	webhookRateLimit int,
	webhookRateWindow time.Duration,
) *Handler {
	return &Handler{
		invoices:          invoices,
		payments:          payments,
		latePayment:       latePayment,
		enforcement:       enforcement,
		discounts:         discounts,
		scheduler:         scheduler,
		customers:         customers,
		gateways:          gateways,
		limiter:           limiter,
		logger:            logger,
		loc:               loc,
		webhookRateLimit:  webhookRateLimit,
		webhookRateWindow: webhookRateWindow,
	}
}

// --- invoices ---

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")
	inv, err := h.invoices.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		h.respondWithError(w, r, err, "getting invoice")
		return
	}
	respondWithJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleListCustomerInvoices(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	invoices, err := h.invoices.ListCustomerInvoices(r.Context(), customerID)
	if err != nil {
		h.respondWithError(w, r, err, "listing customer invoices")
		return
	}
	respondWithJSON(w, http.StatusOK, invoices)
}

func (h *Handler) handleGenerateInvoices(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Period string `json:"period"`
	}
	// Body is optional; an empty or absent period means the current month.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	period := strings.TrimSpace(req.Period)
	if period == "" {
		period = time.Now().In(h.loc).Format("2006-01")
	}

	result, err := h.invoices.GenerateMonthlyInvoices(r.Context(), period)
	if err != nil {
		h.respondWithError(w, r, err, "generating invoices")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// --- payments ---

func (h *Handler) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")

	var req struct {
		Amount     int64   `json:"amount"`
		Method     string  `json:"method"`
		GatewayRef *string `json:"gateway_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.payments.RecordPayment(r.Context(), invoiceID, req.Amount, req.Method, req.GatewayRef)
	if err != nil {
		h.respondWithError(w, r, err, "recording payment")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCreateGatewayPayment(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")

	var req struct {
		Gateway string `json:"gateway"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	gw, err := h.gateways.Get(req.Gateway)
	if err != nil {
		http.Error(w, "Unknown payment gateway", http.StatusBadRequest)
		return
	}

	inv, err := h.invoices.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		h.respondWithError(w, r, err, "getting invoice for charge")
		return
	}
	if inv.RemainingAmount <= 0 {
		http.Error(w, "Invoice is already settled", http.StatusConflict)
		return
	}

	customer, err := h.customers.GetCustomerByID(r.Context(), inv.CustomerID)
	if err != nil {
		h.respondWithError(w, r, err, "getting customer for charge")
		return
	}

	charge, err := gw.CreatePayment(r.Context(), gateway.ChargeRequest{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.Number,
		CustomerID:    customer.ID,
		CustomerName:  customer.Name,
		Amount:        inv.RemainingAmount,
		Description:   fmt.Sprintf("Internet bill %s", inv.Period),
	})
	if err != nil {
		h.logger.Error("gateway charge failed", "invoice_id", invoiceID, "gateway", req.Gateway, "error", err)
		http.Error(w, "Payment gateway error", http.StatusBadGateway)
		return
	}
	respondWithJSON(w, http.StatusOK, charge)
}

// handleGatewayWebhook is the public callback endpoint for payment gateways.
// It verifies the provider signature before trusting anything in the body.
func (h *Handler) handleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")

	if h.limiter != nil && h.webhookRateLimit > 0 {
		count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "webhook", gatewayName, h.webhookRateLimit, h.webhookRateWindow)
		if err != nil {
			h.logger.Error("webhook rate limiter unavailable, allowing request", "error", err)
		} else if count > h.webhookRateLimit {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
	}

	gw, err := h.gateways.Get(gatewayName)
	if err != nil {
		http.Error(w, "Unknown payment gateway", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Unable to read request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Callback-Signature")
	if !gw.VerifyWebhookSignature(body, signature) {
		h.logger.Warn("webhook signature verification failed", "gateway", gatewayName)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	notification, err := gw.ProcessWebhook(body)
	if err != nil {
		http.Error(w, "Malformed webhook payload", http.StatusBadRequest)
		return
	}

	if !strings.EqualFold(notification.Status, "PAID") {
		h.logger.Info("ignoring non-paid webhook", "gateway", gatewayName, "status", notification.Status)
		respondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	method := "gateway:" + gatewayName
	result, err := h.payments.RecordPayment(r.Context(), notification.InvoiceID, notification.Amount, method, &notification.Reference)
	if err != nil {
		// A settled invoice means this callback is a re-delivery; 200 stops
		// the gateway's retry loop.
		if errors.Is(err, store.ErrInvoiceSettled) {
			respondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
			return
		}
		h.respondWithError(w, r, err, "recording gateway payment")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// --- late payments ---

func (h *Handler) handleGetLatePaymentStats(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	stats, err := h.latePayment.GetStats(r.Context(), customerID)
	if err != nil {
		h.respondWithError(w, r, err, "getting late payment stats")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleResetLatePayments(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	customerID := chi.URLParam(r, "customerID")

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	auditLog, err := h.latePayment.ResetCounter(r.Context(), customerID, adminID, req.Reason)
	if err != nil {
		h.respondWithError(w, r, err, "resetting late payment counter")
		return
	}
	respondWithJSON(w, http.StatusOK, auditLog)
}

func (h *Handler) handleAdjustLatePayments(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	customerID := chi.URLParam(r, "customerID")

	var req struct {
		Delta  int    `json:"delta"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	auditLog, err := h.latePayment.AdjustCounter(r.Context(), customerID, adminID, req.Delta, req.Reason)
	if err != nil {
		h.respondWithError(w, r, err, "adjusting late payment counter")
		return
	}
	respondWithJSON(w, http.StatusOK, auditLog)
}

func (h *Handler) handleBatchResetLatePayments(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		CustomerIDs []string `json:"customer_ids"`
		Reason      string   `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.CustomerIDs) == 0 {
		http.Error(w, "customer_ids is required", http.StatusBadRequest)
		return
	}

	result, err := h.latePayment.BatchResetCounters(r.Context(), req.CustomerIDs, adminID, req.Reason)
	if err != nil {
		h.respondWithError(w, r, err, "batch resetting late payment counters")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRecalculateLatePayments(w http.ResponseWriter, r *http.Request) {
	result, err := h.latePayment.DailyRecalculation(r.Context())
	if err != nil {
		h.respondWithError(w, r, err, "recalculating late payment counters")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// --- discounts ---

func (h *Handler) handleApplyDiscount(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	invoiceID := chi.URLParam(r, "id")

	var req struct {
		Type   string `json:"type"`
		Value  int64  `json:"value"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	inv, err := h.discounts.ApplyDiscount(r.Context(), invoiceID, req.Type, req.Value, req.Reason, adminID)
	if err != nil {
		h.respondWithError(w, r, err, "applying discount")
		return
	}
	respondWithJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleRemoveDiscount(w http.ResponseWriter, r *http.Request) {
	discountID := chi.URLParam(r, "id")
	inv, err := h.discounts.RemoveDiscount(r.Context(), discountID)
	if err != nil {
		h.respondWithError(w, r, err, "removing discount")
		return
	}
	respondWithJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleListInvoiceDiscounts(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")
	discounts, err := h.discounts.ListInvoiceDiscounts(r.Context(), invoiceID)
	if err != nil {
		h.respondWithError(w, r, err, "listing invoice discounts")
		return
	}
	respondWithJSON(w, http.StatusOK, discounts)
}

func (h *Handler) handleApplySLARebate(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	var req struct {
		Period string `json:"period"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.discounts.ApplySLARebate(r.Context(), customerID, req.Period)
	if err != nil {
		h.respondWithError(w, r, err, "applying sla rebate")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// --- enforcement ---

func (h *Handler) handleRunIsolation(w http.ResponseWriter, r *http.Request) {
	result, err := h.enforcement.AutoIsolatePreviousMonthUnpaid(r.Context())
	if err != nil {
		h.respondWithError(w, r, err, "running isolation sweep")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRunRestore(w http.ResponseWriter, r *http.Request) {
	result, err := h.enforcement.AutoRestorePaidCustomers(r.Context())
	if err != nil {
		h.respondWithError(w, r, err, "running restore sweep")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleBulkIsolate(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		OdcID  string `json:"odc_id"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.OdcID) == "" {
		http.Error(w, "odc_id is required", http.StatusBadRequest)
		return
	}

	result, err := h.enforcement.BulkIsolateByOdc(r.Context(), req.OdcID, adminID, req.Reason)
	if err != nil {
		h.respondWithError(w, r, err, "bulk isolating by odc")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// --- scheduler ---

func (h *Handler) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	settings, err := h.scheduler.ListSchedules(r.Context())
	if err != nil {
		h.respondWithError(w, r, err, "listing schedules")
		return
	}
	respondWithJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	taskName := chi.URLParam(r, "taskName")
	setting, err := h.scheduler.GetSchedule(r.Context(), taskName)
	if err != nil {
		h.respondWithError(w, r, err, "getting schedule")
		return
	}
	respondWithJSON(w, http.StatusOK, setting)
}

func (h *Handler) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	taskName := chi.URLParam(r, "taskName")

	var req struct {
		Days    []int `json:"days"`
		Hour    int   `json:"hour"`
		Minute  int   `json:"minute"`
		Enabled bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	setting, err := h.scheduler.UpdateSchedule(r.Context(), domain.SchedulerSetting{
		TaskName: taskName,
		Days:     req.Days,
		Hour:     req.Hour,
		Minute:   req.Minute,
		Enabled:  req.Enabled,
	})
	if err != nil {
		h.respondWithError(w, r, err, "updating schedule")
		return
	}
	respondWithJSON(w, http.StatusOK, setting)
}

// --- helpers ---

// respondWithError maps application errors onto HTTP status codes.
func (h *Handler) respondWithError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, store.ErrInvoiceNotFound),
		errors.Is(err, store.ErrCustomerNotFound),
		errors.Is(err, store.ErrDiscountNotFound),
		errors.Is(err, store.ErrSettingNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrInvoiceSettled),
		errors.Is(err, app.ErrOrderingViolation):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidPeriod),
		errors.Is(err, domain.ErrInvalidDiscount),
		errors.Is(err, domain.ErrUnknownDiscount),
		errors.Is(err, domain.ErrUnknownTask),
		errors.Is(err, domain.ErrInvalidSchedule),
		errors.Is(err, app.ErrReasonRequired),
		errors.Is(err, app.ErrZeroDelta):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("request failed", "action", action, "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
