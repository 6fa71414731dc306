// Package handlers provides HTTP handlers for the billing API.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/caresuite/go-ebe/internal/api/middleware"
	"github.com/caresuite/go-ebe/internal/domain/billing"
	"github.com/caresuite/go-ebe/internal/domain/errs"
	"github.com/caresuite/go-ebe/internal/gateway"
	"github.com/caresuite/go-ebe/internal/observability/metrics"
)

// BillingHandler handles bill and payment endpoints.
type BillingHandler struct {
	agg     *billing.Aggregator
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewBillingHandler creates a new handler. metrics may be nil in tests.
func NewBillingHandler(agg *billing.Aggregator, m *metrics.Metrics, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{agg: agg, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *BillingHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Open)
	r.Get("/{appointmentID}", h.Get)
	r.Get("/{appointmentID}/unpaid", h.Unpaid)
	r.Get("/{appointmentID}/payments", h.ListPayments)
	r.Post("/{appointmentID}/medication/refresh", h.RefreshMedication)
	r.Post("/{appointmentID}/payments/cash", h.ConfirmCash)
	return r
}

// PrescriptionRoutes returns prescription-scoped payment routes.
func (h *BillingHandler) PrescriptionRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{prescriptionID}/payments/cash", h.PayPrescriptionCash)
	r.Get("/{prescriptionID}/payments", h.ListPrescriptionPayments)
	return r
}

// OpenRequest is the request body for opening a bill.
type OpenRequest struct {
	AppointmentID   string `json:"appointment_id"`
	ConsultationFee int64  `json:"consultation_fee"`
}

// Open handles POST /bills
func (h *BillingHandler) Open(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("billing-handler")
	ctx, span := tracer.Start(ctx, "open_bill")
	defer span.End()

	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("invalid request body"))
		return
	}
	if req.AppointmentID == "" {
		writeError(w, errs.Validation("appointment_id is required"))
		return
	}
	span.SetAttributes(attribute.String("appointment_id", req.AppointmentID))

	bill, err := h.agg.OpenBill(ctx, req.AppointmentID, req.ConsultationFee)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.BillsOpened.Inc()
	}
	h.logger.Info("bill opened",
		zap.String("appointment_id", req.AppointmentID),
		zap.String("bill_number", bill.BillNumber),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusCreated, bill)
}

// Get handles GET /bills/{appointmentID}
func (h *BillingHandler) Get(w http.ResponseWriter, r *http.Request) {
	bill, err := h.agg.GetBill(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

// Unpaid handles GET /bills/{appointmentID}/unpaid
func (h *BillingHandler) Unpaid(w http.ResponseWriter, r *http.Request) {
	bill, err := h.agg.GetBill(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	items := bill.UnpaidItems()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"appointment_id": bill.AppointmentID,
		"overall_status": bill.OverallStatus,
		"unpaid_items":   items,
		"settled":        len(items) == 0,
	})
}

// RefreshMedication handles POST /bills/{appointmentID}/medication/refresh
func (h *BillingHandler) RefreshMedication(w http.ResponseWriter, r *http.Request) {
	bill, err := h.agg.RefreshMedication(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

// CashRequest is the request body for a cash confirmation.
type CashRequest struct {
	BillType billing.BillType `json:"bill_type"`
}

// ConfirmCash handles POST /bills/{appointmentID}/payments/cash
func (h *BillingHandler) ConfirmCash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appointmentID := chi.URLParam(r, "appointmentID")

	var req CashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("invalid request body"))
		return
	}

	bill, err := h.agg.ConfirmCashPayment(ctx, appointmentID, req.BillType)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.PaymentsRecorded.WithLabelValues(billing.MethodCash, string(req.BillType)).Inc()
	}
	h.logger.Info("cash payment confirmed",
		zap.String("appointment_id", appointmentID),
		zap.String("bill_type", string(req.BillType)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusOK, bill)
}

// PayPrescriptionCash handles POST /prescriptions/{prescriptionID}/payments/cash
func (h *BillingHandler) PayPrescriptionCash(w http.ResponseWriter, r *http.Request) {
	bill, err := h.agg.PayPrescriptionCash(r.Context(), chi.URLParam(r, "prescriptionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.PaymentsRecorded.WithLabelValues(billing.MethodCash, string(billing.BillTypeMedication)).Inc()
	}
	writeJSON(w, http.StatusOK, bill)
}

// ListPayments handles GET /bills/{appointmentID}/payments
func (h *BillingHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	txs, err := h.agg.ListPayments(r.Context(), chi.URLParam(r, "appointmentID"), page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// ListPrescriptionPayments handles GET /prescriptions/{prescriptionID}/payments
func (h *BillingHandler) ListPrescriptionPayments(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	txs, err := h.agg.ListPrescriptionPayments(r.Context(), chi.URLParam(r, "prescriptionID"), page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// Webhook handles POST /webhooks/payments, the synchronous intake for provider
// callbacks. Non-final statuses acknowledge without applying so providers stop
// retrying them.
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("billing-handler")
	ctx, span := tracer.Start(ctx, "payment_webhook")
	defer span.End()

	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		writeError(w, errs.Validation("unreadable request body"))
		return
	}

	payment, final, err := gateway.ParseCallback(body)
	if err != nil {
		if h.metrics != nil {
			h.metrics.PaymentsRejected.WithLabelValues(string(errs.KindOf(err))).Inc()
		}
		writeError(w, err)
		return
	}
	span.SetAttributes(
		attribute.String("transaction_id", payment.TransactionID),
		attribute.Bool("final", final),
	)

	if !final {
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
		return
	}

	bill, err := h.agg.ApplyGatewayPayment(ctx, payment)
	if err != nil {
		if h.metrics != nil {
			h.metrics.PaymentsRejected.WithLabelValues(string(errs.KindOf(err))).Inc()
		}
		writeError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.PaymentsRecorded.WithLabelValues(billing.GatewayMethod(payment.Provider), string(payment.BillType)).Inc()
		h.metrics.PaymentDuration.Observe(time.Since(start).Seconds())
	}
	h.logger.Info("gateway payment applied",
		zap.String("transaction_id", payment.TransactionID),
		zap.String("appointment_id", payment.AppointmentID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusOK, bill)
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	return page, pageSize
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindValidation:
		code = http.StatusBadRequest
	case errs.KindNotFound:
		code = http.StatusNotFound
	case errs.KindConflict:
		code = http.StatusConflict
	case errs.KindUnavailable:
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
