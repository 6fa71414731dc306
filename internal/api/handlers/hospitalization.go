package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/caresuite/go-ebe/internal/api/middleware"
	"github.com/caresuite/go-ebe/internal/domain/errs"
	"github.com/caresuite/go-ebe/internal/domain/hospitalization"
	"github.com/caresuite/go-ebe/internal/observability/metrics"
)

// HospitalizationHandler handles stay lifecycle endpoints.
type HospitalizationHandler struct {
	svc     *hospitalization.Service
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHospitalizationHandler creates a new handler. metrics may be nil in tests.
func NewHospitalizationHandler(svc *hospitalization.Service, m *metrics.Metrics, logger *zap.Logger) *HospitalizationHandler {
	return &HospitalizationHandler{svc: svc, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *HospitalizationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Assign)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/cost", h.LiveCost)
	r.Post("/{id}/transfer", h.Transfer)
	r.Post("/{id}/discharge", h.Discharge)
	return r
}

// Assign handles POST /stays
func (h *HospitalizationHandler) Assign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("hospitalization-handler")
	ctx, span := tracer.Start(ctx, "assign_room")
	defer span.End()

	var in hospitalization.AssignInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, errs.Validation("invalid request body"))
		return
	}
	span.SetAttributes(
		attribute.String("appointment_id", in.AppointmentID),
		attribute.String("room_id", in.RoomID),
	)

	rec, err := h.svc.AssignRoom(ctx, in)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.StaysActive.Inc()
	}
	h.logger.Info("room assigned",
		zap.String("stay_id", rec.ID),
		zap.String("appointment_id", in.AppointmentID),
		zap.String("room_id", in.RoomID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusCreated, rec)
}

// Get handles GET /stays/{id}
func (h *HospitalizationHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetStay(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetByAppointment handles GET /appointments/{appointmentID}/stay
func (h *HospitalizationHandler) GetByAppointment(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetStayByAppointment(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// LiveCost handles GET /stays/{id}/cost
func (h *HospitalizationHandler) LiveCost(w http.ResponseWriter, r *http.Request) {
	proj, err := h.svc.LiveCost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

// TransferRequest is the request body for a room transfer.
type TransferRequest struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"`
}

// Transfer handles POST /stays/{id}/transfer
func (h *HospitalizationHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stayID := chi.URLParam(r, "id")

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("invalid request body"))
		return
	}

	rec, err := h.svc.TransferRoom(ctx, stayID, req.RoomID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RoomTransfers.Inc()
	}
	h.logger.Info("room transferred",
		zap.String("stay_id", stayID),
		zap.String("room_id", req.RoomID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusOK, rec)
}

// DischargeRequest is the request body for a discharge.
type DischargeRequest struct {
	Reason string `json:"reason"`
}

// Discharge handles POST /stays/{id}/discharge
func (h *HospitalizationHandler) Discharge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stayID := chi.URLParam(r, "id")

	var req DischargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("invalid request body"))
		return
	}

	rec, err := h.svc.Discharge(ctx, stayID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.StaysActive.Dec()
		h.metrics.Discharges.Inc()
		h.metrics.HospitalizationFee.Observe(float64(rec.TotalAmount))
	}
	h.logger.Info("patient discharged",
		zap.String("stay_id", stayID),
		zap.Int64("total_amount", rec.TotalAmount),
		zap.Int("total_hours", rec.TotalHours),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusOK, rec)
}
