package scheduled

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/relaydesk/inbox/internal/domain"
	"github.com/relaydesk/inbox/internal/pkg/ctxlog"
	"github.com/relaydesk/inbox/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: domain.ErrContactNotFound, Status: http.StatusNotFound, Message: "contact not found"},
	{Error: domain.ErrUnknownChannel, Status: http.StatusBadRequest},
	{Error: ErrScheduleInPast, Status: http.StatusBadRequest},
	{Error: ErrEmptyContent, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for scheduled messages.
type Handler struct {
	service   *Service
	processor Processor
	validator *validator.Validate
}

// NewHandler creates a new scheduled messages handler.
func NewHandler(service *Service, processor Processor) *Handler {
	return &Handler{
		service:   service,
		processor: processor,
		validator: validator.New(),
	}
}

// RegisterCronRoutes registers the externally triggered sweep. A non-empty secret must be
// presented as a bearer token.
func (h *Handler) RegisterCronRoutes(r chi.Router, secret string) {
	r.Group(func(r chi.Router) {
		r.Use(httputil.SharedSecretMiddleware(secret))
		r.Get("/api/cron/process-scheduled", h.ProcessScheduled)
		r.Post("/api/cron/process-scheduled", h.ProcessScheduled)
	})
}

// RegisterRoutes registers scheduled message routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/scheduled-messages", func(r chi.Router) {
		r.Post("/", h.Schedule)
		r.Get("/upcoming", h.ListUpcoming)
		r.Get("/stats", h.GetQueueStats)
	})
}

// ScheduleRequest represents request body for scheduling a message.
type ScheduleRequest struct {
	ContactID   string    `json:"contact_id" validate:"required,uuid"`
	Channel     string    `json:"channel" validate:"required,oneof=SMS WHATSAPP EMAIL TWITTER FACEBOOK"`
	Content     string    `json:"content" validate:"required"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

type cronResponse struct {
	Success   bool      `json:"success"`
	Processed int       `json:"processed"`
	Timestamp time.Time `json:"timestamp"`
}

type cronErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ProcessScheduled handles GET and POST /api/cron/process-scheduled.
func (h *Handler) ProcessScheduled(w http.ResponseWriter, r *http.Request) {
	// The sweep may outlast the server write timeout; its caller still gets the result.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		ctxlog.FromContext(r.Context()).Debug("cannot clear write deadline for sweep", "error", err)
	}

	// A disconnecting caller does not abort the sweep half way.
	result, err := h.processor.Process(context.WithoutCancel(r.Context()))
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("scheduled message sweep failed", "error", err)
		httputil.JSON(w, http.StatusInternalServerError, cronErrorResponse{Success: false, Error: err.Error()})
		return
	}

	httputil.JSON(w, http.StatusOK, cronResponse{
		Success:   true,
		Processed: result.Processed,
		Timestamp: result.Timestamp,
	})
}

// Schedule handles POST /scheduled-messages.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	item, err := h.service.Schedule(r.Context(), ScheduleInput(req))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, item)
}

// ListUpcoming handles GET /scheduled-messages/upcoming.
func (h *Handler) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	items, err := h.service.Upcoming(r.Context(), limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, items)
}

// GetQueueStats handles GET /scheduled-messages/stats.
func (h *Handler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.QueueStats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}
