package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dejobratic/orderflow/internal/auth"
	"github.com/dejobratic/orderflow/internal/events"
	"github.com/dejobratic/orderflow/internal/orders/app"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/app/queries"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/go-chi/chi/v5"
)

const (
	idempotencyHeader = "Idempotency-Key"
	headerReplayed    = "Idempotent-Replayed"
)

// Handler exposes HTTP endpoints for order operations.
type Handler struct {
	service *app.Service
	logger  *slog.Logger
}

func NewHandler(service *app.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the order endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{orderID}", h.getOrder)
		r.Put("/{orderID}/status", h.updateStatus)
		r.Get("/{orderID}/transitions", h.getTransitions)
	})
}

type orderResponse struct {
	Order   *domain.Order `json:"order"`
	EventID string        `json:"eventId,omitempty"`
	Pending bool          `json:"pending,omitempty"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, err := auth.FromRequest(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	scopedKey, err := ports.ScopedIdempotencyKey(principal.UserID, r.Header.Get(idempotencyHeader))
	if err != nil {
		writeError(w, http.StatusBadRequest, idempotencyHeader+" header: "+err.Error())
		return
	}

	stored, err := h.service.ReserveIdempotencyKey(ctx, scopedKey)
	switch {
	case errors.Is(err, ports.ErrRequestInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.writeServiceError(w, r, err)
		return
	case stored != nil:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(headerReplayed, "true")
		w.WriteHeader(stored.StatusCode)
		_, _ = w.Write(stored.Body)
		return
	}

	var input app.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.release(r, scopedKey)
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	result, err := h.service.CreateOrder(ctx, principal, input)
	if err != nil {
		h.release(r, scopedKey)
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Pending {
		status = http.StatusAccepted
	}

	body, err := json.Marshal(orderResponse{
		Order:   result.Order,
		EventID: result.Receipt.EventID,
		Pending: result.Pending,
	})
	if err != nil {
		h.release(r, scopedKey)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := ports.StoredResponse{
		StatusCode: status,
		Body:       body,
		OrderID:    result.Order.ID,
	}
	// The order exists now, so the response is recorded even if the client
	// has gone away. A failed save leaves the key reserved until the lease ends.
	if err := h.service.SaveIdempotentResponse(context.WithoutCancel(ctx), scopedKey, response); err != nil {
		h.logger.WarnContext(ctx, "failed to store idempotent response",
			"order_id", result.Order.ID,
			"error", err,
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *Handler) release(r *http.Request, key string) {
	ctx := r.Context()
	if err := h.service.ReleaseIdempotencyKey(context.WithoutCancel(ctx), key); err != nil {
		h.logger.WarnContext(ctx, "failed to release idempotency key", "error", err)
	}
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type updateStatusResponse struct {
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previousStatus"`
	Changed        bool   `json:"changed"`
	Rejected       bool   `json:"rejected,omitempty"`
	EventID        string `json:"eventId,omitempty"`
	EventAccepted  bool   `json:"eventAccepted"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromRequest(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	result, err := h.service.UpdateStatus(r.Context(), principal, chi.URLParam(r, "orderID"), req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	change := result.Change
	writeJSON(w, http.StatusOK, updateStatusResponse{
		OrderID:        change.OrderID,
		Status:         string(change.Current),
		PreviousStatus: string(change.Previous),
		Changed:        change.Changed,
		Rejected:       change.Rejected,
		EventID:        result.Receipt.EventID,
		EventAccepted:  result.Receipt.Accepted,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromRequest(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	order, err := h.service.GetOrder(r.Context(), principal, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: order})
}

func (h *Handler) getTransitions(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromRequest(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	history, err := h.service.Transitions(r.Context(), principal, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": history})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromRequest(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	query := queries.ListOrdersQuery{
		Principal: principal,
		Status:    r.URL.Query().Get("status"),
	}
	if pageParam := r.URL.Query().Get("page"); pageParam != "" {
		if page, err := strconv.Atoi(pageParam); err == nil {
			query.Page = page
		}
	}
	if pageSizeParam := r.URL.Query().Get("page_size"); pageSizeParam != "" {
		if pageSize, err := strconv.Atoi(pageSizeParam); err == nil {
			query.PageSize = pageSize
		}
	}

	orders, err := h.service.ListOrders(r.Context(), query)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func statusFor(err error) int {
	var validationErr *events.ValidationError
	switch {
	case errors.Is(err, domain.ErrValidation), errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ports.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, commands.ErrPublishRequired):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
