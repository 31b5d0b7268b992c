package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/fast-fab/Seller-service/internal/auth"
	"github.com/fast-fab/Seller-service/internal/httputil"
)

// Reader is the read side of Store used by the HTTP API.
type Reader interface {
	ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]Notification, int, error)
	ListStatus(ctx context.Context, orderID, sellerID string) ([]OrderStatus, error)
}

type Responder interface {
	RecordResponse(ctx context.Context, orderID, sellerID string, accepted bool, reason string) (*OrderResponse, error)
}

// Handlers provides HTTP handlers for seller notifications and responses.
type Handlers struct {
	reader    Reader
	responder Responder
}

// NewHandlers creates a new Handlers.
func NewHandlers(reader Reader, responder Responder) *Handlers {
	return &Handlers{reader: reader, responder: responder}
}

// RegisterRoutes wires the endpoints onto a router that already runs the
// auth middleware.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/sellers/me/notifications", h.ListNotifications).Methods("GET")
	r.HandleFunc("/api/orders/{orderId}/responses", h.SubmitResponse).Methods("POST")
	r.HandleFunc("/api/orders/{orderId}/status", h.OrderStatus).Methods("GET")
}

// ListNotifications handles GET /api/sellers/me/notifications
func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	sellerID := auth.SellerIDFromContext(r.Context())
	if sellerID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	notifications, total, err := h.reader.ListBySeller(r.Context(), sellerID, limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

// SubmitResponse handles POST /api/orders/{orderId}/responses
func (h *Handlers) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	sellerID := auth.SellerIDFromContext(r.Context())
	if sellerID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Accepted *bool  `json:"accepted"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Accepted == nil {
		httputil.WriteError(w, http.StatusBadRequest, "accepted is required")
		return
	}

	resp, err := h.responder.RecordResponse(r.Context(), mux.Vars(r)["orderId"], sellerID, *req.Accepted, req.Reason)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, resp)
}

// OrderStatus handles GET /api/orders/{orderId}/status. A seller only sees
// its own row.
func (h *Handlers) OrderStatus(w http.ResponseWriter, r *http.Request) {
	sellerID := auth.SellerIDFromContext(r.Context())
	if sellerID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orderID := mux.Vars(r)["orderId"]
	statuses, err := h.reader.ListStatus(r.Context(), orderID, sellerID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if len(statuses) == 0 {
		httputil.WriteError(w, http.StatusNotFound, "no status for this order")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"orderId":  orderID,
		"statuses": statuses,
	})
}
