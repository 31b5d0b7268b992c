package sellers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fast-fab/Seller-service/internal/httputil"
)

// Handlers exposes the seller mutations that feed the order pipeline.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// RegisterRoutes wires the seller endpoints. The router is expected to run
// the auth and ownership middleware for {id}.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/sellers/{id}/products/{productId}/stock", h.UpdateStock).Methods("PATCH")
	r.HandleFunc("/api/sellers/{id}/status", h.UpdateStatus).Methods("PATCH")
	r.HandleFunc("/api/sellers/{id}/device-token", h.UpdateDeviceToken).Methods("PUT")
}

// UpdateStock handles PATCH /api/sellers/{id}/products/{productId}/stock
func (h *Handlers) UpdateStock(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		Stock *int `json:"stock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stock == nil {
		httputil.WriteError(w, http.StatusBadRequest, "stock must be a non-negative number")
		return
	}

	if err := h.svc.UpdateStock(r.Context(), vars["id"], vars["productId"], *req.Stock); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"productId": vars["productId"],
		"stock":     *req.Stock,
	})
}

// UpdateStatus handles PATCH /api/sellers/{id}/status
func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		IsActive *bool `json:"isActive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		httputil.WriteError(w, http.StatusBadRequest, "isActive is required")
		return
	}

	if err := h.svc.SetActive(r.Context(), id, *req.IsActive); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":       id,
		"isActive": *req.IsActive,
	})
}

// UpdateDeviceToken handles PUT /api/sellers/{id}/device-token
func (h *Handlers) UpdateDeviceToken(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		DeviceToken string `json:"deviceToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.SetDeviceToken(r.Context(), id, req.DeviceToken); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
