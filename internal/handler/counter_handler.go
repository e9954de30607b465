package handler

import (
	"net/http"

	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/service"
	"github.com/carreto/dispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type CounterHandler struct {
	negotiationService service.NegotiationService
	validate           *validator.Validate
}

func NewCounterHandler(negotiationService service.NegotiationService) *CounterHandler {
	return &CounterHandler{
		negotiationService: negotiationService,
		validate:           validator.New(),
	}
}

func (h *CounterHandler) RegisterRoutes(r chi.Router) {
	r.Post("/rides/{id}/counters", h.ProposeCounter)
	r.Get("/rides/{id}/counters", h.ListCounters)
	r.Post("/rides/{id}/counters/{cid}/accept", h.AcceptCounter)
	r.Post("/rides/{id}/counters/{cid}/reject", h.RejectCounter)
	r.Post("/rides/{id}/counters/{cid}/withdraw", h.WithdrawCounter)
}

// POST /v1/rides/{id}/counters
func (h *CounterHandler) ProposeCounter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !rideIDParam(w, id) {
		return
	}
	var req models.ProposeCounterRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	offer, err := h.negotiationService.ProposeCounter(r.Context(), id, req.DriverID, decimal.NewFromFloat(req.Amount))
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Created(w, offer)
}

// GET /v1/rides/{id}/counters?client_id=
func (h *CounterHandler) ListCounters(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !rideIDParam(w, id) {
		return
	}
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		utils.BadRequest(w, "client_id query parameter is required")
		return
	}

	offers, err := h.negotiationService.ListCounters(r.Context(), id, clientID)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, map[string]interface{}{"counters": offers})
}

// POST /v1/rides/{id}/counters/{cid}/accept
func (h *CounterHandler) AcceptCounter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !rideIDParam(w, id) {
		return
	}
	var req models.ResolveCounterRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	result, err := h.negotiationService.AcceptCounter(r.Context(), id, chi.URLParam(r, "cid"), req.ClientID)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, result)
}

// POST /v1/rides/{id}/counters/{cid}/reject
func (h *CounterHandler) RejectCounter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !rideIDParam(w, id) {
		return
	}
	var req models.ResolveCounterRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	offer, err := h.negotiationService.RejectCounter(r.Context(), id, chi.URLParam(r, "cid"), req.ClientID)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, offer)
}

// POST /v1/rides/{id}/counters/{cid}/withdraw
func (h *CounterHandler) WithdrawCounter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !rideIDParam(w, id) {
		return
	}
	var req models.WithdrawCounterRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	offer, err := h.negotiationService.WithdrawCounter(r.Context(), id, chi.URLParam(r, "cid"), req.DriverID)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, offer)
}
