package handler

import (
	"context"
	"net/http"

	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/service"
	"github.com/carreto/dispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type RideHandler struct {
	rideService     service.RideService
	dispatchService service.DispatchService
	validate        *validator.Validate
}

func NewRideHandler(rideService service.RideService, dispatchService service.DispatchService) *RideHandler {
	return &RideHandler{
		rideService:     rideService,
		dispatchService: dispatchService,
		validate:        validator.New(),
	}
}

func (h *RideHandler) RegisterRoutes(r chi.Router) {
	r.Post("/rides", h.CreateRide)
	r.Get("/rides", h.ListRidesForDriver)
	r.Get("/rides/{id}", h.GetRide)
	r.Get("/clients/{id}/rides", h.ListClientRides)
	r.Post("/rides/{id}/accept", h.AcceptRide)
	r.Post("/rides/{id}/start", h.StartPickup)
	r.Post("/rides/{id}/arrive", h.ArriveAtPickup)
	r.Post("/rides/{id}/pickup", h.ConfirmPickup)
	r.Post("/rides/{id}/delivery", h.ConfirmDelivery)
	r.Post("/rides/{id}/cancel", h.CancelRide)
	r.Post("/rides/{id}/reject", h.RejectRide)
}

// POST /v1/rides
func (h *RideHandler) CreateRide(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRideRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	ride, err := h.rideService.CreateRide(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Created(w, ride.ToResponse())
}

// GET /v1/rides?driver=<id>&exclude=a,b
func (h *RideHandler) ListRidesForDriver(w http.ResponseWriter, r *http.Request) {
	driverID := r.URL.Query().Get("driver")
	if driverID == "" {
		utils.BadRequest(w, "driver query parameter is required")
		return
	}

	rides, err := h.dispatchService.ListRidesForDriver(r.Context(), driverID, splitList(r.URL.Query().Get("exclude")))
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, map[string]interface{}{"rides": rides})
}

// GET /v1/rides/{id}
func (h *RideHandler) GetRide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !rideIDParam(w, id) {
		return
	}

	ride, err := h.rideService.GetRide(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, ride)
}

// GET /v1/clients/{id}/rides?page=&page_size=
func (h *RideHandler) ListClientRides(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")
	page, pageSize := pageParams(r)

	rides, err := h.rideService.ListClientRides(r.Context(), clientID, page, pageSize)
	if err != nil {
		handleError(w, err)
		return
	}

	out := make([]*models.RideResponse, 0, len(rides))
	for _, ride := range rides {
		out = append(out, ride.ToResponse())
	}
	utils.Success(w, http.StatusOK, map[string]interface{}{"rides": out})
}

// POST /v1/rides/{id}/accept
func (h *RideHandler) AcceptRide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !rideIDParam(w, id) {
		return
	}
	var req models.DriverActionRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	result, err := h.rideService.AcceptRide(r.Context(), id, req.DriverID)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, result)
}

// POST /v1/rides/{id}/start
func (h *RideHandler) StartPickup(w http.ResponseWriter, r *http.Request) {
	h.driverStep(w, r, h.rideService.StartPickup)
}

// POST /v1/rides/{id}/arrive
func (h *RideHandler) ArriveAtPickup(w http.ResponseWriter, r *http.Request) {
	h.driverStep(w, r, h.rideService.ArriveAtPickup)
}

// POST /v1/rides/{id}/pickup
func (h *RideHandler) ConfirmPickup(w http.ResponseWriter, r *http.Request) {
	h.codeStep(w, r, h.rideService.ConfirmPickupCode)
}

// POST /v1/rides/{id}/delivery
func (h *RideHandler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	h.codeStep(w, r, h.rideService.ConfirmDeliveryCode)
}

// POST /v1/rides/{id}/cancel
func (h *RideHandler) CancelRide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !rideIDParam(w, id) {
		return
	}
	var req models.CancelRideRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	var (
		result *models.TransitionResult
		err    error
	)
	if req.ClientID != "" {
		result, err = h.rideService.CancelByClient(r.Context(), id, req.ClientID)
	} else {
		result, err = h.rideService.CancelByDriver(r.Context(), id, req.DriverID)
	}
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, result)
}

// POST /v1/rides/{id}/reject
func (h *RideHandler) RejectRide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !rideIDParam(w, id) {
		return
	}
	var req models.ClientActionRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	result, err := h.rideService.RejectByClient(r.Context(), id, req.ClientID)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, result)
}

type transition func(ctx context.Context, rideID, actor string) (*models.TransitionResult, error)

func (h *RideHandler) driverStep(w http.ResponseWriter, r *http.Request, step transition) {
	id := chi.URLParam(r, "id")
	if !rideIDParam(w, id) {
		return
	}
	var req models.DriverActionRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	result, err := step(r.Context(), id, req.DriverID)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, result)
}

func (h *RideHandler) codeStep(w http.ResponseWriter, r *http.Request, step transition) {
	id := chi.URLParam(r, "id")
	if !rideIDParam(w, id) {
		return
	}
	var req models.CodeRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	result, err := step(r.Context(), id, req.Code)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, result)
}
