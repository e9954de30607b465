package handler

import (
	"net/http"

	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/service"
	"github.com/carreto/dispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type DriverHandler struct {
	driverService service.DriverService
	rideService   service.RideService
	validate      *validator.Validate
}

func NewDriverHandler(driverService service.DriverService, rideService service.RideService) *DriverHandler {
	return &DriverHandler{
		driverService: driverService,
		rideService:   rideService,
		validate:      validator.New(),
	}
}

func (h *DriverHandler) RegisterRoutes(r chi.Router) {
	r.Post("/drivers", h.RegisterDriver)
	r.Get("/drivers/{id}", h.GetDriver)
	r.Post("/drivers/{id}/heartbeat", h.Heartbeat)
	r.Post("/drivers/{id}/offline", h.GoOffline)
	r.Get("/drivers/{id}/presence", h.Presence)
	r.Get("/drivers/{id}/active-ride", h.ActiveRide)
}

// POST /v1/drivers
func (h *DriverHandler) RegisterDriver(w http.ResponseWriter, r *http.Request) {
	var req models.CreateDriverRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	driver, err := h.driverService.RegisterDriver(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Created(w, driver)
}

// GET /v1/drivers/{id}
func (h *DriverHandler) GetDriver(w http.ResponseWriter, r *http.Request) {
	driver, err := h.driverService.GetDriver(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, driver)
}

// POST /v1/drivers/{id}/heartbeat
func (h *DriverHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req models.HeartbeatRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	presence, err := h.driverService.Heartbeat(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, map[string]interface{}{
		"status":   "online",
		"presence": presence,
	})
}

// POST /v1/drivers/{id}/offline
func (h *DriverHandler) GoOffline(w http.ResponseWriter, r *http.Request) {
	if err := h.driverService.GoOffline(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, map[string]string{
		"status": "offline",
	})
}

// GET /v1/drivers/{id}/presence
func (h *DriverHandler) Presence(w http.ResponseWriter, r *http.Request) {
	driverID := chi.URLParam(r, "id")
	if _, err := h.driverService.GetDriver(r.Context(), driverID); err != nil {
		handleError(w, err)
		return
	}

	online, err := h.driverService.IsOnline(r.Context(), driverID)
	if err != nil {
		handleError(w, err)
		return
	}

	status := models.DriverStatusOffline
	if online {
		status = models.DriverStatusOnline
	}
	utils.Success(w, http.StatusOK, map[string]string{
		"driver_id": driverID,
		"status":    status,
	})
}

// GET /v1/drivers/{id}/active-ride
func (h *DriverHandler) ActiveRide(w http.ResponseWriter, r *http.Request) {
	ride, err := h.rideService.ActiveRideForDriver(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, ride)
}
