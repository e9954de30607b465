package handler

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/carreto/dispatch/internal/errors"
	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/payments"
	"github.com/carreto/dispatch/internal/service"
	"github.com/carreto/dispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// RechargeCreator opens a card payment for a wallet top-up.
type RechargeCreator interface {
	CreateRecharge(ctx context.Context, driverID string, amount decimal.Decimal) (*payments.RechargeIntent, error)
}

type WalletHandler struct {
	walletService service.WalletService
	driverService service.DriverService
	recharges     RechargeCreator
	validate      *validator.Validate
}

func NewWalletHandler(walletService service.WalletService, driverService service.DriverService, recharges RechargeCreator) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		driverService: driverService,
		recharges:     recharges,
		validate:      validator.New(),
	}
}

func (h *WalletHandler) RegisterRoutes(r chi.Router) {
	r.Get("/drivers/{id}/wallet", h.GetWallet)
	r.Get("/drivers/{id}/wallet/entries", h.ListEntries)
	r.Get("/drivers/{id}/wallet/reconcile", h.Reconcile)
	r.Post("/drivers/{id}/wallet/adjust", h.Adjust)
	r.Post("/drivers/{id}/wallet/recharge", h.Recharge)
}

// GET /v1/drivers/{id}/wallet
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	balance, err := h.walletService.GetBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, balance)
}

// GET /v1/drivers/{id}/wallet/entries?page=&page_size=
func (h *WalletHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	entries, err := h.walletService.ListEntries(r.Context(), chi.URLParam(r, "id"), page, pageSize)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, entries)
}

// GET /v1/drivers/{id}/wallet/reconcile
func (h *WalletHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.walletService.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, rec)
}

// POST /v1/drivers/{id}/wallet/adjust
func (h *WalletHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req models.AdjustWalletRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	entry, err := h.walletService.Adjust(r.Context(), chi.URLParam(r, "id"), decimal.NewFromFloat(req.Amount), req.Note)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Created(w, entry)
}

// POST /v1/drivers/{id}/wallet/recharge
//
// Only opens the PaymentIntent. The credit lands when Stripe confirms it on
// the webhook.
func (h *WalletHandler) Recharge(w http.ResponseWriter, r *http.Request) {
	var req models.RechargeRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}
	driverID := chi.URLParam(r, "id")
	if _, err := h.driverService.GetDriver(r.Context(), driverID); err != nil {
		handleError(w, err)
		return
	}

	intent, err := h.recharges.CreateRecharge(r.Context(), driverID, decimal.NewFromFloat(req.Amount))
	if err != nil {
		if errors.Is(err, payments.ErrNotConfigured) {
			utils.Error(w, apperrors.Upstream("payments", err))
			return
		}
		handleError(w, apperrors.Upstream("stripe", err))
		return
	}

	utils.Created(w, intent)
}
