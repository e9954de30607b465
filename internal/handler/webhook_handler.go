package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/carreto/dispatch/internal/payments"
	"github.com/carreto/dispatch/internal/service"
	"github.com/carreto/dispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
)

const maxWebhookBody = 64 << 10

// RechargeParser turns a signed webhook delivery into a confirmed top-up.
type RechargeParser interface {
	ParseRecharge(payload []byte, signature string) (*payments.Recharge, error)
}

type WebhookHandler struct {
	walletService service.WalletService
	parser        RechargeParser
	logger        *slog.Logger
}

func NewWebhookHandler(walletService service.WalletService, parser RechargeParser, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		walletService: walletService,
		parser:        parser,
		logger:        logger,
	}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Stripe)
}

// POST /webhooks/stripe
//
// Stripe retries anything that is not 2xx, so only signature and decoding
// problems are refused. Redeliveries are absorbed by ApplyRecharge.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		utils.BadRequest(w, "unreadable body")
		return
	}

	recharge, err := h.parser.ParseRecharge(payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payments.ErrIgnoredEvent):
		utils.Success(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case errors.Is(err, payments.ErrMissingDriver):
		h.logger.Warn("stripe payment without driver", "error", err)
		utils.Success(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case errors.Is(err, payments.ErrNotConfigured):
		utils.JSON(w, http.StatusServiceUnavailable, map[string]string{"error": "webhooks not configured"})
		return
	case err != nil:
		h.logger.Warn("rejected stripe webhook", "error", err)
		utils.BadRequest(w, "invalid webhook")
		return
	}

	result, err := h.walletService.ApplyRecharge(r.Context(), recharge.DriverID, recharge.Amount, recharge.PaymentRef)
	if err != nil {
		handleError(w, err)
		return
	}

	h.logger.Info("wallet recharge",
		"driver_id", recharge.DriverID,
		"payment_ref", recharge.PaymentRef,
		"amount", recharge.Amount.StringFixed(2),
		"applied", result.Applied,
	)
	utils.Success(w, http.StatusOK, result)
}
