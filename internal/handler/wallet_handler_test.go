package handler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/payments"
	"github.com/carreto/dispatch/internal/service"
	"github.com/shopspring/decimal"
)

func TestWalletEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.fund("d1", 30)

	rec := s.do(http.MethodPost, "/v1/drivers/d1/wallet/adjust", map[string]interface{}{"amount": 12.5, "note": "goodwill"})
	wantStatus(t, rec, http.StatusCreated)
	var entry models.LedgerEntry
	decode(t, rec, &entry)
	if entry.Reason != models.ReasonAdjustment || entry.Note == nil || *entry.Note != "goodwill" {
		t.Errorf("adjust entry = %+v", entry)
	}
	wantStatus(t, s.do(http.MethodPost, "/v1/drivers/d1/wallet/adjust", map[string]interface{}{"amount": 5}), http.StatusBadRequest)

	rec = s.do(http.MethodGet, "/v1/drivers/d1/wallet", nil)
	wantStatus(t, rec, http.StatusOK)
	var balance models.BalanceResponse
	decode(t, rec, &balance)
	if !balance.Balance.Equal(decimal.RequireFromString("42.5")) {
		t.Errorf("balance = %s, want 42.5", balance.Balance)
	}

	rec = s.do(http.MethodGet, "/v1/drivers/d1/wallet/entries?page=1&page_size=1", nil)
	wantStatus(t, rec, http.StatusOK)
	var page models.LedgerPage
	decode(t, rec, &page)
	if len(page.Entries) != 1 || page.PageSize != 1 {
		t.Errorf("page = %+v", page)
	}

	rec = s.do(http.MethodGet, "/v1/drivers/d1/wallet/reconcile", nil)
	wantStatus(t, rec, http.StatusOK)
	var recon models.Reconciliation
	decode(t, rec, &recon)
	if !recon.Consistent {
		t.Errorf("reconciliation = %+v", recon)
	}
}

func TestWalletRecharge(t *testing.T) {
	s := newTestServer(t)

	s.payments.intent = &payments.RechargeIntent{PaymentIntentID: "pi_1", ClientSecret: "secret", Amount: decimal.NewFromInt(50), Currency: "brl"}
	rec := s.do(http.MethodPost, "/v1/drivers/d1/wallet/recharge", map[string]float64{"amount": 50})
	wantStatus(t, rec, http.StatusCreated)
	var intent payments.RechargeIntent
	decode(t, rec, &intent)
	if intent.PaymentIntentID != "pi_1" {
		t.Errorf("intent = %+v", intent)
	}

	wantStatus(t, s.do(http.MethodPost, "/v1/drivers/ghost/wallet/recharge", map[string]float64{"amount": 50}), http.StatusNotFound)
	wantStatus(t, s.do(http.MethodPost, "/v1/drivers/d1/wallet/recharge", map[string]float64{"amount": 9000}), http.StatusBadRequest)

	s.payments.err = payments.ErrNotConfigured
	wantStatus(t, s.do(http.MethodPost, "/v1/drivers/d1/wallet/recharge", map[string]float64{"amount": 50}), http.StatusServiceUnavailable)
}

func TestStripeWebhook(t *testing.T) {
	tests := []struct {
		name     string
		recharge *payments.Recharge
		err      error
		status   int
		balance  int64
	}{
		{"recharge applied", &payments.Recharge{DriverID: "d1", Amount: decimal.NewFromInt(40), PaymentRef: "pi_1"}, nil, http.StatusOK, 40},
		{"other event", nil, payments.ErrIgnoredEvent, http.StatusOK, 0},
		{"no driver metadata", nil, payments.ErrMissingDriver, http.StatusOK, 0},
		{"bad signature", nil, payments.ErrInvalidSignature, http.StatusBadRequest, 0},
		{"not configured", nil, payments.ErrNotConfigured, http.StatusServiceUnavailable, 0},
		{"decode failure", nil, errors.New("decode payment intent: eof"), http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.payments.recharge, s.payments.err = tt.recharge, tt.err

			wantStatus(t, s.do(http.MethodPost, "/webhooks/stripe", map[string]string{"id": "evt_1"}), tt.status)
			rec := s.do(http.MethodGet, "/v1/drivers/d1/wallet", nil)
			var balance models.BalanceResponse
			decode(t, rec, &balance)
			if !balance.Balance.Equal(decimal.NewFromInt(tt.balance)) {
				t.Errorf("balance = %s, want %d", balance.Balance, tt.balance)
			}
		})
	}
}

func TestStripeWebhookRedeliveryIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	s.payments.recharge = &payments.Recharge{DriverID: "d1", Amount: decimal.NewFromInt(40), PaymentRef: "pi_9"}

	var results []service.RechargeResult
	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodPost, "/webhooks/stripe", map[string]string{"id": "evt_9"})
		wantStatus(t, rec, http.StatusOK)
		var res service.RechargeResult
		decode(t, rec, &res)
		results = append(results, res)
	}
	if !results[0].Applied || results[1].Applied {
		t.Errorf("applied = %v then %v, want true then false", results[0].Applied, results[1].Applied)
	}
	if !results[1].Balance.Equal(decimal.NewFromInt(40)) {
		t.Errorf("balance after redelivery = %s, want 40", results[1].Balance)
	}
}
