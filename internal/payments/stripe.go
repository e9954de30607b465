// Package payments talks to Stripe for driver wallet top-ups. A driver asks
// for a recharge, pays the PaymentIntent in the app, and the
// payment_intent.succeeded webhook credits the wallet.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/webhook"
)

const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	metadataDriverID      = "driver_id"
	metadataPurpose       = "purpose"
	purposeRecharge       = "wallet_recharge"
)

var (
	ErrIgnoredEvent     = errors.New("event does not confirm a recharge")
	ErrMissingDriver    = errors.New("payment intent has no driver_id metadata")
	ErrNotConfigured    = errors.New("stripe is not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Recharge is a confirmed top-up ready to be credited.
type Recharge struct {
	DriverID   string
	Amount     decimal.Decimal
	PaymentRef string
}

// RechargeIntent is what the app needs to collect a top-up.
type RechargeIntent struct {
	PaymentIntentID string          `json:"payment_intent_id"`
	ClientSecret    string          `json:"client_secret"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

type StripeClient struct {
	apiKey        string
	webhookSecret string
	currency      string
}

func NewStripeClient(apiKey, webhookSecret, currency string) *StripeClient {
	if apiKey != "" {
		stripe.Key = apiKey
	}
	return &StripeClient{apiKey: apiKey, webhookSecret: webhookSecret, currency: currency}
}

// CreateRecharge opens a PaymentIntent tagged with the driver, charged in
// the smallest currency unit.
func (s *StripeClient) CreateRecharge(ctx context.Context, driverID string, amount decimal.Decimal) (*RechargeIntent, error) {
	if s.apiKey == "" {
		return nil, ErrNotConfigured
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount.Shift(2).Round(0).IntPart()),
		Currency: stripe.String(s.currency),
	}
	params.Context = ctx
	params.AddMetadata(metadataDriverID, driverID)
	params.AddMetadata(metadataPurpose, purposeRecharge)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &RechargeIntent{
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		Amount:          decimal.New(pi.Amount, -2),
		Currency:        string(pi.Currency),
	}, nil
}

// ParseRecharge verifies the webhook signature and extracts the top-up.
// Events other than payment_intent.succeeded return ErrIgnoredEvent.
func (s *StripeClient) ParseRecharge(payload []byte, signature string) (*Recharge, error) {
	if s.webhookSecret == "" {
		return nil, ErrNotConfigured
	}
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if string(event.Type) != EventPaymentSucceeded || event.Data == nil {
		return nil, ErrIgnoredEvent
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	driverID := pi.Metadata[metadataDriverID]
	if driverID == "" {
		return nil, ErrMissingDriver
	}
	if pi.Amount <= 0 {
		return nil, fmt.Errorf("payment intent %s has no amount", pi.ID)
	}
	return &Recharge{
		DriverID:   driverID,
		Amount:     decimal.New(pi.Amount, -2),
		PaymentRef: pi.ID,
	}, nil
}
