package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Counter-offer status constants
const (
	OfferStatusPending    = "pending"
	OfferStatusAccepted   = "accepted"
	OfferStatusRejected   = "rejected"
	OfferStatusSuperseded = "superseded"
	OfferStatusWithdrawn  = "withdrawn"
)

// CounterOffer is a driver's alternative price for an open ride. Driver
// display fields are captured when the offer is made.
type CounterOffer struct {
	ID            string          `db:"id" json:"id"`
	RideID        string          `db:"ride_id" json:"ride_id"`
	DriverID      string          `db:"driver_id" json:"driver_id"`
	DriverName    string          `db:"driver_name" json:"driver_name"`
	DriverRating  float64         `db:"driver_rating" json:"driver_rating"`
	DriverVehicle string          `db:"driver_vehicle" json:"driver_vehicle"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Status        string          `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	ResolvedAt    *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
}

type ProposeCounterRequest struct {
	DriverID string  `json:"driver_id" validate:"required"`
	Amount   float64 `json:"amount" validate:"gt=0,lte=100000"`
}

type ResolveCounterRequest struct {
	ClientID string `json:"client_id" validate:"required"`
}

type WithdrawCounterRequest struct {
	DriverID string `json:"driver_id" validate:"required"`
}

func (o *CounterOffer) IsPending() bool {
	return o.Status == OfferStatusPending
}
