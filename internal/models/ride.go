package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Ride status constants
const (
	RideStatusOpen             = "open"
	RideStatusMatched          = "matched"
	RideStatusEnRoutePickup    = "en_route_pickup"
	RideStatusArrived          = "arrived"
	RideStatusLoading          = "loading"
	RideStatusEnRouteDropoff   = "en_route_dropoff"
	RideStatusCompleted        = "completed"
	RideStatusCancelled        = "cancelled"
	RideStatusRejectedByClient = "rejected_by_client"
)

// Valid ride state transitions. Loading is folded into pickup confirmation,
// so arrived moves straight to en_route_dropoff when the pickup code matches.
var ValidRideTransitions = map[string][]string{
	RideStatusOpen:             {RideStatusMatched, RideStatusCancelled, RideStatusRejectedByClient},
	RideStatusMatched:          {RideStatusEnRoutePickup, RideStatusCancelled, RideStatusOpen},
	RideStatusEnRoutePickup:    {RideStatusArrived, RideStatusCancelled, RideStatusOpen},
	RideStatusArrived:          {RideStatusLoading, RideStatusEnRouteDropoff, RideStatusOpen},
	RideStatusLoading:          {RideStatusEnRouteDropoff},
	RideStatusEnRouteDropoff:   {RideStatusCompleted},
	RideStatusCompleted:        {},
	RideStatusCancelled:        {},
	RideStatusRejectedByClient: {},
}

// DriverHeldStatuses are the statuses in which a ride carries a driver.
var DriverHeldStatuses = []string{
	RideStatusMatched,
	RideStatusEnRoutePickup,
	RideStatusArrived,
	RideStatusLoading,
	RideStatusEnRouteDropoff,
}

// Payment methods
const (
	PaymentMethodCash       = "cash"
	PaymentMethodElectronic = "electronic"
)

// Cancelling parties
const (
	CancelledByClient = "client"
	CancelledByDriver = "driver"
	CancelledBySystem = "system"
)

type Location struct {
	Lat     float64 `json:"lat" validate:"latitude"`
	Lng     float64 `json:"lng" validate:"longitude"`
	Address string  `json:"address,omitempty" validate:"max=255"`
}

// RideItem is one catalog line on a ride, with the unit price captured at creation.
type RideItem struct {
	CatalogItemID string          `json:"catalog_item_id"`
	Name          string          `json:"name"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
}

// RideItems is stored as a jsonb column.
type RideItems []RideItem

func (i RideItems) Value() (driver.Value, error) {
	if i == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(i)
}

func (i *RideItems) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = RideItems{}
		return nil
	case []byte:
		return json.Unmarshal(v, i)
	case string:
		return json.Unmarshal([]byte(v), i)
	default:
		return errors.New("unsupported type for ride items")
	}
}

type Ride struct {
	ID                 string              `db:"id" json:"id"`
	ClientID           string              `db:"client_id" json:"client_id"`
	DriverID           *string             `db:"driver_id" json:"driver_id,omitempty"`
	BairroID           string              `db:"bairro_id" json:"bairro_id"`
	Status             string              `db:"status" json:"status"`
	PickupLat          float64             `db:"pickup_lat" json:"pickup_lat"`
	PickupLng          float64             `db:"pickup_lng" json:"pickup_lng"`
	PickupAddress      string              `db:"pickup_address" json:"pickup_address"`
	DropoffLat         float64             `db:"dropoff_lat" json:"dropoff_lat"`
	DropoffLng         float64             `db:"dropoff_lng" json:"dropoff_lng"`
	DropoffAddress     string              `db:"dropoff_address" json:"dropoff_address"`
	DistanceKm         decimal.Decimal     `db:"distance_km" json:"distance_km"`
	DurationMin        int                 `db:"duration_min" json:"duration_min"`
	Items              RideItems           `db:"items" json:"items"`
	ItemsTotal         decimal.Decimal     `db:"items_total" json:"items_total"`
	DistanceTotal      decimal.Decimal     `db:"distance_total" json:"distance_total"`
	HelperTotal        decimal.Decimal     `db:"helper_total" json:"helper_total"`
	HelperRequested    bool                `db:"helper_requested" json:"helper_requested"`
	SurgeMultiplier    decimal.Decimal     `db:"surge_multiplier" json:"surge_multiplier"`
	PaymentMethod      string              `db:"payment_method" json:"payment_method"`
	QuotedTotal        decimal.Decimal     `db:"quoted_total" json:"quoted_total"`
	CounterOfferAmount decimal.NullDecimal `db:"counter_offer_amount" json:"counter_offer_amount"`
	PlatformFee        decimal.NullDecimal `db:"platform_fee" json:"-"`
	PickupCode         *string             `db:"pickup_code" json:"-"`
	DeliveryCode       *string             `db:"delivery_code" json:"-"`
	CancelledBy        *string             `db:"cancelled_by" json:"cancelled_by,omitempty"`
	DriverName         *string             `db:"driver_name" json:"driver_name,omitempty"`
	DriverRating       *float64            `db:"driver_rating" json:"driver_rating,omitempty"`
	DriverVehicle      *string             `db:"driver_vehicle" json:"driver_vehicle,omitempty"`
	CompletedBy        *string             `db:"completed_by" json:"completed_by,omitempty"`
	Version            int                 `db:"version" json:"version"`
	OpenedAt           time.Time           `db:"opened_at" json:"opened_at"`
	MatchedAt          *time.Time          `db:"matched_at" json:"matched_at,omitempty"`
	CompletedAt        *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt        *time.Time          `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updated_at"`
}

type CreateRideItemRequest struct {
	CatalogItemID string `json:"catalog_item_id" validate:"required"`
	Quantity      int    `json:"quantity" validate:"required,min=1,max=100"`
}

type CreateRideRequest struct {
	ClientID        string                  `json:"client_id" validate:"required"`
	BairroID        string                  `json:"bairro_id" validate:"required"`
	Pickup          Location                `json:"pickup" validate:"required"`
	Dropoff         Location                `json:"dropoff" validate:"required"`
	DistanceKm      float64                 `json:"distance_km" validate:"gt=0,lte=500"`
	DurationMin     int                     `json:"duration_min" validate:"gte=0"`
	Items           []CreateRideItemRequest `json:"items" validate:"dive"`
	PaymentMethod   string                  `json:"payment_method" validate:"required,oneof=cash electronic"`
	HelperRequested bool                    `json:"helper_requested"`
}

// RideResponse is the client's view of a ride. Handoff codes are only shown
// while their phase is active.
type RideResponse struct {
	*Ride
	PickupCode   *string `json:"pickup_code,omitempty"`
	DeliveryCode *string `json:"delivery_code,omitempty"`
}

// RideSummary is what the dispatch selector hands to drivers.
type RideSummary struct {
	ID              string          `json:"id"`
	BairroID        string          `json:"bairro_id"`
	PickupAddress   string          `json:"pickup_address"`
	DropoffAddress  string          `json:"dropoff_address"`
	PickupLat       float64         `json:"pickup_lat"`
	PickupLng       float64         `json:"pickup_lng"`
	DistanceKm      decimal.Decimal `json:"distance_km"`
	DurationMin     int             `json:"duration_min"`
	Items           RideItems       `json:"items"`
	HelperRequested bool            `json:"helper_requested"`
	PaymentMethod   string          `json:"payment_method"`
	QuotedTotal     decimal.Decimal `json:"quoted_total"`
	OpenedAt        time.Time       `json:"opened_at"`
}

// AcceptResult is the outcome of a successful acceptance.
type AcceptResult struct {
	OK         bool            `json:"ok"`
	FeeCharged decimal.Decimal `json:"fee_charged"`
	Ride       *Ride           `json:"ride"`
}

// TransitionResult wraps the ride after any other successful transition.
type TransitionResult struct {
	OK   bool  `json:"ok"`
	Ride *Ride `json:"ride"`
}

func (r *Ride) ToResponse() *RideResponse {
	resp := &RideResponse{Ride: r}
	switch r.Status {
	case RideStatusArrived:
		resp.PickupCode = r.PickupCode
	case RideStatusLoading, RideStatusEnRouteDropoff:
		resp.DeliveryCode = r.DeliveryCode
	}
	return resp
}

// ToDriverResponse is the assigned driver's view. The driver learns each
// code only from the client, so neither is ever included.
func (r *Ride) ToDriverResponse() *RideResponse {
	return &RideResponse{Ride: r}
}

func (r *Ride) ToSummary() RideSummary {
	return RideSummary{
		ID:              r.ID,
		BairroID:        r.BairroID,
		PickupAddress:   r.PickupAddress,
		DropoffAddress:  r.DropoffAddress,
		PickupLat:       r.PickupLat,
		PickupLng:       r.PickupLng,
		DistanceKm:      r.DistanceKm,
		DurationMin:     r.DurationMin,
		Items:           r.Items,
		HelperRequested: r.HelperRequested,
		PaymentMethod:   r.PaymentMethod,
		QuotedTotal:     r.QuotedTotal,
		OpenedAt:        r.OpenedAt,
	}
}

// CanTransitionTo reports whether newStatus is reachable from the current
// status in one step.
func (r *Ride) CanTransitionTo(newStatus string) bool {
	return ContainsStatus(ValidRideTransitions[r.Status], newStatus)
}

// HoldsDriver reports whether the status is one where a driver is assigned.
func (r *Ride) HoldsDriver() bool {
	return ContainsStatus(DriverHeldStatuses, r.Status)
}

// IsTerminal returns true once the ride can no longer change
func (r *Ride) IsTerminal() bool {
	return r.Status == RideStatusCompleted ||
		r.Status == RideStatusCancelled ||
		r.Status == RideStatusRejectedByClient
}

// IsExpired reports whether an open ride has outlived its matching window.
func (r *Ride) IsExpired(now time.Time, timeout time.Duration) bool {
	return r.Status == RideStatusOpen && now.Sub(r.OpenedAt) > timeout
}

// IsAssignedTo reports whether driverID currently holds the ride.
func (r *Ride) IsAssignedTo(driverID string) bool {
	return r.DriverID != nil && *r.DriverID == driverID
}

// BaseTotal is the quote without any negotiated override.
func (r *Ride) BaseTotal() decimal.Decimal {
	return r.ItemsTotal.Add(r.DistanceTotal).Add(r.HelperTotal)
}

func ContainsStatus(statuses []string, status string) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
