package models

import (
	"time"
)

// Presence status constants
const (
	DriverStatusOffline = "offline"
	DriverStatusOnline  = "online"
)

// Driver is the durable driver profile. Dispatch reads BairroID; offers and
// matches snapshot the display fields.
type Driver struct {
	ID        string    `db:"id" json:"id"`
	BairroID  string    `db:"bairro_id" json:"bairro_id"`
	Name      string    `db:"name" json:"name"`
	Phone     string    `db:"phone" json:"phone"`
	Vehicle   string    `db:"vehicle" json:"vehicle"`
	Rating    float64   `db:"rating" json:"rating"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Presence is the ephemeral online record of a driver. It lives only in the
// presence cache and disappears when heartbeats stop.
type Presence struct {
	DriverID  string    `json:"driver_id"`
	BairroID  string    `json:"bairro_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Heading   float64   `json:"heading,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateDriverRequest registers a driver. ID is the opaque identity id and
// is generated when empty.
type CreateDriverRequest struct {
	ID       string `json:"id,omitempty" validate:"omitempty,max=64"`
	BairroID string `json:"bairro_id" validate:"required"`
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Phone    string `json:"phone" validate:"required,e164"`
	Vehicle  string `json:"vehicle" validate:"required,max=100"`
}

type HeartbeatRequest struct {
	Lat     float64  `json:"lat" validate:"latitude"`
	Lng     float64  `json:"lng" validate:"longitude"`
	Heading *float64 `json:"heading,omitempty" validate:"omitempty,gte=0,lt=360"`
	Speed   *float64 `json:"speed,omitempty" validate:"omitempty,gte=0"`
}

type DriverActionRequest struct {
	DriverID string `json:"driver_id" validate:"required"`
}

type ClientActionRequest struct {
	ClientID string `json:"client_id" validate:"required"`
}

type CodeRequest struct {
	Code string `json:"code" validate:"required,len=4,numeric"`
}

// CancelRideRequest carries exactly one of the two parties.
type CancelRideRequest struct {
	ClientID string `json:"client_id,omitempty" validate:"required_without=DriverID,excluded_with=DriverID"`
	DriverID string `json:"driver_id,omitempty" validate:"required_without=ClientID,excluded_with=ClientID"`
}

// DriverSnapshot copies the display fields that survive later profile edits.
type DriverSnapshot struct {
	Name    string
	Rating  float64
	Vehicle string
}

func (d *Driver) Snapshot() DriverSnapshot {
	return DriverSnapshot{Name: d.Name, Rating: d.Rating, Vehicle: d.Vehicle}
}
