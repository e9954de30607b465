// Package events is the push tier. Every event is published after the
// transaction that caused it commits, and delivery is best effort: screens
// re-sync on their own poll, so a dropped event only costs latency.
package events

import (
	"context"
	"errors"
	"time"
)

// Event types
const (
	TypeRideCreated         = "ride.created"
	TypeRideMatched         = "ride.matched"
	TypeRideStatusChanged   = "ride.status_changed"
	TypeRideCancelled       = "ride.cancelled"
	TypeRideDriverCancelled = "ride.driver_cancelled"
	TypeRideReopened        = "ride.reopened"
	TypeRideExpired         = "ride.expired"
	TypeRideRejected        = "ride.rejected"
	TypeCounterProposed     = "counter.proposed"
	TypeCounterResolved     = "counter.resolved"
	TypeWalletChanged       = "wallet.changed"
)

type Event struct {
	Type     string    `json:"type"`
	RideID   string    `json:"ride_id,omitempty"`
	DriverID string    `json:"driver_id,omitempty"`
	ClientID string    `json:"client_id,omitempty"`
	Status   string    `json:"status,omitempty"`
	Payload  any       `json:"payload,omitempty"`
	At       time.Time `json:"at"`
}

// Channels returns the fan-out channels interested in the event.
func (e Event) Channels() []string {
	var chans []string
	if e.RideID != "" {
		chans = append(chans, RideChannel(e.RideID))
	}
	if e.DriverID != "" {
		chans = append(chans, DriverChannel(e.DriverID))
	}
	return chans
}

func RideChannel(rideID string) string     { return "ride:" + rideID }
func DriverChannel(driverID string) string { return "driver:" + driverID }

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Subscriber delivers events published on the given channels until cancel
// is called or ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (events <-chan Event, cancel func(), err error)
}

type multiPublisher struct {
	pubs []Publisher
}

// NewMulti publishes to every publisher and joins their errors.
func NewMulti(pubs ...Publisher) Publisher {
	return &multiPublisher{pubs: pubs}
}

func (m *multiPublisher) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m.pubs {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *multiPublisher) Close() error {
	var errs []error
	for _, p := range m.pubs {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

type nopPublisher struct{}

func NewNop() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, Event) error { return nil }
func (nopPublisher) Close() error                         { return nil }
