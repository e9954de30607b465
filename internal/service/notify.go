package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/carreto/dispatch/internal/events"
	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/observability"
	"github.com/carreto/dispatch/internal/repository"
	"github.com/shopspring/decimal"
)

// notifier publishes after commit. Failures are logged and counted, never
// returned: every screen re-syncs on its own poll.
type notifier struct {
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func (n notifier) publish(ctx context.Context, e events.Event) {
	if e.At.IsZero() {
		e.At = n.now()
	}
	if err := n.pub.Publish(context.WithoutCancel(ctx), e); err != nil {
		observability.PushFailuresTotal.Inc()
		n.logger.Warn("event publish failed",
			"type", e.Type,
			"ride_id", e.RideID,
			"driver_id", e.DriverID,
			"error", err,
		)
	}
}

func rideEvent(eventType string, ride *models.Ride) events.Event {
	e := events.Event{
		Type:     eventType,
		RideID:   ride.ID,
		ClientID: ride.ClientID,
		Status:   ride.Status,
	}
	if ride.DriverID != nil {
		e.DriverID = *ride.DriverID
	}
	return e
}

func appendEntry(
	ctx context.Context,
	ledger repository.LedgerRepository,
	driverID, entryType, reason string,
	amount decimal.Decimal,
	refID *string,
	at time.Time,
) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{
		DriverID:  driverID,
		Type:      entryType,
		Amount:    amount,
		Reason:    reason,
		RefID:     refID,
		CreatedAt: at,
	}
	if _, err := ledger.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// recordEntries counts committed ledger entries. Call after commit.
func recordEntries(entries ...*models.LedgerEntry) {
	for _, e := range entries {
		if e != nil {
			observability.LedgerEntriesTotal.WithLabelValues(e.Type, e.Reason).Inc()
		}
	}
}

func walletEvent(entry *models.LedgerEntry) events.Event {
	return events.Event{
		Type:     events.TypeWalletChanged,
		DriverID: entry.DriverID,
		Payload: map[string]any{
			"entry_id": entry.ID,
			"type":     entry.Type,
			"reason":   entry.Reason,
			"amount":   entry.Amount,
			"balance":  entry.BalanceAfter,
		},
		At: entry.CreatedAt,
	}
}

func strPtr(s string) *string {
	return &s
}
