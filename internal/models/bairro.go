package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bairro is a service area. RatePerKm overrides the global default when set.
type Bairro struct {
	ID                   string              `db:"id" json:"id"`
	Name                 string              `db:"name" json:"name"`
	RatePerKm            decimal.NullDecimal `db:"rate_per_km" json:"rate_per_km"`
	FeePercentCash       decimal.Decimal     `db:"fee_percent_cash" json:"fee_percent_cash"`
	FeePercentElectronic decimal.Decimal     `db:"fee_percent_electronic" json:"fee_percent_electronic"`
	CreatedAt            time.Time           `db:"created_at" json:"created_at"`
}

// FeePercent returns the platform fee percentage for a payment method.
func (b *Bairro) FeePercent(paymentMethod string) decimal.Decimal {
	if paymentMethod == PaymentMethodElectronic {
		return b.FeePercentElectronic
	}
	return b.FeePercentCash
}

// SurgeWindow multiplies the per-km rate while local time is inside
// [StartMinute, EndMinute). Minutes are counted from local midnight and a
// window with StartMinute > EndMinute wraps past midnight. A nil BairroID
// applies to every bairro.
type SurgeWindow struct {
	ID          string          `db:"id" json:"id"`
	BairroID    *string         `db:"bairro_id" json:"bairro_id,omitempty"`
	StartMinute int             `db:"start_minute" json:"start_minute"`
	EndMinute   int             `db:"end_minute" json:"end_minute"`
	Multiplier  decimal.Decimal `db:"multiplier" json:"multiplier"`
}

// Contains reports whether minuteOfDay falls inside the window.
func (w SurgeWindow) Contains(minuteOfDay int) bool {
	if w.StartMinute == w.EndMinute {
		return false
	}
	if w.StartMinute < w.EndMinute {
		return minuteOfDay >= w.StartMinute && minuteOfDay < w.EndMinute
	}
	return minuteOfDay >= w.StartMinute || minuteOfDay < w.EndMinute
}

// CatalogItem is a transportable item category with its unit price.
type CatalogItem struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Active    bool            `db:"active" json:"active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Quote is the priced breakdown of a ride.
type Quote struct {
	ItemsTotal      decimal.Decimal `json:"items_total"`
	DistanceTotal   decimal.Decimal `json:"distance_total"`
	HelperTotal     decimal.Decimal `json:"helper_total"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
	SurgeMultiplier decimal.Decimal `json:"surge_multiplier"`
	RatePerKm       decimal.Decimal `json:"rate_per_km"`
}
