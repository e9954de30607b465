package service

import (
	"time"

	"github.com/carreto/dispatch/internal/models"
	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// PricingConfig holds the global pricing inputs.
type PricingConfig struct {
	DefaultRatePerKm decimal.Decimal
	HelperFee        decimal.Decimal
	Location         *time.Location
	Now              func() time.Time
}

// QuoteInput is everything a quote depends on apart from the clock.
type QuoteInput struct {
	DistanceKm      decimal.Decimal
	ItemsTotal      decimal.Decimal
	HelperRequested bool
	Bairro          *models.Bairro
	Windows         []models.SurgeWindow
}

type PricingService interface {
	Quote(in QuoteInput) models.Quote
	ResolveQuote(in QuoteInput, now time.Time) models.Quote
	SurgeMultiplier(windows []models.SurgeWindow, now time.Time) decimal.Decimal
	RatePerKm(bairro *models.Bairro) decimal.Decimal
	ItemsTotal(items models.RideItems) decimal.Decimal
	PlatformFee(total decimal.Decimal, paymentMethod string, bairro *models.Bairro) decimal.Decimal
}

type pricingService struct {
	cfg PricingConfig
}

func NewPricingService(cfg PricingConfig) PricingService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &pricingService{cfg: cfg}
}

// Quote prices a ride at the current local time.
func (s *pricingService) Quote(in QuoteInput) models.Quote {
	return s.ResolveQuote(in, s.cfg.Now())
}

// ResolveQuote is deterministic given its inputs and now:
// distanceTotal = km × rate × surge, helper only when requested.
func (s *pricingService) ResolveQuote(in QuoteInput, now time.Time) models.Quote {
	rate := s.RatePerKm(in.Bairro)
	surge := s.SurgeMultiplier(in.Windows, now)

	distanceTotal := in.DistanceKm.Mul(rate).Mul(surge).Round(2)
	itemsTotal := in.ItemsTotal.Round(2)
	helperTotal := decimal.Zero
	if in.HelperRequested {
		helperTotal = s.cfg.HelperFee.Round(2)
	}

	return models.Quote{
		ItemsTotal:      itemsTotal,
		DistanceTotal:   distanceTotal,
		HelperTotal:     helperTotal,
		GrandTotal:      itemsTotal.Add(distanceTotal).Add(helperTotal),
		SurgeMultiplier: surge,
		RatePerKm:       rate,
	}
}

// SurgeMultiplier returns the largest multiplier among windows active at
// now in the configured timezone, or 1 when none applies.
func (s *pricingService) SurgeMultiplier(windows []models.SurgeWindow, now time.Time) decimal.Decimal {
	local := now.In(s.cfg.Location)
	minute := local.Hour()*60 + local.Minute()

	surge := one
	for _, w := range windows {
		if w.Contains(minute) && w.Multiplier.GreaterThan(surge) {
			surge = w.Multiplier
		}
	}
	return surge
}

// RatePerKm prefers the bairro override over the global default.
func (s *pricingService) RatePerKm(bairro *models.Bairro) decimal.Decimal {
	if bairro != nil && bairro.RatePerKm.Valid {
		return bairro.RatePerKm.Decimal
	}
	return s.cfg.DefaultRatePerKm
}

func (s *pricingService) ItemsTotal(items models.RideItems) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total.Round(2)
}

// PlatformFee is total × fee% / 100 for the ride's payment method.
func (s *pricingService) PlatformFee(total decimal.Decimal, paymentMethod string, bairro *models.Bairro) decimal.Decimal {
	if bairro == nil {
		return decimal.Zero
	}
	pct := bairro.FeePercent(paymentMethod)
	if !pct.IsPositive() {
		return decimal.Zero
	}
	return total.Mul(pct).Div(hundred).Round(2)
}
