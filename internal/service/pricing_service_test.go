package service

import (
	"testing"
	"time"

	"github.com/carreto/dispatch/internal/models"
	"github.com/shopspring/decimal"
)

var saoPaulo = time.FixedZone("America/Sao_Paulo", -3*60*60)

func newTestPricing() PricingService {
	return NewPricingService(PricingConfig{
		DefaultRatePerKm: decimal.NewFromInt(3),
		HelperFee:        decimal.NewFromInt(30),
		Location:         saoPaulo,
	})
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, saoPaulo)
}

func window(start, end string, mult float64) models.SurgeWindow {
	parse := func(s string) int {
		t, _ := time.Parse("15:04", s)
		return t.Hour()*60 + t.Minute()
	}
	return models.SurgeWindow{StartMinute: parse(start), EndMinute: parse(end), Multiplier: decimal.NewFromFloat(mult)}
}

func TestResolveQuote(t *testing.T) {
	ps := newTestPricing()
	override := &models.Bairro{RatePerKm: decimal.NewNullDecimal(decimal.NewFromFloat(4.5))}

	tests := []struct {
		name      string
		in        QuoteInput
		now       time.Time
		wantTotal string
		wantDist  string
	}{
		{
			name:      "10km at default rate with items, no surge",
			in:        QuoteInput{DistanceKm: decimal.NewFromInt(10), ItemsTotal: decimal.NewFromInt(20)},
			now:       at(10, 0),
			wantTotal: "50",
			wantDist:  "30",
		},
		{
			name:      "helper only when requested",
			in:        QuoteInput{DistanceKm: decimal.NewFromInt(10), ItemsTotal: decimal.NewFromInt(20), HelperRequested: true},
			now:       at(10, 0),
			wantTotal: "80",
			wantDist:  "30",
		},
		{
			name:      "bairro override beats default",
			in:        QuoteInput{DistanceKm: decimal.NewFromInt(2), Bairro: override},
			now:       at(10, 0),
			wantTotal: "9",
			wantDist:  "9",
		},
		{
			name: "surge scales only the distance component",
			in: QuoteInput{
				DistanceKm: decimal.NewFromInt(10),
				ItemsTotal: decimal.NewFromInt(20),
				Windows:    []models.SurgeWindow{window("09:00", "11:00", 1.5)},
			},
			now:       at(10, 0),
			wantTotal: "65",
			wantDist:  "45",
		},
		{
			name:      "fractional distance rounds to cents",
			in:        QuoteInput{DistanceKm: decimal.RequireFromString("3.333")},
			now:       at(10, 0),
			wantTotal: "10",
			wantDist:  "10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := ps.ResolveQuote(tt.in, tt.now)
			if !q.GrandTotal.Equal(decimal.RequireFromString(tt.wantTotal)) {
				t.Errorf("GrandTotal = %s, want %s", q.GrandTotal, tt.wantTotal)
			}
			if !q.DistanceTotal.Equal(decimal.RequireFromString(tt.wantDist)) {
				t.Errorf("DistanceTotal = %s, want %s", q.DistanceTotal, tt.wantDist)
			}
			sum := q.ItemsTotal.Add(q.DistanceTotal).Add(q.HelperTotal)
			if !q.GrandTotal.Equal(sum) {
				t.Errorf("GrandTotal %s != components %s", q.GrandTotal, sum)
			}
		})
	}
}

func TestSurgeMultiplier(t *testing.T) {
	ps := newTestPricing()
	windows := []models.SurgeWindow{
		window("17:00", "19:00", 1.2),
		window("18:00", "20:00", 1.8),
		window("22:00", "02:00", 1.4),
		window("12:00", "12:00", 3.0),
	}

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"no window", at(10, 0), "1"},
		{"start is inclusive", at(17, 0), "1.2"},
		{"overlap takes the max", at(18, 30), "1.8"},
		{"end is exclusive", at(20, 0), "1"},
		{"wraps before midnight", at(23, 15), "1.4"},
		{"wraps after midnight", at(1, 59), "1.4"},
		{"wrap end is exclusive", at(2, 0), "1"},
		{"empty window never applies", at(12, 0), "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ps.SurgeMultiplier(windows, tt.now)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("SurgeMultiplier() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSurgeMultiplierUsesLocalTime(t *testing.T) {
	ps := newTestPricing()
	windows := []models.SurgeWindow{window("09:00", "11:00", 2)}

	// 13:00 UTC is 10:00 in São Paulo.
	got := ps.SurgeMultiplier(windows, time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC))
	if !got.Equal(decimal.NewFromInt(2)) {
		t.Errorf("SurgeMultiplier() = %s, want 2", got)
	}
}

func TestPlatformFee(t *testing.T) {
	ps := newTestPricing()
	bairro := &models.Bairro{
		FeePercentCash:       decimal.NewFromInt(10),
		FeePercentElectronic: decimal.RequireFromString("7.5"),
	}

	tests := []struct {
		name   string
		total  string
		method string
		bairro *models.Bairro
		want   string
	}{
		{"cash", "50", models.PaymentMethodCash, bairro, "5"},
		{"electronic", "50", models.PaymentMethodElectronic, bairro, "3.75"},
		{"rounds to cents", "33.33", models.PaymentMethodCash, bairro, "3.33"},
		{"no bairro config", "50", models.PaymentMethodCash, nil, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ps.PlatformFee(decimal.RequireFromString(tt.total), tt.method, tt.bairro)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("PlatformFee() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestItemsTotal(t *testing.T) {
	ps := newTestPricing()
	items := models.RideItems{
		{Name: "Geladeira", Quantity: 1, UnitPrice: decimal.NewFromInt(12)},
		{Name: "Caixa", Quantity: 4, UnitPrice: decimal.NewFromInt(2)},
	}
	if got := ps.ItemsTotal(items); !got.Equal(decimal.NewFromInt(20)) {
		t.Errorf("ItemsTotal() = %s, want 20", got)
	}
}
