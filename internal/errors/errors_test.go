package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestGuardClassification(t *testing.T) {
	err := fmt.Errorf("accept ride: %w", RideUnavailable())

	if !IsGuardFailed(err) {
		t.Fatal("expected wrapped guard failure to be detected")
	}
	if got := ReasonOf(err); got != ReasonRideUnavailable {
		t.Errorf("ReasonOf() = %q, want %q", got, ReasonRideUnavailable)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("guard failure must not match ErrNotFound")
	}
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want int
	}{
		{"insufficient balance", InsufficientBalance(), http.StatusPaymentRequired},
		{"incorrect code", IncorrectCode(), http.StatusConflict},
		{"not found", NotFound("ride"), http.StatusNotFound},
		{"validation", Validation("amount must be positive"), http.StatusBadRequest},
		{"upstream", Upstream("redis", errors.New("dial tcp")), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.StatusCode != tt.want {
				t.Errorf("StatusCode = %d, want %d", tt.err.StatusCode, tt.want)
			}
		})
	}
}

func TestUpstreamKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream("ledger", cause)

	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through errors.Is")
	}
	if !errors.Is(err, ErrUpstream) {
		t.Error("expected ErrUpstream kind")
	}
	if IsGuardFailed(err) {
		t.Error("upstream failure is not a guard failure")
	}
}
