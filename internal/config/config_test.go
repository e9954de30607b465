package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RideOpenTimeout != 5*time.Minute {
		t.Errorf("RideOpenTimeout = %v, want 5m", cfg.RideOpenTimeout)
	}
	if cfg.DispatchMaxRides != 3 {
		t.Errorf("DispatchMaxRides = %d, want 3", cfg.DispatchMaxRides)
	}
	if cfg.DriverCancelCooldown != 2*time.Minute {
		t.Errorf("DriverCancelCooldown = %v, want 2m", cfg.DriverCancelCooldown)
	}
	if cfg.Location() == nil {
		t.Error("Location() returned nil")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("RIDE_OPEN_TIMEOUT", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.RideOpenTimeout != 90*time.Second {
		t.Errorf("RideOpenTimeout = %v, want 90s", cfg.RideOpenTimeout)
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := &Config{
		StoreDriver:          "mongo",
		Timezone:             "Nowhere/Atlantis",
		DispatchMaxRides:     0,
		RideOpenTimeout:      time.Minute,
		SweepInterval:        time.Second,
		DriverCancelCooldown: time.Minute,
		PresenceTTL:          time.Second,
		BairroCacheTTL:       time.Second,
		FeedInterval:         time.Second,
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"STORE_DRIVER", "TIMEZONE", "DISPATCH_MAX_RIDES"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
