package config_test

import (
	"testing"
	"time"

	"github.com/mattcburns/fleetupdate/internal/config"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
}

func TestLoadFromEnv_OverridesDefaults(t *testing.T) {
	t.Setenv("FLEETUPDATE_TEMP_DIR", "/var/tmp/fleetupdate")
	t.Setenv("FLEETUPDATE_CONNECT_TIMEOUT", "5s")
	t.Setenv("FLEETUPDATE_METRICS_ENABLED", "false")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.TempDir != "/var/tmp/fleetupdate" {
		t.Errorf("TempDir = %q, want /var/tmp/fleetupdate", cfg.TempDir)
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want 5s", cfg.ConnectTimeout)
	}
	if cfg.MetricsEnabled {
		t.Errorf("MetricsEnabled = true, want false")
	}
}

func TestLoadFromEnv_RejectsInvalidDuration(t *testing.T) {
	t.Setenv("FLEETUPDATE_CONNECT_TIMEOUT", "not-a-duration")

	if _, err := config.LoadFromEnv(); err == nil {
		t.Fatalf("LoadFromEnv() error = nil, want a parse error")
	}
}

func TestValidate_RejectsNonPositiveTimeouts(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.ConnectTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() error = nil, want a ConnectTimeout error")
	}
}
