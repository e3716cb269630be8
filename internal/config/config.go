// fleetupdate config: ambient engine configuration.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config carries the ambient, non-spec-mandated knobs an
// embedder of pkg/update needs: temp directory, transport timeouts,
// and a test-only OS override. It is a direct rename-and-rework of the
// teacher's internal/provisioner/config triplet
// (DefaultXConfig/LoadFromEnv/Validate), with OCI-registry knobs
// swapped for engine ones.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds ambient engine configuration. It is distinct from the
// spec-mandated PropertyManager (pkg/properties), which resolves
// ${placeholder} values inside a Descriptor rather than configuring
// the engine itself.
type Config struct {
	// TempDir is the staging directory for deferred ("staged") updates.
	// Empty means in-place commit mode.
	TempDir string

	// ConnectTimeout and ReadTimeout bound the default download stream
	// (spec.md §4.8, §5).
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// DelayedDeleteWait is how long the delayed-delete helper sleeps
	// before removing locked files (spec.md §4.6).
	DelayedDeleteWait time.Duration

	// OSOverride forces the Coordinator's notion of "current OS",
	// bypassing runtime.GOOS; used by tests exercising OS scoping
	// (spec.md §8 scenario S4) on a single host.
	OSOverride string

	// MetricsEnabled toggles internal/metrics collection.
	MetricsEnabled bool
	// AuditLogPath, if non-empty, is where internal/logging.AuditLog
	// appends one record per completed run.
	AuditLogPath string
}

// Default returns the engine's default configuration.
func Default() Config {
	return Config{
		ConnectTimeout:    10 * time.Second,
		ReadTimeout:       10 * time.Second,
		DelayedDeleteWait: 2 * time.Second,
		MetricsEnabled:    true,
	}
}

// LoadFromEnv overlays environment variables onto Default().
func LoadFromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv("FLEETUPDATE_TEMP_DIR"); v != "" {
		cfg.TempDir = v
	}
	if v := os.Getenv("FLEETUPDATE_CONNECT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid FLEETUPDATE_CONNECT_TIMEOUT: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if v := os.Getenv("FLEETUPDATE_READ_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid FLEETUPDATE_READ_TIMEOUT: %w", err)
		}
		cfg.ReadTimeout = d
	}
	if v := os.Getenv("FLEETUPDATE_DELAYED_DELETE_WAIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid FLEETUPDATE_DELAYED_DELETE_WAIT: %w", err)
		}
		cfg.DelayedDeleteWait = d
	}
	if v := os.Getenv("FLEETUPDATE_OS_OVERRIDE"); v != "" {
		cfg.OSOverride = v
	}
	if v := os.Getenv("FLEETUPDATE_METRICS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid FLEETUPDATE_METRICS_ENABLED: %w", err)
		}
		cfg.MetricsEnabled = enabled
	}
	if v := os.Getenv("FLEETUPDATE_AUDIT_LOG_PATH"); v != "" {
		cfg.AuditLogPath = v
	}

	return cfg, nil
}

// Validate checks the configuration's invariants.
func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("ConnectTimeout must be positive")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("ReadTimeout must be positive")
	}
	if c.DelayedDeleteWait < 0 {
		return fmt.Errorf("DelayedDeleteWait must not be negative")
	}
	return nil
}
