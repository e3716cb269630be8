// fleetupdate logging: structured logging and the on-disk audit trail.
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

// Package logging builds the slog.Logger every update engine package
// threads through as an explicit dependency (never a package-global),
// in the same leveled-constructor-plus-structured-fields shape as the
// teacher's internal/provisioner/oci.Logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds a leveled slog.Logger writing text-formatted records to
// stderr. level is case-insensitive: "debug", "info", "warn"/"warning",
// or "error"; anything else defaults to info.
func New(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun returns a child logger carrying a run_id field, so every log
// line emitted during one Coordinator.Run can be correlated without
// threading the ID through every call site by hand.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	if logger == nil {
		logger = New("info")
	}
	return logger.With(slog.String("run_id", runID))
}

// AuditLog is an optional on-disk trail of completed update runs,
// grounded on the teacher's oci.AuditLog (enabled flag, JSON handler,
// stdout-or-file destination).
type AuditLog struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditLog creates an AuditLog. If path is empty, audit records go
// to stdout; otherwise they are appended to the file at path.
func NewAuditLog(enabled bool, path string) (*AuditLog, error) {
	if !enabled {
		return &AuditLog{}, nil
	}
	var handler slog.Handler
	if path == "" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		handler = slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &AuditLog{logger: slog.New(handler), enabled: true}, nil
}

// RecordRun appends one structured record describing a completed
// update run.
func (a *AuditLog) RecordRun(runID, outcome string, filesUpdated int, duration string) {
	if a == nil || !a.enabled {
		return
	}
	a.logger.Info("update_run",
		slog.String("run_id", runID),
		slog.String("outcome", outcome),
		slog.Int("files_updated", filesUpdated),
		slog.String("duration", duration),
	)
}
