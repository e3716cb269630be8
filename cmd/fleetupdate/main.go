// fleetupdate: a command-line update engine client.
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

// Command fleetupdate drives one Coordinator.Run against a descriptor
// fetched from a local path or a remote URI. Wiring collaborators from
// flags in a single main, the same shape as the teacher's cmd/shoal,
// is intentional: the CLI is a thin, out-of-core-scope convenience,
// not part of the engine itself.
package main

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattcburns/fleetupdate/internal/config"
	"github.com/mattcburns/fleetupdate/internal/history"
	"github.com/mattcburns/fleetupdate/internal/logging"
	"github.com/mattcburns/fleetupdate/internal/metrics"
	"github.com/mattcburns/fleetupdate/internal/transport"
	"github.com/mattcburns/fleetupdate/pkg/descriptor"
	"github.com/mattcburns/fleetupdate/pkg/update"
	"github.com/mattcburns/fleetupdate/pkg/verify"
)

func main() {
	var (
		descriptorURI = flag.String("descriptor", "", "local path or http(s)/file/sftp URI of the descriptor XML")
		publicKeyPath = flag.String("public-key", "", "PEM-encoded public key for signature verification")
		tempDir       = flag.String("temp-dir", "", "stage downloads here and defer install (empty means in-place commit)")
		archivePath   = flag.String("archive", "", "package downloads into a ZIP archive here instead of installing")
		osOverride    = flag.String("os", "", "override the detected OS scope (windows, mac, linux)")
		logLevel      = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		metricsAddr   = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
		auditLogPath  = flag.String("audit-log", "", "append one JSON record per run here (stdout if empty and enabled)")
		auditEnabled  = flag.Bool("audit", false, "enable the audit log")
		historyDB     = flag.String("history-db", "", "sqlite path recording one row per completed run")
	)
	flag.Parse()

	logger := logging.New(*logLevel)
	slog.SetDefault(logger)

	if *descriptorURI == "" {
		logger.Error("missing required -descriptor flag")
		os.Exit(2)
	}

	cfg := config.Default()
	cfg.TempDir = *tempDir
	cfg.OSOverride = *osOverride
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	ctx := context.Background()

	d, err := loadDescriptor(ctx, *descriptorURI, cfg)
	if err != nil {
		logger.Error("failed to load descriptor", "error", err)
		os.Exit(1)
	}

	var pub verify.PublicKey
	if *publicKeyPath != "" {
		pub, err = loadPublicKey(*publicKeyPath)
		if err != nil {
			logger.Error("failed to load public key", "error", err)
			os.Exit(1)
		}
		if err := verifyDescriptorSignature(d, pub); err != nil {
			logger.Error("descriptor signature verification failed", "error", err)
			os.Exit(1)
		}
	}

	audit, err := logging.NewAuditLog(*auditEnabled, *auditLogPath)
	if err != nil {
		logger.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}

	var hist *history.DB
	if *historyDB != "" {
		hist, err = history.Open(*historyDB)
		if err != nil {
			logger.Error("failed to open history database", "error", err)
			os.Exit(1)
		}
		defer hist.Close()
		if err := hist.Migrate(ctx); err != nil {
			logger.Error("failed to migrate history database", "error", err)
			os.Exit(1)
		}
	}

	currentOS := descriptor.CurrentOS()
	if cfg.OSOverride != "" {
		currentOS = parseOS(cfg.OSOverride)
	}

	registry := update.NewRegistry()

	coordCfg := update.Config{
		Descriptor:      d,
		CurrentOS:       currentOS,
		Registry:        registry,
		DefaultObserver: newMetricsObserver(),
		TempDir:         cfg.TempDir,
		ArchivePath:     *archivePath,
		PublicKey:       pub,
		Logger:          logger,
		Now:             time.Now,
	}

	started := time.Now()
	result, runErr := update.New(coordCfg).Run(ctx)
	finished := time.Now()

	outcome := "failed"
	switch {
	case runErr != nil:
		outcome = "failed"
	case len(result.Updated) == 0:
		outcome = "no_work"
	default:
		outcome = "success"
	}
	metrics.ObserveRunOutcome(outcome)
	audit.RecordRun(fmt.Sprintf("%d", started.UnixNano()), outcome, len(result.Updated), finished.Sub(started).String())

	if hist != nil {
		if err := hist.RecordRun(ctx, history.Run{
			RunID:               fmt.Sprintf("%d", started.UnixNano()),
			DescriptorTimestamp: d.Timestamp,
			Signed:              d.Signature != "",
			FilesUpdated:        len(result.Updated),
			Outcome:             outcome,
			Duration:            finished.Sub(started),
			StartedAt:           started,
			FinishedAt:          finished,
		}); err != nil {
			logger.Warn("failed to record run history", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("update run failed", "error", runErr)
		os.Exit(1)
	}

	logger.Info("update run complete", "outcome", outcome, "files_updated", len(result.Updated))
}

func loadDescriptor(ctx context.Context, uri string, cfg config.Config) (descriptor.Descriptor, error) {
	var r io.ReadCloser
	var err error
	if strings.Contains(uri, "://") {
		r, err = transport.Open(ctx, uri, transport.Config{
			ConnectTimeout: cfg.ConnectTimeout,
			ReadTimeout:    cfg.ReadTimeout,
		})
	} else {
		r, err = os.Open(uri)
	}
	if err != nil {
		return descriptor.Descriptor{}, err
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return descriptor.Descriptor{}, fmt.Errorf("read descriptor: %w", err)
	}
	return descriptor.Parse(body)
}

func loadPublicKey(path string) (verify.PublicKey, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(body)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	return x509.ParsePKIXPublicKey(block.Bytes)
}

func verifyDescriptorSignature(d descriptor.Descriptor, pub verify.PublicKey) error {
	body, err := descriptor.SerializedChildren(d)
	if err != nil {
		return err
	}
	return verify.VerifyBytes(pub, body, d.Signature)
}

func parseOS(name string) descriptor.OS {
	switch name {
	case "windows":
		return descriptor.Windows
	case "mac":
		return descriptor.Mac
	case "linux":
		return descriptor.Linux
	default:
		return descriptor.Other
	}
}

// metricsObserver wraps update.DefaultObserver to feed internal/metrics
// from the callbacks the Coordinator already invokes in a fixed order,
// rather than having the Coordinator depend on internal/metrics
// directly (it stays an optional, injected concern per spec.md §5).
type metricsObserver struct {
	*update.DefaultObserver
	downloadStart map[string]time.Time
}

func newMetricsObserver() *metricsObserver {
	return &metricsObserver{
		DefaultObserver: update.NewDefaultObserver(),
		downloadStart:   map[string]time.Time{},
	}
}

func (m *metricsObserver) DoneCheckUpdateFile(f descriptor.FileMetadata, requiresUpdate bool) {
	metrics.ObserveFileChecked(requiresUpdate)
}

func (m *metricsObserver) StartDownloadFile(f descriptor.FileMetadata) {
	m.downloadStart[f.Path] = time.Now()
}

func (m *metricsObserver) DoneDownloadFile(f descriptor.FileMetadata, tempPath string) {
	start, ok := m.downloadStart[f.Path]
	if !ok {
		return
	}
	metrics.ObserveDownload(f.Size, time.Since(start))
	delete(m.downloadStart, f.Path)
}
