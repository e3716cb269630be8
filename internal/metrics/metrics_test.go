package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mattcburns/fleetupdate/internal/metrics"
)

// These tests share package-global collector state, so they run
// sequentially and each resets before asserting.

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	metrics.Handler().ServeHTTP(rec, req)
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return string(body)
}

func TestObserveFileChecked_IncrementsCounters(t *testing.T) {
	metrics.Reset()

	metrics.ObserveFileChecked(true)
	metrics.ObserveFileChecked(false)

	out := scrape(t)
	if !strings.Contains(out, "fleetupdate_files_checked_total 2") {
		t.Fatalf("scrape output missing files_checked_total=2:\n%s", out)
	}
	if !strings.Contains(out, "fleetupdate_files_requiring_update_total 1") {
		t.Fatalf("scrape output missing files_requiring_update_total=1:\n%s", out)
	}
}

func TestObserveDownload_RecordsBytesAndDuration(t *testing.T) {
	metrics.Reset()

	metrics.ObserveDownload(1024, 2*time.Second)

	out := scrape(t)
	if !strings.Contains(out, "fleetupdate_bytes_downloaded_total 1024") {
		t.Fatalf("scrape output missing bytes_downloaded_total=1024:\n%s", out)
	}
	if !strings.Contains(out, "fleetupdate_file_download_duration_seconds_sum 2") {
		t.Fatalf("scrape output missing download duration sum:\n%s", out)
	}
}

func TestObserveCommitFailure_LabelsByMode(t *testing.T) {
	metrics.Reset()

	metrics.ObserveCommitFailure("staged")

	out := scrape(t)
	if !strings.Contains(out, `fleetupdate_commit_failures_total{mode="staged"} 1`) {
		t.Fatalf("scrape output missing staged commit failure:\n%s", out)
	}
}

func TestObserveRunOutcome_LabelsByOutcome(t *testing.T) {
	metrics.Reset()

	metrics.ObserveRunOutcome("success")
	metrics.ObserveRunOutcome("success")
	metrics.ObserveRunOutcome("failed")

	out := scrape(t)
	if !strings.Contains(out, `fleetupdate_run_outcomes_total{outcome="success"} 2`) {
		t.Fatalf("scrape output missing success=2:\n%s", out)
	}
	if !strings.Contains(out, `fleetupdate_run_outcomes_total{outcome="failed"} 1`) {
		t.Fatalf("scrape output missing failed=1:\n%s", out)
	}
}

func TestReset_ClearsPriorObservations(t *testing.T) {
	metrics.Reset()
	metrics.ObserveFileChecked(true)
	metrics.Reset()

	out := scrape(t)
	if strings.Contains(out, "fleetupdate_files_checked_total 1") {
		t.Fatalf("Reset() did not clear prior observations:\n%s", out)
	}
}
