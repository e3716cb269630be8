package transport_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattcburns/fleetupdate/internal/transport"
)

func TestOpen_HTTPReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello from server"))
	}))
	defer srv.Close()

	rc, err := transport.Open(context.Background(), srv.URL, transport.DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "hello from server" {
		t.Fatalf("body = %q, want %q", body, "hello from server")
	}
}

func TestOpen_HTTPNonSuccessStatusFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := transport.Open(context.Background(), srv.URL, transport.DefaultConfig())
	if err == nil {
		t.Fatalf("Open() error = nil, want an error for a 404 response")
	}
}

func TestOpen_FileScheme(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte("file contents"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	u := &url.URL{Scheme: "file", Path: path}

	rc, err := transport.Open(context.Background(), u.String(), transport.DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "file contents" {
		t.Fatalf("body = %q, want %q", body, "file contents")
	}
}

func TestOpen_UnsupportedSchemeFails(t *testing.T) {
	t.Parallel()

	_, err := transport.Open(context.Background(), "ftp://example.com/file", transport.DefaultConfig())
	if err == nil {
		t.Fatalf("Open() error = nil, want an error for an unsupported scheme")
	}
}

func TestOpen_SFTPWithoutAuthFails(t *testing.T) {
	t.Parallel()

	_, err := transport.Open(context.Background(), "sftp://user@host/path/to/file", transport.Config{
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
	})
	if err == nil {
		t.Fatalf("Open() error = nil, want an error when no SSH auth is configured")
	}
}

func TestOpen_HTTPReadTimeoutFailsSlowBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte("too late"))
	}))
	defer srv.Close()

	rc, err := transport.Open(context.Background(), srv.URL, transport.Config{
		ConnectTimeout: time.Second,
		ReadTimeout:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	_, err = io.ReadAll(rc)
	if err == nil {
		t.Fatalf("ReadAll() error = nil, want a read timeout error")
	}
}
