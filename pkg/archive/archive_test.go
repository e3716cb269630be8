package archive_test

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattcburns/fleetupdate/pkg/archive"
	"github.com/mattcburns/fleetupdate/pkg/descriptor"
	"github.com/mattcburns/fleetupdate/pkg/ferrors"
	"github.com/mattcburns/fleetupdate/pkg/verify"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "release.zip")
	w := archive.NewWriter(path)

	bodyA := []byte("contents of a")
	bodyB := []byte("contents of b")
	if _, err := w.AddFile("/opt/app/a.jar", bodyA); err != nil {
		t.Fatalf("AddFile(a): %v", err)
	}
	if _, err := w.AddFile("/opt/app/b.jar", bodyB); err != nil {
		t.Fatalf("AddFile(b): %v", err)
	}

	d := descriptor.Descriptor{
		Files: []descriptor.FileMetadata{
			{Path: "/opt/app/a.jar", Size: int64(len(bodyA)), Checksum: verify.ChecksumBytes(bodyA)},
			{Path: "/opt/app/b.jar", Size: int64(len(bodyB)), Checksum: verify.ChecksumBytes(bodyB)},
		},
	}
	if err := w.Close(d, map[string]string{"channel": "stable"}); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := archive.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(r.Descriptor.Files) != 2 {
		t.Fatalf("Descriptor has %d files, want 2", len(r.Descriptor.Files))
	}
	if r.Dynamic["channel"] != "stable" {
		t.Fatalf("Dynamic[channel] = %q, want %q", r.Dynamic["channel"], "stable")
	}

	gotA, ok := r.Body("/opt/app/a.jar")
	if !ok || string(gotA) != string(bodyA) {
		t.Fatalf("Body(a) = (%q, %v), want (%q, true)", gotA, ok, bodyA)
	}
	gotB, ok := r.Body("/opt/app/b.jar")
	if !ok || string(gotB) != string(bodyB) {
		t.Fatalf("Body(b) = (%q, %v), want (%q, true)", gotB, ok, bodyB)
	}

	paths := r.Paths()
	if len(paths) != 2 || paths[0] != "/opt/app/a.jar" || paths[1] != "/opt/app/b.jar" {
		t.Fatalf("Paths() = %v, want sorted [a.jar, b.jar]", paths)
	}
}

func TestWriterAbort_RemovesPartialFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "partial.zip")
	if err := os.WriteFile(path, []byte("partial"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	w := archive.NewWriter(path)
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("Abort() left the file behind")
	}
}

func TestOpen_OrphanArchiveEntry(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "orphan.zip")
	w := archive.NewWriter(path)
	if _, err := w.AddFile("/opt/app/a.jar", []byte("a")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	// The index records a.jar, which the descriptor does not list.
	d := descriptor.Descriptor{
		Files: []descriptor.FileMetadata{{Path: "/opt/app/missing.jar"}},
	}
	if err := w.Close(d, nil); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err := archive.Open(path)
	if !ferrors.Is(err, ferrors.OrphanArchiveEntry) {
		t.Fatalf("Open() error = %v, want OrphanArchiveEntry", err)
	}
}

func TestOpen_TamperedArchive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tampered.zip")
	w := archive.NewWriter(path)
	body := []byte("original content")
	if _, err := w.AddFile("/opt/app/a.jar", body); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	d := descriptor.Descriptor{
		Files: []descriptor.FileMetadata{
			{Path: "/opt/app/a.jar", Size: int64(len(body)), Checksum: verify.ChecksumBytes(body)},
		},
	}
	if err := w.Close(d, nil); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tamperZipEntry(t, path, "files/", []byte("tampered!!!!!!!!"))

	_, err := archive.Open(path)
	if !ferrors.Is(err, ferrors.TamperedArchive) {
		t.Fatalf("Open() error = %v, want TamperedArchive", err)
	}
}

// tamperZipEntry rewrites the first stored (uncompressed) zip entry
// whose name has namePrefix, relying on zip.Store writing entries
// back-to-back with no compression so a same-length overwrite keeps
// the archive structurally valid.
func tamperZipEntry(t *testing.T, path, namePrefix string, body []byte) {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	var offset int64 = -1
	var size int64
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, namePrefix) {
			continue
		}
		off, err := f.DataOffset()
		if err != nil {
			t.Fatalf("DataOffset: %v", err)
		}
		offset = off
		size = int64(f.UncompressedSize64)
		break
	}
	zr.Close()
	if offset < 0 {
		t.Fatalf("no entry with prefix %q found in %s", namePrefix, path)
	}
	if int64(len(body)) != size {
		t.Fatalf("replacement body must be exactly %d bytes, got %d", size, len(body))
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteAt(body, offset); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
}
