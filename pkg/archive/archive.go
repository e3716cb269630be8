// Package archive implements the ZIP-based update container of
// spec.md §3 and §4.7: a self-contained package of descriptor plus
// file bodies that can be unpacked later, instead of installed
// in-place or staged. Per spec.md §9's "ZIP-as-filesystem" note, an
// archive is built and read by materializing its entries into an
// in-memory tree and flushing the whole tree to archive/zip on
// Close/Read, the same directory-backed-blob-store shape the
// teacher's internal/provisioner/oci/storage.go uses for its
// content-addressed layout, retargeted from SHA-256 digests to the
// millisecond-clock-plus-counter token this section mandates.
package archive

import (
	"archive/zip"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattcburns/fleetupdate/pkg/descriptor"
	"github.com/mattcburns/fleetupdate/pkg/ferrors"
	"github.com/mattcburns/fleetupdate/pkg/verify"
)

const (
	configEntry  = "reserved/config"
	dynamicEntry = "reserved/dynamic"
	indexEntry   = "index"
	filesPrefix  = "files/"
)

// Writer accumulates an archive's file bodies and index in memory and
// flushes everything to a single ZIP file on Close, per spec.md §4.7's
// write flow. It is exclusively owned by one Coordinator run, mirroring
// §5's "Coordinator holds it exclusively" resource policy.
type Writer struct {
	mu      sync.Mutex
	path    string
	index   []indexLine
	bodies  map[string][]byte
	counter int
}

type indexLine struct {
	logicalPath string
	id          string
}

// NewWriter creates a Writer that will flush to path on Close. path
// need not exist yet.
func NewWriter(path string) *Writer {
	return &Writer{path: path, bodies: map[string][]byte{}}
}

// AddFile stores body under a freshly-minted token and appends a
// "<logicalPath>:<id>" record to the index, per spec.md §4.7.
func (w *Writer) AddFile(logicalPath string, body []byte) (id string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id = w.mintToken()
	w.bodies[id] = body
	w.index = append(w.index, indexLine{logicalPath: logicalPath, id: id})
	return id, nil
}

// mintToken produces the "timestamp-id" token spec.md §4.7 specifies:
// a millisecond clock reading plus the append order, so two files
// added within the same millisecond still collide-free within one
// update.
func (w *Writer) mintToken() string {
	w.counter++
	return fmt.Sprintf("%d-%d", time.Now().UnixMilli(), w.counter)
}

// Close writes the descriptor, dynamic properties (if any), index, and
// all file bodies to a single ZIP file at the Writer's path.
func (w *Writer) Close(d descriptor.Descriptor, dynamic map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	body, err := descriptor.Serialize(d)
	if err != nil {
		return ferrors.New("archive.Close", ferrors.DescriptorInvalid, err)
	}

	f, err := os.Create(w.path)
	if err != nil {
		return ferrors.New("archive.Close", ferrors.IoFailed, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	if err := writeEntry(zw, configEntry, body); err != nil {
		return err
	}
	if len(dynamic) > 0 {
		if err := writeEntry(zw, dynamicEntry, encodeDynamic(dynamic)); err != nil {
			return err
		}
	}

	sort.Slice(w.index, func(i, j int) bool { return w.index[i].logicalPath < w.index[j].logicalPath })
	var idx bytes.Buffer
	for _, line := range w.index {
		idx.WriteString(line.logicalPath)
		idx.WriteByte(':')
		idx.WriteString(line.id)
		idx.WriteByte('\n')
	}
	if err := writeEntry(zw, indexEntry, idx.Bytes()); err != nil {
		return err
	}

	for _, line := range w.index {
		if err := writeEntry(zw, filesPrefix+line.id, w.bodies[line.id]); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return ferrors.New("archive.Close", ferrors.IoFailed, err)
	}
	return nil
}

// Abort removes a partially-written archive file, per spec.md §4.4's
// failure path ("in archive mode, delete the archive file if
// downloads never completed").
func (w *Writer) Abort() error {
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return ferrors.New("archive.Abort", ferrors.IoFailed, err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, name string, body []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return ferrors.New("archive.writeEntry", ferrors.IoFailed, err)
	}
	if _, err := fw.Write(body); err != nil {
		return ferrors.New("archive.writeEntry", ferrors.IoFailed, err)
	}
	return nil
}

func encodeDynamic(m map[string]string) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(strings.ReplaceAll(m[k], "\n", "\\n"))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func decodeDynamic(body []byte) map[string]string {
	out := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[k] = strings.ReplaceAll(v, "\\n", "\n")
	}
	return out
}

// Reader opens an existing archive and validates it eagerly per
// spec.md §4.7's read flow: cross-link every /index record to a
// FileMetadata in the embedded Descriptor, then verify the Adler-32 of
// every body.
type Reader struct {
	Descriptor descriptor.Descriptor
	Dynamic    map[string]string

	entries map[string]string // logical path -> id
	bodies  map[string][]byte // id -> body
}

// Open reads, parses, and fully validates the archive at path.
func Open(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, ferrors.New("archive.Open", ferrors.IoFailed, err)
	}
	defer zr.Close()

	raw := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, ferrors.New("archive.Open", ferrors.IoFailed, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if errors.Is(err, zip.ErrChecksum) {
			return nil, ferrors.New("archive.Open", ferrors.TamperedArchive, err)
		}
		if err != nil {
			return nil, ferrors.New("archive.Open", ferrors.IoFailed, err)
		}
		raw[f.Name] = data
	}

	configBody, ok := raw[configEntry]
	if !ok {
		return nil, ferrors.New("archive.Open", ferrors.DescriptorInvalid,
			fmt.Errorf("archive missing %s", configEntry))
	}
	d, err := descriptor.Parse(configBody)
	if err != nil {
		return nil, err
	}

	idxBody, ok := raw[indexEntry]
	if !ok {
		return nil, ferrors.New("archive.Open", ferrors.DescriptorInvalid,
			fmt.Errorf("archive missing %s", indexEntry))
	}

	byPath := make(map[string]descriptor.FileMetadata, len(d.Files))
	for _, fm := range d.Files {
		byPath[fm.Path] = fm
	}

	entries := map[string]string{}
	bodies := map[string][]byte{}
	sc := bufio.NewScanner(bytes.NewReader(idxBody))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		logicalPath, id, ok := cutLast(line, ':')
		if !ok {
			return nil, ferrors.New("archive.Open", ferrors.DescriptorInvalid,
				fmt.Errorf("malformed index line %q", line))
		}
		fm, known := byPath[logicalPath]
		if !known {
			return nil, ferrors.New("archive.Open", ferrors.OrphanArchiveEntry,
				fmt.Errorf("index entry %q has no matching descriptor file", logicalPath))
		}
		body, present := raw[filesPrefix+id]
		if !present {
			return nil, ferrors.New("archive.Open", ferrors.OrphanArchiveEntry,
				fmt.Errorf("index entry %q references missing body %q", logicalPath, id))
		}
		sum := adler32Of(body)
		if sum != fm.Checksum {
			return nil, ferrors.New("archive.Open", ferrors.TamperedArchive,
				fmt.Errorf("body for %q has checksum %s, descriptor says %s",
					logicalPath, verify.FormatChecksum(sum), verify.FormatChecksum(fm.Checksum)))
		}
		entries[logicalPath] = id
		bodies[id] = body
	}

	var dynamic map[string]string
	if db, ok := raw[dynamicEntry]; ok {
		dynamic = decodeDynamic(db)
	}

	return &Reader{Descriptor: d, Dynamic: dynamic, entries: entries, bodies: bodies}, nil
}

// Body returns the byte content stored for logicalPath.
func (r *Reader) Body(logicalPath string) ([]byte, bool) {
	id, ok := r.entries[logicalPath]
	if !ok {
		return nil, false
	}
	body, ok := r.bodies[id]
	return body, ok
}

// Paths returns the logical paths present in the archive, sorted.
func (r *Reader) Paths() []string {
	out := make([]string, 0, len(r.entries))
	for p := range r.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func cutLast(s string, sep byte) (string, string, bool) {
	i := strings.LastIndexByte(s, sep)
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func adler32Of(body []byte) uint32 {
	return verify.ChecksumBytes(body)
}
