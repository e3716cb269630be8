// Package descriptor implements the immutable Descriptor and
// FileMetadata value types described in spec.md §3, plus the layout
// resolution of §4.3 (layout.go). Serialization lives in
// serializer.go, the mutable editing surface in draft.go, and
// sync/builder operations in builder.go.
package descriptor

import (
	"fmt"
	"regexp"
	"runtime"
	"sort"
	"time"

	"github.com/mattcburns/fleetupdate/pkg/ferrors"
	"github.com/mattcburns/fleetupdate/pkg/properties"
)

// OS re-exports the properties package's OS scope so callers need not
// import both packages to build a FileMetadata.
type OS = properties.OS

const (
	Windows OS = properties.Windows
	Mac     OS = properties.Mac
	Linux   OS = properties.Linux
	Other   OS = properties.Other
	AnyOS   OS = properties.Any
)

// CurrentOS maps runtime.GOOS onto the descriptor's three-way (plus
// "other") OS scope.
func CurrentOS() OS {
	switch runtime.GOOS {
	case "windows":
		return Windows
	case "darwin":
		return Mac
	case "linux":
		return Linux
	default:
		return Other
	}
}

// FileMetadata describes one file the engine manages. See spec.md §3.
type FileMetadata struct {
	URI    string
	Path   string
	OS     OS
	Size   int64
	// Checksum is the Adler-32 of the file body.
	Checksum uint32

	Classpath          bool
	Modulepath         bool
	IgnoreBootConflict bool
	Signature          string // base64, optional

	AddExports []string
	AddOpens   []string
	AddReads   []string

	Comment string
}

// AppliesToOS reports whether this entry is in scope for os. An unset
// OS (AnyOS) always applies.
func (f FileMetadata) AppliesToOS(os OS) bool {
	return f.OS == AnyOS || f.OS == os
}

// Validate checks the FileMetadata invariants from spec.md §3: size
// and checksum are non-negative, and uri/path are absolute whenever
// the entry applies to the current OS.
func (f FileMetadata) Validate(currentOS OS) error {
	if f.Size < 0 {
		return ferrors.New("FileMetadata.Validate", ferrors.DescriptorInvalid,
			fmt.Errorf("negative size %d for %q", f.Size, f.Path))
	}
	if !f.AppliesToOS(currentOS) {
		return nil
	}
	if f.URI == "" {
		return ferrors.New("FileMetadata.Validate", ferrors.DescriptorInvalid,
			fmt.Errorf("file has no uri: %+v", f))
	}
	if f.Path == "" {
		return ferrors.New("FileMetadata.Validate", ferrors.DescriptorInvalid,
			fmt.Errorf("file has no path: %+v", f))
	}
	if !isAbsoluteURI(f.URI) {
		return ferrors.New("FileMetadata.Validate", ferrors.DescriptorInvalid,
			fmt.Errorf("uri %q is not absolute", f.URI))
	}
	if !isAbsolutePath(f.Path) {
		return ferrors.New("FileMetadata.Validate", ferrors.DescriptorInvalid,
			fmt.Errorf("path %q is not absolute", f.Path))
	}
	return nil
}

// FileProbe reports the on-disk state of a file, letting
// FileMetadata.RequiresUpdate stay free of any concrete filesystem or
// checksum dependency (those live in pkg/verify and pkg/install).
type FileProbe interface {
	// Stat reports the size of path, and whether it exists at all.
	Stat(path string) (size int64, exists bool, err error)
	// Checksum computes the Adler-32 of path's contents.
	Checksum(path string) (uint32, error)
}

// RequiresUpdate implements spec.md §3: true when the file is absent,
// a different size, or a different checksum than what is on disk.
func (f FileMetadata) RequiresUpdate(probe FileProbe) (bool, error) {
	size, exists, err := probe.Stat(f.Path)
	if err != nil {
		return false, ferrors.New("FileMetadata.RequiresUpdate", ferrors.IoFailed, err)
	}
	if !exists {
		return true, nil
	}
	if size != f.Size {
		return true, nil
	}
	sum, err := probe.Checksum(f.Path)
	if err != nil {
		return false, ferrors.New("FileMetadata.RequiresUpdate", ferrors.IoFailed, err)
	}
	return sum != f.Checksum, nil
}

// osSuffixPattern recognizes filenames like "app-linux.bin" for the
// dynamic OS inference described in spec.md §4.3.
var osSuffixPattern = regexp.MustCompile(`.+-(linux|win|mac)\.[^.]+$`)

// InferOS returns the OS implied by filename's "-linux|-win|-mac"
// suffix, or AnyOS if the filename does not match.
func InferOS(filename string) OS {
	m := osSuffixPattern.FindStringSubmatch(filename)
	if m == nil {
		return AnyOS
	}
	switch m[1] {
	case "linux":
		return Linux
	case "win":
		return Windows
	case "mac":
		return Mac
	default:
		return AnyOS
	}
}

// Descriptor is the immutable snapshot of a remote release (spec.md
// §3). Values are never mutated in place; Sync and Builder produce new
// instances.
type Descriptor struct {
	Timestamp          time.Time
	BaseURI            string
	BasePath           string
	UpdateHandlerClass string
	LauncherClass      string
	Properties         []properties.Property
	Files              []FileMetadata
	Signature          string // base64, optional
}

// Validate enforces the cross-file invariant from spec.md §3: no two
// FileMetadata entries, once resolved, share a final local path.
func (d Descriptor) Validate(currentOS OS) error {
	seen := make(map[string]bool, len(d.Files))
	for _, f := range d.Files {
		if err := f.Validate(currentOS); err != nil {
			return err
		}
		if f.Path == "" {
			continue
		}
		if seen[f.Path] {
			return ferrors.New("Descriptor.Validate", ferrors.DuplicatePath,
				fmt.Errorf("duplicate local path %q", f.Path))
		}
		seen[f.Path] = true
	}
	return nil
}

// FilesForOS returns the subset of Files that apply to os, in their
// original order.
func (d Descriptor) FilesForOS(os OS) []FileMetadata {
	out := make([]FileMetadata, 0, len(d.Files))
	for _, f := range d.Files {
		if f.AppliesToOS(os) {
			out = append(out, f)
		}
	}
	return out
}

// SortedByPath returns a copy of files ordered by destination path,
// the deterministic commit order spec.md §9 calls for.
func SortedByPath(files []FileMetadata) []FileMetadata {
	out := make([]FileMetadata, len(files))
	copy(out, files)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func isAbsoluteURI(uri string) bool {
	for i, r := range uri {
		if r == ':' {
			return i > 0
		}
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return false
		}
	}
	return false
}
