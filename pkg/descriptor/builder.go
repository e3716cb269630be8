package descriptor

import (
	"crypto"
	"os"
	"time"

	"github.com/mattcburns/fleetupdate/pkg/ferrors"
	"github.com/mattcburns/fleetupdate/pkg/properties"
	"github.com/mattcburns/fleetupdate/pkg/verify"
)

// Builder is the fluent construction API SPEC_FULL.md's supplemented
// features call for: a typed alternative to hand-assembling a
// Descriptor literal, grounded on the teacher's internal/provisioner's
// options-struct-plus-With* pattern but adapted to chained method
// calls since a Descriptor's Files/Properties grow incrementally.
type Builder struct {
	d Descriptor
}

// NewBuilder starts a Builder with timestamp defaulted to now.
func NewBuilder() *Builder {
	return &Builder{d: Descriptor{Timestamp: time.Now().UTC()}}
}

// BaseURI sets the descriptor's remote base URI.
func (b *Builder) BaseURI(uri string) *Builder {
	b.d.BaseURI = uri
	return b
}

// BasePath sets the descriptor's local install base path.
func (b *Builder) BasePath(path string) *Builder {
	b.d.BasePath = path
	return b
}

// UpdateHandler sets the registered Observer name to prefer for this
// release.
func (b *Builder) UpdateHandler(name string) *Builder {
	b.d.UpdateHandlerClass = name
	return b
}

// Launcher sets the registered launcher name to prefer for this
// release.
func (b *Builder) Launcher(name string) *Builder {
	b.d.LauncherClass = name
	return b
}

// Property appends a property entry.
func (b *Builder) Property(p properties.Property) *Builder {
	b.d.Properties = append(b.d.Properties, p)
	return b
}

// File appends a file entry.
func (b *Builder) File(f FileMetadata) *Builder {
	b.d.Files = append(b.d.Files, f)
	return b
}

// Timestamp overrides the default now() timestamp.
func (b *Builder) Timestamp(t time.Time) *Builder {
	b.d.Timestamp = t
	return b
}

// Build validates the assembled Descriptor against currentOS and
// returns it.
func (b *Builder) Build(currentOS OS) (Descriptor, error) {
	if err := b.d.Validate(currentOS); err != nil {
		return Descriptor{}, err
	}
	return b.d, nil
}

// SyncOptions configures Sync.
type SyncOptions struct {
	// Root overrides FileMetadata.Path's filesystem base; empty means
	// paths are used as-is.
	Root string
	// PrivateKey, if non-nil, re-signs each file and the descriptor
	// itself after resyncing size/checksum.
	PrivateKey crypto.Signer
}

// Sync recomputes size, checksum, and (if PrivateKey is set) signature
// for every file in d by reading it from disk, and refreshes d's
// Timestamp to now. Files missing from disk are left untouched rather
// than failing the whole sync, matching SPEC_FULL.md's "a release
// author stages files on disk, then syncs the descriptor to match"
// workflow this supplements beyond the distilled spec's read-only
// Descriptor.
func Sync(d Descriptor, opts SyncOptions) (Descriptor, error) {
	draft := FromDescriptor(d)

	for i, f := range draft.Files {
		path := f.Path
		if opts.Root != "" {
			path = joinPath(opts.Root, f.Path)
		}
		if !verify.Exists(path) {
			continue
		}
		size, err := verify.Size(path)
		if err != nil {
			return Descriptor{}, err
		}
		sum, err := verify.Checksum(path)
		if err != nil {
			return Descriptor{}, err
		}
		f.Size = size
		f.Checksum = sum
		if opts.PrivateKey != nil {
			body, err := os.ReadFile(path)
			if err != nil {
				return Descriptor{}, ferrors.New("descriptor.Sync", ferrors.IoFailed, err)
			}
			sig, err := verify.Sign(opts.PrivateKey, body)
			if err != nil {
				return Descriptor{}, err
			}
			f.Signature = sig
		}
		draft.Files[i] = f
	}

	draft.Timestamp = time.Now().UTC().Format(timestampLayout)

	out, err := draft.ToDescriptor()
	if err != nil {
		return Descriptor{}, err
	}

	if opts.PrivateKey != nil {
		out.Signature = ""
		body, err := SerializedChildren(out)
		if err != nil {
			return Descriptor{}, err
		}
		sig, err := verify.Sign(opts.PrivateKey, body)
		if err != nil {
			return Descriptor{}, err
		}
		out.Signature = sig
	}

	return out, nil
}
