package update

import (
	"crypto"

	"github.com/mattcburns/fleetupdate/pkg/descriptor"
)

// UpdateContext is the read-only view spec.md §6 describes: the
// active Descriptor, the live requires_update and updated lists, and
// the run's optional temp dir / public key / archive location. It is
// handed to Observers that want more than their callback arguments
// provide, mirroring the teacher's jobs.Worker read-only view structs.
type UpdateContext struct {
	Descriptor descriptor.Descriptor

	// RequiresUpdate and Updated are mutated in place by the
	// Coordinator immediately before the corresponding done_* callback,
	// per spec.md §4.4's ordering guarantee -- an Observer snapshotting
	// either slice inside done_check_update_file/done_download_file sees
	// a consistent view.
	RequiresUpdate *[]descriptor.FileMetadata
	Updated        *[]descriptor.FileMetadata

	TempDir     string
	PublicKey   crypto.PublicKey
	ArchivePath string
}

// LaunchContext is handed to the external launcher (out of core scope
// per spec.md §1) after a successful update.
type LaunchContext struct {
	Descriptor descriptor.Descriptor
	Args        []string
}

// ContextAware is an optional capability an Observer may implement to
// receive the full UpdateContext view, for collaborators that need
// more than their callback arguments provide. Coordinator.Run calls
// SetContext once, before Init, with a view whose RequiresUpdate and
// Updated pointers stay live for the rest of the run.
type ContextAware interface {
	SetContext(*UpdateContext)
}
