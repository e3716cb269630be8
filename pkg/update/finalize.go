package update

import "github.com/mattcburns/fleetupdate/pkg/install"

// FinalizeUpdate completes a deferred ("staged") update: it is the
// standalone entry point SPEC_FULL.md's supplemented features call
// for, callable with no Descriptor or Observer on hand -- typically
// from a freshly relaunched process that only knows its own temp
// directory. It delegates to pkg/install, which owns the actual
// journal format and move order.
func FinalizeUpdate(tempDir string) error {
	return install.FinalizeUpdate(tempDir)
}
