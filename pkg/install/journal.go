package install

import (
	"bytes"
	"encoding/gob"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/mattcburns/fleetupdate/pkg/ferrors"
)

// JournalName is the fixed filename spec.md §3/§6 mandates:
// <temp_dir>/.update.
const JournalName = ".update"

// Journal is the small serialized tempFile->finalPath map spec.md §3
// describes, gob-encoded in the teacher's small-serialized-state
// style (internal/database's own persistence is SQL-backed, but the
// journal is a same-process-family artifact, not an interchange
// format, so gob is the idiomatic Go answer here -- see DESIGN.md).
type Journal map[string]string

// JournalPath returns the fixed journal location under tempDir.
func JournalPath(tempDir string) string {
	return filepath.Join(tempDir, JournalName)
}

// WriteJournal serializes j to <tempDir>/.update and marks it hidden
// on Windows.
func WriteJournal(tempDir string, j Journal) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(j); err != nil {
		return ferrors.New("install.WriteJournal", ferrors.IoFailed, err)
	}
	path := JournalPath(tempDir)
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return ferrors.New("install.WriteJournal", ferrors.IoFailed, err)
	}
	if runtime.GOOS == "windows" {
		if err := hideWindows(path); err != nil {
			return ferrors.New("install.WriteJournal", ferrors.IoFailed, err)
		}
	}
	return nil
}

// ReadJournal loads the journal at <tempDir>/.update.
func ReadJournal(tempDir string) (Journal, error) {
	data, err := os.ReadFile(JournalPath(tempDir))
	if err != nil {
		return nil, ferrors.New("install.ReadJournal", ferrors.IoFailed, err)
	}
	var j Journal
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&j); err != nil {
		return nil, ferrors.New("install.ReadJournal", ferrors.IoFailed, err)
	}
	return j, nil
}

// DeleteJournal removes the journal file, and the staging directory
// itself if it is left empty, per spec.md §4.4's cleanup path.
func DeleteJournal(tempDir string) error {
	path := JournalPath(tempDir)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ferrors.New("install.DeleteJournal", ferrors.IoFailed, err)
	}
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return ferrors.New("install.DeleteJournal", ferrors.IoFailed, err)
	}
	if len(entries) == 0 {
		if err := os.Remove(tempDir); err != nil && !errors.Is(err, os.ErrNotExist) {
			return ferrors.New("install.DeleteJournal", ferrors.IoFailed, err)
		}
	}
	return nil
}

// FinalizeUpdate implements update.FinalizeUpdate (spec.md §8
// scenario S5): move every journaled temp file to its final
// destination and remove the journal. If any destination is locked,
// no move occurs for any entry and FileLocked is returned -- the
// pre-flight pass below runs VerifyAccessible for every destination
// before the first rename, so a partially-applied finalize cannot
// happen for the locked-file case specifically named by the spec.
func FinalizeUpdate(tempDir string) error {
	j, err := ReadJournal(tempDir)
	if err != nil {
		return err
	}

	dests := make([]string, 0, len(j))
	for _, dst := range j {
		dests = append(dests, dst)
	}
	for _, dst := range dests {
		if err := VerifyAccessible(dst); err != nil {
			return err
		}
	}

	srcs := make([]string, 0, len(j))
	for src := range j {
		srcs = append(srcs, src)
	}
	sort.Strings(srcs)
	for _, src := range srcs {
		if err := SecureMove(src, j[src]); err != nil {
			return err
		}
	}
	return DeleteJournal(tempDir)
}
