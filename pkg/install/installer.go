// Package install implements the atomic installer of spec.md §4.6:
// platform-aware swap of a temporary file onto its destination, an
// accessibility pre-check, and the deferred-install journal (journal.go).
package install

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mattcburns/fleetupdate/pkg/ferrors"
)

// SecureMove moves src onto dst, grounded on the temp-in-same-dir,
// rename-into-place pattern of the teacher's iso.writeAtomic, extended
// with the non-Windows rename-out/rename-in/rollback dance spec.md
// §4.6 requires so a running binary's inode can be unlinked safely.
func SecureMove(src, dst string) error {
	if runtime.GOOS == "windows" {
		return renameOverwrite(src, dst)
	}
	if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
		return renameOverwrite(src, dst)
	}

	sibling := dst + ".tmp"
	if err := os.Rename(dst, sibling); err != nil {
		return ferrors.New("install.SecureMove", ferrors.IoFailed, err)
	}
	if err := os.Rename(src, dst); err != nil {
		// Roll back: dst never ended up replaced, so restore it from
		// the sibling before surfacing the failure.
		if rbErr := os.Rename(sibling, dst); rbErr != nil {
			return ferrors.New("install.SecureMove", ferrors.IoFailed,
				errors.Join(err, rbErr))
		}
		return ferrors.New("install.SecureMove", ferrors.IoFailed, err)
	}
	if err := os.Remove(sibling); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ferrors.New("install.SecureMove", ferrors.IoFailed, err)
	}
	return nil
}

func renameOverwrite(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ferrors.New("install.SecureMove", ferrors.IoFailed, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return ferrors.New("install.SecureMove", ferrors.IoFailed, err)
	}
	return nil
}

// VerifyAccessible implements spec.md §4.6: if path exists and is not
// writable, fail AccessDenied; otherwise perform a no-op
// open-in-append-or-create and close it, creating parent directories
// as needed, deleting any file the probe itself created.
func VerifyAccessible(path string) error {
	if fi, err := os.Stat(path); err == nil {
		if fi.Mode().Perm()&0o200 == 0 {
			return ferrors.New("install.VerifyAccessible", ferrors.AccessDenied,
				errors.New("destination is not writable"))
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return ferrors.New("install.VerifyAccessible", ferrors.IoFailed, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ferrors.New("install.VerifyAccessible", ferrors.IoFailed, err)
	}

	createdHere := !fileExists(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsPermission(err) {
			return ferrors.New("install.VerifyAccessible", ferrors.AccessDenied, err)
		}
		return ferrors.New("install.VerifyAccessible", ferrors.FileLocked, err)
	}
	if err := f.Close(); err != nil {
		return ferrors.New("install.VerifyAccessible", ferrors.IoFailed, err)
	}
	if createdHere {
		if err := os.Remove(path); err != nil {
			return ferrors.New("install.VerifyAccessible", ferrors.IoFailed, err)
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CopyFile is a small helper that materializes a body from a reader
// onto disk without the SecureMove contract: it truncates and writes
// dst directly, with no swap-out of an existing destination.
func CopyFile(dst string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ferrors.New("install.CopyFile", ferrors.IoFailed, err)
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return ferrors.New("install.CopyFile", ferrors.IoFailed, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return ferrors.New("install.CopyFile", ferrors.IoFailed, err)
	}
	return nil
}
