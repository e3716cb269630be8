// Package verify implements the integrity and signature checks of
// spec.md §4.5: Adler-32 checksumming and per-file / descriptor-level
// signature verification over SHA256with{RSA,ECDSA,DSA}.
package verify

import (
	"fmt"
	"hash/adler32"
	"io"
	"os"
	"strconv"

	"github.com/mattcburns/fleetupdate/pkg/ferrors"
)

// Checksum computes the Adler-32 checksum of path's contents.
func Checksum(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, ferrors.New("verify.Checksum", ferrors.IoFailed, err)
	}
	defer f.Close()
	h := adler32.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, ferrors.New("verify.Checksum", ferrors.IoFailed, err)
	}
	return h.Sum32(), nil
}

// ChecksumBytes computes the Adler-32 checksum of an in-memory body,
// for callers (e.g. the archive reader) that already hold the full
// content rather than a file on disk.
func ChecksumBytes(body []byte) uint32 {
	return adler32.Checksum(body)
}

// FormatChecksum renders an Adler-32 sum as lowercase hex with no
// leading zeros, matching spec.md §4.5's serialization rule.
func FormatChecksum(sum uint32) string {
	return strconv.FormatUint(uint64(sum), 16)
}

// Size reports the byte length of path.
func Size(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, ferrors.New("verify.Size", ferrors.IoFailed, err)
	}
	return fi.Size(), nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// File implements the descriptor.FileProbe seam with the real
// filesystem and Adler-32 behind it, so descriptor.FileMetadata.
// RequiresUpdate can run against disk without depending on pkg/verify
// directly.
type File struct{}

// Stat reports path's size and existence.
func (File) Stat(path string) (int64, bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return fi.Size(), true, nil
}

// Checksum computes the Adler-32 of path.
func (File) Checksum(path string) (uint32, error) {
	return Checksum(path)
}

// ValidateFile applies spec.md §4.5 steps 1–2: size then checksum.
func ValidateFile(tempPath string, wantSize int64, wantChecksum uint32) error {
	size, err := Size(tempPath)
	if err != nil {
		return err
	}
	if size != wantSize {
		return ferrors.New("verify.ValidateFile", ferrors.SizeMismatch,
			fmt.Errorf("downloaded size %d does not match expected %d", size, wantSize))
	}
	sum, err := Checksum(tempPath)
	if err != nil {
		return err
	}
	if sum != wantChecksum {
		return ferrors.New("verify.ValidateFile", ferrors.ChecksumMismatch,
			fmt.Errorf("checksum %s does not match expected %s", FormatChecksum(sum), FormatChecksum(wantChecksum)))
	}
	return nil
}
