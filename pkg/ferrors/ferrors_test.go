package ferrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mattcburns/fleetupdate/pkg/ferrors"
)

func TestNew_ErrorIncludesOpKindAndWrappedError(t *testing.T) {
	t.Parallel()

	wrapped := errors.New("boom")
	err := ferrors.New("descriptor.Parse", ferrors.DescriptorInvalid, wrapped)

	got := err.Error()
	want := "descriptor.Parse: descriptor_invalid: boom"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, wrapped) {
		t.Fatalf("errors.Is(err, wrapped) = false, want true via Unwrap")
	}
}

func TestError_WithNilWrappedErrorOmitsColonSuffix(t *testing.T) {
	t.Parallel()

	err := ferrors.New("verify.ValidateFile", ferrors.SizeMismatch, nil)
	want := "verify.ValidateFile: size_mismatch"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestIs_MatchesDirectKind(t *testing.T) {
	t.Parallel()

	err := ferrors.New("install.SecureMove", ferrors.AccessDenied, nil)
	if !ferrors.Is(err, ferrors.AccessDenied) {
		t.Fatalf("Is(err, AccessDenied) = false, want true")
	}
	if ferrors.Is(err, ferrors.FileLocked) {
		t.Fatalf("Is(err, FileLocked) = true, want false")
	}
}

func TestIs_MatchesThroughWrappingChain(t *testing.T) {
	t.Parallel()

	inner := ferrors.New("archive.Open", ferrors.TamperedArchive, nil)
	outer := fmt.Errorf("opening archive: %w", inner)

	if !ferrors.Is(outer, ferrors.TamperedArchive) {
		t.Fatalf("Is(outer, TamperedArchive) = false, want true through %%w wrapping")
	}
}

func TestIs_FalseForPlainError(t *testing.T) {
	t.Parallel()

	if ferrors.Is(errors.New("plain"), ferrors.IoFailed) {
		t.Fatalf("Is() = true for a plain error, want false")
	}
	if ferrors.Is(nil, ferrors.IoFailed) {
		t.Fatalf("Is(nil, ...) = true, want false")
	}
}

func TestNilError_ErrorStringIsEmpty(t *testing.T) {
	t.Parallel()

	var err *ferrors.Error
	if got := err.Error(); got != "" {
		t.Fatalf("(*Error)(nil).Error() = %q, want empty string", got)
	}
}
