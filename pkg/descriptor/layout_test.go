package descriptor_test

import (
	"testing"

	"github.com/mattcburns/fleetupdate/pkg/descriptor"
)

func TestResolveLayout_DerivesPathFromURI(t *testing.T) {
	t.Parallel()

	f := descriptor.FileMetadata{URI: "https://updates.example.com/app/lib/core.jar"}
	got := descriptor.ResolveLayout(f, "https://updates.example.com/app", "/opt/app")
	if want := "/opt/app/lib/core.jar"; got.Path != want {
		t.Fatalf("Path = %q, want %q", got.Path, want)
	}
}

func TestResolveLayout_DerivesURIFromPath(t *testing.T) {
	t.Parallel()

	f := descriptor.FileMetadata{Path: "/opt/app/lib/core.jar"}
	got := descriptor.ResolveLayout(f, "https://updates.example.com/app", "/opt/app")
	if want := "https://updates.example.com/app/lib/core.jar"; got.URI != want {
		t.Fatalf("URI = %q, want %q", got.URI, want)
	}
}

func TestResolveLayout_InfersOSFromFilename(t *testing.T) {
	t.Parallel()

	f := descriptor.FileMetadata{Path: "/opt/app/lib/launcher-win.exe"}
	got := descriptor.ResolveLayout(f, "", "/opt/app")
	if got.OS != descriptor.Windows {
		t.Fatalf("OS = %v, want Windows", got.OS)
	}
}

func TestResolveLayout_UnrelatedURIFallsBackToBasename(t *testing.T) {
	t.Parallel()

	f := descriptor.FileMetadata{URI: "https://cdn.other.example.com/bundle/core.jar"}
	got := descriptor.ResolveLayout(f, "https://updates.example.com/app", "/opt/app")
	if want := "/opt/app/core.jar"; got.Path != want {
		t.Fatalf("Path = %q, want %q", got.Path, want)
	}
}
