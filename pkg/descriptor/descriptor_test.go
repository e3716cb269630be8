package descriptor_test

import (
	"testing"

	"github.com/mattcburns/fleetupdate/pkg/descriptor"
	"github.com/mattcburns/fleetupdate/pkg/ferrors"
)

type fakeProbe struct {
	size    int64
	exists  bool
	sum     uint32
	statErr error
}

func (p fakeProbe) Stat(string) (int64, bool, error)  { return p.size, p.exists, p.statErr }
func (p fakeProbe) Checksum(string) (uint32, error)   { return p.sum, nil }

func TestFileMetadata_RequiresUpdate(t *testing.T) {
	t.Parallel()

	f := descriptor.FileMetadata{Path: "/opt/app/app.jar", Size: 100, Checksum: 42}

	cases := []struct {
		name  string
		probe fakeProbe
		want  bool
	}{
		{"missing", fakeProbe{exists: false}, true},
		{"size mismatch", fakeProbe{exists: true, size: 99, sum: 42}, true},
		{"checksum mismatch", fakeProbe{exists: true, size: 100, sum: 1}, true},
		{"up to date", fakeProbe{exists: true, size: 100, sum: 42}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.RequiresUpdate(tc.probe)
			if err != nil {
				t.Fatalf("RequiresUpdate() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("RequiresUpdate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFileMetadata_ValidateRequiresAbsolutePaths(t *testing.T) {
	t.Parallel()

	f := descriptor.FileMetadata{URI: "relative/app.jar", Path: "/opt/app/app.jar"}
	if err := f.Validate(descriptor.Linux); !ferrors.Is(err, ferrors.DescriptorInvalid) {
		t.Fatalf("Validate() error = %v, want DescriptorInvalid", err)
	}
}

func TestFileMetadata_ValidateSkipsEntriesOutOfOSScope(t *testing.T) {
	t.Parallel()

	f := descriptor.FileMetadata{OS: descriptor.Windows, URI: "not-absolute"}
	if err := f.Validate(descriptor.Linux); err != nil {
		t.Fatalf("Validate() error = %v, want nil for out-of-scope file", err)
	}
}

func TestDescriptor_ValidateDetectsDuplicatePaths(t *testing.T) {
	t.Parallel()

	d := descriptor.Descriptor{
		Files: []descriptor.FileMetadata{
			{URI: "https://example.com/a.jar", Path: "/opt/app/a.jar"},
			{URI: "https://example.com/b.jar", Path: "/opt/app/a.jar"},
		},
	}
	if err := d.Validate(descriptor.Linux); !ferrors.Is(err, ferrors.DuplicatePath) {
		t.Fatalf("Validate() error = %v, want DuplicatePath", err)
	}
}

func TestDescriptor_FilesForOS(t *testing.T) {
	t.Parallel()

	d := descriptor.Descriptor{
		Files: []descriptor.FileMetadata{
			{Path: "/a", OS: descriptor.AnyOS},
			{Path: "/b", OS: descriptor.Windows},
			{Path: "/c", OS: descriptor.Linux},
		},
	}
	got := d.FilesForOS(descriptor.Linux)
	if len(got) != 2 {
		t.Fatalf("FilesForOS() returned %d files, want 2", len(got))
	}
}

func TestSortedByPath(t *testing.T) {
	t.Parallel()

	in := []descriptor.FileMetadata{{Path: "/c"}, {Path: "/a"}, {Path: "/b"}}
	out := descriptor.SortedByPath(in)
	if out[0].Path != "/a" || out[1].Path != "/b" || out[2].Path != "/c" {
		t.Fatalf("SortedByPath() = %v, want a,b,c order", out)
	}
	if in[0].Path != "/c" {
		t.Fatalf("SortedByPath() mutated its input")
	}
}

func TestInferOS(t *testing.T) {
	t.Parallel()

	cases := map[string]descriptor.OS{
		"app-linux.bin": descriptor.Linux,
		"app-win.exe":   descriptor.Windows,
		"app-mac.dmg":   descriptor.Mac,
		"app.jar":       descriptor.AnyOS,
	}
	for name, want := range cases {
		if got := descriptor.InferOS(name); got != want {
			t.Errorf("InferOS(%q) = %v, want %v", name, got, want)
		}
	}
}
