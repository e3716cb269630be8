package update

import (
	"context"
	"io"

	"github.com/mattcburns/fleetupdate/internal/transport"
	"github.com/mattcburns/fleetupdate/pkg/descriptor"
)

// Observer is the capability-bearing collaborator spec.md §4.8
// describes: the Coordinator invokes these callbacks, in the fixed
// order of §4.4, for the duration of one update run. Every method is
// optional except OpenDownloadStream -- BaseObserver supplies a no-op
// (or, for ShouldCheckForUpdate, "always true") default for the rest,
// so callers embed it and override only what they need, the same way
// the teacher's jobs.Store seam is satisfied piecemeal by test doubles.
type Observer interface {
	Init(ctx context.Context) error
	Stop()

	StartCheckUpdates()
	ShouldCheckForUpdate(f descriptor.FileMetadata) bool
	StartCheckUpdateFile(f descriptor.FileMetadata)
	DoneCheckUpdateFile(f descriptor.FileMetadata, requiresUpdate bool)
	UpdateCheckUpdatesProgress(frac float64)
	DoneCheckUpdates()

	StartDownloads()
	OpenDownloadStream(f descriptor.FileMetadata) (io.ReadCloser, error)
	StartDownloadFile(f descriptor.FileMetadata)
	UpdateDownloadFileProgress(f descriptor.FileMetadata, frac float64)
	UpdateDownloadProgress(frac float64)

	ValidatingFile(f descriptor.FileMetadata, tempPath string)
	DoneDownloadFile(f descriptor.FileMetadata, tempPath string)
	DoneDownloads()

	Succeeded()
	Failed(err error)
}

// BaseObserver implements every Observer method as a no-op (or, for
// ShouldCheckForUpdate, "true"), so embedders only override what they
// care about.
type BaseObserver struct{}

func (BaseObserver) Init(ctx context.Context) error { return nil }
func (BaseObserver) Stop()                          {}

func (BaseObserver) StartCheckUpdates()                                                  {}
func (BaseObserver) ShouldCheckForUpdate(f descriptor.FileMetadata) bool                  { return true }
func (BaseObserver) StartCheckUpdateFile(f descriptor.FileMetadata)                       {}
func (BaseObserver) DoneCheckUpdateFile(f descriptor.FileMetadata, requiresUpdate bool)   {}
func (BaseObserver) UpdateCheckUpdatesProgress(frac float64)                              {}
func (BaseObserver) DoneCheckUpdates()                                                    {}

func (BaseObserver) StartDownloads()                                                     {}
func (BaseObserver) OpenDownloadStream(f descriptor.FileMetadata) (io.ReadCloser, error) {
	return nil, errUnimplementedStream
}
func (BaseObserver) StartDownloadFile(f descriptor.FileMetadata)                         {}
func (BaseObserver) UpdateDownloadFileProgress(f descriptor.FileMetadata, frac float64)   {}
func (BaseObserver) UpdateDownloadProgress(frac float64)                                  {}

func (BaseObserver) ValidatingFile(f descriptor.FileMetadata, tempPath string)  {}
func (BaseObserver) DoneDownloadFile(f descriptor.FileMetadata, tempPath string) {}
func (BaseObserver) DoneDownloads()                                             {}

func (BaseObserver) Succeeded()        {}
func (BaseObserver) Failed(err error)  {}

var errUnimplementedStream = &streamError{"observer has no OpenDownloadStream implementation"}

type streamError struct{ msg string }

func (e *streamError) Error() string { return e.msg }

// DefaultObserver is the working default the spec calls for: it
// supplies OpenDownloadStream via internal/transport (the http(s)://,
// file://, and sftp:// byte-stream provider), and otherwise behaves
// like BaseObserver.
type DefaultObserver struct {
	BaseObserver
	Transport transport.Config
}

// NewDefaultObserver builds a DefaultObserver with spec.md §4.8's 10s
// connect/read timeouts.
func NewDefaultObserver() *DefaultObserver {
	return &DefaultObserver{Transport: transport.DefaultConfig()}
}

// OpenDownloadStream opens f.URI through internal/transport.
func (o *DefaultObserver) OpenDownloadStream(f descriptor.FileMetadata) (io.ReadCloser, error) {
	return transport.Open(context.Background(), f.URI, o.Transport)
}
