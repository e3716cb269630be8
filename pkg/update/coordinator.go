// Package update implements the Coordinator state machine of spec.md
// §4.4: check -> download -> validate -> commit, driving the Observer
// protocol (observer.go) and producing either an in-place install, a
// staged journal for deferred finalize, or an Archive. Grounded on the
// teacher's internal/provisioner/dispatcher.Run shape (a single
// Config->error entry point with deferred panic recovery and injected
// Logger/Now/Exec) and internal/provisioner/jobs.Worker's
// Store-as-seam pattern, with Observer playing the role the teacher's
// Store plays: an injected collaborator the core calls in a fixed
// order.
package update

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattcburns/fleetupdate/internal/logging"
	"github.com/mattcburns/fleetupdate/pkg/archive"
	"github.com/mattcburns/fleetupdate/pkg/descriptor"
	"github.com/mattcburns/fleetupdate/pkg/ferrors"
	"github.com/mattcburns/fleetupdate/pkg/install"
	"github.com/mattcburns/fleetupdate/pkg/verify"
)

// chunkSize is the streaming unit spec.md §4.4 mandates for feeding
// downloaded bytes to disk and to the running signature verifier.
const chunkSize = 8 * 1024

// Config configures one Coordinator run.
type Config struct {
	Descriptor descriptor.Descriptor
	CurrentOS  descriptor.OS
	Observer   Observer

	// Registry, if non-nil, resolves Descriptor.UpdateHandlerClass to a
	// registered Observer implementation before falling back to
	// DefaultObserver (spec.md §9's "find(interface,
	// preferred-class-name?) -> Observer"). Ignored when Observer is
	// already set explicitly.
	Registry *Registry
	// DefaultObserver is the Registry's fallback when
	// Descriptor.UpdateHandlerClass is empty or unregistered, and the
	// plain default when Registry is nil. Nil means NewDefaultObserver().
	DefaultObserver Observer

	// TempDir, if non-empty, selects staged-commit mode: downloads
	// complete and an UpdateJournal is written, but no final location is
	// touched until a later FinalizeUpdate call.
	TempDir string
	// ArchivePath, if non-empty, selects archive mode: downloaded files
	// are packaged into a ZIP archive at this path instead of being
	// installed anywhere.
	ArchivePath string
	// Dynamic is written to /reserved/dynamic when ArchivePath is set.
	Dynamic map[string]string

	// PublicKey, if non-nil, turns on per-file signature verification
	// (spec.md §4.5). Absent, a side-band warning is logged and
	// signature checks are skipped.
	PublicKey verify.PublicKey

	Logger *slog.Logger
	Now    func() time.Time
}

// Mode reports which of the three commit strategies a Config selects.
type Mode int

const (
	ModeInPlace Mode = iota
	ModeStaged
	ModeArchive
)

func (c Config) mode() Mode {
	switch {
	case c.ArchivePath != "":
		return ModeArchive
	case c.TempDir != "":
		return ModeStaged
	default:
		return ModeInPlace
	}
}

// Result reports the outcome of one Run.
type Result struct {
	RequiresUpdate []descriptor.FileMetadata
	Updated        []descriptor.FileMetadata
	Success        bool
}

// Coordinator drives one update run to completion.
type Coordinator struct {
	cfg Config
}

// New builds a Coordinator for cfg, filling in Logger/Now/Observer
// defaults.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = logging.New("info")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Observer == nil {
		def := cfg.DefaultObserver
		if def == nil {
			def = NewDefaultObserver()
		}
		if cfg.Registry != nil {
			res := cfg.Registry.Resolve(cfg.Descriptor.UpdateHandlerClass, def)
			cfg.Observer = res.Observer
			cfg.Logger.Info("resolved update handler",
				slog.String("preferred", cfg.Descriptor.UpdateHandlerClass),
				slog.String("instance_id", res.InstanceID),
				slog.Bool("matched", res.Matched))
		} else {
			cfg.Observer = def
		}
	}
	return &Coordinator{cfg: cfg}
}

// Run executes the full check -> download -> validate -> commit
// pipeline described in spec.md §4.4. It never panics to the caller:
// any internal error, or any error/panic raised from within the
// Observer, is caught, the cleanup path runs, observer.Failed is
// called, and Run returns a non-nil error -- mirroring the teacher's
// dispatcher.Run's deferred recover().
func (c *Coordinator) Run(ctx context.Context) (result Result, err error) {
	run := &runState{cfg: c.cfg, logger: c.cfg.Logger}

	if aware, ok := c.cfg.Observer.(ContextAware); ok {
		aware.SetContext(&UpdateContext{
			Descriptor:     c.cfg.Descriptor,
			RequiresUpdate: &run.requiresUpdate,
			Updated:        &run.updated,
			TempDir:        c.cfg.TempDir,
			PublicKey:      c.cfg.PublicKey,
			ArchivePath:    c.cfg.ArchivePath,
		})
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("update: panic: %v", r)
		}
		if err != nil {
			run.cleanup()
			c.cfg.Observer.Failed(err)
			c.cfg.Observer.Stop()
			result = Result{RequiresUpdate: run.requiresUpdate, Updated: run.updated, Success: false}
		}
	}()

	if err = c.cfg.Observer.Init(ctx); err != nil {
		return Result{}, err
	}

	requiresUpdate, noWork, cerr := run.check(ctx)
	if cerr != nil {
		return Result{}, cerr
	}
	if noWork {
		c.cfg.Observer.Succeeded()
		c.cfg.Observer.Stop()
		return Result{RequiresUpdate: nil, Updated: nil, Success: true}, nil
	}
	run.requiresUpdate = requiresUpdate

	updated, derr := run.download(ctx)
	if derr != nil {
		return Result{}, derr
	}
	run.updated = updated

	if cerr := run.commit(); cerr != nil {
		return Result{}, cerr
	}

	c.cfg.Observer.Succeeded()
	c.cfg.Observer.Stop()
	return Result{RequiresUpdate: run.requiresUpdate, Updated: run.updated, Success: true}, nil
}

// runState carries the mutable, per-run bookkeeping the Coordinator
// exclusively owns: the transient file->temp-path mapping (spec.md
// §3's "downloaded_collection") and the two lists an UpdateContext
// view would expose.
type runState struct {
	cfg    Config
	logger *slog.Logger

	requiresUpdate []descriptor.FileMetadata
	updated        []descriptor.FileMetadata
	tempFiles      map[string]string // FileMetadata.Path -> temp path
	archiveWriter  *archive.Writer
	archiveStarted bool
	journalWritten bool
}

func (r *runState) check(ctx context.Context) (requiresUpdate []descriptor.FileMetadata, noWork bool, err error) {
	obs := r.cfg.Observer
	files := r.cfg.Descriptor.FilesForOS(r.cfg.CurrentOS)

	if derr := r.cfg.Descriptor.Validate(r.cfg.CurrentOS); derr != nil {
		return nil, false, derr
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}

	obs.StartCheckUpdates()
	var checked int64
	probe := verify.File{}
	for _, f := range files {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if !obs.ShouldCheckForUpdate(f) {
			continue
		}
		obs.StartCheckUpdateFile(f)
		needs, rerr := f.RequiresUpdate(probe)
		if rerr != nil {
			return nil, false, rerr
		}
		if needs {
			requiresUpdate = append(requiresUpdate, f)
			r.requiresUpdate = requiresUpdate
		}
		checked += f.Size
		obs.DoneCheckUpdateFile(f, needs)
		obs.UpdateCheckUpdatesProgress(clamp01(fraction(checked, total)))
	}
	obs.DoneCheckUpdates()

	return requiresUpdate, len(requiresUpdate) == 0, nil
}

func (r *runState) download(ctx context.Context) ([]descriptor.FileMetadata, error) {
	obs := r.cfg.Observer
	r.tempFiles = map[string]string{}

	if r.cfg.PublicKey == nil {
		r.logger.Warn("no public key supplied; per-file signatures will not be verified")
	}

	var total int64
	for _, f := range r.requiresUpdate {
		total += f.Size
	}

	obs.StartDownloads()
	var downloaded int64
	var updated []descriptor.FileMetadata

	for _, f := range r.requiresUpdate {
		obs.StartDownloadFile(f)

		stream, err := obs.OpenDownloadStream(f)
		if err != nil {
			return nil, ferrors.New("update.download", ferrors.IoFailed, err)
		}

		tempPath, tempFile, err := r.createTempFile(f)
		if err != nil {
			stream.Close()
			return nil, err
		}

		obs.UpdateDownloadFileProgress(f, 0)

		sv := verify.NewStreamVerifier(r.cfg.PublicKey)
		written, werr := copyChunked(tempFile, stream, sv, func(n int64) {
			obs.UpdateDownloadFileProgress(f, clamp01(fraction(n, f.Size)))
			obs.UpdateDownloadProgress(clamp01(fraction(downloaded+n, total)))
		})
		closeErr := tempFile.Close()
		stream.Close()
		r.tempFiles[f.Path] = tempPath

		if werr != nil {
			return nil, ferrors.New("update.download", ferrors.IoFailed, werr)
		}
		if closeErr != nil {
			return nil, ferrors.New("update.download", ferrors.IoFailed, closeErr)
		}

		obs.ValidatingFile(f, tempPath)
		if verr := verify.ValidateFile(tempPath, f.Size, f.Checksum); verr != nil {
			return nil, verr
		}
		if r.cfg.PublicKey != nil {
			if verr := sv.Verify(f.Signature); verr != nil {
				return nil, verr
			}
		}

		updated = append(updated, f)
		r.updated = updated
		obs.DoneDownloadFile(f, tempPath)
		downloaded += written
	}
	obs.DoneDownloads()

	return updated, nil
}

func (r *runState) createTempFile(f descriptor.FileMetadata) (string, *os.File, error) {
	dir := r.cfg.TempDir
	if dir == "" {
		dir = filepath.Dir(f.Path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, ferrors.New("update.createTempFile", ferrors.IoFailed, err)
	}
	tf, err := os.CreateTemp(dir, ".fleetupdate-*")
	if err != nil {
		return "", nil, ferrors.New("update.createTempFile", ferrors.IoFailed, err)
	}
	return tf.Name(), tf, nil
}

func copyChunked(dst io.Writer, src io.Reader, verifier io.Writer, progress func(written int64)) (int64, error) {
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			if _, werr := verifier.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			progress(total)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

func (r *runState) commit() error {
	switch r.cfg.mode() {
	case ModeInPlace:
		return r.commitInPlace()
	case ModeStaged:
		return r.commitStaged()
	case ModeArchive:
		return r.commitArchive()
	default:
		return ferrors.New("update.commit", ferrors.IoFailed, fmt.Errorf("unknown commit mode"))
	}
}

// commitInPlace is explicitly not transactional across files, per
// spec.md §4.4: a failure partway through leaves some destinations
// updated and others not. Destinations are renamed in a deterministic
// (lexicographic) order, per the Open Question resolution in spec.md
// §9, and every VerifyAccessible check runs before the first rename to
// shrink the partial-failure window.
func (r *runState) commitInPlace() error {
	sorted := descriptor.SortedByPath(r.updated)
	for _, f := range sorted {
		if err := install.VerifyAccessible(f.Path); err != nil {
			return err
		}
	}
	for _, f := range sorted {
		tempPath := r.tempFiles[f.Path]
		if err := install.SecureMove(tempPath, f.Path); err != nil {
			return err
		}
	}
	return nil
}

func (r *runState) commitStaged() error {
	j := install.Journal{}
	for _, f := range r.updated {
		j[r.tempFiles[f.Path]] = f.Path
	}
	if err := install.WriteJournal(r.cfg.TempDir, j); err != nil {
		return err
	}
	r.journalWritten = true
	return nil
}

func (r *runState) commitArchive() error {
	w := archive.NewWriter(r.cfg.ArchivePath)
	r.archiveWriter = w
	r.archiveStarted = true

	for _, f := range r.updated {
		body, err := os.ReadFile(r.tempFiles[f.Path])
		if err != nil {
			return ferrors.New("update.commitArchive", ferrors.IoFailed, err)
		}
		if _, err := w.AddFile(f.Path, body); err != nil {
			return ferrors.New("update.commitArchive", ferrors.IoFailed, err)
		}
	}
	if err := w.Close(r.cfg.Descriptor, r.cfg.Dynamic); err != nil {
		return err
	}
	for _, tempPath := range r.tempFiles {
		os.Remove(tempPath)
	}
	return nil
}

// cleanup implements spec.md §4.4's failure path: delete every temp
// file, delete the journal/staging dir in staged mode, delete the
// archive file in archive mode if it was never finished.
func (r *runState) cleanup() {
	for _, tempPath := range r.tempFiles {
		os.Remove(tempPath)
	}
	if r.cfg.mode() == ModeStaged && r.cfg.TempDir != "" {
		install.DeleteJournal(r.cfg.TempDir)
	}
	if r.cfg.mode() == ModeArchive && r.archiveStarted {
		if r.archiveWriter != nil {
			r.archiveWriter.Abort()
		}
	}
}

func fraction(n, total int64) float64 {
	if total <= 0 {
		return 1
	}
	return float64(n) / float64(total)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
