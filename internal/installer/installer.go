// Package installer turns a resolved catalog descriptor into a verified
// tool installation on the local filesystem. Installs are idempotent and
// never promote unverified content to their destination.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	"github.com/verikit/verikit/internal/backend"
	"github.com/verikit/verikit/internal/catalog"
	"github.com/verikit/verikit/internal/flock"
	"github.com/verikit/verikit/internal/logger"
)

var (
	// ErrIntegrityMismatch is security-relevant: it signals a corrupted
	// mirror or tampering and must never be retried with the same
	// descriptor.
	ErrIntegrityMismatch = errors.New("artifact digest does not match the catalog checksum")

	// ErrNetwork marks transient download failures that a caller may retry.
	ErrNetwork = errors.New("artifact download failed")

	// ErrPackageInstall marks a target-environment failure surfaced by the
	// package manager, e.g. an unmet OS dependency.
	ErrPackageInstall = errors.New("package manager rejected the artifact")
)

// InstalledTool references a verified artifact at its final destination.
type InstalledTool struct {
	Path     string
	Checksum digest.Digest
}

type Installer struct {
	log        *zap.Logger
	logBuilder *logger.Builder
	runner     CommandRunner

	// fetch is overridable to decouple tests from the backend
	// implementations.
	fetch func(ctx context.Context, d *catalog.Descriptor) ([]byte, error)
}

func New(logBuilder *logger.Builder, runner CommandRunner) *Installer {
	if runner == nil {
		runner = execRunner{}
	}
	i := &Installer{
		log:        logBuilder.Domain(logger.InstallDomain),
		logBuilder: logBuilder,
		runner:     runner,
	}
	i.fetch = func(ctx context.Context, d *catalog.Descriptor) ([]byte, error) {
		return d.Source.Backend(i.logBuilder).Fetch(ctx, d.Artifact())
	}
	return i
}

// EnsureInstalled makes sure the artifact described by d is present and
// verified at destination. The context bounds both the download and the
// package-manager invocation. A pre-existing file with a matching digest
// short-circuits without any network access. Concurrent invocations for the
// same destination are serialised through a file lock; distinct
// destinations are fully independent.
func (i *Installer) EnsureInstalled(ctx context.Context, d *catalog.Descriptor, destination string) (*InstalledTool, error) {
	artifact := d.Artifact()
	log := i.log.With(zap.Stringer("artifact", &artifact), zap.String("destination", destination))

	if tool := i.existing(log, d, destination); tool != nil {
		log.Debug("Destination already holds a verified artifact. Nothing to do.")
		return tool, nil
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		log.Error("Failed to create the destination directory.", zap.Error(err))
		return nil, err
	}

	for {
		owned, err := flock.AcquireFileLock(log, destination)
		if err != nil {
			return nil, err
		}
		if owned {
			break
		}
		// Another install for this destination finished while we were
		// waiting on the lock. It may already have put the right content in
		// place.
		if tool := i.existing(log, d, destination); tool != nil {
			log.Debug("A concurrent install already provided the artifact.")
			return tool, nil
		}
	}
	defer func() { _ = flock.ReleaseFileLock(log, destination) }()

	raw, err := i.fetch(ctx, d)
	if err != nil {
		if errors.Is(err, backend.ErrTransient) {
			return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		return nil, err
	}

	if sum := digest.SHA256.FromBytes(raw); sum != d.Checksum {
		log.Error("Artifact digest does not match the catalog checksum. Discarding the download.",
			zap.Stringer("want", d.Checksum),
			zap.Stringer("got", sum),
		)
		return nil, fmt.Errorf("%w: want %s, got %s", ErrIntegrityMismatch, d.Checksum, sum)
	}

	if err = i.promote(log, raw, destination, d.Format); err != nil {
		return nil, err
	}

	if d.Format == catalog.FormatDeb || d.Format == catalog.FormatRPM {
		if err = i.installPackage(ctx, log, d.Format, destination); err != nil {
			return nil, err
		}
	}

	log.Sugar().Infof("Installed %s at %q.", artifact.String(), destination)
	return &InstalledTool{Path: destination, Checksum: d.Checksum}, nil
}

// existing reports whether destination already holds content matching the
// descriptor's checksum.
func (i *Installer) existing(log *zap.Logger, d *catalog.Descriptor, destination string) *InstalledTool {
	fd, err := os.Open(destination)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		log.Debug("Unable to open the destination for digest verification.", zap.Error(err))
		return nil
	}
	defer fd.Close()

	sum, err := digest.SHA256.FromReader(fd)
	if err != nil || sum != d.Checksum {
		return nil
	}
	return &InstalledTool{Path: destination, Checksum: d.Checksum}
}

// promote writes the verified content to a staging file in the destination
// directory and moves it into place. Staging next to the destination keeps
// the final rename on a single filesystem and hence atomic.
func (i *Installer) promote(log *zap.Logger, content []byte, destination string, format catalog.Format) (err error) {
	mode := os.FileMode(0o755)
	if format != catalog.FormatBinary {
		mode = 0o644
	}

	stage, err := os.CreateTemp(filepath.Dir(destination), "."+filepath.Base(destination)+".stage-*")
	if err != nil {
		log.Error("Failed to create a staging file.", zap.Error(err))
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(stage.Name())
		}
	}()

	if _, err = stage.Write(content); err != nil {
		_ = stage.Close()
		log.Error("Failed to write the artifact to the staging file.", zap.Error(err))
		return err
	}
	if err = stage.Chmod(mode); err != nil {
		_ = stage.Close()
		return err
	}
	if err = stage.Close(); err != nil {
		return err
	}

	if err = os.Rename(stage.Name(), destination); err != nil {
		log.Error("Failed to move the verified artifact into place.", zap.Error(err))
		return err
	}
	return nil
}
