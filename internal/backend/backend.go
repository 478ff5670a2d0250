package backend

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"regexp"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
	"go.uber.org/zap"

	"github.com/verikit/verikit/internal/config"
)

// Storage is a location that tool artifacts can be fetched from and, where
// the backing medium supports it, stored to. The context bounds the whole
// transfer; backends fall back to an internal timeout when it carries no
// deadline.
type Storage interface {
	fmt.Stringer
	Fetch(ctx context.Context, artifact config.Artifact) ([]byte, error)
	Store(ctx context.Context, artifact config.Artifact, content []byte) error
}

type ArtifactProvider interface {
	Storage
	Path(artifact config.Artifact) string
}

var (
	// To guarantee that implementations remain compatible with the interface.
	_ ArtifactProvider = &FileSystem{}

	_ Storage = &FileSystem{}
	_ Storage = &GCS{}
	_ Storage = &GitHub{}
	_ Storage = &HTTPS{}
	_ Storage = &S3{}

	errFailed = errors.New("failed")

	// ErrNotFound indicates the storage has no artifact at the instantiated
	// path. ErrTransient indicates a failure that a later retry may resolve.
	ErrNotFound  = errors.New("artifact not found")
	ErrTransient = errors.New("transient storage failure")
)

// withDefaultDeadline bounds a transfer with fallback when the caller did
// not set a deadline of its own.
func withDefaultDeadline(ctx context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, fallback)
}

type CommonConfig struct {
	ArchivePathTemplate string           `json:"archive_path_template"`
	Mappings            TemplateMappings `json:"template_mappings"`
}

// TemplateMappings allows catalog entries to adjust the spelling of
// placeholder values to whatever the artifact publisher uses, e.g. "amd64"
// instead of "x86_64" in Debian package names.
type TemplateMappings struct {
	ARM32 *string `json:"arm32"`
	ARM64 *string `json:"arm64"`
	X86   *string `json:"x86_32"`
	X8664 *string `json:"x86_64"`
}

func (c *CommonConfig) instantiateTemplate(a config.Artifact, tmpl string) string {
	return strings.NewReplacer(
		"{arch}", c.arch(a),
		"{tool}", a.Tool,
		"{variant}", string(a.Variant),
		"{version}", a.Version,
	).Replace(tmpl)
}

func (c *CommonConfig) arch(a config.Artifact) string {
	switch a.Arch {
	case config.ArchARM32:
		if c.Mappings.ARM32 != nil {
			return *c.Mappings.ARM32
		}
		return string(config.ArchARM32)
	case config.ArchARM64:
		if c.Mappings.ARM64 != nil {
			return *c.Mappings.ARM64
		}
		return string(config.ArchARM64)
	case config.ArchX64:
		if c.Mappings.X8664 != nil {
			return *c.Mappings.X8664
		}
		return string(config.ArchX64)
	case config.ArchX86:
		if c.Mappings.X86 != nil {
			return *c.Mappings.X86
		}
		return string(config.ArchX86)
	default:
		return string(a.Arch)
	}
}

func (c *CommonConfig) extractFromArchive(log *zap.Logger, srcRaw []byte, srcPath string, a config.Artifact) ([]byte, error) {
	if c.ArchivePathTemplate == "" {
		log.Debug("No archive path set. Using the fetched content as the tool artifact itself.")
		return srcRaw, nil
	}

	var (
		err error
		raw []byte
		rd  io.Reader
	)

	archivePath := c.instantiateTemplate(a, c.ArchivePathTemplate)
	log = log.With(zap.String("archive-path", archivePath))

	switch {
	case strings.HasSuffix(srcPath, ".zip"):
		rd, err = c.extractFromArchiveZIP(log, srcRaw, archivePath)

	case regexp.MustCompile(".tar(.(g|x)z)?$").MatchString(srcPath):
		switch {
		case strings.HasSuffix(srcPath, ".gz"):
			log.Debug("Applying a GZIP decoder on the fetched content.")
			rd, err = gzip.NewReader(bytes.NewBuffer(srcRaw))
			if err != nil {
				log.Error("Failed to open fetched content with a GZIP reader.", zap.Error(err))
				return nil, fmt.Errorf("failed to open gzip reader for fetched content: %w", err)
			}
		case strings.HasSuffix(srcPath, "xz"):
			log.Debug("Applying an XZ decoder on the fetched content.")
			rd, err = xz.NewReader(bytes.NewBuffer(srcRaw))
			if err != nil {
				log.Error("Failed to open fetched content with an XZ reader.", zap.Error(err))
				return nil, fmt.Errorf("failed to open xz reader for fetched content: %w", err)
			}
		}
		rd, err = c.extractFromArchiveTAR(log, srcRaw, archivePath, rd)

	default:
		err = fmt.Errorf("unrecognised archive format: %w", errors.ErrUnsupported)
	}
	if err != nil {
		return nil, err
	}

	raw, err = io.ReadAll(rd)
	if err != nil {
		log.Error("Failed to read artifact from archive.", zap.Error(err))
		return nil, err
	}
	log.Debug("Successfully read artifact from archive.")
	return raw, nil
}

func (c *CommonConfig) extractFromArchiveZIP(log *zap.Logger, srcRaw []byte, archivePath string) (io.Reader, error) {
	log.Debug("Reading the fetched content as a ZIP archive.")
	var (
		zr *zip.Reader
		fl fs.File
	)
	zr, err := zip.NewReader(bytes.NewReader(srcRaw), int64(len(srcRaw)))
	if err != nil {
		log.Error("Failed to open content with a ZIP reader.", zap.Error(err))
		return nil, fmt.Errorf("failed to open fetched content as zip archive: %w", err)
	}
	fl, err = zr.Open(archivePath)
	if err != nil {
		log.Error("Path not found in archive.", zap.Error(err))
		return nil, fmt.Errorf("failed to find path inside fetched content: %w", err)
	}
	_, err = fl.Stat()
	if err != nil {
		log.Error("Failed to open archive path for reading.", zap.Error(err))
		return nil, fmt.Errorf("failed to read file information for path inside fetched content: %w", err)
	}
	return fl, nil
}

func (c *CommonConfig) extractFromArchiveTAR(log *zap.Logger, srcRaw []byte, archivePath string, rd io.Reader) (io.Reader, error) {
	log.Debug("Reading the fetched content as a TAR archive.")
	if rd == nil {
		rd = bytes.NewBuffer(srcRaw)
	}
	tr := tar.NewReader(rd)

	hdr, err := tr.Next()
	for err == nil {
		if hdr.Name == archivePath {
			break
		}
		hdr, err = tr.Next()
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		log.Error("Failed to search archive for path.", zap.Error(err))
		return nil, fmt.Errorf("failed to search for path in fetched content: %w", err)
	} else if hdr == nil {
		log.Error("Path not found in archive.")
		return nil, fmt.Errorf("failed to find path in fetched content: %w", err)
	}
	return tr, nil
}
