package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	goversion "github.com/hashicorp/go-version"
	"github.com/opencontainers/go-digest"

	"github.com/verikit/verikit/internal/config"
)

var (
	ErrInvalidCatalog = errors.New("invalid catalog")
	ErrUnknownVariant = errors.New("variant unknown in current catalog")
	ErrUnknownVersion = errors.New("version not published for variant")
)

// Format describes how an artifact is installed once verified: placed as a
// raw executable or handed to the target's package manager.
type Format string

const (
	FormatBinary Format = "binary"
	FormatDeb    Format = "deb"
	FormatRPM    Format = "rpm"
)

// Entry is one published build of the verification tool for a single
// variant key.
type Entry struct {
	Version  string
	Checksum digest.Digest
	Format   Format
	Source   *Source
}

func (e *Entry) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var fields struct {
		Version  string `yaml:"version"`
		Checksum string `yaml:"checksum"`
		Format   string `yaml:"format"`
	}
	if err := unmarshal(&fields); err != nil {
		return err
	}
	if fields.Version == "" {
		return fmt.Errorf("%w: catalog entry has no version", ErrInvalidCatalog)
	}
	if fields.Checksum == "" {
		return fmt.Errorf("%w: catalog entry has no checksum", ErrInvalidCatalog)
	}

	// Bare hex digests are normalised to the canonical prefixed form. Only
	// SHA-256 catalogs are supported.
	raw := fields.Checksum
	if !strings.Contains(raw, ":") {
		raw = string(digest.SHA256) + ":" + raw
	}
	sum, err := digest.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: catalog entry has malformed checksum %q: %v", ErrInvalidCatalog, fields.Checksum, err)
	}
	if sum.Algorithm() != digest.SHA256 {
		return fmt.Errorf("%w: catalog entry uses unsupported digest algorithm %q", ErrInvalidCatalog, sum.Algorithm())
	}

	src := &Source{}
	if err = src.UnmarshalYAML(unmarshal); err != nil {
		return err
	}

	e.Version = fields.Version
	e.Checksum = sum
	e.Source = src
	e.Format = Format(fields.Format)
	if e.Format == "" {
		e.Format = formatFromPath(src.String())
	}
	switch e.Format {
	case FormatBinary, FormatDeb, FormatRPM:
	default:
		return fmt.Errorf("%w: catalog entry has unsupported format %q", ErrInvalidCatalog, e.Format)
	}
	return nil
}

func formatFromPath(p string) Format {
	switch {
	case strings.HasSuffix(p, ".deb"):
		return FormatDeb
	case strings.HasSuffix(p, ".rpm"):
		return FormatRPM
	default:
		return FormatBinary
	}
}

// Descriptor is a fully resolved download: which build to fetch, where
// from, what its digest must be and how it installs.
type Descriptor struct {
	Tool     string
	Variant  config.Variant
	Version  string
	Checksum digest.Digest
	Format   Format
	Source   *Source
}

func (d *Descriptor) Artifact() config.Artifact {
	return config.Artifact{
		Tool:    d.Tool,
		Version: d.Version,
		Variant: d.Variant,
		Arch:    config.CurrentArch(),
	}
}

// Catalog is the merged view over all discovered catalog layers: the closed
// set of variant keys with their published builds, and the scenario targets
// the harness operates on.
type Catalog struct {
	Tool     string
	Variants map[config.Variant][]*Entry
	Targets  []*Target

	variantFiles map[config.Variant]string
}

func New() *Catalog {
	return &Catalog{
		Variants:     map[config.Variant][]*Entry{},
		variantFiles: map[config.Variant]string{},
	}
}

type catalogSpec struct {
	Tool     string              `yaml:"tool"`
	Variants map[string][]*Entry `yaml:"variants"`
	Targets  []*Target           `yaml:"targets"`
}

const catalogFileName = config.DriverName + ".yaml"

// Load discovers catalog layers by walking up from the working directory,
// then through the user and system config directories, and finally through
// the synced catalog cache. Earlier layers win for both variant keys and
// target names.
func Load(conf *config.Global, cat *Catalog) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	var candidatePaths []string
	for {
		candidatePaths = append(candidatePaths, filepath.Join(cwd, "."+catalogFileName))
		if cwd == filepath.Dir(cwd) {
			break
		}
		cwd = filepath.Dir(cwd)
	}
	for _, p := range config.AllDirs() {
		candidatePaths = append(candidatePaths, filepath.Join(p, catalogFileName))
	}
	candidatePaths = append(candidatePaths, cachedCatalogPaths()...)

	for _, p := range candidatePaths {
		var raw []byte
		raw, err = os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return err
		}

		if err = cat.merge(p, raw); err != nil {
			return fmt.Errorf("catalog layer %q: %w", p, err)
		}
	}
	return nil
}

func cachedCatalogPaths() []string {
	cacheDir := filepath.Join(config.StorageDir(), "catalog")
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return nil
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".yaml" && e.Name() != cacheStatusFile {
			paths = append(paths, filepath.Join(cacheDir, e.Name()))
		}
	}
	return paths
}

func (c *Catalog) merge(path string, content []byte) error {
	if err := validateSchema(content); err != nil {
		return err
	}

	var spec catalogSpec
	if err := yaml.Unmarshal(content, &spec); err != nil {
		return err
	}

	if c.Tool == "" {
		c.Tool = spec.Tool
	}

	// Variant keys and targets are only adopted if no higher-priority layer
	// already declared them.
	for key, entries := range spec.Variants {
		variant := config.Variant(key)
		if _, ok := c.Variants[variant]; ok {
			continue
		}
		c.Variants[variant] = entries
		c.variantFiles[variant] = path
	}

	for _, target := range spec.Targets {
		if c.Target(target.Name) == nil {
			c.Targets = append(c.Targets, target)
		}
	}
	return nil
}

// Resolve maps a variant key to the download descriptor for the requested
// version, or for the highest published version when no pin is given.
func (c *Catalog) Resolve(variant config.Variant, pin string) (*Descriptor, error) {
	entries, ok := c.Variants[variant]
	if !ok || len(entries) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}

	var chosen *Entry
	if pin != "" {
		for _, e := range entries {
			if e.Version == pin {
				chosen = e
				break
			}
		}
		if chosen == nil {
			return nil, fmt.Errorf("%w: %q has no version %q", ErrUnknownVersion, variant, pin)
		}
	} else {
		chosen = entries[0]
		best, err := goversion.NewVersion(chosen.Version)
		if err != nil {
			best = nil
		}
		for _, e := range entries[1:] {
			v, vErr := goversion.NewVersion(e.Version)
			if vErr != nil {
				continue
			}
			if best == nil || v.GreaterThan(best) {
				chosen, best = e, v
			}
		}
	}

	return &Descriptor{
		Tool:     c.Tool,
		Variant:  variant,
		Version:  chosen.Version,
		Checksum: chosen.Checksum,
		Format:   chosen.Format,
		Source:   chosen.Source,
	}, nil
}

func (c *Catalog) Target(name string) *Target {
	for _, t := range c.Targets {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Validate checks the cross-layer invariant that every declared target's
// variant key resolves against the merged catalog.
func (c *Catalog) Validate() error {
	var errs []error
	for _, t := range c.Targets {
		if _, err := c.Resolve(t.Variant, t.PinnedVersion()); err != nil {
			errs = append(errs, fmt.Errorf("target %q: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}
