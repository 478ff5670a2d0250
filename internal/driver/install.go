package driver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verikit/verikit/internal/config"
	"github.com/verikit/verikit/internal/installer"
)

func Install(cOpts *CommonOpts) *cobra.Command {
	opts := &installOptions{
		CommonOpts: cOpts,
	}

	cmd := &cobra.Command{
		Use:   "install [--target=<name>|--variant=<key>] [--version=<version>] [--destination=<path>]",
		Short: "Download, verify and install the verification tool.",
		Long: `Resolves the requested variant key against the current catalog, downloads the matching artifact,
verifies its checksum and installs it. Raw binaries are moved into place atomically, package
artifacts are handed to the target's package manager. A destination that already holds content
with the expected checksum is left untouched without any network access.

When neither a target nor a variant is specified the artifact for every scenario target is
fetched and verified into the local cache. A failure for one target does not abort the others.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return opts.install()
		},
	}

	registerInstallFlags(cmd, opts)

	return cmd
}

func registerInstallFlags(cmd *cobra.Command, opts *installOptions) {
	cmd.Flags().StringVar(&opts.target, "target", "", "The scenario target to install for.")
	cmd.Flags().StringVar(&opts.variant, "variant", "", "The variant key to install, bypassing any target definition.")
	cmd.Flags().StringVar(&opts.version, "version", "", "The version to install. Defaults to the target's pin, or the highest published version.")
	cmd.Flags().StringVar(&opts.destination, "destination", "", "Path to install the tool at. Defaults to the configured install root.")
}

type installOptions struct {
	*CommonOpts

	target      string
	variant     string
	version     string
	destination string

	// cacheDir holds scenario-wide installs, one artifact per target.
	// Defaults to the target cache below the OS storage dir.
	cacheDir string
}

type installJob struct {
	name        string
	variant     config.Variant
	pin         string
	destination string
}

func (o *installOptions) install() error {
	if len(o.Catalog.Variants) == 0 {
		return ErrNoCatalog
	}
	if err := o.Catalog.Validate(); err != nil {
		return err
	}
	if o.cacheDir == "" {
		o.cacheDir = filepath.Join(config.StorageDir(), "targets")
	}

	jobs, err := o.jobs()
	if err != nil {
		return err
	}

	inst := installer.New(o.LogBuilder, nil)

	var errs []error
	for _, job := range jobs {
		if err = o.installOne(inst, job); err != nil {
			errs = append(errs, fmt.Errorf("target %q: %w", job.name, err))
		}
	}
	if len(errs) > 0 {
		o.Log.Error("Failed to install the tool for some targets.", zap.Errors("install-errors", errs))
		return fmt.Errorf("failed to install the tool for some targets: %w", errors.Join(errs...))
	}
	return nil
}

func (o *installOptions) jobs() ([]installJob, error) {
	switch {
	case o.variant != "":
		return []installJob{{
			name:        o.variant,
			variant:     config.Variant(o.variant),
			pin:         o.version,
			destination: o.singleDestination(),
		}}, nil

	case o.target != "":
		t := o.Catalog.Target(o.target)
		if t == nil {
			return nil, fmt.Errorf("%w: %q", ErrNoTarget, o.target)
		}
		pin := o.version
		if pin == "" {
			pin = t.PinnedVersion()
		}
		return []installJob{{
			name:        t.Name,
			variant:     t.Variant,
			pin:         pin,
			destination: o.singleDestination(),
		}}, nil

	default:
		if o.destination != "" {
			return nil, ErrMixedSelection
		}
		if len(o.Catalog.Targets) == 0 {
			return nil, ErrNoVariantSet
		}

		var jobs []installJob
		for _, t := range o.Catalog.Targets {
			jobs = append(jobs, installJob{
				name:        t.Name,
				variant:     t.Variant,
				pin:         t.PinnedVersion(),
				destination: filepath.Join(o.cacheDir, t.Name, o.Catalog.Tool),
			})
		}
		return jobs, nil
	}
}

func (o *installOptions) singleDestination() string {
	if o.destination != "" {
		return o.destination
	}
	return o.Config.InstallPath(o.Catalog.Tool)
}

func (o *installOptions) installOne(inst *installer.Installer, job installJob) error {
	log := o.Log.With(zap.String("target", job.name), zap.String("variant", string(job.variant)))

	if job.pin == "" && o.Config.ForcePinned {
		log.Error("Refusing to resolve an unpinned version.")
		return ErrPinRequired
	}

	d, err := o.Catalog.Resolve(job.variant, job.pin)
	if err != nil {
		return err
	}
	log.Debug("Resolved the variant to a download descriptor.",
		zap.String("version", d.Version),
		zap.Stringer("source", d.Source),
	)

	ctx, cancel := context.WithTimeout(context.Background(), o.Config.Timeout())
	defer cancel()

	_, err = inst.EnsureInstalled(ctx, d, job.destination)
	return err
}
