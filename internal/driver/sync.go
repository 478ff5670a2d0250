package driver

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/verikit/verikit/internal/catalog"
	"github.com/verikit/verikit/internal/config"
	"github.com/verikit/verikit/internal/logger"
)

func Sync(cOpts *CommonOpts) *cobra.Command {
	opts := &syncOptions{
		CommonOpts: cOpts,
	}

	cmd := &cobra.Command{
		Use:   "sync [--force]",
		Short: "Refresh the local catalog cache from the configured remote.",
		Long: `Fetches the catalog layers published at the configured remote (a git repository or a local
directory) into the local cache where subsequent commands discover them. The remote is only
contacted when the configured refresh interval has expired, unless the refresh is forced.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return opts.sync()
		},
	}

	registerSyncFlags(cmd, opts)

	return cmd
}

func registerSyncFlags(cmd *cobra.Command, opts *syncOptions) {
	cmd.Flags().BoolVar(&opts.force, "force", false, "Refresh the cache even if the refresh interval has not expired.")
}

type syncOptions struct {
	*CommonOpts

	force bool
}

func (o *syncOptions) sync() error {
	if o.Config.CatalogRemote == nil {
		return ErrNoRemoteSet
	}

	cache := catalog.NewCache(
		o.LogBuilder.Domain(logger.CatalogDomain),
		filepath.Join(config.StorageDir(), "catalog"),
		o.Config.CatalogRemote,
	)
	return cache.Refresh(o.force)
}
