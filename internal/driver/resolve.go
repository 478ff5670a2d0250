package driver

import (
	"fmt"

	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"

	"github.com/verikit/verikit/internal/config"
)

func Resolve(cOpts *CommonOpts) *cobra.Command {
	opts := &resolveOptions{
		CommonOpts: cOpts,
	}

	cmd := &cobra.Command{
		Use:   "resolve <variant> [--version=<version>]",
		Short: "Print the download descriptor a variant key resolves to.",
		Long: `Resolves a variant key against the current catalog and prints the resulting descriptor: the
version that would be installed, the expected checksum, the artifact format and the source the
download would be served from. Without an explicit version the highest published version for the
variant is selected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			opts.variant = args[0]
			return opts.resolve()
		},
	}

	registerResolveFlags(cmd, opts)

	return cmd
}

func registerResolveFlags(cmd *cobra.Command, opts *resolveOptions) {
	cmd.Flags().StringVar(&opts.version, "version", "", "The version to resolve. Defaults to the highest published version.")
}

type resolveOptions struct {
	*CommonOpts

	variant string
	version string
}

func (o *resolveOptions) resolve() error {
	if len(o.Catalog.Variants) == 0 {
		return ErrNoCatalog
	}

	if o.version == "" && o.Config.ForcePinned {
		return ErrPinRequired
	}

	d, err := o.Catalog.Resolve(config.Variant(o.variant), o.version)
	if err != nil {
		return err
	}

	fmt.Println(columnize.SimpleFormat([]string{
		"Tool | Variant | Version | Format | Checksum | Source",
		"---- | ------- | ------- | ------ | -------- | ------",
		fmt.Sprintf("%s | %s | %s | %s | %s | %s", d.Tool, d.Variant, d.Version, d.Format, d.Checksum, d.Source),
	}))
	return nil
}
