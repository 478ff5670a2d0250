package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/verikit/verikit/internal/config"
	"github.com/verikit/verikit/internal/driver"
)

func main() {
	opts := driver.NewCommonOpts()

	rootCmd := &cobra.Command{
		Use: config.DriverName,
		Long: `Resolve and install verification tooling on test targets.

Maps each target's OS variant to a published tool build via layered catalog
files, downloads the artifact with retry, verifies its checksum and installs
it either as a raw binary or through the target's package manager. Repeat
installs short-circuit on the checksum and never touch the network.
`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.Parse()
		},
	}

	registerRootFlags(rootCmd, opts)

	rootCmd.AddCommand(
		driver.Install(opts),
		driver.Resolve(opts),
		driver.Sync(opts),
		driver.Targets(opts),
		driver.Validate(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}

func registerRootFlags(cmd *cobra.Command, opts *driver.CommonOpts) {
	cmd.PersistentFlags().StringSliceVarP(
		&opts.Verbose,
		"verbose",
		"v",
		nil,
		"Verbose output for one or more log domains (all, init, cli, catalog, install, fs, gcs, github, https, s3).",
	)
	cmd.Flag("verbose").NoOptDefVal = "all"
}
