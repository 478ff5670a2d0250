package driver

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func Validate(cOpts *CommonOpts) *cobra.Command {
	opts := &validateOptions{
		CommonOpts: cOpts,
	}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the discovered catalog layers for consistency.",
		Long: `Verifies that the merged catalog is internally consistent: each discovered layer must match the
catalog schema (already enforced while loading) and every declared target's variant key must
resolve to an installable version. Install runs perform the same check before touching any
target.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return opts.validate()
		},
	}

	return cmd
}

type validateOptions struct {
	*CommonOpts
}

func (o *validateOptions) validate() error {
	if len(o.Catalog.Variants) == 0 {
		return ErrNoCatalog
	}

	if err := o.Catalog.Validate(); err != nil {
		o.Log.Error("The catalog is inconsistent.", zap.Error(err))
		return err
	}

	fmt.Printf(
		"Catalog for %q is consistent: %d variant key(s), %d target(s), all targets resolve.\n",
		o.Catalog.Tool, len(o.Catalog.Variants), len(o.Catalog.Targets),
	)
	return nil
}
