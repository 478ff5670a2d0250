package driver

import (
	"fmt"
	"sort"

	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"
)

func Targets(cOpts *CommonOpts) *cobra.Command {
	opts := &targetsOptions{
		CommonOpts: cOpts,
	}

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List the scenario targets defined in the current catalog.",
		Long: `Displays every target declared across the discovered catalog layers together with the variant key
it maps to and the tool version an install would currently resolve to. Targets whose variant key
does not resolve against the catalog are marked accordingly.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return opts.targets()
		},
	}

	return cmd
}

type targetsOptions struct {
	*CommonOpts
}

func (o *targetsOptions) targets() error {
	if len(o.Catalog.Targets) == 0 {
		fmt.Println("No targets are defined in the current catalog.")
		return nil
	}

	var rows []string
	for _, t := range o.Catalog.Targets {
		version := "!unresolved"
		if d, err := o.Catalog.Resolve(t.Variant, t.PinnedVersion()); err == nil {
			version = d.Version
		}

		repo := "no"
		if t.CommunityRepo {
			repo = "yes"
		}
		rows = append(rows, fmt.Sprintf("%s | %s | %s | %s", t.Name, t.Variant, version, repo))
	}
	sort.Strings(rows)

	headerRows := []string{
		"Target | Variant | Version | Community repo",
		"------ | ------- | ------- | --------------",
	}
	fmt.Println(columnize.SimpleFormat(append(headerRows, rows...)))
	return nil
}
