package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"homehub/internal/addon/loader"
	"homehub/pkg/addon"
)

func newAddOnsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "addons",
		Short: "List discoverable add-ons in start order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			reg := addon.Global()
			if cfg.Plugins.Dir != "" {
				if _, err := loader.New(logger).LoadDir(cfg.Plugins.Dir, reg); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tENABLED\tDESCRIPTION")
			for _, d := range reg.Discover() {
				enabled := "yes"
				on, err := cfg.Slice(d.Name).Enabled()
				switch {
				case err != nil:
					enabled = "invalid"
				case !on:
					enabled = "no"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, enabled, d.Description)
			}
			return w.Flush()
		},
	}
}
