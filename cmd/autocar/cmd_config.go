package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newConfigCmd creates the "autocar config" subcommand.
func newConfigCmd(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Prints the defaults merged with --config, after validation.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			var out []byte
			switch format {
			case "yaml", "yml":
				out, err = cfg.YAML()
			case "json":
				out, err = cfg.JSON()
				out = append(out, '\n')
			default:
				return fmt.Errorf("unknown format %q, want yaml or json", format)
			}
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml or json")
	return cmd
}
