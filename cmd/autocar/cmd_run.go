package main

import (
	"github.com/spf13/cobra"

	"github.com/banshee-data/autocar/internal/robot"
)

// newRunCmd creates the "autocar run" subcommand.
func newRunCmd(root *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the robot and its monitor",
		Long:  "Starts every worker, fuses the radar sweep into a distance map and serves\nthe monitor until interrupted. Wheels are driven through the monitor's\ncommand endpoint.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Monitor.Listen = listen
			}
			defer setupLogging(cfg, false).Close()

			s, err := openSession(cfg, root.configPath, robot.Options{}, nil)
			if err != nil {
				return err
			}
			return s.run(cmd.Context(), nil)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "monitor listen address, empty disables the monitor")
	return cmd
}
