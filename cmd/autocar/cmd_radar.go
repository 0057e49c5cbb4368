package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/autocar/internal/monitor"
	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/robot"
	"github.com/banshee-data/autocar/internal/security"
)

// newRadarCmd creates the "autocar radar" subcommand.
func newRadarCmd(root *rootOptions) *cobra.Command {
	var (
		listen   string
		plotPath string
	)
	cmd := &cobra.Command{
		Use:   "radar",
		Short: "Run the scanning radar without the wheels",
		Long:  "Sweeps the range sensor and fuses the distance map until interrupted.\nWith --plot the last map is written as a PNG scatter on exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if plotPath != "" {
				if err := security.ValidateOutputPath(plotPath, ".png"); err != nil {
					return err
				}
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Monitor.Listen = listen
			}
			defer setupLogging(cfg, false).Close()

			s, err := openSession(cfg, root.configPath, robot.Options{RadarOnly: true}, nil)
			if err != nil {
				return err
			}
			runErr := s.run(cmd.Context(), nil)

			if plotPath != "" {
				m := s.robot.DistanceMap()
				if err := monitor.SavePlot(plotPath, m, "distance map"); err != nil {
					return fmt.Errorf("failed to save plot: %w", err)
				}
				monitoring.Logf("saved %d bins to %s", m.Len(), plotPath)
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "monitor listen address, empty disables the monitor")
	cmd.Flags().StringVar(&plotPath, "plot", "", "write the final distance map to this PNG file")
	return cmd
}
