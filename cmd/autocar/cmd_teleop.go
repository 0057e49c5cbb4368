package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/autocar/internal/robot"
	"github.com/banshee-data/autocar/internal/teleop"
)

// newTeleopCmd creates the "autocar teleop" subcommand.
func newTeleopCmd(root *rootOptions) *cobra.Command {
	var refresh time.Duration
	cmd := &cobra.Command{
		Use:   "teleop",
		Short: "Drive the robot from the keyboard",
		Long:  "Runs the robot with a terminal screen showing the wheel speeds and the\nnearest obstacle. Arrow keys change speed and turn, s goes straight,\nspace stops and q quits.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			defer setupLogging(cfg, true).Close()

			s, err := openSession(cfg, root.configPath, robot.Options{}, nil)
			if err != nil {
				return err
			}
			settings := teleop.Settings{
				SpeedStep:  cfg.Drive.SpeedStep,
				TurnScale:  cfg.Drive.TurnScale,
				TurnWeight: cfg.Drive.TurnWeight,
				Refresh:    refresh,
			}
			return s.run(cmd.Context(), func(ctx context.Context) error {
				return teleop.Run(ctx, s.robot.Drive(), s.robot, settings)
			})
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", 200*time.Millisecond, "screen refresh interval")
	return cmd
}
