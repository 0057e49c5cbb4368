package main

import (
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/banshee-data/autocar/internal/config"
	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/version"
)

type rootOptions struct {
	configPath string
}

// newRootCmd creates the root autocar command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "autocar",
		Short:         "Scanning-radar robot",
		Long:          "autocar drives a stepper-mounted range sensor and two servo wheels,\nfuses the sweep into a distance map and serves it over HTTP.",
		Version:       fmt.Sprintf("autocar %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (.json, .yaml or .yml)")

	cmd.AddCommand(
		newRunCmd(opts),
		newRadarCmd(opts),
		newTeleopCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// load reads the configuration named by --config, or the defaults.
func (o *rootOptions) load() (*config.Config, error) {
	return config.LoadOrDefault(o.configPath)
}

// setupLogging routes the log into the rotating file of cfg.Log. When
// quiet is set and no file is configured the log is discarded, which keeps
// the terminal clean for the teleop screen.
func setupLogging(cfg *config.Config, quiet bool) io.Closer {
	if cfg.Log.File != "" {
		return monitoring.SetOutputFile(cfg.Log.File, cfg.RotationOptions())
	}
	if quiet {
		log.SetOutput(io.Discard)
	}
	return io.NopCloser(nil)
}
