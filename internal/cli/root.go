package cli

import (
	"fmt"

	"github.com/cyclopcam/logs"
	"github.com/sensorable/lsyolo/internal/config"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X github.com/sensorable/lsyolo/internal/cli.Version=...".
var Version = "dev"

var (
	cfgFile string
	verbose bool

	// Set up by the root command before any subcommand runs.
	cfg    *config.Config
	logger logs.Log

	appFs  afero.Fs = afero.NewOsFs()
	newLog          = logs.NewLog
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "lsyolo",
	Short: "Label Studio to YOLO dataset converter",
	Long: `lsyolo connects a Label Studio project to an Ultralytics YOLO training loop.

It creates bounding box projects and adds local images to them as tasks, exports
the annotated tasks, converts the rectangle labels into a YOLO dataset with a
reproducible train/val split, and uploads model predictions back to Label Studio
as pre-annotations.

Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (LSYOLO_*, LABEL_STUDIO_API_KEY, LABEL_STUDIO_URL),
     also read from ./.env
  3. Settings file (./ls_settings.json or --config)
  4. Defaults`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(appFs, config.DotEnvFile); err != nil {
			return err
		}
		var err error
		if cfg, err = config.Load(appFs, cfgFile); err != nil {
			return err
		}
		if logger, err = newLog(); err != nil {
			return fmt.Errorf("cannot create logger: %w", err)
		}
		if verbose && cfg.File != "" {
			logger.Infof("Using settings file %v", cfg.File)
		}
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// No settings needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "lsyolo %v\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default: ./"+config.DefaultFile+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}
