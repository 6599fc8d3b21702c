package cli

import (
	"fmt"

	"github.com/sensorable/lsyolo/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect lsyolo configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: "Display the effective configuration after merging the defaults, the settings file (" +
		config.DefaultFile + ") and the " + config.EnvPrefix + "_* environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if cfg.File != "" {
			fmt.Fprintf(out, "# Settings file: %s\n", cfg.File)
		} else {
			fmt.Fprintf(out, "# No settings file found (using defaults)\n")
		}

		shown := *cfg
		shown.LabelStudio.APIKey = maskSecret(shown.LabelStudio.APIKey)
		yamlData, err := yaml.Marshal(&shown)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		_, err = out.Write(yamlData)
		return err
	},
}

// maskSecret keeps the last four characters of s.
func maskSecret(s string) string {
	if len(s) <= 4 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}
