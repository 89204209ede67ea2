// Package commands implements the table-extractor CLI.
package commands

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spherical/table-extractor/cmd/table-extractor/ui"
	"github.com/spherical/table-extractor/internal/config"
	"github.com/spherical/table-extractor/internal/observability"
)

var (
	cfgFile string
	verbose bool
	noColor bool

	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "table-extractor",
	Short: "Extract tables from PDF documents with a vision model",
	Long: `table-extractor renders every page of a PDF to an image, asks a hosted
vision-language model for the tables on each page, and prints the rows of all
pages as one JSON array.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load() // .env is optional
		ui.InitUI(noColor, verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default $CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads configuration from --config or CONFIG_PATH.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return config.Load(path)
}

func loadConfigUnvalidated() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return config.LoadUnvalidated(path)
}

// newLogger logs to stderr in console format so stdout stays clean for JSON.
func newLogger(cfg *config.Config) *observability.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      "console",
		Output:      os.Stderr,
		ServiceName: cfg.Observability.ServiceName,
	})
}
