// Package commands defines all Cobra CLI commands for the sakhi binary.
package commands

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/54b3r/krishisakhi-go/internal/audit"
	"github.com/54b3r/krishisakhi-go/internal/config"
	"github.com/54b3r/krishisakhi-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sakhi",
		Short: "Krishi Sakhi, a multilingual farming assistant",
		Long: `Krishi Sakhi answers farmers' questions in their own language.

A question (typed or spoken, optionally with a crop photo) is translated to
English, enriched with passages from the agricultural knowledge base and the
farmer's profile, answered by a generative model and translated back.

The model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.sakhi/config.yaml). A .env file in the working
directory is loaded first.
See 'sakhi --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env never overrides variables already set in the environment.
			envErr := godotenv.Load()

			log := logging.New()
			if envErr == nil {
				log.Debug("loaded .env")
			}

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Re-create the logger in case LOG_LEVEL/LOG_FORMAT came from YAML.
			log = logging.New()
			slog.SetDefault(log)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.sakhi/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewAskCmd(),
		NewLogCmd(),
		NewTranscribeCmd(),
		NewIndexCmd(),
		NewVersionCmd(),
	)

	return root
}
