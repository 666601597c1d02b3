package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/KevenMor/repensare-sub001/internal/config"
	"github.com/KevenMor/repensare-sub001/internal/logging"
	"github.com/KevenMor/repensare-sub001/internal/store"
)

var (
	cfgFile  string
	envFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repensare",
		Short: "Repensare: WhatsApp ingestion and AI auto-reply for the tourism CRM",
		Long: "Repensare receives WhatsApp gateway webhooks, keeps conversations and messages " +
			"in a durable store, and answers customers with an AI assistant until an agent takes over.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if err := loadEnvFiles(envFile, paths.Env); err != nil {
				return err
			}
			level := logLevel
			if level == "" {
				level = os.Getenv("REPENSARE_LOG_LEVEL")
			}
			if level == "" {
				level = "info"
			}
			log = logging.NewStyled(level, os.Getenv("REPENSARE_LOG_STYLE"))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.repensare/config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "extra .env file to load before the config")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConversationCmd())
	cmd.AddCommand(newMessageCmd())
	cmd.AddCommand(newAdminCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// loadEnvFiles loads .env files into the process environment. Variables that
// are already set win, and a missing default file is not an error.
func loadEnvFiles(explicit, fallback string) error {
	if explicit != "" {
		if err := godotenv.Load(explicit); err != nil {
			return fmt.Errorf("loading %s: %w", explicit, err)
		}
	}
	for _, f := range []string{".env", fallback} {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// loadConfig reads and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openStore opens the durable store named by cfg.
func openStore(cfg *config.Config) (*store.DB, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("creating data dirs: %w", err)
	}
	db, err := store.Open(paths.StorePath(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
