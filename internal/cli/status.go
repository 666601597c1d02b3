package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KevenMor/repensare-sub001/internal/config"
	"github.com/KevenMor/repensare-sub001/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show repensare status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("repensare %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Printf("Logs:    %s\n", paths.Logs)
			fmt.Println()

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Println("Config:  not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Printf("Config:  error loading: %v\n", err)
				return nil
			}

			auth := "none"
			if cfg.Server.Auth.Token != "" {
				auth = "token"
			}
			webhook := "open"
			if cfg.Server.WebhookSecret != "" {
				webhook = "secret"
			}
			fmt.Printf("Server:  port=%d bind=%s auth=%s webhook=%s\n",
				cfg.Server.Port, cfg.Server.Bind, auth, webhook)
			fmt.Printf("Store:   %s\n", paths.StorePath(&cfg))

			switch cfg.ObjectStore.Driver {
			case "gcs":
				fmt.Printf("Media:   gcs bucket=%s\n", cfg.ObjectStore.GCS.Bucket)
			default:
				fmt.Printf("Media:   local dir=%s\n", paths.MediaDir(&cfg))
			}

			provider := cfg.Completion.Provider
			if provider == "" {
				provider = "none"
			}
			key := "no key"
			if cfg.Completion.APIKey != "" {
				key = "key set"
			}
			fmt.Printf("AI:      provider=%s (%s)\n", provider, key)
			fmt.Printf("Ingest:  echoWindow=%s history=%d timeout=%s\n",
				cfg.Ingest.EchoWindow, cfg.Ingest.HistoryLimit, cfg.Ingest.ExternalTimeout)

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
