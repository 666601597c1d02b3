package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/store"
	"github.com/KevenMor/repensare-sub001/internal/whatsapp"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage the admin settings: gateway credentials and assistant behavior",
	}

	cmd.AddCommand(newAdminShowCmd())
	cmd.AddCommand(newAdminSetCmd())
	cmd.AddCommand(newAdminStatusCmd())
	return cmd
}

// loadAdmin returns the saved admin settings, or empty settings if none exist.
func loadAdmin(ctx context.Context, db *store.DB) (*domain.AdminConfig, error) {
	cfg, err := db.AdminConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return &domain.AdminConfig{}, nil
	}
	return cfg, err
}

func newAdminShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the admin settings (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, db *store.DB) error {
				admin, err := loadAdmin(ctx, db)
				if err != nil {
					return err
				}
				shown := *admin
				if !reveal {
					shown.Gateway.Token = mask(shown.Gateway.Token)
					shown.Gateway.ClientToken = mask(shown.Gateway.ClientToken)
				}
				data, err := json.MarshalIndent(shown, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "print tokens in clear text")
	return cmd
}

func newAdminSetCmd() *cobra.Command {
	var (
		in      domain.AdminConfig
		promptF string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update admin settings; only the flags given are changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			return withStore(func(ctx context.Context, db *store.DB) error {
				admin, err := loadAdmin(ctx, db)
				if err != nil {
					return err
				}
				fields := map[string]struct{ dst, src *string }{
					"gateway-url":    {&admin.Gateway.BaseURL, &in.Gateway.BaseURL},
					"instance":       {&admin.Gateway.Instance, &in.Gateway.Instance},
					"token":          {&admin.Gateway.Token, &in.Gateway.Token},
					"client-token":   {&admin.Gateway.ClientToken, &in.Gateway.ClientToken},
					"model":          {&admin.Model, &in.Model},
					"temperature":    {&admin.Temperature, &in.Temperature},
					"max-tokens":     {&admin.MaxTokens, &in.MaxTokens},
					"system-prompt":  {&admin.SystemPrompt, &in.SystemPrompt},
					"assistant-name": {&admin.AIDisplayName, &in.AIDisplayName},
				}
				changed := 0
				for name, f := range fields {
					if flags.Changed(name) {
						*f.dst = *f.src
						changed++
					}
				}
				if promptF == "" && changed == 0 {
					return fmt.Errorf("nothing to set")
				}
				if promptF != "" {
					data, err := os.ReadFile(promptF)
					if err != nil {
						return err
					}
					admin.SystemPrompt = strings.TrimSpace(string(data))
				}
				if err := db.SaveAdminConfig(ctx, admin); err != nil {
					return err
				}
				fmt.Println("Admin settings saved.")
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.Gateway.BaseURL, "gateway-url", "", "gateway API base URL for this instance")
	f.StringVar(&in.Gateway.Instance, "instance", "", "gateway instance id")
	f.StringVar(&in.Gateway.Token, "token", "", "gateway instance token")
	f.StringVar(&in.Gateway.ClientToken, "client-token", "", "gateway account security token")
	f.StringVar(&in.Model, "model", "", "completion model")
	f.StringVar(&in.Temperature, "temperature", "", "sampling temperature")
	f.StringVar(&in.MaxTokens, "max-tokens", "", "maximum tokens per reply")
	f.StringVar(&in.SystemPrompt, "system-prompt", "", "assistant instructions")
	f.StringVar(&promptF, "system-prompt-file", "", "read the assistant instructions from a file")
	f.StringVar(&in.AIDisplayName, "assistant-name", "", "name shown on AI replies")
	return cmd
}

func newAdminStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Ask the messaging gateway whether the instance is connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, db *store.DB) error {
				admin, err := loadAdmin(ctx, db)
				if err != nil {
					return err
				}
				client, err := whatsapp.New(admin.Gateway, whatsapp.Options{
					BaseURL: cfg.WhatsApp.BaseURL,
					Timeout: cfg.Ingest.ExternalTimeout,
				}, log)
				if err != nil {
					return err
				}
				st, err := client.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Connected:  %v\nSmartphone: %v\n", st.Connected, st.SmartphoneConnected)
				if st.Error != "" {
					fmt.Printf("Error:      %s\n", st.Error)
				}
				return nil
			})
		},
	}
}

// withStore opens the store for a one-shot command.
func withStore(fn func(ctx context.Context, db *store.DB) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(&cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, db)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
