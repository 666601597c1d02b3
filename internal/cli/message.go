package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/ingest"
	"github.com/KevenMor/repensare-sub001/internal/store"
	"github.com/KevenMor/repensare-sub001/internal/whatsapp"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send and list conversation messages",
	}

	cmd.AddCommand(newMessageSendCmd())
	cmd.AddCommand(newMessageListCmd())
	return cmd
}

func newMessageListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list <contact>",
		Short: "List the latest messages of a conversation as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contact, err := contactArg(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, db *store.DB) error {
				msgs, err := db.RecentMessages(ctx, contact, limit)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				for _, m := range msgs {
					if err := enc.Encode(m); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum messages to print")
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var agent string

	cmd := &cobra.Command{
		Use:   "send <contact> <text...>",
		Short: "Send a message to a contact as an agent",
		Long: "Send a message to a contact through the messaging gateway. The message is stored " +
			"first, so the gateway's echo of it is recognized and not stored twice.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			contact, err := contactArg(args[0])
			if err != nil {
				return err
			}
			text := strings.TrimSpace(strings.Join(args[1:], " "))
			if text == "" {
				return fmt.Errorf("message text is empty")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, db *store.DB) error {
				admin, err := loadAdmin(ctx, db)
				if err != nil {
					return err
				}
				sender, err := whatsapp.New(admin.Gateway, whatsapp.Options{
					BaseURL: cfg.WhatsApp.BaseURL,
					Timeout: cfg.Ingest.ExternalTimeout,
				}, log)
				if err != nil {
					return err
				}

				msg := &domain.Message{
					ID:             uuid.NewString(),
					ContactID:      contact,
					Content:        text,
					Role:           domain.RoleOutboundAgent,
					SenderName:     agent,
					SentAt:         time.Now().UTC(),
					DeliveryStatus: domain.DeliverySending,
				}
				if _, err := db.InsertMessage(ctx, msg); err != nil {
					return fmt.Errorf("storing message: %w", err)
				}
				convs := ingest.NewConversationManager(db, nil, log)
				if _, err := convs.Touch(ctx, domain.ConversationTouch{
					ContactID:   contact,
					LastMessage: text,
					At:          msg.SentAt,
					Direction:   domain.DirectionOutbound,
				}); err != nil {
					return fmt.Errorf("updating conversation: %w", err)
				}

				res, sendErr := sender.SendText(ctx, contact, text)
				patch := domain.MessagePatch{}
				status := domain.DeliverySent
				if sendErr != nil {
					status = domain.DeliveryFailed
				} else if res.MessageID != "" {
					patch.ProviderMessageID = &res.MessageID
				}
				patch.DeliveryStatus = &status
				if err := db.PatchMessage(ctx, contact, msg.ID, patch); err != nil {
					log.Warn().Err(err).Str("id", msg.ID).Msg("failed to record delivery status")
				}
				if sendErr != nil {
					return fmt.Errorf("sending: %w", sendErr)
				}
				fmt.Printf("Sent %s (gateway id %s)\n", msg.ID, res.MessageID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&agent, "as", "", "agent name stored with the message")
	return cmd
}
