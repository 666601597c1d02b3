package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/ingest"
	"github.com/KevenMor/repensare-sub001/internal/store"
)

// withConversations opens the store and hands a conversation manager to fn.
// Changes made here are not pushed to a running server's live feed.
func withConversations(fn func(ctx context.Context, db *store.DB, convs *ingest.ConversationManager) error) error {
	return withStore(func(ctx context.Context, db *store.DB) error {
		return fn(ctx, db, ingest.NewConversationManager(db, nil, log))
	})
}

func newConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Inspect conversations and switch between AI and agent handling",
	}

	cmd.AddCommand(newConversationListCmd())
	cmd.AddCommand(newConversationShowCmd())
	cmd.AddCommand(newConversationStageCmd())
	cmd.AddCommand(newConversationAICmd())
	return cmd
}

func newConversationListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConversations(func(ctx context.Context, db *store.DB, _ *ingest.ConversationManager) error {
				convs, err := db.ListConversations(ctx, limit)
				if err != nil {
					return err
				}
				if len(convs) == 0 {
					fmt.Println("No conversations.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "CONTACT\tNAME\tSTAGE\tAI\tUNREAD\tLAST MESSAGE")
				for _, c := range convs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
						c.ContactID, c.DisplayName, c.Stage, aiState(c), c.UnreadCount, truncate(c.LastMessage, 40))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum conversations to list")
	return cmd
}

func newConversationShowCmd() *cobra.Command {
	var history int

	cmd := &cobra.Command{
		Use:   "show <contact>",
		Short: "Show a conversation and its latest messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contact, err := contactArg(args[0])
			if err != nil {
				return err
			}
			return withConversations(func(ctx context.Context, db *store.DB, convs *ingest.ConversationManager) error {
				conv, err := convs.Get(ctx, contact)
				if err != nil {
					return err
				}
				printConversation(conv)

				msgs, err := db.RecentMessages(ctx, conv.ContactID, history)
				if err != nil {
					return err
				}
				fmt.Println()
				for _, m := range msgs {
					fmt.Printf("[%s] %-14s %s\n", m.SentAt.Local().Format("2006-01-02 15:04"), m.Role, m.Content)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&history, "history", 10, "number of recent messages to print")
	return cmd
}

func newConversationStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "stage <contact> <stage>",
		Short:     "Move a conversation to waiting, ai_active, agent_assigned or resolved",
		Args:      cobra.ExactArgs(2),
		ValidArgs: stageNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			contact, err := contactArg(args[0])
			if err != nil {
				return err
			}
			return withConversations(func(ctx context.Context, _ *store.DB, convs *ingest.ConversationManager) error {
				conv, err := convs.SetStage(ctx, contact, domain.Stage(args[1]))
				if err != nil {
					return err
				}
				printConversation(conv)
				return nil
			})
		},
	}
}

func newConversationAICmd() *cobra.Command {
	var enabled, paused string

	cmd := &cobra.Command{
		Use:   "ai <contact>",
		Short: "Enable, disable, pause or resume the AI assistant for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contact, err := contactArg(args[0])
			if err != nil {
				return err
			}
			en, err := optionalBool("enabled", enabled)
			if err != nil {
				return err
			}
			pa, err := optionalBool("paused", paused)
			if err != nil {
				return err
			}
			if en == nil && pa == nil {
				return fmt.Errorf("pass --enabled and/or --paused")
			}
			return withConversations(func(ctx context.Context, _ *store.DB, convs *ingest.ConversationManager) error {
				conv, err := convs.SetAI(ctx, contact, en, pa)
				if err != nil {
					return err
				}
				printConversation(conv)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&enabled, "enabled", "", "true or false")
	cmd.Flags().StringVar(&paused, "paused", "", "true or false")
	return cmd
}

// contactArg normalizes a contact argument the way webhook events are, so
// "+55 (11) 99999-0000" and "5511999990000@c.us" name the same conversation.
func contactArg(arg string) (string, error) {
	contact := ingest.NormalizePhone(arg)
	if contact == "" {
		return "", fmt.Errorf("invalid contact %q: no digits", arg)
	}
	return contact, nil
}

func optionalBool(name, v string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &b, nil
}

func printConversation(c *domain.Conversation) {
	data, _ := json.MarshalIndent(c, "", "  ")
	fmt.Println(string(data))
}

func aiState(c *domain.Conversation) string {
	switch {
	case !c.AIEnabled:
		return "off"
	case c.AIPaused:
		return "paused"
	default:
		return "on"
	}
}

func stageNames() []string {
	names := make([]string, len(domain.AllStages))
	for i, s := range domain.AllStages {
		names[i] = string(s)
	}
	return names
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
