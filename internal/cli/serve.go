package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KevenMor/repensare-sub001/internal/config"
	"github.com/KevenMor/repensare-sub001/internal/gateway"
	"github.com/KevenMor/repensare-sub001/internal/hooks"
	"github.com/KevenMor/repensare-sub001/internal/ingest"
	"github.com/KevenMor/repensare-sub001/internal/llm"
	"github.com/KevenMor/repensare-sub001/internal/logging"
	"github.com/KevenMor/repensare-sub001/internal/media"
	"github.com/KevenMor/repensare-sub001/internal/objectstore"
	"github.com/KevenMor/repensare-sub001/internal/whatsapp"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}
			if issues := config.Validate(&cfg); len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			// The config picks the console style unless the flag overrode the level.
			if logLevel == "" {
				log = logging.NewStyled(cfg.Logging.Level, cfg.Logging.ConsoleStyle)
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, &cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}

// serve wires the store, media, completion and gateway clients into the
// ingest pipeline and runs the HTTP server until ctx is done.
func serve(ctx context.Context, cfg *config.Config) error {
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	hookMgr := hooks.NewManager(log)

	objects, err := objectstore.Open(ctx, cfg.ObjectStore, paths.MediaDir(cfg), log)
	if err != nil {
		return fmt.Errorf("opening object store: %w", err)
	}
	materializer := media.New(objects, media.Options{
		Timeout:  cfg.Ingest.ExternalTimeout,
		MaxBytes: cfg.Ingest.MediaMaxBytes,
	}, log)

	// Without a completion client every auto-reply is skipped; ingestion still runs.
	completion, err := llm.New(cfg.Completion, log)
	switch {
	case errors.Is(err, llm.ErrDisabled):
		log.Warn().Msg("completion provider disabled, auto-replies will be skipped")
	case err != nil:
		log.Warn().Err(err).Msg("completion provider unavailable, auto-replies will be skipped")
	}
	if err != nil {
		completion = nil
	}

	senders := whatsapp.NewFactory(whatsapp.Options{
		BaseURL:       cfg.WhatsApp.BaseURL,
		Timeout:       cfg.Ingest.ExternalTimeout,
		RatePerSecond: cfg.WhatsApp.RatePerSecond,
		Burst:         cfg.WhatsApp.Burst,
	}, log)

	convs := ingest.NewConversationManager(db, hookMgr, log)
	replier := ingest.NewAutoReplier(db, convs, completion, senders, hookMgr, ingest.AutoReplyOptions{
		HistoryLimit: cfg.Ingest.HistoryLimit,
		Timeout:      cfg.Ingest.ExternalTimeout,
	}, log)
	pipeline := ingest.NewPipeline(ingest.PipelineDeps{
		Store:         db,
		Dedup:         ingest.NewDedupGuard(db, cfg.Ingest.EchoWindow, log),
		Reactions:     ingest.NewReactionProcessor(db, ingest.NewTTLThrottle(cfg.Ingest.ReactionLogThrottle), hookMgr, log),
		Media:         materializer,
		Replies:       ingest.NewReplyResolver(db, log),
		Conversations: convs,
		AutoReplier:   replier,
		Hooks:         hookMgr,
	}, log)

	opts := []gateway.ServerOption{
		gateway.WithWebhook(pipeline),
		gateway.WithConversations(convs, db),
		gateway.WithStore(db),
		gateway.WithHooks(hookMgr),
	}
	if local, ok := objects.(*objectstore.Local); ok {
		opts = append(opts, gateway.WithMedia(local.Handler()))
	}

	return gateway.New(cfg.Server, log, opts...).Start(ctx)
}
