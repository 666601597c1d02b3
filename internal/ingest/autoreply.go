package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/hooks"
	"github.com/KevenMor/repensare-sub001/internal/llm"
	"github.com/KevenMor/repensare-sub001/internal/logging"
	"github.com/KevenMor/repensare-sub001/internal/store"
	"github.com/KevenMor/repensare-sub001/internal/whatsapp"
)

// Completion parameter fallbacks used when the admin settings leave a value
// empty or unparsable.
const (
	DefaultModel         = "gpt-4o-mini"
	DefaultTemperature   = 0.7
	DefaultMaxTokens     = 500
	DefaultAIDisplayName = "Assistente Virtual"
	DefaultHistoryLimit  = 10
	DefaultCallTimeout   = 15 * time.Second
)

// AutoReplyState is the terminal state of one auto-reply attempt.
type AutoReplyState string

const (
	AutoReplySkipped AutoReplyState = "skipped"
	AutoReplySent    AutoReplyState = "sent"
	AutoReplyFailed  AutoReplyState = "failed"
)

// AutoReplyOutcome records what the auto-replier did. Err is one of
// ErrConfigMissing, ErrCompletion, ErrGatewayRelay or ErrStoreWrite.
type AutoReplyOutcome struct {
	State     AutoReplyState `json:"state"`
	Reason    string         `json:"reason,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	Err       error          `json:"-"`
}

// AutoReplyOptions tunes an AutoReplier.
type AutoReplyOptions struct {
	HistoryLimit int
	Timeout      time.Duration
	Now          func() time.Time
}

// AutoReplier answers inbound customer messages with a completion and relays
// the answer through the messaging gateway.
type AutoReplier struct {
	messages MessageStore
	admin    AdminStore
	convs    *ConversationManager
	client   llm.Client
	senders  whatsapp.Factory
	hooks    *hooks.Manager
	opts     AutoReplyOptions
	log      *logging.Logger
}

// NewAutoReplier creates an auto-replier. client may be nil when no
// completion provider is configured; every attempt is then skipped.
func NewAutoReplier(s Store, convs *ConversationManager, client llm.Client, senders whatsapp.Factory, hm *hooks.Manager, opts AutoReplyOptions, log *logging.Logger) *AutoReplier {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCallTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &AutoReplier{
		messages: s,
		admin:    s,
		convs:    convs,
		client:   client,
		senders:  senders,
		hooks:    hm,
		opts:     opts,
		log:      log.Sub("autoreply"),
	}
}

// Reply runs one auto-reply attempt for inbound. It never returns an error;
// failures are logged and reported in the outcome.
func (a *AutoReplier) Reply(ctx context.Context, conv *domain.Conversation, inbound *domain.Message) AutoReplyOutcome {
	if inbound.Role != domain.RoleInbound {
		return AutoReplyOutcome{State: AutoReplySkipped, Reason: "not an inbound message"}
	}
	if !conv.AutoReplyEligible() {
		return AutoReplyOutcome{State: AutoReplySkipped, Reason: "conversation not eligible"}
	}

	out := a.reply(ctx, conv, inbound)
	log := a.log.With("contact", conv.ContactID)
	switch {
	case out.State == AutoReplySent:
		log.Info().Str("messageId", out.MessageID).Msg("auto-reply sent")
	case errors.Is(out.Err, ErrConfigMissing):
		log.Warn().Err(out.Err).Msg("auto-reply skipped")
	default:
		log.Error().Err(out.Err).Str("messageId", out.MessageID).Msg("auto-reply failed")
	}
	return out
}

func (a *AutoReplier) reply(ctx context.Context, conv *domain.Conversation, inbound *domain.Message) AutoReplyOutcome {
	cfg, err := a.admin.AdminConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return skipped(fmt.Errorf("%w: admin settings not saved", ErrConfigMissing))
	}
	if err != nil {
		return skipped(fmt.Errorf("%w: reading admin settings: %w", ErrConfigMissing, err))
	}
	if !cfg.Gateway.Complete() {
		return skipped(fmt.Errorf("%w: gateway credentials incomplete", ErrConfigMissing))
	}
	if a.client == nil {
		return skipped(fmt.Errorf("%w: no completion provider", ErrConfigMissing))
	}

	// One extra row: the newest one is normally the inbound message itself.
	history, err := a.messages.RecentMessages(ctx, conv.ContactID, a.opts.HistoryLimit+1)
	if err != nil {
		// The reply can still be generated from the new message alone.
		a.log.Warn().Err(err).Str("contact", conv.ContactID).Msg("history unavailable")
	}
	history = priorMessages(history, inbound, a.opts.HistoryLimit)

	name := cfg.AIDisplayName
	if strings.TrimSpace(name) == "" {
		name = DefaultAIDisplayName
	}

	text, err := a.complete(ctx, buildRequest(cfg, conv, name, history, inbound))
	if err != nil {
		return AutoReplyOutcome{State: AutoReplyFailed, Reason: "completion", Err: fmt.Errorf("%w: %w", ErrCompletion, err)}
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ContactID:      conv.ContactID,
		Content:        text,
		Role:           domain.RoleOutboundAI,
		SenderName:     name,
		SentAt:         a.opts.Now().UTC(),
		DeliveryStatus: domain.DeliverySending,
	}
	if _, err := a.messages.InsertMessage(ctx, msg); err != nil {
		return AutoReplyOutcome{State: AutoReplyFailed, Reason: "store", Err: fmt.Errorf("%w: %w", ErrStoreWrite, err)}
	}
	if _, err := a.convs.Touch(ctx, domain.ConversationTouch{
		ContactID:   conv.ContactID,
		LastMessage: text,
		At:          msg.SentAt,
		Direction:   domain.DirectionOutbound,
	}); err != nil {
		a.log.Warn().Err(err).Str("contact", conv.ContactID).Msg("failed to touch conversation after auto-reply")
	}

	res, err := a.relay(ctx, cfg.Gateway, conv.ContactID, "*"+name+":*\n"+text)
	if err != nil {
		failed := domain.DeliveryFailed
		a.patch(ctx, msg, domain.MessagePatch{DeliveryStatus: &failed})
		out := AutoReplyOutcome{State: AutoReplyFailed, Reason: "relay", MessageID: msg.ID, Err: fmt.Errorf("%w: %w", ErrGatewayRelay, err)}
		a.emit(ctx, hooks.EventAutoReplyFailed, msg, out)
		return out
	}

	sent := domain.DeliverySent
	patch := domain.MessagePatch{DeliveryStatus: &sent}
	if res.MessageID != "" {
		patch.ProviderMessageID = &res.MessageID
		msg.ProviderMessageID = res.MessageID
	}
	msg.DeliveryStatus = sent
	a.patch(ctx, msg, patch)

	out := AutoReplyOutcome{State: AutoReplySent, MessageID: msg.ID}
	a.emit(ctx, hooks.EventAutoReplySent, msg, out)
	return out
}

func (a *AutoReplier) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	resp, err := a.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errors.New("empty completion")
	}
	a.log.Debug().
		Str("provider", a.client.Name()).
		Str("model", resp.Model).
		Int("inputTokens", resp.Usage.InputTokens).
		Int("outputTokens", resp.Usage.OutputTokens).
		Dur("duration", resp.Duration).
		Msg("completion done")
	return text, nil
}

func (a *AutoReplier) relay(ctx context.Context, creds domain.GatewayCredentials, phone, text string) (whatsapp.SendResult, error) {
	if a.senders == nil {
		return whatsapp.SendResult{}, errors.New("no gateway client")
	}
	sender, err := a.senders(creds)
	if err != nil {
		return whatsapp.SendResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()
	return sender.SendText(ctx, phone, text)
}

func (a *AutoReplier) patch(ctx context.Context, msg *domain.Message, patch domain.MessagePatch) {
	if err := a.messages.PatchMessage(ctx, msg.ContactID, msg.ID, patch); err != nil {
		a.log.Warn().Err(err).Str("id", msg.ID).Msg("failed to update auto-reply status")
	}
}

func (a *AutoReplier) emit(ctx context.Context, event string, msg *domain.Message, out AutoReplyOutcome) {
	if a.hooks == nil {
		return
	}
	data := map[string]any{"contactId": msg.ContactID, "message": msg, "state": out.State}
	if out.Err != nil {
		data["error"] = out.Err.Error()
	}
	a.hooks.Emit(ctx, event, data)
}

func skipped(err error) AutoReplyOutcome {
	return AutoReplyOutcome{State: AutoReplySkipped, Reason: "config", Err: err}
}

// priorMessages drops the inbound message from an oldest-first history and
// keeps at most limit of the newest remaining entries.
func priorMessages(history []*domain.Message, inbound *domain.Message, limit int) []*domain.Message {
	prior := make([]*domain.Message, 0, len(history))
	for _, m := range history {
		if m.ID != inbound.ID {
			prior = append(prior, m)
		}
	}
	if len(prior) > limit {
		prior = prior[len(prior)-limit:]
	}
	return prior
}

// buildRequest assembles the completion request: the admin prompt plus the
// recent transcript as system text, and the new message as the user turn.
func buildRequest(cfg *domain.AdminConfig, conv *domain.Conversation, aiName string, history []*domain.Message, inbound *domain.Message) llm.CompletionRequest {
	var sys strings.Builder
	sys.WriteString(strings.TrimSpace(cfg.SystemPrompt))

	var lines []string
	for _, m := range history {
		if m.ID == inbound.ID {
			continue
		}
		lines = append(lines, historyLabel(m, conv, aiName)+": "+m.Content)
	}
	if len(lines) > 0 {
		if sys.Len() > 0 {
			sys.WriteString("\n\n")
		}
		sys.WriteString("Conversation so far:\n")
		sys.WriteString(strings.Join(lines, "\n"))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	temperature, ok := parseFloatPrefix(cfg.Temperature)
	if !ok {
		temperature = DefaultTemperature
	}
	maxTokens, ok := parseIntPrefix(cfg.MaxTokens)
	if !ok || maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return llm.CompletionRequest{
		Model:       model,
		System:      sys.String(),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: inbound.Content}},
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
}

func historyLabel(m *domain.Message, conv *domain.Conversation, aiName string) string {
	switch m.Role {
	case domain.RoleInbound:
		if conv.DisplayName != "" {
			return conv.DisplayName
		}
		return "Customer"
	case domain.RoleOutboundAI:
		return aiName
	case domain.RoleOutboundAgent:
		if m.SenderName != "" && !placeholderName(m.SenderName) {
			return m.SenderName
		}
		return "Agent"
	}
	return "System"
}
