package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/hooks"
	"github.com/KevenMor/repensare-sub001/internal/logging"
	"github.com/KevenMor/repensare-sub001/internal/media"
)

// State is where a delivery ended up.
type State string

const (
	StateIgnored  State = "ignored"
	StateDeduped  State = "deduped"
	StateReaction State = "reaction"
	StateSkipped  State = "skipped"
	StateStored   State = "stored"
)

// Outcome summarizes the handling of one webhook delivery.
type Outcome struct {
	State     State             `json:"state"`
	Reason    string            `json:"reason,omitempty"`
	ContactID string            `json:"contactId,omitempty"`
	MessageID string            `json:"messageId,omitempty"`
	Verdict   string            `json:"verdict,omitempty"`
	Reaction  *ReactionResult   `json:"reaction,omitempty"`
	AutoReply *AutoReplyOutcome `json:"autoReply,omitempty"`
	// Degraded lists the recoverable failures hit while storing, such as
	// ErrMediaFetch.
	Degraded []error `json:"-"`
	// Cause classifies ignored and deduped outcomes.
	Cause error `json:"-"`
}

// Materializer re-hosts remote media.
type Materializer interface {
	Materialize(ctx context.Context, src string, mediaType domain.MediaType, name string) media.Result
}

// Pipeline sequences the components for one delivery.
type Pipeline struct {
	store     MessageStore
	dedup     *DedupGuard
	reactions *ReactionProcessor
	media     Materializer
	replies   *ReplyResolver
	convs     *ConversationManager
	auto      *AutoReplier
	hooks     *hooks.Manager
	log       *logging.Logger
}

// PipelineDeps are the collaborators of a Pipeline. Media and AutoReplier may
// be nil.
type PipelineDeps struct {
	Store         MessageStore
	Dedup         *DedupGuard
	Reactions     *ReactionProcessor
	Media         Materializer
	Replies       *ReplyResolver
	Conversations *ConversationManager
	AutoReplier   *AutoReplier
	Hooks         *hooks.Manager
}

// NewPipeline creates a pipeline from deps.
func NewPipeline(deps PipelineDeps, log *logging.Logger) *Pipeline {
	return &Pipeline{
		store:     deps.Store,
		dedup:     deps.Dedup,
		reactions: deps.Reactions,
		media:     deps.Media,
		replies:   deps.Replies,
		convs:     deps.Conversations,
		auto:      deps.AutoReplier,
		hooks:     deps.Hooks,
		log:       log.Sub("pipeline"),
	}
}

// Handle processes one raw webhook body. A non-nil error means the event may
// not have been persisted and the gateway should redeliver it.
func (p *Pipeline) Handle(ctx context.Context, raw []byte) (Outcome, error) {
	n, err := Normalize(raw)
	if err != nil {
		p.log.Warn().Err(err).Msg("dropping malformed event")
		return Outcome{State: StateIgnored, Reason: err.Error(), Cause: ErrMalformedEvent}, nil
	}
	if n.Ignored {
		p.log.Debug().Str("reason", n.Reason).Msg("event ignored")
		return Outcome{State: StateIgnored, Reason: n.Reason}, nil
	}
	return p.HandleEvent(ctx, n.Event)
}

// HandleEvent processes an already normalized event.
func (p *Pipeline) HandleEvent(ctx context.Context, ev *domain.InboundEvent) (Outcome, error) {
	log := p.log.With("contact", ev.ContactID)
	out := Outcome{ContactID: ev.ContactID}

	verdict, err := p.dedup.Check(ctx, ev)
	if err != nil {
		return out, err
	}
	if verdict.Duplicate() {
		log.Debug().Str("messageId", ev.ProviderMessageID).Stringer("verdict", verdict.Kind).Msg("duplicate event")
		out.State = StateDeduped
		out.Verdict = verdict.Kind.String()
		out.MessageID = verdict.Ref.ID
		out.Cause = ErrDuplicateEvent
		return out, nil
	}

	switch ev.Kind {
	case domain.KindReaction:
		res, err := p.reactions.Apply(ctx, ev)
		if err != nil {
			return out, err
		}
		out.State = StateReaction
		out.MessageID = res.TargetID
		out.Reaction = &res
		return out, nil
	case domain.KindUnknown:
		log.Debug().Str("messageId", ev.ProviderMessageID).Msg("unrecognized payload, nothing stored")
		out.State = StateSkipped
		out.Reason = "unsupported payload"
		return out, nil
	}

	msg, degraded := p.buildMessage(ctx, ev)
	out.Degraded = degraded

	inserted, err := p.store.InsertMessage(ctx, msg)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	out.MessageID = msg.ID
	if !inserted {
		// A concurrent delivery of the same event won the insert.
		out.State = StateDeduped
		out.Verdict = AlreadyStored.String()
		out.Cause = ErrDuplicateEvent
		return out, nil
	}

	touch := domain.ConversationTouch{
		ContactID:   ev.ContactID,
		DisplayName: ev.ContactName,
		LastMessage: msg.Content,
		At:          msg.SentAt,
		Direction:   domain.DirectionInbound,
	}
	if ev.FromAgent {
		touch.Direction = domain.DirectionOutbound
	}
	if ev.Avatar != nil {
		touch.AvatarSet = true
		touch.AvatarURL = *ev.Avatar
	}
	conv, err := p.convs.Touch(ctx, touch)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	out.State = StateStored

	if p.hooks != nil {
		p.hooks.Emit(ctx, hooks.EventMessageStored, map[string]any{"contactId": msg.ContactID, "message": msg})
	}
	log.Info().Str("messageId", msg.ID).Str("role", string(msg.Role)).Str("kind", string(ev.Kind)).Msg("message stored")

	if p.auto != nil && msg.Role == domain.RoleInbound {
		// The reply must finish even if the gateway drops the request.
		res := p.auto.Reply(context.WithoutCancel(ctx), conv, msg)
		out.AutoReply = &res
	}
	return out, nil
}

// buildMessage maps ev to a Message, materializing media and resolving the
// quoted message concurrently.
func (p *Pipeline) buildMessage(ctx context.Context, ev *domain.InboundEvent) (*domain.Message, []error) {
	msg := &domain.Message{
		ID:                ev.ProviderMessageID,
		ContactID:         ev.ContactID,
		ProviderMessageID: ev.ProviderMessageID,
		Content:           ev.Payload.Content(),
		Role:              ev.Role(),
		SenderName:        ev.SenderDisplayName,
		SentAt:            ev.OccurredAt,
		DeliveryStatus:    domain.DeliverySent,
	}
	if !ev.FromAgent && ev.ContactName != "" {
		msg.SenderName = ev.ContactName
	}

	var (
		wg         sync.WaitGroup
		res        media.Result
		reply      *domain.ReplyRef
		replyFound bool
		degraded   []error
	)

	switch pl := ev.Payload.(type) {
	case domain.MediaPayload:
		msg.MediaType = pl.Type
		if p.media == nil {
			msg.MediaURL = pl.Ref.SourceURL
			msg.MediaFallback = pl.Ref.SourceURL != ""
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := pl.Ref.FileName
			if name == "" {
				name = ev.ContactID
			}
			res = p.media.Materialize(ctx, pl.Ref.SourceURL, pl.Type, name)
		}()
	case domain.SummaryPayload:
		msg.MediaType = pl.Type
	}

	if ev.QuotedMessageID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, replyFound = p.replies.resolve(ctx, ev.ContactID, ev.QuotedMessageID)
		}()
	}
	wg.Wait()

	if msg.MediaType.Downloadable() && p.media != nil {
		msg.MediaURL = res.URL
		msg.MediaFallback = res.Fallback
	}
	if msg.MediaFallback {
		degraded = append(degraded, ErrMediaFetch)
	}
	msg.ReplyTo = reply
	if reply != nil && !replyFound {
		degraded = append(degraded, ErrReplyLookupMiss)
	}
	return msg, degraded
}
