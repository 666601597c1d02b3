package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/hooks"
	"github.com/KevenMor/repensare-sub001/internal/logging"
	"github.com/KevenMor/repensare-sub001/internal/store"
)

// ReactionResult describes what a reaction event changed.
type ReactionResult struct {
	// Applied is false when the target message is not stored.
	Applied   bool              `json:"applied"`
	TargetID  string            `json:"targetId,omitempty"`
	Reactions []domain.Reaction `json:"reactions,omitempty"`
	// NoteID is set when a system note was stored for a missing target.
	NoteID string `json:"noteId,omitempty"`
}

// ReactionProcessor applies reaction events to stored messages.
type ReactionProcessor struct {
	messages MessageStore
	convs    ConversationStore
	throttle Throttle
	hooks    *hooks.Manager
	log      *logging.Logger
}

// NewReactionProcessor creates a processor. A nil throttle logs every event.
func NewReactionProcessor(s Store, throttle Throttle, hm *hooks.Manager, log *logging.Logger) *ReactionProcessor {
	return &ReactionProcessor{messages: s, convs: s, throttle: throttle, hooks: hm, log: log.Sub("reactions")}
}

// Apply adds or removes the reaction carried by ev. A missing target is not
// an error.
func (p *ReactionProcessor) Apply(ctx context.Context, ev *domain.InboundEvent) (ReactionResult, error) {
	payload, ok := ev.Payload.(domain.ReactionPayload)
	if !ok {
		return ReactionResult{}, fmt.Errorf("%w: not a reaction", ErrMalformedEvent)
	}

	target, err := p.findTarget(ctx, ev.ContactID, payload.TargetID)
	if errors.Is(err, store.ErrNotFound) {
		return p.missingTarget(ctx, ev, payload)
	}
	if err != nil {
		return ReactionResult{}, err
	}

	identity := ev.ContactID
	reactions, err := p.messages.UpdateReactions(ctx, ev.ContactID, target.ID, func(current []domain.Reaction) []domain.Reaction {
		return applyReaction(current, domain.Reaction{
			Emoji:      payload.Emoji,
			ByIdentity: identity,
			FromAgent:  ev.FromAgent,
			At:         ev.OccurredAt,
		}, payload.Removed)
	})
	if err != nil {
		return ReactionResult{}, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}

	if p.throttle == nil || p.throttle.Allow(target.ID+"|"+payload.Emoji) {
		p.log.Info().
			Str("contact", ev.ContactID).
			Str("target", target.ID).
			Str("emoji", payload.Emoji).
			Bool("removed", payload.Removed).
			Bool("fromAgent", ev.FromAgent).
			Msg("reaction applied")
	}

	if p.hooks != nil {
		p.hooks.Emit(ctx, hooks.EventReactionApplied, map[string]any{
			"contactId": ev.ContactID,
			"messageId": target.ID,
			"reactions": reactions,
		})
	}
	return ReactionResult{Applied: true, TargetID: target.ID, Reactions: reactions}, nil
}

func (p *ReactionProcessor) findTarget(ctx context.Context, contactID, targetID string) (*domain.Message, error) {
	if targetID == "" {
		return nil, store.ErrNotFound
	}
	m, err := p.messages.MessageByProviderID(ctx, contactID, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return p.messages.MessageByID(ctx, contactID, targetID)
	}
	return m, err
}

// missingTarget records a system note in an existing conversation so agents
// see the reaction. Removals and unknown contacts leave no trace.
func (p *ReactionProcessor) missingTarget(ctx context.Context, ev *domain.InboundEvent, payload domain.ReactionPayload) (ReactionResult, error) {
	p.log.Debug().Str("contact", ev.ContactID).Str("target", payload.TargetID).Msg("reaction target not found")
	if payload.Removed {
		return ReactionResult{TargetID: payload.TargetID}, nil
	}

	if _, err := p.convs.GetConversation(ctx, ev.ContactID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ReactionResult{TargetID: payload.TargetID}, nil
		}
		return ReactionResult{}, err
	}

	who := "Customer"
	if ev.FromAgent {
		who = "Agent"
	}
	note := &domain.Message{
		ID:                ev.ProviderMessageID,
		ContactID:         ev.ContactID,
		ProviderMessageID: ev.ProviderMessageID,
		Content:           fmt.Sprintf("%s reacted %s to a removed or unknown message", who, payload.Emoji),
		Role:              domain.RoleSystem,
		SentAt:            ev.OccurredAt,
		DeliveryStatus:    domain.DeliverySent,
	}
	if _, err := p.messages.InsertMessage(ctx, note); err != nil {
		return ReactionResult{}, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	return ReactionResult{TargetID: payload.TargetID, NoteID: note.ID}, nil
}

// applyReaction removes the reaction of the same (identity, side) or upserts
// it in place.
func applyReaction(current []domain.Reaction, r domain.Reaction, remove bool) []domain.Reaction {
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	out := make([]domain.Reaction, 0, len(current)+1)
	replaced := false
	for _, c := range current {
		if c.ByIdentity != r.ByIdentity || c.FromAgent != r.FromAgent {
			out = append(out, c)
			continue
		}
		if !remove && !replaced {
			out = append(out, r)
			replaced = true
		}
	}
	if !remove && !replaced {
		out = append(out, r)
	}
	return out
}
