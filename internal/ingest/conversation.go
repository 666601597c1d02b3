package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/hooks"
	"github.com/KevenMor/repensare-sub001/internal/logging"
)

var (
	// ErrInvalidStage is returned for a stage name outside domain.AllStages.
	ErrInvalidStage = errors.New("invalid conversation stage")
	// ErrInvalidStatus is returned for an unknown conversation status.
	ErrInvalidStatus = errors.New("invalid conversation status")
)

// ConversationManager owns every write to conversation rows and announces the
// result on the hook bus.
type ConversationManager struct {
	store ConversationStore
	hooks *hooks.Manager
	log   *logging.Logger
}

// NewConversationManager creates a manager. hooks may be nil.
func NewConversationManager(s ConversationStore, hm *hooks.Manager, log *logging.Logger) *ConversationManager {
	return &ConversationManager{store: s, hooks: hm, log: log.Sub("conversations")}
}

// Get returns the conversation of contactID.
func (m *ConversationManager) Get(ctx context.Context, contactID string) (*domain.Conversation, error) {
	return m.store.GetConversation(ctx, contactID)
}

// Touch applies the effect of one stored message, creating the conversation
// on first contact.
func (m *ConversationManager) Touch(ctx context.Context, t domain.ConversationTouch) (*domain.Conversation, error) {
	conv, err := m.store.TouchConversation(ctx, t)
	if err != nil {
		return nil, err
	}
	m.emit(ctx, conv, "touch")
	return conv, nil
}

// SetStage moves the conversation to stage. Every transition is allowed.
func (m *ConversationManager) SetStage(ctx context.Context, contactID string, stage domain.Stage) (*domain.Conversation, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStage, stage)
	}
	conv, err := m.store.SetStage(ctx, contactID, stage)
	if err != nil {
		return nil, err
	}
	m.log.Info().Str("contact", contactID).Str("stage", string(stage)).Msg("stage changed")
	m.emit(ctx, conv, "stage")
	return conv, nil
}

// SetAI updates the AI switches; nil leaves a switch unchanged.
func (m *ConversationManager) SetAI(ctx context.Context, contactID string, enabled, paused *bool) (*domain.Conversation, error) {
	conv, err := m.store.SetAI(ctx, contactID, enabled, paused)
	if err != nil {
		return nil, err
	}
	m.log.Info().Str("contact", contactID).Bool("aiEnabled", conv.AIEnabled).Bool("aiPaused", conv.AIPaused).Msg("ai switches changed")
	m.emit(ctx, conv, "ai")
	return conv, nil
}

// SetStatus changes the lifecycle status.
func (m *ConversationManager) SetStatus(ctx context.Context, contactID string, status domain.ConversationStatus) (*domain.Conversation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	conv, err := m.store.SetStatus(ctx, contactID, status)
	if err != nil {
		return nil, err
	}
	m.emit(ctx, conv, "status")
	return conv, nil
}

func (m *ConversationManager) emit(ctx context.Context, conv *domain.Conversation, cause string) {
	if m.hooks == nil {
		return
	}
	m.hooks.Emit(ctx, hooks.EventConversationUpdated, map[string]any{
		"contactId":    conv.ContactID,
		"conversation": conv,
		"cause":        cause,
	})
}
