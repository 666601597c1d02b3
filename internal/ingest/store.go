package ingest

import (
	"context"
	"time"

	"github.com/KevenMor/repensare-sub001/internal/domain"
)

// MessageStore is the message half of the durable store.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *domain.Message) (bool, error)
	MessageByID(ctx context.Context, contactID, id string) (*domain.Message, error)
	MessageByProviderID(ctx context.Context, contactID, providerID string) (*domain.Message, error)
	RecentOutboundByContent(ctx context.Context, contactID, content string, since time.Time) (*domain.Message, error)
	RecentMessages(ctx context.Context, contactID string, limit int) ([]*domain.Message, error)
	PatchMessage(ctx context.Context, contactID, id string, patch domain.MessagePatch) error
	UpdateReactions(ctx context.Context, contactID, id string, fn func([]domain.Reaction) []domain.Reaction) ([]domain.Reaction, error)
}

// ConversationStore is the conversation half of the durable store.
type ConversationStore interface {
	GetConversation(ctx context.Context, contactID string) (*domain.Conversation, error)
	TouchConversation(ctx context.Context, t domain.ConversationTouch) (*domain.Conversation, error)
	SetStage(ctx context.Context, contactID string, stage domain.Stage) (*domain.Conversation, error)
	SetStatus(ctx context.Context, contactID string, status domain.ConversationStatus) (*domain.Conversation, error)
	SetAI(ctx context.Context, contactID string, enabled, paused *bool) (*domain.Conversation, error)
}

// AdminStore reads the admin settings document.
type AdminStore interface {
	AdminConfig(ctx context.Context) (*domain.AdminConfig, error)
}

// Store is everything the pipeline needs from *store.DB.
type Store interface {
	MessageStore
	ConversationStore
	AdminStore
}
