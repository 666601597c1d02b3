package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/KevenMor/repensare-sub001/internal/domain"
)

const conversationColumns = `contact_id, display_name, last_message, last_message_at, unread_count,
	status, ai_enabled, ai_paused, stage, avatar_url, created_at, updated_at`

type conversationRow struct {
	ContactID     string         `db:"contact_id"`
	DisplayName   string         `db:"display_name"`
	LastMessage   string         `db:"last_message"`
	LastMessageAt int64          `db:"last_message_at"`
	UnreadCount   int            `db:"unread_count"`
	Status        string         `db:"status"`
	AIEnabled     bool           `db:"ai_enabled"`
	AIPaused      bool           `db:"ai_paused"`
	Stage         string         `db:"stage"`
	AvatarURL     sql.NullString `db:"avatar_url"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
}

func (r conversationRow) toDomain() *domain.Conversation {
	conv := &domain.Conversation{
		ContactID:     r.ContactID,
		DisplayName:   r.DisplayName,
		LastMessage:   r.LastMessage,
		LastMessageAt: fromMillis(r.LastMessageAt),
		UnreadCount:   r.UnreadCount,
		Status:        domain.ConversationStatus(r.Status),
		AIEnabled:     r.AIEnabled,
		AIPaused:      r.AIPaused,
		Stage:         domain.Stage(r.Stage),
		CreatedAt:     fromMillis(r.CreatedAt),
		UpdatedAt:     fromMillis(r.UpdatedAt),
	}
	if r.AvatarURL.Valid {
		v := r.AvatarURL.String
		conv.AvatarURL = &v
	}
	return conv
}

// GetConversation returns the conversation for a contact, or ErrNotFound.
func (db *DB) GetConversation(ctx context.Context, contactID string) (*domain.Conversation, error) {
	var row conversationRow
	err := db.sql.GetContext(ctx, &row,
		`SELECT `+conversationColumns+` FROM conversations WHERE contact_id = ?`, contactID)
	if err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

// ListConversations returns conversations ordered by most recent activity.
func (db *DB) ListConversations(ctx context.Context, limit int) ([]*domain.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []conversationRow
	err := db.sql.SelectContext(ctx, &rows,
		`SELECT `+conversationColumns+` FROM conversations
		 ORDER BY last_message_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	out := make([]*domain.Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

type touchArgs struct {
	ContactID   string         `db:"contact_id"`
	DisplayName string         `db:"display_name"`
	LastMessage string         `db:"last_message"`
	At          int64          `db:"at"`
	Direction   int            `db:"dir"`
	AvatarSet   bool           `db:"avatar_set"`
	AvatarURL   sql.NullString `db:"avatar_url"`
	Now         int64          `db:"now"`
}

// touchSQL creates the conversation with defaults or updates it in place.
// Unread: +1 for inbound, reset for outbound, untouched otherwise.
// The display name is upgraded by inbound events and filled when still empty.
const touchSQL = `
	INSERT INTO conversations (
		contact_id, display_name, last_message, last_message_at, unread_count,
		status, ai_enabled, ai_paused, stage, avatar_url, created_at, updated_at
	) VALUES (
		:contact_id, :display_name, :last_message, :at,
		CASE WHEN :dir = 1 THEN 1 ELSE 0 END,
		'active', 1, 0, 'ai_active', :avatar_url, :now, :now
	)
	ON CONFLICT (contact_id) DO UPDATE SET
		display_name = CASE
			WHEN :dir = 1 AND excluded.display_name <> '' THEN excluded.display_name
			WHEN conversations.display_name = '' THEN excluded.display_name
			ELSE conversations.display_name END,
		last_message = excluded.last_message,
		last_message_at = excluded.last_message_at,
		unread_count = CASE :dir
			WHEN 1 THEN conversations.unread_count + 1
			WHEN 2 THEN 0
			ELSE conversations.unread_count END,
		avatar_url = CASE WHEN :avatar_set THEN excluded.avatar_url ELSE conversations.avatar_url END,
		updated_at = excluded.updated_at
	RETURNING ` + conversationColumns

// TouchConversation applies the conversation-level effect of one stored message
// in a single statement and returns the resulting row.
func (db *DB) TouchConversation(ctx context.Context, t domain.ConversationTouch) (*domain.Conversation, error) {
	args := touchArgs{
		ContactID:   t.ContactID,
		DisplayName: t.DisplayName,
		LastMessage: t.LastMessage,
		At:          toMillis(t.At),
		Direction:   int(t.Direction),
		AvatarSet:   t.AvatarSet,
		AvatarURL:   sql.NullString{String: t.AvatarURL, Valid: t.AvatarSet && t.AvatarURL != ""},
		Now:         toMillis(db.now()),
	}

	query, qargs, err := sqlx.Named(touchSQL, args)
	if err != nil {
		return nil, fmt.Errorf("binding touch: %w", err)
	}

	var row conversationRow
	if err := db.sql.QueryRowxContext(ctx, query, qargs...).StructScan(&row); err != nil {
		return nil, fmt.Errorf("touching conversation %s: %w", t.ContactID, err)
	}
	return row.toDomain(), nil
}

func (db *DB) updateConversation(ctx context.Context, contactID, set string, args ...any) (*domain.Conversation, error) {
	args = append(args, toMillis(db.now()), contactID)
	var row conversationRow
	err := db.sql.QueryRowxContext(ctx,
		`UPDATE conversations SET `+set+`, updated_at = ? WHERE contact_id = ?
		 RETURNING `+conversationColumns, args...).StructScan(&row)
	if err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

// SetStage moves a conversation to the given stage.
func (db *DB) SetStage(ctx context.Context, contactID string, stage domain.Stage) (*domain.Conversation, error) {
	return db.updateConversation(ctx, contactID, "stage = ?", string(stage))
}

// SetStatus changes the coarse lifecycle status of a conversation.
func (db *DB) SetStatus(ctx context.Context, contactID string, status domain.ConversationStatus) (*domain.Conversation, error) {
	return db.updateConversation(ctx, contactID, "status = ?", string(status))
}

// SetAI updates the AI enabled and paused flags. Nil leaves a flag unchanged.
func (db *DB) SetAI(ctx context.Context, contactID string, enabled, paused *bool) (*domain.Conversation, error) {
	return db.updateConversation(ctx, contactID,
		"ai_enabled = COALESCE(?, ai_enabled), ai_paused = COALESCE(?, ai_paused)",
		nullBool(enabled), nullBool(paused))
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
