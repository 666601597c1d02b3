package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/KevenMor/repensare-sub001/internal/domain"
)

const messageColumns = `contact_id, id, provider_message_id, content, role, sender_name, sent_at,
	delivery_status, media_type, media_url, media_fallback, reply_to, reactions, edited, deleted`

type messageRow struct {
	ContactID         string         `db:"contact_id"`
	ID                string         `db:"id"`
	ProviderMessageID string         `db:"provider_message_id"`
	Content           string         `db:"content"`
	Role              string         `db:"role"`
	SenderName        string         `db:"sender_name"`
	SentAt            int64          `db:"sent_at"`
	DeliveryStatus    string         `db:"delivery_status"`
	MediaType         string         `db:"media_type"`
	MediaURL          string         `db:"media_url"`
	MediaFallback     bool           `db:"media_fallback"`
	ReplyTo           sql.NullString `db:"reply_to"`
	Reactions         string         `db:"reactions"`
	Edited            bool           `db:"edited"`
	Deleted           bool           `db:"deleted"`
}

func (r messageRow) toDomain() (*domain.Message, error) {
	msg := &domain.Message{
		ID:                r.ID,
		ContactID:         r.ContactID,
		ProviderMessageID: r.ProviderMessageID,
		Content:           r.Content,
		Role:              domain.Role(r.Role),
		SenderName:        r.SenderName,
		SentAt:            fromMillis(r.SentAt),
		DeliveryStatus:    domain.DeliveryStatus(r.DeliveryStatus),
		MediaType:         domain.MediaType(r.MediaType),
		MediaURL:          r.MediaURL,
		MediaFallback:     r.MediaFallback,
		Edited:            r.Edited,
		Deleted:           r.Deleted,
	}
	if r.ReplyTo.Valid && r.ReplyTo.String != "" {
		var ref domain.ReplyRef
		if err := json.Unmarshal([]byte(r.ReplyTo.String), &ref); err != nil {
			return nil, fmt.Errorf("decoding reply_to of %s: %w", r.ID, err)
		}
		msg.ReplyTo = &ref
	}
	reactions, err := decodeReactions(r.Reactions)
	if err != nil {
		return nil, fmt.Errorf("decoding reactions of %s: %w", r.ID, err)
	}
	msg.Reactions = reactions
	return msg, nil
}

func decodeReactions(raw string) ([]domain.Reaction, error) {
	reactions := []domain.Reaction{}
	if raw == "" {
		return reactions, nil
	}
	if err := json.Unmarshal([]byte(raw), &reactions); err != nil {
		return nil, err
	}
	return reactions, nil
}

func encodeReactions(reactions []domain.Reaction) (string, error) {
	if reactions == nil {
		reactions = []domain.Reaction{}
	}
	data, err := json.Marshal(reactions)
	return string(data), err
}

// InsertMessage stores a new message. It reports false without error when a
// message with the same storage key or provider id already exists.
func (db *DB) InsertMessage(ctx context.Context, msg *domain.Message) (bool, error) {
	var replyTo sql.NullString
	if msg.ReplyTo != nil {
		data, err := json.Marshal(msg.ReplyTo)
		if err != nil {
			return false, fmt.Errorf("encoding reply_to: %w", err)
		}
		replyTo = sql.NullString{String: string(data), Valid: true}
	}
	reactions, err := encodeReactions(msg.Reactions)
	if err != nil {
		return false, fmt.Errorf("encoding reactions: %w", err)
	}

	res, err := db.sql.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		msg.ContactID, msg.ID, msg.ProviderMessageID, msg.Content, string(msg.Role),
		msg.SenderName, toMillis(msg.SentAt), string(msg.DeliveryStatus),
		string(msg.MediaType), msg.MediaURL, msg.MediaFallback, replyTo, reactions,
		msg.Edited, msg.Deleted,
	)
	if err != nil {
		return false, fmt.Errorf("inserting message %s: %w", msg.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting message %s: %w", msg.ID, err)
	}
	if n == 0 {
		db.log.Debug().Str("contact", msg.ContactID).Str("id", msg.ID).Msg("message already stored")
	}
	return n > 0, nil
}

func (db *DB) getMessage(ctx context.Context, where string, args ...any) (*domain.Message, error) {
	var row messageRow
	err := db.sql.GetContext(ctx, &row,
		`SELECT `+messageColumns+` FROM messages WHERE `+where+` LIMIT 1`, args...)
	if err != nil {
		return nil, notFound(err)
	}
	return row.toDomain()
}

// MessageByID looks a message up by its storage key.
func (db *DB) MessageByID(ctx context.Context, contactID, id string) (*domain.Message, error) {
	return db.getMessage(ctx, "contact_id = ? AND id = ?", contactID, id)
}

// MessageByProviderID looks a message up by the gateway-assigned id field.
func (db *DB) MessageByProviderID(ctx context.Context, contactID, providerID string) (*domain.Message, error) {
	if providerID == "" {
		return nil, ErrNotFound
	}
	return db.getMessage(ctx, "contact_id = ? AND provider_message_id = ?", contactID, providerID)
}

// RecentOutboundByContent returns the newest agent or AI message with exactly
// this content sent at or after since.
func (db *DB) RecentOutboundByContent(ctx context.Context, contactID, content string, since time.Time) (*domain.Message, error) {
	return db.getMessage(ctx,
		`contact_id = ? AND role IN (?, ?) AND content = ? AND sent_at >= ?
		 ORDER BY sent_at DESC`,
		contactID, string(domain.RoleOutboundAgent), string(domain.RoleOutboundAI),
		content, toMillis(since))
}

// RecentMessages returns up to limit of the newest messages, oldest first.
func (db *DB) RecentMessages(ctx context.Context, contactID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []messageRow
	err := db.sql.SelectContext(ctx, &rows,
		`SELECT `+messageColumns+` FROM messages WHERE contact_id = ?
		 ORDER BY sent_at DESC, rowid DESC LIMIT ?`, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history of %s: %w", contactID, err)
	}

	out := make([]*domain.Message, 0, len(rows))
	for _, r := range rows {
		msg, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	slices.Reverse(out)
	return out, nil
}

// PatchMessage applies the non-nil fields of patch to a stored message.
func (db *DB) PatchMessage(ctx context.Context, contactID, id string, patch domain.MessagePatch) error {
	if patch.Empty() {
		return nil
	}

	var sets []string
	var args []any
	if patch.SenderName != nil {
		sets = append(sets, "sender_name = ?")
		args = append(args, *patch.SenderName)
	}
	if patch.DeliveryStatus != nil {
		sets = append(sets, "delivery_status = ?")
		args = append(args, string(*patch.DeliveryStatus))
	}
	if patch.ProviderMessageID != nil {
		sets = append(sets, "provider_message_id = ?")
		args = append(args, *patch.ProviderMessageID)
	}
	args = append(args, contactID, id)

	res, err := db.sql.ExecContext(ctx,
		`UPDATE messages SET `+strings.Join(sets, ", ")+` WHERE contact_id = ? AND id = ?`, args...)
	if err != nil {
		return fmt.Errorf("patching message %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateReactions replaces the reaction list of a message with fn's result.
// The read and the write happen in one transaction.
func (db *DB) UpdateReactions(ctx context.Context, contactID, id string, fn func([]domain.Reaction) []domain.Reaction) ([]domain.Reaction, error) {
	tx, err := db.sql.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reactions tx: %w", err)
	}
	defer tx.Rollback()

	var raw string
	if err := tx.GetContext(ctx, &raw,
		`SELECT reactions FROM messages WHERE contact_id = ? AND id = ?`, contactID, id); err != nil {
		return nil, notFound(err)
	}

	current, err := decodeReactions(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding reactions of %s: %w", id, err)
	}

	next := fn(current)
	encoded, err := encodeReactions(next)
	if err != nil {
		return nil, fmt.Errorf("encoding reactions: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET reactions = ? WHERE contact_id = ? AND id = ?`, encoded, contactID, id); err != nil {
		return nil, fmt.Errorf("updating reactions of %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reactions tx: %w", err)
	}
	if next == nil {
		next = []domain.Reaction{}
	}
	return next, nil
}
