package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/logging"
	"github.com/KevenMor/repensare-sub001/internal/store"
)

// UnavailableReplyText stands in for a quoted message that is not stored.
const UnavailableReplyText = "message unavailable"

// ReplyResolver builds the ReplyRef of a message that quotes another.
type ReplyResolver struct {
	store MessageStore
	log   *logging.Logger
}

// NewReplyResolver creates a resolver over s.
func NewReplyResolver(s MessageStore, log *logging.Logger) *ReplyResolver {
	return &ReplyResolver{store: s, log: log.Sub("reply")}
}

// Resolve never fails: a quote that cannot be found yields a placeholder.
// An empty quotedID returns nil.
func (r *ReplyResolver) Resolve(ctx context.Context, contactID, quotedID string) *domain.ReplyRef {
	ref, _ := r.resolve(ctx, contactID, quotedID)
	return ref
}

// resolve also reports whether the quoted message was found.
func (r *ReplyResolver) resolve(ctx context.Context, contactID, quotedID string) (*domain.ReplyRef, bool) {
	if quotedID == "" {
		return nil, false
	}
	ref, err := r.lookup(ctx, contactID, quotedID)
	if err != nil {
		if !errors.Is(err, ErrReplyLookupMiss) {
			r.log.Warn().Err(err).Str("contact", contactID).Str("quoted", quotedID).Msg("reply lookup failed")
		}
		return &domain.ReplyRef{LocalID: quotedID, Text: UnavailableReplyText, Author: domain.AuthorCustomer}, false
	}
	return ref, true
}

func (r *ReplyResolver) lookup(ctx context.Context, contactID, quotedID string) (*domain.ReplyRef, error) {
	m, err := r.store.MessageByProviderID(ctx, contactID, quotedID)
	if errors.Is(err, store.ErrNotFound) {
		m, err = r.store.MessageByID(ctx, contactID, quotedID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReplyLookupMiss, quotedID)
	}
	if err != nil {
		return nil, err
	}

	author := domain.AuthorCustomer
	if m.Role.Outbound() {
		author = domain.AuthorAgent
	}
	return &domain.ReplyRef{LocalID: m.ID, Text: m.Content, Author: author}, nil
}
