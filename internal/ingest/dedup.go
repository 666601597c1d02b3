package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/logging"
	"github.com/KevenMor/repensare-sub001/internal/store"
)

// DefaultEchoWindow bounds how far back an agent echo is matched by content.
const DefaultEchoWindow = 2 * time.Minute

// VerdictKind classifies an event against what is already stored.
type VerdictKind int

const (
	FirstSeen VerdictKind = iota
	AlreadyStored
	ContentWindowDuplicate
)

func (k VerdictKind) String() string {
	switch k {
	case AlreadyStored:
		return "already_stored"
	case ContentWindowDuplicate:
		return "content_window_duplicate"
	}
	return "first_seen"
}

// Verdict is the dedup decision. Ref is the matched message for duplicates.
type Verdict struct {
	Kind VerdictKind
	Ref  *domain.Message
}

// Duplicate reports whether the event must not be stored again.
func (v Verdict) Duplicate() bool { return v.Kind != FirstSeen }

// DedupGuard decides whether an event was already stored, patching the stored
// copy of agent messages when their echo arrives.
type DedupGuard struct {
	store  MessageStore
	window time.Duration
	now    func() time.Time
	log    *logging.Logger
}

// NewDedupGuard creates a guard. A non-positive window uses DefaultEchoWindow.
func NewDedupGuard(s MessageStore, window time.Duration, log *logging.Logger) *DedupGuard {
	if window <= 0 {
		window = DefaultEchoWindow
	}
	return &DedupGuard{store: s, window: window, now: time.Now, log: log.Sub("dedup")}
}

// Check runs the lookups in order: storage key, provider id, then (agent
// events only) identical content inside the echo window.
func (g *DedupGuard) Check(ctx context.Context, ev *domain.InboundEvent) (Verdict, error) {
	lookups := []func(context.Context, string, string) (*domain.Message, error){
		g.store.MessageByID,
		g.store.MessageByProviderID,
	}
	for _, lookup := range lookups {
		m, err := lookup(ctx, ev.ContactID, ev.ProviderMessageID)
		if err == nil {
			g.patchEcho(ctx, m, ev, false)
			return Verdict{Kind: AlreadyStored, Ref: m}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Verdict{}, fmt.Errorf("dedup lookup %s: %w", ev.ProviderMessageID, err)
		}
	}

	if !ev.FromAgent {
		return Verdict{Kind: FirstSeen}, nil
	}
	content := ev.Payload.Content()
	if content == "" || placeholderOnly(ev.Payload) {
		return Verdict{Kind: FirstSeen}, nil
	}

	m, err := g.store.RecentOutboundByContent(ctx, ev.ContactID, content, g.now().Add(-g.window))
	if errors.Is(err, store.ErrNotFound) {
		return Verdict{Kind: FirstSeen}, nil
	}
	if err != nil {
		return Verdict{}, fmt.Errorf("dedup echo lookup: %w", err)
	}
	g.patchEcho(ctx, m, ev, true)
	return Verdict{Kind: ContentWindowDuplicate, Ref: m}, nil
}

// placeholderOnly reports whether the payload's content is a generic media
// placeholder. Two uncaptioned images share it, so it cannot identify an echo;
// the service never sends media itself.
func placeholderOnly(p domain.Payload) bool {
	m, ok := p.(domain.MediaPayload)
	return ok && strings.TrimSpace(m.Ref.Caption) == ""
}

// patchEcho applies the narrow update an agent echo may make. Patch failures
// are logged only; the verdict stands.
func (g *DedupGuard) patchEcho(ctx context.Context, m *domain.Message, ev *domain.InboundEvent, recordID bool) {
	if !ev.FromAgent {
		return
	}
	var patch domain.MessagePatch
	if name := ev.SenderDisplayName; name != "" && name != m.SenderName && placeholderName(m.SenderName) {
		patch.SenderName = &name
		m.SenderName = name
	}
	if m.DeliveryStatus != domain.DeliverySent {
		sent := domain.DeliverySent
		patch.DeliveryStatus = &sent
		m.DeliveryStatus = sent
	}
	if recordID && m.ProviderMessageID == "" {
		id := ev.ProviderMessageID
		patch.ProviderMessageID = &id
		m.ProviderMessageID = id
	}
	if patch.Empty() {
		return
	}
	if err := g.store.PatchMessage(ctx, m.ContactID, m.ID, patch); err != nil {
		g.log.Warn().Err(err).Str("contact", m.ContactID).Str("id", m.ID).Msg("failed to patch echoed message")
	}
}

// placeholderName reports whether a stored sender name is missing or just a
// phone number.
func placeholderName(name string) bool {
	if name == "" {
		return true
	}
	for _, r := range name {
		if (r < '0' || r > '9') && r != '+' && r != ' ' {
			return false
		}
	}
	return true
}
