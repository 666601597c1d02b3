// Package hooks fans pipeline events (stored messages, reactions, conversation
// changes, auto-replies) out to in-process listeners such as the live feed.
package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevenMor/repensare-sub001/internal/logging"
)

const (
	EventMessageStored       = "message_stored"
	EventReactionApplied     = "reaction_applied"
	EventConversationUpdated = "conversation_updated"
	EventAutoReplySent       = "autoreply_sent"
	EventAutoReplyFailed     = "autoreply_failed"
	EventServerStart         = "server_start"
	EventServerStop          = "server_stop"
)

// AllEvents lists every event the pipeline and server emit.
var AllEvents = []string{
	EventMessageStored,
	EventReactionApplied,
	EventConversationUpdated,
	EventAutoReplySent,
	EventAutoReplyFailed,
	EventServerStart,
	EventServerStop,
}

// Payload is what a listener receives.
type Payload struct {
	Event string         `json:"event"`
	At    time.Time      `json:"at"`
	Data  map[string]any `json:"data,omitempty"`
}

// ContactID returns the conversation the event belongs to, or "" for
// server lifecycle events.
func (p Payload) ContactID() string {
	id, _ := p.Data["contactId"].(string)
	return id
}

// Handler receives one event. A returned error is logged and does not stop
// the remaining listeners.
type Handler func(ctx context.Context, p Payload) error

type listener struct {
	name    string
	handler Handler
}

// Manager keeps listeners per event. Emit runs them on the caller's goroutine
// in registration order, so a listener must not block.
type Manager struct {
	mu        sync.RWMutex
	listeners map[string][]listener
	now       func() time.Time
	log       *logging.Logger
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		listeners: make(map[string][]listener),
		now:       time.Now,
		log:       log.Sub("hooks"),
	}
}

// On adds a listener for event. name is used by Off and in logs.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[event] = append(m.listeners[event], listener{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("listener", name).Msg("listener added")
}

// Off removes every listener called name from event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.listeners[event][:0:0]
	for _, l := range m.listeners[event] {
		if l.name != name {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(m.listeners, event)
		return
	}
	m.listeners[event] = kept
}

func (m *Manager) OnAll(name string, handler Handler) {
	for _, event := range AllEvents {
		m.On(event, name, handler)
	}
}

func (m *Manager) OffAll(name string) {
	for _, event := range AllEvents {
		m.Off(event, name)
	}
}

// Listeners returns the names registered for event.
func (m *Manager) Listeners(event string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.listeners[event]))
	for i, l := range m.listeners[event] {
		names[i] = l.name
	}
	return names
}

// Emit delivers an event to its listeners. A nil Manager is a no-op, which
// lets one-shot CLI commands share code with the server.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	m.mu.RLock()
	ls := append([]listener(nil), m.listeners[event]...)
	m.mu.RUnlock()
	if len(ls) == 0 {
		return
	}

	p := Payload{Event: event, At: m.now().UTC(), Data: data}
	for _, l := range ls {
		if err := m.call(ctx, l, p); err != nil {
			m.log.Warn().Err(err).
				Str("event", event).
				Str("listener", l.name).
				Str("contactId", p.ContactID()).
				Msg("listener failed")
		}
	}
}

// call shields the emitter (usually a webhook request) from a panicking listener.
func (m *Manager) call(ctx context.Context, l listener, p Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.handler(ctx, p)
}
