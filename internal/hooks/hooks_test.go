package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevenMor/repensare-sub001/internal/logging"
)

func testManager() *Manager {
	m := NewManager(logging.New(nil, "silent"))
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestEmitDeliversPayload(t *testing.T) {
	m := testManager()

	var got Payload
	m.On(EventMessageStored, "test", func(_ context.Context, p Payload) error {
		got = p
		return nil
	})

	m.Emit(context.Background(), EventMessageStored, map[string]any{
		"contactId": "5511999990000",
		"role":      "inbound",
	})

	assert.Equal(t, EventMessageStored, got.Event)
	assert.Equal(t, "5511999990000", got.ContactID())
	assert.Equal(t, "inbound", got.Data["role"])
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), got.At)
}

func TestEmitOrderAndIsolation(t *testing.T) {
	m := testManager()

	var order []string
	m.On(EventConversationUpdated, "first", func(context.Context, Payload) error {
		order = append(order, "first")
		return errors.New("broken")
	})
	m.On(EventConversationUpdated, "second", func(context.Context, Payload) error {
		order = append(order, "second")
		panic("listener bug")
	})
	m.On(EventConversationUpdated, "third", func(context.Context, Payload) error {
		order = append(order, "third")
		return nil
	})

	assert.NotPanics(t, func() {
		m.Emit(context.Background(), EventConversationUpdated, nil)
	})
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestEmitOnlyMatchingEvent(t *testing.T) {
	m := testManager()

	calls := 0
	m.On(EventAutoReplySent, "test", func(context.Context, Payload) error {
		calls++
		return nil
	})

	m.Emit(context.Background(), EventAutoReplyFailed, nil)
	assert.Zero(t, calls)
	m.Emit(context.Background(), EventAutoReplySent, nil)
	assert.Equal(t, 1, calls)
}

func TestNilManagerEmit(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.Emit(context.Background(), EventMessageStored, nil)
	})
}

func TestOff(t *testing.T) {
	m := testManager()
	noop := func(context.Context, Payload) error { return nil }

	m.On(EventServerStart, "a", noop)
	m.On(EventServerStart, "b", noop)
	m.On(EventServerStart, "a", noop)
	assert.Equal(t, []string{"a", "b", "a"}, m.Listeners(EventServerStart))

	m.Off(EventServerStart, "a")
	assert.Equal(t, []string{"b"}, m.Listeners(EventServerStart))

	m.Off(EventServerStart, "b")
	assert.Empty(t, m.Listeners(EventServerStart))

	// Unknown names and events are fine.
	m.Off(EventServerStop, "missing")
}

func TestOnAllOffAll(t *testing.T) {
	m := testManager()

	var seen []string
	m.OnAll("feed", func(_ context.Context, p Payload) error {
		seen = append(seen, p.Event)
		return nil
	})
	for _, event := range AllEvents {
		require.Equal(t, []string{"feed"}, m.Listeners(event), event)
		m.Emit(context.Background(), event, nil)
	}
	assert.Equal(t, AllEvents, seen)

	m.OffAll("feed")
	for _, event := range AllEvents {
		assert.Empty(t, m.Listeners(event), event)
	}
}

func TestPayloadContactID(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{"nil data", nil, ""},
		{"missing", map[string]any{"other": 1}, ""},
		{"wrong type", map[string]any{"contactId": 42}, ""},
		{"present", map[string]any{"contactId": "5511"}, "5511"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Payload{Data: tt.data}.ContactID())
		})
	}
}
