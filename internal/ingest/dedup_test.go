package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevenMor/repensare-sub001/internal/domain"
)

func agentEvent(id, text, sender string) *domain.InboundEvent {
	return &domain.InboundEvent{
		ProviderMessageID: id,
		ContactID:         phone,
		FromAgent:         true,
		OccurredAt:        time.Now().UTC(),
		SenderDisplayName: sender,
		Kind:              domain.KindText,
		Payload:           domain.TextPayload{Body: text},
	}
}

func TestDedupGuard_AgentEchoPatchesByStorageKey(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.InsertMessage(ctx, &domain.Message{
		ID: "P1", ContactID: phone, Content: "Oi", Role: domain.RoleOutboundAgent,
		SenderName: "5511999990000", SentAt: time.Now().UTC(), DeliveryStatus: domain.DeliverySending,
	})
	require.NoError(t, err)

	g := NewDedupGuard(db, 0, testLog())
	v, err := g.Check(ctx, agentEvent("P1", "Oi", "Ana"))
	require.NoError(t, err)
	assert.Equal(t, AlreadyStored, v.Kind)
	assert.True(t, v.Duplicate())

	m, err := db.MessageByID(ctx, phone, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", m.SenderName)
	assert.Equal(t, domain.DeliverySent, m.DeliveryStatus)
}

func TestDedupGuard_CustomerDuplicateNotPatched(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.InsertMessage(ctx, &domain.Message{
		ID: "M1", ContactID: phone, Content: "Oi", Role: domain.RoleInbound,
		SentAt: time.Now().UTC(), DeliveryStatus: domain.DeliverySent,
	})
	require.NoError(t, err)

	ev := agentEvent("M1", "Oi", "Maria")
	ev.FromAgent = false
	v, err := NewDedupGuard(db, 0, testLog()).Check(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, AlreadyStored, v.Kind)

	m, err := db.MessageByID(ctx, phone, "M1")
	require.NoError(t, err)
	assert.Empty(t, m.SenderName)
}

func TestDedupGuard_ContentWindowOnlyForAgent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.InsertMessage(ctx, &domain.Message{
		ID: "local-1", ContactID: phone, Content: "Oi", Role: domain.RoleOutboundAI,
		SentAt: time.Now().UTC(), DeliveryStatus: domain.DeliverySending,
	})
	require.NoError(t, err)
	g := NewDedupGuard(db, time.Minute, testLog())

	customer := agentEvent("C1", "Oi", "")
	customer.FromAgent = false
	v, err := g.Check(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, FirstSeen, v.Kind)

	v, err = g.Check(ctx, agentEvent("E1", "Oi", ""))
	require.NoError(t, err)
	assert.Equal(t, ContentWindowDuplicate, v.Kind)
	assert.Equal(t, "local-1", v.Ref.ID)
	assert.Equal(t, "E1", v.Ref.ProviderMessageID)
}

func TestDedupGuard_WindowExpired(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.InsertMessage(ctx, &domain.Message{
		ID: "local-1", ContactID: phone, Content: "Oi", Role: domain.RoleOutboundAgent,
		SentAt: time.Now().UTC(), DeliveryStatus: domain.DeliverySent,
	})
	require.NoError(t, err)

	g := NewDedupGuard(db, time.Minute, testLog())
	g.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	v, err := g.Check(ctx, agentEvent("E1", "Oi", ""))
	require.NoError(t, err)
	assert.Equal(t, FirstSeen, v.Kind)
}

func TestDedupGuard_StoreError(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Close())
	_, err := NewDedupGuard(db, 0, testLog()).Check(context.Background(), agentEvent("E1", "Oi", ""))
	assert.Error(t, err)
}

func TestPlaceholderName(t *testing.T) {
	assert.True(t, placeholderName(""))
	assert.True(t, placeholderName("5511999990000"))
	assert.True(t, placeholderName("+55 11 99999"))
	assert.False(t, placeholderName("Ana"))
}

func TestVerdictKindString(t *testing.T) {
	assert.Equal(t, "first_seen", FirstSeen.String())
	assert.Equal(t, "already_stored", AlreadyStored.String())
	assert.Equal(t, "content_window_duplicate", ContentWindowDuplicate.String())
}
