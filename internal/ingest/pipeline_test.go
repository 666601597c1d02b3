package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/hooks"
	"github.com/KevenMor/repensare-sub001/internal/store"
)

func TestPipeline_OlaScenario(t *testing.T) {
	h := newHarness(t)
	h.saveAdmin(t)

	out := h.handle(t, textEvent("M1", "Olá", false))
	assert.Equal(t, StateStored, out.State)
	assert.Equal(t, "M1", out.MessageID)
	require.NotNil(t, out.AutoReply)
	assert.Equal(t, AutoReplySent, out.AutoReply.State)
	assert.NoError(t, out.AutoReply.Err)

	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleInbound, msgs[0].Role)
	assert.Equal(t, "Olá", msgs[0].Content)

	ai := msgs[1]
	assert.Equal(t, domain.RoleOutboundAI, ai.Role)
	assert.Equal(t, "Olá! Como posso ajudar?", ai.Content)
	assert.Equal(t, DefaultAIDisplayName, ai.SenderName)
	assert.Equal(t, domain.DeliverySent, ai.DeliveryStatus)
	assert.Equal(t, "PROVIDER-AI-1", ai.ProviderMessageID)

	conv := h.conversation(t)
	assert.Equal(t, 0, conv.UnreadCount)
	assert.Equal(t, domain.StageAIActive, conv.Stage)
	assert.Equal(t, "Maria", conv.DisplayName)
	assert.Equal(t, "Olá! Como posso ajudar?", conv.LastMessage)

	assert.Equal(t, []string{"*Assistente Virtual:*\nOlá! Como posso ajudar?"}, h.sender.sent())
	assert.Equal(t, int32(1), h.completions.Load())
}

func TestPipeline_Idempotent(t *testing.T) {
	h := newHarness(t)
	ev := textEvent("M1", "Quero um pacote para Gramado", false)

	first := h.handle(t, ev)
	assert.Equal(t, StateStored, first.State)

	for i := 0; i < 3; i++ {
		again := h.handle(t, ev)
		assert.Equal(t, StateDeduped, again.State)
		assert.Equal(t, AlreadyStored.String(), again.Verdict)
		assert.ErrorIs(t, again.Cause, ErrDuplicateEvent)
		assert.Equal(t, "M1", again.MessageID)
	}

	assert.Len(t, h.messages(t), 1)
	assert.Equal(t, 1, h.conversation(t).UnreadCount)
}

func TestPipeline_EchoOfAutoReplyIsSuppressed(t *testing.T) {
	h := newHarness(t)
	h.saveAdmin(t)
	h.handle(t, textEvent("M1", "Olá", false))
	before := h.conversation(t)

	echo := textEvent("PROVIDER-AI-1", "*Assistente Virtual:*\nOlá! Como posso ajudar?", true)
	out := h.handle(t, echo)
	assert.Equal(t, StateDeduped, out.State)
	assert.Equal(t, AlreadyStored.String(), out.Verdict)

	assert.Len(t, h.messages(t), 2)
	after := h.conversation(t)
	assert.Equal(t, before.UnreadCount, after.UnreadCount)
	assert.Equal(t, before.LastMessage, after.LastMessage)
	assert.Equal(t, int32(1), h.completions.Load())
}

func TestPipeline_EchoMatchedByContentWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.handle(t, textEvent("M1", "Oi", false))

	_, err := h.db.InsertMessage(ctx, &domain.Message{
		ID:             "local-1",
		ContactID:      phone,
		Content:        "Segue o roteiro",
		Role:           domain.RoleOutboundAgent,
		SenderName:     "Ana",
		SentAt:         time.Now().UTC(),
		DeliveryStatus: domain.DeliverySending,
	})
	require.NoError(t, err)

	ev := textEvent("3EB0ECHO", "*Ana:*\nSegue o roteiro", true)
	ev["senderName"] = "Repensare Turismo"
	out := h.handle(t, ev)
	assert.Equal(t, StateDeduped, out.State)
	assert.Equal(t, ContentWindowDuplicate.String(), out.Verdict)
	assert.Equal(t, "local-1", out.MessageID)

	m, err := h.db.MessageByID(ctx, phone, "local-1")
	require.NoError(t, err)
	assert.Equal(t, "3EB0ECHO", m.ProviderMessageID)
	assert.Equal(t, domain.DeliverySent, m.DeliveryStatus)
	assert.Equal(t, "Ana", m.SenderName)
	assert.Len(t, h.messages(t), 2)

	// A second echo with the same id now hits the provider id lookup.
	out = h.handle(t, ev)
	assert.Equal(t, AlreadyStored.String(), out.Verdict)
}

func TestPipeline_EchoOutsideWindowIsStored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.db.InsertMessage(ctx, &domain.Message{
		ID:             "local-old",
		ContactID:      phone,
		Content:        "Bom dia",
		Role:           domain.RoleOutboundAgent,
		SentAt:         time.Now().Add(-10 * time.Minute).UTC(),
		DeliveryStatus: domain.DeliverySent,
	})
	require.NoError(t, err)

	out := h.handle(t, textEvent("3EB0NEW", "Bom dia", true))
	assert.Equal(t, StateStored, out.State)
	assert.Nil(t, out.AutoReply)
	assert.Len(t, h.messages(t), 2)
}

func TestPipeline_UnreadInvariant(t *testing.T) {
	h := newHarness(t)

	for i, id := range []string{"M1", "M2", "M3"} {
		h.handle(t, textEvent(id, "mensagem", false))
		assert.Equal(t, i+1, h.conversation(t).UnreadCount)
	}

	h.handle(t, textEvent("A1", "Olá, aqui é a Ana", true))
	assert.Equal(t, 0, h.conversation(t).UnreadCount)

	h.handle(t, textEvent("M4", "obrigada", false))
	conv := h.conversation(t)
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Equal(t, "obrigada", conv.LastMessage)
}

func TestPipeline_Media(t *testing.T) {
	h := newHarness(t)
	src := "https://gateway.example/files/abc.jpg"
	ev := map[string]any{
		"messageId": "IMG1",
		"phone":     phone,
		"image":     map[string]any{"imageUrl": src, "mimeType": "image/jpeg"},
	}

	out := h.handle(t, ev)
	assert.Empty(t, out.Degraded)
	m, err := h.db.MessageByID(context.Background(), phone, "IMG1")
	require.NoError(t, err)
	assert.Equal(t, domain.MediaImage, m.MediaType)
	assert.Equal(t, "https://storage.example/media/image/obj", m.MediaURL)
	assert.False(t, m.MediaFallback)
	assert.Equal(t, "[image]", m.Content)
}

func TestPipeline_MediaFallback(t *testing.T) {
	h := newHarness(t)
	h.media.fail = true
	src := "https://gateway.example/files/abc.ogg"

	out := h.handle(t, map[string]any{
		"messageId": "AUD1",
		"phone":     phone,
		"audio":     map[string]any{"audioUrl": src},
	})
	assert.Equal(t, StateStored, out.State)
	require.Len(t, out.Degraded, 1)
	assert.ErrorIs(t, out.Degraded[0], ErrMediaFetch)

	m, err := h.db.MessageByID(context.Background(), phone, "AUD1")
	require.NoError(t, err)
	assert.Equal(t, src, m.MediaURL)
	assert.True(t, m.MediaFallback)
}

func TestPipeline_ReactionToggle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.handle(t, textEvent("M1", "Fechado!", false))

	out := h.handle(t, reactionEvent("R1", "M1", "👍", false))
	assert.Equal(t, StateReaction, out.State)
	require.NotNil(t, out.Reaction)
	assert.True(t, out.Reaction.Applied)

	m, err := h.db.MessageByID(ctx, phone, "M1")
	require.NoError(t, err)
	require.Len(t, m.Reactions, 1)
	assert.Equal(t, "👍", m.Reactions[0].Emoji)
	assert.Equal(t, phone, m.Reactions[0].ByIdentity)
	assert.False(t, m.Reactions[0].FromAgent)

	h.handle(t, reactionEvent("R2", "M1", "", false))
	m, err = h.db.MessageByID(ctx, phone, "M1")
	require.NoError(t, err)
	assert.Empty(t, m.Reactions)

	// Reactions are not messages and leave counters alone.
	assert.Len(t, h.messages(t), 1)
	assert.Equal(t, 1, h.conversation(t).UnreadCount)
}

func TestPipeline_ReactionUpsertPerSide(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.handle(t, textEvent("M1", "Fechado!", false))

	h.handle(t, reactionEvent("R1", "M1", "👍", false))
	h.handle(t, reactionEvent("R2", "M1", "❤️", true))
	h.handle(t, reactionEvent("R3", "M1", "😂", false))

	m, err := h.db.MessageByID(ctx, phone, "M1")
	require.NoError(t, err)
	require.Len(t, m.Reactions, 2)
	assert.Equal(t, "😂", m.Reactions[0].Emoji)
	assert.False(t, m.Reactions[0].FromAgent)
	assert.Equal(t, "❤️", m.Reactions[1].Emoji)
	assert.True(t, m.Reactions[1].FromAgent)
}

func TestPipeline_ReactionMissingTarget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out := h.handle(t, reactionEvent("R1", "GHOST", "👍", false))
	assert.Equal(t, StateReaction, out.State)
	require.NotNil(t, out.Reaction)
	assert.False(t, out.Reaction.Applied)
	assert.Empty(t, out.Reaction.NoteID)
	_, err := h.db.GetConversation(ctx, phone)
	assert.ErrorIs(t, err, store.ErrNotFound)

	h.handle(t, textEvent("M1", "Oi", false))
	out = h.handle(t, reactionEvent("R2", "GHOST", "👍", false))
	assert.False(t, out.Reaction.Applied)
	assert.Equal(t, "R2", out.Reaction.NoteID)

	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[0].Reactions)
	assert.Equal(t, domain.RoleSystem, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "reacted 👍 to a removed or unknown message")
	assert.Equal(t, 1, h.conversation(t).UnreadCount)
}

func TestPipeline_AutoReplyGating(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness)
	}{
		{"ai disabled", func(t *testing.T, h *harness) {
			_, err := h.convs.SetAI(ctx, phone, ptr(false), nil)
			require.NoError(t, err)
		}},
		{"ai paused", func(t *testing.T, h *harness) {
			_, err := h.convs.SetAI(ctx, phone, nil, ptr(true))
			require.NoError(t, err)
		}},
		{"agent assigned", func(t *testing.T, h *harness) {
			_, err := h.convs.SetStage(ctx, phone, domain.StageAgentAssigned)
			require.NoError(t, err)
		}},
		{"resolved", func(t *testing.T, h *harness) {
			_, err := h.convs.SetStage(ctx, phone, domain.StageResolved)
			require.NoError(t, err)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			// Without admin settings the first message creates the conversation only.
			h.handle(t, textEvent("M1", "Oi", false))
			tt.setup(t, h)
			h.saveAdmin(t)

			out := h.handle(t, textEvent("M2", "Alguém aí?", false))
			require.NotNil(t, out.AutoReply)
			assert.Equal(t, AutoReplySkipped, out.AutoReply.State)
			assert.Equal(t, int32(0), h.completions.Load())
			assert.Empty(t, h.sender.sent())
			assert.Equal(t, 2, h.conversation(t).UnreadCount)
		})
	}
}

func TestPipeline_AgentMessageNeverAutoReplies(t *testing.T) {
	h := newHarness(t)
	h.saveAdmin(t)

	out := h.handle(t, textEvent("A1", "Oi Maria, aqui é a Ana", true))
	assert.Equal(t, StateStored, out.State)
	assert.Nil(t, out.AutoReply)
	assert.Equal(t, int32(0), h.completions.Load())

	m, err := h.db.MessageByID(context.Background(), phone, "A1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOutboundAgent, m.Role)
}

func TestPipeline_ReplyResolution(t *testing.T) {
	h := newHarness(t)
	h.saveAdmin(t)
	h.handle(t, textEvent("M1", "Olá", false))

	quoting := textEvent("M2", "Sim, quero saber mais", false)
	quoting["referenceMessageId"] = "PROVIDER-AI-1"
	h.handle(t, quoting)

	m, err := h.db.MessageByID(context.Background(), phone, "M2")
	require.NoError(t, err)
	require.NotNil(t, m.ReplyTo)
	assert.Equal(t, domain.AuthorAgent, m.ReplyTo.Author)
	assert.Equal(t, "Olá! Como posso ajudar?", m.ReplyTo.Text)
	assert.NotEqual(t, "PROVIDER-AI-1", m.ReplyTo.LocalID)

	missing := textEvent("M3", "e isso?", false)
	missing["referenceMessageId"] = "GONE"
	out := h.handle(t, missing)
	assert.Len(t, out.Degraded, 1)
	assert.ErrorIs(t, out.Degraded[0], ErrReplyLookupMiss)

	m, err = h.db.MessageByID(context.Background(), phone, "M3")
	require.NoError(t, err)
	assert.Equal(t, &domain.ReplyRef{LocalID: "GONE", Text: UnavailableReplyText, Author: domain.AuthorCustomer}, m.ReplyTo)
}

func TestPipeline_IgnoredAndMalformed(t *testing.T) {
	h := newHarness(t)

	out, err := h.pipeline.Handle(context.Background(), []byte(`{"type":"ReadCallback","phone":"5511"}`))
	require.NoError(t, err)
	assert.Equal(t, StateIgnored, out.State)
	assert.Nil(t, out.Cause)

	out, err = h.pipeline.Handle(context.Background(), []byte(`{"phone":"5511","text":{"message":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, StateIgnored, out.State)
	assert.ErrorIs(t, out.Cause, ErrMalformedEvent)

	out = h.handle(t, map[string]any{"messageId": "S1", "phone": phone, "sticker": map[string]any{}})
	assert.Equal(t, StateSkipped, out.State)
	assert.Empty(t, h.messages(t))
}

func TestPipeline_StoreFailure(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Close())

	_, err := h.pipeline.Handle(context.Background(), []byte(`{"messageId":"M1","phone":"5511","text":{"message":"x"}}`))
	assert.Error(t, err)
}

func TestPipeline_EmitsHooks(t *testing.T) {
	h := newHarness(t)
	var stored, updated atomic.Int32
	h.hooks.On(hooks.EventMessageStored, "count", func(context.Context, hooks.Payload) error {
		stored.Add(1)
		return nil
	})
	h.hooks.On(hooks.EventConversationUpdated, "count", func(context.Context, hooks.Payload) error {
		updated.Add(1)
		return errors.New("handler errors are only logged")
	})

	h.handle(t, textEvent("M1", "Oi", false))
	assert.Equal(t, int32(1), stored.Load())
	assert.Equal(t, int32(1), updated.Load())
}

func agentImageEvent(id, src, caption string) map[string]any {
	image := map[string]any{"imageUrl": src, "mimeType": "image/jpeg"}
	if caption != "" {
		image["caption"] = caption
	}
	return map[string]any{
		"messageId": id,
		"phone":     phone,
		"fromMe":    true,
		"momment":   time.Now().UnixMilli(),
		"image":     image,
	}
}

func TestPipeline_UncaptionedAgentImagesAreDistinct(t *testing.T) {
	h := newHarness(t)
	h.handle(t, textEvent("M1", "Oi", false))

	first := h.handle(t, agentImageEvent("3EB0IMGA", "https://cdn.example/a.jpg", ""))
	second := h.handle(t, agentImageEvent("3EB0IMGB", "https://cdn.example/b.jpg", ""))
	assert.Equal(t, StateStored, first.State)
	assert.Equal(t, StateStored, second.State)
	assert.Equal(t, "3EB0IMGB", second.MessageID)

	msgs := h.messages(t)
	require.Len(t, msgs, 3)
	assert.Equal(t, "3EB0IMGA", msgs[1].ID)
	assert.Equal(t, "3EB0IMGB", msgs[2].ID)
	for _, m := range msgs[1:] {
		assert.Equal(t, "[image]", m.Content)
		assert.Equal(t, domain.RoleOutboundAgent, m.Role)
	}
}

func TestPipeline_CaptionedAgentImageEchoIsMatched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.handle(t, textEvent("M1", "Oi", false))

	_, err := h.db.InsertMessage(ctx, &domain.Message{
		ID:             "local-img",
		ContactID:      phone,
		Content:        "Veja o hotel",
		Role:           domain.RoleOutboundAgent,
		SentAt:         time.Now().UTC(),
		DeliveryStatus: domain.DeliverySending,
		MediaType:      domain.MediaImage,
	})
	require.NoError(t, err)

	out := h.handle(t, agentImageEvent("3EB0IMGC", "https://cdn.example/c.jpg", "Veja o hotel"))
	assert.Equal(t, StateDeduped, out.State)
	assert.Equal(t, ContentWindowDuplicate.String(), out.Verdict)
	assert.Equal(t, "local-img", out.MessageID)
	assert.Len(t, h.messages(t), 2)
}

// deliverConcurrently delivers same n times at once alongside n distinct
// inbound events and returns the errors seen.
func deliverConcurrently(t *testing.T, h *harness, same map[string]any, n int) []error {
	t.Helper()
	sameRaw, err := json.Marshal(same)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	for i := 0; i < n; i++ {
		distinct, err := json.Marshal(textEvent(fmt.Sprintf("D%02d", i), fmt.Sprintf("mensagem %d", i), false))
		require.NoError(t, err)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.pipeline.Handle(context.Background(), sameRaw)
			record(err)
		}()
		go func() {
			defer wg.Done()
			_, err := h.pipeline.Handle(context.Background(), distinct)
			record(err)
		}()
	}
	wg.Wait()
	return errs
}

func countByID(msgs []*domain.Message, role domain.Role) map[string]int {
	counts := make(map[string]int)
	for _, m := range msgs {
		if m.Role == role {
			counts[m.ID]++
		}
	}
	return counts
}

func TestPipeline_ConcurrentDelivery(t *testing.T) {
	const n = 16

	t.Run("stored once and counted once", func(t *testing.T) {
		h := newHarnessWithDB(t, fileDB(t))

		errs := deliverConcurrently(t, h, textEvent("SAME", "Quero um orçamento", false), n)
		require.Empty(t, errs)

		counts := countByID(h.messages(t), domain.RoleInbound)
		require.Len(t, counts, n+1)
		for id, c := range counts {
			assert.Equal(t, 1, c, "message %s", id)
		}
		assert.Equal(t, n+1, h.conversation(t).UnreadCount)
		// No admin settings: nothing reaches the completion provider.
		assert.Zero(t, h.completions.Load())
	})

	t.Run("one completion per stored inbound", func(t *testing.T) {
		h := newHarnessWithDB(t, fileDB(t))
		h.saveAdmin(t)

		errs := deliverConcurrently(t, h, textEvent("SAME", "Quero um orçamento", false), n)
		require.Empty(t, errs)

		msgs := h.messages(t)
		inbound := countByID(msgs, domain.RoleInbound)
		require.Len(t, inbound, n+1)
		for id, c := range inbound {
			assert.Equal(t, 1, c, "message %s", id)
		}
		assert.Equal(t, int32(n+1), h.completions.Load())
		assert.Len(t, countByID(msgs, domain.RoleOutboundAI), n+1)
		assert.Len(t, h.sender.sent(), n+1)
	})
}
