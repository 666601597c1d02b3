package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/hooks"
	"github.com/KevenMor/repensare-sub001/internal/llm"
	"github.com/KevenMor/repensare-sub001/internal/logging"
	"github.com/KevenMor/repensare-sub001/internal/media"
	"github.com/KevenMor/repensare-sub001/internal/store"
	"github.com/KevenMor/repensare-sub001/internal/whatsapp"
)

const phone = "5511999990000"

func testLog() *logging.Logger { return logging.New(nil, "silent") }

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:", testLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// fileDB opens a file-backed store so concurrent writers use separate
// pooled connections.
func fileDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "ingest.db"), testLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }

// stubSender records relayed texts and answers PROVIDER-AI-1, -2, ...
type stubSender struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (s *stubSender) SendText(_ context.Context, _, text string) (whatsapp.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return whatsapp.SendResult{}, s.err
	}
	s.texts = append(s.texts, text)
	return whatsapp.SendResult{MessageID: fmt.Sprintf("PROVIDER-AI-%d", len(s.texts))}, nil
}

func (s *stubSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// stubMedia re-hosts everything under a fixed prefix unless fail is set.
type stubMedia struct {
	fail  bool
	calls atomic.Int32
}

func (m *stubMedia) Materialize(_ context.Context, src string, mediaType domain.MediaType, _ string) media.Result {
	m.calls.Add(1)
	if m.fail || src == "" {
		return media.Result{URL: src, Fallback: true}
	}
	return media.Result{URL: "https://storage.example/media/" + string(mediaType) + "/obj"}
}

type harness struct {
	db          *store.DB
	hooks       *hooks.Manager
	convs       *ConversationManager
	completions atomic.Int32
	reply       string
	completion  *llm.MockClient
	sender      *stubSender
	media       *stubMedia
	pipeline    *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithDB(t, testDB(t))
}

func newHarnessWithDB(t *testing.T, db *store.DB) *harness {
	t.Helper()
	log := testLog()
	h := &harness{
		db:     db,
		hooks:  hooks.NewManager(log),
		reply:  "Olá! Como posso ajudar?",
		sender: &stubSender{},
		media:  &stubMedia{},
	}
	h.completion = &llm.MockClient{
		ProviderName: "stub",
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			h.completions.Add(1)
			return &llm.CompletionResponse{Content: h.reply}, nil
		},
	}
	factory := func(domain.GatewayCredentials) (whatsapp.Sender, error) { return h.sender, nil }

	h.convs = NewConversationManager(h.db, h.hooks, log)
	h.pipeline = NewPipeline(PipelineDeps{
		Store:         h.db,
		Dedup:         NewDedupGuard(h.db, time.Minute*2, log),
		Reactions:     NewReactionProcessor(h.db, NewTTLThrottle(time.Second), h.hooks, log),
		Media:         h.media,
		Replies:       NewReplyResolver(h.db, log),
		Conversations: h.convs,
		AutoReplier:   NewAutoReplier(h.db, h.convs, h.completion, factory, h.hooks, AutoReplyOptions{}, log),
		Hooks:         h.hooks,
	}, log)
	return h
}

func (h *harness) saveAdmin(t *testing.T) {
	t.Helper()
	require.NoError(t, h.db.SaveAdminConfig(context.Background(), &domain.AdminConfig{
		Gateway:      domain.GatewayCredentials{Instance: "inst", Token: "tok"},
		SystemPrompt: "Você é um agente de viagens.",
	}))
}

func (h *harness) handle(t *testing.T, payload map[string]any) Outcome {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	out, err := h.pipeline.Handle(context.Background(), raw)
	require.NoError(t, err)
	return out
}

func textEvent(id, text string, fromMe bool) map[string]any {
	return map[string]any{
		"type":       "ReceivedCallback",
		"messageId":  id,
		"phone":      phone,
		"fromMe":     fromMe,
		"momment":    time.Now().UnixMilli(),
		"senderName": "Maria",
		"chatName":   "Maria",
		"text":       map[string]any{"message": text},
	}
}

func reactionEvent(id, target, emoji string, fromMe bool) map[string]any {
	return map[string]any{
		"messageId": id,
		"phone":     phone,
		"fromMe":    fromMe,
		"momment":   time.Now().UnixMilli(),
		"reaction": map[string]any{
			"value":             emoji,
			"referencedMessage": map[string]any{"messageId": target},
		},
	}
}

func (h *harness) messages(t *testing.T) []*domain.Message {
	t.Helper()
	msgs, err := h.db.RecentMessages(context.Background(), phone, 100)
	require.NoError(t, err)
	return msgs
}

func (h *harness) conversation(t *testing.T) *domain.Conversation {
	t.Helper()
	conv, err := h.db.GetConversation(context.Background(), phone)
	require.NoError(t, err)
	return conv
}
