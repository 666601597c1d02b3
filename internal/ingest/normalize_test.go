package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevenMor/repensare-sub001/internal/domain"
)

var now0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestNormalize_Variants(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    domain.EventKind
		content string
		check   func(t *testing.T, ev *domain.InboundEvent)
	}{
		{
			name:    "text",
			raw:     `{"type":"ReceivedCallback","messageId":"M1","phone":"5511999990000","senderName":"Maria","momment":1700000000000,"text":{"message":"Olá"}}`,
			kind:    domain.KindText,
			content: "Olá",
			check: func(t *testing.T, ev *domain.InboundEvent) {
				assert.Equal(t, time.UnixMilli(1700000000000).UTC(), ev.OccurredAt)
				assert.Equal(t, "Maria", ev.ContactName)
				assert.Equal(t, domain.RoleInbound, ev.Role())
			},
		},
		{
			name:    "empty text",
			raw:     `{"messageId":"M2","phone":"5511","text":{"message":"  "}}`,
			kind:    domain.KindText,
			content: "[no text]",
		},
		{
			name:    "signature stripped",
			raw:     `{"messageId":"M3","phone":"5511","fromMe":true,"text":{"message":"*Assistente Virtual:*\nBom dia!"}}`,
			kind:    domain.KindText,
			content: "Bom dia!",
			check: func(t *testing.T, ev *domain.InboundEvent) {
				assert.True(t, ev.FromAgent)
				assert.Equal(t, domain.RoleOutboundAgent, ev.Role())
			},
		},
		{
			name:    "image with caption",
			raw:     `{"messageId":"M4","phone":"5511","image":{"imageUrl":"https://cdn.example/a.jpg","mimeType":"image/jpeg","caption":"Praia"}}`,
			kind:    domain.KindImage,
			content: "Praia",
			check: func(t *testing.T, ev *domain.InboundEvent) {
				p := ev.Payload.(domain.MediaPayload)
				assert.Equal(t, domain.MediaImage, p.Type)
				assert.Equal(t, "https://cdn.example/a.jpg", p.Ref.SourceURL)
				assert.Equal(t, "image/jpeg", p.Ref.MimeType)
			},
		},
		{
			name:    "audio placeholder",
			raw:     `{"messageId":"M5","phone":"5511","audio":{"audioUrl":"https://cdn.example/a.ogg","mimeType":"audio/ogg; codecs=opus"}}`,
			kind:    domain.KindAudio,
			content: "[audio]",
		},
		{
			name:    "video placeholder",
			raw:     `{"messageId":"M6","phone":"5511","video":{"videoUrl":"https://cdn.example/v.mp4"}}`,
			kind:    domain.KindVideo,
			content: "[video]",
		},
		{
			name:    "document uses file name",
			raw:     `{"messageId":"M7","phone":"5511","document":{"documentUrl":"https://cdn.example/d","fileName":"roteiro.pdf"}}`,
			kind:    domain.KindDocument,
			content: "[document] roteiro.pdf",
			check: func(t *testing.T, ev *domain.InboundEvent) {
				assert.Equal(t, "roteiro.pdf", ev.Payload.(domain.MediaPayload).Ref.FileName)
			},
		},
		{
			name:    "contact summary",
			raw:     `{"messageId":"M8","phone":"5511","contact":{"displayName":"João","phones":["5511888880000"]}}`,
			kind:    domain.KindContact,
			content: "[contact] João (5511888880000)",
		},
		{
			name:    "location summary",
			raw:     `{"messageId":"M9","phone":"5511","location":{"latitude":-23.5,"longitude":-46.6,"name":"Hotel"}}`,
			kind:    domain.KindLocation,
			content: "[location] Hotel - -23.500000,-46.600000",
		},
		{
			name: "reaction",
			raw:  `{"messageId":"R1","phone":"5511","referenceMessageId":"M1","reaction":{"value":"👍","referencedMessage":{"messageId":"M1"}}}`,
			kind: domain.KindReaction,
			check: func(t *testing.T, ev *domain.InboundEvent) {
				assert.Equal(t, domain.ReactionPayload{TargetID: "M1", Emoji: "👍"}, ev.Payload)
				assert.Empty(t, ev.QuotedMessageID)
			},
		},
		{
			name: "reaction removed",
			raw:  `{"messageId":"R2","phone":"5511","reaction":{"value":"","referencedMessage":{"messageId":"M1"}}}`,
			kind: domain.KindReaction,
			check: func(t *testing.T, ev *domain.InboundEvent) {
				assert.True(t, ev.Payload.(domain.ReactionPayload).Removed)
			},
		},
		{
			name: "unknown shape",
			raw:  `{"messageId":"U1","phone":"5511","sticker":{"stickerUrl":"x"}}`,
			kind: domain.KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := normalizeAt([]byte(tt.raw), now0)
			require.NoError(t, err)
			require.False(t, n.Ignored)
			require.NotNil(t, n.Event)
			assert.Equal(t, tt.kind, n.Event.Kind)
			assert.Equal(t, tt.content, n.Event.Payload.Content())
			if tt.check != nil {
				tt.check(t, n.Event)
			}
		})
	}
}

func TestNormalize_Ignored(t *testing.T) {
	for _, raw := range []string{
		`{"type":"MessageStatusCallback","status":"READ","ids":["M1"]}`,
		`{"type":"PresenceChatCallback","phone":"5511"}`,
		`{"type":"ReceivedCallback","messageId":"G1","phone":"120363-group","isGroup":true,"text":{"message":"hi"}}`,
	} {
		n, err := normalizeAt([]byte(raw), now0)
		require.NoError(t, err, raw)
		assert.True(t, n.Ignored, raw)
		assert.NotEmpty(t, n.Reason)
		assert.Nil(t, n.Event)
	}
}

func TestNormalize_Malformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"messageId":"M1","text":{"message":"no phone"}}`,
		`{"phone":"5511","text":{"message":"no id"}}`,
	} {
		_, err := normalizeAt([]byte(raw), now0)
		assert.ErrorIs(t, err, ErrMalformedEvent, raw)
	}
}

func TestNormalize_Defaults(t *testing.T) {
	n, err := normalizeAt([]byte(`{"messageId":"M1","phone":"+55 (11) 99999-0000@c.us","text":{"message":"x"},"referenceMessageId":"Q1"}`), now0)
	require.NoError(t, err)
	ev := n.Event
	assert.Equal(t, "5511999990000", ev.ContactID)
	assert.Equal(t, now0, ev.OccurredAt)
	assert.Empty(t, ev.ContactName)
	assert.Equal(t, "Q1", ev.QuotedMessageID)
	assert.Nil(t, ev.Avatar)
}

func TestNormalize_Avatar(t *testing.T) {
	n, err := normalizeAt([]byte(`{"messageId":"M1","phone":"5511","photo":"","text":{"message":"x"}}`), now0)
	require.NoError(t, err)
	require.NotNil(t, n.Event.Avatar)
	assert.Equal(t, "", *n.Event.Avatar)

	n, err = normalizeAt([]byte(`{"messageId":"M1","phone":"5511","photo":"https://pps.example/p.jpg","text":{"message":"x"}}`), now0)
	require.NoError(t, err)
	require.NotNil(t, n.Event.Avatar)
	assert.Equal(t, "https://pps.example/p.jpg", *n.Event.Avatar)
}

func TestNormalize_AgentContactName(t *testing.T) {
	n, err := normalizeAt([]byte(`{"messageId":"M1","phone":"5511","fromMe":true,"senderName":"Repensare Turismo","chatName":"Maria","text":{"message":"x"}}`), now0)
	require.NoError(t, err)
	assert.Equal(t, "Maria", n.Event.ContactName)
	assert.Equal(t, "Repensare Turismo", n.Event.SenderDisplayName)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"*Ana:*\nOi, tudo bem?", "Oi, tudo bem?"},
		{"  *Assistente Virtual:* Olá", "Olá"},
		{"*bold* text", "*bold* text"},
		{"line one\n*Ana:*\nline two", "line one\n*Ana:*\nline two"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), tt.in)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"5511999990000", "5511999990000"},
		{"+55 (11) 99999-0000", "5511999990000"},
		{"5511999990000@c.us", "5511999990000"},
		{"120363000000000000-group@g.us", "120363000000000000"},
		{"Maria", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in), tt.in)
	}
}
