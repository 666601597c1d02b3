// Package ingest turns gateway webhook deliveries into stored conversation
// state and drives the AI auto-reply.
package ingest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/KevenMor/repensare-sub001/internal/domain"
)

// ignoredCallbacks are gateway callback types that carry no message.
var ignoredCallbacks = map[string]bool{
	"MessageStatusCallback": true,
	"DeliveryCallback":      true,
	"ReadCallback":          true,
	"PresenceChatCallback":  true,
	"ConnectedCallback":     true,
	"DisconnectedCallback":  true,
}

// Normalized is the result of normalizing one delivery. Exactly one of Event
// and Ignored is meaningful.
type Normalized struct {
	Event   *domain.InboundEvent
	Ignored bool
	Reason  string
}

type webhookPayload struct {
	Type               string  `json:"type"`
	MessageID          string  `json:"messageId"`
	Phone              string  `json:"phone"`
	FromMe             bool    `json:"fromMe"`
	Momment            int64   `json:"momment"`
	SenderName         string  `json:"senderName"`
	ChatName           string  `json:"chatName"`
	Photo              *string `json:"photo"`
	IsGroup            bool    `json:"isGroup"`
	ReferenceMessageID string  `json:"referenceMessageId"`

	Text *struct {
		Message string `json:"message"`
	} `json:"text"`
	Image *struct {
		ImageURL string `json:"imageUrl"`
		MimeType string `json:"mimeType"`
		Caption  string `json:"caption"`
	} `json:"image"`
	Audio *struct {
		AudioURL string `json:"audioUrl"`
		MimeType string `json:"mimeType"`
	} `json:"audio"`
	Video *struct {
		VideoURL string `json:"videoUrl"`
		MimeType string `json:"mimeType"`
		Caption  string `json:"caption"`
	} `json:"video"`
	Document *struct {
		DocumentURL string `json:"documentUrl"`
		MimeType    string `json:"mimeType"`
		FileName    string `json:"fileName"`
		Title       string `json:"title"`
		Caption     string `json:"caption"`
	} `json:"document"`
	Contact *struct {
		DisplayName string   `json:"displayName"`
		VCard       string   `json:"vCard"`
		Phones      []string `json:"phones"`
	} `json:"contact"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
		Address   string  `json:"address"`
	} `json:"location"`
	Reaction *struct {
		Value             string `json:"value"`
		ReferencedMessage struct {
			MessageID string `json:"messageId"`
		} `json:"referencedMessage"`
	} `json:"reaction"`
}

// variant recognizes one payload shape. The first matching entry wins.
type variant struct {
	kind    domain.EventKind
	matches func(p *webhookPayload) bool
	build   func(p *webhookPayload) domain.Payload
}

var variants = []variant{
	{
		kind:    domain.KindReaction,
		matches: func(p *webhookPayload) bool { return p.Reaction != nil },
		build: func(p *webhookPayload) domain.Payload {
			emoji := strings.TrimSpace(p.Reaction.Value)
			return domain.ReactionPayload{
				TargetID: p.Reaction.ReferencedMessage.MessageID,
				Emoji:    emoji,
				Removed:  emoji == "",
			}
		},
	},
	{
		kind:    domain.KindText,
		matches: func(p *webhookPayload) bool { return p.Text != nil },
		build: func(p *webhookPayload) domain.Payload {
			body := Sanitize(p.Text.Message)
			if body == "" {
				body = "[no text]"
			}
			return domain.TextPayload{Body: body}
		},
	},
	{
		kind:    domain.KindImage,
		matches: func(p *webhookPayload) bool { return p.Image != nil },
		build: func(p *webhookPayload) domain.Payload {
			return mediaPayload(domain.MediaImage, domain.MediaRef{
				SourceURL: p.Image.ImageURL,
				MimeType:  p.Image.MimeType,
				Caption:   p.Image.Caption,
			})
		},
	},
	{
		kind:    domain.KindAudio,
		matches: func(p *webhookPayload) bool { return p.Audio != nil },
		build: func(p *webhookPayload) domain.Payload {
			return mediaPayload(domain.MediaAudio, domain.MediaRef{
				SourceURL: p.Audio.AudioURL,
				MimeType:  p.Audio.MimeType,
			})
		},
	},
	{
		kind:    domain.KindVideo,
		matches: func(p *webhookPayload) bool { return p.Video != nil },
		build: func(p *webhookPayload) domain.Payload {
			return mediaPayload(domain.MediaVideo, domain.MediaRef{
				SourceURL: p.Video.VideoURL,
				MimeType:  p.Video.MimeType,
				Caption:   p.Video.Caption,
			})
		},
	},
	{
		kind:    domain.KindDocument,
		matches: func(p *webhookPayload) bool { return p.Document != nil },
		build: func(p *webhookPayload) domain.Payload {
			name := p.Document.FileName
			if name == "" {
				name = p.Document.Title
			}
			return mediaPayload(domain.MediaDocument, domain.MediaRef{
				SourceURL: p.Document.DocumentURL,
				MimeType:  p.Document.MimeType,
				Caption:   p.Document.Caption,
				FileName:  name,
			})
		},
	},
	{
		kind:    domain.KindContact,
		matches: func(p *webhookPayload) bool { return p.Contact != nil },
		build: func(p *webhookPayload) domain.Payload {
			summary := "[contact] " + strings.TrimSpace(p.Contact.DisplayName)
			if len(p.Contact.Phones) > 0 {
				summary += " (" + strings.Join(p.Contact.Phones, ", ") + ")"
			}
			return domain.SummaryPayload{Type: domain.MediaContact, Summary: strings.TrimSpace(summary)}
		},
	},
	{
		kind:    domain.KindLocation,
		matches: func(p *webhookPayload) bool { return p.Location != nil },
		build: func(p *webhookPayload) domain.Payload {
			loc := p.Location
			var parts []string
			for _, s := range []string{loc.Name, loc.Address} {
				if s = strings.TrimSpace(s); s != "" {
					parts = append(parts, s)
				}
			}
			parts = append(parts, fmt.Sprintf("%.6f,%.6f", loc.Latitude, loc.Longitude))
			return domain.SummaryPayload{Type: domain.MediaLocation, Summary: "[location] " + strings.Join(parts, " - ")}
		},
	},
}

func mediaPayload(t domain.MediaType, ref domain.MediaRef) domain.MediaPayload {
	ref.Caption = Sanitize(ref.Caption)
	placeholder := ref.Caption
	if placeholder == "" {
		placeholder = "[" + string(t) + "]"
		if ref.FileName != "" {
			placeholder += " " + ref.FileName
		}
	}
	return domain.MediaPayload{Type: t, Placeholder: placeholder, Ref: ref}
}

// signaturePrefix matches the "*Name:*" line the auto-replier puts in front of
// relayed text.
var signaturePrefix = regexp.MustCompile(`^\s*\*[^*\n]{1,80}:\*[ \t]*(\r?\n)?`)

// Sanitize trims text and strips a leading "*Name:*" signature line.
func Sanitize(text string) string {
	return strings.TrimSpace(signaturePrefix.ReplaceAllString(text, ""))
}

// Normalize parses a raw webhook body into an InboundEvent.
func Normalize(raw []byte) (Normalized, error) {
	return normalizeAt(raw, time.Now())
}

func normalizeAt(raw []byte, now time.Time) (Normalized, error) {
	var p webhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Normalized{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if ignoredCallbacks[p.Type] {
		return Normalized{Ignored: true, Reason: "callback " + p.Type}, nil
	}
	if p.IsGroup {
		return Normalized{Ignored: true, Reason: "group message"}, nil
	}

	phone := NormalizePhone(p.Phone)
	if phone == "" {
		return Normalized{}, fmt.Errorf("%w: missing phone", ErrMalformedEvent)
	}
	if p.MessageID == "" {
		return Normalized{}, fmt.Errorf("%w: missing messageId", ErrMalformedEvent)
	}

	occurred := now.UTC()
	if p.Momment > 0 {
		occurred = time.UnixMilli(p.Momment).UTC()
	}

	ev := &domain.InboundEvent{
		ProviderMessageID: p.MessageID,
		ContactID:         phone,
		FromAgent:         p.FromMe,
		OccurredAt:        occurred,
		SenderDisplayName: strings.TrimSpace(p.SenderName),
		ContactName:       contactName(&p),
		Kind:              domain.KindUnknown,
		Payload:           domain.UnknownPayload{},
		Avatar:            p.Photo,
	}

	for _, v := range variants {
		if v.matches(&p) {
			ev.Kind = v.kind
			ev.Payload = v.build(&p)
			break
		}
	}
	if ev.Kind != domain.KindReaction {
		ev.QuotedMessageID = p.ReferenceMessageID
	}

	return Normalized{Event: ev}, nil
}

// contactName picks the contact's name. For agent-sent events senderName is
// the business account, so only chatName describes the contact.
func contactName(p *webhookPayload) string {
	candidates := []string{p.ChatName}
	if !p.FromMe {
		candidates = []string{p.SenderName, p.ChatName}
	}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

// NormalizePhone drops a JID suffix and everything that is not a digit.
func NormalizePhone(phone string) string {
	if i := strings.IndexByte(phone, '@'); i >= 0 {
		phone = phone[:i]
	}
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
