package domain

import "time"

// EventKind is the variant tag of an inbound event payload.
type EventKind string

const (
	KindText     EventKind = "text"
	KindImage    EventKind = "image"
	KindAudio    EventKind = "audio"
	KindVideo    EventKind = "video"
	KindDocument EventKind = "document"
	KindContact  EventKind = "contact"
	KindLocation EventKind = "location"
	KindReaction EventKind = "reaction"
	KindUnknown  EventKind = "unknown"
)

// Payload is the kind-specific body of an InboundEvent.
type Payload interface {
	// Content is the text stored for the event; empty for control payloads.
	Content() string
}

// TextPayload is a plain text message.
type TextPayload struct {
	Body string
}

func (p TextPayload) Content() string { return p.Body }

// MediaRef locates a remote media file announced by the gateway.
type MediaRef struct {
	SourceURL string
	MimeType  string
	Caption   string
	FileName  string
}

// MediaPayload is an image, audio, video or document message.
type MediaPayload struct {
	Type        MediaType
	Placeholder string
	Ref         MediaRef
}

func (p MediaPayload) Content() string { return p.Placeholder }

// SummaryPayload is a contact card or location rendered as text.
type SummaryPayload struct {
	Type    MediaType
	Summary string
}

func (p SummaryPayload) Content() string { return p.Summary }

// ReactionPayload adds or removes an emoji on an earlier message.
type ReactionPayload struct {
	TargetID string
	Emoji    string
	Removed  bool
}

func (p ReactionPayload) Content() string { return "" }

// UnknownPayload carries nothing the pipeline can store.
type UnknownPayload struct{}

func (UnknownPayload) Content() string { return "" }

// InboundEvent is a normalized webhook message event.
type InboundEvent struct {
	ProviderMessageID string
	ContactID         string
	FromAgent         bool
	OccurredAt        time.Time
	SenderDisplayName string
	// ContactName is the best known name of the contact, which differs from
	// SenderDisplayName when the agent sent the message.
	ContactName     string
	Kind            EventKind
	Payload         Payload
	QuotedMessageID string
	// Avatar is nil when the event carried no photo field.
	Avatar *string
}

// Role returns the message role an event is stored under.
func (e InboundEvent) Role() Role {
	if e.FromAgent {
		return RoleOutboundAgent
	}
	return RoleInbound
}
