package domain

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleInbound       Role = "inbound"
	RoleOutboundAgent Role = "outbound-agent"
	RoleOutboundAI    Role = "outbound-ai"
	RoleSystem        Role = "system"
)

// Outbound reports whether the role is any agent or AI authored kind.
func (r Role) Outbound() bool {
	return r == RoleOutboundAgent || r == RoleOutboundAI
}

// DeliveryStatus tracks an outbound message through the gateway.
type DeliveryStatus string

const (
	DeliverySending DeliveryStatus = "sending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// MediaType classifies a message attachment.
type MediaType string

const (
	MediaNone     MediaType = ""
	MediaImage    MediaType = "image"
	MediaAudio    MediaType = "audio"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
	MediaContact  MediaType = "contact"
	MediaLocation MediaType = "location"
)

// Downloadable reports whether the media type refers to a remote file.
func (m MediaType) Downloadable() bool {
	switch m {
	case MediaImage, MediaAudio, MediaVideo, MediaDocument:
		return true
	}
	return false
}

// Reply authors.
const (
	AuthorAgent    = "agent"
	AuthorCustomer = "customer"
)

// ReplyRef points at the message a reply quotes.
type ReplyRef struct {
	LocalID string `json:"id"`
	Text    string `json:"text"`
	Author  string `json:"author"`
}

// Reaction is one emoji reaction on a message.
type Reaction struct {
	Emoji      string    `json:"emoji"`
	ByIdentity string    `json:"byIdentity"`
	FromAgent  bool      `json:"fromAgent"`
	At         time.Time `json:"at"`
}

// Message is a single stored message of a conversation.
type Message struct {
	ID                string         `json:"id"`
	ContactID         string         `json:"contactId"`
	ProviderMessageID string         `json:"providerMessageId,omitempty"`
	Content           string         `json:"content"`
	Role              Role           `json:"role"`
	SenderName        string         `json:"senderName,omitempty"`
	SentAt            time.Time      `json:"sentAt"`
	DeliveryStatus    DeliveryStatus `json:"deliveryStatus"`
	MediaType         MediaType      `json:"mediaType,omitempty"`
	MediaURL          string         `json:"mediaUrl,omitempty"`
	MediaFallback     bool           `json:"mediaFallback,omitempty"`
	ReplyTo           *ReplyRef      `json:"replyTo,omitempty"`
	Reactions         []Reaction     `json:"reactions"`
	Edited            bool           `json:"edited,omitempty"`
	Deleted           bool           `json:"deleted,omitempty"`
}

// MessagePatch is the narrow set of fields a redelivered agent event may change.
// Nil fields are left untouched.
type MessagePatch struct {
	SenderName        *string
	DeliveryStatus    *DeliveryStatus
	ProviderMessageID *string
}

// Empty reports whether the patch changes nothing.
func (p MessagePatch) Empty() bool {
	return p.SenderName == nil && p.DeliveryStatus == nil && p.ProviderMessageID == nil
}
