package domain

import "time"

// ConversationStatus is the coarse lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusClosed   ConversationStatus = "closed"
	StatusArchived ConversationStatus = "archived"
)

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusArchived:
		return true
	}
	return false
}

// Stage tracks who is handling a conversation. Any stage may move to any other
// through an explicit control action.
type Stage string

const (
	StageWaiting       Stage = "waiting"
	StageAIActive      Stage = "ai_active"
	StageAgentAssigned Stage = "agent_assigned"
	StageResolved      Stage = "resolved"
)

// AllStages lists every conversation stage.
var AllStages = []Stage{StageWaiting, StageAIActive, StageAgentAssigned, StageResolved}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, st := range AllStages {
		if s == st {
			return true
		}
	}
	return false
}

// Conversation is keyed by the contact's phone number.
type Conversation struct {
	ContactID     string             `json:"contactId"`
	DisplayName   string             `json:"displayName"`
	LastMessage   string             `json:"lastMessage"`
	LastMessageAt time.Time          `json:"lastMessageAt"`
	UnreadCount   int                `json:"unreadCount"`
	Status        ConversationStatus `json:"status"`
	AIEnabled     bool               `json:"aiEnabled"`
	AIPaused      bool               `json:"aiPaused"`
	Stage         Stage              `json:"conversationStage"`
	AvatarURL     *string            `json:"avatarUrl"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// AutoReplyEligible reports whether the auto-reply orchestrator may engage.
func (c *Conversation) AutoReplyEligible() bool {
	return c.AIEnabled && !c.AIPaused && c.Stage == StageAIActive
}

// Direction says how a stored message affects the unread counter.
type Direction int

const (
	// DirectionNone leaves the unread counter untouched.
	DirectionNone Direction = iota
	// DirectionInbound increments the unread counter.
	DirectionInbound
	// DirectionOutbound resets the unread counter.
	DirectionOutbound
)

// ConversationTouch describes the conversation-level effect of one stored message.
type ConversationTouch struct {
	ContactID   string
	DisplayName string
	LastMessage string
	At          time.Time
	Direction   Direction
	// AvatarSet is true when the event carried a profile photo field at all.
	// An empty AvatarURL then clears the stored avatar.
	AvatarSet bool
	AvatarURL string
}
