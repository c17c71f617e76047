package models

import "time"

// MaxMessageLength caps message content, counted in runes after trimming.
const MaxMessageLength = 4000

// Conversation is the messaging thread bound 1:1 to a Match.
type Conversation struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	MatchID       uint       `gorm:"not null;uniqueIndex" json:"match_id"`
	Match         *Match     `gorm:"foreignKey:MatchID" json:"-"`
	UserLowID     uint       `gorm:"not null;index" json:"user_low_id"`
	UserHighID    uint       `gorm:"not null;index" json:"user_high_id"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string {
	return "conversations"
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID uint) bool {
	return userID != 0 && (c.UserLowID == userID || c.UserHighID == userID)
}

// OtherParticipant returns the counterpart of userID, or 0 if userID is not a participant.
func (c *Conversation) OtherParticipant(userID uint) uint {
	switch userID {
	case c.UserLowID:
		return c.UserHighID
	case c.UserHighID:
		return c.UserLowID
	default:
		return 0
	}
}

// Participants returns both participant identities.
func (c *Conversation) Participants() [2]uint {
	return [2]uint{c.UserLowID, c.UserHighID}
}

// Message is immutable after creation except for the read flag.
// Ordering within a conversation is (CreatedAt, ID).
type Message struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	ConversationID uint          `gorm:"not null;index:idx_messages_conversation_order,priority:1" json:"conversation_id"`
	Conversation   *Conversation `gorm:"foreignKey:ConversationID" json:"-"`
	SenderID       uint          `gorm:"not null;index" json:"sender_id"`
	Content        string        `gorm:"type:text;not null" json:"content"`
	IsRead         bool          `gorm:"not null;default:false" json:"is_read"`
	ReadAt         *time.Time    `json:"read_at,omitempty"`
	CreatedAt      time.Time     `gorm:"not null;index:idx_messages_conversation_order,priority:2" json:"created_at"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string {
	return "messages"
}

// ConversationSummary aggregates a conversation for one participant's inbox.
type ConversationSummary struct {
	Conversation
	OtherUserID uint     `json:"other_user_id"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int64    `json:"unread_count"`
	Online      bool     `json:"online"`
}
