package notifications

import (
	"encoding/json"
	"time"
)

// EventType names a realtime frame.
type EventType string

// Event type constants prevent typos in event names.
const (
	EventMessageCreated EventType = "message_created"
	EventTyping         EventType = "typing"
	EventReadReceipt    EventType = "read_receipt"
	EventMatchCreated   EventType = "match_created"
)

// Event is the outbound frame pushed to participants.
type Event struct {
	Type           EventType   `json:"type"`
	ConversationID uint        `json:"conversation_id"`
	UserID         uint        `json:"user_id"`
	Payload        interface{} `json:"payload,omitempty"`
	SentAt         time.Time   `json:"sent_at"`
}

// TypingPayload is the payload of a typing event.
type TypingPayload struct {
	IsTyping bool `json:"is_typing"`
}

// ReadReceiptPayload is the payload of a read_receipt event.
type ReadReceiptPayload struct {
	ReaderID  uint      `json:"reader_id"`
	ReadCount int64     `json:"read_count"`
	ReadAt    time.Time `json:"read_at"`
}

// MatchCreatedPayload is the payload of a match_created event, addressed to
// one of the two users.
type MatchCreatedPayload struct {
	MatchID        uint `json:"match_id"`
	ConversationID uint `json:"conversation_id"`
	OtherUserID    uint `json:"other_user_id"`
}

func (e Event) encode() ([]byte, error) {
	if e.SentAt.IsZero() {
		e.SentAt = time.Now().UTC()
	}
	return json.Marshal(e)
}
