package models

import "time"

// Match is created once two users have expressed mutual interest.
// UserLowID < UserHighID always holds; the pair is unique.
type Match struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserLowID  uint      `gorm:"not null;uniqueIndex:idx_matches_pair,priority:1;check:chk_matches_canonical,user_low_id < user_high_id" json:"user_low_id"`
	UserHighID uint      `gorm:"not null;uniqueIndex:idx_matches_pair,priority:2;index" json:"user_high_id"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

// TableName returns the database table name for Match.
func (Match) TableName() string {
	return "matches"
}

// CanonicalPair orders two identities as (low, high) so that the pair key
// is the same regardless of who acted first.
func CanonicalPair(a, b uint) (low, high uint) {
	if a < b {
		return a, b
	}
	return b, a
}

// HasUser reports whether userID is one side of the match.
func (m *Match) HasUser(userID uint) bool {
	return m.UserLowID == userID || m.UserHighID == userID
}

// OtherUser returns the counterpart of userID, or 0 if userID is not in the match.
func (m *Match) OtherUser(userID uint) uint {
	switch userID {
	case m.UserLowID:
		return m.UserHighID
	case m.UserHighID:
		return m.UserLowID
	default:
		return 0
	}
}

// MatchSummary is the list view of a match for one of its participants.
type MatchSummary struct {
	MatchID        uint      `json:"match_id"`
	OtherUserID    uint      `json:"other_user_id"`
	ConversationID uint      `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
}
