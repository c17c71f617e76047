package repository

import (
	"context"
	"fmt"
	"time"

	"mazl/internal/models"
	"mazl/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRepository defines the interface for conversation and message data operations
type ChatRepository interface {
	CreateConversationIfAbsent(ctx context.Context, conv *models.Conversation) (created bool, err error)
	GetConversation(ctx context.Context, id uint) (*models.Conversation, error)
	GetConversationByMatch(ctx context.Context, matchID uint) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID uint) ([]models.ConversationSummary, error)
	TouchLastMessage(ctx context.Context, convID uint, at time.Time) error
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessages(ctx context.Context, convID uint, limit, offset int) ([]models.Message, error)
	MarkRead(ctx context.Context, convID, readerID uint, at time.Time) (int64, error)
}

// chatRepository implements ChatRepository
type chatRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db, log: observability.NewRepoLogger("conversations")}
}

func (r *chatRepository) CreateConversationIfAbsent(ctx context.Context, conv *models.Conversation) (bool, error) {
	result := conn(ctx, r.db).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "match_id"}},
			DoNothing: true,
		}).
		Create(conv)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return false, nil
		}
		r.log.LogError(ctx, result.Error, "create")
		return false, fmt.Errorf("insert conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	r.log.LogCreate(ctx, map[string]interface{}{
		"conversation_id": conv.ID,
		"match_id":        conv.MatchID,
	})
	return true, nil
}

// GetConversation reads the primary: participant checks must see a
// conversation the moment its match commits.
func (r *chatRepository) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := conn(ctx, r.db).First(&conv, id).Error; err != nil {
		return nil, notFoundOr(err, "Conversation", id)
	}
	return &conv, nil
}

func (r *chatRepository) GetConversationByMatch(ctx context.Context, matchID uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := conn(ctx, r.db).Where("match_id = ?", matchID).First(&conv).Error; err != nil {
		return nil, notFoundOr(err, "Conversation for match", matchID)
	}
	return &conv, nil
}

// ListConversations returns the user's conversations with last message and
// unread count, most recently active first.
func (r *chatRepository) ListConversations(ctx context.Context, userID uint) ([]models.ConversationSummary, error) {
	defer observability.TrackQuery("list", "conversations")()
	db := conn(ctx, r.db)

	var convs []models.Conversation
	if err := db.
		Where("user_low_id = ? OR user_high_id = ?", userID, userID).
		Order("COALESCE(last_message_at, created_at) DESC, id DESC").
		Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if len(convs) == 0 {
		return []models.ConversationSummary{}, nil
	}

	ids := make([]uint, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}

	var lastMessages []models.Message
	if err := db.Raw(`SELECT m.* FROM messages m
WHERE m.conversation_id IN ?
AND NOT EXISTS (
	SELECT 1 FROM messages n
	WHERE n.conversation_id = m.conversation_id
	AND (n.created_at > m.created_at OR (n.created_at = m.created_at AND n.id > m.id))
)`, ids).Scan(&lastMessages).Error; err != nil {
		return nil, fmt.Errorf("load last messages: %w", err)
	}
	lastByConv := make(map[uint]models.Message, len(lastMessages))
	for _, m := range lastMessages {
		lastByConv[m.ConversationID] = m
	}

	type unreadRow struct {
		ConversationID uint
		Unread         int64
	}
	var unread []unreadRow
	if err := db.Model(&models.Message{}).
		Select("conversation_id, COUNT(*) AS unread").
		Where("conversation_id IN ? AND sender_id <> ? AND is_read = ?", ids, userID, false).
		Group("conversation_id").
		Scan(&unread).Error; err != nil {
		return nil, fmt.Errorf("count unread messages: %w", err)
	}
	unreadByConv := make(map[uint]int64, len(unread))
	for _, u := range unread {
		unreadByConv[u.ConversationID] = u.Unread
	}

	out := make([]models.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		summary := models.ConversationSummary{
			Conversation: c,
			OtherUserID:  c.OtherParticipant(userID),
			UnreadCount:  unreadByConv[c.ID],
		}
		if m, ok := lastByConv[c.ID]; ok {
			last := m
			summary.LastMessage = &last
		}
		out = append(out, summary)
	}
	return out, nil
}

// TouchLastMessage advances last_message_at; it never moves backwards.
func (r *chatRepository) TouchLastMessage(ctx context.Context, convID uint, at time.Time) error {
	err := conn(ctx, r.db).
		Model(&models.Conversation{}).
		Where("id = ? AND (last_message_at IS NULL OR last_message_at < ?)", convID, at).
		Update("last_message_at", at).Error
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	if err := conn(ctx, r.db).Omit(clause.Associations).Create(msg).Error; err != nil {
		r.log.LogError(ctx, err, "create_message")
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessages returns a page counted back from the newest message, ordered
// oldest to newest by (created_at, id).
func (r *chatRepository) GetMessages(ctx context.Context, convID uint, limit, offset int) ([]models.Message, error) {
	var messages []models.Message
	err := conn(ctx, r.db).
		Where("conversation_id = ?", convID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkRead flips every unread message from the other participant. Already
// read rows are excluded so read_at keeps its first value.
func (r *chatRepository) MarkRead(ctx context.Context, convID, readerID uint, at time.Time) (int64, error) {
	result := conn(ctx, r.db).
		Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", convID, readerID, false).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": at,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("mark read: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		r.log.LogUpdate(ctx, map[string]interface{}{
			"conversation_id": convID,
			"reader_id":       readerID,
			"read":            result.RowsAffected,
		})
	}
	return result.RowsAffected, nil
}
