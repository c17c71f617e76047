// Package service provides the matching and conversation business logic.
package service

import (
	"context"
	"log/slog"
	"time"

	"mazl/internal/events"
	"mazl/internal/middleware"
	"mazl/internal/models"
	"mazl/internal/observability"
	"mazl/internal/repository"
	"mazl/internal/validation"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// PresenceReader answers whether users currently hold a push channel.
type PresenceReader interface {
	Online(ctx context.Context, userIDs []uint) map[uint]bool
}

// ChatService provides conversation and message business logic.
type ChatService struct {
	chatRepo repository.ChatRepository
	db       *gorm.DB
	presence PresenceReader
	events   events.Publisher
}

// NewChatService returns a new ChatService. db may be nil when chatRepo is a
// stub; presence and publisher may be nil.
func NewChatService(chatRepo repository.ChatRepository, db *gorm.DB, presence PresenceReader, publisher events.Publisher) *ChatService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &ChatService{
		chatRepo: chatRepo,
		db:       db,
		presence: presence,
		events:   publisher,
	}
}

// now is the store timestamp. Microsecond precision matches Postgres, so
// ordering is the same before and after a round trip.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// CreateConversationForMatch materializes the conversation of a match. It is
// idempotent per match and joins the caller's transaction through ctx. It
// never notifies anyone.
func (s *ChatService) CreateConversationForMatch(ctx context.Context, matchID, lowID, highID uint) (*models.Conversation, error) {
	if matchID == 0 || lowID == 0 || lowID >= highID {
		return nil, models.NewValidationError("conversation requires a match and a canonical pair")
	}

	conv := &models.Conversation{
		MatchID:    matchID,
		UserLowID:  lowID,
		UserHighID: highID,
		CreatedAt:  now(),
	}
	created, err := s.chatRepo.CreateConversationIfAbsent(ctx, conv)
	if err != nil {
		return nil, err
	}
	if created {
		return conv, nil
	}
	return s.chatRepo.GetConversationByMatch(ctx, matchID)
}

// ConversationForParticipant loads the conversation if userID takes part in
// it. A missing conversation is reported as AccessDenied, same as a
// foreign one.
func (s *ChatService) ConversationForParticipant(ctx context.Context, convID, userID uint) (*models.Conversation, error) {
	conv, err := s.chatRepo.GetConversation(ctx, convID)
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			return nil, accessDenied(ctx, "conversation", convID, userID)
		}
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, accessDenied(ctx, "conversation", convID, userID)
	}
	return conv, nil
}

// AppendMessage stores a message and advances the conversation's
// last_message_at in one transaction.
func (s *ChatService) AppendMessage(ctx context.Context, convID, senderID uint, content string) (*models.Message, error) {
	span, ctx := observability.NewSpan(ctx, "chat.append_message",
		attribute.Int64("conversation.id", int64(convID)),
		attribute.Int64("sender.id", int64(senderID)),
	)
	defer span.End()

	conv, err := s.ConversationForParticipant(ctx, convID, senderID)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	trimmed, err := validation.MessageContent(content)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	msg := &models.Message{
		ConversationID: convID,
		SenderID:       senderID,
		Content:        trimmed,
		CreatedAt:      now(),
	}
	err = repository.WithTransaction(ctx, s.db, func(ctx context.Context) error {
		if err := s.chatRepo.CreateMessage(ctx, msg); err != nil {
			return err
		}
		return s.chatRepo.TouchLastMessage(ctx, convID, msg.CreatedAt)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	observability.MessagesTotal.Inc()
	span.AddAttributes(attribute.Int64("message.id", int64(msg.ID)))

	if err := s.events.PublishMessageCreated(ctx, msg, conv.OtherParticipant(senderID)); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish message event",
			slog.Uint64("message_id", uint64(msg.ID)),
			slog.String("error", err.Error()),
		)
	}
	return msg, nil
}

// ListMessages returns one page of history, oldest to newest. offset counts
// back from the newest message.
func (s *ChatService) ListMessages(ctx context.Context, convID, requesterID uint, limit, offset int) ([]models.Message, error) {
	limit, offset, err := validation.MessagePage(limit, offset)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if _, err := s.ConversationForParticipant(ctx, convID, requesterID); err != nil {
		return nil, err
	}
	return s.chatRepo.GetMessages(ctx, convID, limit, offset)
}

// MarkRead marks every message from the other participant as read. It
// returns how many flipped and the read_at stamp written on them. Repeating
// it flips nothing.
func (s *ChatService) MarkRead(ctx context.Context, convID, readerID uint) (int64, time.Time, error) {
	if _, err := s.ConversationForParticipant(ctx, convID, readerID); err != nil {
		return 0, time.Time{}, err
	}
	readAt := now()
	count, err := s.chatRepo.MarkRead(ctx, convID, readerID, readAt)
	if err != nil {
		return 0, time.Time{}, err
	}
	return count, readAt, nil
}

// ListConversations returns the user's inbox, most recently active first.
func (s *ChatService) ListConversations(ctx context.Context, userID uint) ([]models.ConversationSummary, error) {
	summaries, err := s.chatRepo.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.presence == nil || len(summaries) == 0 {
		return summaries, nil
	}

	others := make([]uint, 0, len(summaries))
	for _, c := range summaries {
		others = append(others, c.OtherUserID)
	}
	online := s.presence.Online(ctx, others)
	for i := range summaries {
		summaries[i].Online = online[summaries[i].OtherUserID]
	}
	return summaries, nil
}

func accessDenied(ctx context.Context, resource string, id, userID uint) error {
	observability.LogSecurityEvent(ctx, "security.access_denied", map[string]interface{}{
		"resource":    resource,
		"resource_id": id,
		"user_id":     userID,
	})
	return models.NewAccessDeniedError("You are not a participant in this " + resource)
}
