package server

import (
	"context"
	"log/slog"
	"time"

	"mazl/internal/featureflags"
	"mazl/internal/middleware"
	"mazl/internal/models"
	"mazl/internal/notifications"
	"mazl/internal/service"
)

// Realtime delivery is best-effort: the write has already committed, so a
// failed publish is logged and never fails the request.

func (s *Server) publishMessageCreated(ctx context.Context, msg *models.Message) {
	err := s.dispatcher.Publish(ctx, msg.ConversationID, msg.SenderID, notifications.Event{
		Type:    notifications.EventMessageCreated,
		Payload: msg,
	})
	s.logPublishError(ctx, notifications.EventMessageCreated, msg.ConversationID, err)
}

func (s *Server) publishReadReceipt(ctx context.Context, convID, readerID uint, count int64, readAt time.Time) {
	// Nothing flipped, nothing to tell the sender.
	if count == 0 {
		return
	}
	err := s.dispatcher.Publish(ctx, convID, readerID, notifications.Event{
		Type: notifications.EventReadReceipt,
		Payload: notifications.ReadReceiptPayload{
			ReaderID:  readerID,
			ReadCount: count,
			ReadAt:    readAt,
		},
	})
	s.logPublishError(ctx, notifications.EventReadReceipt, convID, err)
}

func (s *Server) publishTyping(ctx context.Context, convID, userID uint, isTyping bool) error {
	return s.dispatcher.Publish(ctx, convID, userID, notifications.Event{
		Type:    notifications.EventTyping,
		Payload: notifications.TypingPayload{IsTyping: isTyping},
	})
}

// publishMatchCreated tells both users about a new match. Only the request
// that created the match calls it.
func (s *Server) publishMatchCreated(ctx context.Context, actorID uint, res *service.SwipeResult) {
	if res == nil || !res.Created || res.Match == nil || res.Conversation == nil {
		return
	}
	m := res.Match
	if !s.featureFlags.EnabledForAny(featureflags.MatchRealtime, m.UserLowID, m.UserHighID) {
		return
	}
	for _, userID := range []uint{m.UserLowID, m.UserHighID} {
		err := s.dispatcher.NotifyUser(ctx, userID, notifications.Event{
			Type:           notifications.EventMatchCreated,
			ConversationID: res.Conversation.ID,
			UserID:         actorID,
			Payload: notifications.MatchCreatedPayload{
				MatchID:        m.ID,
				ConversationID: res.Conversation.ID,
				OtherUserID:    m.OtherUser(userID),
			},
		})
		s.logPublishError(ctx, notifications.EventMatchCreated, res.Conversation.ID, err)
	}
}

func (s *Server) logPublishError(ctx context.Context, eventType notifications.EventType, convID uint, err error) {
	if err == nil {
		return
	}
	middleware.Logger.WarnContext(ctx, "failed to publish realtime event",
		slog.String("event_type", string(eventType)),
		slog.Uint64("conversation_id", uint64(convID)),
		slog.String("error", err.Error()),
	)
}
