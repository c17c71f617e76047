package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mazl/internal/featureflags"
	"mazl/internal/middleware"
	"mazl/internal/models"
	"mazl/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Inbound frame types accepted on the realtime channel.
const (
	frameTyping  = "typing"
	frameMessage = "message"
	frameRead    = "read"
)

const codeRateLimited = "RATE_LIMITED"

// inboundFrame is a client-to-server frame. Fields not used by Type are ignored.
type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID uint   `json:"conversation_id"`
	Content        string `json:"content,omitempty"`
	IsTyping       bool   `json:"is_typing,omitempty"`
}

// IssueWSTicket handles POST /api/ws/ticket
// @Summary Issue a websocket ticket
// @Description Returns a single-use ticket for opening /api/ws.
// @Tags realtime
// @Produce json
// @Success 200 {object} object{ticket=string,expires_in=int}
// @Failure 503 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /ws/ticket [post]
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	ticket, ttl, err := s.auth.IssueTicket(c.UserContext(), currentUserID(c))
	if err != nil {
		if errors.Is(err, middleware.ErrTicketStoreUnavailable) {
			return models.RespondWithError(c, fiber.StatusServiceUnavailable,
				models.NewInternalError(err))
		}
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(ttl.Seconds()),
	})
}

// WebSocketHandler opens the caller's push channel. Every event of every
// conversation the user takes part in arrives here; the client may also
// send typing, message and read frames.
func (s *Server) WebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals("userID").(uint)
		if !ok || userID == 0 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}
		ctx := middleware.WithUserID(context.Background(), userID)

		client := notifications.NewClient(s.registry.Name(), conn, userID)
		if err := s.registry.Register(userID, client); err != nil {
			s.wsLog.LogError(ctx, userID, err, "register")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}
		s.wsLog.LogConnect(ctx, userID, client.ID)

		client.IncomingHandler = func(c *notifications.Client, raw []byte) {
			s.handleInboundFrame(ctx, c, raw)
		}

		writerDone := make(chan struct{})
		go func() {
			client.WritePump()
			close(writerDone)
		}()
		client.ReadPump()

		// The connection is released when this handler returns, so the
		// writer must be finished first.
		s.registry.Unregister(userID, client)
		client.Close()
		<-writerDone
		s.wsLog.LogDisconnect(ctx, userID, client.ID, "closed")
	})
}

func (s *Server) handleInboundFrame(ctx context.Context, c *notifications.Client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.SendError(models.CodeValidation, "invalid frame")
		return
	}
	if frame.ConversationID == 0 {
		c.SendError(models.CodeValidation, "conversation_id is required")
		return
	}

	var err error
	switch frame.Type {
	case frameTyping:
		err = s.handleTypingFrame(ctx, c, frame)
	case frameMessage:
		err = s.handleMessageFrame(ctx, c, frame)
	case frameRead:
		err = s.handleReadFrame(ctx, c, frame)
	default:
		c.SendError(models.CodeValidation, fmt.Sprintf("unknown frame type %q", frame.Type))
		return
	}
	if err != nil {
		s.sendFrameError(ctx, c, frame.Type, err)
	}
}

func (s *Server) handleTypingFrame(ctx context.Context, c *notifications.Client, frame inboundFrame) error {
	if !s.featureFlags.Enabled(featureflags.TypingEvents, c.UserID) {
		return nil
	}
	// Spammy typing frames are dropped without telling the client.
	allowed, err := middleware.CheckRateLimit(ctx, s.redis, "typing", fmt.Sprintf("user:%d", c.UserID), 20, 10*time.Second)
	if err == nil && !allowed {
		return nil
	}
	return s.publishTyping(ctx, frame.ConversationID, c.UserID, frame.IsTyping)
}

func (s *Server) handleMessageFrame(ctx context.Context, c *notifications.Client, frame inboundFrame) error {
	// Fails open like the HTTP limiter.
	allowed, err := middleware.CheckRateLimit(ctx, s.redis, "send_message", fmt.Sprintf("user:%d", c.UserID), 30, time.Minute)
	if err == nil && !allowed {
		c.SendError(codeRateLimited, "too many messages, slow down")
		return nil
	}
	msg, err := s.chatService.AppendMessage(ctx, frame.ConversationID, c.UserID, frame.Content)
	if err != nil {
		return err
	}
	s.publishMessageCreated(ctx, msg)
	return nil
}

func (s *Server) handleReadFrame(ctx context.Context, c *notifications.Client, frame inboundFrame) error {
	count, readAt, err := s.chatService.MarkRead(ctx, frame.ConversationID, c.UserID)
	if err != nil {
		return err
	}
	s.publishReadReceipt(ctx, frame.ConversationID, c.UserID, count, readAt)
	return nil
}

// sendFrameError reports a failed frame to the sending channel only. Details
// of internal errors stay in the log.
func (s *Server) sendFrameError(ctx context.Context, c *notifications.Client, frameType string, err error) {
	var appErr *models.AppError
	if errors.As(err, &appErr) && appErr.Code != models.CodeInternal {
		c.SendError(appErr.Code, appErr.Message)
		return
	}
	s.wsLog.LogError(ctx, c.UserID, err, frameType)
	c.SendError(models.CodeInternal, "internal error")
}
