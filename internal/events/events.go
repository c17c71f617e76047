// Package events publishes domain events for the push-notification
// collaborator over NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"mazl/internal/middleware"
	"mazl/internal/models"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Subjects consumed by the push collaborator.
const (
	SubjectMatchCreated   = "mazl.match.created"
	SubjectMessageCreated = "mazl.message.created"
)

const previewRunes = 80

// Publisher emits domain events. Publishing is best effort: callers log
// failures and carry on.
type Publisher interface {
	PublishMatchCreated(ctx context.Context, match *models.Match, conv *models.Conversation) error
	PublishMessageCreated(ctx context.Context, msg *models.Message, recipientID uint) error
}

// MatchCreatedEvent is the payload on SubjectMatchCreated.
type MatchCreatedEvent struct {
	EventID        string    `json:"event_id"`
	MatchID        uint      `json:"match_id"`
	ConversationID uint      `json:"conversation_id"`
	UserIDs        [2]uint   `json:"user_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageCreatedEvent is the payload on SubjectMessageCreated.
type MessageCreatedEvent struct {
	EventID        string    `json:"event_id"`
	MessageID      uint      `json:"message_id"`
	ConversationID uint      `json:"conversation_id"`
	SenderID       uint      `json:"sender_id"`
	RecipientID    uint      `json:"recipient_id"`
	Preview        string    `json:"preview"`
	CreatedAt      time.Time `json:"created_at"`
}

// msgPublisher is the part of *nats.Conn the publisher needs.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NatsPublisher publishes events with the trace context in the NATS headers.
type NatsPublisher struct {
	nc msgPublisher
}

// NewNatsPublisher wraps a NATS connection.
func NewNatsPublisher(nc msgPublisher) *NatsPublisher {
	return &NatsPublisher{nc: nc}
}

// Connect dials NATS with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("mazl-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				middleware.Logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			middleware.Logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

func (p *NatsPublisher) PublishMatchCreated(ctx context.Context, match *models.Match, conv *models.Conversation) error {
	ev := MatchCreatedEvent{
		EventID:   uuid.NewString(),
		MatchID:   match.ID,
		UserIDs:   [2]uint{match.UserLowID, match.UserHighID},
		CreatedAt: match.CreatedAt,
	}
	if conv != nil {
		ev.ConversationID = conv.ID
	}
	return p.publish(ctx, SubjectMatchCreated, ev)
}

func (p *NatsPublisher) PublishMessageCreated(ctx context.Context, msg *models.Message, recipientID uint) error {
	return p.publish(ctx, SubjectMessageCreated, MessageCreatedEvent{
		EventID:        uuid.NewString(),
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		RecipientID:    recipientID,
		Preview:        Preview(msg.Content),
		CreatedAt:      msg.CreatedAt,
	})
}

func (p *NatsPublisher) publish(ctx context.Context, subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	middleware.Logger.DebugContext(ctx, "publishing event", slog.String("subject", subject))
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe consumes subject, restoring the publisher's trace context and
// opening a consumer span around handle.
func Subscribe(nc *nats.Conn, subject string, handle func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
		ctx, span := otel.Tracer("mazl-events").Start(ctx, "consume "+subject, trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handle(ctx, msg.Data)
	})
}

// NoopPublisher drops every event. Used when NATS_URL is empty.
type NoopPublisher struct{}

func (NoopPublisher) PublishMatchCreated(context.Context, *models.Match, *models.Conversation) error {
	return nil
}

func (NoopPublisher) PublishMessageCreated(context.Context, *models.Message, uint) error {
	return nil
}

// Preview shortens content for notification bodies.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewRunes-1]) + "…"
}
