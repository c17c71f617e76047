package notifications

import (
	"context"
	"fmt"
	"sync/atomic"

	"mazl/internal/models"
	"mazl/internal/observability"
)

// ParticipantResolver loads a conversation so its participants can be
// checked. It must read the primary store.
type ParticipantResolver interface {
	GetConversation(ctx context.Context, id uint) (*models.Conversation, error)
}

// Dispatcher fans conversation events out to both participants' channels.
// Delivery is at most once: a frame that cannot be queued is dropped.
type Dispatcher struct {
	resolver ParticipantResolver
	registry *Registry
	notifier *Notifier
	log      *observability.WSLogger

	// subscribed is set while this instance receives rt:user:* frames.
	// Until then Redis routing would lose every local delivery.
	subscribed atomic.Bool
}

// NewDispatcher wires a dispatcher. notifier may be nil for local-only fanout.
func NewDispatcher(resolver ParticipantResolver, registry *Registry, notifier *Notifier) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		registry: registry,
		notifier: notifier,
		log:      observability.NewWSLogger(registryHubName),
	}
}

// Start delivers frames published by other instances to local channels.
// Frames go through Redis only between a successful Start and the
// cancellation of ctx; outside that window delivery is local.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.notifier.Enabled() {
		return nil
	}
	err := d.notifier.StartPatternSubscriber(ctx, func(userID uint, frame []byte) {
		d.registry.Deliver(userID, frame)
	})
	if err != nil {
		return err
	}
	d.subscribed.Store(true)
	go func() {
		<-ctx.Done()
		d.subscribed.Store(false)
	}()
	return nil
}

// Subscribed reports whether frames are currently routed through Redis.
func (d *Dispatcher) Subscribed() bool {
	return d.subscribed.Load()
}

// Publish pushes ev to every channel of both participants of the
// conversation, the actor's other channels included. actorID must be a
// participant; anything else is AccessDenied.
func (d *Dispatcher) Publish(ctx context.Context, conversationID, actorID uint, ev Event) error {
	conv, err := d.resolver.GetConversation(ctx, conversationID)
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			return d.denied(ctx, conversationID, actorID, ev.Type)
		}
		return fmt.Errorf("resolve participants: %w", err)
	}
	if !conv.HasParticipant(actorID) {
		return d.denied(ctx, conversationID, actorID, ev.Type)
	}

	ev.ConversationID = conversationID
	ev.UserID = actorID
	frame, err := ev.encode()
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}

	observability.RealtimeEventsTotal.WithLabelValues(string(ev.Type)).Inc()
	for _, userID := range conv.Participants() {
		d.deliver(ctx, userID, frame)
	}
	return nil
}

// NotifyUser pushes ev to a single user. It is used for system events such
// as match_created whose payload differs per recipient.
func (d *Dispatcher) NotifyUser(ctx context.Context, userID uint, ev Event) error {
	frame, err := ev.encode()
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	observability.RealtimeEventsTotal.WithLabelValues(string(ev.Type)).Inc()
	d.deliver(ctx, userID, frame)
	return nil
}

// deliver routes through Redis while subscribed so every instance sees the
// frame; otherwise, or if the publish fails, it delivers locally.
func (d *Dispatcher) deliver(ctx context.Context, userID uint, frame []byte) {
	if d.notifier.Enabled() && d.subscribed.Load() {
		err := d.notifier.PublishUser(ctx, userID, frame)
		if err == nil {
			return
		}
		d.log.LogError(ctx, userID, err, "publish")
	}
	d.registry.Deliver(userID, frame)
}

func (d *Dispatcher) denied(ctx context.Context, conversationID, actorID uint, eventType EventType) error {
	observability.LogSecurityEvent(ctx, "security.access_denied", map[string]interface{}{
		"conversation_id": conversationID,
		"actor_id":        actorID,
		"event_type":      string(eventType),
	})
	return models.NewAccessDeniedError("not a participant in this conversation")
}
