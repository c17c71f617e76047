package notifications

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const userChannelPrefix = "rt:user:"

// Notifier moves frames between instances over Redis pub/sub.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier. A nil client makes every call a no-op.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether frames actually leave the process.
func (n *Notifier) Enabled() bool {
	return n != nil && n.rdb != nil
}

// PublishUser sends a frame to every instance holding a channel for userID.
func (n *Notifier) PublishUser(ctx context.Context, userID uint, frame []byte) error {
	if !n.Enabled() {
		return nil
	}
	return n.rdb.Publish(ctx, UserChannel(userID), frame).Err()
}

// StartPatternSubscriber subscribes to `rt:user:*` and calls onMessage for
// each frame with the addressed user id. It returns once the subscription is
// confirmed and stops when ctx is cancelled.
func (n *Notifier) StartPatternSubscriber(ctx context.Context, onMessage func(userID uint, frame []byte)) error {
	if !n.Enabled() {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, userChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe realtime channels: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				userID, err := parseUserChannel(msg.Channel)
				if err != nil {
					log.Printf("invalid realtime channel: %s", msg.Channel)
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in PatternSubscriber: %v\n%s", r, debug.Stack())
						}
					}()
					onMessage(userID, []byte(msg.Payload))
				}()
			}
		}
	}()

	return nil
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID uint) string {
	return userChannelPrefix + strconv.FormatUint(uint64(userID), 10)
}

func parseUserChannel(channel string) (uint, error) {
	var userID uint
	if _, err := fmt.Sscanf(channel, userChannelPrefix+"%d", &userID); err != nil {
		return 0, err
	}
	return userID, nil
}
