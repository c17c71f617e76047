package notifications

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceCountKeyPrefix    = "presence:user:"
	presenceLastSeenKeyPrefix = "presence:last_seen:"
	defaultPresenceTTL        = 90 * time.Second
	defaultLastSeenRetention  = 7 * 24 * time.Hour
)

// PresenceConfig controls the Redis mirror of presence.
type PresenceConfig struct {
	// TTL bounds how long a connection count survives without a refresh, so
	// a crashed instance cannot keep users online forever.
	TTL time.Duration
}

// Presence tracks which users hold at least one push channel. Local counts
// answer for this process; Redis answers across instances.
type Presence struct {
	rdb *redis.Client
	ttl time.Duration

	mu          sync.RWMutex
	localCounts map[uint]int

	stopOnce sync.Once
}

// NewPresence creates a tracker. rdb may be nil for single-instance setups.
func NewPresence(rdb *redis.Client, cfg PresenceConfig) *Presence {
	p := &Presence{
		rdb:         rdb,
		ttl:         cfg.TTL,
		localCounts: make(map[uint]int),
	}
	if p.ttl <= 0 {
		p.ttl = defaultPresenceTTL
	}
	return p
}

// Register records one more channel for userID.
func (p *Presence) Register(ctx context.Context, userID uint) {
	p.mu.Lock()
	p.localCounts[userID]++
	p.mu.Unlock()

	if p.rdb == nil {
		return
	}
	key := presenceCountKey(userID)
	pipe := p.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, p.ttl)
	pipe.Set(ctx, presenceLastSeenKey(userID), strconv.FormatInt(time.Now().Unix(), 10), defaultLastSeenRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("presence register failed for user %d: %v", userID, err)
	}
}

// Touch refreshes the liveness of userID's channels.
func (p *Presence) Touch(ctx context.Context, userID uint) {
	if p.rdb == nil {
		return
	}
	pipe := p.rdb.Pipeline()
	pipe.Expire(ctx, presenceCountKey(userID), p.ttl)
	pipe.Set(ctx, presenceLastSeenKey(userID), strconv.FormatInt(time.Now().Unix(), 10), defaultLastSeenRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("presence touch failed for user %d: %v", userID, err)
	}
}

// Unregister records one channel fewer for userID.
func (p *Presence) Unregister(ctx context.Context, userID uint) {
	p.mu.Lock()
	if n := p.localCounts[userID]; n > 1 {
		p.localCounts[userID] = n - 1
	} else {
		delete(p.localCounts, userID)
	}
	p.mu.Unlock()

	if p.rdb == nil {
		return
	}
	key := presenceCountKey(userID)
	n, err := p.rdb.Decr(ctx, key).Result()
	if err != nil {
		log.Printf("presence unregister failed for user %d: %v", userID, err)
		return
	}
	if n <= 0 {
		_ = p.rdb.Del(ctx, key).Err()
	}
	_ = p.rdb.Set(ctx, presenceLastSeenKey(userID), strconv.FormatInt(time.Now().Unix(), 10), defaultLastSeenRetention).Err()
}

// IsOnline reports whether userID holds a channel on any instance.
func (p *Presence) IsOnline(ctx context.Context, userID uint) bool {
	return p.Online(ctx, []uint{userID})[userID]
}

// Online resolves presence for several users with a single Redis round trip.
func (p *Presence) Online(ctx context.Context, userIDs []uint) map[uint]bool {
	out := make(map[uint]bool, len(userIDs))
	var remote []uint

	p.mu.RLock()
	for _, id := range userIDs {
		if p.localCounts[id] > 0 {
			out[id] = true
		} else {
			out[id] = false
			remote = append(remote, id)
		}
	}
	p.mu.RUnlock()

	if p.rdb == nil || len(remote) == 0 {
		return out
	}
	keys := make([]string, len(remote))
	for i, id := range remote {
		keys[i] = presenceCountKey(id)
	}
	vals, err := p.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return out
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			out[remote[i]] = true
		}
	}
	return out
}

// LastSeen returns when userID last held or refreshed a channel.
func (p *Presence) LastSeen(ctx context.Context, userID uint) (time.Time, bool) {
	if p.rdb == nil {
		return time.Time{}, false
	}
	raw, err := p.rdb.Get(ctx, presenceLastSeenKey(userID)).Result()
	if err != nil {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

// Stop releases this process's share of the Redis counters.
func (p *Presence) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		counts := p.localCounts
		p.localCounts = make(map[uint]int)
		p.mu.Unlock()

		if p.rdb == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for userID, n := range counts {
			_ = p.rdb.DecrBy(ctx, presenceCountKey(userID), int64(n)).Err()
		}
	})
}

func presenceCountKey(userID uint) string {
	return presenceCountKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}

func presenceLastSeenKey(userID uint) string {
	return presenceLastSeenKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}
