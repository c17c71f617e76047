// Package notifications holds the in-memory connection registry and the
// realtime dispatcher that fans conversation events out to push channels.
package notifications

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"mazl/internal/observability"
)

const (
	registryShards = 32

	defaultMaxConnsPerUser = 12
	defaultMaxTotalConns   = 10000
)

// ErrConnectionLimit is returned by Register when the user or the process
// has no connection slots left.
var ErrConnectionLimit = errors.New("connection limit reached")

// RegistryConfig bounds the registry. Zero values use the defaults.
type RegistryConfig struct {
	MaxConnsPerUser int
	MaxTotalConns   int

	// Presence, when set, is told about first and last connections.
	Presence *Presence
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[uint]map[*Client]struct{}
}

// Registry maps user ids to their live push channels. State is process-local
// and rebuilt as clients reconnect.
type Registry struct {
	shards     [registryShards]registryShard
	totalConns atomic.Int64

	maxPerUser int
	maxTotal   int64
	presence   *Presence
	log        *observability.WSLogger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		maxPerUser: cfg.MaxConnsPerUser,
		maxTotal:   int64(cfg.MaxTotalConns),
		presence:   cfg.Presence,
		log:        observability.NewWSLogger(registryHubName),
	}
	if r.maxPerUser <= 0 {
		r.maxPerUser = defaultMaxConnsPerUser
	}
	if r.maxTotal <= 0 {
		r.maxTotal = defaultMaxTotalConns
	}
	for i := range r.shards {
		r.shards[i].conns = make(map[uint]map[*Client]struct{})
	}
	return r
}

const registryHubName = "realtime"

// Name identifies the registry in metrics and logs.
func (r *Registry) Name() string { return registryHubName }

func (r *Registry) shard(userID uint) *registryShard {
	return &r.shards[userID%registryShards]
}

// Register adds a channel for userID.
func (r *Registry) Register(userID uint, client *Client) error {
	if r.totalConns.Add(1) > r.maxTotal {
		r.totalConns.Add(-1)
		return ErrConnectionLimit
	}

	s := r.shard(userID)
	s.mu.Lock()
	m, ok := s.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		s.conns[userID] = m
	}
	if len(m) >= r.maxPerUser {
		if len(m) == 0 {
			delete(s.conns, userID)
		}
		s.mu.Unlock()
		r.totalConns.Add(-1)
		return ErrConnectionLimit
	}
	m[client] = struct{}{}
	s.mu.Unlock()

	observability.WebSocketConnectionsTotal.Inc()
	if r.presence != nil {
		client.OnActivity = func(uid uint) { r.presence.Touch(context.Background(), uid) }
		r.presence.Register(context.Background(), userID)
	}
	return nil
}

// Unregister removes a channel. It reports whether the channel was present.
// The user entry is dropped with its last channel.
func (r *Registry) Unregister(userID uint, client *Client) bool {
	s := r.shard(userID)
	s.mu.Lock()
	removed := false
	if m, ok := s.conns[userID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			removed = true
		}
		if len(m) == 0 {
			delete(s.conns, userID)
		}
	}
	s.mu.Unlock()

	if !removed {
		return false
	}
	r.totalConns.Add(-1)
	observability.WebSocketConnectionsTotal.Dec()
	if r.presence != nil {
		r.presence.Unregister(context.Background(), userID)
	}
	return true
}

// ChannelsFor returns a snapshot of userID's channels. The slice is a copy,
// so callers send without holding any registry lock.
func (r *Registry) ChannelsFor(userID uint) []*Client {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.conns[userID]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}

// Deliver queues a frame on every channel of userID and returns how many
// channels accepted it.
func (r *Registry) Deliver(userID uint, frame []byte) int {
	delivered := 0
	for _, c := range r.ChannelsFor(userID) {
		if c.TrySend(frame) {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	return int(r.totalConns.Load())
}

// Shutdown closes every channel. Clients see a close frame from WritePump.
func (r *Registry) Shutdown(ctx context.Context) error {
	closed := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for _, m := range s.conns {
			for c := range m {
				c.Close()
				closed++
			}
		}
		s.conns = make(map[uint]map[*Client]struct{})
		s.mu.Unlock()
	}
	r.totalConns.Store(0)
	observability.WebSocketConnectionsTotal.Set(0)
	if r.presence != nil {
		r.presence.Stop()
	}
	r.log.LogLifecycle(ctx, "shutdown", map[string]interface{}{"closed": closed})
	return nil
}
