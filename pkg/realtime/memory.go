package realtime

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryBus is an in-process Bus. Events are sent non-blocking: a session
// whose buffer is full loses the event rather than delaying the publisher.
// All methods are safe for concurrent use.
type MemoryBus struct {
	targets    map[string]map[*Subscription]struct{}
	bufferSize int
	closed     bool
	logger     *slog.Logger
	mu         sync.RWMutex
}

// MemoryBusOption configures a MemoryBus.
type MemoryBusOption func(*MemoryBus)

// WithMemoryBusLogger sets the logger for the MemoryBus.
func WithMemoryBusLogger(logger *slog.Logger) MemoryBusOption {
	return func(b *MemoryBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewMemoryBus creates an in-process bus. bufferSize is the per-session
// channel buffer; a minimum of 1 is enforced to keep sends non-blocking.
func NewMemoryBus(bufferSize int, opts ...MemoryBusOption) *MemoryBus {
	b := &MemoryBus{
		targets:    make(map[string]map[*Subscription]struct{}),
		bufferSize: max(bufferSize, 1),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscription is one connected session's view of the bus.
type Subscription struct {
	ch      chan Event
	keys    []string
	bus     *MemoryBus
	closed  bool
	closeMu sync.Mutex
}

// Receive returns the channel events are delivered on. The channel is closed
// when the subscription or the bus is closed.
func (s *Subscription) Receive() <-chan Event {
	return s.ch
}

// Close detaches the session from the bus. Idempotent.
func (s *Subscription) Close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	s.bus.detach(s)
	close(s.ch)
}

func (s *Subscription) send(ev Event) bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Subscribe attaches a session for one user. The session receives events
// published to the user, to any of the given roles, and to everyone.
// The subscription is cleaned up when ctx is cancelled or Close is called.
func (b *MemoryBus) Subscribe(ctx context.Context, userID string, roles ...string) *Subscription {
	keys := make([]string, 0, len(roles)+2)
	keys = append(keys, userTarget(userID))
	for _, r := range roles {
		keys = append(keys, roleTarget(r))
	}
	keys = append(keys, allTarget)

	sub := &Subscription{
		ch:   make(chan Event, b.bufferSize),
		keys: keys,
		bus:  b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.closed = true
		close(sub.ch)
		return sub
	}
	for _, key := range keys {
		set, ok := b.targets[key]
		if !ok {
			set = make(map[*Subscription]struct{})
			b.targets[key] = set
		}
		set[sub] = struct{}{}
	}
	b.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			sub.Close()
		}()
	}

	return sub
}

func (b *MemoryBus) Publish(ctx context.Context, userID, event string, payload any) {
	b.publish(ctx, userTarget(userID), event, payload)
}

func (b *MemoryBus) PublishToRole(ctx context.Context, role, event string, payload any) {
	b.publish(ctx, roleTarget(role), event, payload)
}

func (b *MemoryBus) PublishToAll(ctx context.Context, event string, payload any) {
	b.publish(ctx, allTarget, event, payload)
}

func (b *MemoryBus) publish(ctx context.Context, key, event string, payload any) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]*Subscription, 0, len(b.targets[key]))
	for sub := range b.targets[key] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	ev := Event{Name: event, Payload: payload}
	for _, sub := range subs {
		if !sub.send(ev) {
			// Full buffer or closed session: the event is lost for this
			// session, which is within the at-most-once contract.
			b.logger.LogAttrs(ctx, slog.LevelDebug, "realtime event dropped",
				slog.String("target", key),
				slog.String("event", event),
			)
		}
	}
}

// Close shuts down the bus and all subscriptions. Safe to call multiple times.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	seen := make(map[*Subscription]struct{})
	for _, set := range b.targets {
		for sub := range set {
			seen[sub] = struct{}{}
		}
	}
	clear(b.targets)
	b.mu.Unlock()

	for sub := range seen {
		sub.closeMu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		sub.closeMu.Unlock()
	}
}

func (b *MemoryBus) detach(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range sub.keys {
		if set, ok := b.targets[key]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.targets, key)
			}
		}
	}
}
