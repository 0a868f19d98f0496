// Package events fans accepted messages out to live subscriptions. A
// Subscription owns its receiving channel; closing it unsubscribes.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
)

// DefaultBuffer is the per-subscription channel capacity.
const DefaultBuffer = 64

// Event is a message accepted into a tenant's node.
type Event struct {
	Tenant  string
	CID     string
	Message *message.Message
	Indexes store.Indexes
}

// Broker is a registry of subscriptions per tenant.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription
	buffer int
	logger *slog.Logger
}

func NewBroker() *Broker {
	return NewBrokerWithBuffer(DefaultBuffer)
}

func NewBrokerWithBuffer(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		subs:   make(map[string]map[string]*Subscription),
		buffer: buffer,
		logger: slog.Default().With("component", "events"),
	}
}

// Subscribe registers a subscription receiving tenant events that match any
// of filters. An empty filter list matches everything.
func (b *Broker) Subscribe(tenant string, filters []store.Filter) *Subscription {
	s := &Subscription{
		id:      uuid.NewString(),
		tenant:  tenant,
		filters: filters,
		ch:      make(chan Event, b.buffer),
		broker:  b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[tenant] == nil {
		b.subs[tenant] = make(map[string]*Subscription)
	}
	b.subs[tenant][s.id] = s
	return s
}

// Publish delivers ev to every matching subscription of its tenant. A full
// subscriber drops the event rather than stalling the publisher.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[ev.Tenant] {
		if len(s.filters) > 0 && !store.Matches(ev.Indexes, s.filters) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			b.logger.Warn("subscriber buffer full, event dropped",
				"tenant", ev.Tenant, "subscription", s.id, "cid", ev.CID)
		}
	}
}

// Len returns the number of open subscriptions for tenant.
func (b *Broker) Len(tenant string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[tenant])
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tenantSubs := b.subs[s.tenant]
	if _, ok := tenantSubs[s.id]; !ok {
		return
	}
	delete(tenantSubs, s.id)
	if len(tenantSubs) == 0 {
		delete(b.subs, s.tenant)
	}
	close(s.ch)
}

// Subscription is one live registration with a Broker.
type Subscription struct {
	id      string
	tenant  string
	filters []store.Filter
	ch      chan Event
	broker  *Broker
	dropped atomic.Int64
	once    sync.Once
}

func (s *Subscription) ID() string { return s.id }

// C returns the receiving channel. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped is the number of events lost to a full buffer.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.broker.remove(s) })
}
