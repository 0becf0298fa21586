// Package bus is the in-process publish/subscribe channel used for
// cross-component notifications (plugin loaded, query routed, evolution
// applied). Producers never learn who consumes their events.
//
// Delivery is best-effort and asynchronous: Publish never blocks on a slow
// subscriber. A subscriber whose buffer is full loses the event; the bus
// counts drops so the health monitor can surface chronically slow consumers.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Topic names one event stream.
type Topic string

const (
	TopicPluginLoaded       Topic = "plugin.loaded"
	TopicPluginFailed       Topic = "plugin.failed"
	TopicQueryRouted        Topic = "query.routed"
	TopicEvolutionProposed  Topic = "evolution.proposed"
	TopicEvolutionValidated Topic = "evolution.validated"
	TopicEvolutionRejected  Topic = "evolution.rejected"
	TopicEvolutionApplied   Topic = "evolution.applied"
	TopicEvolutionRollback  Topic = "evolution.rolled_back"
	TopicHealthChanged      Topic = "health.changed"
)

// Event is one published notification. Payload is event-specific data the
// subscriber is expected to type-assert.
type Event struct {
	ID        string    `json:"id"`
	Topic     Topic     `json:"topic"`
	Subject   string    `json:"subject,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscription is one subscriber's view of the bus. Receive from C until it
// is closed; call Cancel when done.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	topics map[Topic]bool
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

func (s *Subscription) wants(t Topic) bool {
	if len(s.topics) == 0 {
		return true // no filter means all topics
	}
	return s.topics[t]
}

// Bus is a single-writer-per-event, many-reader dispatcher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	bufSize int

	dropped atomic.Int64
}

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 64

// New creates an event bus with the default subscriber buffer.
func New() *Bus {
	return NewBuffered(DefaultBuffer)
}

// NewBuffered creates an event bus with an explicit subscriber buffer depth.
func NewBuffered(bufSize int) *Bus {
	if bufSize < 1 {
		bufSize = 1
	}
	return &Bus{
		subs:    make(map[*Subscription]struct{}),
		bufSize: bufSize,
	}
}

// Subscribe registers a consumer for the given topics. No topics means
// every topic.
func (b *Bus) Subscribe(topics ...Topic) *Subscription {
	ch := make(chan Event, b.bufSize)
	sub := &Subscription{C: ch, ch: ch}
	if len(topics) > 0 {
		sub.topics = make(map[Topic]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}
	sub.cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers the event to every interested subscriber without
// blocking. Full subscriber buffers drop the event.
func (b *Bus) Publish(topic Topic, subject string, payload any) {
	ev := Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		Subject:   subject,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		if !sub.wants(topic) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			log.Debug().
				Str("topic", string(topic)).
				Str("subject", subject).
				Msg("Event dropped: subscriber buffer full")
		}
	}
}

// Dropped returns the total number of events lost to full buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close terminates all subscriptions. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}
