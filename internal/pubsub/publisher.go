// Package pubsub provides the per-session event publisher: an ordered
// fan-out of orchestration events to zero or more live subscribers,
// with catch-up for late joiners.
package pubsub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
)

// Subscriber is one live consumer of a session's event stream. Events
// arrive on a bounded channel; if the consumer falls behind until the
// buffer overflows, the subscriber is dropped and the channel closed.
// A closed channel is also the terminal marker when the session closes.
type Subscriber struct {
	ch  chan domain.Event
	p   *Publisher
	out bool // dropped or unsubscribed; guarded by p.mu
}

// Events returns the channel events are delivered on. The channel is
// closed when the subscriber is dropped or the session's publisher
// closes.
func (s *Subscriber) Events() <-chan domain.Event {
	return s.ch
}

// Close unsubscribes. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.p.unsubscribe(s)
}

// Publisher fans out one session's events. Publish assigns sequence
// numbers under the same lock that delivers to subscribers, so no
// subscriber observes events out of sequence order.
type Publisher struct {
	sessionID string
	buffer    int

	mu     sync.Mutex
	seq    uint64
	subs   map[*Subscriber]struct{}
	last   map[domain.EventKind]domain.Event
	closed bool
}

// New creates a publisher for one session. buffer is the per-subscriber
// channel capacity.
func New(sessionID string, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = 16
	}
	return &Publisher{
		sessionID: sessionID,
		buffer:    buffer,
		subs:      make(map[*Subscriber]struct{}),
		last:      make(map[domain.EventKind]domain.Event),
	}
}

// Publish assigns the next sequence number and delivers the event to
// every current subscriber. Delivery is best-effort: a subscriber whose
// buffer is full is dropped rather than blocking stage execution.
func (p *Publisher) Publish(kind domain.EventKind, stage string, payload any) domain.Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	ev := domain.Event{
		SessionID: p.sessionID,
		Stage:     stage,
		Kind:      kind,
		Sequence:  p.seq,
		Ts:        time.Now().UnixMilli(),
		Payload:   data,
	}
	p.last[kind] = ev
	if p.closed {
		return ev
	}

	for sub := range p.subs {
		select {
		case sub.ch <- ev:
		default:
			// Buffer full: drop the subscriber. It must resubscribe
			// and catch up from the synthetic status event.
			sub.out = true
			delete(p.subs, sub)
			close(sub.ch)
		}
	}
	return ev
}

// Subscribe registers a new subscriber and immediately queues a
// synthetic SESSION_STATUS event carrying the provided snapshot. The
// catch-up event reuses the last assigned sequence number (0 if nothing
// has been published) so that real events stay gap-free for every
// subscriber.
func (p *Publisher) Subscribe(snapshot any) (*Subscriber, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, domain.ErrSessionClosed
	}

	sub := &Subscriber{
		ch: make(chan domain.Event, p.buffer),
		p:  p,
	}
	sub.ch <- domain.Event{
		SessionID: p.sessionID,
		Kind:      domain.EventSessionStatus,
		Sequence:  p.seq,
		Ts:        time.Now().UnixMilli(),
		Payload:   data,
	}
	p.subs[sub] = struct{}{}
	return sub, nil
}

func (p *Publisher) unsubscribe(sub *Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub.out {
		return
	}
	sub.out = true
	delete(p.subs, sub)
	close(sub.ch)
}

// SubscriberCount returns the number of live subscribers.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// LastSequence returns the sequence number of the most recently
// published event.
func (p *Publisher) LastSequence() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// Close ends all subscriptions. Closed subscriber channels are the
// terminal marker seen by live clients.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for sub := range p.subs {
		sub.out = true
		close(sub.ch)
	}
	p.subs = make(map[*Subscriber]struct{})
}
