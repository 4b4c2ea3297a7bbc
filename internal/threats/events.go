package threats

import (
	"sync"
	"time"

	"github.com/scrollverse/sentinel/internal/metrics"
)

// Event types published by the engine.
const (
	EventDetected      = "threat.detected"
	EventStatusChanged = "threat.status_changed"
)

// Event is one notification about a threat.
type Event struct {
	Type   string    `json:"type"`
	Threat *Threat   `json:"threat"`
	At     time.Time `json:"at"`
}

// Subscriber receives threat events. Delivery is at-least-once and ordered:
// events for the same threat arrive in the order they were published.
// Subscribers must tolerate duplicates and should return quickly; a slow
// subscriber delays delivery to everyone behind it, never the detection path.
type Subscriber func(Event)

// Publisher fans threat events out to subscribers through a bounded queue
// drained by a single worker goroutine. The single worker is what provides
// the ordering guarantee; the bounded queue caps memory when subscribers lag.
// When the queue is full new events are dropped and counted, so the
// detection path never waits on a stuck subscriber.
type Publisher struct {
	queue chan Event

	mu   sync.RWMutex
	subs []Subscriber

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// DefaultQueueSize bounds the in-flight event backlog.
const DefaultQueueSize = 1024

// NewPublisher creates and starts an event publisher.
func NewPublisher(queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	p := &Publisher{
		queue: make(chan Event, queueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Subscribe registers a subscriber for all subsequent events.
func (p *Publisher) Subscribe(s Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, s)
}

// Publish enqueues an event. Never blocks: a full queue drops the event and
// increments the drop counter. No-op once the publisher has been closed.
func (p *Publisher) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case <-p.stop:
		return
	default:
	}
	select {
	case p.queue <- e:
		metrics.SecurityEventsPublished.WithLabelValues(e.Type).Inc()
	default:
		metrics.SecurityEventsDropped.WithLabelValues(e.Type).Inc()
	}
}

// Close stops the worker after draining queued events.
func (p *Publisher) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case e := <-p.queue:
			p.deliver(e)
		case <-p.stop:
			// Drain what is already queued so Close is not lossy.
			for {
				select {
				case e := <-p.queue:
					p.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) deliver(e Event) {
	p.mu.RLock()
	subs := make([]Subscriber, len(p.subs))
	copy(subs, p.subs)
	p.mu.RUnlock()
	for _, s := range subs {
		s(e)
	}
}
