// Package pubsub fans task events out to live subscribers.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"planner-api/domain"
)

// DefaultSubscriberBufferSize bounds the events queued for one subscriber.
const DefaultSubscriberBufferSize = 1024

// ErrClosed is returned by Subscribe on a closed bus and by Next once the
// subscription has been cancelled.
var ErrClosed = errors.New("pubsub: closed")

// Config configures a Bus.
type Config struct {
	// SubscriberBufferSize caps the queue of each subscriber (default 1024).
	// When full, the oldest queued event is dropped.
	SubscriberBufferSize int
	// Meter records bus metrics. The global meter is used when nil.
	Meter  metric.Meter
	Logger *log.Logger
}

// Bus is an in-process topic bus. Publish is serialized, so every subscriber
// observes events in the same order.
type Bus struct {
	mu      sync.Mutex
	subs    map[domain.Topic]map[uint64]*Subscription
	nextID  uint64
	bufSize int
	closed  bool

	metrics *busMetrics
	log     *log.Logger
}

func New(cfg Config) *Bus {
	bufSize := cfg.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = DefaultSubscriberBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter("planner/pubsub")
	}
	m, err := newBusMetrics(meter)
	if err != nil {
		logger.WithError(err).Warn("bus metrics disabled")
		m, _ = newBusMetrics(noop.NewMeterProvider().Meter("planner/pubsub"))
	}
	return &Bus{
		subs:    make(map[domain.Topic]map[uint64]*Subscription),
		bufSize: bufSize,
		metrics: m,
		log:     logger,
	}
}

// Publish queues ev for every subscriber of ev.Topic registered at the time of
// the call. It never blocks on subscribers. Events without subscribers and
// events published after Close are discarded.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	subs := b.subs[ev.Topic]
	for _, s := range subs {
		s.push(ev)
	}
	b.metrics.publish(ev.Topic, len(subs))
}

// Subscribe registers a subscription for the given topics. Only events
// published after Subscribe returns are delivered.
func (b *Bus) Subscribe(topics ...domain.Topic) (*Subscription, error) {
	if len(topics) == 0 {
		return nil, errors.New("pubsub: no topics")
	}
	uniq := make([]domain.Topic, 0, len(topics))
	seen := make(map[domain.Topic]bool, len(topics))
	for _, topic := range topics {
		if !topic.Valid() {
			return nil, fmt.Errorf("pubsub: unknown topic %q", topic)
		}
		if !seen[topic] {
			seen[topic] = true
			uniq = append(uniq, topic)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.nextID++
	s := &Subscription{
		id:     b.nextID,
		bus:    b,
		topics: uniq,
		limit:  b.bufSize,
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, topic := range uniq {
		if b.subs[topic] == nil {
			b.subs[topic] = make(map[uint64]*Subscription)
		}
		b.subs[topic][s.id] = s
	}
	b.metrics.subscribed(uniq, 1)
	b.log.WithFields(log.Fields{"sub": s.id, "topics": uniq}).Debug("bus subscription added")
	return s, nil
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic domain.Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Close cancels every subscription. Later calls to Publish are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	closed := make(map[uint64]bool)
	for _, subs := range b.subs {
		for id, s := range subs {
			if closed[id] {
				continue
			}
			closed[id] = true
			if s.shut() {
				b.metrics.subscribed(s.topics, -1)
			}
		}
	}
	b.subs = make(map[domain.Topic]map[uint64]*Subscription)
	return nil
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range s.topics {
		delete(b.subs[topic], s.id)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}
}

// Subscription is a live stream of events for a set of topics.
type Subscription struct {
	id     uint64
	bus    *Bus
	topics []domain.Topic
	limit  int

	mu       sync.Mutex
	queue    []domain.Event
	closed   bool
	draining bool
	dropped  int64

	ready chan struct{}
	done  chan struct{}
}

// Topics returns the topics the subscription listens on.
func (s *Subscription) Topics() []domain.Topic { return s.topics }

// Next returns the next queued event, waiting until one is published. It
// returns ErrClosed once the subscription or the bus is closed, or once a
// drained subscription has handed out its queue, and the context error when
// ctx ends first.
func (s *Subscription) Next(ctx context.Context) (domain.Event, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return domain.Event{}, ErrClosed
		}
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = domain.Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		if s.draining {
			s.mu.Unlock()
			return domain.Event{}, ErrClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		case <-s.done:
		case <-s.ready:
		}
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (s *Subscription) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Drain stops delivery of new events while keeping the queued ones: Next
// returns what was published before Drain and then ErrClosed. Close still
// has to be called to release the subscription.
func (s *Subscription) Drain() {
	s.bus.remove(s)
	s.mu.Lock()
	if s.closed || s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Close cancels the subscription. Queued events are discarded. Close is
// idempotent and safe to call concurrently with Publish.
func (s *Subscription) Close() error {
	s.bus.remove(s)
	if s.shut() {
		s.bus.metrics.subscribed(s.topics, -1)
		s.bus.log.WithField("sub", s.id).Debug("bus subscription closed")
	}
	return nil
}

// shut marks the subscription closed and reports whether this call did it.
func (s *Subscription) shut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.queue = nil
	close(s.done)
	return true
}

func (s *Subscription) push(ev domain.Event) {
	s.mu.Lock()
	if s.closed || s.draining {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.limit {
		dropped := s.queue[0]
		s.queue[0] = domain.Event{}
		s.queue = s.queue[1:]
		s.dropped++
		s.bus.metrics.drop(dropped.Topic)
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}
