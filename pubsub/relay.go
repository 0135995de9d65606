package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"planner-api/domain"
)

const (
	defaultRelayBuffer  = 256
	relayPublishTimeout = 5 * time.Second
)

// RelayConfig configures a Relay.
type RelayConfig struct {
	Channel string
	// Buffer bounds the events waiting to be sent to redis (default 256).
	Buffer int
	Logger *log.Logger
}

type envelope struct {
	Origin string       `json:"origin"`
	Topic  domain.Topic `json:"topic"`
	Task   domain.Task  `json:"task"`
}

// Relay shares events between instances over a redis channel. Events
// published through the relay reach the local bus first; events received
// from other instances are republished on the local bus.
type Relay struct {
	bus     *Bus
	rc      *redis.Client
	channel string
	origin  string
	log     *log.Logger

	out  chan domain.Event
	done chan struct{}

	mu      sync.RWMutex
	stopped bool
}

func NewRelay(bus *Bus, rc *redis.Client, cfg RelayConfig) *Relay {
	buf := cfg.Buffer
	if buf <= 0 {
		buf = defaultRelayBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	r := &Relay{
		bus:     bus,
		rc:      rc,
		channel: cfg.Channel,
		origin:  uuid.NewString(),
		log:     logger,
		out:     make(chan domain.Event, buf),
		done:    make(chan struct{}),
	}
	go r.send()
	return r
}

// Origin identifies this instance in relayed envelopes.
func (r *Relay) Origin() string { return r.origin }

// Publish delivers ev locally and queues it for other instances. A full
// outbound queue drops the remote copy only.
func (r *Relay) Publish(ev domain.Event) {
	r.bus.Publish(ev)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return
	}
	select {
	case r.out <- ev:
	default:
		r.log.WithFields(log.Fields{"topic": ev.Topic, "task": ev.Task.ID}).Warn("relay queue full, event not shared")
	}
}

func (r *Relay) send() {
	defer close(r.done)
	for ev := range r.out {
		payload, err := sonic.Marshal(envelope{Origin: r.origin, Topic: ev.Topic, Task: ev.Task})
		if err != nil {
			r.log.WithError(err).Error("marshal relay envelope")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
		if err := r.rc.Publish(ctx, r.channel, payload).Err(); err != nil {
			r.log.WithError(err).WithField("channel", r.channel).Error("relay publish")
		}
		cancel()
	}
}

// Run receives events from other instances until ctx ends, reconnecting
// when the redis subscription drops.
func (r *Relay) Run(ctx context.Context) {
	for {
		sub := r.rc.Subscribe(ctx, r.channel)
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			r.log.WithError(err).Error("relay subscribe")
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}
		r.consume(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		r.log.Error("relay channel closed, reconnecting")
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func (r *Relay) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := sonic.UnmarshalString(msg.Payload, &env); err != nil {
				r.log.WithError(err).Error("unable to parse relayed event")
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			if !env.Topic.Valid() {
				r.log.WithField("topic", env.Topic).Warn("relayed event with unknown topic")
				continue
			}
			r.bus.Publish(domain.Event{Topic: env.Topic, Task: env.Task})
		}
	}
}

// Close stops accepting events and waits until queued events are sent.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.out)
	r.mu.Unlock()
	<-r.done
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
