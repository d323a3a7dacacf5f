package signal

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oakmund/convoy/internal/logging"
	"github.com/oakmund/convoy/internal/telemetry"
)

const defaultSubscriberCapacity = 100

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// Router is a typed pub/sub bus on top of a topic catalogue. Publish is
// fire-and-forget per subscriber: a slow consumer loses its oldest buffered
// signal instead of stalling the publisher.
type Router struct {
	registry *TopicRegistry

	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber
	channelSize int
	logger      logging.Printer
	metrics     *telemetry.Metrics
	clock       func() time.Time
}

// Subscription represents one active topic subscription.
type Subscription struct {
	ID     string
	Topic  string
	Events <-chan Signal
	cancel func()
}

// Close terminates the subscription. Closing twice is a no-op.
func (s *Subscription) Close() {
	if s != nil && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// NewRouter constructs a router bound to a topic catalogue.
func NewRouter(registry *TopicRegistry, opts ...RouterOption) *Router {
	r := &Router{
		registry:    registry,
		subscribers: map[string]map[string]*subscriber{},
		channelSize: defaultSubscriberCapacity,
		clock:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RouterWithLogger injects a logger for drop/diagnostic messages.
func RouterWithLogger(logger logging.Printer) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// RouterWithSubscriberCapacity overrides the buffered channel size per subscriber.
func RouterWithSubscriberCapacity(cap int) RouterOption {
	return func(r *Router) {
		if cap > 0 {
			r.channelSize = cap
		}
	}
}

// RouterWithMetrics wires publish/drop counters.
func RouterWithMetrics(metrics *telemetry.Metrics) RouterOption {
	return func(r *Router) {
		r.metrics = metrics
	}
}

// RouterWithClock injects a deterministic clock (primarily for tests).
func RouterWithClock(clock func() time.Time) RouterOption {
	return func(r *Router) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// Registry exposes the underlying topic catalogue so callers can register
// topics through the router they already hold.
func (r *Router) Registry() *TopicRegistry {
	return r.registry
}

// Subscribe registers a listener for a topic. The topic must already exist in
// the catalogue.
func (r *Router) Subscribe(topic string) (*Subscription, error) {
	name := normalizeTopic(topic)
	if _, ok := r.registry.Topic(name); !ok {
		return nil, &InvalidTopicError{Topic: name}
	}
	sub := newSubscriber(r.channelSize)
	id := uuid.New().String()
	r.mu.Lock()
	if r.subscribers[name] == nil {
		r.subscribers[name] = map[string]*subscriber{}
	}
	r.subscribers[name][id] = sub
	r.mu.Unlock()
	return &Subscription{
		ID:     id,
		Topic:  name,
		Events: sub.channel(),
		cancel: func() { r.removeSubscriber(name, id) },
	}, nil
}

// Unsubscribe removes a subscription by id. Unknown ids are ignored.
func (r *Router) Unsubscribe(subscriptionID string) {
	r.mu.Lock()
	var found *subscriber
	for topic, subs := range r.subscribers {
		if sub, ok := subs[subscriptionID]; ok {
			found = sub
			delete(subs, subscriptionID)
			if len(subs) == 0 {
				delete(r.subscribers, topic)
			}
			break
		}
	}
	r.mu.Unlock()
	if found != nil {
		found.close()
	}
}

// Publish validates the payload against the topic schema, builds the signal,
// and delivers it to every subscriber alive at publish time.
func (r *Router) Publish(topic string, data map[string]any) (Signal, error) {
	name := normalizeTopic(topic)
	entry, ok := r.registry.Topic(name)
	if !ok {
		return Signal{}, &InvalidTopicError{Topic: name}
	}
	if err := r.registry.Validate(name, data); err != nil {
		return Signal{}, err
	}
	sig := newSignal(name, entry.WireType, data, r.clock())

	r.mu.RLock()
	subs := make([]*subscriber, 0, len(r.subscribers[name]))
	for _, sub := range r.subscribers[name] {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	for _, sub := range subs {
		if dropped := sub.deliver(sig); dropped {
			r.metrics.SignalDropped(name)
			if r.logger != nil {
				r.logger.Printf("signal: dropped %s on %s (queue overflow)", sig.Type, name)
			}
		}
	}
	r.metrics.SignalPublished(name)
	return sig, nil
}

// SubscriberCount reports how many listeners a topic currently has.
func (r *Router) SubscriberCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[normalizeTopic(topic)])
}

func (r *Router) removeSubscriber(topic, id string) {
	r.mu.Lock()
	subs := r.subscribers[topic]
	sub, ok := subs[id]
	if ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.subscribers, topic)
		}
	}
	r.mu.Unlock()
	if ok {
		sub.close()
	}
}

type subscriber struct {
	ch      chan Signal
	closed  bool
	closeMu sync.Mutex
}

func newSubscriber(capacity int) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{ch: make(chan Signal, capacity)}
}

func (s *subscriber) channel() <-chan Signal {
	return s.ch
}

// deliver enqueues without blocking; on a full buffer the oldest signal is
// evicted to make room. Returns true when an eviction happened.
func (s *subscriber) deliver(sig Signal) bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- sig:
		return false
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- sig:
	default:
	}
	return true
}

func (s *subscriber) close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
