package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/apetrei/audioscope/internal/observe"
)

// consumer is one registered dashboard connection with its bounded outbound
// queue. The queue decouples broadcast from the consumer's network speed.
type consumer struct {
	id    uint64
	conn  Conn
	queue chan []byte

	done chan struct{}
	once sync.Once
}

// stop marks the consumer as finished. Idempotent.
func (c *consumer) stop() {
	c.once.Do(func() { close(c.done) })
}

// producerSlot tracks the current authoritative producer connection together
// with the cancel func of its session context.
type producerSlot struct {
	conn   Conn
	cancel context.CancelFunc
}

// Registry tracks the single authoritative producer and all connected
// consumers, and fans processed updates out to every consumer queue.
// Enqueueing never blocks: when a queue is full the oldest entry is dropped
// to make room, so one stalled dashboard can never delay the others.
type Registry struct {
	queueSize int
	metrics   *observe.Metrics
	log       *slog.Logger

	mu        sync.RWMutex
	consumers map[uint64]*consumer
	nextID    uint64

	prodMu   sync.Mutex
	producer *producerSlot
}

// NewRegistry creates a Registry whose consumer queues hold up to queueSize
// pending updates each.
func NewRegistry(queueSize int, metrics *observe.Metrics, log *slog.Logger) *Registry {
	if queueSize <= 0 {
		queueSize = 32
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		queueSize: queueSize,
		metrics:   metrics,
		log:       log,
		consumers: make(map[uint64]*consumer),
	}
}

// AcquireProducer installs conn as the authoritative producer. Any previous
// producer is superseded: its session context is cancelled and its
// connection closed. Returns true when a previous producer was displaced.
func (r *Registry) AcquireProducer(conn Conn, cancel context.CancelFunc) bool {
	r.prodMu.Lock()
	prev := r.producer
	r.producer = &producerSlot{conn: conn, cancel: cancel}
	r.prodMu.Unlock()

	if prev == nil {
		return false
	}

	r.log.Info("producer superseded",
		"old", prev.conn.RemoteAddr(), "new", conn.RemoteAddr())
	prev.cancel()
	_ = prev.conn.Close("superseded by a newer producer connection")
	return true
}

// ReleaseProducer clears the producer slot, but only if conn is still the
// current producer. A session that was superseded must not evict its
// successor on the way out.
func (r *Registry) ReleaseProducer(conn Conn) bool {
	r.prodMu.Lock()
	defer r.prodMu.Unlock()

	if r.producer == nil || r.producer.conn != conn {
		return false
	}
	r.producer = nil
	return true
}

// HasProducer reports whether a producer currently holds the slot.
func (r *Registry) HasProducer() bool {
	r.prodMu.Lock()
	defer r.prodMu.Unlock()
	return r.producer != nil
}

// Register adds a consumer connection and returns its handle.
func (r *Registry) Register(conn Conn) *consumer {
	c := &consumer{
		conn:  conn,
		queue: make(chan []byte, r.queueSize),
		done:  make(chan struct{}),
	}

	r.mu.Lock()
	r.nextID++
	c.id = r.nextID
	r.consumers[c.id] = c
	n := len(r.consumers)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveConsumers.Add(context.Background(), 1)
	}
	r.log.Info("consumer connected", "addr", conn.RemoteAddr(), "consumers", n)
	return c
}

// Unregister removes a consumer. Safe to call for an already-removed handle.
func (r *Registry) Unregister(c *consumer) {
	r.mu.Lock()
	_, present := r.consumers[c.id]
	delete(r.consumers, c.id)
	n := len(r.consumers)
	r.mu.Unlock()

	if !present {
		return
	}
	c.stop()
	if r.metrics != nil {
		r.metrics.ActiveConsumers.Add(context.Background(), -1)
	}
	r.log.Info("consumer disconnected", "addr", c.conn.RemoteAddr(), "consumers", n)
}

// ConsumerCount returns the number of registered consumers.
func (r *Registry) ConsumerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.consumers)
}

// Broadcast enqueues payload on every consumer queue. Full queues shed their
// oldest entry first, so the call completes without waiting on any consumer.
func (r *Registry) Broadcast(ctx context.Context, payload []byte) {
	start := time.Now()

	r.mu.RLock()
	targets := make([]*consumer, 0, len(r.consumers))
	for _, c := range r.consumers {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	var dropped int64
	for _, c := range targets {
		if !enqueue(c.queue, payload) {
			dropped++
		}
	}

	if r.metrics != nil {
		r.metrics.BroadcastDuration.Record(ctx, time.Since(start).Seconds())
		if dropped > 0 {
			r.metrics.DroppedUpdates.Add(ctx, dropped)
		}
	}
}

// enqueue appends payload to q, evicting the oldest entry when q is full.
// Returns false when an eviction happened.
func enqueue(q chan []byte, payload []byte) bool {
	select {
	case q <- payload:
		return true
	default:
	}

	// Queue full: make room by dropping the oldest pending update, then
	// retry once. The second send can still lose a race with the consumer
	// goroutine, in which case the slot freed up on its own.
	select {
	case <-q:
	default:
	}
	select {
	case q <- payload:
	default:
	}
	return false
}

// CloseAll shuts down every consumer connection, used on server shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	targets := make([]*consumer, 0, len(r.consumers))
	for _, c := range r.consumers {
		targets = append(targets, c)
	}
	r.consumers = make(map[uint64]*consumer)
	r.mu.Unlock()

	for _, c := range targets {
		c.stop()
		_ = c.conn.Close(reason)
		if r.metrics != nil {
			r.metrics.ActiveConsumers.Add(context.Background(), -1)
		}
	}
}
