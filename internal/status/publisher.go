package status

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/svirmi/webdesk/internal/logger"
)

// Listener receives every snapshot published after it subscribed.
type Listener func(Snapshot)

type subscriber struct {
	id    string
	fn    Listener
	queue chan Snapshot
	done  chan struct{}
	once  sync.Once

	// mu is held across the done check and the call to fn, so stop
	// returns only once fn is idle.
	mu sync.Mutex
}

// Publisher owns the current snapshot and notifies listeners when it
// changes. Each listener gets its own queue and delivery goroutine, so a
// slow listener never delays the others and always sees snapshots in
// publish order.
type Publisher struct {
	mu          sync.RWMutex
	current     Snapshot
	subscribers map[string]*subscriber
	bufferSize  int
	closed      bool
	metricsMu   sync.RWMutex
	metrics     Metrics
	logger      zerolog.Logger
}

// Metrics counts publisher activity. Dropped is the number of snapshots
// discarded from full listener queues.
type Metrics struct {
	SubscriberCount int       `json:"subscriber_count"`
	Published       int64     `json:"published"`
	Delivered       int64     `json:"delivered"`
	Dropped         int64     `json:"dropped"`
	LastPublishTime time.Time `json:"last_publish_time"`
}

func NewPublisher(bufferSize int, initial Snapshot) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Publisher{
		current:     initial.Normalize(),
		subscribers: make(map[string]*subscriber),
		bufferSize:  bufferSize,
		logger:      logger.GetLogger("status_publisher"),
	}
}

// Status returns the current snapshot.
func (p *Publisher) Status() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe registers fn and returns its unsubscribe function. Unsubscribe
// may be called any number of times. It waits for a delivery already in
// progress, and once it returns fn is never called again. fn must not call
// its own unsubscribe.
func (p *Publisher) Subscribe(fn Listener) (unsubscribe func()) {
	sub := &subscriber{
		id:    uuid.NewString(),
		fn:    fn,
		queue: make(chan Snapshot, p.bufferSize),
		done:  make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sub.stop()
		return func() {}
	}
	p.subscribers[sub.id] = sub
	count := len(p.subscribers)
	p.mu.Unlock()

	p.metricsMu.Lock()
	p.metrics.SubscriberCount = count
	p.metricsMu.Unlock()

	go p.deliverLoop(sub)

	p.logger.Debug().Str("subscriber_id", sub.id).Int("subscribers", count).Msg("Listener subscribed")

	return func() { p.unsubscribe(sub) }
}

func (p *Publisher) unsubscribe(sub *subscriber) {
	sub.stop()

	p.mu.Lock()
	_, exists := p.subscribers[sub.id]
	delete(p.subscribers, sub.id)
	count := len(p.subscribers)
	p.mu.Unlock()

	if !exists {
		return
	}

	p.metricsMu.Lock()
	p.metrics.SubscriberCount = count
	p.metricsMu.Unlock()

	p.logger.Debug().Str("subscriber_id", sub.id).Int("subscribers", count).Msg("Listener unsubscribed")
}

// Publish replaces the current snapshot and queues it for every listener.
func (p *Publisher) Publish(s Snapshot) {
	s = s.Normalize()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.current = s

	var dropped int64
	for _, sub := range p.subscribers {
		if !sub.enqueue(s) {
			dropped++
		}
	}

	p.metricsMu.Lock()
	p.metrics.Published++
	p.metrics.Dropped += dropped
	p.metrics.LastPublishTime = time.Now()
	p.metricsMu.Unlock()
}

// Close unsubscribes every listener. Later publishes are ignored.
func (p *Publisher) Close() {
	p.mu.Lock()
	p.closed = true
	subs := make([]*subscriber, 0, len(p.subscribers))
	for id, sub := range p.subscribers {
		subs = append(subs, sub)
		delete(p.subscribers, id)
	}
	p.mu.Unlock()

	// Listeners may still be reading Status, so stop them outside p.mu.
	for _, sub := range subs {
		sub.stop()
	}

	p.metricsMu.Lock()
	p.metrics.SubscriberCount = 0
	p.metricsMu.Unlock()
}

// SubscriberCount returns the number of registered listeners.
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

func (p *Publisher) GetMetrics() Metrics {
	p.metricsMu.RLock()
	defer p.metricsMu.RUnlock()
	return p.metrics
}

func (p *Publisher) deliverLoop(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case s := <-sub.queue:
			if !sub.deliver(s) {
				return
			}

			p.metricsMu.Lock()
			p.metrics.Delivered++
			p.metricsMu.Unlock()
		}
	}
}

// deliver calls fn unless the subscriber has been stopped.
func (sub *subscriber) deliver(s Snapshot) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	select {
	case <-sub.done:
		return false
	default:
	}
	sub.fn(s)
	return true
}

// enqueue never blocks. When the queue is full the oldest pending snapshot
// is discarded. It reports false if a snapshot was lost.
func (sub *subscriber) enqueue(s Snapshot) bool {
	select {
	case sub.queue <- s:
		return true
	default:
	}

	select {
	case <-sub.queue:
	default:
	}

	select {
	case sub.queue <- s:
		return false
	default:
		return false
	}
}

func (sub *subscriber) stop() {
	sub.once.Do(func() {
		close(sub.done)
		// Wait out a delivery that passed the done check.
		sub.mu.Lock()
		sub.mu.Unlock()
	})
}
