package event

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Bus distributes engine events to exporters.
//
// Design constraints:
//   - Non-blocking publish (drops on overflow) — publishers sit on the
//     event-delivery path and must never wait on a slow exporter
//   - Bounded per-subscriber buffers
//   - Drop counters tracked per subscriber
//   - Safe for concurrent publishers (one per device source)
type Bus struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[string]chan *Event
	closed      atomic.Bool

	published atomic.Uint64
	dropMu    sync.RWMutex
	dropped   map[string]*atomic.Uint64
}

// NewBus creates an event bus with the given per-subscriber buffer size.
func NewBus(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:      logger,
		bufferSize:  bufferSize,
		subscribers: make(map[string]chan *Event),
		dropped:     make(map[string]*atomic.Uint64),
	}
}

// Subscribe registers a named subscriber and returns its channel.
// The channel is closed when the bus is closed.
func (b *Bus) Subscribe(name string) <-chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, b.bufferSize)
	b.subscribers[name] = ch

	b.dropMu.Lock()
	b.dropped[name] = &atomic.Uint64{}
	b.dropMu.Unlock()

	b.logger.Info("event bus subscriber registered",
		zap.String("name", name),
		zap.Int("buffer_size", b.bufferSize))
	return ch
}

// Publish sends an event to all subscribers. Non-blocking: a subscriber
// whose buffer is full misses the event and its drop counter increments.
func (b *Bus) Publish(e *Event) {
	if b.closed.Load() {
		return
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for name, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			b.dropMu.RLock()
			if counter, ok := b.dropped[name]; ok {
				counter.Add(1)
			}
			b.dropMu.RUnlock()
		}
	}
}

// Close stops the bus and closes all subscriber channels. Events already
// buffered can still be drained by subscribers.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for name, ch := range b.subscribers {
		close(ch)
		b.logger.Debug("event bus subscriber closed", zap.String("name", name))
	}
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Published           uint64
	DroppedBySubscriber map[string]uint64
	QueueDepth          map[string]int
}

// Stats returns a snapshot of bus counters and queue depths.
func (b *Bus) Stats() Stats {
	s := Stats{
		Published:           b.published.Load(),
		DroppedBySubscriber: make(map[string]uint64),
		QueueDepth:          make(map[string]int),
	}

	b.mu.RLock()
	for name, ch := range b.subscribers {
		s.QueueDepth[name] = len(ch)
	}
	b.mu.RUnlock()

	b.dropMu.RLock()
	for name, counter := range b.dropped {
		s.DroppedBySubscriber[name] = counter.Load()
	}
	b.dropMu.RUnlock()
	return s
}

// Dropped returns the total dropped events across all subscribers.
func (b *Bus) Dropped() uint64 {
	var total uint64
	b.dropMu.RLock()
	for _, counter := range b.dropped {
		total += counter.Load()
	}
	b.dropMu.RUnlock()
	return total
}

// Published returns the total number of published events.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}
