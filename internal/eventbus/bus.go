// Package eventbus implements the daemon's internal pub-sub: Host
// Association state transitions and anchor-update notifications are
// published here and fanned out to subscribers, one of which is the
// admin event stream that forwards them to connected CLI watchers.
package eventbus

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/hiplane/hipd/internal/hiplog"
)

// EventBus is the publish/subscribe interface the daemon's core loop
// and command layer depend on.
type EventBus interface {
	Publish(event *Event) error
	Subscribe(topic string, handler Handler) error
	Close() error
	GetStats() *Stats
}

// Stats reports the bus's throughput and backlog.
type Stats struct {
	PublishedCount int64
	ProcessedCount int64
	PartitionCount int
	QueuedCount    []int
}

// InMemoryEventBus is an in-process event bus: events are routed to
// one of a fixed set of partitions by hashing their Key (normally the
// peer HIT), so that all events concerning the same association are
// delivered in order, while unrelated associations process
// concurrently.
type InMemoryEventBus struct {
	partitions     []*partition
	partitionCount int
	queueSize      int
	subscribers    map[string]Handler
	mu             sync.RWMutex
	closed         int32

	publishedCount int64
	processedCount int64
}

// NewInMemoryEventBus creates a bus with partitionCount independent
// queues, each buffering up to queueSize pending events.
func NewInMemoryEventBus(partitionCount, queueSize int) EventBus {
	bus := &InMemoryEventBus{
		partitionCount: partitionCount,
		queueSize:      queueSize,
		subscribers:    make(map[string]Handler),
		partitions:     make([]*partition, partitionCount),
	}

	for i := 0; i < partitionCount; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		bus.partitions[i] = &partition{
			id:     i,
			queue:  make(chan *Event, queueSize),
			ctx:    ctx,
			cancel: cancel,
		}
		go bus.runPartition(bus.partitions[i])
	}

	return bus
}

// Publish routes event to the partition its Key hashes to.
func (b *InMemoryEventBus) Publish(event *Event) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return fmt.Errorf("event bus is closed")
	}

	partitionID := b.getPartitionID(event.Key)
	p := b.partitions[partitionID]

	select {
	case p.queue <- event:
		atomic.AddInt64(&b.publishedCount, 1)
		return nil
	default:
		return fmt.Errorf("partition %d queue is full", partitionID)
	}
}

// Subscribe registers handler for topic, replacing any prior handler.
func (b *InMemoryEventBus) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if atomic.LoadInt32(&b.closed) == 1 {
		return fmt.Errorf("event bus is closed")
	}

	b.subscribers[topic] = handler

	for _, p := range b.partitions {
		p.handler = b.getHandler
	}

	hiplog.GetLogger().Infof("subscribed to topic: %s", topic)
	return nil
}

// Close stops every partition's consumer goroutine.
func (b *InMemoryEventBus) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}

	for _, p := range b.partitions {
		p.cancel()
		close(p.queue)
	}

	hiplog.GetLogger().Info("event bus closed")
	return nil
}

// GetStats reports current counters and per-partition backlog.
func (b *InMemoryEventBus) GetStats() *Stats {
	stats := &Stats{
		PublishedCount: atomic.LoadInt64(&b.publishedCount),
		ProcessedCount: atomic.LoadInt64(&b.processedCount),
		PartitionCount: b.partitionCount,
		QueuedCount:    make([]int, b.partitionCount),
	}

	for i, p := range b.partitions {
		stats.QueuedCount[i] = len(p.queue)
	}

	return stats
}

func (b *InMemoryEventBus) getPartitionID(key string) int {
	hasher := fnv.New32a()
	hasher.Write([]byte(key))
	return int(hasher.Sum32()) % b.partitionCount
}

func (b *InMemoryEventBus) getHandler(event *Event) error {
	b.mu.RLock()
	handler, exists := b.subscribers[event.Topic]
	b.mu.RUnlock()

	if !exists {
		hiplog.GetLogger().Debugf("no handler for topic: %s", event.Topic)
		return nil
	}

	return handler(event)
}

func (b *InMemoryEventBus) runPartition(p *partition) {
	logger := hiplog.GetLogger()
	logger.Infof("partition %d started", p.id)
	defer logger.Infof("partition %d stopped", p.id)

	for {
		select {
		case <-p.ctx.Done():
			return
		case event, ok := <-p.queue:
			if !ok {
				return
			}
			if p.handler != nil {
				if err := p.handler(event); err != nil {
					logger.Errorf("failed to handle event in partition %d: %v", p.id, err)
				} else {
					atomic.AddInt64(&b.processedCount, 1)
				}
			}
		}
	}
}
