package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Event names produced by the engine.
const (
	ThreatDetected         = "security:threat-detected"
	AlertThresholdExceeded = "security:alert-threshold-exceeded"
	AlertCriticalViolation = "security:alert-critical-violation"
	AlertAnomalyDetected   = "security:alert-anomaly-detected"
	CSPViolationReceived   = "csp:violation"
	NoncesRotated          = "csp:noncesRotated"
	ConfigUpdated          = "config:updated"
)

// Event is a named payload published on the bus.
type Event struct {
	Name string
	Data map[string]interface{}
}

// Handler consumes a published event. Handlers run on bus workers and
// must not block indefinitely.
type Handler func(ctx context.Context, evt Event)

// Bus is the event surface the engine publishes to. Hosts may supply
// their own implementation bridging to an external bus.
type Bus interface {
	Publish(ctx context.Context, evt Event)
	Subscribe(name string, handler Handler)
	Shutdown()
}

type memoryBus struct {
	logger   *logrus.Logger
	mu       sync.RWMutex
	handlers map[string][]Handler
	taskChan chan func()
	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	closed   atomic.Bool
}

// NewMemoryBus returns an in-process asynchronous bus backed by n worker
// goroutines. Publish never blocks the caller; when the queue is
// saturated the event is dropped with a warning.
func NewMemoryBus(logger *logrus.Logger, workers int) Bus {
	if workers <= 0 {
		workers = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	b := &memoryBus{
		logger:   logger,
		handlers: make(map[string][]Handler),
		taskChan: make(chan func(), 256),
		ctx:      gctx,
		cancel:   cancel,
		group:    group,
	}
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			for {
				select {
				case task, ok := <-b.taskChan:
					if !ok {
						return nil
					}
					task()
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	return b
}

func (b *memoryBus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Publish holds the read lock across the sends so Shutdown cannot close
// the task channel under an in-flight caller.
func (b *memoryBus) Publish(ctx context.Context, evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed.Load() {
		return
	}
	for _, handler := range b.handlers[evt.Name] {
		h := handler
		select {
		case b.taskChan <- func() { h(ctx, evt) }:
		default:
			b.logger.WithField("event", evt.Name).Warn("event queue full, dropping event")
		}
	}
}

func (b *memoryBus) Shutdown() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	// Publishers that passed the closed check hold the read lock; taking
	// the write lock orders the close after their sends.
	b.mu.Lock()
	close(b.taskChan)
	b.mu.Unlock()

	if err := b.group.Wait(); err != nil {
		b.logger.WithError(err).Error("event bus worker failed")
	}
	b.cancel()
}
