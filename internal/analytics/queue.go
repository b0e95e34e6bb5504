// Package analytics buffers product events in memory and forwards them in
// batches to a Sink. The buffer is bounded; when it is full the queue either
// drops the oldest pending event or blocks the caller, depending on Policy.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	EventTaskCreated            = "task_created"
	EventTaskUpdated            = "task_updated"
	EventTaskDeleted            = "task_deleted"
	EventNotificationDispatched = "notification_dispatched"
	EventSubscriptionAdded      = "push_subscription_added"
	EventSubscriptionRemoved    = "push_subscription_removed"
	EventAdvisorQuestion        = "advisor_question"
)

var (
	ErrQueueFull   = errors.New("analytics queue full")
	ErrQueueClosed = errors.New("analytics queue closed")
)

type Policy string

const (
	PolicyDropOldest Policy = "drop_oldest"
	PolicyBlock      Policy = "block"
)

type Event struct {
	Name       string                 `json:"name"`
	UserID     string                 `json:"user_id,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

type Sink interface {
	Write(ctx context.Context, events []Event) error
}

type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Policy        Policy
}

func DefaultConfig() Config {
	return Config{
		BufferSize:    500,
		BatchSize:     50,
		FlushInterval: 10 * time.Second,
		Policy:        PolicyDropOldest,
	}
}

type Stats struct {
	Pending int   `json:"pending"`
	Tracked int64 `json:"tracked"`
	Dropped int64 `json:"dropped"`
	Flushed int64 `json:"flushed"`
	Failed  int64 `json:"failed"`
}

type Queue struct {
	config Config
	sink   Sink
	log    logrus.FieldLogger

	events  chan Event
	closed  chan struct{}
	once    sync.Once
	flushMu sync.Mutex
	wg      sync.WaitGroup

	tracked atomic.Int64
	dropped atomic.Int64
	flushed atomic.Int64
	failed  atomic.Int64
}

func NewQueue(config Config, sink Sink, log logrus.FieldLogger) *Queue {
	defaults := DefaultConfig()
	if config.BufferSize < 1 {
		config.BufferSize = defaults.BufferSize
	}
	if config.BatchSize < 1 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if config.Policy != PolicyBlock {
		config.Policy = PolicyDropOldest
	}

	return &Queue{
		config: config,
		sink:   sink,
		log:    log,
		events: make(chan Event, config.BufferSize),
		closed: make(chan struct{}),
	}
}

// Track buffers an event. Under PolicyBlock it waits for room until ctx is
// done and then returns ErrQueueFull.
func (q *Queue) Track(ctx context.Context, event Event) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if q.config.Policy == PolicyBlock {
		select {
		case q.events <- event:
			q.tracked.Add(1)
			return nil
		case <-q.closed:
			return ErrQueueClosed
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrQueueFull, ctx.Err())
		}
	}

	for {
		select {
		case q.events <- event:
			q.tracked.Add(1)
			return nil
		default:
		}
		select {
		case <-q.events:
			q.dropped.Add(1)
		default:
		}
	}
}

// Flush drains every pending event to the sink in batches. A failed batch
// is counted and discarded; the first error is returned.
func (q *Queue) Flush(ctx context.Context) error {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	var firstErr error
	for {
		batch := q.take(q.config.BatchSize)
		if len(batch) == 0 {
			return firstErr
		}

		if err := q.sink.Write(ctx, batch); err != nil {
			q.failed.Add(int64(len(batch)))
			q.log.WithError(err).WithField("events", len(batch)).Warn("analytics flush failed")
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				return firstErr
			}
			continue
		}
		q.flushed.Add(int64(len(batch)))
	}
}

func (q *Queue) take(max int) []Event {
	var batch []Event
	for len(batch) < max {
		select {
		case event := <-q.events:
			batch = append(batch, event)
		default:
			return batch
		}
	}
	return batch
}

// Start flushes periodically until Stop is called.
func (q *Queue) Start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		ticker := time.NewTicker(q.config.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), q.config.FlushInterval)
				_ = q.Flush(ctx)
				cancel()
			case <-q.closed:
				return
			}
		}
	}()
}

// Stop rejects further events, stops the flush loop and flushes what is left.
func (q *Queue) Stop(ctx context.Context) error {
	q.once.Do(func() { close(q.closed) })
	q.wg.Wait()
	return q.Flush(ctx)
}

func (q *Queue) Stats() Stats {
	return Stats{
		Pending: len(q.events),
		Tracked: q.tracked.Load(),
		Dropped: q.dropped.Load(),
		Flushed: q.flushed.Load(),
		Failed:  q.failed.Load(),
	}
}
