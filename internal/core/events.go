package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teracrafts/flagkit-go/config"
	"github.com/teracrafts/flagkit-go/errors"
	"github.com/teracrafts/flagkit-go/types"
)

// Transport is the slice of the HTTP client the core components need.
type Transport interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Post(ctx context.Context, path string, body any) ([]byte, error)
}

// Event is an analytics event queued for delivery.
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Timestamp     int64          `json:"timestamp"`
	SessionID     string         `json:"sessionId"`
	EnvironmentID string         `json:"environmentId,omitempty"`
	SDKVersion    string         `json:"sdkVersion,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// EventPersister is an optional write-ahead store for queued events, used
// to survive process restarts.
type EventPersister interface {
	Append(events []Event) error
	Drain() ([]Event, error)
	Clear() error
}

// EventQueueConfig configures the event queue.
type EventQueueConfig struct {
	MaxQueueSize  int
	BatchSize     int
	FlushInterval time.Duration
	SDKVersion    string
	Persister     EventPersister
}

// DefaultEventQueueConfig returns the default event queue configuration.
func DefaultEventQueueConfig() *EventQueueConfig {
	return &EventQueueConfig{
		MaxQueueSize:  1000,
		BatchSize:     10,
		FlushInterval: 30 * time.Second,
		SDKVersion:    config.SDKVersion,
	}
}

// EventQueue buffers analytics events and ships them in batches. The queue
// is bounded: when full, new events are dropped and counted. A flush fires
// when the queue reaches the batch size or on the periodic timer.
type EventQueue struct {
	cfg       *EventQueueConfig
	transport Transport
	logger    types.Logger
	sessionID string

	mu      sync.Mutex
	queue   []Event
	envID   string
	dropped int64
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewEventQueue creates an event queue. Previously persisted events are
// reloaded into the queue.
func NewEventQueue(cfg *EventQueueConfig, transport Transport, logger types.Logger) *EventQueue {
	if cfg == nil {
		cfg = DefaultEventQueueConfig()
	}

	if cfg.SDKVersion == "" {
		cfg.SDKVersion = config.SDKVersion
	}

	q := &EventQueue{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		sessionID: uuid.NewString(),
	}

	if cfg.Persister != nil {
		if restored, err := cfg.Persister.Drain(); err == nil && len(restored) > 0 {
			if len(restored) > cfg.MaxQueueSize {
				restored = restored[len(restored)-cfg.MaxQueueSize:]
			}
			q.queue = restored
			if logger != nil {
				logger.Debug("Restored persisted events", "count", len(restored))
			}
		}
	}

	return q
}

// Start launches the periodic flush loop.
func (q *EventQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})

	go q.flushLoop(q.stopCh, q.doneCh)
}

// SessionID returns the session identifier stamped onto every event.
func (q *EventQueue) SessionID() string {
	return q.sessionID
}

// SetEnvironmentID records the environment identifier the server reported
// during initialization; subsequent events carry it.
func (q *EventQueue) SetEnvironmentID(envID string) {
	q.mu.Lock()
	q.envID = envID
	q.mu.Unlock()
}

// Track queues an event. Returns an error when the queue is full and the
// event was dropped.
func (q *EventQueue) Track(eventType string, properties map[string]any) error {
	return q.TrackWithContext(eventType, properties, nil)
}

// TrackWithContext queues an event with evaluation context attached.
// Private attributes are stripped from the context before it is stored.
func (q *EventQueue) TrackWithContext(eventType string, properties map[string]any, evalCtx *types.EvaluationContext) error {
	event := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UnixMilli(),
		SessionID:  q.sessionID,
		SDKVersion: q.cfg.SDKVersion,
		Properties: properties,
	}

	if evalCtx != nil {
		event.Context = evalCtx.StripPrivateAttributes().ToMap()
	}

	q.mu.Lock()
	if len(q.queue) >= q.cfg.MaxQueueSize {
		q.dropped++
		dropped := q.dropped
		q.mu.Unlock()

		if q.logger != nil {
			q.logger.Warn("Event queue full, dropping event",
				"type", eventType,
				"dropped_total", dropped,
			)
		}
		return errors.NewError(errors.ErrEventQueueFull, "event queue is full")
	}

	event.EnvironmentID = q.envID
	q.queue = append(q.queue, event)
	if q.cfg.Persister != nil {
		if err := q.cfg.Persister.Append([]Event{event}); err != nil && q.logger != nil {
			q.logger.Warn("Failed to persist event", "error", err.Error())
		}
	}
	shouldFlush := q.running && len(q.queue) >= q.cfg.BatchSize
	q.mu.Unlock()

	if shouldFlush {
		go q.Flush(context.Background())
	}

	return nil
}

// Flush sends every queued event. The batch is detached under the lock
// before sending so trackers are never blocked on network IO. On failure
// the batch is dropped; event delivery is best-effort.
func (q *EventQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if len(q.queue) == 0 {
		q.mu.Unlock()
		return nil
	}
	batch := q.queue
	q.queue = nil
	q.mu.Unlock()

	if q.transport == nil {
		return nil
	}

	_, err := q.transport.Post(ctx, "/sdk/events/batch", map[string]any{
		"events": batch,
	})
	if err != nil {
		if q.logger != nil {
			q.logger.Warn("Failed to send event batch, dropping",
				"count", len(batch),
				"error", err.Error(),
			)
		}
		return errors.NewErrorWithCause(errors.ErrEventSendFailed, "failed to send event batch", err)
	}

	if q.cfg.Persister != nil {
		// Rewrite the store to exactly the still-queued events so copies of
		// the sent batch go away without losing events tracked since the
		// batch was detached.
		q.mu.Lock()
		remaining := append([]Event(nil), q.queue...)
		if err := q.cfg.Persister.Clear(); err != nil && q.logger != nil {
			q.logger.Warn("Failed to clear persisted events", "error", err.Error())
		}
		if len(remaining) > 0 {
			if err := q.cfg.Persister.Append(remaining); err != nil && q.logger != nil {
				q.logger.Warn("Failed to persist queued events", "error", err.Error())
			}
		}
		q.mu.Unlock()
	}

	if q.logger != nil {
		q.logger.Debug("Sent event batch", "count", len(batch))
	}
	return nil
}

// Size returns the number of queued events.
func (q *EventQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// DroppedCount returns how many events were dropped because the queue was
// full.
func (q *EventQueue) DroppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Stop halts the flush loop and performs a final flush bounded by ctx.
func (q *EventQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return q.Flush(ctx)
	}
	q.running = false
	close(q.stopCh)
	done := q.doneCh
	q.mu.Unlock()

	<-done
	return q.Flush(ctx)
}

func (q *EventQueue) flushLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := q.Flush(context.Background()); err != nil && q.logger != nil {
				q.logger.Debug("Periodic event flush failed", "error", err.Error())
			}
		}
	}
}
