package core

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teracrafts/flagkit-go/errors"
	"github.com/teracrafts/flagkit-go/types"
)

// fakeTransport records posted batches and can be set to fail.
type fakeTransport struct {
	mu    sync.Mutex
	posts []map[string]any
	fail  bool
}

func (f *fakeTransport) Get(ctx context.Context, path string) ([]byte, error) {
	return []byte(`{}`), nil
}

func (f *fakeTransport) Post(ctx context.Context, path string, body any) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return nil, errors.NewError(errors.ErrNetworkError, "transport down")
	}

	raw, _ := json.Marshal(body)
	var decoded map[string]any
	json.Unmarshal(raw, &decoded)
	f.posts = append(f.posts, decoded)
	return []byte(`{"success":true}`), nil
}

func (f *fakeTransport) batches() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.posts...)
}

func testQueueConfig() *EventQueueConfig {
	return &EventQueueConfig{
		MaxQueueSize:  5,
		BatchSize:     3,
		FlushInterval: time.Hour,
	}
}

func TestEventQueueTrackAndFlush(t *testing.T) {
	transport := &fakeTransport{}
	q := NewEventQueue(testQueueConfig(), transport, nil)

	require.NoError(t, q.Track("page_view", map[string]any{"page": "/home"}))
	require.NoError(t, q.Track("click", nil))
	assert.Equal(t, 2, q.Size())

	require.NoError(t, q.Flush(context.Background()))
	assert.Equal(t, 0, q.Size())

	batches := transport.batches()
	require.Len(t, batches, 1)
	events := batches[0]["events"].([]any)
	require.Len(t, events, 2)

	first := events[0].(map[string]any)
	assert.Equal(t, "page_view", first["type"])
	assert.NotEmpty(t, first["id"])
	assert.Equal(t, q.SessionID(), first["sessionId"])
}

func TestEventQueueBounded(t *testing.T) {
	transport := &fakeTransport{}
	q := NewEventQueue(testQueueConfig(), transport, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Track("event", nil))
	}

	err := q.Track("overflow", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrEventQueueFull, errors.CodeOf(err))
	assert.Equal(t, 5, q.Size())
	assert.Equal(t, int64(1), q.DroppedCount())
}

func TestEventQueueStripsPrivateAttributes(t *testing.T) {
	transport := &fakeTransport{}
	q := NewEventQueue(testQueueConfig(), transport, nil)

	evalCtx := types.NewContext("user-1").
		WithEmail("secret@example.com").
		WithPrivateAttributes("email")

	require.NoError(t, q.TrackWithContext("purchase", nil, evalCtx))
	require.NoError(t, q.Flush(context.Background()))

	batches := transport.batches()
	require.Len(t, batches, 1)
	event := batches[0]["events"].([]any)[0].(map[string]any)
	eventCtx := event["context"].(map[string]any)

	assert.Equal(t, "user-1", eventCtx["userId"])
	_, hasEmail := eventCtx["email"]
	assert.False(t, hasEmail)
}

func TestEventQueueFlushEmptyIsNoop(t *testing.T) {
	transport := &fakeTransport{}
	q := NewEventQueue(testQueueConfig(), transport, nil)

	require.NoError(t, q.Flush(context.Background()))
	assert.Empty(t, transport.batches())
}

func TestEventQueueDropsBatchOnFailure(t *testing.T) {
	transport := &fakeTransport{fail: true}
	q := NewEventQueue(testQueueConfig(), transport, nil)

	require.NoError(t, q.Track("event", nil))

	err := q.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrEventSendFailed, errors.CodeOf(err))

	// Delivery is best-effort: the failed batch is gone.
	assert.Equal(t, 0, q.Size())
}

func TestEventQueueBatchSizeTriggersFlush(t *testing.T) {
	transport := &fakeTransport{}
	q := NewEventQueue(testQueueConfig(), transport, nil)
	q.Start()
	defer q.Stop(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Track("event", nil))
	}

	assert.Eventually(t, func() bool {
		return len(transport.batches()) == 1 && q.Size() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestEventQueueDefaults(t *testing.T) {
	cfg := DefaultEventQueueConfig()
	assert.Equal(t, 1000, cfg.MaxQueueSize)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.FlushInterval)
	assert.NotEmpty(t, cfg.SDKVersion)
}

func TestEventQueueStampsEnvironmentAndVersion(t *testing.T) {
	transport := &fakeTransport{}
	cfg := testQueueConfig()
	cfg.SDKVersion = "1.2.3"
	q := NewEventQueue(cfg, transport, nil)
	q.SetEnvironmentID("env-42")

	require.NoError(t, q.Track("page_view", nil))
	require.NoError(t, q.Flush(context.Background()))

	batches := transport.batches()
	require.Len(t, batches, 1)
	event := batches[0]["events"].([]any)[0].(map[string]any)
	assert.Equal(t, "env-42", event["environmentId"])
	assert.Equal(t, "1.2.3", event["sdkVersion"])
}

// memPersister is an in-memory EventPersister.
type memPersister struct {
	mu     sync.Mutex
	events []Event
}

func (p *memPersister) Append(events []Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *memPersister) Drain() ([]Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	drained := p.events
	p.events = nil
	return drained, nil
}

func (p *memPersister) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
	return nil
}

func (p *memPersister) stored() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// blockingTransport parks Post until released so events can be tracked
// while a flush is in flight.
type blockingTransport struct {
	fakeTransport
	entered chan struct{}
	release chan struct{}
}

func (b *blockingTransport) Post(ctx context.Context, path string, body any) ([]byte, error) {
	close(b.entered)
	<-b.release
	return b.fakeTransport.Post(ctx, path, body)
}

func TestEventQueueFlushKeepsLaterPersistedEvents(t *testing.T) {
	persister := &memPersister{}
	transport := &blockingTransport{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	cfg := testQueueConfig()
	cfg.Persister = persister
	q := NewEventQueue(cfg, transport, nil)

	require.NoError(t, q.Track("before", nil))

	flushDone := make(chan error, 1)
	go func() { flushDone <- q.Flush(context.Background()) }()

	// Track an event while the batch is in flight, then let the flush
	// finish.
	<-transport.entered
	require.NoError(t, q.Track("during", nil))
	close(transport.release)
	require.NoError(t, <-flushDone)

	// The sent event is gone from the store; the one tracked mid-flush
	// survives.
	stored := persister.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, "during", stored[0].Type)
	assert.Equal(t, 1, q.Size())
}

func TestEventQueueStopFlushesRemainder(t *testing.T) {
	transport := &fakeTransport{}
	q := NewEventQueue(testQueueConfig(), transport, nil)
	q.Start()

	require.NoError(t, q.Track("event", nil))
	require.NoError(t, q.Stop(context.Background()))

	batches := transport.batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0]["events"].([]any), 1)
}
