package core

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teracrafts/flagkit-go/config"
	"github.com/teracrafts/flagkit-go/errors"
	"github.com/teracrafts/flagkit-go/types"
)

// StreamState is the connection state of the streaming manager.
type StreamState int32

const (
	StreamDisconnected StreamState = iota
	StreamConnecting
	StreamConnected
	StreamReconnecting
	StreamFailed
)

func (s StreamState) String() string {
	switch s {
	case StreamDisconnected:
		return "DISCONNECTED"
	case StreamConnecting:
		return "CONNECTING"
	case StreamConnected:
		return "CONNECTED"
	case StreamReconnecting:
		return "RECONNECTING"
	case StreamFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// failedRetryDelay is how long the manager waits in FAILED state before a
// background reconnect attempt.
const failedRetryDelay = 5 * time.Minute

// maxStreamBackoff caps the reconnect delay.
const maxStreamBackoff = 30 * time.Second

// tokenRefreshFraction is the fraction of the token lifetime after which
// the connection is cycled to pick up a fresh token.
const tokenRefreshFraction = 0.8

// StreamHandlers receives stream lifecycle and flag change notifications.
type StreamHandlers struct {
	OnFlagUpdated       func(*types.FlagState)
	OnFlagDeleted       func(key string)
	OnFlagsReset        func([]*types.FlagState)
	OnConnected         func()
	OnFallbackToPolling func()
	OnConnectionLimit   func()
	OnError             func(error)
}

// streamEvent is one parsed server-sent event.
type streamEvent struct {
	name string
	data string
}

// connectOutcome is how one stream session ended.
type connectOutcome int

const (
	// outcomeStop ends the connection loop.
	outcomeStop connectOutcome = iota
	// outcomeRetry reconnects after the failure backoff.
	outcomeRetry
	// outcomeRefresh reconnects immediately to pick up a fresh token.
	outcomeRefresh
)

// StreamManager maintains the push connection: it exchanges the API key
// for a short-lived stream token, opens the SSE stream, applies flag
// change events, and reconnects with backoff. After exhausting reconnect
// attempts it reports fallback to polling and keeps retrying in the
// background.
type StreamManager struct {
	cfg       *config.StreamingConfig
	baseURL   string
	transport Transport
	handlers  StreamHandlers
	logger    types.Logger

	state        atomic.Int32
	loopActive   atomic.Bool
	lastActivity atomic.Int64 // unix millis

	httpClient *stdhttp.Client

	mu         sync.Mutex
	reconnects int
	resp       *stdhttp.Response
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewStreamManager creates a streaming manager.
func NewStreamManager(cfg *config.StreamingConfig, baseURL string, transport Transport, handlers StreamHandlers, logger types.Logger) *StreamManager {
	if cfg == nil {
		cfg = config.DefaultStreamingConfig()
	}

	return &StreamManager{
		cfg:       cfg,
		baseURL:   baseURL,
		transport: transport,
		handlers:  handlers,
		logger:    logger,
		// No client timeout: the stream stays open indefinitely. The
		// heartbeat watchdog detects dead connections instead.
		httpClient: &stdhttp.Client{},
	}
}

// State returns the current connection state.
func (sm *StreamManager) State() StreamState {
	return StreamState(sm.state.Load())
}

// Connect starts the streaming loop. Exactly one loop runs at a time; the
// call is a no-op while a loop is alive, including while the loop itself
// is between reconnect attempts or in its background FAILED retry.
func (sm *StreamManager) Connect() bool {
	if !sm.loopActive.CompareAndSwap(false, true) {
		return false
	}

	sm.state.Store(int32(StreamConnecting))

	sm.mu.Lock()
	sm.reconnects = 0
	sm.stopCh = make(chan struct{})
	sm.doneCh = make(chan struct{})
	stopCh, doneCh := sm.stopCh, sm.doneCh
	sm.mu.Unlock()

	go sm.run(stopCh, doneCh)
	return true
}

// Shutdown closes the stream and waits up to timeout for the loop to exit.
func (sm *StreamManager) Shutdown(timeout time.Duration) bool {
	sm.mu.Lock()
	if sm.stopCh == nil {
		sm.mu.Unlock()
		sm.state.Store(int32(StreamDisconnected))
		return true
	}
	select {
	case <-sm.stopCh:
	default:
		close(sm.stopCh)
	}
	if sm.resp != nil {
		sm.resp.Body.Close()
	}
	done := sm.doneCh
	sm.mu.Unlock()

	defer sm.state.Store(int32(StreamDisconnected))

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		if sm.logger != nil {
			sm.logger.Warn("Streaming shutdown timed out")
		}
		return false
	}
}

// run is the connection loop: token exchange, stream read, reconnect.
func (sm *StreamManager) run(stopCh, doneCh chan struct{}) {
	defer func() {
		sm.loopActive.Store(false)
		close(doneCh)
	}()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		outcome := sm.connectOnce(stopCh)
		if outcome == outcomeStop {
			return
		}
		if outcome == outcomeRefresh {
			sm.state.Store(int32(StreamConnecting))
			continue
		}

		delay, giveUp := sm.nextReconnectDelay()
		if giveUp {
			sm.state.Store(int32(StreamFailed))
			if sm.logger != nil {
				sm.logger.Warn("Streaming reconnect attempts exhausted, falling back to polling")
			}
			if sm.handlers.OnFallbackToPolling != nil {
				sm.handlers.OnFallbackToPolling()
			}
			delay = failedRetryDelay

			sm.mu.Lock()
			sm.reconnects = 0
			sm.mu.Unlock()
		} else {
			sm.state.Store(int32(StreamReconnecting))
		}

		select {
		case <-stopCh:
			return
		case <-time.After(delay):
		}
		sm.state.Store(int32(StreamConnecting))
	}
}

// nextReconnectDelay returns the backoff before the next attempt, and
// whether the allowed attempts are exhausted.
func (sm *StreamManager) nextReconnectDelay() (time.Duration, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.reconnects++
	if sm.cfg.MaxReconnectAttempts > 0 && sm.reconnects > sm.cfg.MaxReconnectAttempts {
		return 0, true
	}

	delay := sm.cfg.ReconnectInterval * (1 << (sm.reconnects - 1))
	if delay > maxStreamBackoff {
		delay = maxStreamBackoff
	}
	return delay, false
}

// connectOnce performs one token exchange plus stream session and reports
// how the session ended.
func (sm *StreamManager) connectOnce(stopCh chan struct{}) connectOutcome {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	token, expiresIn, err := sm.fetchToken(ctx)
	if err != nil {
		if sm.logger != nil {
			sm.logger.Warn("Stream token exchange failed", "error", err.Error())
		}
		sm.reportError(err)
		if errors.IsRecoverable(err) {
			return outcomeRetry
		}
		return outcomeStop
	}

	req, err := stdhttp.NewRequestWithContext(ctx, stdhttp.MethodGet,
		sm.baseURL+"/sdk/stream?token="+url.QueryEscape(token), nil)
	if err != nil {
		sm.reportError(errors.NewErrorWithCause(errors.ErrInternal, "failed to create stream request", err))
		return outcomeStop
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := sm.httpClient.Do(req)
	if err != nil {
		sm.reportError(errors.NetworkError(errors.ErrStreamUnavailable, "stream connection failed", err))
		return outcomeRetry
	}

	if resp.StatusCode != stdhttp.StatusOK {
		resp.Body.Close()
		sm.reportError(sm.streamStatusError(resp.StatusCode))
		if resp.StatusCode == stdhttp.StatusForbidden {
			return outcomeStop
		}
		return outcomeRetry
	}

	sm.mu.Lock()
	sm.resp = resp
	sm.mu.Unlock()
	defer func() {
		sm.mu.Lock()
		sm.resp = nil
		sm.mu.Unlock()
		resp.Body.Close()
	}()

	sm.state.Store(int32(StreamConnected))
	sm.touch()
	sm.mu.Lock()
	sm.reconnects = 0
	sm.mu.Unlock()

	if sm.logger != nil {
		sm.logger.Info("Streaming connected")
	}
	if sm.handlers.OnConnected != nil {
		sm.handlers.OnConnected()
	}

	// Cycle the connection before the token expires.
	var refreshCh <-chan time.Time
	if expiresIn > 0 {
		refresh := time.Duration(float64(expiresIn) * tokenRefreshFraction * float64(time.Second))
		timer := time.NewTimer(refresh)
		defer timer.Stop()
		refreshCh = timer.C
	}

	watchdogStop := make(chan struct{})
	defer close(watchdogStop)
	go sm.heartbeatWatchdog(resp, watchdogStop)

	events := make(chan streamEvent, 16)
	readErr := make(chan error, 1)
	go sm.readEvents(resp.Body, events, readErr)

	for {
		select {
		case <-stopCh:
			return outcomeStop
		case <-refreshCh:
			if sm.logger != nil {
				sm.logger.Debug("Cycling stream connection before token expiry")
			}
			return outcomeRefresh
		case err := <-readErr:
			if err != nil && err != io.EOF && sm.logger != nil {
				sm.logger.Warn("Stream read failed", "error", err.Error())
			}
			return outcomeRetry
		case ev := <-events:
			sm.touch()
			if stop := sm.handleEvent(ev); stop {
				return outcomeStop
			}
		}
	}
}

// fetchToken exchanges the API key for a short-lived stream token.
func (sm *StreamManager) fetchToken(ctx context.Context) (string, int, error) {
	body, err := sm.transport.Post(ctx, "/sdk/stream/token", map[string]any{})
	if err != nil {
		return "", 0, err
	}

	var tokenResp types.StreamTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", 0, errors.NewErrorWithCause(errors.ErrStreamTokenInvalid,
			"failed to parse stream token response", err)
	}
	if tokenResp.Token == "" {
		return "", 0, errors.StreamingError(errors.ErrStreamTokenInvalid,
			"server returned an empty stream token")
	}

	return tokenResp.Token, tokenResp.ExpiresIn, nil
}

func (sm *StreamManager) streamStatusError(status int) *errors.FlagKitError {
	switch status {
	case stdhttp.StatusUnauthorized:
		return errors.StreamingError(errors.ErrStreamTokenInvalid, "stream token was rejected")
	case stdhttp.StatusForbidden:
		return errors.AuthenticationError(errors.ErrAuthForbidden, "streaming is not permitted for this key")
	default:
		return errors.StreamingError(errors.ErrStreamUnavailable, "stream endpoint returned HTTP "+stdhttp.StatusText(status))
	}
}

// readEvents parses the SSE wire format. Multiple data: lines accumulate
// with newline separators until the blank line that dispatches the event.
func (sm *StreamManager) readEvents(r io.Reader, events chan<- streamEvent, readErr chan<- error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	name := ""
	var data []string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if name != "" || len(data) > 0 {
				events <- streamEvent{name: name, data: strings.Join(data, "\n")}
			}
			name = ""
			data = nil
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}

	readErr <- scanner.Err()
}

// handleEvent applies one stream event. Returns true when the loop should
// stop entirely (non-recoverable server directive).
func (sm *StreamManager) handleEvent(ev streamEvent) (stop bool) {
	switch ev.name {
	case "flag_updated":
		var flag types.FlagState
		if err := json.Unmarshal([]byte(ev.data), &flag); err != nil || flag.Key == "" {
			if sm.logger != nil {
				sm.logger.Warn("Ignoring malformed flag_updated event")
			}
			return false
		}
		if sm.handlers.OnFlagUpdated != nil {
			sm.handlers.OnFlagUpdated(&flag)
		}

	case "flag_deleted":
		var payload struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal([]byte(ev.data), &payload); err != nil || payload.Key == "" {
			if sm.logger != nil {
				sm.logger.Warn("Ignoring malformed flag_deleted event")
			}
			return false
		}
		if sm.handlers.OnFlagDeleted != nil {
			sm.handlers.OnFlagDeleted(payload.Key)
		}

	case "flags_reset":
		var flags []*types.FlagState
		if err := json.Unmarshal([]byte(ev.data), &flags); err != nil {
			if sm.logger != nil {
				sm.logger.Warn("Ignoring malformed flags_reset event")
			}
			return false
		}
		if sm.handlers.OnFlagsReset != nil {
			sm.handlers.OnFlagsReset(flags)
		}

	case "heartbeat", "":
		// Activity already recorded by the caller.

	case "error":
		return sm.handleErrorEvent(ev.data)

	default:
		if sm.logger != nil {
			sm.logger.Debug("Ignoring unknown stream event", "event", ev.name)
		}
	}

	return false
}

// handleErrorEvent processes a server error directive on the stream.
func (sm *StreamManager) handleErrorEvent(data string) (stop bool) {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		if sm.logger != nil {
			sm.logger.Warn("Ignoring malformed stream error event")
		}
		return false
	}

	switch payload.Code {
	case "TOKEN_EXPIRED", "TOKEN_INVALID":
		// Reconnect with a fresh token. The read loop ends when we close
		// the body; signal by reporting and letting the caller cycle.
		sm.reportError(errors.StreamingError(errors.ErrStreamTokenExpired, payload.Message))
		sm.closeCurrent()
		return false

	case "SUBSCRIPTION_SUSPENDED":
		sm.reportError(errors.StreamingError(errors.ErrStreamSuspended, payload.Message))
		if sm.handlers.OnFallbackToPolling != nil {
			sm.handlers.OnFallbackToPolling()
		}
		sm.state.Store(int32(StreamFailed))
		return true

	case "CONNECTION_LIMIT":
		// Too many concurrent streams right now. Notify and retry with the
		// normal reconnect backoff; the limit may clear.
		sm.reportError(errors.StreamingError(errors.ErrStreamConnectionLimit, payload.Message))
		if sm.handlers.OnConnectionLimit != nil {
			sm.handlers.OnConnectionLimit()
		}
		sm.closeCurrent()
		return false

	case "STREAMING_UNAVAILABLE":
		sm.reportError(errors.StreamingError(errors.ErrStreamUnavailable, payload.Message))
		if sm.handlers.OnFallbackToPolling != nil {
			sm.handlers.OnFallbackToPolling()
		}
		sm.state.Store(int32(StreamFailed))
		return true

	default:
		sm.reportError(errors.StreamingError(errors.ErrStreamUnavailable, payload.Message))
		return false
	}
}

func (sm *StreamManager) closeCurrent() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.resp != nil {
		sm.resp.Body.Close()
	}
}

// heartbeatWatchdog closes a silent connection. Past 1.5x the heartbeat
// interval it warns; past 2x it forces a reconnect by closing the body.
func (sm *StreamManager) heartbeatWatchdog(resp *stdhttp.Response, stop chan struct{}) {
	interval := sm.cfg.HeartbeatInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	warned := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			silence := time.Since(time.UnixMilli(sm.lastActivity.Load()))

			if silence > 2*interval {
				if sm.logger != nil {
					sm.logger.Warn("Stream heartbeat missed, forcing reconnect",
						"silence", silence.String())
				}
				resp.Body.Close()
				return
			}

			if silence > interval*3/2 && !warned {
				warned = true
				if sm.logger != nil {
					sm.logger.Warn("Stream heartbeat late", "silence", silence.String())
				}
			} else if silence <= interval {
				warned = false
			}
		}
	}
}

func (sm *StreamManager) touch() {
	sm.lastActivity.Store(time.Now().UnixMilli())
}

func (sm *StreamManager) reportError(err error) {
	if sm.handlers.OnError != nil {
		sm.handlers.OnError(err)
	}
}
