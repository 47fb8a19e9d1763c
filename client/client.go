// Package client implements the FlagKit client: initialization, flag
// evaluation, background refresh over polling or streaming, analytics
// events, and shutdown.
package client

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teracrafts/flagkit-go/config"
	"github.com/teracrafts/flagkit-go/errors"
	"github.com/teracrafts/flagkit-go/internal/core"
	flaghttp "github.com/teracrafts/flagkit-go/internal/http"
	"github.com/teracrafts/flagkit-go/internal/persistence"
	"github.com/teracrafts/flagkit-go/internal/storage"
	"github.com/teracrafts/flagkit-go/internal/version"
	"github.com/teracrafts/flagkit-go/security"
	"github.com/teracrafts/flagkit-go/types"
)

const (
	shutdownComponentTimeout = 2 * time.Second
	shutdownFlushTimeout     = 5 * time.Second
	cacheSnapshotFileName    = "flagkit-cache.bin"
)

// Client is the FlagKit SDK client.
type Client struct {
	opts   *config.Options
	logger types.Logger

	keys      *flaghttp.KeyManager
	transport *flaghttp.Client
	cache     *core.Cache
	evaluator *Evaluator
	poller    *core.Poller
	stream    *core.StreamManager
	events    *core.EventQueue
	encryptor *storage.Encryptor

	readyCh     chan struct{}
	readyOnce   sync.Once
	initialized atomic.Bool
	closed      atomic.Bool

	mu        sync.RWMutex
	evalCtx   *types.EvaluationContext
	checkedAt string
	lastUsage *config.UsageMetrics
}

// NewClient creates a client. The client is not ready until Initialize
// completes (or immediately in offline mode).
func NewClient(apiKey string, optFns ...config.OptionFunc) (*Client, error) {
	opts := config.DefaultOptions(apiKey)
	for _, fn := range optFns {
		fn(opts)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	errors.SetDefaultSanitizationConfig(opts.ErrorSanitization)

	logger := opts.Logger
	if logger == nil {
		logger = types.NewDefaultLogger(opts.Debug)
	}

	c := &Client{
		opts:    opts,
		logger:  logger,
		readyCh: make(chan struct{}),
	}

	bootstrap, err := c.resolveBootstrap()
	if err != nil {
		return nil, err
	}

	if opts.CacheEnabled {
		c.cache = core.NewCache(opts.CacheTTL, opts.CacheMaxSize)
	}
	c.evaluator = NewEvaluator(c.cache, bootstrap, opts.EvaluationJitter, logger)

	if opts.EnableCacheEncryption {
		enc, err := storage.NewEncryptor(opts.APIKey)
		if err != nil {
			return nil, err
		}
		c.encryptor = enc
		c.loadCacheSnapshot()
	}

	if !opts.Offline {
		c.keys = flaghttp.NewKeyManager(opts.APIKey, opts.SecondaryAPIKey, logger)
		c.transport = flaghttp.NewClient(flaghttp.ClientConfig{
			BaseURL:             opts.BaseURL,
			Timeout:             opts.Timeout,
			Retries:             opts.Retries,
			SDKVersion:          config.SDKVersion,
			RequestSigning:      opts.EnableRequestSigning,
			Keys:                c.keys,
			Logger:              logger,
			OnUsageUpdate:       c.handleUsageUpdate,
			OnSubscriptionError: opts.OnSubscriptionError,
		})

		c.poller = core.NewPoller(core.DefaultPollerConfig(opts.PollingInterval), c.pollOnce, logger, opts.OnError)

		eventCfg := core.DefaultEventQueueConfig()
		if opts.PersistEvents {
			store, err := persistence.NewEventStore(opts.EventStoragePath, logger)
			if err != nil {
				logger.Warn("Event persistence unavailable", "error", err.Error())
			} else {
				eventCfg.Persister = store
			}
		}
		c.events = core.NewEventQueue(eventCfg, c.transport, logger)

		if opts.EnableStreaming {
			c.stream = core.NewStreamManager(opts.Streaming, opts.BaseURL, c.transport, core.StreamHandlers{
				OnFlagUpdated:       c.applyStreamUpdate,
				OnFlagDeleted:       c.applyStreamDelete,
				OnFlagsReset:        c.applyStreamReset,
				OnConnected:         c.onStreamConnected,
				OnFallbackToPolling: c.onStreamFallback,
				OnConnectionLimit:   opts.OnConnectionLimit,
				OnError:             c.reportError,
			}, logger)
		}
	}

	return c, nil
}

// resolveBootstrap verifies and returns the bootstrap flag values. Signed
// bootstrap takes precedence over the legacy map. Verification failures
// follow the configured OnFailure policy.
func (c *Client) resolveBootstrap() (map[string]any, error) {
	bs := c.opts.BootstrapWithSignature
	if bs == nil {
		return c.opts.Bootstrap, nil
	}

	valid, err := security.VerifyBootstrapSignature(*bs, c.opts.APIKey, c.opts.BootstrapVerification)
	if valid {
		return bs.Flags, nil
	}

	switch c.opts.BootstrapVerification.OnFailure {
	case "error":
		return nil, err
	case "ignore":
		return nil, nil
	default:
		if err != nil {
			c.logger.Warn("Bootstrap verification failed, discarding bootstrap values",
				"error", err.Error())
		}
		return nil, nil
	}
}

// Initialize performs the initial flag fetch and starts the background
// machinery. In offline mode the client becomes ready immediately. When the
// initial fetch fails the client still becomes ready, serving bootstrap and
// defaults, and the error is reported and returned.
func (c *Client) Initialize(ctx context.Context) error {
	if !c.initialized.CompareAndSwap(false, true) {
		return errors.InitializationError(errors.ErrInitAlreadyInitialized, "client is already initialized")
	}

	if c.opts.Offline {
		c.logger.Info("FlagKit initialized in offline mode")
		c.markReady()
		return nil
	}

	c.events.Start()

	initErr := c.fetchInit(ctx)
	if initErr != nil {
		c.logger.Error("Initial flag fetch failed, continuing with bootstrap and defaults",
			"error", initErr.Error())
		c.reportError(initErr)
	}

	if c.stream != nil {
		c.stream.Connect()
	} else if c.opts.EnablePolling {
		c.poller.Start()
	}

	c.markReady()
	return initErr
}

// fetchInit performs the /sdk/init request and applies its payload.
func (c *Client) fetchInit(ctx context.Context) error {
	body, err := c.transport.Get(ctx, "/sdk/init")
	if err != nil {
		return errors.NewErrorWithCause(errors.ErrInitFailed, "initialization request failed", err)
	}

	resp, err := types.ParseInitResponse(body)
	if err != nil {
		return errors.NewErrorWithCause(errors.ErrInitFailed, "failed to parse init response", err)
	}

	c.applyFlags(resp.Flags)
	c.checkVersionMetadata(resp.Metadata)

	if resp.EnvironmentID != "" && c.events != nil {
		c.events.SetEnvironmentID(resp.EnvironmentID)
	}

	if resp.PollingIntervalSeconds > 0 {
		advertised := time.Duration(resp.PollingIntervalSeconds) * time.Second
		if advertised > c.opts.PollingInterval {
			c.logger.Debug("Using server-advertised polling interval",
				"interval", advertised.String())
			c.poller.SetBaseInterval(advertised)
		}
	}

	c.logger.Info("FlagKit initialized",
		"environment", resp.Environment,
		"flags", len(resp.Flags),
	)
	return nil
}

// checkVersionMetadata logs server guidance about the SDK version.
func (c *Client) checkVersionMetadata(meta *types.InitMetadata) {
	if meta == nil {
		return
	}

	if meta.SDKVersionMin != "" && version.IsLessThan(config.SDKVersion, meta.SDKVersionMin) {
		c.logger.Error("SDK version is below the server minimum, upgrade required",
			"current", config.SDKVersion,
			"minimum", meta.SDKVersionMin,
		)
	} else if meta.SDKVersionRecommended != "" && version.IsLessThan(config.SDKVersion, meta.SDKVersionRecommended) {
		c.logger.Warn("SDK version is below the recommended version",
			"current", config.SDKVersion,
			"recommended", meta.SDKVersionRecommended,
		)
	}

	if meta.DeprecationWarning != "" {
		c.logger.Warn("SDK deprecation notice", "notice", meta.DeprecationWarning)
	}
}

// markReady transitions the client to ready exactly once.
func (c *Client) markReady() {
	c.readyOnce.Do(func() {
		close(c.readyCh)
		if c.opts.OnReady != nil {
			c.opts.OnReady()
		}
	})
}

// WaitForReady blocks until the client is ready or the timeout elapses.
func (c *Client) WaitForReady(timeout time.Duration) bool {
	select {
	case <-c.readyCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// IsReady reports whether the client is ready.
func (c *Client) IsReady() bool {
	select {
	case <-c.readyCh:
		return true
	default:
		return false
	}
}

// IsOffline reports whether the client runs in offline mode.
func (c *Client) IsOffline() bool {
	return c.opts.Offline
}

// pollOnce is the polling callback: fetch updates since the last check.
func (c *Client) pollOnce() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout*time.Duration(c.opts.Retries+1))
	defer cancel()
	return c.Refresh(ctx)
}

// Refresh fetches flag updates since the last successful check and applies
// them. The server's checkedAt cursor is carried forward opaquely.
func (c *Client) Refresh(ctx context.Context) error {
	if c.opts.Offline {
		return nil
	}

	c.mu.RLock()
	since := c.checkedAt
	c.mu.RUnlock()

	path := "/sdk/updates"
	if since != "" {
		path += "?since=" + url.QueryEscape(since)
	}

	body, err := c.transport.Get(ctx, path)
	if err != nil {
		return err
	}

	resp, err := types.ParseUpdatesResponse(body)
	if err != nil {
		return errors.NewErrorWithCause(errors.ErrNetworkError, "failed to parse updates response", err)
	}

	if resp.CheckedAt != "" {
		c.mu.Lock()
		c.checkedAt = resp.CheckedAt
		c.mu.Unlock()
	}

	if len(resp.Flags) > 0 {
		c.applyFlags(resp.Flags)
		c.logger.Debug("Applied flag updates", "count", len(resp.Flags))
	}

	return nil
}

// applyFlags stores a batch of flags and fires the update callback.
func (c *Client) applyFlags(flags []types.FlagState) {
	if len(flags) == 0 {
		return
	}

	if c.cache != nil {
		states := make([]*types.FlagState, len(flags))
		for i := range flags {
			states[i] = &flags[i]
		}
		c.cache.SetMany(states)
	}

	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate(flags)
	}
}

// Streaming handlers.

func (c *Client) applyStreamUpdate(flag *types.FlagState) {
	if c.cache != nil {
		c.cache.Set(flag.Key, flag)
	}
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate([]types.FlagState{*flag})
	}
}

func (c *Client) applyStreamDelete(key string) {
	if c.cache != nil {
		c.cache.Delete(key)
	}
}

func (c *Client) applyStreamReset(flags []*types.FlagState) {
	if c.cache != nil {
		c.cache.Clear()
		c.cache.SetMany(flags)
	}
	if c.opts.OnUpdate != nil {
		states := make([]types.FlagState, len(flags))
		for i, f := range flags {
			states[i] = *f
		}
		c.opts.OnUpdate(states)
	}
}

// onStreamConnected stops polling while the push connection is live.
func (c *Client) onStreamConnected() {
	if c.poller != nil && c.poller.IsRunning() {
		c.logger.Debug("Stream connected, stopping polling")
		c.poller.Stop()
	}
}

// onStreamFallback resumes polling after the stream gives up.
func (c *Client) onStreamFallback() {
	if c.opts.EnablePolling && c.poller != nil && !c.closed.Load() {
		c.logger.Info("Falling back to polling for flag updates")
		c.poller.Start()
	}
}

// Evaluation surface.

// Evaluate resolves a flag with the caller's default. The result always
// carries a value: the flag's when resolvable, the default otherwise.
func (c *Client) Evaluate(key string, defaultValue any) *types.EvaluationResult {
	return c.evaluator.Evaluate(key, defaultValue, "")
}

// GetBool returns a boolean flag value.
func (c *Client) GetBool(key string, defaultValue bool) bool {
	return c.GetBoolDetail(key, defaultValue).BoolValue()
}

// GetBoolDetail returns a boolean flag evaluation with its reason.
func (c *Client) GetBoolDetail(key string, defaultValue bool) *types.EvaluationResult {
	return c.evaluator.Evaluate(key, defaultValue, types.FlagTypeBoolean)
}

// GetString returns a string flag value.
func (c *Client) GetString(key string, defaultValue string) string {
	return c.GetStringDetail(key, defaultValue).StringValue()
}

// GetStringDetail returns a string flag evaluation with its reason.
func (c *Client) GetStringDetail(key string, defaultValue string) *types.EvaluationResult {
	return c.evaluator.Evaluate(key, defaultValue, types.FlagTypeString)
}

// GetFloat64 returns a numeric flag value.
func (c *Client) GetFloat64(key string, defaultValue float64) float64 {
	return c.GetFloat64Detail(key, defaultValue).Float64Value()
}

// GetFloat64Detail returns a numeric flag evaluation with its reason.
func (c *Client) GetFloat64Detail(key string, defaultValue float64) *types.EvaluationResult {
	return c.evaluator.Evaluate(key, defaultValue, types.FlagTypeNumber)
}

// GetInt returns a numeric flag value as an int.
func (c *Client) GetInt(key string, defaultValue int) int {
	return c.evaluator.Evaluate(key, defaultValue, types.FlagTypeNumber).IntValue()
}

// GetJSON returns a JSON flag value.
func (c *Client) GetJSON(key string, defaultValue map[string]any) map[string]any {
	result := c.evaluator.Evaluate(key, defaultValue, types.FlagTypeJSON)
	if v := result.JSONValue(); v != nil {
		return v
	}
	return defaultValue
}

// EvaluateAll resolves every known flag.
func (c *Client) EvaluateAll() map[string]*types.EvaluationResult {
	return c.evaluator.EvaluateAll()
}

// HasFlag reports whether the key resolves to a flag without counting a
// cache hit or miss.
func (c *Client) HasFlag(key string) bool {
	if c.cache != nil {
		if _, ok := c.cache.GetStale(key); ok {
			return true
		}
	}
	_, ok := c.evaluator.bootstrap[key]
	return ok
}

// GetAllFlagKeys returns every known flag key, cached or bootstrap.
func (c *Client) GetAllFlagKeys() []string {
	seen := make(map[string]bool)
	var keys []string

	if c.cache != nil {
		for _, key := range c.cache.GetAllKeys() {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	for key := range c.evaluator.bootstrap {
		if !seen[key] {
			keys = append(keys, key)
		}
	}
	return keys
}

// Context management.

// SetContext sets the evaluation context attached to analytics events.
// Potential PII without matching private attributes is flagged per the
// strict mode setting.
func (c *Client) SetContext(evalCtx *types.EvaluationContext) error {
	if evalCtx != nil {
		if err := security.CheckPIIWithStrictMode(evalCtx.ToMap(), "context", c.opts.StrictPIIMode, c.logger); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.evalCtx = evalCtx.Clone()
	c.mu.Unlock()
	return nil
}

// GetContext returns a copy of the current evaluation context.
func (c *Client) GetContext() *types.EvaluationContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.evalCtx.Clone()
}

// ClearContext removes the evaluation context.
func (c *Client) ClearContext() {
	c.mu.Lock()
	c.evalCtx = nil
	c.mu.Unlock()
}

// Identify sets the context and records an identify event.
func (c *Client) Identify(evalCtx *types.EvaluationContext) error {
	if err := c.SetContext(evalCtx); err != nil {
		return err
	}
	return c.Track("identify", nil)
}

// Reset replaces the current context with a fresh anonymous one.
func (c *Client) Reset() {
	c.mu.Lock()
	c.evalCtx = types.NewAnonymousContext()
	c.mu.Unlock()
}

// Events.

// Track queues an analytics event with the current context attached.
// In offline mode events are discarded.
func (c *Client) Track(eventType string, properties map[string]any) error {
	if c.opts.Offline || c.events == nil {
		return nil
	}

	if properties != nil {
		if err := security.CheckPIIWithStrictMode(properties, "event", c.opts.StrictPIIMode, c.logger); err != nil {
			return err
		}
	}

	c.mu.RLock()
	evalCtx := c.evalCtx
	c.mu.RUnlock()

	return c.events.TrackWithContext(eventType, properties, evalCtx)
}

// Flush sends all queued events now.
func (c *Client) Flush(ctx context.Context) error {
	if c.events == nil {
		return nil
	}
	return c.events.Flush(ctx)
}

// Introspection.

// Stats returns a snapshot of client internals: cache, circuit breaker,
// event queue, and stream state.
func (c *Client) Stats() map[string]any {
	stats := make(map[string]any)

	if c.cache != nil {
		stats["cache"] = c.cache.Stats()
	}
	if c.transport != nil {
		stats["circuit_breaker"] = c.transport.Breaker().Stats()
	}
	if c.events != nil {
		stats["events"] = map[string]any{
			"queued":  c.events.Size(),
			"dropped": c.events.DroppedCount(),
		}
	}
	if c.stream != nil {
		stats["stream_state"] = c.stream.State().String()
	}

	return stats
}

// UsageMetrics returns the most recent usage telemetry, or nil.
func (c *Client) UsageMetrics() *config.UsageMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUsage
}

func (c *Client) handleUsageUpdate(metrics *config.UsageMetrics) {
	c.mu.Lock()
	c.lastUsage = metrics
	c.mu.Unlock()

	if c.opts.OnUsageUpdate != nil {
		c.opts.OnUsageUpdate(metrics)
	}
}

func (c *Client) reportError(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

// Close shuts the client down: stream and poller stop with a bounded wait,
// queued events get a final flush, and the cache snapshot is persisted when
// encryption is enabled. Close is idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	if c.stream != nil {
		c.stream.Shutdown(shutdownComponentTimeout)
	}
	if c.poller != nil {
		c.poller.Shutdown(shutdownComponentTimeout)
	}

	var flushErr error
	if c.events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
		flushErr = c.events.Stop(ctx)
		cancel()
	}

	c.saveCacheSnapshot()

	if c.transport != nil {
		c.transport.Close()
	}

	c.logger.Info("FlagKit client closed")
	return flushErr
}

// Cache snapshot persistence.

func (c *Client) snapshotPath() string {
	dir := c.opts.EventStoragePath
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, cacheSnapshotFileName)
}

// saveCacheSnapshot persists the resident flags as an encrypted blob.
func (c *Client) saveCacheSnapshot() {
	if c.encryptor == nil || c.cache == nil {
		return
	}

	flags := c.cache.GetAll()
	if len(flags) == 0 {
		return
	}

	plain, err := json.Marshal(flags)
	if err != nil {
		return
	}

	blob, err := c.encryptor.Encrypt(plain)
	if err != nil {
		c.logger.Warn("Failed to encrypt cache snapshot", "error", err.Error())
		return
	}

	if err := os.WriteFile(c.snapshotPath(), blob, 0o600); err != nil {
		c.logger.Warn("Failed to write cache snapshot", "error", err.Error())
	}
}

// loadCacheSnapshot restores flags persisted by a previous run. A blob that
// fails authentication (different key, tampering) is discarded.
func (c *Client) loadCacheSnapshot() {
	if c.encryptor == nil || c.cache == nil {
		return
	}

	blob, err := os.ReadFile(c.snapshotPath())
	if err != nil {
		return
	}

	plain, err := c.encryptor.Decrypt(blob)
	if err != nil {
		c.logger.Warn("Discarding unreadable cache snapshot", "error", err.Error())
		os.Remove(c.snapshotPath())
		return
	}

	var flags map[string]*types.FlagState
	if err := json.Unmarshal(plain, &flags); err != nil {
		return
	}

	for key, flag := range flags {
		c.cache.Set(key, flag)
	}
	c.logger.Debug("Restored cache snapshot", "flags", len(flags))
}
