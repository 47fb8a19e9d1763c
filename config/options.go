// Package config defines the configuration surface of the FlagKit client.
package config

import (
	"strings"
	"time"

	"github.com/teracrafts/flagkit-go/errors"
	"github.com/teracrafts/flagkit-go/types"
)

// Type aliases for convenience
type (
	Logger                  = types.Logger
	FlagState               = types.FlagState
	ErrorSanitizationConfig = errors.ErrorSanitizationConfig
)

const (
	// DefaultBaseURL is the default FlagKit API base URL.
	DefaultBaseURL = "https://api.flagkit.dev/api/v1"

	// DefaultPollingInterval is the default polling interval.
	DefaultPollingInterval = 30 * time.Second

	// DefaultCacheTTL is the default cache TTL.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultCacheMaxSize is the default maximum number of cached flags.
	DefaultCacheMaxSize = 1000

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 5 * time.Second

	// DefaultRetries is the default number of request attempts.
	DefaultRetries = 3

	// SDKVersion is the current SDK version.
	SDKVersion = "1.0.0"
)

// Default bootstrap verification values.
const (
	DefaultBootstrapMaxAge    = 24 * time.Hour
	DefaultBootstrapOnFailure = "warn"
)

// Default evaluation jitter bounds, in milliseconds.
const (
	DefaultEvaluationJitterMinMs = 5
	DefaultEvaluationJitterMaxMs = 15
)

// UsageMetrics contains usage telemetry extracted from API response headers.
type UsageMetrics struct {
	// APIUsagePercent is the percentage of the API call limit used this
	// period (may exceed 100).
	APIUsagePercent float64

	// EvaluationUsagePercent is the percentage of the evaluation limit used.
	EvaluationUsagePercent float64

	// RateLimitWarning indicates the account is approaching its rate limit.
	RateLimitWarning bool

	// SubscriptionStatus is one of "active", "trial", "past_due",
	// "suspended", "cancelled". Empty if the header was absent or invalid.
	SubscriptionStatus string
}

// ValidSubscriptionStatuses enumerates the subscription states the server
// may report.
var ValidSubscriptionStatuses = map[string]bool{
	"active":    true,
	"trial":     true,
	"past_due":  true,
	"suspended": true,
	"cancelled": true,
}

// BootstrapConfig represents bootstrap flag values with optional HMAC
// signature verification.
type BootstrapConfig struct {
	// Flags is the map of flag keys to their values.
	Flags map[string]any `json:"flags"`

	// Signature is the HMAC-SHA256 signature over
	// "timestamp.canonicalize(flags)". Optional: if empty, no verification
	// is performed (legacy path).
	Signature string `json:"signature,omitempty"`

	// Timestamp is the Unix timestamp (milliseconds) when the bootstrap
	// was generated.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// BootstrapVerificationConfig configures bootstrap signature verification.
type BootstrapVerificationConfig struct {
	// Enabled enables signature verification for bootstrap values.
	// Default: true.
	Enabled bool

	// MaxAge is the maximum age of bootstrap data. Default: 24 hours.
	MaxAge time.Duration

	// OnFailure specifies behavior when verification fails: "warn" logs and
	// continues without the bootstrap, "error" surfaces the error, "ignore"
	// fails silently. Default: "warn".
	OnFailure string
}

// EvaluationJitterConfig configures timing jitter applied inside evaluate
// to blur cache-hit timing. The delay is bounded and applied regardless of
// hit or miss.
type EvaluationJitterConfig struct {
	// Enabled enables evaluation jitter. Default: false.
	Enabled bool

	// MinMs is the minimum jitter delay in milliseconds. Default: 5.
	MinMs int

	// MaxMs is the maximum jitter delay in milliseconds. Default: 15.
	MaxMs int
}

// StreamingConfig tunes the push connection.
type StreamingConfig struct {
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
}

// Options configures the FlagKit client.
type Options struct {
	// APIKey is the API key for authentication (required).
	APIKey string

	// SecondaryAPIKey is an optional failover key. When the primary key is
	// rejected with a 401, the SDK switches to this key for subsequent
	// requests.
	SecondaryAPIKey string

	// BaseURL is the FlagKit API base URL.
	BaseURL string

	// PollingInterval is the interval between flag updates. Minimum 1s;
	// the effective interval is the larger of this and the
	// server-advertised interval.
	PollingInterval time.Duration

	// EnablePolling enables background polling for flag updates.
	EnablePolling bool

	// EnableStreaming enables the push connection for low-latency updates.
	// When the stream is unusable the SDK steps down to polling.
	EnableStreaming bool

	// Streaming tunes reconnect and heartbeat behavior.
	Streaming *StreamingConfig

	// CacheEnabled enables local caching of flag values.
	CacheEnabled bool

	// CacheTTL is the time-to-live for cached values.
	CacheTTL time.Duration

	// CacheMaxSize bounds the number of cached flags; the oldest entry by
	// fetch time is evicted when the bound is exceeded.
	CacheMaxSize int

	// EnableCacheEncryption wraps persisted cache blobs in AES-256-GCM.
	// The key is derived from the API key using PBKDF2. Default: false.
	EnableCacheEncryption bool

	// Offline mode disables network requests; the client is marked ready
	// immediately and serves bootstrap and defaults.
	Offline bool

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// Retries is the number of attempts for failed requests.
	Retries int

	// Bootstrap provides initial flag values (legacy unsigned format).
	Bootstrap map[string]any

	// BootstrapWithSignature provides signed bootstrap flag values.
	// If set, it takes precedence over Bootstrap.
	BootstrapWithSignature *BootstrapConfig

	// BootstrapVerification configures bootstrap signature verification.
	BootstrapVerification BootstrapVerificationConfig

	// EnableRequestSigning enables HMAC-SHA256 signing for POST requests.
	// Default: true.
	EnableRequestSigning bool

	// EvaluationJitter configures timing jitter for flag evaluations.
	EvaluationJitter EvaluationJitterConfig

	// ErrorSanitization configures error message redaction.
	ErrorSanitization ErrorSanitizationConfig

	// StrictPIIMode returns an error instead of a warning when potential
	// PII is detected in context or event data without private attributes.
	StrictPIIMode bool

	// PersistEvents enables write-ahead persistence of analytics events.
	PersistEvents bool

	// EventStoragePath is the directory for event storage files.
	// Defaults to the OS temp directory.
	EventStoragePath string

	// Debug enables debug logging.
	Debug bool

	// Logger is a custom logger implementation.
	Logger Logger

	// OnReady is called when the SDK is ready.
	OnReady func()

	// OnError is called when an error occurs.
	OnError func(error)

	// OnUpdate is called when flags are updated.
	OnUpdate func([]FlagState)

	// OnUsageUpdate is called when usage telemetry is extracted from API
	// response headers.
	OnUsageUpdate func(*UsageMetrics)

	// OnSubscriptionError is called when the server reports a subscription
	// problem (e.g. suspended).
	OnSubscriptionError func(message string)

	// OnConnectionLimit is called when the streaming connection limit is
	// reached.
	OnConnectionLimit func()
}

// DefaultStreamingConfig returns the default streaming configuration.
func DefaultStreamingConfig() *StreamingConfig {
	return &StreamingConfig{
		ReconnectInterval:    3 * time.Second,
		MaxReconnectAttempts: 3,
		HeartbeatInterval:    30 * time.Second,
	}
}

// DefaultOptions returns options with default values.
func DefaultOptions(apiKey string) *Options {
	return &Options{
		APIKey:               apiKey,
		BaseURL:              DefaultBaseURL,
		PollingInterval:      DefaultPollingInterval,
		EnablePolling:        true,
		EnableStreaming:      false,
		CacheEnabled:         true,
		CacheTTL:             DefaultCacheTTL,
		CacheMaxSize:         DefaultCacheMaxSize,
		Offline:              false,
		Timeout:              DefaultTimeout,
		Retries:              DefaultRetries,
		Bootstrap:            make(map[string]any),
		EnableRequestSigning: true,
		Debug:                false,
		EvaluationJitter: EvaluationJitterConfig{
			Enabled: false,
			MinMs:   DefaultEvaluationJitterMinMs,
			MaxMs:   DefaultEvaluationJitterMaxMs,
		},
		BootstrapVerification: BootstrapVerificationConfig{
			Enabled:   true,
			MaxAge:    DefaultBootstrapMaxAge,
			OnFailure: DefaultBootstrapOnFailure,
		},
	}
}

// validKeyPrefixes are the credential prefixes the service issues.
var validKeyPrefixes = []string{"sdk_", "srv_", "cli_"}

// ValidateAPIKey checks the credential format: a recognized prefix and a
// minimum total length of 10 characters.
func ValidateAPIKey(apiKey string) error {
	if apiKey == "" {
		return errors.NewError(errors.ErrConfigMissingRequired, "API key is required")
	}
	if len(apiKey) < 10 {
		return errors.NewError(errors.ErrAuthInvalidKey, "API key is too short")
	}
	for _, prefix := range validKeyPrefixes {
		if strings.HasPrefix(apiKey, prefix) {
			return nil
		}
	}
	return errors.NewError(errors.ErrAuthInvalidKey, "API key has an unrecognized prefix")
}

// Validate validates the options and fills defaulted fields.
func (o *Options) Validate() error {
	if err := ValidateAPIKey(o.APIKey); err != nil {
		return err
	}

	if o.SecondaryAPIKey != "" {
		if err := ValidateAPIKey(o.SecondaryAPIKey); err != nil {
			return errors.NewError(errors.ErrAuthInvalidKey, "secondary API key is invalid")
		}
	}

	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}

	if o.PollingInterval < time.Second {
		return errors.NewError(errors.ErrConfigInvalidInterval, "polling interval must be at least 1 second")
	}

	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.Retries < 1 {
		o.Retries = 1
	}

	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}

	if o.CacheMaxSize <= 0 {
		o.CacheMaxSize = DefaultCacheMaxSize
	}

	switch o.BootstrapVerification.OnFailure {
	case "", "warn", "error", "ignore":
	default:
		return errors.NewError(errors.ErrConfigMissingRequired,
			"bootstrap verification OnFailure must be warn, error, or ignore")
	}
	if o.BootstrapVerification.OnFailure == "" {
		o.BootstrapVerification.OnFailure = DefaultBootstrapOnFailure
	}

	if o.EvaluationJitter.Enabled {
		if o.EvaluationJitter.MinMs < 0 {
			o.EvaluationJitter.MinMs = 0
		}
		if o.EvaluationJitter.MaxMs < o.EvaluationJitter.MinMs {
			o.EvaluationJitter.MaxMs = o.EvaluationJitter.MinMs
		}
	}

	return nil
}

// OptionFunc is a function that modifies Options.
type OptionFunc func(*Options)

// WithBaseURL sets the base URL.
func WithBaseURL(url string) OptionFunc {
	return func(o *Options) { o.BaseURL = url }
}

// WithSecondaryAPIKey sets the failover credential.
func WithSecondaryAPIKey(key string) OptionFunc {
	return func(o *Options) { o.SecondaryAPIKey = key }
}

// WithPollingInterval sets the polling interval.
func WithPollingInterval(d time.Duration) OptionFunc {
	return func(o *Options) { o.PollingInterval = d }
}

// WithPollingDisabled disables polling.
func WithPollingDisabled() OptionFunc {
	return func(o *Options) { o.EnablePolling = false }
}

// WithStreaming enables the push connection.
func WithStreaming() OptionFunc {
	return func(o *Options) { o.EnableStreaming = true }
}

// WithStreamingConfig enables streaming with explicit tuning.
func WithStreamingConfig(cfg *StreamingConfig) OptionFunc {
	return func(o *Options) {
		o.EnableStreaming = true
		o.Streaming = cfg
	}
}

// WithCacheTTL sets the cache TTL.
func WithCacheTTL(d time.Duration) OptionFunc {
	return func(o *Options) { o.CacheTTL = d }
}

// WithCacheMaxSize bounds the flag cache.
func WithCacheMaxSize(n int) OptionFunc {
	return func(o *Options) { o.CacheMaxSize = n }
}

// WithCacheDisabled disables caching.
func WithCacheDisabled() OptionFunc {
	return func(o *Options) { o.CacheEnabled = false }
}

// WithCacheEncryption enables encryption of persisted cache blobs.
func WithCacheEncryption() OptionFunc {
	return func(o *Options) { o.EnableCacheEncryption = true }
}

// WithOffline enables offline mode.
func WithOffline() OptionFunc {
	return func(o *Options) { o.Offline = true }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) OptionFunc {
	return func(o *Options) { o.Timeout = d }
}

// WithRetries sets the number of request attempts.
func WithRetries(n int) OptionFunc {
	return func(o *Options) { o.Retries = n }
}

// WithBootstrap sets legacy bootstrap values.
func WithBootstrap(values map[string]any) OptionFunc {
	return func(o *Options) { o.Bootstrap = values }
}

// WithSignedBootstrap sets a signed bootstrap configuration.
func WithSignedBootstrap(bootstrap *BootstrapConfig) OptionFunc {
	return func(o *Options) { o.BootstrapWithSignature = bootstrap }
}

// WithBootstrapVerification configures bootstrap signature verification.
func WithBootstrapVerification(cfg BootstrapVerificationConfig) OptionFunc {
	return func(o *Options) { o.BootstrapVerification = cfg }
}

// WithRequestSigningDisabled disables HMAC signing of POST requests.
func WithRequestSigningDisabled() OptionFunc {
	return func(o *Options) { o.EnableRequestSigning = false }
}

// WithEvaluationJitter enables bounded timing jitter inside evaluate.
func WithEvaluationJitter(minMs, maxMs int) OptionFunc {
	return func(o *Options) {
		o.EvaluationJitter = EvaluationJitterConfig{Enabled: true, MinMs: minMs, MaxMs: maxMs}
	}
}

// WithErrorSanitization configures error message redaction.
func WithErrorSanitization(cfg ErrorSanitizationConfig) OptionFunc {
	return func(o *Options) { o.ErrorSanitization = cfg }
}

// WithStrictPIIMode makes PII detection fail hard instead of warning.
func WithStrictPIIMode() OptionFunc {
	return func(o *Options) { o.StrictPIIMode = true }
}

// WithEventPersistence enables write-ahead persistence of analytics events.
func WithEventPersistence(storagePath string) OptionFunc {
	return func(o *Options) {
		o.PersistEvents = true
		o.EventStoragePath = storagePath
	}
}

// WithDebug enables debug logging.
func WithDebug() OptionFunc {
	return func(o *Options) { o.Debug = true }
}

// WithLogger sets a custom logger.
func WithLogger(logger Logger) OptionFunc {
	return func(o *Options) { o.Logger = logger }
}

// WithOnReady sets the ready callback.
func WithOnReady(fn func()) OptionFunc {
	return func(o *Options) { o.OnReady = fn }
}

// WithOnError sets the error callback.
func WithOnError(fn func(error)) OptionFunc {
	return func(o *Options) { o.OnError = fn }
}

// WithOnUpdate sets the update callback.
func WithOnUpdate(fn func([]FlagState)) OptionFunc {
	return func(o *Options) { o.OnUpdate = fn }
}

// WithOnUsageUpdate sets the usage telemetry callback.
func WithOnUsageUpdate(fn func(*UsageMetrics)) OptionFunc {
	return func(o *Options) { o.OnUsageUpdate = fn }
}

// WithOnSubscriptionError sets the subscription error callback.
func WithOnSubscriptionError(fn func(string)) OptionFunc {
	return func(o *Options) { o.OnSubscriptionError = fn }
}

// WithOnConnectionLimit sets the connection limit callback.
func WithOnConnectionLimit(fn func()) OptionFunc {
	return func(o *Options) { o.OnConnectionLimit = fn }
}
