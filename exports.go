package flagkit

import (
	"github.com/teracrafts/flagkit-go/config"
	"github.com/teracrafts/flagkit-go/types"
)

// Re-exported types so most applications only import the root package.
type (
	Options                     = config.Options
	OptionFunc                  = config.OptionFunc
	BootstrapConfig             = config.BootstrapConfig
	BootstrapVerificationConfig = config.BootstrapVerificationConfig
	StreamingConfig             = config.StreamingConfig
	UsageMetrics                = config.UsageMetrics

	FlagState         = types.FlagState
	FlagType          = types.FlagType
	EvaluationResult  = types.EvaluationResult
	EvaluationReason  = types.EvaluationReason
	EvaluationContext = types.EvaluationContext
	Logger            = types.Logger
)

// Re-exported constructors and options.
var (
	NewContext          = types.NewContext
	NewAnonymousContext = types.NewAnonymousContext

	WithBaseURL                = config.WithBaseURL
	WithSecondaryAPIKey        = config.WithSecondaryAPIKey
	WithPollingInterval        = config.WithPollingInterval
	WithPollingDisabled        = config.WithPollingDisabled
	WithStreaming              = config.WithStreaming
	WithStreamingConfig        = config.WithStreamingConfig
	WithCacheTTL               = config.WithCacheTTL
	WithCacheMaxSize           = config.WithCacheMaxSize
	WithCacheDisabled          = config.WithCacheDisabled
	WithCacheEncryption        = config.WithCacheEncryption
	WithOffline                = config.WithOffline
	WithTimeout                = config.WithTimeout
	WithRetries                = config.WithRetries
	WithBootstrap              = config.WithBootstrap
	WithSignedBootstrap        = config.WithSignedBootstrap
	WithBootstrapVerification  = config.WithBootstrapVerification
	WithRequestSigningDisabled = config.WithRequestSigningDisabled
	WithEvaluationJitter       = config.WithEvaluationJitter
	WithErrorSanitization      = config.WithErrorSanitization
	WithStrictPIIMode          = config.WithStrictPIIMode
	WithEventPersistence       = config.WithEventPersistence
	WithDebug                  = config.WithDebug
	WithLogger                 = config.WithLogger
	WithOnReady                = config.WithOnReady
	WithOnError                = config.WithOnError
	WithOnUpdate               = config.WithOnUpdate
	WithOnUsageUpdate          = config.WithOnUsageUpdate
	WithOnSubscriptionError    = config.WithOnSubscriptionError
	WithOnConnectionLimit      = config.WithOnConnectionLimit
)

// Re-exported flag type constants.
const (
	FlagTypeBoolean = types.FlagTypeBoolean
	FlagTypeString  = types.FlagTypeString
	FlagTypeNumber  = types.FlagTypeNumber
	FlagTypeJSON    = types.FlagTypeJSON
)

// Re-exported evaluation reasons.
const (
	ReasonCached       = types.ReasonCached
	ReasonStaleCache   = types.ReasonStaleCache
	ReasonBootstrap    = types.ReasonBootstrap
	ReasonServer       = types.ReasonServer
	ReasonDefault      = types.ReasonDefault
	ReasonFlagNotFound = types.ReasonFlagNotFound
	ReasonTypeMismatch = types.ReasonTypeMismatch
	ReasonDisabled     = types.ReasonDisabled
	ReasonOffline      = types.ReasonOffline
	ReasonError        = types.ReasonError
)
