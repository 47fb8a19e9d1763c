package client

import (
	"math/rand"
	"time"

	"github.com/teracrafts/flagkit-go/config"
	"github.com/teracrafts/flagkit-go/internal/core"
	"github.com/teracrafts/flagkit-go/types"
)

// Evaluator resolves flag values from the cache and bootstrap data. The
// lookup order is fixed: fresh cache, stale cache, bootstrap, caller
// default. The caller's default is returned unchanged on every miss path.
type Evaluator struct {
	cache     *core.Cache
	bootstrap map[string]any
	jitter    config.EvaluationJitterConfig
	logger    types.Logger
}

// NewEvaluator creates an evaluator. bootstrap may be nil.
func NewEvaluator(cache *core.Cache, bootstrap map[string]any, jitter config.EvaluationJitterConfig, logger types.Logger) *Evaluator {
	return &Evaluator{
		cache:     cache,
		bootstrap: bootstrap,
		jitter:    jitter,
		logger:    logger,
	}
}

// SetBootstrap replaces the bootstrap values.
func (e *Evaluator) SetBootstrap(bootstrap map[string]any) {
	e.bootstrap = bootstrap
}

// Evaluate resolves a flag. expected narrows the accepted flag type; an
// empty expected type accepts any. A fresh cached flag whose type differs
// from expected yields the default with reason TYPE_MISMATCH, never a
// coerced value. Stale values are served as-is: their type was checked
// when they were fresh.
func (e *Evaluator) Evaluate(key string, defaultValue any, expected types.FlagType) *types.EvaluationResult {
	e.applyJitter()

	if key == "" {
		if e.logger != nil {
			e.logger.Warn("Flag evaluation called with empty key")
		}
		return types.CreateDefaultResult(key, defaultValue, types.ReasonError)
	}

	if e.cache != nil {
		if flag, ok := e.cache.Get(key); ok {
			return e.resultFromFlag(flag, defaultValue, expected, types.ReasonCached)
		}

		if flag, ok := e.cache.GetStale(key); ok {
			return e.resultFromFlag(flag, defaultValue, "", types.ReasonStaleCache)
		}
	}

	if value, ok := e.bootstrap[key]; ok {
		return &types.EvaluationResult{
			FlagKey:   key,
			Value:     value,
			Enabled:   true,
			Reason:    types.ReasonBootstrap,
			Timestamp: time.Now(),
		}
	}

	return types.CreateDefaultResult(key, defaultValue, types.ReasonFlagNotFound)
}

// resultFromFlag builds the result for a resident flag.
func (e *Evaluator) resultFromFlag(flag *types.FlagState, defaultValue any, expected types.FlagType, reason types.EvaluationReason) *types.EvaluationResult {
	if !flag.Enabled {
		return &types.EvaluationResult{
			FlagKey:   flag.Key,
			Value:     defaultValue,
			Enabled:   false,
			Reason:    types.ReasonDisabled,
			Version:   flag.Version,
			Timestamp: time.Now(),
		}
	}

	// Flags delivered without an explicit type get one inferred from the
	// value.
	actual := flag.FlagType
	if actual == "" {
		actual = types.InferFlagType(flag.Value)
	}

	if expected != "" && actual != expected {
		if e.logger != nil {
			e.logger.Warn("Flag type mismatch",
				"key", flag.Key,
				"expected", string(expected),
				"actual", string(actual),
			)
		}
		return &types.EvaluationResult{
			FlagKey:   flag.Key,
			Value:     defaultValue,
			Enabled:   flag.Enabled,
			Reason:    types.ReasonTypeMismatch,
			Version:   flag.Version,
			Timestamp: time.Now(),
		}
	}

	return &types.EvaluationResult{
		FlagKey:   flag.Key,
		Value:     flag.Value,
		Enabled:   true,
		Reason:    reason,
		Version:   flag.Version,
		Timestamp: time.Now(),
	}
}

// EvaluateAll resolves every known flag: all fresh cached flags plus any
// bootstrap keys not shadowed by the cache.
func (e *Evaluator) EvaluateAll() map[string]*types.EvaluationResult {
	results := make(map[string]*types.EvaluationResult)

	if e.cache != nil {
		for key, flag := range e.cache.GetAllValid() {
			results[key] = e.resultFromFlag(flag, nil, "", types.ReasonCached)
		}
	}

	for key, value := range e.bootstrap {
		if _, ok := results[key]; ok {
			continue
		}
		results[key] = &types.EvaluationResult{
			FlagKey:   key,
			Value:     value,
			Enabled:   true,
			Reason:    types.ReasonBootstrap,
			Timestamp: time.Now(),
		}
	}

	return results
}

// applyJitter sleeps a bounded random delay when jitter is enabled. The
// delay is applied on every evaluation so hit and miss paths are
// indistinguishable by timing.
func (e *Evaluator) applyJitter() {
	if !e.jitter.Enabled {
		return
	}

	span := e.jitter.MaxMs - e.jitter.MinMs
	delay := e.jitter.MinMs
	if span > 0 {
		delay += rand.Intn(span + 1)
	}
	if delay > 0 {
		time.Sleep(time.Duration(delay) * time.Millisecond)
	}
}
