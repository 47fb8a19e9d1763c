// Package flagkit is the Go SDK for the FlagKit feature flag service.
//
// The package-level functions operate on a process-wide client instance:
//
//	err := flagkit.Initialize("sdk_your_api_key")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer flagkit.Shutdown()
//
//	if flagkit.GetBool("new-checkout", false) {
//		// new code path
//	}
//
// Applications that need multiple clients or explicit lifecycle control can
// use the client package directly.
package flagkit

import (
	"context"
	"sync"
	"time"

	"github.com/teracrafts/flagkit-go/client"
	"github.com/teracrafts/flagkit-go/config"
	"github.com/teracrafts/flagkit-go/errors"
	"github.com/teracrafts/flagkit-go/types"
)

var (
	instanceMu sync.Mutex
	instance   *client.Client
)

// Initialize creates the shared client and performs the initial flag
// fetch. Calling Initialize while a client exists returns an error;
// call Shutdown first.
func Initialize(apiKey string, opts ...config.OptionFunc) error {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		return errors.InitializationError(errors.ErrInitAlreadyInitialized,
			"FlagKit is already initialized")
	}

	c, err := client.NewClient(apiKey, opts...)
	if err != nil {
		return err
	}

	err = c.Initialize(context.Background())
	instance = c
	return err
}

// GetClient returns the shared client, or nil before Initialize.
func GetClient() *client.Client {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	return instance
}

// IsInitialized reports whether the shared client exists.
func IsInitialized() bool {
	return GetClient() != nil
}

// Shutdown closes the shared client and releases it.
func Shutdown() error {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		return nil
	}
	err := instance.Close()
	instance = nil
	return err
}

// WaitForReady blocks until the shared client is ready or the timeout
// elapses. Returns false before Initialize.
func WaitForReady(timeout time.Duration) bool {
	c := GetClient()
	if c == nil {
		return false
	}
	return c.WaitForReady(timeout)
}

// GetBool evaluates a boolean flag on the shared client. The default is
// returned before Initialize.
func GetBool(key string, defaultValue bool) bool {
	c := GetClient()
	if c == nil {
		return defaultValue
	}
	return c.GetBool(key, defaultValue)
}

// GetString evaluates a string flag on the shared client.
func GetString(key string, defaultValue string) string {
	c := GetClient()
	if c == nil {
		return defaultValue
	}
	return c.GetString(key, defaultValue)
}

// GetFloat64 evaluates a numeric flag on the shared client.
func GetFloat64(key string, defaultValue float64) float64 {
	c := GetClient()
	if c == nil {
		return defaultValue
	}
	return c.GetFloat64(key, defaultValue)
}

// GetInt evaluates a numeric flag on the shared client.
func GetInt(key string, defaultValue int) int {
	c := GetClient()
	if c == nil {
		return defaultValue
	}
	return c.GetInt(key, defaultValue)
}

// GetJSON evaluates a JSON flag on the shared client.
func GetJSON(key string, defaultValue map[string]any) map[string]any {
	c := GetClient()
	if c == nil {
		return defaultValue
	}
	return c.GetJSON(key, defaultValue)
}

// Evaluate resolves a flag with full evaluation detail.
func Evaluate(key string, defaultValue any) *types.EvaluationResult {
	c := GetClient()
	if c == nil {
		return types.CreateDefaultResult(key, defaultValue, types.ReasonError)
	}
	return c.Evaluate(key, defaultValue)
}

// SetContext sets the evaluation context on the shared client.
func SetContext(evalCtx *types.EvaluationContext) error {
	c := GetClient()
	if c == nil {
		return errors.InitializationError(errors.ErrInitNotInitialized, "FlagKit is not initialized")
	}
	return c.SetContext(evalCtx)
}

// Track queues an analytics event on the shared client.
func Track(eventType string, properties map[string]any) error {
	c := GetClient()
	if c == nil {
		return errors.InitializationError(errors.ErrInitNotInitialized, "FlagKit is not initialized")
	}
	return c.Track(eventType, properties)
}

// Flush sends queued analytics events now.
func Flush(ctx context.Context) error {
	c := GetClient()
	if c == nil {
		return nil
	}
	return c.Flush(ctx)
}
