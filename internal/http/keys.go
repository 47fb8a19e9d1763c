package http

import (
	"sync"
	"sync/atomic"

	"github.com/teracrafts/flagkit-go/types"
)

// KeyManager owns the active API credential. It holds a primary key and an
// optional secondary key and fails over to the secondary when the primary
// is rejected by the server. Readers observe a single atomic snapshot per
// call; the swap happens-before the next request that reads Current.
type KeyManager struct {
	primary   string
	secondary string
	current   atomic.Value // string
	mu        sync.Mutex
	onSecond  bool
	logger    types.Logger
}

// NewKeyManager creates a key manager. secondary may be empty.
func NewKeyManager(primary, secondary string, logger types.Logger) *KeyManager {
	km := &KeyManager{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
	}
	km.current.Store(primary)
	return km
}

// Current returns the active API key.
func (km *KeyManager) Current() string {
	return km.current.Load().(string)
}

// KeyID returns the first 8 characters of the active key.
func (km *KeyManager) KeyID() string {
	key := km.Current()
	if len(key) < 8 {
		return key
	}
	return key[:8]
}

// HasSecondary reports whether a failover key is configured.
func (km *KeyManager) HasSecondary() bool {
	return km.secondary != ""
}

// IsUsingSecondary reports whether the failover key is active.
func (km *KeyManager) IsUsingSecondary() bool {
	km.mu.Lock()
	defer km.mu.Unlock()
	return km.onSecond
}

// OnAuthRejection handles an authentication rejection by switching to the
// secondary key. Returns true if the switch happened; false when no
// secondary exists or it is already active, in which case the caller
// surfaces the failure.
func (km *KeyManager) OnAuthRejection() bool {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.secondary == "" {
		if km.logger != nil {
			km.logger.Warn("Authentication rejected but no secondary API key configured")
		}
		return false
	}

	if km.onSecond {
		if km.logger != nil {
			km.logger.Error("Authentication rejected on secondary key, both keys are invalid")
		}
		return false
	}

	if km.logger != nil {
		km.logger.Info("Switching to secondary API key after authentication rejection")
	}
	km.current.Store(km.secondary)
	km.onSecond = true
	return true
}

// ResetToPrimary restores the primary key.
func (km *KeyManager) ResetToPrimary() {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.onSecond {
		if km.logger != nil {
			km.logger.Info("Resetting to primary API key")
		}
		km.current.Store(km.primary)
		km.onSecond = false
	}
}
