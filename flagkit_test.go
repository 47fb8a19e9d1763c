package flagkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teracrafts/flagkit-go/config"
	"github.com/teracrafts/flagkit-go/errors"
	"github.com/teracrafts/flagkit-go/types"
)

func TestSingletonLifecycle(t *testing.T) {
	t.Cleanup(func() { Shutdown() })

	assert.False(t, IsInitialized())
	assert.Nil(t, GetClient())
	assert.False(t, WaitForReady(10*time.Millisecond))

	err := Initialize("sdk_test_abcdef123456",
		config.WithOffline(),
		config.WithBootstrap(map[string]any{
			"dark-mode": true,
			"limit":     42,
		}),
	)
	require.NoError(t, err)

	assert.True(t, IsInitialized())
	require.NotNil(t, GetClient())
	assert.True(t, WaitForReady(time.Second))

	assert.True(t, GetBool("dark-mode", false))
	assert.Equal(t, 42, GetInt("limit", 0))

	result := Evaluate("dark-mode", false)
	assert.Equal(t, types.ReasonBootstrap, result.Reason)

	require.NoError(t, Shutdown())
	assert.False(t, IsInitialized())

	// Shutdown with no instance is a no-op.
	require.NoError(t, Shutdown())
}

func TestInitializeTwiceReturnsError(t *testing.T) {
	t.Cleanup(func() { Shutdown() })

	require.NoError(t, Initialize("sdk_test_abcdef123456", config.WithOffline()))

	err := Initialize("sdk_test_abcdef123456", config.WithOffline())
	require.Error(t, err)
	assert.Equal(t, errors.ErrInitAlreadyInitialized, errors.CodeOf(err))
}

func TestInitializeInvalidKeyLeavesNoInstance(t *testing.T) {
	err := Initialize("bogus")
	require.Error(t, err)
	assert.False(t, IsInitialized())
}

func TestDefaultsBeforeInitialize(t *testing.T) {
	require.False(t, IsInitialized())

	assert.True(t, GetBool("any", true))
	assert.Equal(t, "d", GetString("any", "d"))
	assert.Equal(t, 1.5, GetFloat64("any", 1.5))
	assert.Equal(t, 7, GetInt("any", 7))
	assert.Equal(t, map[string]any{"n": 1}, GetJSON("any", map[string]any{"n": 1}))

	result := Evaluate("any", "d")
	assert.Equal(t, types.ReasonError, result.Reason)
	assert.Equal(t, "d", result.Value)

	err := SetContext(types.NewContext("user-1"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrInitNotInitialized, errors.CodeOf(err))

	err = Track("page_view", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrInitNotInitialized, errors.CodeOf(err))

	assert.NoError(t, Flush(context.Background()))
}
