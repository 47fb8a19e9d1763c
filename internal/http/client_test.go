package http

import (
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teracrafts/flagkit-go/config"
	"github.com/teracrafts/flagkit-go/errors"
	"github.com/teracrafts/flagkit-go/security"
)

func newTestClient(t *testing.T, serverURL string, mutate func(*ClientConfig)) *Client {
	t.Helper()

	cfg := ClientConfig{
		BaseURL:        serverURL,
		Timeout:        2 * time.Second,
		Retries:        1,
		RequestSigning: true,
		Keys:           NewKeyManager("sdk_aaaaaaaa", "sdk_bbbbbbbb", nil),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c := NewClient(cfg)
	c.SetRetryConfig(fastRetryConfig(cfg.Retries))
	t.Cleanup(c.Close)
	return c
}

func TestClientSendsIdentificationHeaders(t *testing.T) {
	var gotHeaders stdhttp.Header
	server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		gotHeaders = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	_, err := c.Get(context.Background(), "/sdk/init")
	require.NoError(t, err)

	assert.Equal(t, "sdk_aaaaaaaa", gotHeaders.Get("X-API-Key"))
	assert.Equal(t, config.SDKVersion, gotHeaders.Get("X-FlagKit-SDK-Version"))
	assert.Equal(t, "go", gotHeaders.Get("X-FlagKit-SDK-Language"))
	assert.Empty(t, gotHeaders.Get("X-Signature"))
}

func TestClientSignsPostRequests(t *testing.T) {
	var gotHeaders stdhttp.Header
	var gotBody []byte
	server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	_, err := c.Post(context.Background(), "/sdk/events/batch", map[string]any{"events": []any{}})
	require.NoError(t, err)

	signature := gotHeaders.Get("X-Signature")
	require.NotEmpty(t, signature)
	assert.Equal(t, "sdk_aaaa", gotHeaders.Get("X-Key-Id"))

	timestamp, err := strconv.ParseInt(gotHeaders.Get("X-Timestamp"), 10, 64)
	require.NoError(t, err)
	assert.True(t, security.VerifyRequestSignature(string(gotBody), signature, timestamp, "sdk_aaaaaaaa", 0))
}

func TestClientSigningDisabled(t *testing.T) {
	var gotHeaders stdhttp.Header
	server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		gotHeaders = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(cfg *ClientConfig) { cfg.RequestSigning = false })
	_, err := c.Post(context.Background(), "/sdk/events/batch", map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, gotHeaders.Get("X-Signature"))
}

func TestClientStatusMapping(t *testing.T) {
	cases := []struct {
		status      int
		code        errors.ErrorCode
		recoverable bool
	}{
		{stdhttp.StatusForbidden, errors.ErrAuthForbidden, false},
		{stdhttp.StatusNotFound, errors.ErrEvalFlagNotFound, false},
		{stdhttp.StatusTooManyRequests, errors.ErrNetworkRateLimited, true},
		{stdhttp.StatusInternalServerError, errors.ErrNetworkServerError, true},
		{stdhttp.StatusBadGateway, errors.ErrNetworkServerError, true},
		{stdhttp.StatusTeapot, errors.ErrHTTPError, false},
	}

	for _, tc := range cases {
		server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			w.WriteHeader(tc.status)
		}))

		c := newTestClient(t, server.URL, nil)
		_, err := c.Get(context.Background(), "/sdk/init")
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.code, errors.CodeOf(err), "status %d", tc.status)
		assert.Equal(t, tc.recoverable, errors.IsRecoverable(err), "status %d", tc.status)

		server.Close()
	}
}

func TestClientRetriesRecoverableFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(stdhttp.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(cfg *ClientConfig) { cfg.Retries = 3 })
	body, err := c.Get(context.Background(), "/sdk/init")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientCredentialFailover(t *testing.T) {
	var keysSeen []string
	server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		key := r.Header.Get("X-API-Key")
		keysSeen = append(keysSeen, key)
		if key == "sdk_aaaaaaaa" {
			w.WriteHeader(stdhttp.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)

	// 401 on the primary triggers an inline re-send with the secondary.
	_, err := c.Get(context.Background(), "/sdk/init")
	require.NoError(t, err)
	require.Equal(t, []string{"sdk_aaaaaaaa", "sdk_bbbbbbbb"}, keysSeen)
	assert.True(t, c.Keys().IsUsingSecondary())

	// Subsequent requests go straight to the secondary.
	_, err = c.Get(context.Background(), "/sdk/updates")
	require.NoError(t, err)
	assert.Equal(t, "sdk_bbbbbbbb", keysSeen[len(keysSeen)-1])
}

func TestClientAuthFailureOnBothKeys(t *testing.T) {
	server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	_, err := c.Get(context.Background(), "/sdk/init")
	require.Error(t, err)
	assert.Equal(t, errors.ErrAuthUnauthorized, errors.CodeOf(err))
	assert.False(t, errors.IsRecoverable(err))
}

func TestClientCircuitBreakerRejectsWhenOpen(t *testing.T) {
	server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.Breaker = NewCircuitBreaker(&CircuitBreakerConfig{
			FailureThreshold:   3,
			SuccessThreshold:   1,
			ResetTimeout:       time.Minute,
			HalfOpenMaxAllowed: 1,
		}, nil)
	})

	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), "/sdk/init")
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, c.Breaker().State())

	_, err := c.Get(context.Background(), "/sdk/init")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCircuitOpen, errors.CodeOf(err))
}

func TestClientBreakerCountsNonRecoverableFailures(t *testing.T) {
	server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusForbidden)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)

	// Every non-2xx outcome counts toward the failure threshold, so a
	// persistently broken endpoint opens the breaker even when the
	// individual errors are not retried.
	for i := 0; i < 5; i++ {
		_, err := c.Get(context.Background(), "/sdk/init")
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, c.Breaker().State())
}

func TestClientExtractsUsageMetrics(t *testing.T) {
	server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.Header().Set("X-API-Usage-Percent", "85.5")
		w.Header().Set("X-Evaluation-Usage-Percent", "40")
		w.Header().Set("X-Rate-Limit-Warning", "true")
		w.Header().Set("X-Subscription-Status", "trial")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var got *config.UsageMetrics
	c := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.OnUsageUpdate = func(m *config.UsageMetrics) { got = m }
	})

	_, err := c.Get(context.Background(), "/sdk/init")
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, 85.5, got.APIUsagePercent)
	assert.Equal(t, 40.0, got.EvaluationUsagePercent)
	assert.True(t, got.RateLimitWarning)
	assert.Equal(t, "trial", got.SubscriptionStatus)
}

func TestClientDropsUnknownSubscriptionStatus(t *testing.T) {
	server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.Header().Set("X-Subscription-Status", "galactic")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var got *config.UsageMetrics
	c := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.OnUsageUpdate = func(m *config.UsageMetrics) { got = m }
	})

	_, err := c.Get(context.Background(), "/sdk/init")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.SubscriptionStatus)
}

func TestClientSubscriptionStatusIsCaseInsensitive(t *testing.T) {
	server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.Header().Set("X-Subscription-Status", "Active")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var got *config.UsageMetrics
	c := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.OnUsageUpdate = func(m *config.UsageMetrics) { got = m }
	})

	_, err := c.Get(context.Background(), "/sdk/init")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "active", got.SubscriptionStatus)
}

func TestClientReportsSuspendedSubscription(t *testing.T) {
	server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.Header().Set("X-Subscription-Status", "suspended")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var msg string
	c := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.OnSubscriptionError = func(m string) { msg = m }
	})

	_, err := c.Get(context.Background(), "/sdk/init")
	require.NoError(t, err)
	assert.Contains(t, msg, "suspended")
}

func TestClientPostBodyEncoding(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	_, err := c.Post(context.Background(), "/sdk/events/batch", map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, gotBody["n"])
}
