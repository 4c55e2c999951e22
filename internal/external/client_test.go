package external

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxnotify/internal/types"
)

func noopSleep(time.Duration) {}

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: 10 * time.Millisecond}
}

func newTestClient(t *testing.T, policy RetryPolicy, opts ...BaseClientOption) *BaseClient {
	t.Helper()
	opts = append([]BaseClientOption{WithSleepFunc(noopSleep)}, opts...)
	return NewBaseClient(&http.Client{Timeout: 5 * time.Second}, "test-breaker", policy, "sandboxnotify-test/1.0", opts...)
}

func TestDo_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := newTestClient(t, NoRetry())
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"status":"ok"}`, string(body))
}

func TestDo_SetsCorrelationAndUserAgent(t *testing.T) {
	var gotID, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Correlation-Id")
		gotUA = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	ctx := types.WithRequestID(context.Background(), "evt-42")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := newTestClient(t, NoRetry()).Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "evt-42", gotID)
	assert.Equal(t, "sandboxnotify-test/1.0", gotUA)
}

func TestDo_NoCorrelationHeaderWithoutID(t *testing.T) {
	var present bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header["X-Correlation-Id"]
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := newTestClient(t, NoRetry()).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, present)
}

func TestDo_NoRetryMakesSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := newTestClient(t, NoRetry()).Do(req)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, types.CodeOf(err))
}

func TestDo_RetriesOn5xxAndSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := newTestClient(t, testRetryPolicy()).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_ExhaustedRetriesOn429IsRateLimited(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := newTestClient(t, testRetryPolicy()).Do(req)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, types.CodeOf(err))
}

func TestDo_4xxNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := newTestClient(t, testRetryPolicy()).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_PostBodyPreservedAcrossRetries(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader(`{"a":1}`))
	resp, err := newTestClient(t, testRetryPolicy()).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, []string{`{"a":1}`, `{"a":1}`}, bodies)
}

func TestDo_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "trip-fast",
		Timeout: time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 2
		},
	})
	client := newTestClient(t, NoRetry(), WithBreaker(breaker))

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		_, err := client.Do(req)
		require.Error(t, err)
	}

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := client.Do(req)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, types.CodeOf(err))
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, int32(2), calls.Load())
}

func TestComputeBackoff(t *testing.T) {
	c := newTestClient(t, RetryPolicy{MaxRetries: 3, MinWait: 100 * time.Millisecond, MaxWait: time.Second})

	t.Run("first attempt is min wait", func(t *testing.T) {
		assert.Equal(t, 100*time.Millisecond, c.computeBackoff(0, nil))
	})

	t.Run("bounded by max wait", func(t *testing.T) {
		for attempt := 1; attempt < 8; attempt++ {
			d := c.computeBackoff(attempt, nil)
			assert.GreaterOrEqual(t, d, 100*time.Millisecond)
			assert.LessOrEqual(t, d, time.Second)
		}
	})

	t.Run("retry-after seconds capped", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"30"}}}
		assert.Equal(t, time.Second, c.computeBackoff(0, resp))
	})
}

func TestRetryPolicies(t *testing.T) {
	assert.Equal(t, 0, NoRetry().MaxRetries)
	p := StartupRetryPolicy()
	assert.Equal(t, 2, p.MaxRetries)
	assert.Less(t, p.MinWait, p.MaxWait)
}
