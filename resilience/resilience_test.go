package resilience

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestBackoffIsCapped(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.Jitter = 0
	assert.Equal(t, 100*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Backoff(2))
	assert.Equal(t, 5*time.Second, cfg.Backoff(20))
}

func TestBreakerTransitions(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{Name: "test", FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute})
	b.now = func() time.Time { return now }

	require.NoError(t, b.Allow())
	b.Failure()
	assert.Equal(t, StateClosed, b.State())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	b.Success()
	assert.Equal(t, StateClosed, b.State())
}

func TestTransportRetriesWithBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, `{"x":1}`, string(body))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tr := NewTransport(nil, DefaultRetryConfig(), NewBreaker(DefaultBreakerConfig("test")))
	tr.sleep = noSleep
	client := &http.Client{Transport: tr}

	resp, err := client.Post(srv.URL, "application/json", strings.NewReader(`{"x":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, StateClosed, tr.Breaker.State())
}

func TestTransportOpensAfterExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	retry := DefaultRetryConfig()
	retry.MaxRetries = 1
	tr := NewTransport(nil, retry, NewBreaker(BreakerConfig{Name: "test", FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Hour}))
	tr.sleep = noSleep
	client := &http.Client{Transport: tr}

	_, err := client.Get(srv.URL)
	require.Error(t, err)
	var se *StatusError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)

	_, err = client.Get(srv.URL)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestTransportDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := NewTransport(nil, DefaultRetryConfig(), NewBreaker(DefaultBreakerConfig("test")))
	tr.sleep = noSleep
	resp, err := (&http.Client{Transport: tr}).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
