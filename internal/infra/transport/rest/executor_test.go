package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/app/adapter"
)

func newExecutor(opts Options) *Executor {
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = time.Millisecond
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 5 * time.Millisecond
	}
	return New(opts)
}

func TestExecutorSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/latest", r.URL.Path)
		require.Equal(t, "XAU,XAG", r.URL.Query().Get("symbols"))
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	exec := newExecutor(Options{})
	resp, err := exec.Do(context.Background(), "metalsapi", adapter.Request{
		BaseURL: srv.URL + "/api/",
		Path:    "latest",
		Query:   url.Values{"symbols": {"XAU,XAG"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"success":true}`, string(resp.Body))
	require.False(t, resp.ReceivedAt.IsZero())
}

func TestExecutorGatewayTimeoutIsTyped(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	exec := newExecutor(Options{MaxRetries: 3})
	_, err := exec.Do(context.Background(), "starkware", adapter.Request{BaseURL: srv.URL})
	require.True(t, errs.HasCode(err, errs.CodeTimeout))

	var e *errs.E
	require.True(t, errors.As(err, &e))
	require.Equal(t, http.StatusGatewayTimeout, e.HTTP)
	require.Equal(t, int32(1), calls.Load(), "504 is not retried")
}

func TestExecutorRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	exec := newExecutor(Options{MaxRetries: 2})
	resp, err := exec.Do(context.Background(), "coinpaprika", adapter.Request{BaseURL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(3), calls.Load())
}

func TestExecutorClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid symbol"}`))
	}))
	defer srv.Close()

	exec := newExecutor(Options{MaxRetries: 3})
	_, err := exec.Do(context.Background(), "cryptocompare", adapter.Request{BaseURL: srv.URL})
	var e *errs.E
	require.True(t, errors.As(err, &e))
	require.Equal(t, errs.CodeExchange, e.Code)
	require.Equal(t, http.StatusBadRequest, e.HTTP)
	require.Contains(t, e.RawMsg, "invalid symbol")
	require.Equal(t, int32(1), calls.Load())
}

func TestExecutorClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	exec := newExecutor(Options{Timeout: 20 * time.Millisecond})
	_, err := exec.Do(context.Background(), "starkware", adapter.Request{BaseURL: srv.URL})
	require.True(t, errs.HasCode(err, errs.CodeTimeout))
}

func TestExecutorCircuitOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	exec := newExecutor(Options{BreakerFailures: 2, BreakerCooldown: time.Minute})
	for i := 0; i < 2; i++ {
		_, err := exec.Do(context.Background(), "metalsapi", adapter.Request{BaseURL: srv.URL})
		require.True(t, errs.HasCode(err, errs.CodeExchange))
	}
	_, err := exec.Do(context.Background(), "metalsapi", adapter.Request{BaseURL: srv.URL})
	require.True(t, errs.HasCode(err, errs.CodeUnavailable))
	require.Equal(t, int32(2), calls.Load())

	// Breakers are per adapter.
	_, err = exec.Do(context.Background(), "coinpaprika", adapter.Request{BaseURL: srv.URL})
	require.True(t, errs.HasCode(err, errs.CodeExchange))
}

func TestExecutorRateTier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	exec := newExecutor(Options{})
	exec.SetRateTier("tradermade", adapter.RateTier{Name: "basic", PerHour: 1.369})
	require.NotNil(t, exec.limiter("tradermade"))

	_, err := exec.Do(context.Background(), "tradermade", adapter.Request{BaseURL: srv.URL})
	require.NoError(t, err, "the first request uses the burst token")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = exec.Do(ctx, "tradermade", adapter.Request{BaseURL: srv.URL})
	require.True(t, errs.HasCode(err, errs.CodeTimeout))

	exec.SetRateTier("tradermade", adapter.RateTier{})
	require.Nil(t, exec.limiter("tradermade"))
}

func TestRetryAfter(t *testing.T) {
	require.Equal(t, 3*time.Second, retryAfter(http.Header{"Retry-After": {"3"}}))
	require.Zero(t, retryAfter(http.Header{"Retry-After": {"soon"}}))
	require.Zero(t, retryAfter(nil))
}
