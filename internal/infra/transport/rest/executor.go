// Package rest executes provider HTTP requests with rate limiting, retries and circuit breaking.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/infra/telemetry"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultBreakerFailures  = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxResponseBytes = 8 << 20
	errorBodyLimit          = 4 << 10
)

// Options configures an Executor.
type Options struct {
	Client           *http.Client
	Timeout          time.Duration
	MaxRetries       int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	BreakerFailures  uint32
	BreakerCooldown  time.Duration
	MaxResponseBytes int64
	Logger           zerolog.Logger
	Instruments      *telemetry.Instruments
	Clock            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 250 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Second
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = defaultBreakerFailures
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = defaultBreakerCooldown
	}
	if o.MaxResponseBytes <= 0 {
		o.MaxResponseBytes = defaultMaxResponseBytes
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Executor implements adapter.Doer over net/http.
type Executor struct {
	opts Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker
}

var _ adapter.Doer = (*Executor)(nil)

// New constructs an executor.
func New(opts Options) *Executor {
	return &Executor{
		opts:     opts.withDefaults(),
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// SetRateTier installs the request budget for adapter. Unlimited tiers remove any limiter.
func (e *Executor) SetRateTier(adapterName string, tier adapter.RateTier) {
	key := strings.ToLower(strings.TrimSpace(adapterName))
	perSecond := tier.PerSecondLimit()
	e.mu.Lock()
	defer e.mu.Unlock()
	if perSecond <= 0 {
		delete(e.limiters, key)
		return
	}
	e.limiters[key] = rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Do executes req on behalf of adapterName.
func (e *Executor) Do(ctx context.Context, adapterName string, req adapter.Request) (adapter.Response, error) {
	key := strings.ToLower(strings.TrimSpace(adapterName))
	if limiter := e.limiter(key); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return adapter.Response{}, errs.New(key, errs.CodeTimeout,
				errs.WithMessage("rate limit wait aborted"),
				errs.WithCanonicalCode(errs.CanonicalRateLimited),
				errs.WithCause(err))
		}
	}

	out, err := e.breaker(key).Execute(func() (interface{}, error) {
		return e.doWithRetry(ctx, key, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return adapter.Response{}, errs.New(key, errs.CodeUnavailable,
				errs.WithMessage("provider circuit open"),
				errs.WithCanonicalCode(errs.CanonicalProviderGateway),
				errs.WithCause(err))
		}
		return adapter.Response{}, err
	}
	resp, _ := out.(adapter.Response)
	return resp, nil
}

func (e *Executor) doWithRetry(ctx context.Context, key string, req adapter.Request) (adapter.Response, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = e.opts.InitialBackoff
	backoffCfg.MaxInterval = e.opts.MaxBackoff

	for attempt := 0; ; attempt++ {
		resp, retryable, err := e.attempt(ctx, key, req)
		if err == nil {
			return resp, nil
		}
		if !retryable || attempt >= e.opts.MaxRetries {
			return adapter.Response{}, err
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			return adapter.Response{}, err
		}
		if wait := retryAfter(resp.Header); wait > sleep {
			sleep = wait
		}
		e.opts.Logger.Debug().
			Str("adapter", key).
			Int("attempt", attempt+1).
			Dur("backoff", sleep).
			Err(err).
			Msg("retrying provider request")
		select {
		case <-ctx.Done():
			return adapter.Response{}, timeoutError(key, ctx.Err())
		case <-time.After(sleep):
		}
	}
}

func (e *Executor) attempt(ctx context.Context, key string, req adapter.Request) (adapter.Response, bool, error) {
	started := e.opts.Clock()
	reqCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, method, req.URL(), body)
	if err != nil {
		return adapter.Response{}, false, errs.New(key, errs.CodeInvalid,
			errs.WithMessage("build provider request"),
			errs.WithCause(err))
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	httpResp, err := e.opts.Client.Do(httpReq)
	if err != nil {
		elapsed := e.opts.Clock().Sub(started)
		if isTimeout(reqCtx, err) {
			e.opts.Instruments.ProviderRequest(ctx, key, 0, telemetry.ResultTimeout, elapsed)
			return adapter.Response{}, ctx.Err() == nil, timeoutError(key, err)
		}
		e.opts.Instruments.ProviderRequest(ctx, key, 0, telemetry.ResultError, elapsed)
		return adapter.Response{}, ctx.Err() == nil, errs.New(key, errs.CodeNetwork,
			errs.WithMessage("provider request failed"),
			errs.WithCause(err))
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	resp := adapter.Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, errorBodyLimit))
		resp.ReceivedAt = e.opts.Clock()
		failure, retryable := statusError(key, httpResp.StatusCode, strings.TrimSpace(string(raw)))
		result := telemetry.ResultError
		if failure.Code == errs.CodeTimeout {
			result = telemetry.ResultTimeout
		}
		e.opts.Instruments.ProviderRequest(ctx, key, httpResp.StatusCode, result, resp.ReceivedAt.Sub(started))
		return resp, retryable, failure
	}

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, e.opts.MaxResponseBytes))
	resp.ReceivedAt = e.opts.Clock()
	if err != nil {
		e.opts.Instruments.ProviderRequest(ctx, key, httpResp.StatusCode, telemetry.ResultError, resp.ReceivedAt.Sub(started))
		if isTimeout(reqCtx, err) {
			return adapter.Response{}, ctx.Err() == nil, timeoutError(key, err)
		}
		return adapter.Response{}, ctx.Err() == nil, errs.New(key, errs.CodeNetwork,
			errs.WithMessage("read provider response"),
			errs.WithCause(err))
	}
	resp.Body = raw
	e.opts.Instruments.ProviderRequest(ctx, key, httpResp.StatusCode, telemetry.ResultSuccess, resp.ReceivedAt.Sub(started))
	return resp, false, nil
}

func (e *Executor) limiter(key string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limiters[key]
}

func (e *Executor) breaker(key string) *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[key]; ok {
		return cb
	}
	failures := e.opts.BreakerFailures
	logger := e.opts.Logger
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    key,
		Timeout: e.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("adapter", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("provider circuit state changed")
		},
	})
	e.breakers[key] = cb
	return cb
}

// countsAsSuccess keeps caller and provider 4xx answers from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var e *errs.E
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case errs.CodeTimeout, errs.CodeNetwork, errs.CodeUnavailable:
		return false
	case errs.CodeExchange:
		return e.HTTP < 500
	default:
		return true
	}
}

func statusError(key string, status int, body string) (*errs.E, bool) {
	opts := []errs.Option{
		errs.WithHTTP(status),
		errs.WithRawCode(strconv.Itoa(status)),
		errs.WithRawMessage(body),
	}
	switch {
	case status == http.StatusGatewayTimeout:
		return errs.New(key, errs.CodeTimeout, append(opts,
			errs.WithMessage("provider gateway timeout"),
			errs.WithCanonicalCode(errs.CanonicalProviderGateway))...), false
	case status == http.StatusTooManyRequests:
		return errs.New(key, errs.CodeRateLimited, append(opts,
			errs.WithMessage("provider rate limit exceeded"),
			errs.WithCanonicalCode(errs.CanonicalRateLimited))...), true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.New(key, errs.CodeAuth, append(opts,
			errs.WithMessage(fmt.Sprintf("provider rejected credentials (status %d)", status)))...), false
	case status >= 500:
		return errs.New(key, errs.CodeExchange, append(opts,
			errs.WithMessage(fmt.Sprintf("provider status %d", status)),
			errs.WithCanonicalCode(errs.CanonicalProviderGateway))...), true
	default:
		return errs.New(key, errs.CodeExchange, append(opts,
			errs.WithMessage(fmt.Sprintf("provider status %d", status)))...), false
	}
}

func timeoutError(key string, cause error) *errs.E {
	return errs.New(key, errs.CodeTimeout,
		errs.WithMessage("provider request timed out"),
		errs.WithCanonicalCode(errs.CanonicalProviderTimeout),
		errs.WithCause(cause))
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func retryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
