// Package ws maintains provider websocket connections and their subscriptions.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/domain/pair"
	"github.com/coachpo/pricebridge/internal/infra/cache"
	"github.com/coachpo/pricebridge/internal/infra/telemetry"
)

const (
	defaultControlInterval = 200 * time.Millisecond
	defaultPingInterval    = 20 * time.Second
	defaultPingTimeout     = 5 * time.Second
	defaultWriteTimeout    = 5 * time.Second
	defaultReconnectMax    = 30 * time.Second
	defaultReadLimit       = 2 * 1024 * 1024
	minJanitorInterval     = time.Second
)

// Resubscriber is implemented by handlers that can restore every active
// subscription with fewer frames than one subscribe per pair.
type Resubscriber interface {
	ResubscribeMessages() ([]any, error)
}

// Options configures a Manager.
type Options struct {
	Adapter         string
	Endpoint        string
	Handler         adapter.StreamHandler
	Sink            cache.Sink
	SubscriptionTTL time.Duration
	ReconnectMax    time.Duration
	PingInterval    time.Duration
	ControlInterval time.Duration
	ReadLimit       int64
	Logger          zerolog.Logger
	Instruments     *telemetry.Instruments
	Clock           func() time.Time
}

type subscription struct {
	pair     pair.Pair
	lastUsed time.Time
}

// Manager owns one websocket connection for an adapter endpoint.
type Manager struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	conn   *websocket.Conn
	connMu sync.RWMutex

	// opMu serialises subscription changes with their handler call and control frame.
	opMu          sync.Mutex
	subsMu        sync.Mutex
	subscriptions map[string]*subscription

	ready     chan struct{}
	readyOnce sync.Once

	controlMu       sync.Mutex
	lastControlSend time.Time
}

// New validates opts and builds an idle manager.
func New(opts Options) (*Manager, error) {
	if opts.Handler == nil {
		return nil, errors.New("ws manager: stream handler required")
	}
	if opts.Sink == nil {
		return nil, errors.New("ws manager: result sink required")
	}
	if opts.ControlInterval <= 0 {
		opts.ControlInterval = defaultControlInterval
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = defaultReconnectMax
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	opts.Logger = opts.Logger.With().Str("adapter", opts.Adapter).Str("endpoint", opts.Endpoint).Logger()
	return &Manager{
		opts:          opts,
		subscriptions: make(map[string]*subscription),
		ready:         make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Start launches the connection and janitor loops; it does not wait for the first dial.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	go func() {
		defer close(m.done)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.janitorLoop()
		}()
		if err := m.connectLoop(); err != nil && !errors.Is(err, context.Canceled) {
			m.reportError(fmt.Errorf("ws manager: %w", err))
		}
		wg.Wait()
	}()
}

// Ready is closed after the first successful dial.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Stop closes the connection and waits for the loops to exit.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.connMu.Lock()
	if m.conn != nil {
		_ = m.conn.Close(websocket.StatusNormalClosure, "shutdown")
		m.conn = nil
	}
	m.connMu.Unlock()
	<-m.done
}

// Connected reports whether a connection is currently established.
func (m *Manager) Connected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.conn != nil
}

// Subscribe marks p as in use, sending a subscribe frame the first time it is seen.
func (m *Manager) Subscribe(ctx context.Context, p pair.Pair) error {
	if m.Touch(p) {
		return nil
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	key := subscriptionKey(p)
	m.subsMu.Lock()
	if sub, ok := m.subscriptions[key]; ok {
		sub.lastUsed = m.opts.Clock()
		m.subsMu.Unlock()
		return nil
	}
	m.subscriptions[key] = &subscription{pair: p, lastUsed: m.opts.Clock()}
	m.subsMu.Unlock()

	m.opts.Instruments.SubscriptionDelta(ctx, m.opts.Adapter, "subscribe", 1)
	msg, err := m.opts.Handler.SubscribeMessage(p)
	if err != nil {
		return fmt.Errorf("build subscribe message: %w", err)
	}
	return m.sendControl(ctx, "subscribe", msg)
}

// Touch refreshes the usage timestamp of an active subscription.
func (m *Manager) Touch(p pair.Pair) bool {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	sub, ok := m.subscriptions[subscriptionKey(p)]
	if ok {
		sub.lastUsed = m.opts.Clock()
	}
	return ok
}

// Unsubscribe drops p and sends the handler's unsubscribe frame, if any.
func (m *Manager) Unsubscribe(ctx context.Context, p pair.Pair) error {
	return m.unsubscribe(ctx, p, time.Time{})
}

// unsubscribe drops p. A non-zero cutoff keeps p when it was used at or after cutoff.
func (m *Manager) unsubscribe(ctx context.Context, p pair.Pair, cutoff time.Time) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	key := subscriptionKey(p)
	m.subsMu.Lock()
	sub, ok := m.subscriptions[key]
	if !ok || (!cutoff.IsZero() && !sub.lastUsed.Before(cutoff)) {
		m.subsMu.Unlock()
		return nil
	}
	delete(m.subscriptions, key)
	m.subsMu.Unlock()

	m.opts.Instruments.SubscriptionDelta(ctx, m.opts.Adapter, "unsubscribe", -1)
	msg, err := m.opts.Handler.UnsubscribeMessage(p)
	if err != nil {
		return fmt.Errorf("build unsubscribe message: %w", err)
	}
	return m.sendControl(ctx, "unsubscribe", msg)
}

// Active lists subscribed pairs sorted by their encoded form.
func (m *Manager) Active() []pair.Pair {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	keys := make([]string, 0, len(m.subscriptions))
	for k := range m.subscriptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]pair.Pair, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.subscriptions[k].pair)
	}
	return out
}

// Sweep unsubscribes pairs unused for longer than the subscription TTL.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.opts.SubscriptionTTL <= 0 {
		return 0
	}
	cutoff := m.opts.Clock().Add(-m.opts.SubscriptionTTL)
	m.subsMu.Lock()
	stale := make([]pair.Pair, 0)
	for _, sub := range m.subscriptions {
		if sub.lastUsed.Before(cutoff) {
			stale = append(stale, sub.pair)
		}
	}
	m.subsMu.Unlock()
	for _, p := range stale {
		if err := m.unsubscribe(ctx, p, cutoff); err != nil {
			m.reportError(fmt.Errorf("expire subscription %s: %w", p, err))
		}
	}
	return len(stale)
}

func (m *Manager) janitorLoop() {
	if m.opts.SubscriptionTTL <= 0 {
		return
	}
	interval := m.opts.SubscriptionTTL / 2
	if interval < minJanitorInterval {
		interval = minJanitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(m.ctx); n > 0 {
				m.opts.Logger.Debug().Int("expired", n).Msg("expired idle subscriptions")
			}
		}
	}
}

func (m *Manager) connectLoop() error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = m.opts.ReconnectMax

	for {
		select {
		case <-m.ctx.Done():
			return context.Canceled
		default:
		}

		conn, err := m.dial()
		if err != nil {
			m.reportError(err)
			m.opts.Instruments.StreamConnection(m.ctx, m.opts.Adapter, "dial_failed")
			if !m.sleep(backoffCfg) {
				return context.Canceled
			}
			continue
		}

		m.connMu.Lock()
		m.conn = conn
		m.connMu.Unlock()

		conn.SetReadLimit(m.opts.ReadLimit)

		m.controlMu.Lock()
		m.lastControlSend = time.Time{}
		m.controlMu.Unlock()

		m.readyOnce.Do(func() {
			close(m.ready)
		})
		m.opts.Instruments.StreamConnection(m.ctx, m.opts.Adapter, "connected")
		m.opts.Logger.Info().Msg("websocket connected")

		backoffCfg.Reset()

		if err := m.subscribeAll(); err != nil {
			m.reportError(fmt.Errorf("resubscribe after reconnect: %w", err))
		}

		connCtx, connCancel := context.WithCancel(m.ctx)
		errCh := make(chan error, 2)
		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			errCh <- m.readLoop(connCtx, conn)
		}()

		go func() {
			defer wg.Done()
			errCh <- m.pingLoop(connCtx, conn)
		}()

		firstErr := <-errCh
		connCancel()

		m.connMu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.connMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")

		wg.Wait()
		close(errCh)

		aggregatedErr := firstErr
		for e := range errCh {
			if aggregatedErr == nil || errors.Is(aggregatedErr, context.Canceled) || errors.Is(aggregatedErr, context.DeadlineExceeded) {
				aggregatedErr = e
			}
		}
		if aggregatedErr != nil && !errors.Is(aggregatedErr, context.Canceled) && !errors.Is(aggregatedErr, context.DeadlineExceeded) {
			m.reportError(fmt.Errorf("websocket connection loop: %w", aggregatedErr))
		}
		m.opts.Instruments.StreamConnection(m.ctx, m.opts.Adapter, "disconnected")

		if !m.sleep(backoffCfg) {
			return context.Canceled
		}
	}
}

func (m *Manager) dial() (*websocket.Conn, error) {
	url, err := m.opts.Handler.URL(m.ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve websocket url: %w", err)
	}
	conn, _, err := websocket.Dial(m.ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", redactURL(url), err)
	}
	return conn, nil
}

func (m *Manager) sleep(backoffCfg *backoff.ExponentialBackOff) bool {
	sleep := backoffCfg.NextBackOff()
	if sleep == backoff.Stop {
		sleep = m.opts.ReconnectMax
	}
	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(sleep):
		return true
	}
}

func (m *Manager) subscribeAll() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if resub, ok := m.opts.Handler.(Resubscriber); ok {
		if len(m.Active()) == 0 {
			return nil
		}
		msgs, err := resub.ResubscribeMessages()
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if err := m.sendControl(m.ctx, "resubscribe", msg); err != nil {
				return err
			}
		}
		return nil
	}
	for _, p := range m.Active() {
		msg, err := m.opts.Handler.SubscribeMessage(p)
		if err != nil {
			return fmt.Errorf("build subscribe message for %s: %w", p, err)
		}
		if err := m.sendControl(m.ctx, "resubscribe", msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) sendControl(ctx context.Context, operation string, msg any) error {
	if msg == nil {
		return nil
	}
	if ctx == nil {
		ctx = m.ctx
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	m.controlMu.Lock()
	defer m.controlMu.Unlock()
	if err := m.waitForControlWindowLocked(ctx); err != nil {
		return err
	}

	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()
	if conn == nil {
		// Sent by subscribeAll once connected.
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s request: %w", operation, err)
	}
	m.opts.Logger.Debug().Str("operation", operation).Msg("websocket control message sent")
	return nil
}

func (m *Manager) waitForControlWindowLocked(ctx context.Context) error {
	deadline := m.lastControlSend.Add(m.opts.ControlInterval)
	if time.Now().Before(deadline) {
		wait := time.Until(deadline)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("control window wait canceled: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	m.lastControlSend = time.Now()
	return nil
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read websocket: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		results, err := m.opts.Handler.Message(data)
		if err != nil {
			m.opts.Instruments.StreamMessage(ctx, m.opts.Adapter, telemetry.ResultError)
			m.reportError(fmt.Errorf("handle websocket message: %w", err))
			continue
		}
		m.opts.Instruments.StreamMessage(ctx, m.opts.Adapter, telemetry.ResultSuccess)
		if len(results) == 0 {
			continue
		}
		if err := m.opts.Sink.Put(ctx, cache.Entries(m.opts.Adapter, m.opts.Endpoint, results)); err != nil {
			m.reportError(fmt.Errorf("store stream results: %w", err))
		}
	}
}

func (m *Manager) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (m *Manager) reportError(err error) {
	if err == nil {
		return
	}
	if m.ctx != nil && m.ctx.Err() != nil {
		return
	}
	m.opts.Logger.Warn().Err(err).Msg("websocket error")
}

func subscriptionKey(p pair.Pair) string {
	return strings.ToUpper(strings.TrimSpace(p.Base)) + "/" + strings.ToUpper(strings.TrimSpace(p.Quote))
}

// redactURL drops the query string, which may carry credentials.
func redactURL(raw string) string {
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		return raw[:idx] + "?..."
	}
	return raw
}
