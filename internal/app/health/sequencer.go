// Package health implements liveness heuristics for layer-2 sequencers.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coachpo/pricebridge/errs"
)

// DefaultDelta is the minimum spacing between two upstream checks.
const DefaultDelta = 2 * time.Minute

// BlockSnapshot is the subset of a pending block the batcher heuristic needs.
type BlockSnapshot struct {
	ParentHash       string
	TransactionCount int
	CapturedAt       time.Time
}

// BlockFetcher returns the sequencer's current pending block.
type BlockFetcher interface {
	PendingBlock(ctx context.Context) (BlockSnapshot, error)
}

// BlockFetcherFunc adapts a function to BlockFetcher.
type BlockFetcherFunc func(ctx context.Context) (BlockSnapshot, error)

// PendingBlock calls f.
func (f BlockFetcherFunc) PendingBlock(ctx context.Context) (BlockSnapshot, error) {
	return f(ctx)
}

// State is a copy of the checker's recorded state.
type State struct {
	LastSnapshot  *BlockSnapshot
	LastCheckedAt time.Time
	Healthy       bool
}

// Options configure a SequencerCheck.
type Options struct {
	Delta  time.Duration
	Clock  func() time.Time
	Logger zerolog.Logger
}

// SequencerCheck decides whether a centralised sequencer is healthy.
//
// The gateway is down when fetching the pending block times out or answers
// 404/504. The batcher is down when, between two checks, no new block was
// started and the pending block gained no transactions.
type SequencerCheck struct {
	mu      sync.Mutex
	fetcher BlockFetcher
	delta   time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	lastSnapshot  *BlockSnapshot
	lastCheckedAt time.Time
	healthy       bool
}

// NewSequencerCheck constructs a checker with no recorded state.
func NewSequencerCheck(fetcher BlockFetcher, opts Options) *SequencerCheck {
	if opts.Delta <= 0 {
		opts.Delta = DefaultDelta
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &SequencerCheck{
		fetcher: fetcher,
		delta:   opts.Delta,
		now:     opts.Clock,
		logger:  opts.Logger,
		healthy: true,
	}
}

// Check returns the current verdict, hitting the sequencer at most once per delta.
// Calls are serialised so concurrent callers inside the window share one fetch.
func (c *SequencerCheck) Check(ctx context.Context) (bool, error) {
	if c.fetcher == nil {
		return false, fmt.Errorf("sequencer check: fetcher required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lastCheckedAt.IsZero() && now.Sub(c.lastCheckedAt) < c.delta {
		c.logger.Debug().Dur("delta", c.delta).Msg("skipping sequencer check inside debounce window")
		return c.healthy, nil
	}

	snapshot, err := c.fetcher.PendingBlock(ctx)
	if err != nil {
		if gatewayDown(err) {
			c.logger.Warn().Err(err).Msg("pending block request failed; sequencer unhealthy")
			c.healthy = false
			c.lastCheckedAt = now
			return false, nil
		}
		return false, fmt.Errorf("fetch pending block: %w", err)
	}
	if snapshot.CapturedAt.IsZero() {
		snapshot.CapturedAt = now
	}

	healthy := c.batcherHealthy(snapshot)
	c.lastSnapshot = &snapshot
	c.lastCheckedAt = now
	c.healthy = healthy
	return healthy, nil
}

func (c *SequencerCheck) batcherHealthy(current BlockSnapshot) bool {
	previous := c.lastSnapshot
	if previous == nil {
		return current.TransactionCount > 0
	}
	if previous.ParentHash != current.ParentHash {
		c.logger.Info().Str("parent_hash", current.ParentHash).Msg("new pending block found; sequencer healthy")
		return true
	}
	if current.TransactionCount > previous.TransactionCount {
		c.logger.Info().Int("transactions", current.TransactionCount).Msg("pending block gained transactions; sequencer healthy")
		return true
	}
	c.logger.Info().Str("parent_hash", current.ParentHash).Int("transactions", current.TransactionCount).Msg("pending block unchanged; sequencer unhealthy")
	return false
}

// State returns a copy of the recorded state.
func (c *SequencerCheck) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := State{LastCheckedAt: c.lastCheckedAt, Healthy: c.healthy}
	if c.lastSnapshot != nil {
		snap := *c.lastSnapshot
		state.LastSnapshot = &snap
	}
	return state
}

func gatewayDown(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var e *errs.E
	if !errors.As(err, &e) {
		return false
	}
	if e.Code == errs.CodeTimeout {
		return true
	}
	return e.HTTP == http.StatusNotFound || e.HTTP == http.StatusGatewayTimeout
}
