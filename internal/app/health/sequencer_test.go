package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/pricebridge/errs"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type scriptedFetcher struct {
	calls   atomic.Int32
	replies []reply
}

type reply struct {
	snap BlockSnapshot
	err  error
}

func (f *scriptedFetcher) PendingBlock(context.Context) (BlockSnapshot, error) {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.replies) {
		n = len(f.replies) - 1
	}
	return f.replies[n].snap, f.replies[n].err
}

func newCheck(f BlockFetcher, clock *fakeClock) *SequencerCheck {
	return NewSequencerCheck(f, Options{Delta: time.Minute, Clock: clock.Now})
}

func TestFirstSnapshotHealthyOnlyWithTransactions(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	empty := &scriptedFetcher{replies: []reply{{snap: BlockSnapshot{ParentHash: "0x1", TransactionCount: 0}}}}
	healthy, err := newCheck(empty, clock).Check(context.Background())
	require.NoError(t, err)
	require.False(t, healthy)

	busy := &scriptedFetcher{replies: []reply{{snap: BlockSnapshot{ParentHash: "0x1", TransactionCount: 3}}}}
	healthy, err = newCheck(busy, clock).Check(context.Background())
	require.NoError(t, err)
	require.True(t, healthy)
}

func TestSameParentHashNeedsMoreTransactions(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	f := &scriptedFetcher{replies: []reply{
		{snap: BlockSnapshot{ParentHash: "0x1", TransactionCount: 3}},
		{snap: BlockSnapshot{ParentHash: "0x1", TransactionCount: 3}},
		{snap: BlockSnapshot{ParentHash: "0x1", TransactionCount: 5}},
		{snap: BlockSnapshot{ParentHash: "0x2", TransactionCount: 0}},
	}}
	check := newCheck(f, clock)
	want := []bool{true, false, true, true}
	for i, expected := range want {
		healthy, err := check.Check(context.Background())
		require.NoError(t, err, "check %d", i)
		require.Equal(t, expected, healthy, "check %d", i)
		clock.Advance(2 * time.Minute)
	}
	require.Equal(t, int32(4), f.calls.Load())
}

func TestDebounceReturnsCachedVerdictWithoutFetching(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	f := &scriptedFetcher{replies: []reply{{snap: BlockSnapshot{ParentHash: "0x1", TransactionCount: 2}}}}
	check := newCheck(f, clock)

	first, err := check.Check(context.Background())
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	second, err := check.Check(context.Background())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int32(1), f.calls.Load())
}

func TestGatewayTimeoutForcesUnhealthyAndKeepsSnapshot(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	f := &scriptedFetcher{replies: []reply{
		{snap: BlockSnapshot{ParentHash: "0x1", TransactionCount: 2}},
		{err: errs.New("starkware", errs.CodeTimeout, errs.WithHTTP(504))},
		{snap: BlockSnapshot{ParentHash: "0x1", TransactionCount: 4}},
	}}
	check := newCheck(f, clock)

	healthy, err := check.Check(context.Background())
	require.NoError(t, err)
	require.True(t, healthy)

	clock.Advance(2 * time.Minute)
	healthy, err = check.Check(context.Background())
	require.NoError(t, err)
	require.False(t, healthy)
	state := check.State()
	require.NotNil(t, state.LastSnapshot)
	require.Equal(t, 2, state.LastSnapshot.TransactionCount)
	require.Equal(t, clock.Now(), state.LastCheckedAt)

	// The snapshot kept from before the outage is the comparison baseline.
	clock.Advance(2 * time.Minute)
	healthy, err = check.Check(context.Background())
	require.NoError(t, err)
	require.True(t, healthy)
}

func TestGatewayNotFoundIsUnhealthy(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	f := &scriptedFetcher{replies: []reply{{err: errs.New("starkware", errs.CodeExchange, errs.WithHTTP(404))}}}
	healthy, err := newCheck(f, clock).Check(context.Background())
	require.NoError(t, err)
	require.False(t, healthy)
}

func TestOtherErrorsPropagateWithoutStateChange(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	f := &scriptedFetcher{replies: []reply{
		{err: errs.New("starkware", errs.CodeExchange, errs.WithHTTP(500))},
		{err: errors.New("connection reset")},
	}}
	check := newCheck(f, clock)

	_, err := check.Check(context.Background())
	require.Error(t, err)
	_, err = check.Check(context.Background())
	require.Error(t, err)

	state := check.State()
	require.True(t, state.LastCheckedAt.IsZero())
	require.Nil(t, state.LastSnapshot)
	require.Equal(t, int32(2), f.calls.Load())
}

func TestConcurrentChecksShareOneFetch(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	f := &scriptedFetcher{replies: []reply{{snap: BlockSnapshot{ParentHash: "0x1", TransactionCount: 1}}}}
	check := newCheck(f, clock)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = check.Check(context.Background())
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), f.calls.Load())
}
