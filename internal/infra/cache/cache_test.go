package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/pricebridge/internal/domain/pair"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

func TestKeyIsCaseInsensitive(t *testing.T) {
	a := Key("MetalsAPI", "Latest", schema.Result{Pair: pair.New("XAU", "USD")})
	b := Key("metalsapi", "latest", schema.Result{Pair: pair.New("xau", "usd")})
	require.Equal(t, a, b)
	require.Equal(t, "metalsapi|latest|base=xau,quote=usd", a)

	c := Key("coinpaprika", "dominance", schema.Result{Params: map[string]string{"market": "BTC"}})
	require.Equal(t, "coinpaprika|dominance|market=btc", c)
}

func TestMemoryStoreExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	entries := Entries("twosigma", "price", []schema.Result{{Pair: pair.New("ETH", "USD"), Value: 1800}})
	require.NoError(t, store.Put(ctx, entries))

	got, ok, err := store.Get(ctx, entries[0].Key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1800.0, got.Value)

	now = now.Add(time.Minute)
	_, ok, err = store.Get(ctx, entries[0].Key)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, store.Sweep())
	require.Equal(t, 0, store.Len())
}

func TestTeeJoinsErrors(t *testing.T) {
	store := NewMemoryStore(0)
	boom := errors.New("archive down")
	sink := Tee(store, nil, SinkFunc(func(context.Context, []Entry) error { return boom }))

	entries := Entries("cryptocompare", "crypto", []schema.Result{{Pair: pair.New("BTC", "USD"), Value: 42000}})
	err := sink.Put(context.Background(), entries)
	require.ErrorIs(t, err, boom)

	_, ok, _ := store.Get(context.Background(), entries[0].Key)
	require.True(t, ok, "healthy sinks still receive entries")
}

func TestRedisStorePut(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "pb:", 90*time.Second)
	result := schema.Result{Pair: pair.New("XAU", "USD"), Value: 1950.5}
	payload, err := json.Marshal(result)
	require.NoError(t, err)

	key := Key("metalsapi", "latest", result)
	mock.ExpectSet("pb:"+key, string(payload), 90*time.Second).SetVal("OK")

	require.NoError(t, store.Put(context.Background(), []Entry{{Key: key, Result: result}}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "pb:", time.Minute)
	ctx := context.Background()

	t.Run("hit decodes result", func(t *testing.T) {
		mock.ExpectGet("pb:k1").SetVal(`{"pair":{"base":"ETH","quote":"USD"},"result":1800.25}`)
		got, ok, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 1800.25, got.Value)
		require.Equal(t, "ETH", got.Pair.Base)
	})

	t.Run("miss is not an error", func(t *testing.T) {
		mock.ExpectGet("pb:k2").RedisNil()
		_, ok, err := store.Get(ctx, "k2")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("redis failure surfaces", func(t *testing.T) {
		mock.ExpectGet("pb:k3").SetErr(redis.TxFailedErr)
		_, _, err := store.Get(ctx, "k3")
		require.Error(t, err)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}
