package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisAdapter) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisAdapter(client, time.Hour, nil)
}

func testRecord(key string) domain.OperationRecord {
	return domain.OperationRecord{
		IdempotencyKey: key,
		OperationType:  domain.OperationDeduct,
		ResultSummary:  domain.DeductSummary("ITEM-1", 3, 10, 7),
		ProcessedAt:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRedisAdapter_Miss(t *testing.T) {
	_, adapter := newTestRedis(t)

	rec, err := adapter.Get(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRedisAdapter_PutThenGet(t *testing.T) {
	mr, adapter := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, adapter.Put(ctx, testRecord("k1")))

	rec, err := adapter.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, testRecord("k1"), *rec)

	assert.True(t, mr.Exists("ledger:k1"))
	assert.Equal(t, time.Hour, mr.TTL("ledger:k1"))
}

func TestRedisAdapter_PutDoesNotOverwrite(t *testing.T) {
	_, adapter := newTestRedis(t)
	ctx := context.Background()

	first := testRecord("k1")
	second := testRecord("k1")
	second.ResultSummary = "something else"

	require.NoError(t, adapter.Put(ctx, first))
	require.NoError(t, adapter.Put(ctx, second))

	rec, err := adapter.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, first.ResultSummary, rec.ResultSummary)
}

func TestRedisAdapter_Expiry(t *testing.T) {
	mr, adapter := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, adapter.Put(ctx, testRecord("k1")))
	mr.FastForward(2 * time.Hour)

	rec, err := adapter.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRedisAdapter_BreakerOpensWhenRedisIsDown(t *testing.T) {
	mr, adapter := newTestRedis(t)
	ctx := context.Background()
	mr.Close()

	for i := 0; i < 5; i++ {
		_, err := adapter.Get(ctx, "k1")
		require.Error(t, err)
	}

	_, err := adapter.Get(ctx, "k1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestRedisAdapter_CorruptPayload(t *testing.T) {
	mr, adapter := newTestRedis(t)
	require.NoError(t, mr.Set("ledger:bad", "{not json"))

	_, err := adapter.Get(context.Background(), "bad")
	assert.Error(t, err)
}
