package redisfeed

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/dynfee/internal/fee"
	"github.com/you/dynfee/internal/settlement"
	"github.com/you/dynfee/internal/types"
)

var pool = common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")

func setup(t *testing.T) (*miniredis.Miniredis, *Publisher, *Consumer) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewPublisherWithClient(rdb, DefaultKeys()), NewConsumerWithClient(rdb, DefaultKeys(), zap.NewNop())
}

func testQuote() fee.Quote {
	return fee.Quote{
		Fee:        2900,
		Volume:     big.NewInt(5000),
		Liquidity:  big.NewInt(2000),
		Volatility: big.NewInt(1000),
		At:         1_700_000_000,
	}
}

func TestPublishQuote_LatestRoundTrip(t *testing.T) {
	mr, pub, cons := setup(t)
	ctx := context.Background()

	_, err := cons.LatestQuote(ctx, pool)
	assert.ErrorIs(t, err, redis.Nil)

	require.NoError(t, pub.PublishQuote(ctx, "weth-usdc", pool, testQuote()))

	got, err := cons.LatestQuote(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, "weth-usdc", got.Name)
	assert.Equal(t, pool, got.Pool)
	assert.Equal(t, uint32(2900), got.Fee)
	assert.Equal(t, "0.29", got.FeePct)
	assert.Equal(t, "2000", got.Liquidity)
	assert.Equal(t, int64(1_700_000_000), got.TS)

	stream, err := mr.Stream("fee:stream")
	require.NoError(t, err)
	assert.Len(t, stream, 1)

	active, err := cons.ActivePools(ctx, 1_600_000_000)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{pool}, active)
	active, err = cons.ActivePools(ctx, 1_800_000_000)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestPublishSettlement(t *testing.T) {
	mr, pub, _ := setup(t)
	id := uuid.New()
	require.NoError(t, pub.PublishSettlement(context.Background(), settlement.Settlement{
		OpID: id, Kind: types.KindSwap, Pool: pool, Fee: 500,
		Amount0: big.NewInt(1000), Amount1: big.NewInt(-500),
		Recorded: big.NewInt(1000), Position: 7, At: 1_700_000_000,
	}))
	require.NoError(t, pub.PublishSettlement(context.Background(), settlement.Settlement{
		OpID: uuid.New(), Kind: types.KindMint, Pool: pool, Fee: 500,
		Amount0: big.NewInt(1), Amount1: big.NewInt(1), Position: -1,
	}))

	entries, err := mr.Stream("fee:trades")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	swap := toMap(entries[0].Values)
	assert.Equal(t, id.String(), swap["op"])
	assert.Equal(t, "swap", swap["kind"])
	assert.Equal(t, "1000", swap["recorded"])
	assert.Equal(t, "7", swap["position"])

	mint := toMap(entries[1].Values)
	assert.Equal(t, "mint", mint["kind"])
	_, ok := mint["recorded"]
	assert.False(t, ok)
}

func TestStreamConsumeQuotes(t *testing.T) {
	_, pub, cons := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan QuoteMeta, 4)
	done := make(chan error, 1)
	go func() { done <- cons.StreamConsumeQuotes(ctx, "dash", "c1", out) }()

	// группа создаётся с "$", поэтому публикуем после её появления
	require.Eventually(t, func() bool {
		return pub.rdb.Exists(context.Background(), "fee:stream").Val() == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, pub.PublishQuote(context.Background(), "weth-usdc", pool, testQuote()))

	select {
	case q := <-out:
		assert.Equal(t, pool, q.Pool)
		assert.Equal(t, uint32(2900), q.Fee)
	case <-time.After(3 * time.Second):
		t.Fatal("no quote consumed")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

// miniredis keeps stream values as a flat key/value list.
func toMap(kv []string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}
