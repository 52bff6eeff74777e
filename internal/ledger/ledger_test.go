package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowedSum_Empty(t *testing.T) {
	l := New(DefaultWindow)
	assert.Equal(t, 0, l.WindowedSum(1_700_000_000).Sign())
	assert.Equal(t, 0, l.Len())
}

func TestWindowedSum_BoundaryInclusive(t *testing.T) {
	const now = int64(1_700_000_000)
	l := New(DefaultWindow)
	require.NoError(t, l.Append(big.NewInt(1), now-DefaultWindow-1)) // just outside
	require.NoError(t, l.Append(big.NewInt(10), now-DefaultWindow))  // exactly on the boundary
	require.NoError(t, l.Append(big.NewInt(100), now-60))
	require.NoError(t, l.Append(big.NewInt(1000), now))

	assert.Equal(t, int64(1110), l.WindowedSum(now).Int64())
	assert.Equal(t, int64(1100), l.WindowedSum(now+1).Int64())
	assert.Equal(t, int64(1111), l.WindowedSum(now-1).Int64())
}

func TestWindowedSum_FutureRecordsCounted(t *testing.T) {
	l := New(DefaultWindow)
	require.NoError(t, l.Append(big.NewInt(7), 2_000))
	assert.Equal(t, int64(7), l.WindowedSum(1_000).Int64())
}

func TestAppend_ZeroAmountIsNeutral(t *testing.T) {
	const now = int64(500_000)
	a, b := New(DefaultWindow), New(DefaultWindow)
	for i, amt := range []int64{5, 9, 13} {
		ts := now - int64(3-i)*1000
		require.NoError(t, a.Append(big.NewInt(amt), ts))
		require.NoError(t, b.Append(big.NewInt(amt), ts))
	}
	require.NoError(t, b.Append(big.NewInt(0), now))

	for _, q := range []int64{now, now + 50_000, now + DefaultWindow} {
		assert.Equal(t, 0, a.WindowedSum(q).Cmp(b.WindowedSum(q)), "now=%d", q)
	}
}

func TestAppend_Rejects(t *testing.T) {
	l := New(DefaultWindow)
	assert.ErrorIs(t, l.Append(big.NewInt(-1), 10), ErrNegativeAmount)
	assert.ErrorIs(t, l.Append(nil, 10), ErrNegativeAmount)

	require.NoError(t, l.Append(big.NewInt(1), 10))
	require.NoError(t, l.Append(big.NewInt(1), 10))
	assert.ErrorIs(t, l.Append(big.NewInt(1), 9), ErrOutOfOrder)
	assert.Equal(t, 2, l.Len())
}

func TestPrune_KeepsSumsAndPositions(t *testing.T) {
	const day = DefaultWindow
	l := New(day)
	for i := int64(0); i < 10; i++ {
		require.NoError(t, l.Append(big.NewInt(i+1), i*3600*6)) // every 6h
	}
	now := int64(9 * 3600 * 6)
	before := l.WindowedSum(now)

	dropped := l.Prune(now)
	assert.Equal(t, 5, dropped) // ts 0..4*6h are older than 24h
	assert.Equal(t, 10, l.Len())
	assert.Equal(t, 5, l.Retained())
	assert.Equal(t, 0, before.Cmp(l.WindowedSum(now)))

	_, err := l.At(0)
	assert.ErrorIs(t, err, ErrPruned)
	r, err := l.At(7)
	require.NoError(t, err)
	assert.Equal(t, int64(8), r.Amount.Int64())
	_, err = l.At(10)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	first, recs := l.Records()
	assert.Equal(t, 5, first)
	require.Len(t, recs, 5)
	assert.Equal(t, int64(6), recs[0].Amount.Int64())
}

func TestPrune_NothingToDrop(t *testing.T) {
	l := New(DefaultWindow)
	require.NoError(t, l.Append(big.NewInt(3), 100))
	assert.Zero(t, l.Prune(100+DefaultWindow))
	assert.Equal(t, 1, l.Prune(101+DefaultWindow))
	assert.Equal(t, 0, l.WindowedSum(101+DefaultWindow).Sign())
}

func TestSnapshotRevert(t *testing.T) {
	l := New(DefaultWindow)
	require.NoError(t, l.Append(big.NewInt(1), 1))
	snap := l.Snapshot()
	require.NoError(t, l.Append(big.NewInt(2), 2))
	require.NoError(t, l.Append(big.NewInt(3), 3))
	assert.Equal(t, 3, l.Len())

	l.RevertToSnapshot(snap)
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, int64(1), l.WindowedSum(3).Int64())

	assert.Panics(t, func() { l.RevertToSnapshot(5) })
}

func TestAt_ReturnsCopy(t *testing.T) {
	l := New(DefaultWindow)
	amt := big.NewInt(42)
	require.NoError(t, l.Append(amt, 1))
	amt.SetInt64(0)

	r, err := l.At(0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), r.Amount.Int64())
	r.Amount.SetInt64(1)

	again, _ := l.At(0)
	assert.Equal(t, int64(42), again.Amount.Int64())
}
