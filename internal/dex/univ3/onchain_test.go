package univ3

import (
	"context"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/dynfee/internal/dex/core"
	"github.com/you/dynfee/internal/multicall"
)

// MockMulticallClient is a mock implementation of the multicall client for testing.
type MockMulticallClient struct {
	Results []multicall.Result
	Error   error
	Calls   []multicall.Call
}

func (m *MockMulticallClient) Aggregate(_ context.Context, calls []multicall.Call) ([]multicall.Result, error) {
	m.Calls = calls
	if m.Error != nil {
		return nil, m.Error
	}
	return m.Results, nil
}

// fakeEth answers eth_call by method selector.
type fakeEth struct {
	handlers map[string]func(to common.Address, data []byte) ([]byte, error)
	calls    map[string]int
}

func newFakeEth() *fakeEth {
	return &fakeEth{
		handlers: map[string]func(common.Address, []byte) ([]byte, error){},
		calls:    map[string]int{},
	}
}

func (f *fakeEth) on(sel []byte, h func(common.Address, []byte) ([]byte, error)) {
	f.handlers[string(sel)] = h
}

func (f *fakeEth) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	sel := string(msg.Data[:4])
	f.calls[sel]++
	h, ok := f.handlers[sel]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return h(*msg.To, msg.Data)
}

var (
	testPool = common.HexToAddress("0x0000000000000000000000000000000000000b00")
	tokA     = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	tokB     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func packOut(t *testing.T, method string, vals ...interface{}) []byte {
	t.Helper()
	out, err := poolABIParsed.Methods[method].Outputs.Pack(vals...)
	require.NoError(t, err)
	return out
}

func id(method string) []byte { return poolABIParsed.Methods[method].ID }

func livePool(t *testing.T) *fakeEth {
	f := newFakeEth()
	liq := packOut(t, "liquidity", big.NewInt(123456))
	obs := packOut(t, "observe",
		[]*big.Int{big.NewInt(-1000), big.NewInt(-400)},
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
	)
	t0 := packOut(t, "token0", tokA)
	f.on(id("liquidity"), func(common.Address, []byte) ([]byte, error) { return liq, nil })
	f.on(id("observe"), func(common.Address, []byte) ([]byte, error) { return obs, nil })
	f.on(id("token0"), func(common.Address, []byte) ([]byte, error) { return t0, nil })
	f.on(id("fee"), func(common.Address, []byte) ([]byte, error) {
		return packOut(t, "fee", big.NewInt(3000)), nil
	})
	return f
}

func TestPoolReader_Reads(t *testing.T) {
	f := livePool(t)
	r := NewPoolReader(f, nil, testPool, zap.NewNop())
	ctx := context.Background()

	liq, err := r.Liquidity(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(123456), liq.Int64())

	cums, err := r.Observe(ctx, []uint32{86400, 0})
	require.NoError(t, err)
	require.Len(t, cums, 2)
	assert.Equal(t, int64(-1000), cums[0].Int64())
	assert.Equal(t, int64(-400), cums[1].Int64())

	for i := 0; i < 3; i++ {
		tok, err := r.Token0(ctx)
		require.NoError(t, err)
		assert.Equal(t, tokA, tok)
	}
	assert.Equal(t, 1, f.calls[string(id("token0"))], "token0 is cached")

	fee, err := r.Fee(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(3000), fee)
}

func TestPoolReader_ObserveRevertIsInsufficientHistory(t *testing.T) {
	f := livePool(t)
	f.on(id("observe"), func(common.Address, []byte) ([]byte, error) {
		return nil, errors.New("execution reverted: OLD")
	})
	r := NewPoolReader(f, nil, testPool, nil)
	_, err := r.Observe(context.Background(), []uint32{86400, 0})
	assert.ErrorIs(t, err, core.ErrInsufficientHistory)

	boom := errors.New("connection refused")
	f.on(id("observe"), func(common.Address, []byte) ([]byte, error) { return nil, boom })
	_, err = r.Observe(context.Background(), []uint32{86400, 0})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, core.ErrInsufficientHistory)
}

func TestPoolReader_SnapshotViaMulticall(t *testing.T) {
	mc := &MockMulticallClient{Results: []multicall.Result{
		{Success: true, ReturnData: packOut(t, "liquidity", big.NewInt(77))},
		{Success: true, ReturnData: packOut(t, "observe",
			[]*big.Int{big.NewInt(10), big.NewInt(25)},
			[]*big.Int{big.NewInt(0), big.NewInt(0)},
		)},
	}}
	f := newFakeEth()
	r := NewPoolReader(f, mc, testPool, zap.NewNop())

	snap, err := r.Snapshot(context.Background(), []uint32{86400, 0})
	require.NoError(t, err)
	assert.Equal(t, int64(77), snap.Liquidity.Int64())
	assert.Equal(t, int64(25), snap.TickCumulatives[1].Int64())
	require.Len(t, mc.Calls, 2)
	assert.Equal(t, testPool, mc.Calls[0].Target)
	assert.Empty(t, f.calls, "no direct eth_call when batching")
}

func TestPoolReader_SnapshotObserveRevert(t *testing.T) {
	mc := &MockMulticallClient{Results: []multicall.Result{
		{Success: true, ReturnData: packOut(t, "liquidity", big.NewInt(77))},
		{Success: false, ReturnData: []byte{}},
	}}
	r := NewPoolReader(newFakeEth(), mc, testPool, zap.NewNop())
	_, err := r.Snapshot(context.Background(), []uint32{86400, 0})
	assert.ErrorIs(t, err, core.ErrInsufficientHistory)
}

func TestPoolReader_SnapshotFallback(t *testing.T) {
	r := NewPoolReader(livePool(t), nil, testPool, zap.NewNop())
	snap, err := r.Snapshot(context.Background(), []uint32{86400, 0})
	require.NoError(t, err)
	assert.Equal(t, int64(123456), snap.Liquidity.Int64())
	assert.Len(t, snap.TickCumulatives, 2)
}

func TestCheckAvailableFeeTiers(t *testing.T) {
	f := newFakeEth()
	var seen [][2]common.Address
	f.on(factoryABIParsed.Methods["getPool"].ID, func(to common.Address, data []byte) ([]byte, error) {
		args, err := factoryABIParsed.Methods["getPool"].Inputs.Unpack(data[4:])
		if err != nil {
			return nil, err
		}
		seen = append(seen, [2]common.Address{args[0].(common.Address), args[1].(common.Address)})
		fee := args[2].(*big.Int).Uint64()
		pool := common.Address{}
		if fee == 3000 {
			pool = testPool
		}
		return factoryABIParsed.Methods["getPool"].Outputs.Pack(pool)
	})

	present, pools, err := CheckAvailableFeeTiers(context.Background(), f, UniswapV3Factory, tokB, tokA, []uint32{500, 3000, 10000})
	require.NoError(t, err)
	assert.Equal(t, []uint32{3000}, present)
	assert.Equal(t, testPool, pools[3000])
	for _, pair := range seen {
		assert.Equal(t, tokA, pair[0], "tokens are sorted")
	}

	_, _, err = CheckAvailableFeeTiers(context.Background(), f, UniswapV3Factory, common.Address{}, tokA, []uint32{500})
	assert.Error(t, err)
}
