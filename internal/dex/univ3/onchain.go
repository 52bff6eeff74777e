package univ3

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum" // CallMsg
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/you/dynfee/internal/dex/core"
	"github.com/you/dynfee/internal/multicall"
)

// Минимальный ABI пула: ликвидность, оракул и токены
const poolABI = `[
  {"inputs":[],"name":"liquidity","outputs":[{"internalType":"uint128","name":"","type":"uint128"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint32[]","name":"secondsAgos","type":"uint32[]"}],
   "name":"observe","outputs":[
     {"internalType":"int56[]","name":"tickCumulatives","type":"int56[]"},
     {"internalType":"uint160[]","name":"secondsPerLiquidityCumulativeX128s","type":"uint160[]"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"fee","outputs":[{"internalType":"uint24","name":"","type":"uint24"}],"stateMutability":"view","type":"function"}
]`

var poolABIParsed = mustABI(poolABI)

func mustABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return a
}

// PoolReader reads a live Uniswap V3 pool. It implements core.State and,
// with a multicall client, core.Snapshotter.
type PoolReader struct {
	addr common.Address
	ec   multicall.Caller
	mc   multicall.IClient // nil: no batched snapshot
	log  *zap.Logger

	mu     sync.Mutex
	tokens [2]*common.Address // token0/token1 never change, cache them
}

var (
	_ core.State       = (*PoolReader)(nil)
	_ core.Snapshotter = (*PoolReader)(nil)
)

func NewPoolReader(ec multicall.Caller, mc multicall.IClient, pool common.Address, log *zap.Logger) *PoolReader {
	if log == nil {
		log = zap.NewNop()
	}
	return &PoolReader{addr: pool, ec: ec, mc: mc, log: log}
}

func (r *PoolReader) Address() common.Address { return r.addr }

func (r *PoolReader) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	input, err := poolABIParsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := r.ec.CallContract(ctx, ethereum.CallMsg{To: &r.addr, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	outs, err := poolABIParsed.Methods[method].Outputs.Unpack(res)
	if err != nil || len(outs) == 0 {
		if err == nil {
			err = fmt.Errorf("empty %s output", method)
		}
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	return outs, nil
}

func (r *PoolReader) Liquidity(ctx context.Context) (*big.Int, error) {
	outs, err := r.call(ctx, "liquidity")
	if err != nil {
		return nil, err
	}
	return asBig(outs[0], "liquidity")
}

// Observe returns tick cumulatives for secondsAgos. A revert (the pool says
// "OLD" when the lookback is older than its oldest observation) is reported
// as core.ErrInsufficientHistory.
func (r *PoolReader) Observe(ctx context.Context, secondsAgos []uint32) ([]*big.Int, error) {
	outs, err := r.call(ctx, "observe", secondsAgos)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %v", core.ErrInsufficientHistory, err)
		}
		return nil, err
	}
	return tickCumulatives(outs, len(secondsAgos))
}

func (r *PoolReader) Token0(ctx context.Context) (common.Address, error) { return r.token(ctx, 0) }
func (r *PoolReader) Token1(ctx context.Context) (common.Address, error) { return r.token(ctx, 1) }

func (r *PoolReader) token(ctx context.Context, i int) (common.Address, error) {
	r.mu.Lock()
	cached := r.tokens[i]
	r.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	outs, err := r.call(ctx, fmt.Sprintf("token%d", i))
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := outs[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected token%d type %T", i, outs[0])
	}
	r.mu.Lock()
	r.tokens[i] = &addr
	r.mu.Unlock()
	return addr, nil
}

// Fee is the pool's static fee tier, for display only.
func (r *PoolReader) Fee(ctx context.Context) (uint32, error) {
	outs, err := r.call(ctx, "fee")
	if err != nil {
		return 0, err
	}
	v, err := asBig(outs[0], "fee")
	if err != nil {
		return 0, err
	}
	return uint32(v.Uint64()), nil
}

// Snapshot reads liquidity and the accumulators in one multicall, so both
// come from the same block. Without a multicall client it falls back to two
// calls.
func (r *PoolReader) Snapshot(ctx context.Context, secondsAgos []uint32) (core.Snapshot, error) {
	if r.mc == nil {
		liq, err := r.Liquidity(ctx)
		if err != nil {
			return core.Snapshot{}, err
		}
		cums, err := r.Observe(ctx, secondsAgos)
		if err != nil {
			return core.Snapshot{}, err
		}
		return core.Snapshot{Liquidity: liq, TickCumulatives: cums}, nil
	}

	liqData, err := poolABIParsed.Pack("liquidity")
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("pack liquidity: %w", err)
	}
	obsData, err := poolABIParsed.Pack("observe", secondsAgos)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("pack observe: %w", err)
	}
	res, err := r.mc.Aggregate(ctx, []multicall.Call{
		{Target: r.addr, CallData: liqData},
		{Target: r.addr, CallData: obsData},
	})
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("snapshot %s: %w", r.addr.Hex(), err)
	}
	if len(res) != 2 {
		return core.Snapshot{}, fmt.Errorf("snapshot %s: %d results", r.addr.Hex(), len(res))
	}

	if !res[0].Success {
		return core.Snapshot{}, fmt.Errorf("liquidity reverted: %s", revertReason(res[0].ReturnData))
	}
	liqOuts, err := poolABIParsed.Methods["liquidity"].Outputs.Unpack(res[0].ReturnData)
	if err != nil || len(liqOuts) == 0 {
		return core.Snapshot{}, fmt.Errorf("decode liquidity: %w", err)
	}
	liq, err := asBig(liqOuts[0], "liquidity")
	if err != nil {
		return core.Snapshot{}, err
	}

	if !res[1].Success {
		reason := revertReason(res[1].ReturnData)
		r.log.Debug("observe reverted", zap.String("pool", r.addr.Hex()), zap.String("reason", reason))
		return core.Snapshot{}, fmt.Errorf("%w: observe reverted: %s", core.ErrInsufficientHistory, reason)
	}
	obsOuts, err := poolABIParsed.Methods["observe"].Outputs.Unpack(res[1].ReturnData)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("decode observe: %w", err)
	}
	cums, err := tickCumulatives(obsOuts, len(secondsAgos))
	if err != nil {
		return core.Snapshot{}, err
	}
	return core.Snapshot{Liquidity: liq, TickCumulatives: cums}, nil
}

func tickCumulatives(outs []interface{}, want int) ([]*big.Int, error) {
	if len(outs) == 0 {
		return nil, errors.New("decode observe: empty output")
	}
	cums, ok := outs[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected tickCumulatives type %T", outs[0])
	}
	if len(cums) != want {
		return nil, fmt.Errorf("observe: %d cumulatives for %d offsets", len(cums), want)
	}
	return cums, nil
}

func asBig(v interface{}, what string) (*big.Int, error) {
	switch x := v.(type) {
	case *big.Int:
		return x, nil
	case uint64:
		return new(big.Int).SetUint64(x), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(x)), nil
	default:
		return nil, fmt.Errorf("unexpected %s type %T", what, v)
	}
}

func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}

func revertReason(data []byte) string {
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	if len(data) == 0 {
		return "no reason"
	}
	return common.Bytes2Hex(data)
}
