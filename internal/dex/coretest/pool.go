// Package coretest provides an in-memory core.Pool for tests. It has no
// pricing curve: swap and mint amounts come from plain functions.
package coretest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/you/dynfee/internal/dex/core"
)

type Pool struct {
	mu sync.Mutex

	Addr   common.Address
	T0, T1 common.Address
	Liq    *big.Int
	// Cums maps secondsAgo to the tick cumulative at that offset.
	Cums map[uint32]*big.Int

	LiquidityErr error
	ObserveErr   error
	SwapErr      error // returned before the callback

	// SwapDeltas decides the deltas for a swap. Defaults to exact-input:
	// the input leg owes amountSpecified, the output leg receives half of it.
	SwapDeltas func(zeroForOne bool, amountSpecified *big.Int) (amount0, amount1 *big.Int)
	// MintOwed decides the amounts owed for a mint. Defaults to amount on both legs.
	MintOwed func(amount *big.Int) (amount0, amount1 *big.Int)

	// CallbackAs, if set, is passed as the caller instead of Addr.
	CallbackAs   common.Address
	SkipCallback bool
	// Tamper rewrites callback data before it is handed back.
	Tamper func([]byte) []byte

	LastData  []byte
	SwapCalls int
	MintCalls int
	Observes  int
}

var _ core.Pool = (*Pool)(nil)

// New builds a pool with the given liquidity and a {window, 0} accumulator
// pair that drifts by drift over the window.
func New(addr common.Address, liquidity *big.Int, window uint32, drift *big.Int) *Pool {
	return &Pool{
		Addr: addr,
		T0:   common.HexToAddress("0x00000000000000000000000000000000000000a0"),
		T1:   common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Liq:  liquidity,
		Cums: map[uint32]*big.Int{
			window: big.NewInt(1_000_000),
			0:      new(big.Int).Add(big.NewInt(1_000_000), drift),
		},
	}
}

func (p *Pool) Address() common.Address { return p.Addr }

func (p *Pool) Liquidity(context.Context) (*big.Int, error) {
	if p.LiquidityErr != nil {
		return nil, p.LiquidityErr
	}
	return new(big.Int).Set(p.Liq), nil
}

func (p *Pool) Observe(_ context.Context, secondsAgos []uint32) ([]*big.Int, error) {
	p.mu.Lock()
	p.Observes++
	p.mu.Unlock()
	if p.ObserveErr != nil {
		return nil, p.ObserveErr
	}
	out := make([]*big.Int, 0, len(secondsAgos))
	for _, s := range secondsAgos {
		c, ok := p.Cums[s]
		if !ok {
			return nil, fmt.Errorf("observe %d: %w", s, core.ErrInsufficientHistory)
		}
		out = append(out, new(big.Int).Set(c))
	}
	return out, nil
}

func (p *Pool) Token0(context.Context) (common.Address, error) { return p.T0, nil }
func (p *Pool) Token1(context.Context) (common.Address, error) { return p.T1, nil }

func (p *Pool) Swap(ctx context.Context, payer core.SwapCallback, _ common.Address, zeroForOne bool, amountSpecified, _ *big.Int, data []byte) (*big.Int, *big.Int, error) {
	p.SwapCalls++
	p.LastData = data
	if p.SwapErr != nil {
		return nil, nil, p.SwapErr
	}
	deltas := p.SwapDeltas
	if deltas == nil {
		deltas = exactInput
	}
	a0, a1 := deltas(zeroForOne, amountSpecified)
	if !p.SkipCallback {
		if err := payer.SwapSettlement(ctx, p.caller(), a0, a1, p.data(data)); err != nil {
			return nil, nil, fmt.Errorf("swap callback: %w", err)
		}
	}
	return a0, a1, nil
}

func (p *Pool) Mint(ctx context.Context, payer core.MintCallback, _ common.Address, _, _ int32, amount *big.Int, data []byte) (*big.Int, *big.Int, error) {
	p.MintCalls++
	p.LastData = data
	owed := p.MintOwed
	if owed == nil {
		owed = func(a *big.Int) (*big.Int, *big.Int) { return new(big.Int).Set(a), new(big.Int).Set(a) }
	}
	a0, a1 := owed(amount)
	if !p.SkipCallback {
		if err := payer.MintSettlement(ctx, p.caller(), a0, a1, p.data(data)); err != nil {
			return nil, nil, fmt.Errorf("mint callback: %w", err)
		}
	}
	return a0, a1, nil
}

func (p *Pool) caller() common.Address {
	if p.CallbackAs != (common.Address{}) {
		return p.CallbackAs
	}
	return p.Addr
}

func (p *Pool) data(d []byte) []byte {
	if p.Tamper != nil {
		return p.Tamper(d)
	}
	return d
}

func exactInput(zeroForOne bool, amountSpecified *big.Int) (*big.Int, *big.Int) {
	in := new(big.Int).Set(amountSpecified)
	out := new(big.Int).Neg(new(big.Int).Quo(amountSpecified, big.NewInt(2)))
	if zeroForOne {
		return in, out
	}
	return out, in
}

// SnapshotPool is a Pool that also implements core.Snapshotter.
type SnapshotPool struct {
	*Pool
	Snapshots int
}

func (p *SnapshotPool) Snapshot(ctx context.Context, secondsAgos []uint32) (core.Snapshot, error) {
	p.Snapshots++
	liq, err := p.Liquidity(ctx)
	if err != nil {
		return core.Snapshot{}, err
	}
	cums, err := p.Observe(ctx, secondsAgos)
	if err != nil {
		return core.Snapshot{}, err
	}
	return core.Snapshot{Liquidity: liq, TickCumulatives: cums}, nil
}
