package core

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInsufficientHistory is returned by Observe when the pool does not hold
// observations old enough for the requested lookback.
var ErrInsufficientHistory = errors.New("pool: insufficient observation history")

// State is the read-only side of a concentrated-liquidity pool.
type State interface {
	Address() common.Address
	Liquidity(ctx context.Context) (*big.Int, error)
	// Observe returns tick cumulatives for each entry of secondsAgos, in order.
	Observe(ctx context.Context, secondsAgos []uint32) ([]*big.Int, error)
	Token0(ctx context.Context) (common.Address, error)
	Token1(ctx context.Context) (common.Address, error)
}

// Snapshotter is implemented by pools that can read liquidity and
// cumulatives in one consistent call.
type Snapshotter interface {
	Snapshot(ctx context.Context, secondsAgos []uint32) (Snapshot, error)
}

type Snapshot struct {
	Liquidity       *big.Int
	TickCumulatives []*big.Int
}

// SwapCallback is invoked by the pool, inside Swap, to collect what the payer owes.
// Positive deltas are owed to the pool.
type SwapCallback interface {
	SwapSettlement(ctx context.Context, caller common.Address, amount0Delta, amount1Delta *big.Int, data []byte) error
}

// MintCallback is invoked by the pool, inside Mint, to collect the liquidity deposit.
type MintCallback interface {
	MintSettlement(ctx context.Context, caller common.Address, amount0Owed, amount1Owed *big.Int, data []byte) error
}

// Pool is a pool the engine can trade against. Swap and Mint must call the
// payer's callback synchronously before returning, and must fail when the
// callback fails.
type Pool interface {
	State
	Swap(ctx context.Context, payer SwapCallback, recipient common.Address, zeroForOne bool, amountSpecified, sqrtPriceLimitX96 *big.Int, data []byte) (amount0, amount1 *big.Int, err error)
	Mint(ctx context.Context, payer MintCallback, recipient common.Address, tickLower, tickUpper int32, amount *big.Int, data []byte) (amount0, amount1 *big.Int, err error)
}
