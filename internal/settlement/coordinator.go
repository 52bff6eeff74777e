// Package settlement runs the two-phase dynamic-fee operations against a pool:
// quote a fee, hand the operation to the pool, and settle what the pool asks
// for when it calls back. The coordinator is the only writer of the trade
// ledger.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/you/dynfee/internal/dex/core"
	"github.com/you/dynfee/internal/fee"
	"github.com/you/dynfee/internal/ledger"
	"github.com/you/dynfee/internal/metrics"
	"github.com/you/dynfee/internal/types"
)

// Treasury pays the owed legs. Snapshot/RevertToSnapshot make an operation's
// transfers undoable.
type Treasury interface {
	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error
	Snapshot() int
	RevertToSnapshot(id int)
	// Commit drops the journal once the operation is final either way.
	Commit()
}

// Settlement describes a completed operation.
type Settlement struct {
	OpID    uuid.UUID
	Kind    types.Kind
	Pool    common.Address
	Fee     uint32
	Amount0 *big.Int
	Amount1 *big.Int
	// Recorded is the ledger amount of a swap and Position its absolute
	// ledger position. Both are unset for a mint.
	Recorded *big.Int
	Position int
	At       int64
}

// EventSink is told about every committed operation. Sink errors are logged
// and never undo the operation.
type EventSink interface {
	PublishSettlement(ctx context.Context, s Settlement) error
}

type Options struct {
	Address  common.Address // the coordinator's own address, the payer of every leg
	Params   fee.Params
	Treasury Treasury
	Clock    func() time.Time
	Sinks    []EventSink
	Log      *zap.Logger
}

type opState int

const (
	statePending opState = iota
	stateSettled
	// stateFailed: a callback errored. The operation can no longer settle.
	stateFailed
)

type inflight struct {
	id    uuid.UUID
	kind  types.Kind
	pool  core.State
	fee   uint32
	at    int64
	state opState

	recorded *big.Int
	position int
}

type Coordinator struct {
	addr     common.Address
	ledger   *ledger.Ledger
	model    *fee.Model
	treasury Treasury
	clock    func() time.Time
	sinks    []EventSink
	log      *zap.Logger

	// opMu serializes whole operations, initiate through settle.
	opMu sync.Mutex
	// stateMu guards the in-flight operation; callbacks re-enter under opMu.
	stateMu sync.Mutex
	op      *inflight
	lastNow int64
}

func New(o Options) (*Coordinator, error) {
	if o.Treasury == nil {
		return nil, errors.New("settlement: nil treasury")
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	l := ledger.New(int64(o.Params.Window))
	m, err := fee.NewModel(o.Params, l)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		addr:     o.Address,
		ledger:   l,
		model:    m,
		treasury: o.Treasury,
		clock:    o.Clock,
		sinks:    o.Sinks,
		log:      o.Log,
	}, nil
}

func (c *Coordinator) Address() common.Address { return c.addr }

// Params returns the fee parameters the coordinator was built with.
func (c *Coordinator) Params() fee.Params { return c.model.Params() }

// now is the engine clock in unix seconds. It never goes backwards, so the
// ledger always receives non-decreasing timestamps.
func (c *Coordinator) now() int64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	t := c.clock().Unix()
	if t < c.lastNow {
		t = c.lastNow
	}
	c.lastNow = t
	return t
}

/* ---------- read operations ---------- */

// CalculateFee returns the fee an operation on s would be charged now.
func (c *Coordinator) CalculateFee(ctx context.Context, s core.State) (uint32, error) {
	q, err := c.QuoteFee(ctx, s)
	if err != nil {
		return 0, err
	}
	return q.Fee, nil
}

// QuoteFee is CalculateFee with the full breakdown.
func (c *Coordinator) QuoteFee(ctx context.Context, s core.State) (fee.Quote, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.model.Quote(ctx, s, c.now())
}

// Calculate24hVolume is the windowed trade volume as of now.
func (c *Coordinator) Calculate24hVolume() *big.Int {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.ledger.WindowedSum(c.now())
}

func (c *Coordinator) CalculateVolatility(ctx context.Context, s core.State) (*big.Int, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return fee.MeasureVolatility(ctx, s, c.model.Params().Window)
}

// TradeCount is the number of trades ever recorded.
func (c *Coordinator) TradeCount() int { return c.ledger.Len() }

// TradeAt returns the trade at absolute position i.
func (c *Coordinator) TradeAt(i int) (types.TradeRecord, error) { return c.ledger.At(i) }

// Trades returns the retained trades and the position of the first one.
func (c *Coordinator) Trades() (int, []types.TradeRecord) { return c.ledger.Records() }

/* ---------- entry operations ---------- */

type SwapResult struct {
	OpID     uuid.UUID
	Fee      uint32
	Amount0  *big.Int
	Amount1  *big.Int
	Recorded *big.Int
	Position int
}

type MintResult struct {
	OpID    uuid.UUID
	Fee     uint32
	Amount0 *big.Int
	Amount1 *big.Int
}

// SwapWithDynamicFee quotes a fee for p and swaps through it. The pool must
// call SwapSettlement before returning. On any error the ledger and the
// treasury are left as they were.
func (c *Coordinator) SwapWithDynamicFee(
	ctx context.Context,
	p core.Pool,
	recipient common.Address,
	dir types.Direction,
	amountSpecified, sqrtPriceLimitX96 *big.Int,
	aux []byte,
) (SwapResult, error) {
	if !dir.Valid() {
		return SwapResult{}, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	if amountSpecified == nil || amountSpecified.Sign() == 0 {
		return SwapResult{}, ErrZeroAmount
	}
	if sqrtPriceLimitX96 == nil {
		sqrtPriceLimitX96 = new(big.Int)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	var a0, a1 *big.Int
	op, err := c.run(ctx, types.KindSwap, p, aux, func(data []byte) error {
		var err error
		a0, a1, err = p.Swap(ctx, c, recipient, dir.ZeroForOne(), amountSpecified, sqrtPriceLimitX96, data)
		return err
	})
	if err != nil {
		return SwapResult{}, err
	}

	res := SwapResult{
		OpID: op.id, Fee: op.fee,
		Amount0: a0, Amount1: a1,
		Recorded: op.recorded, Position: op.position,
	}
	c.committed(ctx, op, a0, a1)
	return res, nil
}

// AddLiquidityWithDynamicFee quotes a fee for p and mints through it. Mints
// are never recorded as trade volume.
func (c *Coordinator) AddLiquidityWithDynamicFee(
	ctx context.Context,
	p core.Pool,
	recipient common.Address,
	tickLower, tickUpper int32,
	amount *big.Int,
	aux []byte,
) (MintResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return MintResult{}, ErrZeroAmount
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	var a0, a1 *big.Int
	op, err := c.run(ctx, types.KindMint, p, aux, func(data []byte) error {
		var err error
		a0, a1, err = p.Mint(ctx, c, recipient, tickLower, tickUpper, amount, data)
		return err
	})
	if err != nil {
		return MintResult{}, err
	}
	c.committed(ctx, op, a0, a1)
	return MintResult{OpID: op.id, Fee: op.fee, Amount0: a0, Amount1: a1}, nil
}

// run quotes, opens the in-flight operation, calls the pool and checks that
// it settled. Must be called with opMu held.
func (c *Coordinator) run(ctx context.Context, kind types.Kind, p core.Pool, aux []byte, call func(data []byte) error) (*inflight, error) {
	now := c.now()
	if n := c.ledger.Prune(now); n > 0 {
		c.log.Debug("ledger pruned", zap.Int("dropped", n), zap.Int("retained", c.ledger.Retained()))
	}
	metrics.LedgerRetained.Set(float64(c.ledger.Retained()))

	start := time.Now()
	q, err := c.model.Quote(ctx, p, now)
	metrics.QuoteLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.fail(kind, p, "quote", fmt.Errorf("quote %s: %w", p.Address().Hex(), err))
	}

	op := &inflight{id: uuid.New(), kind: kind, pool: p, fee: q.Fee, at: now, state: statePending, position: -1}
	data, err := encodeCallbackData(callbackData{Fee: q.Fee, OpID: op.id, Aux: aux})
	if err != nil {
		return nil, c.fail(kind, p, "encode", err)
	}

	ledgerRev := c.ledger.Snapshot()
	treasuryRev := c.treasury.Snapshot()
	c.open(op)
	defer c.close()

	defer c.treasury.Commit()

	err = call(data)
	if err == nil && !c.settled() {
		err = ErrUnsettled
	}
	if err != nil {
		c.ledger.RevertToSnapshot(ledgerRev)
		c.treasury.RevertToSnapshot(treasuryRev)
		return nil, c.fail(kind, p, reason(err), fmt.Errorf("%s %s: %w", kind, p.Address().Hex(), err))
	}
	return op, nil
}

func (c *Coordinator) open(op *inflight) {
	c.stateMu.Lock()
	c.op = op
	c.stateMu.Unlock()
}

func (c *Coordinator) close() {
	c.stateMu.Lock()
	c.op = nil
	c.stateMu.Unlock()
}

func (c *Coordinator) settled() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.op != nil && c.op.state == stateSettled
}

func (c *Coordinator) committed(ctx context.Context, op *inflight, a0, a1 *big.Int) {
	metrics.Settlements.WithLabelValues(string(op.kind)).Inc()
	metrics.LedgerRetained.Set(float64(c.ledger.Retained()))

	s := Settlement{
		OpID: op.id, Kind: op.kind, Pool: op.pool.Address(), Fee: op.fee,
		Amount0: a0, Amount1: a1, Position: op.position, At: op.at,
	}
	if op.kind == types.KindSwap {
		s.Recorded = op.recorded
	}
	c.log.Info("operation settled",
		zap.String("op", op.id.String()),
		zap.String("kind", string(op.kind)),
		zap.String("pool", s.Pool.Hex()),
		zap.Uint32("fee", op.fee),
		zap.Stringer("amount0", a0),
		zap.Stringer("amount1", a1),
	)
	for _, sink := range c.sinks {
		if err := sink.PublishSettlement(ctx, s); err != nil {
			c.log.Warn("publish settlement", zap.String("op", op.id.String()), zap.Error(err))
		}
	}
}

func (c *Coordinator) fail(kind types.Kind, p core.State, why string, err error) error {
	metrics.Failures.WithLabelValues(why).Inc()
	c.log.Warn("operation aborted",
		zap.String("kind", string(kind)),
		zap.String("pool", p.Address().Hex()),
		zap.String("reason", why),
		zap.Error(err),
	)
	return err
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorizedCallback):
		return "unauthorized"
	case errors.Is(err, ErrTransferFailure):
		return "transfer"
	case errors.Is(err, ErrUnsettled):
		return "unsettled"
	default:
		return "pool"
	}
}

/* ---------- callbacks ---------- */

// SwapSettlement records the trade and pays the legs the coordinator owes.
// Only the pool of the pending swap may call it, once, with the data it was
// handed. A failed call leaves no trace and the swap cannot settle anymore.
func (c *Coordinator) SwapSettlement(ctx context.Context, caller common.Address, amount0Delta, amount1Delta *big.Int, data []byte) error {
	op, err := c.authorize(types.KindSwap, caller, data)
	if err != nil {
		return err
	}

	amount := recordedAmount(amount0Delta, amount1Delta)
	pos := c.ledger.Len()
	return c.settle(op, func() error {
		if err := c.ledger.Append(amount, op.at); err != nil {
			return fmt.Errorf("record trade: %w", err)
		}
		if err := c.payLegs(ctx, op.pool, amount0Delta, amount1Delta); err != nil {
			return err
		}
		op.recorded, op.position = amount, pos
		return nil
	})
}

// MintSettlement pays the amounts owed for a mint. It never touches the ledger.
func (c *Coordinator) MintSettlement(ctx context.Context, caller common.Address, amount0Owed, amount1Owed *big.Int, data []byte) error {
	op, err := c.authorize(types.KindMint, caller, data)
	if err != nil {
		return err
	}
	return c.settle(op, func() error {
		return c.payLegs(ctx, op.pool, amount0Owed, amount1Owed)
	})
}

// settle runs the body of a callback as one unit: on error its ledger and
// treasury writes are undone and op is marked failed.
func (c *Coordinator) settle(op *inflight, body func() error) error {
	ledgerRev := c.ledger.Snapshot()
	treasuryRev := c.treasury.Snapshot()

	err := body()

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if err != nil {
		c.ledger.RevertToSnapshot(ledgerRev)
		c.treasury.RevertToSnapshot(treasuryRev)
		op.recorded, op.position = nil, -1
		op.state = stateFailed
		return err
	}
	op.state = stateSettled
	return nil
}

func (c *Coordinator) authorize(kind types.Kind, caller common.Address, data []byte) (*inflight, error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	op := c.op
	switch {
	case op == nil:
		return nil, fmt.Errorf("%w: no operation in flight", ErrUnauthorizedCallback)
	case op.state == stateSettled:
		return nil, fmt.Errorf("%w: operation %s already settled", ErrUnauthorizedCallback, op.id)
	case op.state == stateFailed:
		return nil, fmt.Errorf("%w: operation %s failed to settle", ErrUnauthorizedCallback, op.id)
	case op.kind != kind:
		return nil, fmt.Errorf("%w: %s callback for %s operation", ErrUnauthorizedCallback, kind, op.kind)
	case caller != op.pool.Address():
		return nil, fmt.Errorf("%w: caller %s is not pool %s", ErrUnauthorizedCallback, caller.Hex(), op.pool.Address().Hex())
	}
	d, err := decodeCallbackData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorizedCallback, err)
	}
	if d.OpID != op.id || d.Fee != op.fee {
		return nil, fmt.Errorf("%w: callback data does not belong to operation %s", ErrUnauthorizedCallback, op.id)
	}
	return op, nil
}

func (c *Coordinator) payLegs(ctx context.Context, p core.State, amount0, amount1 *big.Int) error {
	for i, amt := range []*big.Int{amount0, amount1} {
		if amt == nil || amt.Sign() <= 0 {
			continue
		}
		token, err := token(ctx, p, i)
		if err != nil {
			return fmt.Errorf("%w: token%d of %s: %w", ErrTransferFailure, i, p.Address().Hex(), err)
		}
		if err := c.treasury.Transfer(ctx, token, p.Address(), amt); err != nil {
			return fmt.Errorf("%w: pay %s %s: %w", ErrTransferFailure, amt, token.Hex(), err)
		}
	}
	return nil
}

func token(ctx context.Context, p core.State, i int) (common.Address, error) {
	if i == 0 {
		return p.Token0(ctx)
	}
	return p.Token1(ctx)
}

// recordedAmount is |amount0 > 0 ? amount0 : amount1|, the owed leg of a swap.
func recordedAmount(amount0, amount1 *big.Int) *big.Int {
	v := amount1
	if amount0 != nil && amount0.Sign() > 0 {
		v = amount0
	}
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Abs(v)
}
