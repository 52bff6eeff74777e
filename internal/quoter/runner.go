// Package quoter periodically quotes the dynamic fee of every registered pool
// and fans the quotes out to metrics, the redis feed and the dashboard.
package quoter

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/you/dynfee/internal/dex/core"
	"github.com/you/dynfee/internal/fee"
	imetrics "github.com/you/dynfee/internal/metrics"
)

// FeeQuoter is satisfied by the settlement coordinator.
type FeeQuoter interface {
	QuoteFee(ctx context.Context, s core.State) (fee.Quote, error)
}

type Sink interface {
	PublishQuote(ctx context.Context, name string, pool common.Address, q fee.Quote) error
}

type Runner struct {
	reg      *core.Registry
	q        FeeQuoter
	sinks    []Sink
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

func New(reg *core.Registry, q FeeQuoter, interval, rpcTimeout time.Duration, log *zap.Logger, sinks ...Sink) *Runner {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Runner{reg: reg, q: q, sinks: sinks, interval: interval, timeout: rpcTimeout, log: log}
}

// Run quotes once immediately and then on every tick until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Tick(ctx)
		}
	}
}

// Tick quotes every registered pool once. Failures are logged and counted,
// never fatal. It returns the quotes that succeeded, by pool name.
func (r *Runner) Tick(ctx context.Context) map[string]fee.Quote {
	names := r.reg.Names()
	if len(names) == 0 {
		r.log.Warn("quoter: no pools registered")
		return nil
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = make(map[string]fee.Quote, len(names))
	)
	for name, pool := range r.reg.Enabled(names) {
		name, pool := name, pool
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, ok := r.quote(ctx, name, pool)
			if !ok {
				return
			}
			mu.Lock()
			out[name] = q
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func (r *Runner) quote(ctx context.Context, name string, pool core.State) (fee.Quote, bool) {
	cctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	q, err := r.q.QuoteFee(cctx, pool)
	imetrics.QuoteLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		imetrics.Failures.WithLabelValues("quote").Inc()
		r.log.Warn("quoter: quote failed", zap.String("pool", name), zap.String("addr", pool.Address().Hex()), zap.Error(err))
		return fee.Quote{}, false
	}

	addr := pool.Address().Hex()
	imetrics.FeeRate.WithLabelValues(addr).Set(float64(q.Fee))
	imetrics.Liquidity.WithLabelValues(addr).Set(toFloat(q.Liquidity))
	imetrics.Volatility.WithLabelValues(addr).Set(toFloat(q.Volatility))
	imetrics.Volume24h.Set(toFloat(q.Volume))

	r.log.Debug("quoter: fee",
		zap.String("pool", name),
		zap.Uint32("fee", q.Fee),
		zap.String("pct", q.Percent().String()),
		zap.String("clamp", string(q.Clamp)),
	)
	for _, s := range r.sinks {
		if err := s.PublishQuote(ctx, name, pool.Address(), q); err != nil {
			r.log.Warn("quoter: publish failed", zap.String("pool", name), zap.Error(err))
		}
	}
	return q, true
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
