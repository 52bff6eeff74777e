// Package fee derives the dynamic fee of a pool from recent trade volume,
// current liquidity and short-term tick drift.
package fee

import (
	"context"
	"fmt"
	"math/big"

	"github.com/you/dynfee/internal/dex/core"
)

// VolumeSource yields the trailing-window trade volume as of now.
type VolumeSource interface {
	WindowedSum(now int64) *big.Int
}

type Model struct {
	params Params
	volume VolumeSource
}

func NewModel(p Params, volume VolumeSource) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Model{params: p, volume: volume}, nil
}

func (m *Model) Params() Params { return m.params }

// Quote reads the pool and the volume source and blends them. It mutates
// nothing; a failing pool read fails the quote.
func (m *Model) Quote(ctx context.Context, s core.State, now int64) (Quote, error) {
	liquidity, volatility, err := m.readPool(ctx, s)
	if err != nil {
		return Quote{}, err
	}
	q, err := Blend(m.params, m.volume.WindowedSum(now), liquidity, volatility)
	if err != nil {
		return Quote{}, err
	}
	q.At = now
	return q, nil
}

// Compute is Quote without the breakdown.
func (m *Model) Compute(ctx context.Context, s core.State, now int64) (uint32, error) {
	q, err := m.Quote(ctx, s, now)
	if err != nil {
		return 0, err
	}
	return q.Fee, nil
}

func (m *Model) readPool(ctx context.Context, s core.State) (liquidity, volatility *big.Int, err error) {
	if sn, ok := s.(core.Snapshotter); ok {
		snap, err := sn.Snapshot(ctx, []uint32{m.params.Window, 0})
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot %s: %w", s.Address().Hex(), err)
		}
		if snap.Liquidity == nil {
			return nil, nil, fmt.Errorf("snapshot %s: missing liquidity", s.Address().Hex())
		}
		vol, err := TickDrift(snap.TickCumulatives)
		if err != nil {
			return nil, nil, err
		}
		return snap.Liquidity, vol, nil
	}

	liquidity, err = s.Liquidity(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("liquidity %s: %w", s.Address().Hex(), err)
	}
	volatility, err = MeasureVolatility(ctx, s, m.params.Window)
	if err != nil {
		return nil, nil, err
	}
	return liquidity, volatility, nil
}
