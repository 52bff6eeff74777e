package fee

import (
	"context"
	"fmt"
	"math/big"

	"github.com/you/dynfee/internal/dex/core"
)

// MeasureVolatility reads the tick accumulator now and windowSeconds ago and
// returns the absolute drift between the two readings. It is a proxy for
// realized price movement over the window, not a statistical estimator.
// Observe failures, including core.ErrInsufficientHistory, are returned as is
// (wrapped).
func MeasureVolatility(ctx context.Context, s core.State, windowSeconds uint32) (*big.Int, error) {
	cums, err := s.Observe(ctx, []uint32{windowSeconds, 0})
	if err != nil {
		return nil, fmt.Errorf("observe %s: %w", s.Address().Hex(), err)
	}
	return TickDrift(cums)
}

// TickDrift is |cumulatives[1] - cumulatives[0]| for a {window, 0} reading.
func TickDrift(cumulatives []*big.Int) (*big.Int, error) {
	if len(cumulatives) != 2 || cumulatives[0] == nil || cumulatives[1] == nil {
		return nil, fmt.Errorf("observe: want 2 tick cumulatives, got %d", len(cumulatives))
	}
	d := new(big.Int).Sub(cumulatives[1], cumulatives[0])
	return d.Abs(d), nil
}
