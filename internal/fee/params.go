package fee

import (
	"errors"
	"fmt"
	"math/big"
)

// Constants of the fee curve. Fees are in pool-native units
// (hundredths of a basis point, 1e6 = 100%).
const (
	MinFee           uint32 = 500
	MaxFee           uint32 = 10000
	VolumeWeight     uint32 = 40
	LiquidityWeight  uint32 = 30
	VolatilityWeight uint32 = 30

	// WeightDenominator is what the weights sum to.
	WeightDenominator = 100

	// Window is the lookback of both the volume sum and the volatility probe.
	Window uint32 = 86400

	// MaxFeeUnits is the largest fee the pool representation (uint24) holds.
	MaxFeeUnits = 1<<24 - 1
)

// DefaultScale is the divisor that turns a raw magnitude into a factor.
// Integer division: anything below one unit of scale contributes nothing.
var DefaultScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// DefaultVolatilityScale divides tick-cumulative drift, which lives on the
// tick scale: |tick| <= 887272, so drift over one Window stays below 7.7e10.
// A pool sitting at tick 200000 drifts 1.7e10 per day, factor 17280.
var DefaultVolatilityScale = big.NewInt(1_000_000)

// Params is fixed when a Model is built.
type Params struct {
	MinFee           uint32
	MaxFee           uint32
	VolumeWeight     uint32
	LiquidityWeight  uint32
	VolatilityWeight uint32
	Window           uint32

	VolumeScale     *big.Int
	LiquidityScale  *big.Int
	VolatilityScale *big.Int
}

func DefaultParams() Params {
	return Params{
		MinFee:           MinFee,
		MaxFee:           MaxFee,
		VolumeWeight:     VolumeWeight,
		LiquidityWeight:  LiquidityWeight,
		VolatilityWeight: VolatilityWeight,
		Window:           Window,
		VolumeScale:      new(big.Int).Set(DefaultScale),
		LiquidityScale:   new(big.Int).Set(DefaultScale),
		VolatilityScale:  new(big.Int).Set(DefaultVolatilityScale),
	}
}

var errBadParams = errors.New("fee: invalid params")

func (p Params) Validate() error {
	if p.MinFee > p.MaxFee {
		return fmt.Errorf("%w: min fee %d above max fee %d", errBadParams, p.MinFee, p.MaxFee)
	}
	if p.MaxFee > MaxFeeUnits {
		return fmt.Errorf("%w: max fee %d does not fit uint24", errBadParams, p.MaxFee)
	}
	if sum := p.VolumeWeight + p.LiquidityWeight + p.VolatilityWeight; sum != WeightDenominator {
		return fmt.Errorf("%w: weights sum to %d, want %d", errBadParams, sum, WeightDenominator)
	}
	if p.Window == 0 {
		return fmt.Errorf("%w: zero window", errBadParams)
	}
	for name, s := range map[string]*big.Int{
		"volume":     p.VolumeScale,
		"liquidity":  p.LiquidityScale,
		"volatility": p.VolatilityScale,
	} {
		if s == nil || s.Sign() <= 0 {
			return fmt.Errorf("%w: %s scale must be positive", errBadParams, name)
		}
	}
	return nil
}
