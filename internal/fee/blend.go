package fee

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
)

// ErrArithmeticOverflow is returned when an intermediate of the blend leaves
// the uint256 range, or the clamped fee does not fit the fee type.
var ErrArithmeticOverflow = errors.New("fee: arithmetic overflow")

type Clamp string

const (
	ClampNone Clamp = ""
	ClampMin  Clamp = "min"
	ClampMax  Clamp = "max"
)

// Quote is a fee together with everything it was derived from.
type Quote struct {
	Fee   uint32
	Raw   *big.Int // weighted blend before clamping
	Clamp Clamp

	Volume     *big.Int
	Liquidity  *big.Int
	Volatility *big.Int

	VolumeFactor     *big.Int
	LiquidityFactor  *big.Int
	VolatilityFactor *big.Int

	At int64 // unix seconds the quote was taken at
}

// Percent is the fee as a percentage, 3000 -> 0.3.
func (q Quote) Percent() decimal.Decimal {
	return decimal.New(int64(q.Fee), -4)
}

// Blend combines the three raw magnitudes into a clamped fee. It is pure:
// the same inputs always give the same Quote.
func Blend(p Params, volume, liquidity, volatility *big.Int) (Quote, error) {
	q := Quote{
		Volume:     orZero(volume),
		Liquidity:  orZero(liquidity),
		Volatility: orZero(volatility),
	}
	for _, v := range []*big.Int{q.Volume, q.Liquidity, q.Volatility} {
		if v.Sign() < 0 {
			return Quote{}, fmt.Errorf("fee: negative input %s", v)
		}
		if v.Cmp(math.MaxBig256) > 0 {
			return Quote{}, fmt.Errorf("%w: input %s", ErrArithmeticOverflow, v)
		}
	}

	q.VolumeFactor = new(big.Int).Quo(q.Volume, p.VolumeScale)
	q.LiquidityFactor = new(big.Int).Quo(q.Liquidity, p.LiquidityScale)
	q.VolatilityFactor = new(big.Int).Quo(q.Volatility, p.VolatilityScale)

	sum := new(big.Int)
	for _, term := range []struct {
		w uint32
		f *big.Int
	}{
		{p.VolumeWeight, q.VolumeFactor},
		{p.LiquidityWeight, q.LiquidityFactor},
		{p.VolatilityWeight, q.VolatilityFactor},
	} {
		weighted, err := checked(new(big.Int).Mul(big.NewInt(int64(term.w)), term.f))
		if err != nil {
			return Quote{}, err
		}
		if _, err := checked(sum.Add(sum, weighted)); err != nil {
			return Quote{}, err
		}
	}
	q.Raw = sum.Quo(sum, big.NewInt(WeightDenominator))

	var clamped *big.Int
	switch {
	case q.Raw.Cmp(new(big.Int).SetUint64(uint64(p.MinFee))) < 0:
		clamped, q.Clamp = new(big.Int).SetUint64(uint64(p.MinFee)), ClampMin
	case q.Raw.Cmp(new(big.Int).SetUint64(uint64(p.MaxFee))) > 0:
		clamped, q.Clamp = new(big.Int).SetUint64(uint64(p.MaxFee)), ClampMax
	default:
		clamped = q.Raw
	}
	fee, err := toUint24(clamped)
	if err != nil {
		return Quote{}, err
	}
	q.Fee = fee
	return q, nil
}

func checked(v *big.Int) (*big.Int, error) {
	if v.Cmp(math.MaxBig256) > 0 {
		return nil, fmt.Errorf("%w: %s exceeds uint256", ErrArithmeticOverflow, v)
	}
	return v, nil
}

func toUint24(v *big.Int) (uint32, error) {
	if v.Sign() < 0 || !v.IsUint64() || v.Uint64() > MaxFeeUnits {
		return 0, fmt.Errorf("%w: fee %s does not fit uint24", ErrArithmeticOverflow, v)
	}
	return uint32(v.Uint64()), nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
