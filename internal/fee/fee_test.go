package fee

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/dynfee/internal/dex/core"
	"github.com/you/dynfee/internal/dex/coretest"
)

type fixedVolume struct{ v *big.Int }

func (f fixedVolume) WindowedSum(int64) *big.Int { return new(big.Int).Set(f.v) }

// units returns n * 1e18.
func units(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), DefaultScale) }

// ticks returns n * 1e6, one volatility factor unit per n.
func ticks(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), DefaultVolatilityScale) }

var poolAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Validate())
	assert.Equal(t, uint32(500), p.MinFee)
	assert.Equal(t, uint32(10000), p.MaxFee)
	assert.Equal(t, uint32(100), p.VolumeWeight+p.LiquidityWeight+p.VolatilityWeight)
	assert.Equal(t, uint32(86400), p.Window)
}

func TestParamsValidate(t *testing.T) {
	cases := map[string]func(*Params){
		"min above max":   func(p *Params) { p.MinFee = 20000 },
		"max beyond u24":  func(p *Params) { p.MaxFee = 1 << 24 },
		"weights not 100": func(p *Params) { p.VolumeWeight = 41 },
		"zero window":     func(p *Params) { p.Window = 0 },
		"zero scale":      func(p *Params) { p.LiquidityScale = big.NewInt(0) },
		"nil scale":       func(p *Params) { p.VolatilityScale = nil },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			mut(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestBlend_MinimumFee(t *testing.T) {
	q, err := Blend(DefaultParams(), big.NewInt(0), big.NewInt(1), big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint32(500), q.Fee)
	assert.Equal(t, ClampMin, q.Clamp)
	assert.Equal(t, 0, q.Raw.Sign())
}

func TestBlend_MaximumFee(t *testing.T) {
	q, err := Blend(DefaultParams(), units(30_000), units(30_000), ticks(30_000))
	require.NoError(t, err)
	assert.Equal(t, uint32(10000), q.Fee)
	assert.Equal(t, ClampMax, q.Clamp)
	assert.Equal(t, int64(30_000), q.Raw.Int64())
}

func TestBlend_InsideBand(t *testing.T) {
	// (40*5000 + 30*2000 + 30*1000) / 100 = 2900
	q, err := Blend(DefaultParams(), units(5000), units(2000), ticks(1000))
	require.NoError(t, err)
	assert.Equal(t, uint32(2900), q.Fee)
	assert.Equal(t, ClampNone, q.Clamp)
	assert.Equal(t, int64(5000), q.VolumeFactor.Int64())
	assert.Equal(t, int64(2000), q.LiquidityFactor.Int64())
	assert.Equal(t, int64(1000), q.VolatilityFactor.Int64())
	assert.Equal(t, "0.29", q.Percent().String())
}

func TestBlend_NormalizationTruncates(t *testing.T) {
	almost := new(big.Int).Sub(units(1), big.NewInt(1))
	q, err := Blend(DefaultParams(), almost, almost, new(big.Int).Sub(ticks(1), big.NewInt(1)))
	require.NoError(t, err)
	assert.Zero(t, q.VolumeFactor.Sign())
	assert.Equal(t, uint32(500), q.Fee)
}

func TestBlend_VolatilityOnTickScale(t *testing.T) {
	// a pool around tick 200000 for a whole day
	drift := new(big.Int).Mul(big.NewInt(200_000), big.NewInt(int64(Window)))
	q, err := Blend(DefaultParams(), big.NewInt(0), big.NewInt(0), drift)
	require.NoError(t, err)
	assert.Equal(t, int64(17_280), q.VolatilityFactor.Int64())
	// 30 * 17280 / 100
	assert.Equal(t, uint32(5184), q.Fee)

	// the largest possible drift still fits the blend and clamps to max
	widest := new(big.Int).Mul(big.NewInt(887_272), big.NewInt(int64(Window)))
	q, err = Blend(DefaultParams(), big.NewInt(0), big.NewInt(0), widest)
	require.NoError(t, err)
	assert.Equal(t, uint32(10000), q.Fee)
}

func TestBlend_TunableScale(t *testing.T) {
	p := DefaultParams()
	p.VolatilityScale = big.NewInt(1)
	// 30 * 20000 / 100 = 6000
	q, err := Blend(p, big.NewInt(0), big.NewInt(0), big.NewInt(20_000))
	require.NoError(t, err)
	assert.Equal(t, uint32(6000), q.Fee)
}

func TestBlend_AlwaysWithinBounds(t *testing.T) {
	p := DefaultParams()
	mags := []*big.Int{
		big.NewInt(0), big.NewInt(1), units(1), units(499), units(1250),
		units(12_500), units(1 << 40), new(big.Int).Rsh(math.MaxBig256, 8),
	}
	for _, v := range mags {
		for _, l := range mags {
			for _, x := range mags {
				q, err := Blend(p, v, l, x)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, q.Fee, uint32(500))
				assert.LessOrEqual(t, q.Fee, uint32(10000))
			}
		}
	}
}

func TestBlend_Overflow(t *testing.T) {
	p := DefaultParams()
	p.VolumeScale = big.NewInt(1)

	_, err := Blend(p, math.MaxBig256, big.NewInt(0), big.NewInt(0))
	assert.ErrorIs(t, err, ErrArithmeticOverflow)

	tooBig := new(big.Int).Add(math.MaxBig256, big.NewInt(1))
	_, err = Blend(DefaultParams(), big.NewInt(0), tooBig, big.NewInt(0))
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestBlend_Deterministic(t *testing.T) {
	a, err := Blend(DefaultParams(), units(777), units(3333), units(12))
	require.NoError(t, err)
	b, err := Blend(DefaultParams(), units(777), units(3333), units(12))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTickDrift(t *testing.T) {
	d, err := TickDrift([]*big.Int{big.NewInt(500), big.NewInt(-700)})
	require.NoError(t, err)
	assert.Equal(t, int64(1200), d.Int64())

	_, err = TickDrift([]*big.Int{big.NewInt(1)})
	assert.Error(t, err)
}

func TestMeasureVolatility(t *testing.T) {
	p := coretest.New(poolAddr, big.NewInt(0), Window, big.NewInt(-4242))
	v, err := MeasureVolatility(context.Background(), p, Window)
	require.NoError(t, err)
	assert.Equal(t, int64(4242), v.Int64())

	_, err = MeasureVolatility(context.Background(), p, Window*2)
	assert.ErrorIs(t, err, core.ErrInsufficientHistory)
}

func TestModel_Quote(t *testing.T) {
	pool := coretest.New(poolAddr, units(2000), Window, ticks(1000))
	m, err := NewModel(DefaultParams(), fixedVolume{units(5000)})
	require.NoError(t, err)

	q, err := m.Quote(context.Background(), pool, 1_700_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint32(2900), q.Fee)
	assert.Equal(t, int64(1_700_000_000), q.At)
	assert.Equal(t, 1, pool.Observes)

	fee, err := m.Compute(context.Background(), pool, 1_700_000_000)
	require.NoError(t, err)
	assert.Equal(t, q.Fee, fee)
}

func TestModel_UsesSnapshotWhenAvailable(t *testing.T) {
	sp := &coretest.SnapshotPool{Pool: coretest.New(poolAddr, units(2000), Window, ticks(1000))}
	m, err := NewModel(DefaultParams(), fixedVolume{units(5000)})
	require.NoError(t, err)

	fee, err := m.Compute(context.Background(), sp, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2900), fee)
	assert.Equal(t, 1, sp.Snapshots)
}

func TestModel_PoolFailuresPropagate(t *testing.T) {
	m, err := NewModel(DefaultParams(), fixedVolume{big.NewInt(0)})
	require.NoError(t, err)

	pool := coretest.New(poolAddr, big.NewInt(0), Window, big.NewInt(0))
	pool.ObserveErr = core.ErrInsufficientHistory
	_, err = m.Compute(context.Background(), pool, 1)
	assert.ErrorIs(t, err, core.ErrInsufficientHistory)

	boom := errors.New("rpc down")
	pool = coretest.New(poolAddr, big.NewInt(0), Window, big.NewInt(0))
	pool.LiquidityErr = boom
	_, err = m.Compute(context.Background(), pool, 1)
	assert.ErrorIs(t, err, boom)
}

func TestNewModel_RejectsBadParams(t *testing.T) {
	p := DefaultParams()
	p.MinFee = p.MaxFee + 1
	_, err := NewModel(p, fixedVolume{big.NewInt(0)})
	assert.Error(t, err)
}
