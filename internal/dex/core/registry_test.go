package core

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

type stubState struct{ addr common.Address }

func (s stubState) Address() common.Address                        { return s.addr }
func (stubState) Liquidity(context.Context) (*big.Int, error)       { return big.NewInt(0), nil }
func (stubState) Observe(context.Context, []uint32) ([]*big.Int, error) { return nil, nil }
func (stubState) Token0(context.Context) (common.Address, error)    { return common.Address{}, nil }
func (stubState) Token1(context.Context) (common.Address, error)    { return common.Address{}, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := stubState{addr: common.HexToAddress("0x01")}
	b := stubState{addr: common.HexToAddress("0x02")}
	r.Register("weth-usdc", a)
	r.Register("arb-usdc", b)

	assert.Equal(t, []string{"arb-usdc", "weth-usdc"}, r.Names())
	assert.Equal(t, a, r.Get("weth-usdc"))
	assert.Nil(t, r.Get("missing"))

	en := r.Enabled([]string{"weth-usdc", "missing"})
	assert.Len(t, en, 1)
	assert.Contains(t, en, "weth-usdc")
}
