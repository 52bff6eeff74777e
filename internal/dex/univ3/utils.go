package univ3

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/you/dynfee/internal/multicall"
)

const erc20ABI = `[
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

var erc20ABIParsed = mustABI(erc20ABI)

// TokenInfo is what check-pool prints next to a pool's tokens.
type TokenInfo struct {
	Address  common.Address
	Symbol   string
	Decimals int
}

func GetERC20Decimals(ctx context.Context, ec multicall.Caller, token common.Address) (int, error) {
	input, err := erc20ABIParsed.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("pack decimals: %w", err)
	}
	res, err := ec.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return 0, fmt.Errorf("call decimals: %w", err)
	}
	outs, err := erc20ABIParsed.Methods["decimals"].Outputs.Unpack(res)
	if err != nil || len(outs) == 0 {
		if err == nil {
			err = fmt.Errorf("empty decimals output")
		}
		return 0, fmt.Errorf("decode decimals: %w", err)
	}

	switch v := outs[0].(type) {
	case uint8:
		return int(v), nil
	case *big.Int:
		return int(v.Int64()), nil
	default:
		return 0, fmt.Errorf("unexpected decimals type %T", v)
	}
}

// ReadTokenInfo reads symbol and decimals. A token without symbol() still
// gets its decimals.
func ReadTokenInfo(ctx context.Context, ec multicall.Caller, token common.Address) (TokenInfo, error) {
	dec, err := GetERC20Decimals(ctx, ec, token)
	if err != nil {
		return TokenInfo{}, err
	}
	info := TokenInfo{Address: token, Decimals: dec}

	input, err := erc20ABIParsed.Pack("symbol")
	if err != nil {
		return info, nil
	}
	res, err := ec.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return info, nil
	}
	if outs, err := erc20ABIParsed.Methods["symbol"].Outputs.Unpack(res); err == nil && len(outs) == 1 {
		if s, ok := outs[0].(string); ok {
			info.Symbol = s
		}
	}
	return info, nil
}
