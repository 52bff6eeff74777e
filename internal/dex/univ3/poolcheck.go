package univ3

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/you/dynfee/internal/multicall"
)

// Uniswap v3 Factory: одинаковый адрес на mainnet и Arbitrum
var UniswapV3Factory = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")

// минимальный ABI Factory: getPool(tokenA, tokenB, fee) -> address
const v3FactoryABI = `[
  {"inputs":[
    {"internalType":"address","name":"tokenA","type":"address"},
    {"internalType":"address","name":"tokenB","type":"address"},
    {"internalType":"uint24","name":"fee","type":"uint24"}],
   "name":"getPool",
   "outputs":[{"internalType":"address","name":"pool","type":"address"}],
   "stateMutability":"view","type":"function"}
]`

var factoryABIParsed = mustABI(v3FactoryABI)

// FindPool returns the pool for the pair at fee, or the zero address if the
// factory has none.
func FindPool(ctx context.Context, ec multicall.Caller, factory, base, quote common.Address, fee uint32) (common.Address, error) {
	// Uniswap требует: tokenA < tokenB
	tokenA, tokenB := base, quote
	if bytes.Compare(tokenB.Bytes(), tokenA.Bytes()) < 0 {
		tokenA, tokenB = tokenB, tokenA
	}

	data, err := factoryABIParsed.Pack("getPool", tokenA, tokenB, big.NewInt(int64(fee)))
	if err != nil {
		return common.Address{}, fmt.Errorf("pack getPool: %w", err)
	}
	// небольшой timeout на вызов
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := ec.CallContract(cctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("call getPool(fee=%d): %w", fee, err)
	}
	out, err := factoryABIParsed.Unpack("getPool", res)
	if err != nil || len(out) != 1 {
		return common.Address{}, fmt.Errorf("unpack getPool(fee=%d): %w", fee, err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected getPool type %T", out[0])
	}
	return addr, nil
}

// CheckAvailableFeeTiers возвращает список существующих тиров и адреса пулов для BASE↔QUOTE.
func CheckAvailableFeeTiers(ctx context.Context, ec multicall.Caller, factory, base, quote common.Address, tiers []uint32) (present []uint32, pools map[uint32]common.Address, err error) {
	if (base == common.Address{}) || (quote == common.Address{}) {
		return nil, nil, fmt.Errorf("base/quote address is zero")
	}
	pools = make(map[uint32]common.Address, len(tiers))
	for _, fee := range tiers {
		addr, err := FindPool(ctx, ec, factory, base, quote, fee)
		if err != nil {
			return nil, nil, err
		}
		if addr != (common.Address{}) {
			present = append(present, fee)
			pools[fee] = addr
		}
	}
	return present, pools, nil
}
