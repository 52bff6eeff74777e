package types

import (
	"math/big"
	"time"
)

type Direction string

const (
	ZeroForOne Direction = "ZERO_FOR_ONE" // token0 in, token1 out
	OneForZero Direction = "ONE_FOR_ZERO" // token1 in, token0 out
)

// ZeroForOne reports the pool-native swap direction flag.
func (d Direction) ZeroForOne() bool { return d == ZeroForOne }

func (d Direction) Valid() bool { return d == ZeroForOne || d == OneForZero }

// Kind is the kind of operation a settlement callback belongs to.
type Kind string

const (
	KindSwap Kind = "swap"
	KindMint Kind = "mint"
)

// TradeRecord is one settled swap. Amount is the magnitude the engine owed on
// the paying leg; Timestamp is unix seconds of the engine clock.
type TradeRecord struct {
	Timestamp int64
	Amount    *big.Int
}

func NewTradeRecord(ts int64, amount *big.Int) TradeRecord {
	return TradeRecord{Timestamp: ts, Amount: new(big.Int).Set(amount)}
}

// Copy returns a record that shares no memory with r.
func (r TradeRecord) Copy() TradeRecord {
	out := TradeRecord{Timestamp: r.Timestamp, Amount: new(big.Int)}
	if r.Amount != nil {
		out.Amount.Set(r.Amount)
	}
	return out
}

func (r TradeRecord) Time() time.Time { return time.Unix(r.Timestamp, 0).UTC() }
