package redisfeed

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/you/dynfee/internal/config"
	"github.com/you/dynfee/internal/fee"
	"github.com/you/dynfee/internal/settlement"
)

// Keys groups the redis key layout shared by Publisher and Consumer.
type Keys struct {
	Stream   string // XADD котировок
	Trades   string // XADD исполненных операций
	LatestNS string // HASH <ns><pool> с последней котировкой
	Active   string // ZSET пулов по времени последней котировки
	MaxLen   int64
}

func DefaultKeys() Keys {
	return Keys{
		Stream:   "fee:stream",
		Trades:   "fee:trades",
		LatestNS: "fee:latest:",
		Active:   "fee:active",
		MaxLen:   10000,
	}
}

func keysFrom(cfg *config.Config) Keys {
	k := DefaultKeys()
	k.Stream = cfg.Redis.Stream
	k.Trades = cfg.Redis.TradeStrm
	k.LatestNS = cfg.Redis.LatestNS
	k.MaxLen = cfg.Redis.MaxLen
	return k
}

func newClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
}

type Publisher struct {
	rdb  *redis.Client
	keys Keys
}

var _ settlement.EventSink = (*Publisher)(nil)

func NewPublisher(cfg *config.Config) *Publisher {
	return &Publisher{rdb: newClient(cfg), keys: keysFrom(cfg)}
}

func NewPublisherWithClient(rdb *redis.Client, keys Keys) *Publisher {
	return &Publisher{rdb: rdb, keys: keys}
}

func (p *Publisher) Close() error { return p.rdb.Close() }

// PublishQuote appends the quote to the stream and overwrites the pool's
// latest-quote hash.
func (p *Publisher) PublishQuote(ctx context.Context, name string, pool common.Address, q fee.Quote) error {
	fields := map[string]interface{}{
		"name":       name,
		"pool":       pool.Hex(),
		"fee":        q.Fee,
		"fee_pct":    q.Percent().String(),
		"clamp":      string(q.Clamp),
		"volume":     str(q.Volume),
		"liquidity":  str(q.Liquidity),
		"volatility": str(q.Volatility),
		"ts":         q.At,
	}
	pipe := p.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{Stream: p.keys.Stream, MaxLen: p.keys.MaxLen, Values: fields})
	pipe.HSet(ctx, p.keys.LatestNS+pool.Hex(), fields)
	// индекс «активных» пулов
	pipe.ZAdd(ctx, p.keys.Active, redis.Z{Score: float64(q.At), Member: pool.Hex()})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish quote %s: %w", name, err)
	}
	return nil
}

// PublishSettlement appends a committed operation to the trades stream.
func (p *Publisher) PublishSettlement(ctx context.Context, s settlement.Settlement) error {
	fields := map[string]interface{}{
		"op":      s.OpID.String(),
		"kind":    string(s.Kind),
		"pool":    s.Pool.Hex(),
		"fee":     s.Fee,
		"amount0": str(s.Amount0),
		"amount1": str(s.Amount1),
		"ts":      s.At,
	}
	if s.Recorded != nil {
		fields["recorded"] = s.Recorded.String()
		fields["position"] = s.Position
	}
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{Stream: p.keys.Trades, MaxLen: p.keys.MaxLen, Values: fields}).Err()
	if err != nil {
		return fmt.Errorf("publish settlement %s: %w", s.OpID, err)
	}
	return nil
}

func str(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
