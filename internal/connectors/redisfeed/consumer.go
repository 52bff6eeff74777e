package redisfeed

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/dynfee/internal/config"
)

// QuoteMeta is a quote as stored in redis; magnitudes stay decimal strings.
type QuoteMeta struct {
	Name       string
	Pool       common.Address
	Fee        uint32
	FeePct     string
	Clamp      string
	Volume     string
	Liquidity  string
	Volatility string
	TS         int64
}

type Consumer struct {
	rdb  *redis.Client
	keys Keys
	log  *zap.Logger
}

// NewConsumer инициализирует клиент с той же раскладкой ключей, что и Publisher.
func NewConsumer(cfg *config.Config, log *zap.Logger) *Consumer {
	return &Consumer{rdb: newClient(cfg), keys: keysFrom(cfg), log: log}
}

func NewConsumerWithClient(rdb *redis.Client, keys Keys, log *zap.Logger) *Consumer {
	return &Consumer{rdb: rdb, keys: keys, log: log}
}

// LatestQuote читает HASH fee:latest:<pool>. redis.Nil, если котировок ещё не было.
func (c *Consumer) LatestQuote(ctx context.Context, pool common.Address) (QuoteMeta, error) {
	m, err := c.rdb.HGetAll(ctx, c.keys.LatestNS+pool.Hex()).Result()
	if err != nil {
		return QuoteMeta{}, err
	}
	if len(m) == 0 {
		return QuoteMeta{}, redis.Nil
	}
	return fromStrings(m), nil
}

// ActivePools возвращает пулы из ZSET fee:active с котировкой не старше sinceTs.
func (c *Consumer) ActivePools(ctx context.Context, sinceTs int64) ([]common.Address, error) {
	members, err := c.rdb.ZRangeByScore(ctx, c.keys.Active, &redis.ZRangeBy{
		Min: strconv.FormatInt(sinceTs, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(members))
	for _, m := range members {
		out = append(out, common.HexToAddress(m))
	}
	return out, nil
}

// StreamConsumeQuotes: чтение котировок из Redis Streams (consumer group).
// Группа создаётся при первом вызове. Возвращается по отмене ctx.
func (c *Consumer) StreamConsumeQuotes(ctx context.Context, group, consumer string, out chan<- QuoteMeta) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.keys.Stream, group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return err
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{c.keys.Stream, ">"},
			Count:    200,
			Block:    time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("xreadgroup", zap.String("stream", c.keys.Stream), zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				vals := make(map[string]string, len(m.Values))
				for k, v := range m.Values {
					if sv, ok := v.(string); ok {
						vals[k] = sv
					}
				}
				q := fromStrings(vals)
				// отправляем только валидные записи
				if q.Pool != (common.Address{}) {
					select {
					case out <- q:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				_ = c.rdb.XAck(ctx, c.keys.Stream, group, m.ID).Err()
			}
		}
	}
}

func fromStrings(m map[string]string) QuoteMeta {
	q := QuoteMeta{
		Name:       m["name"],
		FeePct:     m["fee_pct"],
		Clamp:      m["clamp"],
		Volume:     m["volume"],
		Liquidity:  m["liquidity"],
		Volatility: m["volatility"],
	}
	if common.IsHexAddress(m["pool"]) {
		q.Pool = common.HexToAddress(m["pool"])
	}
	if v, err := strconv.ParseUint(m["fee"], 10, 32); err == nil {
		q.Fee = uint32(v)
	}
	if v, err := strconv.ParseInt(m["ts"], 10, 64); err == nil {
		q.TS = v
	}
	return q
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}
