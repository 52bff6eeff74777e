package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/dynfee/internal/config"
	"github.com/you/dynfee/internal/connectors/redisfeed"
	"github.com/you/dynfee/internal/dex/univ3"
	"github.com/you/dynfee/internal/fee"
	"github.com/you/dynfee/internal/ledger"
	"github.com/you/dynfee/internal/multicall"
)

type target struct {
	name string
	addr common.Address
}

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config")
	tiersStr := flag.String("tiers", "", "fee tiers to look up, comma-separated (default: dex.fee_tiers)")
	baseStr := flag.String("base", "", "base token; with -quote, pools are looked up in the factory")
	quoteStr := flag.String("quote", "", "quote token")
	follow := flag.Bool("follow", false, "after the report, print quotes from the redis stream until interrupted")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ec, err := ethclient.DialContext(ctx, cfg.Chain.RPCHTTP)
	if err != nil {
		panic(err)
	}
	defer ec.Close()

	var mc multicall.IClient
	if cfg.DEX.Multicall != "" {
		if mc, err = multicall.New(ec, common.HexToAddress(cfg.DEX.Multicall)); err != nil {
			panic(err)
		}
	}

	tiers := cfg.DEX.FeeTiers
	if *tiersStr != "" {
		tiers = parseTiers(*tiersStr)
	}

	var targets []target
	if *baseStr != "" && *quoteStr != "" {
		base, quote := common.HexToAddress(*baseStr), common.HexToAddress(*quoteStr)
		present, pools, err := univ3.CheckAvailableFeeTiers(ctx, ec, common.HexToAddress(cfg.DEX.Factory), base, quote, tiers)
		if err != nil {
			panic(err)
		}
		fmt.Printf("Testing tiers: %v, present: %v\n", tiers, present)
		for _, f := range present {
			targets = append(targets, target{name: fmt.Sprintf("fee=%d", f), addr: pools[f]})
		}
	} else {
		for _, p := range cfg.Pools {
			targets = append(targets, target{name: p.Name, addr: common.HexToAddress(p.Address)})
		}
	}
	if len(targets) == 0 {
		fmt.Println("no pools to check")
		return
	}

	params, err := cfg.FeeParams()
	if err != nil {
		panic(err)
	}
	// Свежий движок ещё не видел сделок: объём в окне нулевой.
	model, err := fee.NewModel(params, ledger.New(int64(params.Window)))
	if err != nil {
		panic(err)
	}

	var feed *redisfeed.Consumer
	if cfg.Redis.Addr != "" {
		feed = redisfeed.NewConsumer(cfg, zap.NewNop())
	}

	fmt.Printf("RPC: %s\n\n", cfg.Chain.RPCHTTP)
	for _, t := range targets {
		report(ctx, ec, mc, model, feed, t)
	}

	if *follow && feed != nil {
		followStream(ctx, feed)
	}
}

func report(ctx context.Context, ec *ethclient.Client, mc multicall.IClient, model *fee.Model, feed *redisfeed.Consumer, t target) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	r := univ3.NewPoolReader(ec, mc, t.addr, zap.NewNop())
	fmt.Printf("%-12s %s\n", t.name, t.addr.Hex())

	for i, get := range []func(context.Context) (common.Address, error){r.Token0, r.Token1} {
		tok, err := get(ctx)
		if err != nil {
			fmt.Printf("  token%d: error: %v\n", i, err)
			continue
		}
		info, err := univ3.ReadTokenInfo(ctx, ec, tok)
		if err != nil {
			fmt.Printf("  token%d: %s error: %v\n", i, tok.Hex(), err)
			continue
		}
		fmt.Printf("  token%d: %s %s (%d decimals)\n", i, info.Symbol, tok.Hex(), info.Decimals)
	}

	if static, err := r.Fee(ctx); err == nil {
		fmt.Printf("  static fee: %d (%s%%)\n", static, fee.Quote{Fee: static}.Percent())
	}

	q, err := model.Quote(ctx, r, time.Now().Unix())
	switch {
	case err != nil:
		fmt.Printf("  dynamic fee: error: %v\n", err)
	default:
		fmt.Printf("  liquidity: %s  volatility: %s ticks\n", q.Liquidity, q.Volatility)
		fmt.Printf("  dynamic fee: %d (%s%%) clamp=%q\n", q.Fee, q.Percent(), q.Clamp)
	}

	if feed == nil {
		fmt.Println()
		return
	}
	last, err := feed.LatestQuote(ctx, t.addr)
	switch {
	case errors.Is(err, redis.Nil):
		fmt.Println("  published: none yet")
	case err != nil:
		fmt.Printf("  published: error: %v\n", err)
	default:
		fmt.Printf("  published: %d (%s%%) at %s\n", last.Fee, last.FeePct, time.Unix(last.TS, 0).UTC().Format(time.RFC3339))
	}
	fmt.Println()
}

func followStream(ctx context.Context, feed *redisfeed.Consumer) {
	out := make(chan redisfeed.QuoteMeta, 64)
	go func() {
		defer close(out)
		group := fmt.Sprintf("check-pool-%d", os.Getpid())
		if err := feed.StreamConsumeQuotes(ctx, group, "cli", out); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "stream:", err)
		}
	}()
	fmt.Println("following quotes, ctrl-c to stop")
	for m := range out {
		fmt.Printf("%s %-12s fee=%d (%s%%) clamp=%q volume=%s\n",
			time.Unix(m.TS, 0).UTC().Format(time.RFC3339), m.Name, m.Fee, m.FeePct, m.Clamp, m.Volume)
	}
}

func parseTiers(s string) []uint32 {
	parts := strings.Split(s, ",")
	var out []uint32
	for _, p := range parts {
		p = strings.TrimSpace(p)
		var v uint32
		fmt.Sscanf(p, "%d", &v)
		if v > 0 {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		out = []uint32{100, 500, 3000, 10000}
	}
	return out
}
