package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/you/dynfee/internal/config"
	"github.com/you/dynfee/internal/connectors/redisfeed"
	"github.com/you/dynfee/internal/dash"
	"github.com/you/dynfee/internal/dex/core"
	"github.com/you/dynfee/internal/dex/univ3"
	"github.com/you/dynfee/internal/logging"
	"github.com/you/dynfee/internal/metrics"
	"github.com/you/dynfee/internal/multicall"
	"github.com/you/dynfee/internal/quoter"
	"github.com/you/dynfee/internal/settlement"
	"github.com/you/dynfee/internal/vault"
)

func parseFlags() (cfgPath, logLevel string) {
	flag.StringVar(&cfgPath, "config", "./config.yaml", "путь к конфигу")
	flag.StringVar(&logLevel, "log-level", "", "уровень логов, перекрывает log_level из конфига")
	flag.Parse()
	return cfgPath, logLevel
}

func main() {
	cfgPath, logLevel := parseFlags()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ошибка загрузки конфига:", err)
		os.Exit(1)
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	logger, err := logging.New(logLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Serve(ctx, cfg.Metrics.ListenAddr, nil, logger)

	params, err := cfg.FeeParams()
	if err != nil {
		logger.Fatal("параметры комиссии", zap.Error(err))
	}

	ec, err := ethclient.DialContext(ctx, cfg.Chain.RPCHTTP)
	if err != nil {
		logger.Fatal("подключение к RPC", zap.Error(err))
	}
	defer ec.Close()

	var mc multicall.IClient
	if cfg.DEX.Multicall != "" {
		c, err := multicall.New(ec, common.HexToAddress(cfg.DEX.Multicall))
		if err != nil {
			logger.Fatal("инициализация multicall", zap.Error(err))
		}
		mc = c
	}

	reg := core.NewRegistry()
	for _, p := range cfg.Pools {
		reg.Register(p.Name, univ3.NewPoolReader(ec, mc, common.HexToAddress(p.Address), logger.Named(p.Name)))
	}
	if len(cfg.Pools) == 0 {
		logger.Warn("в конфиге нет пулов, котировать нечего")
	}

	// Redis опционален: без адреса котировки живут только в дашборде.
	var sinks []settlement.EventSink
	quoteSinks := []quoter.Sink{}
	if cfg.Redis.Addr != "" {
		pub := redisfeed.NewPublisher(cfg)
		defer pub.Close()
		sinks = append(sinks, pub)
		quoteSinks = append(quoteSinks, pub)
	}

	operator := cfg.OperatorAddress()
	coord, err := settlement.New(settlement.Options{
		Address:  operator,
		Params:   params,
		Treasury: vault.New(operator),
		Sinks:    sinks,
		Log:      logger.Named("settlement"),
	})
	if err != nil {
		logger.Fatal("инициализация координатора", zap.Error(err))
	}

	hub := dash.NewBroadcaster(logger.Named("ws"))
	store := dash.NewStore(hub)
	quoteSinks = append(quoteSinks, store)
	go dash.StartHTTP(ctx, dash.Handler(store, coord), cfg.Dash.ListenAddr, logger)

	logger.Info("движок динамической комиссии запущен",
		zap.String("network", cfg.Chain.Network),
		zap.Strings("pools", reg.Names()),
		zap.Uint32("min_fee", params.MinFee),
		zap.Uint32("max_fee", params.MaxFee),
		zap.Uint32("window_s", params.Window),
	)

	quoter.New(reg, coord, cfg.QuoteInterval(), cfg.RPCTimeout(), logger.Named("quoter"), quoteSinks...).Run(ctx)
	logger.Info("остановлено")
}
