package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/you/dynfee/internal/fee"
)

type PoolCfg struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

type Config struct {
	LogLevel string `yaml:"log_level"`

	Chain struct {
		Network string `yaml:"network"`
		RPCHTTP string `yaml:"rpc_http"`
		// адрес, от имени которого движок платит пулам
		Operator string `yaml:"operator"`
	} `yaml:"chain"`

	DEX struct {
		Factory   string   `yaml:"factory"`
		Multicall string   `yaml:"multicall"`
		FeeTiers  []uint32 `yaml:"fee_tiers"`
	} `yaml:"dex"`

	Pools []PoolCfg `yaml:"pools"`

	Fee struct {
		// указатели: явный 0 допустим и не заменяется дефолтом
		MinFee           *uint32 `yaml:"min_fee"`
		MaxFee           *uint32 `yaml:"max_fee"`
		VolumeWeight     uint32  `yaml:"volume_weight"`
		LiquidityWeight  uint32  `yaml:"liquidity_weight"`
		VolatilityWeight uint32  `yaml:"volatility_weight"`
		WindowSeconds    uint32  `yaml:"window_seconds"`
		// делители нормализации, строки вида "1e18"
		VolumeScale     string `yaml:"volume_scale"`
		LiquidityScale  string `yaml:"liquidity_scale"`
		VolatilityScale string `yaml:"volatility_scale"`
	} `yaml:"fee"`

	Redis struct {
		Addr      string `yaml:"addr"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		Stream    string `yaml:"stream"`
		TradeStrm string `yaml:"trade_stream"`
		LatestNS  string `yaml:"latest_ns"`
		MaxLen    int64  `yaml:"max_len"`
	} `yaml:"redis"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Dash struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"dash"`

	Timings struct {
		QuoteIntervalMs int `yaml:"quote_interval_ms"`
		RPCTimeoutMs    int `yaml:"rpc_timeout_ms"`
	} `yaml:"timings"`
}

// Load reads the yaml at path, applies .env and environment overrides, fills
// defaults and validates.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// .env необязателен
	_ = godotenv.Load()
	c.applyEnv()
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DYNFEE_RPC_HTTP"); v != "" {
		c.Chain.RPCHTTP = v
	}
	if v := os.Getenv("DYNFEE_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("DYNFEE_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DEX.Factory == "" {
		c.DEX.Factory = "0x1F98431c8aD98523631AE4a59f267346ea31F984"
	}
	if len(c.DEX.FeeTiers) == 0 {
		c.DEX.FeeTiers = []uint32{100, 500, 3000, 10000}
	}

	if c.Fee.MinFee == nil {
		v := fee.MinFee
		c.Fee.MinFee = &v
	}
	if c.Fee.MaxFee == nil {
		v := fee.MaxFee
		c.Fee.MaxFee = &v
	}
	if c.Fee.VolumeWeight == 0 && c.Fee.LiquidityWeight == 0 && c.Fee.VolatilityWeight == 0 {
		c.Fee.VolumeWeight = fee.VolumeWeight
		c.Fee.LiquidityWeight = fee.LiquidityWeight
		c.Fee.VolatilityWeight = fee.VolatilityWeight
	}
	if c.Fee.WindowSeconds == 0 {
		c.Fee.WindowSeconds = fee.Window
	}
	for _, s := range []*string{&c.Fee.VolumeScale, &c.Fee.LiquidityScale} {
		if *s == "" {
			*s = "1e18"
		}
	}
	// дрейф тиков, а не сумма токенов: другой масштаб
	if c.Fee.VolatilityScale == "" {
		c.Fee.VolatilityScale = "1e6"
	}

	if c.Redis.Stream == "" {
		c.Redis.Stream = "fee:stream"
	}
	if c.Redis.TradeStrm == "" {
		c.Redis.TradeStrm = "fee:trades"
	}
	if c.Redis.LatestNS == "" {
		c.Redis.LatestNS = "fee:latest:"
	}
	if c.Redis.MaxLen == 0 {
		c.Redis.MaxLen = 10000
	}

	if c.Timings.QuoteIntervalMs == 0 {
		c.Timings.QuoteIntervalMs = 3000
	}
	if c.Timings.RPCTimeoutMs == 0 {
		c.Timings.RPCTimeoutMs = 5000
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Chain.RPCHTTP == "" {
		errs = append(errs, errors.New("chain.rpc_http is required"))
	}
	if c.Chain.Operator != "" && !common.IsHexAddress(c.Chain.Operator) {
		errs = append(errs, fmt.Errorf("chain.operator %q is not an address", c.Chain.Operator))
	}
	if !common.IsHexAddress(c.DEX.Factory) {
		errs = append(errs, fmt.Errorf("dex.factory %q is not an address", c.DEX.Factory))
	}
	if c.DEX.Multicall != "" && !common.IsHexAddress(c.DEX.Multicall) {
		errs = append(errs, fmt.Errorf("dex.multicall %q is not an address", c.DEX.Multicall))
	}
	seen := make(map[string]bool, len(c.Pools))
	for i, p := range c.Pools {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("pools[%d]: empty name", i))
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("pools[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
		if !common.IsHexAddress(p.Address) {
			errs = append(errs, fmt.Errorf("pools[%d]: %q is not an address", i, p.Address))
		}
	}
	if _, err := c.FeeParams(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// FeeParams builds the fee model parameters from the fee section.
func (c *Config) FeeParams() (fee.Params, error) {
	p := fee.Params{
		MinFee:           valueOr(c.Fee.MinFee, fee.MinFee),
		MaxFee:           valueOr(c.Fee.MaxFee, fee.MaxFee),
		VolumeWeight:     c.Fee.VolumeWeight,
		LiquidityWeight:  c.Fee.LiquidityWeight,
		VolatilityWeight: c.Fee.VolatilityWeight,
		Window:           c.Fee.WindowSeconds,
	}
	var err error
	if p.VolumeScale, err = parseScale("volume_scale", c.Fee.VolumeScale); err != nil {
		return fee.Params{}, err
	}
	if p.LiquidityScale, err = parseScale("liquidity_scale", c.Fee.LiquidityScale); err != nil {
		return fee.Params{}, err
	}
	if p.VolatilityScale, err = parseScale("volatility_scale", c.Fee.VolatilityScale); err != nil {
		return fee.Params{}, err
	}
	if err := p.Validate(); err != nil {
		return fee.Params{}, err
	}
	return p, nil
}

func valueOr(v *uint32, def uint32) uint32 {
	if v == nil {
		return def
	}
	return *v
}

func parseScale(name, s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("fee.%s: %w", name, err)
	}
	if !d.IsInteger() || !d.IsPositive() {
		return nil, fmt.Errorf("fee.%s: %s is not a positive integer", name, s)
	}
	return d.BigInt(), nil
}

func (c *Config) OperatorAddress() common.Address { return common.HexToAddress(c.Chain.Operator) }

func (c *Config) QuoteInterval() time.Duration {
	return time.Duration(c.Timings.QuoteIntervalMs) * time.Millisecond
}

func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.Timings.RPCTimeoutMs) * time.Millisecond
}
