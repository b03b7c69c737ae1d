// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/solana-copybot/internal/copytrade"
	"github.com/rovshanmuradov/solana-copybot/internal/dexscreener"
	"github.com/rovshanmuradov/solana-copybot/internal/executor"
	"github.com/rovshanmuradov/solana-copybot/internal/exit"
	"github.com/rovshanmuradov/solana-copybot/internal/jupiter"
	"github.com/rovshanmuradov/solana-copybot/internal/oracle"
	"github.com/rovshanmuradov/solana-copybot/internal/pnl"
	"github.com/rovshanmuradov/solana-copybot/internal/store"
)

const EnvPrefix = "COPYBOT"

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type PumpPortalConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Pool       string `mapstructure:"pool"`
	MaxRetries uint   `mapstructure:"max_retries"`
	TimeoutMs  int    `mapstructure:"timeout_ms"`
}

type JupiterConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

type DexScreenerConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	TimeoutMs         int    `mapstructure:"timeout_ms"`
}

type TradingConfig struct {
	// Live sends real orders; otherwise every venue is simulated.
	Live                 bool                     `mapstructure:"live"`
	SlippagePct          float64                  `mapstructure:"slippage_pct"`
	PriorityFee          float64                  `mapstructure:"priority_fee"`
	// EstimatedSlippagePct prices slippage into unrealized PnL.
	EstimatedSlippagePct float64                  `mapstructure:"estimated_slippage_pct"`
	MaxSignalAgeMs       int                      `mapstructure:"max_signal_age_ms"`
	BuyerTTLMs           int                      `mapstructure:"buyer_ttl_ms"`
	TradeTimeoutMs       int                      `mapstructure:"trade_timeout_ms"`
	ConfirmIntervalMs    int                      `mapstructure:"confirm_interval_ms"`
	ConfirmAttempts      uint                     `mapstructure:"confirm_attempts"`
	GraduationWarmupMs   int                      `mapstructure:"graduation_warmup_ms"`
	SimBandLow           float64                  `mapstructure:"sim_band_low"`
	SimBandHigh          float64                  `mapstructure:"sim_band_high"`
	Strategy             copytrade.UpvoteStrategy `mapstructure:"strategy"`
}

type ExitConfig struct {
	TakeProfitPct         float64 `mapstructure:"take_profit_pct"`
	StopLossPct           float64 `mapstructure:"stop_loss_pct"`
	TrailingStopPct       float64 `mapstructure:"trailing_stop_pct"`
	TrailingActivationPct float64 `mapstructure:"trailing_activation_pct"`
	MaxHoldMs             int     `mapstructure:"max_hold_ms"`
	MirrorWindowMs        int     `mapstructure:"mirror_window_ms"`
	IndependentAfterMs    int     `mapstructure:"independent_after_ms"`
	ExitOnGraduation      bool    `mapstructure:"exit_on_graduation"`
	WalletCheckTTLMs      int     `mapstructure:"wallet_check_ttl_ms"`
	FeeDragThresholdPct   float64 `mapstructure:"fee_drag_threshold_pct"`
}

type OracleConfig struct {
	CurveTTLMs       int `mapstructure:"curve_ttl_ms"`
	AggregatorTTLMs  int `mapstructure:"aggregator_ttl_ms"`
	MarketTTLMs      int `mapstructure:"market_ttl_ms"`
	CallTimeoutMs    int `mapstructure:"call_timeout_ms"`
	FailureThreshold int `mapstructure:"failure_threshold"`
	FailureWindowMs  int `mapstructure:"failure_window_ms"`
}

type StoreConfig struct {
	Prefix            string `mapstructure:"prefix"`
	ReentryCooldownMs int    `mapstructure:"reentry_cooldown_ms"`
	SignalClaimTTLMs  int    `mapstructure:"signal_claim_ttl_ms"`
	OpTimeoutMs       int    `mapstructure:"op_timeout_ms"`
}

type Config struct {
	RPCList      []string           `mapstructure:"rpc_list"`
	Redis        store.ClientConfig `mapstructure:"redis"`
	PostgresURL  string             `mapstructure:"postgres_url"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	PumpPortal   PumpPortalConfig   `mapstructure:"pumpportal"`
	Jupiter      JupiterConfig      `mapstructure:"jupiter"`
	DexScreener  DexScreenerConfig  `mapstructure:"dexscreener"`
	Trading      TradingConfig      `mapstructure:"trading"`
	Exit         ExitConfig         `mapstructure:"exit"`
	Oracle       OracleConfig       `mapstructure:"oracle"`
	Fees         pnl.FeeSchedule    `mapstructure:"fees"`
	Store        StoreConfig        `mapstructure:"store"`
	MonitorDelay int                `mapstructure:"monitor_delay"`
	MetricsAddr  string             `mapstructure:"metrics_addr"`
	WalletsFile  string             `mapstructure:"wallets_file"`
	JournalDir   string             `mapstructure:"journal_dir"`
	LogFile      string             `mapstructure:"log_file"`
	DebugLogging bool               `mapstructure:"debug_logging"`

	// Wallets is read from WalletsFile after the main config.
	Wallets *Wallets `mapstructure:"-"`
}

const (
	DefaultMonitorDelay = 2000
	DefaultRedisAddr    = "localhost:6379"
)

func setDefaults(v *viper.Viper) {
	fees := pnl.DefaultFeeSchedule()
	strategy := copytrade.DefaultUpvoteStrategy()
	threshold := exit.DefaultThresholdStrategy()

	defaults := map[string]interface{}{
		"redis.addr":        DefaultRedisAddr,
		"redis.pool_size":   10,
		"redis.max_retries": 3,

		"pumpportal.base_url":    executor.DefaultPumpPortalURL,
		"pumpportal.pool":        "auto",
		"pumpportal.max_retries": 3,
		"pumpportal.timeout_ms":  15000,
		"pumpportal.api_key":     "",

		"jupiter.base_url":   jupiter.DefaultBaseURL,
		"jupiter.timeout_ms": 10000,
		"jupiter.api_key":    "",

		"dexscreener.base_url":            dexscreener.DefaultBaseURL,
		"dexscreener.requests_per_minute": 60,
		"dexscreener.timeout_ms":          10000,

		"telegram.token":   "",
		"telegram.chat_id": 0,

		"trading.live":                        false,
		"trading.slippage_pct":                15.0,
		"trading.priority_fee":                0.0005,
		"trading.estimated_slippage_pct":      1.0,
		"trading.max_signal_age_ms":           120000,
		"trading.buyer_ttl_ms":                86400000,
		"trading.trade_timeout_ms":            45000,
		"trading.confirm_interval_ms":         2000,
		"trading.confirm_attempts":            15,
		"trading.graduation_warmup_ms":        15000,
		"trading.sim_band_low":                0.5,
		"trading.sim_band_high":               3.0,
		"trading.strategy.min_upvotes":        strategy.MinUpvotes,
		"trading.strategy.consensus_upvotes":  strategy.ConsensusUpvotes,
		"trading.strategy.confidence_upvotes": strategy.ConfidenceUpvotes,
		"trading.strategy.base_buy_sol":       strategy.BaseBuySol,
		"trading.strategy.max_buy_sol":        strategy.MaxBuySol,
		"trading.strategy.max_entry_progress": strategy.MaxEntryProgress,
		"trading.strategy.spend_multiplier":   0.0,

		"exit.take_profit_pct":         threshold.TakeProfitPct,
		"exit.stop_loss_pct":           threshold.StopLossPct,
		"exit.trailing_stop_pct":       threshold.TrailingStopPct,
		"exit.trailing_activation_pct": threshold.TrailingActivationPct,
		"exit.max_hold_ms":             3600000,
		"exit.mirror_window_ms":        180000,
		"exit.independent_after_ms":    600000,
		"exit.exit_on_graduation":      true,
		"exit.wallet_check_ttl_ms":     15000,
		"exit.fee_drag_threshold_pct":  pnl.DefaultDiscrepancyThreshold,

		"oracle.curve_ttl_ms":      2000,
		"oracle.aggregator_ttl_ms": 5000,
		"oracle.market_ttl_ms":     10000,
		"oracle.call_timeout_ms":   4000,
		"oracle.failure_threshold": 3,
		"oracle.failure_window_ms": 60000,

		"fees.relay_sell_fee":      fees.RelaySellFee,
		"fees.aggregator_sell_fee": fees.AggregatorSellFee,
		"fees.generic_sell_fee":    fees.GenericSellFee,
		"fees.network_fee":         fees.NetworkFee,

		"store.prefix":              "copybot:",
		"store.reentry_cooldown_ms": 1800000,
		"store.signal_claim_ttl_ms": 600000,
		"store.op_timeout_ms":       3000,

		"monitor_delay": DefaultMonitorDelay,
		"journal_dir":   "data/journal",
		"wallets_file":  "",
		"postgres_url":  "",
		"metrics_addr":  "",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// LoadConfig reads .env (when present), the JSON config at path and the
// wallets file it points to. COPYBOT_* variables override file values.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	loadEnvironmentVariables(v, &cfg)

	wallets, err := LoadWallets(cfg.WalletsFile)
	if err != nil {
		return nil, err
	}
	if key := v.GetString("PRIVATE_KEY"); key != "" {
		wallets.Trading.PrivateKey = key
	}
	cfg.Wallets = wallets

	return &cfg, cfg.validate()
}

// loadEnvironmentVariables applies overrides viper cannot bind by key name.
func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if key := v.GetString("PUMPPORTAL_API_KEY"); key != "" {
		cfg.PumpPortal.APIKey = key
	}
	if envRPCList := v.GetString("RPC_LIST"); envRPCList != "" {
		var cleanRPCs []string
		for _, rpc := range strings.Split(envRPCList, ",") {
			if clean := strings.TrimSpace(rpc); clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
}

func (c *Config) validate() error {
	if len(c.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range c.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return fmt.Errorf("rpc_list entry %q: %w", rpcURL, err)
		}
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is empty")
	}
	if c.MonitorDelay <= 0 {
		return errors.New("invalid monitor_delay")
	}
	if c.Trading.SlippagePct < 0 || c.Trading.SlippagePct > 100 {
		return errors.New("trading.slippage_pct must be within [0, 100]")
	}
	if c.Trading.PriorityFee < 0 {
		return errors.New("invalid trading.priority_fee")
	}
	if c.Trading.EstimatedSlippagePct < 0 || c.Trading.EstimatedSlippagePct >= 100 {
		return errors.New("trading.estimated_slippage_pct must be within [0, 100)")
	}
	if c.Trading.Strategy.BaseBuySol <= 0 {
		return errors.New("trading.strategy.base_buy_sol must be positive")
	}
	if c.Trading.SimBandLow <= 0 || c.Trading.SimBandHigh < c.Trading.SimBandLow {
		return errors.New("invalid simulated price band")
	}
	if c.Exit.StopLossPct < 0 || c.Exit.StopLossPct > 100 {
		return errors.New("exit.stop_loss_pct must be within [0, 100]")
	}
	if c.Exit.IndependentAfterMs < c.Exit.MirrorWindowMs {
		return errors.New("exit.independent_after_ms must not precede exit.mirror_window_ms")
	}
	for name, fee := range map[string]float64{
		"relay_sell_fee":      c.Fees.RelaySellFee,
		"aggregator_sell_fee": c.Fees.AggregatorSellFee,
		"generic_sell_fee":    c.Fees.GenericSellFee,
	} {
		if fee < 0 || fee >= 1 {
			return fmt.Errorf("fees.%s must be a fraction in [0, 1)", name)
		}
	}
	if c.Trading.Live && (c.Wallets == nil || c.Wallets.Trading.PrivateKey == "") {
		return errors.New("live trading requires a trading private key")
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required with a telegram token")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) MonitorInterval() time.Duration { return ms(c.MonitorDelay) }

func (c *Config) TradeTimeout() time.Duration { return ms(c.Trading.TradeTimeoutMs) }

func (c *Config) OracleConfig() oracle.Config {
	return oracle.Config{
		CurveTTL:         ms(c.Oracle.CurveTTLMs),
		AggregatorTTL:    ms(c.Oracle.AggregatorTTLMs),
		MarketTTL:        ms(c.Oracle.MarketTTLMs),
		CallTimeout:      ms(c.Oracle.CallTimeoutMs),
		FailureThreshold: c.Oracle.FailureThreshold,
		FailureWindow:    ms(c.Oracle.FailureWindowMs),
	}
}

func (c *Config) StoreConfig() store.Config {
	cfg := store.DefaultConfig()
	cfg.Prefix = c.Store.Prefix
	cfg.ReentryCooldown = ms(c.Store.ReentryCooldownMs)
	cfg.SignalClaimTTL = ms(c.Store.SignalClaimTTLMs)
	cfg.OpTimeout = ms(c.Store.OpTimeoutMs)
	return cfg
}

func (c *Config) ExitConfig() exit.Config {
	return exit.Config{
		MirrorWindow:     ms(c.Exit.MirrorWindowMs),
		IndependentAfter: ms(c.Exit.IndependentAfterMs),
	}
}

func (c *Config) ThresholdStrategy() exit.ThresholdStrategy {
	return exit.ThresholdStrategy{
		TakeProfitPct:         c.Exit.TakeProfitPct,
		StopLossPct:           c.Exit.StopLossPct,
		TrailingStopPct:       c.Exit.TrailingStopPct,
		TrailingActivationPct: c.Exit.TrailingActivationPct,
		MaxHold:               ms(c.Exit.MaxHoldMs),
	}
}

func (c *Config) CopyConfig() copytrade.Config {
	cfg := copytrade.DefaultConfig()
	cfg.SlippagePct = c.Trading.SlippagePct
	cfg.PriorityFee = c.Trading.PriorityFee
	cfg.MaxSignalAge = ms(c.Trading.MaxSignalAgeMs)
	cfg.BuyerTTL = ms(c.Trading.BuyerTTLMs)
	cfg.PriceTimeout = ms(c.Oracle.CallTimeoutMs)
	cfg.TradeTimeout = ms(c.Trading.TradeTimeoutMs)
	if c.Wallets != nil {
		cfg.Labels = c.Wallets.Labels()
	}
	return cfg
}

func (c *Config) ConfirmerConfig() executor.ConfirmerConfig {
	return executor.ConfirmerConfig{
		Interval: ms(c.Trading.ConfirmIntervalMs),
		Attempts: c.Trading.ConfirmAttempts,
	}
}

func (c *Config) PumpPortalConfig() executor.PumpPortalConfig {
	return executor.PumpPortalConfig{
		BaseURL:    c.PumpPortal.BaseURL,
		APIKey:     c.PumpPortal.APIKey,
		Pool:       c.PumpPortal.Pool,
		MaxRetries: c.PumpPortal.MaxRetries,
		Timeout:    ms(c.PumpPortal.TimeoutMs),
	}
}

func (c *Config) JupiterConfig() jupiter.Config {
	return jupiter.Config{
		BaseURL: c.Jupiter.BaseURL,
		APIKey:  c.Jupiter.APIKey,
		Timeout: ms(c.Jupiter.TimeoutMs),
	}
}

func (c *Config) DexScreenerConfig() dexscreener.Config {
	return dexscreener.Config{
		BaseURL:           c.DexScreener.BaseURL,
		RequestsPerMinute: c.DexScreener.RequestsPerMinute,
		Timeout:           ms(c.DexScreener.TimeoutMs),
	}
}

func (c *Config) RouterConfig() executor.RouterConfig {
	return executor.RouterConfig{GraduationWarmup: ms(c.Trading.GraduationWarmupMs)}
}

func (c *Config) SimulatedConfig() executor.SimulatedConfig {
	return executor.SimulatedConfig{BandLow: c.Trading.SimBandLow, BandHigh: c.Trading.SimBandHigh}
}
