package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	walletA = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	walletB = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"rpc_list": ["https://api.mainnet-beta.solana.com"]}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultRedisAddr, cfg.Redis.Addr)
	assert.Equal(t, 2*time.Second, cfg.MonitorInterval())
	assert.Equal(t, 45*time.Second, cfg.TradeTimeout())
	assert.False(t, cfg.Trading.Live)
	assert.True(t, cfg.Exit.ExitOnGraduation)

	oc := cfg.OracleConfig()
	assert.Equal(t, 2*time.Second, oc.CurveTTL)
	assert.Equal(t, 4*time.Second, oc.CallTimeout)

	sc := cfg.StoreConfig()
	assert.Equal(t, "copybot:", sc.Prefix)
	assert.Equal(t, 30*time.Minute, sc.ReentryCooldown)

	ec := cfg.ExitConfig()
	assert.Equal(t, 3*time.Minute, ec.MirrorWindow)
	assert.Equal(t, 10*time.Minute, ec.IndependentAfter)

	cc := cfg.ConfirmerConfig()
	assert.Equal(t, 2*time.Second, cc.Interval)
	assert.Equal(t, uint(15), cc.Attempts)

	assert.Equal(t, 0.5, cfg.SimulatedConfig().BandLow)
	assert.Equal(t, 3.0, cfg.SimulatedConfig().BandHigh)
	assert.Greater(t, cfg.Trading.Strategy.BaseBuySol, 0.0)
}

func TestLoadConfigFileValuesAndDurations(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{
		"rpc_list": ["https://rpc.example.com"],
		"monitor_delay": 500,
		"trading": {"trade_timeout_ms": 30000, "strategy": {"base_buy_sol": 0.2, "min_upvotes": 2}},
		"exit": {"max_hold_ms": 60000, "take_profit_pct": 75},
		"fees": {"relay_sell_fee": 0.02}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.MonitorInterval())
	assert.Equal(t, 30*time.Second, cfg.TradeTimeout())
	assert.Equal(t, 0.2, cfg.Trading.Strategy.BaseBuySol)
	assert.Equal(t, 2, cfg.Trading.Strategy.MinUpvotes)
	assert.Equal(t, 0.02, cfg.Fees.RelaySellFee)

	ts := cfg.ThresholdStrategy()
	assert.Equal(t, time.Minute, ts.MaxHold)
	assert.Equal(t, 75.0, ts.TakeProfitPct)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"rpc_list": ["https://rpc.example.com"], "telegram": {"chat_id": 42}}`)

	t.Setenv("COPYBOT_RPC_LIST", "https://a.example.com, https://b.example.com,")
	t.Setenv("COPYBOT_TELEGRAM_TOKEN", "bot-token")
	t.Setenv("COPYBOT_PUMPPORTAL_API_KEY", "pp-key")
	t.Setenv("COPYBOT_PRIVATE_KEY", "env-key")
	t.Setenv("COPYBOT_REDIS_ADDR", "redis:6380")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.RPCList)
	assert.Equal(t, "bot-token", cfg.Telegram.Token)
	assert.Equal(t, "pp-key", cfg.PumpPortal.APIKey)
	assert.Equal(t, "env-key", cfg.Wallets.Trading.PrivateKey)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
}

func TestLoadConfigWallets(t *testing.T) {
	dir := t.TempDir()
	wallets := writeFile(t, dir, "wallets.yaml", `
trading:
  private_key: secret
tracked:
  - address: `+walletA+`
    label: whale
  - address: " `+walletB+` "
`)
	path := writeFile(t, dir, "config.json", `{"rpc_list": ["https://rpc.example.com"], "wallets_file": "`+filepath.ToSlash(wallets)+`"}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Wallets.Tracked, 2)
	assert.Equal(t, walletB, cfg.Wallets.Tracked[1].Address)
	assert.Equal(t, map[string]string{walletA: "whale"}, cfg.Wallets.Labels())
	assert.Equal(t, "whale", cfg.CopyConfig().Labels[walletA])
}

func TestLoadWalletsRejectsBadEntries(t *testing.T) {
	dir := t.TempDir()

	bad := writeFile(t, dir, "bad.yaml", "tracked:\n  - address: not-a-key\n")
	_, err := LoadWallets(bad)
	assert.Error(t, err)

	dup := writeFile(t, dir, "dup.yaml", "tracked:\n  - address: "+walletA+"\n  - address: "+walletA+"\n")
	_, err = LoadWallets(dup)
	assert.ErrorContains(t, err, "listed twice")

	_, err = LoadWallets(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	w, err := LoadWallets("")
	require.NoError(t, err)
	assert.Empty(t, w.Tracked)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		dir := t.TempDir()
		cfg, err := LoadConfig(writeFile(t, dir, "config.json", `{"rpc_list": ["https://rpc.example.com"]}`))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty rpc list", func(c *Config) { c.RPCList = nil }},
		{"websocket rpc", func(c *Config) { c.RPCList = []string{"wss://rpc.example.com"} }},
		{"no redis", func(c *Config) { c.Redis.Addr = "" }},
		{"zero monitor delay", func(c *Config) { c.MonitorDelay = 0 }},
		{"slippage above 100", func(c *Config) { c.Trading.SlippagePct = 150 }},
		{"zero base buy", func(c *Config) { c.Trading.Strategy.BaseBuySol = 0 }},
		{"inverted band", func(c *Config) { c.Trading.SimBandHigh = 0.1 }},
		{"phase order", func(c *Config) { c.Exit.IndependentAfterMs = 1 }},
		{"fee not a fraction", func(c *Config) { c.Fees.AggregatorSellFee = 1.5 }},
		{"live without key", func(c *Config) { c.Trading.Live = true }},
		{"telegram without chat", func(c *Config) { c.Telegram.Token = "t" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
