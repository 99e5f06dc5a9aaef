package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Gas       GasConfig       `mapstructure:"gas"`
	Submitter SubmitterConfig `mapstructure:"submitter"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Alerts    AlertConfig     `mapstructure:"alerts"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Journal   JournalConfig   `mapstructure:"journal"`
}

type ServerConfig struct {
	Port       string  `mapstructure:"port"`
	ReadOnly   bool    `mapstructure:"read_only"` // only GETs and emergency stop are served
	AdminRPS   float64 `mapstructure:"admin_rps"`
	AdminBurst int     `mapstructure:"admin_burst"`
}

type AuthConfig struct {
	AdminKey string `mapstructure:"admin_key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects the backend for nonce, risk-state and ledger records.
type StoreConfig struct {
	Backend    string `mapstructure:"backend"` // redis | sqlite | memory
	SQLitePath string `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ChainConfig struct {
	RPCURL     string  `mapstructure:"rpc_url"`
	ChainID    int64   `mapstructure:"chain_id"`
	PrivateKey string  `mapstructure:"private_key"`
	RPS        float64 `mapstructure:"rps"`
	Burst      int     `mapstructure:"burst"`
}

type GasConfig struct {
	MaxGasPriceGwei  float64 `mapstructure:"max_gas_price_gwei"` // e.g. 100
	PriorityFeeGwei  float64 `mapstructure:"priority_fee_gwei"`  // e.g. 30
	BaseFeeBuffer    float64 `mapstructure:"base_fee_buffer"`    // e.g. 1.1
	GasLimitBuffer   float64 `mapstructure:"gas_limit_buffer"`   // e.g. 1.2
	FallbackGasLimit uint64  `mapstructure:"fallback_gas_limit"` // e.g. 300000
	ReplacementBump  float64 `mapstructure:"replacement_bump"`   // e.g. 0.125
}

type SubmitterConfig struct {
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
}

// RiskConfig is the single source of truth for circuit-breaker thresholds.
type RiskConfig struct {
	MaxConsecutiveLosses    int     `mapstructure:"max_consecutive_losses"`     // 3
	MaxDailyLossPct         float64 `mapstructure:"max_daily_loss_pct"`         // 5.0
	MaxBotDrawdownPct       float64 `mapstructure:"max_bot_drawdown_pct"`       // 25.0
	MaxPortfolioDrawdownPct float64 `mapstructure:"max_portfolio_drawdown_pct"` // 40.0
	SafeZones               []int   `mapstructure:"safe_zones"`                 // [1,2,3]
}

type WalletConfig struct {
	TotalBalance        float64 `mapstructure:"total_balance"`
	HotRatio            float64 `mapstructure:"hot_ratio"`
	LowBalanceThreshold float64 `mapstructure:"low_balance_threshold"`
}

type AlertConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Rate       float64       `mapstructure:"rate"`
	Burst      int           `mapstructure:"burst"`
	QueueSize  int           `mapstructure:"queue_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

type JournalConfig struct {
	Dir string `mapstructure:"dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.admin_rps", 10)
	v.SetDefault("server.admin_burst", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.sqlite_path", "./data/polyguard.db")
	v.SetDefault("redis.key_prefix", "polyguard")
	v.SetDefault("chain.chain_id", 137)
	v.SetDefault("chain.rps", 20)
	v.SetDefault("chain.burst", 10)
	v.SetDefault("gas.max_gas_price_gwei", 100)
	v.SetDefault("gas.priority_fee_gwei", 30)
	v.SetDefault("gas.base_fee_buffer", 1.1)
	v.SetDefault("gas.gas_limit_buffer", 1.2)
	v.SetDefault("gas.fallback_gas_limit", 300000)
	v.SetDefault("gas.replacement_bump", 0.125)
	v.SetDefault("submitter.confirm_timeout", 2*time.Minute)
	v.SetDefault("submitter.poll_interval", 500*time.Millisecond)
	v.SetDefault("submitter.max_attempts", 3)
	v.SetDefault("submitter.backoff_base", time.Second)
	v.SetDefault("submitter.lock_timeout", 5*time.Second)
	v.SetDefault("risk.max_consecutive_losses", 3)
	v.SetDefault("risk.max_daily_loss_pct", 5.0)
	v.SetDefault("risk.max_bot_drawdown_pct", 25.0)
	v.SetDefault("risk.max_portfolio_drawdown_pct", 40.0)
	v.SetDefault("risk.safe_zones", []int{1, 2, 3})
	v.SetDefault("wallet.hot_ratio", 0.15)
	v.SetDefault("wallet.low_balance_threshold", 1000)
	v.SetDefault("alerts.rate", 1)
	v.SetDefault("alerts.burst", 5)
	v.SetDefault("alerts.queue_size", 256)
	v.SetDefault("alerts.timeout", 5*time.Second)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "polyguard")
	v.SetDefault("journal.dir", "./logs")
}

// Load reads config.yaml (from . or ./configs), an optional .env file and
// POLYGUARD_* environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using process environment")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// e.g. POLYGUARD_CHAIN_RPC_URL
	v.SetEnvPrefix("polyguard")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("store.backend must be memory, sqlite or redis, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for the redis store")
	}
	if c.Wallet.HotRatio < 0.10 || c.Wallet.HotRatio > 0.20 {
		return fmt.Errorf("wallet.hot_ratio must be within [0.10, 0.20], got %.4f", c.Wallet.HotRatio)
	}
	if c.Risk.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("risk.max_consecutive_losses must be positive")
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxBotDrawdownPct <= 0 || c.Risk.MaxPortfolioDrawdownPct <= 0 {
		return fmt.Errorf("risk percentage thresholds must be positive")
	}
	if len(c.Risk.SafeZones) == 0 {
		return fmt.Errorf("risk.safe_zones must not be empty")
	}
	if c.Submitter.MaxAttempts <= 0 {
		return fmt.Errorf("submitter.max_attempts must be positive")
	}
	if c.Gas.MaxGasPriceGwei <= 0 {
		return fmt.Errorf("gas.max_gas_price_gwei must be positive")
	}
	return nil
}
