package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/Mengjun74/ibkr-mvp/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Gateway struct {
		WebSocketURL   string        `yaml:"websocket_url"`
		Symbol         string        `yaml:"symbol" default:"MES"`
		Exchange       string        `yaml:"exchange" default:"GLOBEX"`
		Currency       string        `yaml:"currency" default:"USD"`
		BackfillBars   int           `yaml:"backfill_bars" default:"390"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
	} `yaml:"gateway"`
	Strategy struct {
		WindowStarts   []string      `yaml:"window_starts"`
		RangeDuration  time.Duration `yaml:"range_duration" default:"15m"`
		EndOfTrading   string        `yaml:"end_of_trading" default:"10:25"`
		TrendSpan      int           `yaml:"trend_span" default:"20"`
		VolatilitySpan int           `yaml:"volatility_span" default:"14"`
		VolatilityMin  float64       `yaml:"volatility_min" default:"0.6"`
		VolatilityMax  float64       `yaml:"volatility_max" default:"4.0"`
		TickBuffer     float64       `yaml:"tick_buffer" default:"0.25"`
		TickSize       float64       `yaml:"tick_size" default:"0.25"`
		StopFloor      float64       `yaml:"stop_floor" default:"2.5"`
		StopVolMult    float64       `yaml:"stop_vol_mult" default:"1.2"`
		RewardMult     float64       `yaml:"reward_mult" default:"1.6"`
		BufferBars     int           `yaml:"buffer_bars" default:"300"`
	} `yaml:"strategy"`
	Risk struct {
		DailyLossFloor   float64       `yaml:"daily_loss_floor" default:"-60"`
		TradeLossFloor   float64       `yaml:"trade_loss_floor" default:"-12"`
		MaxDailyTrades   int           `yaml:"max_daily_trades" default:"8"`
		MaxPosition      int           `yaml:"max_position" default:"1"`
		CooldownDuration time.Duration `yaml:"cooldown_duration" default:"15m"`
	} `yaml:"risk"`
	Advisory struct {
		Enabled      bool          `yaml:"enabled"`
		BaseURL      string        `yaml:"base_url"`
		Timeout      time.Duration `yaml:"timeout" default:"3s"`
		CallCooldown time.Duration `yaml:"call_cooldown" default:"5m"`
	} `yaml:"advisory"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		SignalsTopic string   `yaml:"signals_topic" default:"orb.signals"`
		FillsTopic   string   `yaml:"fills_topic" default:"orb.fills"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"orb-engine"`
			Workers    int           `yaml:"workers" default:"1"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"250ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"orb"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		AsyncInsert  bool          `yaml:"async_insert" default:"true"`
		WaitForAsync bool          `yaml:"wait_for_async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"orb"`
	} `yaml:"redis"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("GATEWAY_WS_URL"); v != "" {
		c.Gateway.WebSocketURL = v
	}
	if v := os.Getenv("TRADING_SYMBOL"); v != "" {
		c.Gateway.Symbol = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("ADVISORY_URL"); v != "" {
		c.Advisory.BaseURL = v
		c.Advisory.Enabled = true
	}
	if v := os.Getenv("MAX_LOSS_DAILY"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("MAX_LOSS_DAILY: %w", err)
		}
		c.Risk.DailyLossFloor = f
	}
	if v := os.Getenv("MAX_LOSS_PER_TRADE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("MAX_LOSS_PER_TRADE: %w", err)
		}
		c.Risk.TradeLossFloor = f
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Gateway.Symbol == "" {
		return fmt.Errorf("gateway.symbol is required")
	}
	if len(c.Strategy.WindowStarts) == 0 {
		return fmt.Errorf("strategy.window_starts cannot be empty")
	}
	seen := make(map[string]bool, len(c.Strategy.WindowStarts))
	for _, s := range c.Strategy.WindowStarts {
		if _, err := util.ParseTimeOfDay(s); err != nil {
			return fmt.Errorf("strategy.window_starts: %w", err)
		}
		if seen[s] {
			return fmt.Errorf("strategy.window_starts: duplicate start %q", s)
		}
		seen[s] = true
	}
	if _, err := util.ParseTimeOfDay(c.Strategy.EndOfTrading); err != nil {
		return fmt.Errorf("strategy.end_of_trading: %w", err)
	}
	if c.Strategy.RangeDuration <= 0 {
		return fmt.Errorf("strategy.range_duration must be positive")
	}
	if c.Strategy.VolatilityMin > c.Strategy.VolatilityMax {
		return fmt.Errorf("strategy.volatility_min must be <= volatility_max")
	}
	if c.Risk.DailyLossFloor >= 0 {
		return fmt.Errorf("risk.daily_loss_floor must be negative")
	}
	if c.Risk.TradeLossFloor >= 0 {
		return fmt.Errorf("risk.trade_loss_floor must be negative")
	}
	if c.Risk.MaxDailyTrades <= 0 {
		return fmt.Errorf("risk.max_daily_trades must be positive")
	}
	if c.Advisory.Enabled && c.Advisory.BaseURL == "" {
		return fmt.Errorf("advisory.base_url is required when advisory is enabled")
	}
	return nil
}

// EndOfTradingTime returns the parsed end-of-trading cutoff.
func (c *Config) EndOfTradingTime() (util.TimeOfDay, error) {
	return util.ParseTimeOfDay(c.Strategy.EndOfTrading)
}

// WindowStartTimes returns the configured window starts parsed and sorted ascending.
func (c *Config) WindowStartTimes() []util.TimeOfDay {
	starts := make([]util.TimeOfDay, 0, len(c.Strategy.WindowStarts))
	for _, s := range c.Strategy.WindowStarts {
		tod, err := util.ParseTimeOfDay(s)
		if err != nil {
			continue // Validate rejects unparseable starts before this is reachable
		}
		starts = append(starts, tod)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts
}
