package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Trading modes and sizing modes accepted by validate.
const (
	ModePaper = "paper"
	ModeLive  = "live"

	SizingFixed   = "fixed"
	SizingDynamic = "dynamic"
)

type Config struct {
	General  GeneralConfig  `toml:"general"`
	Schedule ScheduleConfig `toml:"schedule"`
	Trading  TradingConfig  `toml:"trading"`
	Risk     RiskConfig     `toml:"risk"`
	Strategy StrategyConfig `toml:"strategy"`
	Markets  MarketsConfig  `toml:"markets"`
	Feed     FeedConfig     `toml:"feed"`
	Telegram TelegramConfig `toml:"telegram"`
}

type GeneralConfig struct {
	DBPath     string `toml:"db_path"`
	LogLevel   string `toml:"log_level"`
	HealthPath string `toml:"health_path"`
}

type ScheduleConfig struct {
	ScanInterval        Duration `toml:"scan_interval"`
	PerformanceInterval Duration `toml:"performance_interval"`
}

type TradingConfig struct {
	Mode                string  `toml:"mode"` // "paper" or "live"
	InitialCapital      float64 `toml:"initial_capital"`
	BetSize             float64 `toml:"bet_size"`
	MinBetSize          float64 `toml:"min_bet_size"`
	MaxBetSize          float64 `toml:"max_bet_size"`
	SizingMode          string  `toml:"sizing_mode"` // "fixed" or "dynamic"
	PositionSizePct     float64 `toml:"position_size_pct"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	MaxEntryPrice       float64 `toml:"max_entry_price"`
	SlippageRate        float64 `toml:"slippage_rate"`
	TakerFeeRate        float64 `toml:"taker_fee_rate"`
}

type RiskConfig struct {
	MaxDrawdownLimit float64 `toml:"max_drawdown_limit"`
	MaxDailyLoss     float64 `toml:"max_daily_loss"`
}

type StrategyConfig struct {
	ImbalanceThreshold   float64 `toml:"imbalance_threshold"`
	EnsembleMinVotes     int     `toml:"ensemble_min_votes"`
	MomentumThresholdPct float64 `toml:"momentum_threshold_pct"`
}

type MarketsConfig struct {
	GammaURL string `toml:"gamma_url"`
	ClobURL  string `toml:"clob_url"`
}

type FeedConfig struct {
	WSURL               string `toml:"ws_url"`
	PriceHistoryMinutes int    `toml:"price_history_minutes"`
}

// TelegramConfig carries only the enable flag in TOML; the token and
// chat ID are secrets and come from the environment.
type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"-"`
	ChatID   string `toml:"-"`
}

// Duration wraps time.Duration for TOML unmarshaling.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.ChatID = os.Getenv("TELEGRAM_CHAT_ID")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Trading.Mode != ModePaper && c.Trading.Mode != ModeLive {
		return fmt.Errorf("invalid trading mode %q", c.Trading.Mode)
	}
	if c.Trading.SizingMode != SizingFixed && c.Trading.SizingMode != SizingDynamic {
		return fmt.Errorf("invalid sizing mode %q", c.Trading.SizingMode)
	}
	if c.Trading.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %.2f", c.Trading.InitialCapital)
	}
	// A fixed bet larger than the cap is almost certainly a typo; clamp it.
	if c.Trading.BetSize > c.Trading.MaxBetSize {
		c.Trading.BetSize = c.Trading.MaxBetSize
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			DBPath:     "./data/pendulum.db",
			LogLevel:   "info",
			HealthPath: "./data/health",
		},
		Schedule: ScheduleConfig{
			ScanInterval:        Duration{30 * time.Second},
			PerformanceInterval: Duration{1 * time.Hour},
		},
		Trading: TradingConfig{
			Mode:                "paper",
			InitialCapital:      1000.0,
			BetSize:             10.0,
			MinBetSize:          1.0,
			MaxBetSize:          10.0,
			SizingMode:          "fixed",
			PositionSizePct:     0.02,
			ConfidenceThreshold: 0.6,
			MaxEntryPrice:       0.70,
			SlippageRate:        0.005,
			TakerFeeRate:        0.01,
		},
		Risk: RiskConfig{
			MaxDrawdownLimit: 0.2,
			MaxDailyLoss:     50.0,
		},
		Strategy: StrategyConfig{
			ImbalanceThreshold:   1.5,
			EnsembleMinVotes:     2,
			MomentumThresholdPct: 0.05,
		},
		Markets: MarketsConfig{
			GammaURL: "https://gamma-api.polymarket.com",
			ClobURL:  "https://clob.polymarket.com",
		},
		Feed: FeedConfig{
			WSURL:               "wss://stream.binance.com:9443/ws/btcusdt@kline_1m",
			PriceHistoryMinutes: 30,
		},
		Telegram: TelegramConfig{
			Enabled: true,
		},
	}
}
