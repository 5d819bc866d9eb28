package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Matcher  MatcherConfig  `mapstructure:"matcher"`
	Feedback FeedbackConfig `mapstructure:"feedback"`
}

// ServerConfig defines the HTTP server settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig defines the message bus connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// AuthConfig defines JWT settings for the operator API.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// TradingConfig defines the static admission filters and position sizing.
type TradingConfig struct {
	MinEdgePct          float64 `mapstructure:"min_edge_pct"`
	MaxBuyProb          float64 `mapstructure:"max_buy_prob"`
	MinSellProb         float64 `mapstructure:"min_sell_prob"`
	AllowHedging        bool    `mapstructure:"allow_hedging"`
	KellyMultiplier     float64 `mapstructure:"kelly_multiplier"`
	MaxPositionPct      float64 `mapstructure:"max_position_pct"`
	InitialBankroll     float64 `mapstructure:"initial_bankroll"`
	WinCooldownMinutes  int     `mapstructure:"win_cooldown_minutes"`
	LossCooldownMinutes int     `mapstructure:"loss_cooldown_minutes"`
	PriceMaxAgeSeconds  int     `mapstructure:"price_max_age_seconds"`
	InflightTTLMinutes  int     `mapstructure:"inflight_ttl_minutes"`
}

// RiskConfig defines the risk controller limits.
type RiskConfig struct {
	MaxDailyLoss           float64 `mapstructure:"max_daily_loss"`
	MaxGameExposure        float64 `mapstructure:"max_game_exposure"`
	MaxSportExposure       float64 `mapstructure:"max_sport_exposure"`
	MaxSignalAgeMS         int     `mapstructure:"max_signal_age_ms"`
	EmergencyLatencyMS     int     `mapstructure:"emergency_latency_ms"`
	BreakerCooldownMinutes int     `mapstructure:"breaker_cooldown_minutes"`
}

// MatcherConfig defines the team-matching RPC client settings.
type MatcherConfig struct {
	ConfidenceFloor float64 `mapstructure:"confidence_floor"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	CacheTTLMinutes int     `mapstructure:"cache_ttl_minutes"`
}

// FeedbackConfig defines the adaptive rule-feedback loop settings.
type FeedbackConfig struct {
	Mode                     string  `mapstructure:"mode"` // learning or auto
	DetectionIntervalMinutes int     `mapstructure:"detection_interval_minutes"`
	LookbackDays             int     `mapstructure:"lookback_days"`
	MinSamplesDetect         int     `mapstructure:"min_samples_detect"`
	MinSamplesAct            int     `mapstructure:"min_samples_act"`
	MinWinRate               float64 `mapstructure:"min_win_rate"`
	MinAutoConfidence        float64 `mapstructure:"min_auto_confidence"`
	MinAutoSamples           int     `mapstructure:"min_auto_samples"`
}

// LearningMode reports whether the feedback loop requires human approval
// before any generated rule becomes active.
func (f FeedbackConfig) LearningMode() bool {
	return strings.EqualFold(f.Mode, "learning")
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("database.path", "edgegate.db")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("trading.min_edge_pct", 2.0)
	viper.SetDefault("trading.max_buy_prob", 0.95)
	viper.SetDefault("trading.min_sell_prob", 0.05)
	viper.SetDefault("trading.allow_hedging", false)
	viper.SetDefault("trading.kelly_multiplier", 0.25)
	viper.SetDefault("trading.max_position_pct", 5.0)
	viper.SetDefault("trading.initial_bankroll", 1000.0)
	viper.SetDefault("trading.win_cooldown_minutes", 15)
	viper.SetDefault("trading.loss_cooldown_minutes", 60)
	viper.SetDefault("trading.price_max_age_seconds", 120)
	viper.SetDefault("trading.inflight_ttl_minutes", 5)

	viper.SetDefault("risk.max_daily_loss", 100.0)
	viper.SetDefault("risk.max_game_exposure", 50.0)
	viper.SetDefault("risk.max_sport_exposure", 200.0)
	viper.SetDefault("risk.max_signal_age_ms", 5000)
	viper.SetDefault("risk.emergency_latency_ms", 30000)
	viper.SetDefault("risk.breaker_cooldown_minutes", 15)

	viper.SetDefault("matcher.confidence_floor", 0.85)
	viper.SetDefault("matcher.timeout_seconds", 2)
	viper.SetDefault("matcher.cache_ttl_minutes", 5)

	viper.SetDefault("feedback.mode", "learning")
	viper.SetDefault("feedback.detection_interval_minutes", 5)
	viper.SetDefault("feedback.lookback_days", 7)
	viper.SetDefault("feedback.min_samples_detect", 5)
	viper.SetDefault("feedback.min_samples_act", 10)
	viper.SetDefault("feedback.min_win_rate", 0.40)
	viper.SetDefault("feedback.min_auto_confidence", 0.70)
	viper.SetDefault("feedback.min_auto_samples", 10)
}
