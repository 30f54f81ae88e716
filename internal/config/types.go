package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Weather   WeatherConfig   `mapstructure:"weather"`
	Brain     BrainConfig     `mapstructure:"brain"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数与实盘开关。
type AppConfig struct {
	Environment       string `mapstructure:"environment"`
	PaperTrade        bool   `mapstructure:"paper_trade"`
	PaperBalanceCents int64  `mapstructure:"paper_balance_cents"`
	ConfirmLive       bool   `mapstructure:"confirm_live"`
	Lockfile          string `mapstructure:"lockfile"`
}

// ExchangeConfig 描述 Kalshi 连接信息。
type ExchangeConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKeyID       string        `mapstructure:"api_key_id"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	Series         string        `mapstructure:"series"`
	MarketTicker   string        `mapstructure:"market_ticker"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// WeatherConfig 描述天气数据源。
type WeatherConfig struct {
	City           string        `mapstructure:"city"`
	Latitude       float64       `mapstructure:"latitude"`
	Longitude      float64       `mapstructure:"longitude"`
	Timezone       string        `mapstructure:"timezone"`
	ForecastURL    string        `mapstructure:"forecast_url"`
	EnsembleURL    string        `mapstructure:"ensemble_url"`
	NWSURL         string        `mapstructure:"nws_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	EnsembleModels []string      `mapstructure:"ensemble_models"`
	Timeout        time.Duration `mapstructure:"timeout"`
	BestEffortWait time.Duration `mapstructure:"best_effort_wait"`
}

// BrainConfig 控制决策引擎。
type BrainConfig struct {
	Kind            string  `mapstructure:"kind"`
	MinEdgePoints   float64 `mapstructure:"min_edge_points"`
	MaxAskCents     int     `mapstructure:"max_ask_cents"`
	MaxSpreadCents  int     `mapstructure:"max_spread_cents"`
	MinYesAskCents  int     `mapstructure:"min_yes_ask_cents"`
	MaxYesAskCents  int     `mapstructure:"max_yes_ask_cents"`
	MinLiquidity    int64   `mapstructure:"min_liquidity"`
	SigmoidScale    float64 `mapstructure:"sigmoid_scale"`
	DoubleEdgePoint float64 `mapstructure:"double_edge_points"`
}

// OpenAIConfig 描述大模型调用参数，兼容 OpenRouter 等 OpenAI 协议服务。
type OpenAIConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RiskConfig 管理风控参数，金额单位均为美分。
type RiskConfig struct {
	MinBalanceCents      int64         `mapstructure:"min_balance_cents"`
	MaxDailyLossCents    int64         `mapstructure:"max_daily_loss_cents"`
	MaxConsecutiveLosses int           `mapstructure:"max_consecutive_losses"`
	MinTimeToExpiry      time.Duration `mapstructure:"min_time_to_expiry"`
	MaxShares            int           `mapstructure:"max_shares"`
	DailyLossResetHour   int           `mapstructure:"daily_loss_reset_hour"`
}

// ExecutionConfig 控制下单行为。
type ExecutionConfig struct {
	OrderExpiry time.Duration `mapstructure:"order_expiry"`
}

// LedgerConfig 描述交易账本文件。
type LedgerConfig struct {
	Path              string        `mapstructure:"path"`
	StatsPath         string        `mapstructure:"stats_path"`
	StalePendingAfter time.Duration `mapstructure:"stale_pending_after"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MetricsConfig 控制指标输出。为空时不写出。
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// MonitorConfig 控制只读监控接口。
type MonitorConfig struct {
	Addr string `mapstructure:"addr"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.App.Lockfile == "" {
		err = multierr.Append(err, errors.New("app.lockfile 不能为空"))
	}
	if c.Exchange.BaseURL == "" {
		err = multierr.Append(err, errors.New("exchange.base_url 不能为空"))
	}
	if c.Exchange.Series == "" && c.Exchange.MarketTicker == "" {
		err = multierr.Append(err, errors.New("exchange.series 与 exchange.market_ticker 至少配置一个"))
	}
	if c.Exchange.Timeout <= 0 {
		err = multierr.Append(err, errors.New("exchange.timeout 必须大于0"))
	}
	if c.Weather.Latitude < -90 || c.Weather.Latitude > 90 {
		err = multierr.Append(err, errors.New("weather.latitude 必须位于[-90,90]"))
	}
	if c.Weather.Longitude < -180 || c.Weather.Longitude > 180 {
		err = multierr.Append(err, errors.New("weather.longitude 必须位于[-180,180]"))
	}
	if c.Weather.Latitude == 0 && c.Weather.Longitude == 0 {
		err = multierr.Append(err, errors.New("weather 坐标未配置，请设置 weather.city 或经纬度"))
	}
	if _, locErr := time.LoadLocation(c.Weather.Timezone); c.Weather.Timezone == "" || locErr != nil {
		err = multierr.Append(err, fmt.Errorf("weather.timezone 无效: %q", c.Weather.Timezone))
	}
	if c.Weather.ForecastURL == "" || c.Weather.EnsembleURL == "" || c.Weather.NWSURL == "" {
		err = multierr.Append(err, errors.New("weather 数据源地址不能为空"))
	}
	if c.Weather.Timeout <= 0 {
		err = multierr.Append(err, errors.New("weather.timeout 必须大于0"))
	}
	if c.Weather.BestEffortWait <= 0 {
		err = multierr.Append(err, errors.New("weather.best_effort_wait 必须大于0"))
	}
	switch strings.ToLower(c.Brain.Kind) {
	case "rules":
	case "llm":
		if c.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("brain.kind=llm 时 openai.api_key 不能为空"))
		}
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("brain.kind 仅支持 rules|llm，当前为 %q", c.Brain.Kind))
	}
	if c.Brain.MinEdgePoints <= 0 {
		err = multierr.Append(err, errors.New("brain.min_edge_points 必须大于0"))
	}
	if c.Brain.DoubleEdgePoint < c.Brain.MinEdgePoints {
		err = multierr.Append(err, errors.New("brain.double_edge_points 不应小于 min_edge_points"))
	}
	if c.Brain.MaxAskCents <= 0 || c.Brain.MaxAskCents > 50 {
		err = multierr.Append(err, errors.New("brain.max_ask_cents 必须位于(0,50]"))
	}
	if c.Brain.MaxSpreadCents < 0 {
		err = multierr.Append(err, errors.New("brain.max_spread_cents 不能为负"))
	}
	if c.Brain.MinYesAskCents < 0 || c.Brain.MaxYesAskCents > 100 || c.Brain.MinYesAskCents > c.Brain.MaxYesAskCents {
		err = multierr.Append(err, errors.New("brain 极端价格区间无效"))
	}
	if c.Brain.SigmoidScale <= 0 {
		err = multierr.Append(err, errors.New("brain.sigmoid_scale 必须大于0"))
	}
	if c.Risk.MinBalanceCents < 0 {
		err = multierr.Append(err, errors.New("risk.min_balance_cents 不能为负"))
	}
	if c.Risk.MaxDailyLossCents <= 0 {
		err = multierr.Append(err, errors.New("risk.max_daily_loss_cents 必须大于0"))
	}
	if c.Risk.MaxConsecutiveLosses <= 0 {
		err = multierr.Append(err, errors.New("risk.max_consecutive_losses 必须大于0"))
	}
	if c.Risk.MinTimeToExpiry < 0 {
		err = multierr.Append(err, errors.New("risk.min_time_to_expiry 不能为负"))
	}
	if c.Risk.MaxShares <= 0 {
		err = multierr.Append(err, errors.New("risk.max_shares 必须大于0"))
	}
	if c.Risk.DailyLossResetHour < 0 || c.Risk.DailyLossResetHour > 23 {
		err = multierr.Append(err, errors.New("risk.daily_loss_reset_hour 必须位于[0,23]"))
	}
	if c.Execution.OrderExpiry < 0 {
		err = multierr.Append(err, errors.New("execution.order_expiry 不能为负"))
	}
	if c.Ledger.Path == "" {
		err = multierr.Append(err, errors.New("ledger.path 不能为空"))
	}
	if c.Ledger.StatsPath == "" {
		err = multierr.Append(err, errors.New("ledger.stats_path 不能为空"))
	}
	if c.Ledger.StalePendingAfter <= 0 {
		err = multierr.Append(err, errors.New("ledger.stale_pending_after 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Addr == "" {
		err = multierr.Append(err, errors.New("monitor.addr 不能为空"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
