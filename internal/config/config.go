package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "kwx"
)

// Load 读取配置文件并结合环境变量返回 Config。
// 未显式指定且默认路径不存在时仅使用默认值与环境变量，足以运行模拟盘。
func Load(path string) (*Config, error) {
	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case !explicit && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)):
		case errors.As(err, &notFound):
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		default:
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.applyCity(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.paper_trade", true)
	v.SetDefault("app.paper_balance_cents", 10000)
	v.SetDefault("app.confirm_live", false)
	v.SetDefault("app.lockfile", "/tmp/kalshi-weather.lock")

	v.SetDefault("exchange.base_url", "https://api.elections.kalshi.com")
	v.SetDefault("exchange.api_key_id", "")
	v.SetDefault("exchange.private_key_path", "./kalshi_private_key.pem")
	v.SetDefault("exchange.series", "")
	v.SetDefault("exchange.market_ticker", "")
	v.SetDefault("exchange.timeout", "10s")

	v.SetDefault("weather.city", "KXHIGHNY")
	v.SetDefault("weather.latitude", 0)
	v.SetDefault("weather.longitude", 0)
	v.SetDefault("weather.timezone", "")
	v.SetDefault("weather.forecast_url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("weather.ensemble_url", "https://ensemble-api.open-meteo.com/v1/ensemble")
	v.SetDefault("weather.nws_url", "https://api.weather.gov")
	v.SetDefault("weather.user_agent", "(kalshi-weather, ops@localhost)")
	v.SetDefault("weather.ensemble_models", []string{"icon_seamless", "gfs_seamless", "ecmwf_ifs025"})
	v.SetDefault("weather.timeout", "10s")
	v.SetDefault("weather.best_effort_wait", "8s")

	v.SetDefault("brain.kind", "rules")
	v.SetDefault("brain.min_edge_points", 5.0)
	v.SetDefault("brain.double_edge_points", 10.0)
	v.SetDefault("brain.max_ask_cents", 50)
	v.SetDefault("brain.max_spread_cents", 4)
	v.SetDefault("brain.min_yes_ask_cents", 10)
	v.SetDefault("brain.max_yes_ask_cents", 90)
	v.SetDefault("brain.min_liquidity", 10)
	v.SetDefault("brain.sigmoid_scale", 2.0)

	v.SetDefault("openai.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openai.model", "moonshotai/kimi-k2.5")
	v.SetDefault("openai.max_tokens", 1200)
	v.SetDefault("openai.timeout", "30s")

	v.SetDefault("risk.min_balance_cents", 500)
	v.SetDefault("risk.max_daily_loss_cents", 1000)
	v.SetDefault("risk.max_consecutive_losses", 7)
	v.SetDefault("risk.min_time_to_expiry", "2m")
	v.SetDefault("risk.max_shares", 2)
	v.SetDefault("risk.daily_loss_reset_hour", 0)

	v.SetDefault("execution.order_expiry", "0s")

	v.SetDefault("ledger.path", "data/ledger.jsonl")
	v.SetDefault("ledger.stats_path", "data/stats.json")
	v.SetDefault("ledger.stale_pending_after", "48h")

	v.SetDefault("database.path", "data/kalshi_weather.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("metrics.textfile_path", "")

	v.SetDefault("monitor.addr", ":8090")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
