package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"kalshi-weather/internal/brain"
	"kalshi-weather/internal/config"
	"kalshi-weather/internal/cycle"
	"kalshi-weather/internal/exchange"
	"kalshi-weather/internal/ledger"
	"kalshi-weather/internal/metrics"
	"kalshi-weather/internal/monitor"
	"kalshi-weather/internal/risk"
	"kalshi-weather/internal/safety"
	"kalshi-weather/internal/store"
	"kalshi-weather/internal/weather"
)

var _ cycle.Recorder = (*monitor.Service)(nil)
var _ cycle.RiskTracker = (*risk.DailyTracker)(nil)
var _ cycle.Exchange = (*exchange.Client)(nil)
var _ cycle.Exchange = (*exchange.Paper)(nil)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Store
	loc     *time.Location
	monitor *monitor.Service
	tracker *risk.DailyTracker
	ledger  *ledger.FileStore
	metrics *metrics.Metrics
}

// New 创建 App 实例并初始化持久化组件。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, st *store.Store) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: 配置不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	loc, err := time.LoadLocation(cfg.Weather.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app: 加载时区失败: %w", err)
	}

	monitorSvc, err := monitor.NewService(ctx, st, logger.Named("monitor"))
	if err != nil {
		return nil, err
	}

	tracker, err := risk.NewDailyTracker(ctx, st, loc, cfg.Risk.DailyLossResetHour, logger.Named("risk"))
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		loc:     loc,
		monitor: monitorSvc,
		tracker: tracker,
		ledger:  ledger.NewFileStore(cfg.Ledger.Path, cfg.Ledger.StatsPath, logger.Named("ledger")),
		metrics: metrics.New(),
	}, nil
}

// RunOnce 在单实例锁保护下执行一次交易周期，并写出指标。
func (a *App) RunOnce(ctx context.Context) (cycle.Result, error) {
	lock, err := safety.Acquire(a.cfg.App.Lockfile, a.logger)
	if err != nil {
		return cycle.Result{}, err
	}
	defer lock.Release()

	live, err := safety.ValidateStartup(a.cfg, a.logger)
	if err != nil {
		return cycle.Result{}, err
	}

	runner, err := a.newRunner(live)
	if err != nil {
		return cycle.Result{}, err
	}

	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("city", a.cfg.Weather.City),
		zap.String("series", a.cfg.Exchange.Series),
		zap.String("brain", a.cfg.Brain.Kind),
		zap.String("ledger", a.ledger.Path()),
		zap.Bool("live", live),
	)

	res, runErr := runner.Run(ctx, live)
	a.metrics.ObserveCycle(res, runErr)
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
		a.logger.Warn("写出指标文件失败", zap.String("path", a.cfg.Metrics.TextfilePath), zap.Error(err))
	}
	return res, runErr
}

// Stats 从账本重新计算统计。
func (a *App) Stats() (ledger.Stats, []ledger.Entry, error) {
	entries, err := a.ledger.Load()
	if err != nil {
		return ledger.Stats{}, nil, err
	}
	return ledger.Compute(entries, time.Now(), a.loc), entries, nil
}

// Events 返回最近的监控事件。
func (a *App) Events(ctx context.Context, eventType string, limit int) ([]monitor.Event, error) {
	return a.monitor.ListEvents(ctx, monitor.EventType(strings.ToLower(strings.TrimSpace(eventType))), limit)
}

func (a *App) newRunner(live bool) (*cycle.Runner, error) {
	ex, err := a.newExchange(live)
	if err != nil {
		return nil, err
	}

	feed, err := a.newWeatherFeed()
	if err != nil {
		return nil, err
	}

	params := brain.ParamsFromConfig(a.cfg.Brain, a.cfg.Risk.MaxShares)
	var b brain.Brain
	switch strings.ToLower(a.cfg.Brain.Kind) {
	case "llm":
		b, err = brain.NewLLM(a.cfg.OpenAI, params, a.logger.Named("brain"))
		if err != nil {
			return nil, err
		}
	default:
		b = brain.NewRules(params)
	}

	return cycle.NewRunner(cycle.Deps{
		Exchange: ex,
		Weather:  feed,
		Brain:    b,
		Ledger:   a.ledger,
		Recorder: a.monitor,
		Tracker:  a.tracker,
	}, cycle.Options{
		Limits:            risk.LimitsFromConfig(a.cfg.Risk),
		MaxPriceCents:     a.cfg.Brain.MaxAskCents,
		StalePendingAfter: a.cfg.Ledger.StalePendingAfter,
		OrderExpiry:       a.cfg.Execution.OrderExpiry,
		Location:          a.loc,
	}, a.logger.Named("cycle"))
}

// newExchange 在有密钥时签名请求；模拟盘包装真实客户端，只拦截下单。
func (a *App) newExchange(live bool) (cycle.Exchange, error) {
	var signer *exchange.Signer
	if safety.HasCredentials(a.cfg.Exchange) {
		s, err := exchange.LoadSigner(a.cfg.Exchange.APIKeyID, a.cfg.Exchange.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		signer = s
	}

	client, err := exchange.NewClient(a.cfg.Exchange, signer, a.logger.Named("exchange"))
	if err != nil {
		return nil, err
	}
	if live {
		return client, nil
	}
	return exchange.NewPaper(client, a.cfg.App.PaperBalanceCents, a.logger.Named("paper")), nil
}

func (a *App) newWeatherFeed() (*weather.Feed, error) {
	om, err := weather.NewOpenMeteo(a.cfg.Weather, a.logger.Named("weather"))
	if err != nil {
		return nil, err
	}
	return weather.NewFeed(
		a.cfg.Weather.City,
		om,
		om,
		weather.NewNWS(a.cfg.Weather),
		a.cfg.Weather.BestEffortWait,
		a.logger.Named("weather"),
	)
}
