package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kalshi-weather/internal/app"
	"kalshi-weather/internal/config"
	"kalshi-weather/internal/cycle"
	"kalshi-weather/internal/log"
	"kalshi-weather/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "trader",
		Short:         "Kalshi 日最高气温合约的周期交易程序",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")

	run := &cobra.Command{
		Use:   "run",
		Short: "执行一次交易周期",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app.App, logger *zap.Logger) error {
				res, err := a.RunOnce(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), summaryLine(res, err))
				if err != nil {
					return err
				}
				logger.Info("周期完成", zap.String("outcome", string(res.Outcome)), zap.String("reason", res.Reason))
				return nil
			})
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "打印账本统计",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), configPath, func(_ context.Context, a *app.App, _ *zap.Logger) error {
				s, _, err := a.Stats()
				if err != nil {
					return err
				}
				return printJSON(cmd, s)
			})
		},
	}

	var (
		eventType  string
		eventLimit int
	)
	events := &cobra.Command{
		Use:   "events",
		Short: "打印最近的监控事件",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app.App, _ *zap.Logger) error {
				list, err := a.Events(ctx, eventType, eventLimit)
				if err != nil {
					return err
				}
				return printJSON(cmd, list)
			})
		},
	}
	events.Flags().StringVar(&eventType, "type", "", "事件类型，如 decision、order、error")
	events.Flags().IntVar(&eventLimit, "limit", 50, "返回条数")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "启动只读监控接口",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app.App, _ *zap.Logger) error {
				return a.Serve(ctx)
			})
		},
	}

	root.AddCommand(run, stats, events, serve)
	root.RunE = run.RunE
	return root
}

// withApp 按 配置 → 日志 → 数据库 → App 的顺序初始化，并在结束时释放资源。
func withApp(ctx context.Context, configPath string, fn func(context.Context, *app.App, *zap.Logger) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		return err
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	tradingApp, err := app.New(ctx, cfg, logger, sqliteStore)
	if err != nil {
		logger.Error("初始化应用失败", zap.Error(err))
		return err
	}

	if err := fn(ctx, tradingApp, logger); err != nil {
		logger.Error("系统运行异常", zap.Error(err))
		return err
	}
	return nil
}

// summaryLine 生成周期结束时的单行摘要。
func summaryLine(res cycle.Result, err error) string {
	switch {
	case err != nil && res.StoppedAt != "":
		return fmt.Sprintf("aborted at %s: %s: %v", res.StoppedAt, res.Reason, err)
	case err != nil:
		return fmt.Sprintf("aborted: %v", err)
	case res.Traded():
		return fmt.Sprintf("traded %s: %s", res.Ticker, res.Reason)
	default:
		return fmt.Sprintf("passed: %s", res.Reason)
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
