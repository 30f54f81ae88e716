package safety

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"kalshi-weather/internal/config"
	"kalshi-weather/internal/exchange"
	"kalshi-weather/internal/ledger"
)

// ErrLiveNotConfirmed 表示关闭了模拟盘但未确认实盘。
var ErrLiveNotConfirmed = errors.New("safety: app.paper_trade=false 但 app.confirm_live 未开启")

// ValidateStartup 在周期开始前做一次性检查，返回是否以实盘模式运行。
// 实盘要求确认开关、API key id 与可解析的 RSA 私钥；两种模式都要求账本可读。
func ValidateStartup(cfg *config.Config, logger *zap.Logger) (bool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		return false, errors.New("safety: 配置为空")
	}

	live := !cfg.App.PaperTrade
	var err error

	if live && !cfg.App.ConfirmLive {
		err = multierr.Append(err, ErrLiveNotConfirmed)
	}

	if keyErr := checkCredentials(cfg.Exchange); keyErr != nil {
		if live {
			err = multierr.Append(err, keyErr)
		} else {
			logger.Info("未配置交易所密钥，模拟盘使用虚拟余额", zap.String("reason", keyErr.Error()))
		}
	}

	store := ledger.NewFileStore(cfg.Ledger.Path, cfg.Ledger.StatsPath, logger)
	if _, loadErr := store.Load(); loadErr != nil {
		err = multierr.Append(err, fmt.Errorf("账本不可读: %w", loadErr))
	}

	if err != nil {
		return false, fmt.Errorf("safety: 启动检查失败: %w", err)
	}

	if live {
		logger.Warn("实盘交易已开启，将使用真实资金")
	} else {
		logger.Info("模拟盘模式运行")
	}
	return live, nil
}

// HasCredentials 判断配置中的密钥是否可用于签名请求。
func HasCredentials(cfg config.ExchangeConfig) bool {
	return checkCredentials(cfg) == nil
}

func checkCredentials(cfg config.ExchangeConfig) error {
	if strings.TrimSpace(cfg.APIKeyID) == "" {
		return errors.New("exchange.api_key_id 未配置")
	}
	if cfg.PrivateKeyPath == "" {
		return errors.New("exchange.private_key_path 未配置")
	}
	raw, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("读取私钥失败: %w", err)
	}
	if _, err := exchange.ParsePrivateKey(raw); err != nil {
		return err
	}
	return nil
}
