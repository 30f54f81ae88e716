package exchange

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"kalshi-weather/internal/apperr"
)

// ActiveMarket 返回本周期交易的唯一合约。
// 配置了 market_ticker 时直接使用；否则在系列中最早收盘的事件里挑选成交最活跃的合约。
// 没有可交易合约时返回 nil 且不报错。
func (c *Client) ActiveMarket(ctx context.Context) (*Market, error) {
	if c.cfg.MarketTicker != "" {
		m, err := c.Market(ctx, c.cfg.MarketTicker)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if !m.Open() {
			c.logger.Info("指定合约当前不可交易", zap.String("ticker", m.Ticker), zap.String("status", m.Status))
			return nil, nil
		}
		return &m, nil
	}

	markets, err := c.ListOpenMarkets(ctx, c.cfg.Series)
	if err != nil {
		return nil, err
	}

	selected, ok := SelectMarket(markets, c.now())
	if !ok {
		return nil, nil
	}

	c.logger.Info("已选定交易合约",
		zap.String("ticker", selected.Ticker),
		zap.String("event", selected.EventTicker),
		zap.Int("candidates", len(markets)),
		zap.Time("close_time", selected.Deadline()),
	)
	return &selected, nil
}

// SelectMarket 在最早收盘的事件中选择 24 小时成交量最大的开放合约，
// 成交量相同时比较持仓量，再按代码排序。
func SelectMarket(markets []Market, now time.Time) (Market, bool) {
	var (
		earliest time.Time
		event    string
	)
	for _, m := range markets {
		if !m.Open() || !m.Deadline().After(now) {
			continue
		}
		if event == "" || m.Deadline().Before(earliest) {
			earliest = m.Deadline()
			event = m.EventTicker
		}
	}
	if event == "" {
		return Market{}, false
	}

	candidates := make([]Market, 0, len(markets))
	for _, m := range markets {
		if m.EventTicker == event && m.Open() && m.Deadline().After(now) {
			candidates = append(candidates, m)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Volume24h != b.Volume24h {
			return a.Volume24h > b.Volume24h
		}
		if a.OpenInterest != b.OpenInterest {
			return a.OpenInterest > b.OpenInterest
		}
		return a.Ticker < b.Ticker
	})
	return candidates[0], true
}
