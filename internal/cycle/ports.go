package cycle

import (
	"context"
	"time"

	"kalshi-weather/internal/brain"
	"kalshi-weather/internal/exchange"
	"kalshi-weather/internal/ledger"
	"kalshi-weather/internal/risk"
	"kalshi-weather/internal/weather"
)

// Exchange 为周期所需的交易所能力。
type Exchange interface {
	ActiveMarket(ctx context.Context) (*exchange.Market, error)
	Orderbook(ctx context.Context, ticker string) (exchange.Orderbook, error)
	RestingOrders(ctx context.Context) ([]exchange.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error)
	Positions(ctx context.Context) ([]exchange.Position, error)
	Settlements(ctx context.Context, ticker string) ([]exchange.Settlement, error)
	Balance(ctx context.Context) (int64, error)
}

// WeatherFeed 提供本周期的天气快照，返回 nil 快照不视为错误。
type WeatherFeed interface {
	Forecast(ctx context.Context) (*weather.Snapshot, error)
}

// Ledger 为账本的持久化能力。
type Ledger interface {
	Load() ([]ledger.Entry, error)
	Append(entry ledger.Entry) error
	Settle(id string, settled ledger.Entry) (ledger.Entry, error)
	WriteStats(stats ledger.Stats) error
}

// Recorder 记录周期事件，实现方自行吞掉写入错误。
type Recorder interface {
	CycleStart(ctx context.Context, cycleID string, live bool)
	Settlement(ctx context.Context, cycleID string, entry ledger.Entry)
	RiskVerdict(ctx context.Context, cycleID, stage string, verdict risk.Verdict)
	Decision(ctx context.Context, cycleID string, market exchange.Market, decision brain.TradeDecision)
	Order(ctx context.Context, cycleID string, req exchange.OrderRequest, res *exchange.OrderResult, err error)
	CycleEnd(ctx context.Context, cycleID, outcome, reason string, elapsed time.Duration)
	Error(ctx context.Context, cycleID, step string, err error)
}

// RiskTracker 持久化日度余额与风控拒绝。
type RiskTracker interface {
	Update(ctx context.Context, ts time.Time, balanceCents int64) (risk.DailyStatus, error)
	RecordDenial(ctx context.Context, ts time.Time, stage string, verdict risk.Verdict) error
}

type nopRecorder struct{}

func (nopRecorder) CycleStart(context.Context, string, bool) {}
func (nopRecorder) Settlement(context.Context, string, ledger.Entry) {}
func (nopRecorder) RiskVerdict(context.Context, string, string, risk.Verdict) {}
func (nopRecorder) Decision(context.Context, string, exchange.Market, brain.TradeDecision) {}
func (nopRecorder) Order(context.Context, string, exchange.OrderRequest, *exchange.OrderResult, error) {}
func (nopRecorder) CycleEnd(context.Context, string, string, string, time.Duration) {}
func (nopRecorder) Error(context.Context, string, string, error) {}
