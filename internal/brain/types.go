package brain

import (
	"context"
	"fmt"
	"math"

	"kalshi-weather/internal/config"
	"kalshi-weather/internal/exchange"
	"kalshi-weather/internal/ledger"
	"kalshi-weather/internal/weather"
)

// Brain 根据决策上下文给出交易决定。
type Brain interface {
	Decide(ctx context.Context, dc DecisionContext) (TradeDecision, error)
}

// DecisionContext 为决策引擎的唯一输入，构造后不再修改。
type DecisionContext struct {
	Market        exchange.Market
	Orderbook     exchange.Orderbook
	Weather       *weather.Snapshot
	Stats         ledger.Stats
	RecentEntries []ledger.Entry
}

// Action 为决策动作。
type Action string

const (
	ActionBuy  Action = "buy"
	ActionPass Action = "pass"
)

// Confidence 为预报置信度等级。
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Weight 返回置信度对应的边际折算系数。
func (c Confidence) Weight() float64 {
	switch c {
	case ConfidenceHigh:
		return 1.0
	case ConfidenceMedium:
		return 0.8
	default:
		return 0.5
	}
}

// ConfidenceFromStdDev 按集合预报标准差划分置信度。
func ConfidenceFromStdDev(std float64) Confidence {
	switch {
	case std < 2:
		return ConfidenceHigh
	case std <= 4:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// TradeDecision 为一次决策的结果。Pass 时仅 Reason 有意义，其余字段为诊断信息。
type TradeDecision struct {
	Action        Action        `json:"action"`
	Side          exchange.Side `json:"side,omitempty"`
	Shares        int           `json:"shares,omitempty"`
	MaxPriceCents int           `json:"max_price_cents,omitempty"`
	Reason        string        `json:"reason"`
	EdgePoints    float64       `json:"edge_points"`
	Probability   float64       `json:"probability"`
	Confidence    Confidence    `json:"confidence,omitempty"`
}

// Pass 构造放弃交易的决定。
func Pass(format string, args ...interface{}) TradeDecision {
	return TradeDecision{Action: ActionPass, Reason: fmt.Sprintf(format, args...)}
}

// IsBuy 判断是否为买入决定。
func (d TradeDecision) IsBuy() bool {
	return d.Action == ActionBuy
}

// Params 为规则引擎的可调参数。
type Params struct {
	MinEdgePoints    float64
	DoubleEdgePoints float64
	MaxAskCents      int
	MaxSpreadCents   int
	MinYesAskCents   int
	MaxYesAskCents   int
	MinLiquidity     int64
	SigmoidScale     float64
	MaxShares        int
}

// DefaultParams 返回默认参数。
func DefaultParams() Params {
	return Params{
		MinEdgePoints:    5,
		DoubleEdgePoints: 10,
		MaxAskCents:      50,
		MaxSpreadCents:   4,
		MinYesAskCents:   10,
		MaxYesAskCents:   90,
		MinLiquidity:     10,
		SigmoidScale:     2,
		MaxShares:        2,
	}
}

// ParamsFromConfig 由配置构造参数，份数上限取自风控配置。
func ParamsFromConfig(cfg config.BrainConfig, maxShares int) Params {
	return Params{
		MinEdgePoints:    cfg.MinEdgePoints,
		DoubleEdgePoints: cfg.DoubleEdgePoint,
		MaxAskCents:      cfg.MaxAskCents,
		MaxSpreadCents:   cfg.MaxSpreadCents,
		MinYesAskCents:   cfg.MinYesAskCents,
		MaxYesAskCents:   cfg.MaxYesAskCents,
		MinLiquidity:     cfg.MinLiquidity,
		SigmoidScale:     cfg.SigmoidScale,
		MaxShares:        maxShares,
	}
}

// roundPoints 将边际点数截到 1e-6，避免浮点误差影响阈值比较。
func roundPoints(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
