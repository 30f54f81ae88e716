package monitor

import (
	"time"

	"kalshi-weather/internal/brain"
	"kalshi-weather/internal/exchange"
	"kalshi-weather/internal/ledger"
	"kalshi-weather/internal/risk"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventCycleStart  EventType = "cycle_start"
	EventSettlement  EventType = "settlement"
	EventRiskVerdict EventType = "risk_verdict"
	EventDecision    EventType = "decision"
	EventOrder       EventType = "order"
	EventCycleEnd    EventType = "cycle_end"
	EventError       EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	CycleID   string      `json:"cycle_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// CycleStartPayload 记录周期开始。
type CycleStartPayload struct {
	Live bool `json:"live"`
}

// SettlementPayload 记录账本条目的结算。
type SettlementPayload struct {
	Entry ledger.Entry `json:"entry"`
}

// RiskVerdictPayload 记录风控评估结果。
type RiskVerdictPayload struct {
	Stage   string       `json:"stage"`
	Verdict risk.Verdict `json:"verdict"`
}

// DecisionPayload 记录决策及其依据的合约快照。
type DecisionPayload struct {
	Market   exchange.Market     `json:"market"`
	Decision brain.TradeDecision `json:"decision"`
}

// OrderPayload 记录下单请求与结果。
type OrderPayload struct {
	Request exchange.OrderRequest `json:"request"`
	Result  *exchange.OrderResult `json:"result,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// CycleEndPayload 记录周期结局。
type CycleEndPayload struct {
	Outcome   string  `json:"outcome"`
	Reason    string  `json:"reason"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Step  string `json:"step"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error"`
}
