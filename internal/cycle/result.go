package cycle

import (
	"time"

	"kalshi-weather/internal/brain"
	"kalshi-weather/internal/ledger"
)

// Outcome 为周期的终止状态。
type Outcome string

const (
	OutcomeNoTrade Outcome = "completed_no_trade"
	OutcomeTraded  Outcome = "completed_traded"
)

// Step 标识周期内的步骤，用于日志与事件。
type Step string

const (
	StepLoad       Step = "load_ledger"
	StepCancel     Step = "cancel"
	StepPositions  Step = "positions"
	StepSettle     Step = "settle"
	StepRiskGate   Step = "risk_gate"
	StepMarket     Step = "market"
	StepOrderbook  Step = "orderbook"
	StepWeather    Step = "weather"
	StepBrain      Step = "brain"
	StepValidate   Step = "validate"
	StepFinalCheck Step = "final_position_check"
	StepExecute    Step = "execute"
	StepRecord     Step = "record"
)

// Result 为一次周期的摘要。
type Result struct {
	CycleID      string               `json:"cycle_id"`
	Live         bool                 `json:"live"`
	Outcome      Outcome              `json:"outcome"`
	Reason       string               `json:"reason"`
	StoppedAt    Step                 `json:"stopped_at,omitempty"`
	Ticker       string               `json:"ticker,omitempty"`
	BalanceCents int64                `json:"balance_cents"`
	Stats        ledger.Stats         `json:"stats"`
	Decision     *brain.TradeDecision `json:"decision,omitempty"`
	Entry        *ledger.Entry        `json:"entry,omitempty"`
	Settled      []ledger.Entry       `json:"settled,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	Elapsed      time.Duration        `json:"elapsed"`
}

// Traded 判断本周期是否成功下单。
func (r Result) Traded() bool {
	return r.Outcome == OutcomeTraded
}
