package ledger

import (
	"errors"
	"fmt"
	"time"

	"kalshi-weather/internal/exchange"
)

// Outcome 表示账本条目的结算状态。
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeWon     Outcome = "won"
	OutcomeLost    Outcome = "lost"
	OutcomeVoid    Outcome = "void"
)

var (
	// ErrNotPending 表示条目已处于终态，不允许再次变更。
	ErrNotPending = errors.New("ledger: 条目已结算")
	// ErrNotFound 表示账本中不存在指定条目。
	ErrNotFound = errors.New("ledger: 条目不存在")
)

// Terminal 判断是否为终态。
func (o Outcome) Terminal() bool {
	return o == OutcomeWon || o == OutcomeLost || o == OutcomeVoid
}

// Entry 为一次已成交（或模拟成交）下单的记录。
type Entry struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Ticker     string        `json:"ticker"`
	Side       exchange.Side `json:"side"`
	Shares     int           `json:"shares"`
	PriceCents int           `json:"price_cents"`
	OrderID    string        `json:"order_id"`
	Paper      bool          `json:"paper,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	PnLCents   int64         `json:"pnl_cents"`
	SettledAt  *time.Time    `json:"settled_at,omitempty"`
	Note       string        `json:"note,omitempty"`
}

// CostCents 返回买入成本。
func (e Entry) CostCents() int64 {
	return int64(e.Shares) * int64(e.PriceCents)
}

// Settle 返回由 Pending 迁移到终态后的条目副本。
// 盈利为 shares*(100-price)，亏损为 shares*price，作废为 0。
func (e Entry) Settle(outcome Outcome, at time.Time, note string) (Entry, error) {
	if e.Outcome != OutcomePending {
		return e, fmt.Errorf("%w: %s (%s)", ErrNotPending, e.ID, e.Outcome)
	}
	if !outcome.Terminal() {
		return e, fmt.Errorf("ledger: 无效的结算状态 %q", outcome)
	}

	switch outcome {
	case OutcomeWon:
		e.PnLCents = int64(e.Shares) * int64(100-e.PriceCents)
	case OutcomeLost:
		e.PnLCents = -e.CostCents()
	default:
		e.PnLCents = 0
	}

	settled := at.UTC()
	e.Outcome = outcome
	e.SettledAt = &settled
	if note != "" {
		e.Note = note
	}
	return e, nil
}

// LastPending 返回最近一条未结算条目。
func LastPending(entries []Entry) (Entry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Outcome == OutcomePending {
			return entries[i], true
		}
	}
	return Entry{}, false
}

// Pending 返回全部未结算条目，按写入顺序。
func Pending(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Outcome == OutcomePending {
			out = append(out, e)
		}
	}
	return out
}

// FindByOrderID 按订单号查找条目。
func FindByOrderID(entries []Entry, orderID string) (Entry, bool) {
	if orderID == "" {
		return Entry{}, false
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].OrderID == orderID {
			return entries[i], true
		}
	}
	return Entry{}, false
}
