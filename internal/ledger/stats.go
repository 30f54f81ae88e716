package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stats 为账本的派生视图，每次都从完整账本重新计算。
type Stats struct {
	TotalTrades      int       `json:"total_trades"`
	Wins             int       `json:"wins"`
	Losses           int       `json:"losses"`
	Voids            int       `json:"voids"`
	Pending          int       `json:"pending"`
	WinRate          float64   `json:"win_rate"`
	TotalPnLCents    int64     `json:"total_pnl_cents"`
	TodayPnLCents    int64     `json:"today_pnl_cents"`
	CurrentStreak    int       `json:"current_streak"`
	MaxDrawdownCents int64     `json:"max_drawdown_cents"`
	AvgWinCents      float64   `json:"avg_win_cents"`
	AvgLossCents     float64   `json:"avg_loss_cents"`
	ComputedAt       time.Time `json:"computed_at"`
}

// Compute 对账本做一次纯折叠。now 与 loc 决定"今日"的范围。
func Compute(entries []Entry, now time.Time, loc *time.Location) Stats {
	if loc == nil {
		loc = time.UTC
	}

	var (
		st         Stats
		winSum     int64
		lossSum    int64
		cumulative int64
		peak       int64
	)
	todayY, todayM, todayD := now.In(loc).Date()

	for _, e := range entries {
		switch e.Outcome {
		case OutcomePending:
			st.Pending++
			continue
		case OutcomeVoid:
			st.Voids++
			continue
		case OutcomeWon:
			st.Wins++
			winSum += e.PnLCents
			if st.CurrentStreak > 0 {
				st.CurrentStreak++
			} else {
				st.CurrentStreak = 1
			}
		case OutcomeLost:
			st.Losses++
			lossSum += e.PnLCents
			if st.CurrentStreak < 0 {
				st.CurrentStreak--
			} else {
				st.CurrentStreak = -1
			}
		default:
			continue
		}

		st.TotalPnLCents += e.PnLCents
		cumulative += e.PnLCents
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > st.MaxDrawdownCents {
			st.MaxDrawdownCents = dd
		}

		ts := e.Timestamp
		if e.SettledAt != nil {
			ts = *e.SettledAt
		}
		if y, m, d := ts.In(loc).Date(); y == todayY && m == todayM && d == todayD {
			st.TodayPnLCents += e.PnLCents
		}
	}

	st.TotalTrades = st.Wins + st.Losses
	if st.TotalTrades > 0 {
		st.WinRate = float64(st.Wins) / float64(st.TotalTrades)
	}
	if st.Wins > 0 {
		st.AvgWinCents = float64(winSum) / float64(st.Wins)
	}
	if st.Losses > 0 {
		st.AvgLossCents = float64(lossSum) / float64(st.Losses)
	}
	st.ComputedAt = now.UTC()

	return st
}

// LosingStreak 返回当前连续亏损次数，连胜时为 0。
func (s Stats) LosingStreak() int {
	if s.CurrentStreak < 0 {
		return -s.CurrentStreak
	}
	return 0
}

// TodayLossCents 返回今日已实现亏损（非负）。
func (s Stats) TodayLossCents() int64 {
	if s.TodayPnLCents < 0 {
		return -s.TodayPnLCents
	}
	return 0
}

// FormatCents 将美分格式化为美元字符串。
func FormatCents(cents int64) string {
	if cents < 0 {
		return "-$" + decimal.New(-cents, -2).StringFixed(2)
	}
	return "$" + decimal.New(cents, -2).StringFixed(2)
}
