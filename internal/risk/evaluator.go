package risk

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"kalshi-weather/internal/ledger"
)

// Evaluate 逐项计算全部检查，不短路，使一次日志即可报告所有未通过的条件。
func Evaluate(limits Limits, in Input) Verdict {
	v := Verdict{Checked: []Check{CheckBalance, CheckDailyLoss, CheckLosingStreak}}

	fail := func(check Check, reason string) {
		v.Failures = append(v.Failures, Failure{Check: check, Reason: reason})
		v.Err = multierr.Append(v.Err, errors.New(reason))
	}

	if in.BalanceCents < limits.MinBalanceCents {
		fail(CheckBalance, fmt.Sprintf("余额 %s 低于下限 %s",
			ledger.FormatCents(in.BalanceCents), ledger.FormatCents(limits.MinBalanceCents)))
	}

	if loss := in.Stats.TodayLossCents(); limits.MaxDailyLossCents > 0 && loss >= limits.MaxDailyLossCents {
		fail(CheckDailyLoss, fmt.Sprintf("今日亏损 %s 已达上限 %s",
			ledger.FormatCents(loss), ledger.FormatCents(limits.MaxDailyLossCents)))
	}

	if streak := in.Stats.LosingStreak(); limits.MaxConsecutiveLosses > 0 && streak >= limits.MaxConsecutiveLosses {
		fail(CheckLosingStreak, fmt.Sprintf("连续亏损 %d 次，达到上限 %d", streak, limits.MaxConsecutiveLosses))
	}

	if in.TimeToExpiry != nil {
		v.Checked = append(v.Checked, CheckTimeToExpiry)
		if *in.TimeToExpiry < limits.MinTimeToExpiry {
			fail(CheckTimeToExpiry, fmt.Sprintf("距到期 %s 不足 %s",
				in.TimeToExpiry.Truncate(time.Second), limits.MinTimeToExpiry))
		}
	}

	v.Allowed = len(v.Failures) == 0
	return v
}
