package risk

import (
	"strings"
	"time"

	"kalshi-weather/internal/config"
	"kalshi-weather/internal/ledger"
)

// Check 标识一项风控检查。
type Check string

const (
	CheckBalance      Check = "balance"
	CheckDailyLoss    Check = "daily_loss"
	CheckLosingStreak Check = "losing_streak"
	CheckTimeToExpiry Check = "time_to_expiry"
)

// Limits 为硬性风控限制，金额单位为美分。
type Limits struct {
	MinBalanceCents      int64
	MaxDailyLossCents    int64
	MaxConsecutiveLosses int
	MinTimeToExpiry      time.Duration
	MaxShares            int
}

// LimitsFromConfig 由配置构造风控限制。
func LimitsFromConfig(cfg config.RiskConfig) Limits {
	return Limits{
		MinBalanceCents:      cfg.MinBalanceCents,
		MaxDailyLossCents:    cfg.MaxDailyLossCents,
		MaxConsecutiveLosses: cfg.MaxConsecutiveLosses,
		MinTimeToExpiry:      cfg.MinTimeToExpiry,
		MaxShares:            cfg.MaxShares,
	}
}

// Input 为风控评估输入。TimeToExpiry 为空时跳过到期检查。
type Input struct {
	BalanceCents int64
	Stats        ledger.Stats
	TimeToExpiry *time.Duration
}

// Failure 为一项未通过的检查。
type Failure struct {
	Check  Check  `json:"check"`
	Reason string `json:"reason"`
}

// Verdict 为风控评估结果，列出全部未通过的检查。
type Verdict struct {
	Allowed  bool      `json:"allowed"`
	Checked  []Check   `json:"checked"`
	Failures []Failure `json:"failures,omitempty"`
	Err      error     `json:"-"`
}

// Reasons 返回全部拒绝原因。
func (v Verdict) Reasons() []string {
	out := make([]string, 0, len(v.Failures))
	for _, f := range v.Failures {
		out = append(out, f.Reason)
	}
	return out
}

// Summary 以单行文本汇总结果。
func (v Verdict) Summary() string {
	if v.Allowed {
		return "风控通过"
	}
	return "风控拒绝: " + strings.Join(v.Reasons(), "; ")
}

// Failed 判断指定检查是否未通过。
func (v Verdict) Failed(check Check) bool {
	for _, f := range v.Failures {
		if f.Check == check {
			return true
		}
	}
	return false
}
