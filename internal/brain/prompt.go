package brain

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"kalshi-weather/internal/exchange"
	"kalshi-weather/internal/ledger"
	"kalshi-weather/internal/weather"
)

const decisionTemplate = `
你是一名专注于 Kalshi 每日最高气温合约的交易员。请根据以下数据判断是否买入当前合约，并严格遵守风险约束。

## 合约
- 代码: {{ .Market.Ticker }}
- 标题: {{ .Market.Title }}
- 判定条件: {{ .Threshold }}
- YES 买/卖: {{ .Market.YesBid }}¢ / {{ .Market.YesAsk }}¢
- NO 买/卖: {{ .Market.NoBid }}¢ / {{ .Market.NoAsk }}¢
- 24h 成交: {{ .Market.Volume24h }}，持仓量: {{ .Market.OpenInterest }}
- 距收盘: {{ .MinutesToClose }} 分钟

## 订单簿（前五档买单）
- YES: {{ .YesBook }}
- NO: {{ .NoBook }}

## 天气
{{ .Weather }}
## 模型估计
- YES 概率: {{ printf "%.1f" .Probability }}%（来源 {{ .Source }}，置信度 {{ .Confidence }}）

## 历史表现
{{ .Stats }}

## 最近交易
{{ .Recent }}

约束：
1. 单边卖价高于 {{ .MaxAskCents }}¢ 时不得买入；
2. 份数为 1 到 {{ .MaxShares }} 之间的整数；
3. 没有明确优势时选择 pass。

请严格输出唯一的 JSON 对象：
{
  "action": "buy|pass",
  "side": "yes|no",
  "shares": 1,
  "max_price_cents": 1-100,
  "reasoning": "..."
}
`

var tmpl = template.Must(template.New("decision").Parse(decisionTemplate))

// PromptContext 用于渲染提示词。
type PromptContext struct {
	Market         exchange.Market
	Threshold      string
	MinutesToClose int64
	YesBook        string
	NoBook         string
	Weather        string
	Probability    float64
	Source         string
	Confidence     Confidence
	Stats          string
	Recent         string
	MaxAskCents    int
	MaxShares      int
}

// BuildPrompt 将决策上下文渲染成提示词。
func BuildPrompt(dc DecisionContext, params Params, now time.Time) (string, error) {
	threshold, err := ParseThreshold(dc.Market)
	if err != nil {
		return "", err
	}

	pc := PromptContext{
		Market:         dc.Market,
		Threshold:      threshold.String(),
		MinutesToClose: int64(dc.Market.TimeToExpiry(now) / time.Minute),
		YesBook:        formatLevels(dc.Orderbook.Yes),
		NoBook:         formatLevels(dc.Orderbook.No),
		Weather:        "本周期天气数据不可用\n",
		Stats:          formatStats(dc.Stats),
		Recent:         formatEntries(dc.RecentEntries),
		MaxAskCents:    params.MaxAskCents,
		MaxShares:      params.MaxShares,
		Source:         "none",
		Confidence:     ConfidenceLow,
	}
	if dc.Weather != nil {
		est := EstimateYes(threshold, *dc.Weather, params.SigmoidScale)
		pc.Weather = formatWeather(*dc.Weather)
		pc.Probability = est.Probability * 100
		pc.Source = est.Source
		pc.Confidence = est.Confidence
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, pc); err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}
	return buf.String(), nil
}

func formatLevels(levels []exchange.Level) string {
	if len(levels) == 0 {
		return "无"
	}
	parts := make([]string, 0, 5)
	for i, l := range levels {
		if i >= 5 {
			break
		}
		parts = append(parts, fmt.Sprintf("%d¢ x%d", l.PriceCents, l.Quantity))
	}
	return strings.Join(parts, ", ")
}

func formatStats(s ledger.Stats) string {
	return fmt.Sprintf("交易 %d 笔，胜/负 %d/%d，胜率 %.1f%%，累计盈亏 %s，今日 %s，连续 %+d，最大回撤 %s",
		s.TotalTrades, s.Wins, s.Losses, s.WinRate*100,
		ledger.FormatCents(s.TotalPnLCents), ledger.FormatCents(s.TodayPnLCents),
		s.CurrentStreak, ledger.FormatCents(s.MaxDrawdownCents))
}

func formatEntries(entries []ledger.Entry) string {
	if len(entries) == 0 {
		return "暂无交易"
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s | %s | %s | %d 份 @ %d¢ | %s | %s",
			e.Timestamp.Format(time.RFC3339), e.Ticker, e.Side, e.Shares, e.PriceCents,
			e.Outcome, ledger.FormatCents(e.PnLCents)))
	}
	return strings.Join(lines, "\n")
}

func formatWeather(w weather.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- 城市: %s\n", w.City)
	fmt.Fprintf(&b, "- 当前温度: %.1f°F\n", w.CurrentTempF)
	fmt.Fprintf(&b, "- 模型最高温: %.1f°F\n", w.DeterministicHighF)
	if w.OfficialHighF != nil {
		fmt.Fprintf(&b, "- 官方最高温: %.0f°F", *w.OfficialHighF)
		if w.OfficialSummary != "" {
			fmt.Fprintf(&b, "（%s）", w.OfficialSummary)
		}
		b.WriteString("\n")
	}
	if w.OfficialLowF != nil {
		fmt.Fprintf(&b, "- 官方最低温: %.0f°F\n", *w.OfficialLowF)
	}
	fmt.Fprintf(&b, "- 来源一致性: %s\n", w.Agreement())

	if e := w.Ensemble; e != nil {
		fmt.Fprintf(&b, "- 集合预报: %d 个成员，均值 %.1f°F，范围 %.1f-%.1f°F，标准差 %.1f°F，P10/P90 %.1f/%.1f°F\n",
			e.Members, e.Mean, e.Min, e.Max, e.StdDev, e.P10, e.P90)
		for _, bucket := range e.Buckets {
			fmt.Fprintf(&b, "  %s → %.0f%%\n", bucket.Label(), bucket.Probability*100)
		}
	}

	if len(w.Hourly) > 0 {
		b.WriteString("- 逐小时（每 3 小时）:\n")
		for i := 0; i < len(w.Hourly); i += 3 {
			h := w.Hourly[i]
			fmt.Fprintf(&b, "  %s → %.1f°F\n", h.Time.Format("15:04"), h.TempF)
		}
	}
	return b.String()
}
