package brain

import (
	"context"
	"fmt"
	"math"

	"kalshi-weather/internal/exchange"
)

// Rules 为纯规则决策引擎：比较预报概率与市场隐含概率，不访问网络。
// 相同输入总是得到相同决定。
type Rules struct {
	params Params
}

// NewRules 创建规则引擎。
func NewRules(params Params) *Rules {
	return &Rules{params: params}
}

type sideEdge struct {
	side     exchange.Side
	ask      int
	estimate float64
	points   float64
}

// Decide 实现 Brain。阈值无法解析时返回 InvalidInput 错误。
func (r *Rules) Decide(_ context.Context, dc DecisionContext) (TradeDecision, error) {
	p := r.params
	m := dc.Market

	if dc.Weather == nil {
		return Pass("缺少天气数据"), nil
	}

	threshold, err := ParseThreshold(m)
	if err != nil {
		return TradeDecision{}, err
	}

	if m.YesAsk > 0 && p.MaxYesAskCents > 0 && (m.YesAsk < p.MinYesAskCents || m.YesAsk > p.MaxYesAskCents) {
		return Pass("YES 卖价 %d¢ 超出 [%d, %d]，疑似已定局或报价陈旧", m.YesAsk, p.MinYesAskCents, p.MaxYesAskCents), nil
	}

	est := EstimateYes(threshold, *dc.Weather, p.SigmoidScale)
	weight := est.Confidence.Weight()

	yes := sideEdge{side: exchange.SideYes, ask: m.YesAsk, estimate: est.Probability}
	no := sideEdge{side: exchange.SideNo, ask: m.NoAsk, estimate: 1 - est.Probability}
	for _, s := range []*sideEdge{&yes, &no} {
		if s.ask <= 0 || s.ask > 100 {
			s.points = math.Inf(-1)
			continue
		}
		s.points = roundPoints((s.estimate - float64(s.ask)/100) * weight * 100)
	}

	best := yes
	if no.points > yes.points {
		best = no
	}

	decision := TradeDecision{
		Action:      ActionPass,
		EdgePoints:  best.points,
		Probability: est.Probability,
		Confidence:  est.Confidence,
	}
	if math.IsInf(best.points, -1) {
		decision.EdgePoints = 0
		decision.Reason = "两侧均无可用卖价"
		return decision, nil
	}

	if best.points < p.MinEdgePoints {
		decision.Reason = fmt.Sprintf("%s：%s 边际 %.1f 点不足 %.1f 点（YES 概率 %.0f%%，%s，置信度 %s）",
			threshold, best.side, best.points, p.MinEdgePoints, est.Probability*100, est.Source, est.Confidence)
		return decision, nil
	}

	if best.ask > p.MaxAskCents {
		decision.Reason = fmt.Sprintf("%s 边际 %.1f 点，但卖价 %d¢ 高于上限 %d¢", best.side, best.points, best.ask, p.MaxAskCents)
		return decision, nil
	}

	if p.MinLiquidity > 0 && m.Volume24h < p.MinLiquidity && m.OpenInterest < p.MinLiquidity {
		decision.Reason = fmt.Sprintf("%s 边际 %.1f 点，但流动性不足：24h 成交 %d，持仓量 %d",
			best.side, best.points, m.Volume24h, m.OpenInterest)
		return decision, nil
	}

	shares := r.size(best.points)
	price := r.price(m, dc.Orderbook, best.side, best.ask)

	decision.Action = ActionBuy
	decision.Side = best.side
	decision.Shares = shares
	decision.MaxPriceCents = price
	decision.Reason = fmt.Sprintf("%s：YES 概率 %.0f%%（%s，置信度 %s）对比卖价 %d¢，%s 调整后边际 %.1f 点，买入 %d 份 @ %d¢",
		threshold, est.Probability*100, est.Source, est.Confidence, best.ask, best.side, best.points, shares, price)
	return decision, nil
}

// size 边际未达加倍阈值买 1 份，否则 2 份，再受份数上限约束。
func (r *Rules) size(points float64) int {
	shares := 1
	if points >= r.params.DoubleEdgePoints {
		shares = 2
	}
	if r.params.MaxShares > 0 && shares > r.params.MaxShares {
		shares = r.params.MaxShares
	}
	return shares
}

// price 价差不超过上限时按卖价成交，否则挂在买卖中间价。
func (r *Rules) price(m exchange.Market, ob exchange.Orderbook, side exchange.Side, ask int) int {
	bid := m.Bid(side)
	if bid <= 0 {
		bid, _ = ob.BestBid(side)
	}
	if bid > ask {
		bid = ask
	}
	if ask-bid <= r.params.MaxSpreadCents {
		return ask
	}
	mid := (bid + ask) / 2
	if mid < 1 {
		mid = 1
	}
	return mid
}
