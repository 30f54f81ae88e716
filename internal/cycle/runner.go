package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"kalshi-weather/internal/apperr"
	"kalshi-weather/internal/brain"
	"kalshi-weather/internal/exchange"
	"kalshi-weather/internal/id"
	"kalshi-weather/internal/ledger"
	"kalshi-weather/internal/risk"
)

const (
	defaultRecentTrades  = 10
	defaultMaxPriceCents = 50
	maxNoteLength        = 200
)

// Deps 为周期依赖的外部能力。Recorder 与 Tracker 可为空。
type Deps struct {
	Exchange Exchange
	Weather  WeatherFeed
	Brain    brain.Brain
	Ledger   Ledger
	Recorder Recorder
	Tracker  RiskTracker
}

// Options 控制周期行为。
type Options struct {
	Limits            risk.Limits
	MaxPriceCents     int
	StalePendingAfter time.Duration
	OrderExpiry       time.Duration
	RecentTrades      int
	Location          *time.Location
}

// Runner 执行单次交易周期。每次 Run 都从交易所与账本重新读取状态，不在周期之间保留内存状态。
type Runner struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewRunner 创建周期执行器。
func NewRunner(deps Deps, opts Options, logger *zap.Logger) (*Runner, error) {
	var err error
	if deps.Exchange == nil {
		err = multierr.Append(err, errors.New("exchange 不能为空"))
	}
	if deps.Weather == nil {
		err = multierr.Append(err, errors.New("weather 不能为空"))
	}
	if deps.Brain == nil {
		err = multierr.Append(err, errors.New("brain 不能为空"))
	}
	if deps.Ledger == nil {
		err = multierr.Append(err, errors.New("ledger 不能为空"))
	}
	if err != nil {
		return nil, fmt.Errorf("cycle: 依赖缺失: %w", err)
	}

	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if opts.RecentTrades <= 0 {
		opts.RecentTrades = defaultRecentTrades
	}
	if opts.MaxPriceCents <= 0 {
		opts.MaxPriceCents = defaultMaxPriceCents
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		newID:  id.New,
	}, nil
}

// Run 执行一次完整周期。返回的错误表示周期被中止，Result 中记录中止步骤。
func (r *Runner) Run(ctx context.Context, live bool) (Result, error) {
	res := Result{
		CycleID:   r.newID(),
		Live:      live,
		StartedAt: r.now().UTC(),
	}
	logger := r.logger.With(zap.String("cycle_id", res.CycleID), zap.Bool("live", live))
	r.deps.Recorder.CycleStart(ctx, res.CycleID, live)
	logger.Info("交易周期开始")

	entries, err := r.deps.Ledger.Load()
	if err != nil {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepLoad, "读取账本失败", err)
	}

	canceled := r.cancelResting(ctx, logger, res.CycleID)

	baseline, err := r.deps.Exchange.Positions(ctx)
	if err != nil {
		logger.Warn("查询持仓失败，本周期不作废已撤销条目", zap.Error(err))
		r.deps.Recorder.Error(ctx, res.CycleID, string(StepPositions), err)
		canceled = nil
	}

	entries, err = r.settle(ctx, logger, &res, entries, canceled, baseline)
	if err != nil {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepSettle, "更新账本失败", err)
	}
	stats := r.refreshStats(logger, entries)
	res.Stats = stats

	balance, err := r.deps.Exchange.Balance(ctx)
	if err != nil {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepRiskGate, "查询余额失败", err)
	}
	res.BalanceCents = balance
	r.trackBalance(ctx, logger, balance)

	verdict := risk.Evaluate(r.opts.Limits, risk.Input{BalanceCents: balance, Stats: stats})
	if !r.gate(ctx, logger, res.CycleID, "pre_fetch", verdict) {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepRiskGate, verdict.Summary(), nil)
	}

	market, err := r.deps.Exchange.ActiveMarket(ctx)
	if err != nil {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepMarket, "获取合约失败", err)
	}
	if market == nil {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepMarket, "当前没有可交易合约", nil)
	}
	m := *market
	res.Ticker = m.Ticker
	logger = logger.With(zap.String("ticker", m.Ticker))

	ttl := m.TimeToExpiry(r.now())
	verdict = risk.Evaluate(r.opts.Limits, risk.Input{BalanceCents: balance, Stats: stats, TimeToExpiry: &ttl})
	if !r.gate(ctx, logger, res.CycleID, "market", verdict) {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepMarket, verdict.Summary(), nil)
	}
	if exchange.HasPosition(baseline, m.Ticker) {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepMarket, "已持有该合约，本周期不再加仓", nil)
	}

	book, err := r.deps.Exchange.Orderbook(ctx, m.Ticker)
	if err != nil {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepOrderbook, "获取订单簿失败", err)
	}

	snap, err := r.deps.Weather.Forecast(ctx)
	if err != nil {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepWeather, "获取天气数据失败", err)
	}
	if snap == nil {
		logger.Warn("本周期天气数据不可用")
	}

	decision, err := r.deps.Brain.Decide(ctx, brain.DecisionContext{
		Market:        m,
		Orderbook:     book,
		Weather:       snap,
		Stats:         stats,
		RecentEntries: recent(entries, r.opts.RecentTrades),
	})
	if err != nil {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepBrain, "决策失败", err)
	}
	res.Decision = &decision
	r.deps.Recorder.Decision(ctx, res.CycleID, m, decision)
	logger.Info("决策完成",
		zap.String("action", string(decision.Action)),
		zap.String("side", string(decision.Side)),
		zap.Int("shares", decision.Shares),
		zap.Int("max_price_cents", decision.MaxPriceCents),
		zap.Float64("edge_points", decision.EdgePoints),
		zap.String("reason", decision.Reason),
	)
	if !decision.IsBuy() {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepBrain, decision.Reason, nil)
	}

	order, clamped, err := ValidateDecision(decision, m.Ticker, r.opts.MaxPriceCents, r.opts.Limits.MaxShares)
	if err != nil {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepValidate, "决策校验失败", err)
	}
	if clamped {
		logger.Warn("下单份数超过上限，已截断",
			zap.Int("requested", decision.Shares),
			zap.Int("max_shares", r.opts.Limits.MaxShares),
		)
	}

	ttl = m.TimeToExpiry(r.now())
	verdict = risk.Evaluate(r.opts.Limits, risk.Input{BalanceCents: balance, Stats: stats, TimeToExpiry: &ttl})
	if !r.gate(ctx, logger, res.CycleID, "pre_trade", verdict) {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepValidate, verdict.Summary(), nil)
	}

	current, err := r.deps.Exchange.Positions(ctx)
	if err != nil {
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepFinalCheck, "下单前查询持仓失败", err)
	}
	if exchange.HasPosition(current, m.Ticker) {
		logger.Warn("下单前发现该合约已有持仓，放弃下单")
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepFinalCheck, "下单前发现已有持仓", nil)
	}

	if r.opts.OrderExpiry > 0 {
		order.Expiration = r.now().Add(r.opts.OrderExpiry).UTC()
	}
	order.ClientOrderID = res.CycleID

	placed, err := r.deps.Exchange.PlaceOrder(ctx, order)
	if err != nil {
		r.deps.Recorder.Order(ctx, res.CycleID, order, nil, err)
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepExecute, "下单失败", err)
	}
	r.deps.Recorder.Order(ctx, res.CycleID, order, &placed, nil)

	entry := ledger.Entry{
		ID:         r.newID(),
		Timestamp:  r.now().UTC(),
		Ticker:     order.Ticker,
		Side:       order.Side,
		Shares:     order.Shares,
		PriceCents: order.PriceCents,
		OrderID:    placed.OrderID,
		Paper:      !live || placed.Paper,
		Outcome:    ledger.OutcomePending,
		Note:       truncate(decision.Reason, maxNoteLength),
	}
	if err := r.deps.Ledger.Append(entry); err != nil {
		logger.Error("订单已提交但账本写入失败，请人工核对",
			zap.String("order_id", placed.OrderID),
			zap.Int("shares", order.Shares),
			zap.Int("price_cents", order.PriceCents),
			zap.Error(err),
		)
		return r.finish(ctx, logger, &res, OutcomeNoTrade, StepRecord, "账本写入失败", err)
	}
	res.Entry = &entry
	res.Stats = r.refreshStats(logger, append(entries, entry))

	logger.Info("订单已提交",
		zap.String("order_id", placed.OrderID),
		zap.String("side", string(order.Side)),
		zap.Int("shares", order.Shares),
		zap.Int("price_cents", order.PriceCents),
		zap.Bool("paper", entry.Paper),
	)
	reason := fmt.Sprintf("买入 %d 份 %s @ %d¢", order.Shares, order.Side, order.PriceCents)
	return r.finish(ctx, logger, &res, OutcomeTraded, StepExecute, reason, nil)
}

// ValidateDecision 将买入决策转换为订单请求。份数超过上限时截断并返回 clamped=true。
func ValidateDecision(d brain.TradeDecision, ticker string, maxPriceCents, maxShares int) (exchange.OrderRequest, bool, error) {
	const op = "cycle.validate"
	if !d.Side.Valid() {
		return exchange.OrderRequest{}, false, apperr.Newf(apperr.KindInvalidInput, op, "方向无效: %q", d.Side)
	}
	if d.Shares < 1 {
		return exchange.OrderRequest{}, false, apperr.Newf(apperr.KindInvalidInput, op, "份数无效: %d", d.Shares)
	}
	if d.MaxPriceCents <= 0 || d.MaxPriceCents > 100 {
		return exchange.OrderRequest{}, false, apperr.Newf(apperr.KindInvalidInput, op, "限价超出范围: %d¢", d.MaxPriceCents)
	}
	if maxPriceCents > 0 && d.MaxPriceCents > maxPriceCents {
		return exchange.OrderRequest{}, false, apperr.Newf(apperr.KindInvalidInput, op, "限价 %d¢ 超过上限 %d¢", d.MaxPriceCents, maxPriceCents)
	}

	shares, clamped := d.Shares, false
	if maxShares > 0 && shares > maxShares {
		shares, clamped = maxShares, true
	}

	return exchange.OrderRequest{
		Ticker:     ticker,
		Side:       d.Side,
		Shares:     shares,
		PriceCents: d.MaxPriceCents,
	}, clamped, nil
}

func (r *Runner) cancelResting(ctx context.Context, logger *zap.Logger, cycleID string) []string {
	orders, err := r.deps.Exchange.RestingOrders(ctx)
	if err != nil {
		logger.Warn("查询挂单失败，跳过撤单", zap.Error(err))
		r.deps.Recorder.Error(ctx, cycleID, string(StepCancel), err)
		return nil
	}

	canceled := make([]string, 0, len(orders))
	for _, o := range orders {
		if err := r.deps.Exchange.CancelOrder(ctx, o.OrderID); err != nil {
			logger.Warn("撤单失败", zap.String("order_id", o.OrderID), zap.Error(err))
			continue
		}
		canceled = append(canceled, o.OrderID)
	}
	if len(orders) > 0 {
		logger.Info("已撤销挂单", zap.Int("resting", len(orders)), zap.Int("canceled", len(canceled)))
	}
	return canceled
}

// settle 将已撤销且无持仓的条目作废，尝试结算最近一条未结算条目，
// 并将其余超时的未结算条目作废。只有账本写入失败才返回错误，交易所查询失败只告警。
func (r *Runner) settle(ctx context.Context, logger *zap.Logger, res *Result, entries []ledger.Entry, canceled []string, positions []exchange.Position) ([]ledger.Entry, error) {
	now := r.now()

	apply := func(e ledger.Entry, outcome ledger.Outcome, at time.Time, note string) error {
		updated, err := e.Settle(outcome, at, note)
		if err != nil {
			return err
		}
		saved, err := r.deps.Ledger.Settle(e.ID, updated)
		if err != nil {
			return err
		}
		for i := range entries {
			if entries[i].ID == saved.ID {
				entries[i] = saved
			}
		}
		res.Settled = append(res.Settled, saved)
		r.deps.Recorder.Settlement(ctx, res.CycleID, saved)
		logger.Info("账本条目已结算",
			zap.String("entry_id", saved.ID),
			zap.String("ticker", saved.Ticker),
			zap.String("outcome", string(saved.Outcome)),
			zap.Int64("pnl_cents", saved.PnLCents),
		)
		return nil
	}

	for _, orderID := range canceled {
		e, ok := ledger.FindByOrderID(entries, orderID)
		if !ok || e.Outcome != ledger.OutcomePending || exchange.HasPosition(positions, e.Ticker) {
			continue
		}
		if err := apply(e, ledger.OutcomeVoid, now, "挂单已撤销且未成交"); err != nil {
			return entries, err
		}
	}

	latest, ok := ledger.LastPending(entries)
	if !ok {
		return entries, nil
	}

	settlements, err := r.deps.Exchange.Settlements(ctx, latest.Ticker)
	if err != nil {
		logger.Warn("查询结算记录失败，保持未结算",
			zap.String("entry_id", latest.ID),
			zap.String("ticker", latest.Ticker),
			zap.Error(err),
		)
		r.deps.Recorder.Error(ctx, res.CycleID, string(StepSettle), err)
	} else if outcome, at, found := resolveSettlement(latest, settlements); found {
		if at.IsZero() {
			at = now
		}
		if err := apply(latest, outcome, at, ""); err != nil {
			return entries, err
		}
	} else if r.isStale(latest, now) {
		if err := r.voidStale(logger, apply, latest, now); err != nil {
			return entries, err
		}
	}

	for _, e := range ledger.Pending(entries) {
		if e.ID == latest.ID || !r.isStale(e, now) {
			continue
		}
		if err := r.voidStale(logger, apply, e, now); err != nil {
			return entries, err
		}
	}
	return entries, nil
}

func (r *Runner) isStale(e ledger.Entry, now time.Time) bool {
	return r.opts.StalePendingAfter > 0 && now.Sub(e.Timestamp) > r.opts.StalePendingAfter
}

func (r *Runner) voidStale(logger *zap.Logger, apply func(ledger.Entry, ledger.Outcome, time.Time, string) error, e ledger.Entry, now time.Time) error {
	logger.Warn("条目长时间未结算，标记为作废",
		zap.String("entry_id", e.ID),
		zap.String("ticker", e.Ticker),
		zap.Duration("age", now.Sub(e.Timestamp)),
	)
	return apply(e, ledger.OutcomeVoid, now, "超时未结算")
}

// resolveSettlement 根据结算记录判定条目结局，found=false 表示尚未结算。
func resolveSettlement(e ledger.Entry, settlements []exchange.Settlement) (ledger.Outcome, time.Time, bool) {
	for _, s := range settlements {
		if s.Ticker != e.Ticker {
			continue
		}
		if winner, ok := s.Winner(); ok {
			if winner == e.Side {
				return ledger.OutcomeWon, s.SettledTime, true
			}
			return ledger.OutcomeLost, s.SettledTime, true
		}
		if s.MarketResult != "" {
			return ledger.OutcomeVoid, s.SettledTime, true
		}
	}
	return "", time.Time{}, false
}

func (r *Runner) refreshStats(logger *zap.Logger, entries []ledger.Entry) ledger.Stats {
	stats := ledger.Compute(entries, r.now(), r.opts.Location)
	if err := r.deps.Ledger.WriteStats(stats); err != nil {
		logger.Warn("写入统计文件失败", zap.Error(err))
	}
	return stats
}

func (r *Runner) trackBalance(ctx context.Context, logger *zap.Logger, balance int64) {
	if r.deps.Tracker == nil {
		return
	}
	status, err := r.deps.Tracker.Update(ctx, r.now(), balance)
	if err != nil {
		logger.Warn("更新日度余额失败", zap.Error(err))
		return
	}
	logger.Debug("日度余额",
		zap.String("trading_date", status.TradingDate),
		zap.Int64("start_balance_cents", status.StartBalanceCents),
		zap.Int64("change_cents", status.ChangeCents),
	)
}

func (r *Runner) gate(ctx context.Context, logger *zap.Logger, cycleID, stage string, v risk.Verdict) bool {
	r.deps.Recorder.RiskVerdict(ctx, cycleID, stage, v)
	if v.Allowed {
		logger.Debug("风控通过", zap.String("stage", stage))
		return true
	}

	logger.Warn("风控拒绝", zap.String("stage", stage), zap.Strings("reasons", v.Reasons()))
	if r.deps.Tracker != nil {
		if err := r.deps.Tracker.RecordDenial(ctx, r.now(), stage, v); err != nil {
			logger.Warn("记录风控拒绝失败", zap.Error(err))
		}
	}
	return false
}

func (r *Runner) finish(ctx context.Context, logger *zap.Logger, res *Result, outcome Outcome, step Step, reason string, err error) (Result, error) {
	res.Outcome = outcome
	res.Reason = reason
	res.StoppedAt = step
	res.Elapsed = r.now().Sub(res.StartedAt)

	if err != nil {
		r.deps.Recorder.Error(ctx, res.CycleID, string(step), err)
		logger.Error("交易周期中止",
			zap.String("step", string(step)),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.String("reason", reason),
			zap.Error(err),
		)
		err = fmt.Errorf("cycle: %s: %w", step, err)
	}

	r.deps.Recorder.CycleEnd(ctx, res.CycleID, string(outcome), reason, res.Elapsed)
	logger.Info("交易周期结束",
		zap.String("outcome", string(outcome)),
		zap.String("stopped_at", string(step)),
		zap.String("reason", reason),
		zap.Duration("elapsed", res.Elapsed),
	)
	return *res, err
}

func recent(entries []ledger.Entry, n int) []ledger.Entry {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
