package cycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi-weather/internal/apperr"
	"kalshi-weather/internal/brain"
	"kalshi-weather/internal/exchange"
	"kalshi-weather/internal/ledger"
	"kalshi-weather/internal/risk"
	"kalshi-weather/internal/weather"
)

const testTicker = "KXHIGHNY-26OCT18-T62"

var testNow = time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)

type fakeExchange struct {
	market         *exchange.Market
	marketErr      error
	book           exchange.Orderbook
	orderbookErr   error
	resting        []exchange.Order
	restingErr     error
	cancelErr      error
	positions      [][]exchange.Position
	positionsErrs  []error
	settlements    []exchange.Settlement
	settlementsErr error
	balance        int64
	balanceErr     error
	placeErr       error

	placed   []exchange.OrderRequest
	canceled []string
	calls    map[string]int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		market: &exchange.Market{
			Ticker:    testTicker,
			Status:    "active",
			YesBid:    33,
			YesAsk:    35,
			NoBid:     63,
			NoAsk:     67,
			Volume24h: 500,
			CloseTime: testNow.Add(8 * time.Hour),
		},
		balance: 10000,
		calls:   map[string]int{},
	}
}

func (f *fakeExchange) ActiveMarket(context.Context) (*exchange.Market, error) {
	f.calls["ActiveMarket"]++
	return f.market, f.marketErr
}

func (f *fakeExchange) Orderbook(_ context.Context, ticker string) (exchange.Orderbook, error) {
	f.calls["Orderbook"]++
	f.book.Ticker = ticker
	return f.book, f.orderbookErr
}

func (f *fakeExchange) RestingOrders(context.Context) ([]exchange.Order, error) {
	f.calls["RestingOrders"]++
	return f.resting, f.restingErr
}

func (f *fakeExchange) CancelOrder(_ context.Context, orderID string) error {
	f.calls["CancelOrder"]++
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return exchange.OrderResult{}, f.placeErr
	}
	return exchange.OrderResult{OrderID: fmt.Sprintf("ord-%d", len(f.placed)), Status: "resting"}, nil
}

// Positions 按调用次数依次返回预设持仓，超出后重复最后一组。positionsErrs 同样按调用次数生效。
func (f *fakeExchange) Positions(context.Context) ([]exchange.Position, error) {
	n := f.calls["Positions"]
	f.calls["Positions"]++
	if n < len(f.positionsErrs) && f.positionsErrs[n] != nil {
		return nil, f.positionsErrs[n]
	}
	if len(f.positions) == 0 {
		return nil, nil
	}
	if n >= len(f.positions) {
		n = len(f.positions) - 1
	}
	return f.positions[n], nil
}

func (f *fakeExchange) Settlements(context.Context, string) ([]exchange.Settlement, error) {
	f.calls["Settlements"]++
	return f.settlements, f.settlementsErr
}

func (f *fakeExchange) Balance(context.Context) (int64, error) {
	f.calls["Balance"]++
	return f.balance, f.balanceErr
}

// appendFailingLedger 读取与结算走真实文件账本，只让追加失败。
type appendFailingLedger struct {
	*ledger.FileStore
	err error
}

func (l appendFailingLedger) Append(ledger.Entry) error {
	return l.err
}

type fakeWeather struct {
	snap  *weather.Snapshot
	err   error
	calls int
}

func (f *fakeWeather) Forecast(context.Context) (*weather.Snapshot, error) {
	f.calls++
	return f.snap, f.err
}

type fakeBrain struct {
	decision brain.TradeDecision
	err      error
	calls    int
	last     brain.DecisionContext
}

func (f *fakeBrain) Decide(_ context.Context, dc brain.DecisionContext) (brain.TradeDecision, error) {
	f.calls++
	f.last = dc
	return f.decision, f.err
}

type fakeTracker struct {
	balances []int64
	denials  []string
}

func (f *fakeTracker) Update(_ context.Context, _ time.Time, balance int64) (risk.DailyStatus, error) {
	f.balances = append(f.balances, balance)
	return risk.DailyStatus{StartBalanceCents: f.balances[0], CurrentBalanceCents: balance}, nil
}

func (f *fakeTracker) RecordDenial(_ context.Context, _ time.Time, stage string, _ risk.Verdict) error {
	f.denials = append(f.denials, stage)
	return nil
}

type harness struct {
	runner  *Runner
	ex      *fakeExchange
	wx      *fakeWeather
	brain   *fakeBrain
	ledger  *ledger.FileStore
	tracker *fakeTracker
}

func buyYes(shares, price int) brain.TradeDecision {
	return brain.TradeDecision{
		Action:        brain.ActionBuy,
		Side:          exchange.SideYes,
		Shares:        shares,
		MaxPriceCents: price,
		Reason:        "模型 55% 对比卖价 35¢",
		EdgePoints:    20,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		ex:      newFakeExchange(),
		wx:      &fakeWeather{snap: &weather.Snapshot{City: "NYC"}},
		brain:   &fakeBrain{decision: buyYes(2, 35)},
		ledger:  ledger.NewFileStore(filepath.Join(dir, "trades.jsonl"), filepath.Join(dir, "stats.json"), nil),
		tracker: &fakeTracker{},
	}

	r, err := NewRunner(Deps{
		Exchange: h.ex,
		Weather:  h.wx,
		Brain:    h.brain,
		Ledger:   h.ledger,
		Tracker:  h.tracker,
	}, Options{
		Limits: risk.Limits{
			MinBalanceCents:      500,
			MaxDailyLossCents:    2000,
			MaxConsecutiveLosses: 3,
			MinTimeToExpiry:      30 * time.Minute,
			MaxShares:            2,
		},
		MaxPriceCents:     50,
		StalePendingAfter: 48 * time.Hour,
		OrderExpiry:       10 * time.Minute,
	}, nil)
	require.NoError(t, err)

	seq := 0
	r.now = func() time.Time { return testNow }
	r.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	h.runner = r
	return h
}

func (h *harness) seed(t *testing.T, entries ...ledger.Entry) {
	t.Helper()
	for _, e := range entries {
		require.NoError(t, h.ledger.Append(e))
	}
}

func pendingEntry(id, ticker, orderID string, at time.Time) ledger.Entry {
	return ledger.Entry{
		ID:         id,
		Timestamp:  at,
		Ticker:     ticker,
		Side:       exchange.SideYes,
		Shares:     2,
		PriceCents: 35,
		OrderID:    orderID,
		Outcome:    ledger.OutcomePending,
	}
}

func TestNewRunner_MissingDeps(t *testing.T) {
	_, err := NewRunner(Deps{}, Options{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange")
	assert.Contains(t, err.Error(), "ledger")
}

func TestRun_PlacesOrderAndRecordsPendingEntry(t *testing.T) {
	h := newHarness(t)

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, OutcomeTraded, res.Outcome)
	assert.True(t, res.Traded())
	assert.Equal(t, testTicker, res.Ticker)
	assert.Equal(t, int64(10000), res.BalanceCents)

	require.Len(t, h.ex.placed, 1)
	order := h.ex.placed[0]
	assert.Equal(t, exchange.SideYes, order.Side)
	assert.Equal(t, 2, order.Shares)
	assert.Equal(t, 35, order.PriceCents)
	assert.Equal(t, res.CycleID, order.ClientOrderID)
	assert.Equal(t, testNow.Add(10*time.Minute), order.Expiration)

	entries, err := h.ledger.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.OutcomePending, entries[0].Outcome)
	assert.Equal(t, "ord-1", entries[0].OrderID)
	assert.True(t, entries[0].Paper)
	assert.Equal(t, 1, res.Stats.Pending)

	stats, err := h.ledger.ReadStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Zero(t, stats.TotalTrades)

	assert.Equal(t, []int64{10000}, h.tracker.balances)
	assert.Equal(t, testTicker, h.brain.last.Market.Ticker)
	assert.NotNil(t, h.brain.last.Weather)
}

func TestRun_RiskDenialSkipsMarketAndWeather(t *testing.T) {
	h := newHarness(t)
	h.ex.balance = 400

	res, err := h.runner.Run(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoTrade, res.Outcome)
	assert.Equal(t, StepRiskGate, res.StoppedAt)
	assert.Contains(t, res.Reason, "$4.00")
	assert.Contains(t, res.Reason, "$5.00")
	assert.Zero(t, h.ex.calls["ActiveMarket"])
	assert.Zero(t, h.ex.calls["Orderbook"])
	assert.Zero(t, h.wx.calls)
	assert.Zero(t, h.brain.calls)
	assert.Equal(t, []string{"pre_fetch"}, h.tracker.denials)
}

func TestRun_LosingStreakDenies(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		e := pendingEntry(fmt.Sprintf("old-%d", i), fmt.Sprintf("KXHIGHNY-26OCT1%d-T60", i), "", testNow.Add(-time.Duration(72-i)*time.Hour))
		settled, err := e.Settle(ledger.OutcomeLost, e.Timestamp.Add(time.Hour), "")
		require.NoError(t, err)
		h.seed(t, settled)
	}

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, StepRiskGate, res.StoppedAt)
	assert.Equal(t, -3, res.Stats.CurrentStreak)
	assert.Zero(t, h.ex.calls["ActiveMarket"])
}

func TestRun_UnexpectedPositionBeforeOrder(t *testing.T) {
	h := newHarness(t)
	h.ex.positions = [][]exchange.Position{
		nil,
		{{Ticker: testTicker, Side: exchange.SideYes, Count: 1}},
	}

	res, err := h.runner.Run(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoTrade, res.Outcome)
	assert.Equal(t, StepFinalCheck, res.StoppedAt)
	assert.Empty(t, h.ex.placed)

	entries, err := h.ledger.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_ExistingPositionSkipsDecision(t *testing.T) {
	h := newHarness(t)
	h.ex.positions = [][]exchange.Position{{{Ticker: testTicker, Count: 3}}}

	res, err := h.runner.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, StepMarket, res.StoppedAt)
	assert.Zero(t, h.brain.calls)
	assert.Empty(t, h.ex.placed)
}

func TestRun_PlaceOrderFailureWritesNoEntry(t *testing.T) {
	h := newHarness(t)
	h.ex.placeErr = apperr.Newf(apperr.KindRejected, "exchange.place_order", "insufficient balance")

	res, err := h.runner.Run(context.Background(), true)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindRejected))
	assert.Equal(t, OutcomeNoTrade, res.Outcome)
	assert.Equal(t, StepExecute, res.StoppedAt)

	entries, loadErr := h.ledger.Load()
	require.NoError(t, loadErr)
	assert.Empty(t, entries)
}

func TestRun_OrderbookFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.ex.orderbookErr = apperr.Newf(apperr.KindNetwork, "exchange.orderbook", "connection reset")

	res, err := h.runner.Run(context.Background(), false)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNetwork))
	assert.Equal(t, OutcomeNoTrade, res.Outcome)
	assert.Equal(t, StepOrderbook, res.StoppedAt)
	assert.Equal(t, 1, h.ex.calls["Orderbook"])
	assert.Zero(t, h.wx.calls)
	assert.Zero(t, h.brain.calls)
	assert.Empty(t, h.ex.placed)

	entries, loadErr := h.ledger.Load()
	require.NoError(t, loadErr)
	assert.Empty(t, entries)
}

func TestRun_CancelFailureDoesNotStopCycle(t *testing.T) {
	h := newHarness(t)
	h.seed(t, pendingEntry("e1", "KXHIGHNY-26OCT17-T60", "o1", testNow.Add(-50*time.Minute)))
	h.ex.resting = []exchange.Order{{OrderID: "o1", Ticker: "KXHIGHNY-26OCT17-T60"}}
	h.ex.cancelErr = apperr.Newf(apperr.KindNetwork, "exchange.cancel_order", "timeout")

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTraded, res.Outcome)
	assert.Equal(t, 1, h.ex.calls["CancelOrder"])
	assert.Empty(t, h.ex.canceled)
	assert.Empty(t, res.Settled)
	require.Len(t, h.ex.placed, 1)

	entries, loadErr := h.ledger.Load()
	require.NoError(t, loadErr)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.OutcomePending, entries[0].Outcome)
}

func TestRun_RestingQueryFailureDoesNotStopCycle(t *testing.T) {
	h := newHarness(t)
	h.ex.restingErr = apperr.Newf(apperr.KindNetwork, "exchange.resting_orders", "timeout")

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTraded, res.Outcome)
	assert.Zero(t, h.ex.calls["CancelOrder"])
	assert.Len(t, h.ex.placed, 1)
}

func TestRun_BalanceFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.ex.balanceErr = apperr.Newf(apperr.KindNetwork, "exchange.balance", "timeout")

	res, err := h.runner.Run(context.Background(), true)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNetwork))
	assert.Equal(t, OutcomeNoTrade, res.Outcome)
	assert.Equal(t, StepRiskGate, res.StoppedAt)
	assert.Zero(t, h.ex.calls["ActiveMarket"])
	assert.Zero(t, h.wx.calls)
	assert.Empty(t, h.ex.placed)
	assert.Empty(t, h.tracker.balances)
	assert.Empty(t, h.tracker.denials)
}

func TestRun_LedgerAppendFailureAfterOrder(t *testing.T) {
	h := newHarness(t)
	h.runner.deps.Ledger = appendFailingLedger{FileStore: h.ledger, err: errors.New("disk full")}

	res, err := h.runner.Run(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, OutcomeNoTrade, res.Outcome)
	assert.Equal(t, StepRecord, res.StoppedAt)
	assert.False(t, res.Traded())
	assert.Nil(t, res.Entry)
	require.Len(t, h.ex.placed, 1)

	entries, loadErr := h.ledger.Load()
	require.NoError(t, loadErr)
	assert.Empty(t, entries)
}

func TestRun_PositionsFailureStillSettles(t *testing.T) {
	h := newHarness(t)
	prev := "KXHIGHNY-26OCT17-T60"
	h.seed(t,
		pendingEntry("e1", prev, "o1", testNow.Add(-20*time.Hour)),
		pendingEntry("e2", testTicker, "o2", testNow.Add(-50*time.Minute)),
	)
	h.ex.resting = []exchange.Order{{OrderID: "o2", Ticker: testTicker}}
	h.ex.positionsErrs = []error{apperr.Newf(apperr.KindNetwork, "exchange.positions", "timeout")}
	h.ex.settlements = []exchange.Settlement{{Ticker: testTicker, MarketResult: "yes", SettledTime: testNow}}
	h.brain.decision = brain.Pass("边际不足")

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, StepBrain, res.StoppedAt)
	assert.Equal(t, []string{"o2"}, h.ex.canceled)
	assert.Equal(t, 1, h.ex.calls["Settlements"])

	// 持仓未知时不作废已撤销条目，但仍结算最近一条
	require.Len(t, res.Settled, 1)
	assert.Equal(t, "e2", res.Settled[0].ID)
	assert.Equal(t, ledger.OutcomeWon, res.Settled[0].Outcome)
}

func TestRun_FinalPositionFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.ex.positionsErrs = []error{nil, apperr.Newf(apperr.KindNetwork, "exchange.positions", "timeout")}

	res, err := h.runner.Run(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, StepFinalCheck, res.StoppedAt)
	assert.Equal(t, 2, h.ex.calls["Positions"])
	assert.Empty(t, h.ex.placed)
}

func TestRun_NoActiveMarket(t *testing.T) {
	h := newHarness(t)
	h.ex.market = nil

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoTrade, res.Outcome)
	assert.Equal(t, StepMarket, res.StoppedAt)
	assert.Zero(t, h.wx.calls)
}

func TestRun_NearExpiryDenied(t *testing.T) {
	h := newHarness(t)
	h.ex.market.CloseTime = testNow.Add(10 * time.Minute)

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, StepMarket, res.StoppedAt)
	assert.Contains(t, h.tracker.denials, "market")
	assert.Zero(t, h.ex.calls["Orderbook"])
}

func TestRun_WeatherFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.wx.err = apperr.New(apperr.KindDataUnavailable, "weather.forecast", errors.New("deterministic down"))

	res, err := h.runner.Run(context.Background(), false)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDataUnavailable))
	assert.Equal(t, StepWeather, res.StoppedAt)
	assert.Zero(t, h.brain.calls)
}

func TestRun_NilWeatherStillDecides(t *testing.T) {
	h := newHarness(t)
	h.wx.snap = nil
	h.brain.decision = brain.Pass("天气数据不可用")

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, h.brain.calls)
	assert.Nil(t, h.brain.last.Weather)
	assert.Equal(t, OutcomeNoTrade, res.Outcome)
	assert.Equal(t, "天气数据不可用", res.Reason)
}

func TestRun_ClampsSharesToLimit(t *testing.T) {
	h := newHarness(t)
	h.brain.decision = buyYes(5, 35)

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	require.True(t, res.Traded())
	require.Len(t, h.ex.placed, 1)
	assert.Equal(t, 2, h.ex.placed[0].Shares)
	assert.Equal(t, 2, res.Entry.Shares)
}

func TestRun_InvalidPriceAborts(t *testing.T) {
	h := newHarness(t)
	h.brain.decision = buyYes(1, 60)

	res, err := h.runner.Run(context.Background(), false)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
	assert.Equal(t, StepValidate, res.StoppedAt)
	assert.Empty(t, h.ex.placed)
}

func TestRun_SettlesLastPendingEntry(t *testing.T) {
	cases := []struct {
		name    string
		result  string
		outcome ledger.Outcome
		pnl     int64
	}{
		{name: "方向一致为盈利", result: "yes", outcome: ledger.OutcomeWon, pnl: 130},
		{name: "方向相反为亏损", result: "no", outcome: ledger.OutcomeLost, pnl: -70},
		{name: "未知结果作废", result: "void", outcome: ledger.OutcomeVoid, pnl: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			prev := "KXHIGHNY-26OCT17-T60"
			h.seed(t, pendingEntry("e1", prev, "o1", testNow.Add(-20*time.Hour)))
			settledAt := testNow.Add(-2 * time.Hour)
			h.ex.settlements = []exchange.Settlement{{Ticker: prev, MarketResult: tc.result, SettledTime: settledAt}}
			h.brain.decision = brain.Pass("边际不足")

			res, err := h.runner.Run(context.Background(), false)
			require.NoError(t, err)
			require.Len(t, res.Settled, 1)
			assert.Equal(t, tc.outcome, res.Settled[0].Outcome)
			assert.Equal(t, tc.pnl, res.Settled[0].PnLCents)

			entries, err := h.ledger.Load()
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, tc.outcome, entries[0].Outcome)
			require.NotNil(t, entries[0].SettledAt)
			assert.True(t, settledAt.Equal(*entries[0].SettledAt))
			assert.Equal(t, tc.pnl, res.Stats.TotalPnLCents)
		})
	}
}

func TestRun_UnsettledEntryStaysPending(t *testing.T) {
	h := newHarness(t)
	h.seed(t, pendingEntry("e1", "KXHIGHNY-26OCT17-T60", "o1", testNow.Add(-20*time.Hour)))
	h.ex.settlementsErr = apperr.Newf(apperr.KindNetwork, "exchange.settlements", "timeout")
	h.brain.decision = brain.Pass("边际不足")

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, res.Settled)
	assert.Equal(t, 1, res.Stats.Pending)
}

func TestRun_VoidsCanceledOrderWithoutPosition(t *testing.T) {
	h := newHarness(t)
	h.seed(t, pendingEntry("e1", testTicker, "o1", testNow.Add(-50*time.Minute)))
	h.ex.resting = []exchange.Order{{OrderID: "o1", Ticker: testTicker, Side: exchange.SideYes}}
	h.brain.decision = brain.Pass("边际不足")

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"o1"}, h.ex.canceled)
	require.Len(t, res.Settled, 1)
	assert.Equal(t, ledger.OutcomeVoid, res.Settled[0].Outcome)
	assert.Zero(t, h.ex.calls["Settlements"])
}

func TestRun_CanceledOrderWithPositionStaysPending(t *testing.T) {
	h := newHarness(t)
	h.seed(t, pendingEntry("e1", testTicker, "o1", testNow.Add(-50*time.Minute)))
	h.ex.resting = []exchange.Order{{OrderID: "o1", Ticker: testTicker}}
	h.ex.positions = [][]exchange.Position{{{Ticker: testTicker, Count: 1}}}

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, res.Settled)
	assert.Equal(t, StepMarket, res.StoppedAt)
	assert.Equal(t, 1, h.ex.calls["Settlements"])
}

func TestRun_VoidsStalePendingEntry(t *testing.T) {
	h := newHarness(t)
	h.seed(t, pendingEntry("e1", "KXHIGHNY-26OCT15-T60", "o1", testNow.Add(-72*time.Hour)))
	h.brain.decision = brain.Pass("边际不足")

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, res.Settled, 1)
	assert.Equal(t, ledger.OutcomeVoid, res.Settled[0].Outcome)
	assert.Equal(t, "超时未结算", res.Settled[0].Note)
}

func TestRun_VoidsOlderStalePendingEntries(t *testing.T) {
	h := newHarness(t)
	h.seed(t,
		pendingEntry("e1", "KXHIGHNY-26OCT14-T60", "o1", testNow.Add(-96*time.Hour)),
		pendingEntry("e2", "KXHIGHNY-26OCT15-T60", "o2", testNow.Add(-72*time.Hour)),
		pendingEntry("e3", "KXHIGHNY-26OCT17-T60", "o3", testNow.Add(-20*time.Hour)),
	)
	h.ex.settlementsErr = apperr.Newf(apperr.KindNetwork, "exchange.settlements", "timeout")
	h.brain.decision = brain.Pass("边际不足")

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, res.Settled, 2)
	assert.Equal(t, "e1", res.Settled[0].ID)
	assert.Equal(t, "e2", res.Settled[1].ID)
	assert.Equal(t, 1, res.Stats.Pending)

	entries, err := h.ledger.Load()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.OutcomeVoid, entries[0].Outcome)
	assert.Equal(t, ledger.OutcomeVoid, entries[1].Outcome)
	assert.Equal(t, ledger.OutcomePending, entries[2].Outcome)
}

func TestRun_StaleLatestStaysPendingWhenSettlementQueryFails(t *testing.T) {
	h := newHarness(t)
	h.seed(t, pendingEntry("e1", "KXHIGHNY-26OCT15-T60", "o1", testNow.Add(-72*time.Hour)))
	h.ex.settlementsErr = apperr.Newf(apperr.KindNetwork, "exchange.settlements", "timeout")
	h.brain.decision = brain.Pass("边际不足")

	res, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, res.Settled)
	assert.Equal(t, 1, res.Stats.Pending)
}

func TestRun_RecentEntriesPassedToBrain(t *testing.T) {
	h := newHarness(t)
	h.runner.opts.RecentTrades = 2
	for i := 0; i < 4; i++ {
		e := pendingEntry(fmt.Sprintf("e%d", i), fmt.Sprintf("KXHIGHNY-26OCT1%d-T60", i), "", testNow.Add(-time.Duration(90-i)*time.Hour))
		settled, err := e.Settle(ledger.OutcomeWon, e.Timestamp.Add(time.Hour), "")
		require.NoError(t, err)
		h.seed(t, settled)
	}
	h.brain.decision = brain.Pass("边际不足")

	_, err := h.runner.Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, h.brain.last.RecentEntries, 2)
	assert.Equal(t, "e3", h.brain.last.RecentEntries[1].ID)
	assert.Equal(t, 4, h.brain.last.Stats.Wins)
}

func TestValidateDecision(t *testing.T) {
	cases := []struct {
		name     string
		decision brain.TradeDecision
		wantErr  bool
		shares   int
		clamped  bool
	}{
		{name: "合法决策", decision: buyYes(1, 35), shares: 1},
		{name: "截断份数", decision: buyYes(3, 35), shares: 2, clamped: true},
		{name: "限价等于上限", decision: buyYes(1, 50), shares: 1},
		{name: "限价超过上限", decision: buyYes(1, 51), wantErr: true},
		{name: "限价为零", decision: buyYes(1, 0), wantErr: true},
		{name: "份数为零", decision: buyYes(0, 35), wantErr: true},
		{name: "方向无效", decision: brain.TradeDecision{Action: brain.ActionBuy, Side: "maybe", Shares: 1, MaxPriceCents: 30}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, clamped, err := ValidateDecision(tc.decision, testTicker, 50, 2)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.shares, req.Shares)
			assert.Equal(t, tc.clamped, clamped)
			assert.Equal(t, testTicker, req.Ticker)
		})
	}
}
