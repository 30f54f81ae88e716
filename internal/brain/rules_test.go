package brain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi-weather/internal/apperr"
	"kalshi-weather/internal/exchange"
	"kalshi-weather/internal/weather"
)

func floatPtr(v float64) *float64 { return &v }

func aboveMarket(yesBid, yesAsk, noBid, noAsk int) exchange.Market {
	return exchange.Market{
		Ticker:       "KXHIGHNY-26OCT18-T39",
		Title:        "Will the high temp in NYC be >39° on Oct 18, 2026?",
		Status:       "active",
		StrikeType:   "greater",
		FloorStrike:  floatPtr(39),
		YesBid:       yesBid,
		YesAsk:       yesAsk,
		NoBid:        noBid,
		NoAsk:        noAsk,
		Volume24h:    250,
		OpenInterest: 400,
		CloseTime:    time.Date(2026, 10, 19, 4, 59, 0, 0, time.UTC),
	}
}

// ensembleSnapshot 构造 YES（>39°F）概率恰为 p 的集合预报。
func ensembleSnapshot(p, std float64) *weather.Snapshot {
	return &weather.Snapshot{
		City:               "NY",
		CurrentTempF:       35,
		DeterministicHighF: 39,
		Ensemble: &weather.Ensemble{
			Members: 40,
			StdDev:  std,
			Buckets: []weather.Bucket{
				{Lower: 37, Upper: 39, Probability: 1 - p},
				{Lower: 39, Upper: 41, Probability: p},
			},
		},
	}
}

func TestRules_ScenarioBuyYesTwoShares(t *testing.T) {
	r := NewRules(DefaultParams())
	dc := DecisionContext{
		Market:  aboveMarket(33, 35, 63, 67),
		Weather: ensembleSnapshot(0.55, 1.5),
	}

	d, err := r.Decide(context.Background(), dc)
	require.NoError(t, err)
	require.True(t, d.IsBuy(), d.Reason)
	assert.Equal(t, exchange.SideYes, d.Side)
	assert.Equal(t, 2, d.Shares)
	assert.Equal(t, 35, d.MaxPriceCents)
	assert.InDelta(t, 20.0, d.EdgePoints, 1e-9)
	assert.Equal(t, ConfidenceHigh, d.Confidence)
}

func TestRules_EdgeBoundary(t *testing.T) {
	cases := []struct {
		name    string
		p       float64
		wantBuy bool
	}{
		{name: "恰好5点买入", p: 0.50, wantBuy: true},
		{name: "4.999点放弃", p: 0.49999, wantBuy: false},
	}

	r := NewRules(DefaultParams())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := r.Decide(context.Background(), DecisionContext{
				Market:  aboveMarket(43, 45, 40, 60),
				Weather: ensembleSnapshot(tc.p, 1),
			})
			require.NoError(t, err)
			assert.Equal(t, tc.wantBuy, d.IsBuy(), d.Reason)
			if tc.wantBuy {
				assert.Equal(t, 1, d.Shares)
				assert.Equal(t, 5.0, d.EdgePoints)
			}
		})
	}
}

func TestRules_AskCeiling(t *testing.T) {
	cases := []struct {
		name    string
		yesAsk  int
		wantBuy bool
	}{
		{name: "50分可交易", yesAsk: 50, wantBuy: true},
		{name: "51分不可交易", yesAsk: 51, wantBuy: false},
	}

	r := NewRules(DefaultParams())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := r.Decide(context.Background(), DecisionContext{
				Market:  aboveMarket(tc.yesAsk-2, tc.yesAsk, 100-tc.yesAsk-2, 100-tc.yesAsk+2),
				Weather: ensembleSnapshot(0.95, 1),
			})
			require.NoError(t, err)
			assert.Equal(t, tc.wantBuy, d.IsBuy(), d.Reason)
			if d.IsBuy() {
				assert.LessOrEqual(t, d.MaxPriceCents, 50)
			}
		})
	}
}

func TestRules_FallbackCurveIsLowConfidence(t *testing.T) {
	snap := &weather.Snapshot{City: "NY", CurrentTempF: 30, DeterministicHighF: 38}
	r := NewRules(DefaultParams())

	d, err := r.Decide(context.Background(), DecisionContext{
		Market:  aboveMarket(30, 32, 66, 68),
		Weather: snap,
	})
	require.NoError(t, err)
	assert.Less(t, d.Probability, 0.5)
	assert.Greater(t, d.Probability, 0.3)
	assert.Equal(t, ConfidenceLow, d.Confidence)
}

func TestRules_PicksNoSideWhenCheaper(t *testing.T) {
	r := NewRules(DefaultParams())
	d, err := r.Decide(context.Background(), DecisionContext{
		Market:  aboveMarket(70, 72, 26, 30),
		Weather: ensembleSnapshot(0.5, 1),
	})
	require.NoError(t, err)
	require.True(t, d.IsBuy(), d.Reason)
	assert.Equal(t, exchange.SideNo, d.Side)
	assert.Equal(t, 2, d.Shares)
	assert.Equal(t, 30, d.MaxPriceCents)
}

func TestRules_WideSpreadUsesMidpoint(t *testing.T) {
	r := NewRules(DefaultParams())
	m := aboveMarket(0, 35, 55, 67)
	ob := exchange.Orderbook{Yes: []exchange.Level{{PriceCents: 25, Quantity: 10}}}

	d, err := r.Decide(context.Background(), DecisionContext{
		Market:    m,
		Orderbook: ob,
		Weather:   ensembleSnapshot(0.55, 1),
	})
	require.NoError(t, err)
	require.True(t, d.IsBuy(), d.Reason)
	assert.Equal(t, 30, d.MaxPriceCents)
}

func TestRules_Filters(t *testing.T) {
	r := NewRules(DefaultParams())

	extreme := aboveMarket(3, 5, 93, 95)
	d, err := r.Decide(context.Background(), DecisionContext{Market: extreme, Weather: ensembleSnapshot(0.9, 1)})
	require.NoError(t, err)
	assert.False(t, d.IsBuy())

	illiquid := aboveMarket(33, 35, 63, 67)
	illiquid.Volume24h = 2
	illiquid.OpenInterest = 3
	d, err = r.Decide(context.Background(), DecisionContext{Market: illiquid, Weather: ensembleSnapshot(0.55, 1)})
	require.NoError(t, err)
	assert.False(t, d.IsBuy())
	assert.Contains(t, d.Reason, "流动性")

	d, err = r.Decide(context.Background(), DecisionContext{Market: aboveMarket(33, 35, 63, 67)})
	require.NoError(t, err)
	assert.False(t, d.IsBuy())
}

func TestRules_SharesRespectMax(t *testing.T) {
	params := DefaultParams()
	params.MaxShares = 1
	r := NewRules(params)

	d, err := r.Decide(context.Background(), DecisionContext{
		Market:  aboveMarket(33, 35, 63, 67),
		Weather: ensembleSnapshot(0.7, 1),
	})
	require.NoError(t, err)
	require.True(t, d.IsBuy())
	assert.Equal(t, 1, d.Shares)
}

func TestRules_UnparsableTickerIsInvalidInput(t *testing.T) {
	m := aboveMarket(33, 35, 63, 67)
	m.Ticker = "KXHIGHNY-26OCT18"
	m.StrikeType = ""
	m.FloorStrike = nil

	_, err := NewRules(DefaultParams()).Decide(context.Background(), DecisionContext{
		Market:  m,
		Weather: ensembleSnapshot(0.55, 1),
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
	assert.True(t, errors.Is(err, ErrUnparsableTicker))
}

func TestRules_IsPure(t *testing.T) {
	r := NewRules(DefaultParams())
	dc := DecisionContext{
		Market:  aboveMarket(33, 35, 63, 67),
		Weather: ensembleSnapshot(0.62, 2.5),
	}

	first, err := r.Decide(context.Background(), dc)
	require.NoError(t, err)
	second, err := r.Decide(context.Background(), dc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 0.62, dc.Weather.Ensemble.Buckets[1].Probability)
}

func TestParseThreshold(t *testing.T) {
	cases := []struct {
		name   string
		market exchange.Market
		want   Threshold
	}{
		{
			name:   "ticker大于",
			market: exchange.Market{Ticker: "KXHIGHNY-26OCT18-T39"},
			want:   Threshold{Direction: DirectionAbove, Value: 39},
		},
		{
			name:   "ticker小于",
			market: exchange.Market{Ticker: "KXHIGHNY-26OCT18-T32", StrikeType: "less"},
			want:   Threshold{Direction: DirectionBelow, Value: 32},
		},
		{
			name:   "ticker区间",
			market: exchange.Market{Ticker: "KXHIGHNY-26OCT18-B38.5"},
			want:   Threshold{Direction: DirectionBetween, Low: 37.5, High: 39.5},
		},
		{
			name:   "strike区间",
			market: exchange.Market{Ticker: "X", StrikeType: "between", FloorStrike: floatPtr(38), CapStrike: floatPtr(39)},
			want:   Threshold{Direction: DirectionBetween, Low: 37.5, High: 39.5},
		},
		{
			name:   "strike小于",
			market: exchange.Market{Ticker: "X", StrikeType: "less", CapStrike: floatPtr(30)},
			want:   Threshold{Direction: DirectionBelow, Value: 30},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseThreshold(tc.market)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseThreshold(exchange.Market{Ticker: "KXHIGHNY-26OCT18-X39"})
	assert.ErrorIs(t, err, ErrUnparsableTicker)
}

func TestEstimateYes_BucketInterpolation(t *testing.T) {
	snap := weather.Snapshot{
		DeterministicHighF: 40,
		Ensemble: &weather.Ensemble{
			StdDev: 3,
			Buckets: []weather.Bucket{
				{Lower: 38, Upper: 40, Probability: 0.5},
				{Lower: 40, Upper: 42, Probability: 0.5},
			},
		},
	}

	above := EstimateYes(Threshold{Direction: DirectionAbove, Value: 39}, snap, 2)
	assert.InDelta(t, 0.75, above.Probability, 1e-9)
	assert.Equal(t, ConfidenceMedium, above.Confidence)

	below := EstimateYes(Threshold{Direction: DirectionBelow, Value: 39}, snap, 2)
	assert.InDelta(t, 0.25, below.Probability, 1e-9)

	between := EstimateYes(Threshold{Direction: DirectionBetween, Low: 39, High: 41}, snap, 2)
	assert.InDelta(t, 0.5, between.Probability, 1e-9)

	snap.Ensemble = nil
	atThreshold := EstimateYes(Threshold{Direction: DirectionAbove, Value: 40}, snap, 2)
	assert.InDelta(t, 0.5, atThreshold.Probability, 1e-9)
	assert.Equal(t, ConfidenceLow, atThreshold.Confidence)
}

func TestConfidenceFromStdDev(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, ConfidenceFromStdDev(1.99))
	assert.Equal(t, ConfidenceMedium, ConfidenceFromStdDev(2))
	assert.Equal(t, ConfidenceMedium, ConfidenceFromStdDev(4))
	assert.Equal(t, ConfidenceLow, ConfidenceFromStdDev(4.01))
}
