package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi-weather/internal/apperr"
	"kalshi-weather/internal/brain"
	"kalshi-weather/internal/config"
	"kalshi-weather/internal/exchange"
	"kalshi-weather/internal/risk"
	"kalshi-weather/internal/store"
)

func newService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(context.Background(), st, nil)
	require.NoError(t, err)
	return svc
}

func TestService_RecordsCycleEvents(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	svc.CycleStart(ctx, "c1", false)
	svc.RiskVerdict(ctx, "c1", "pre_fetch", risk.Verdict{Allowed: true})
	svc.Decision(ctx, "c1", exchange.Market{Ticker: "KXHIGHNY-26OCT18-T39"}, brain.Pass("边际不足"))
	svc.Order(ctx, "c1",
		exchange.OrderRequest{Ticker: "KXHIGHNY-26OCT18-T39", Side: exchange.SideYes, Shares: 1, PriceCents: 35},
		nil, apperr.Newf(apperr.KindRejected, "exchange.place_order", "insufficient balance"))
	svc.Error(ctx, "c1", "orderbook", apperr.New(apperr.KindNetwork, "exchange.orderbook", errors.New("timeout")))
	svc.Error(ctx, "c1", "noop", nil)
	svc.CycleEnd(ctx, "c1", "completed_no_trade", "下单失败", 1500*time.Millisecond)

	all, err := svc.ListEvents(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, EventCycleEnd, all[0].Type)
	assert.Equal(t, EventCycleStart, all[5].Type)
	for _, e := range all {
		assert.Equal(t, "c1", e.CycleID)
		assert.False(t, e.Timestamp.IsZero())
	}

	orders, err := svc.ListEvents(ctx, EventOrder, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	var order OrderPayload
	require.NoError(t, json.Unmarshal(orders[0].Payload.(json.RawMessage), &order))
	assert.Equal(t, 35, order.Request.PriceCents)
	assert.Nil(t, order.Result)
	assert.Contains(t, order.Error, "insufficient balance")

	errs, err := svc.ListEvents(ctx, EventError, 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(errs[0].Payload.(json.RawMessage), &payload))
	assert.Equal(t, "network", payload.Kind)
	assert.Equal(t, "orderbook", payload.Step)

	ends, err := svc.ListEvents(ctx, EventCycleEnd, 1)
	require.NoError(t, err)
	var end CycleEndPayload
	require.NoError(t, json.Unmarshal(ends[0].Payload.(json.RawMessage), &end))
	assert.Equal(t, 1500.0, end.ElapsedMS)
}
