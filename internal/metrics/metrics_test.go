package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi-weather/internal/apperr"
	"kalshi-weather/internal/brain"
	"kalshi-weather/internal/cycle"
	"kalshi-weather/internal/ledger"
)

func TestObserveCycle_WritesTextfile(t *testing.T) {
	m := New()

	m.ObserveCycle(cycle.Result{
		Outcome:      cycle.OutcomeTraded,
		Live:         false,
		BalanceCents: 10000,
		Decision:     &brain.TradeDecision{Action: brain.ActionBuy, EdgePoints: 12.5},
		Settled:      []ledger.Entry{{Outcome: ledger.OutcomeWon}},
		Stats:        ledger.Stats{TotalPnLCents: 130, CurrentStreak: 1},
		StartedAt:    time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC),
		Elapsed:      1500 * time.Millisecond,
	}, nil)
	m.ObserveCycle(cycle.Result{
		Outcome:   cycle.OutcomeNoTrade,
		StoppedAt: cycle.StepWeather,
	}, apperr.New(apperr.KindDataUnavailable, "weather.forecast", errors.New("down")))

	path := filepath.Join(t.TempDir(), "kwx.prom")
	require.NoError(t, m.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)

	assert.Contains(t, text, `kwx_cycles_total{live="false",outcome="completed_traded"} 1`)
	assert.Contains(t, text, `kwx_cycles_total{live="false",outcome="completed_no_trade"} 1`)
	assert.Contains(t, text, `kwx_cycle_errors_total{kind="data_unavailable",step="weather"} 1`)
	assert.Contains(t, text, `kwx_settlements_total{outcome="won"} 1`)
	assert.Contains(t, text, "kwx_decision_edge_points 12.5")
	assert.Contains(t, text, "kwx_ledger_total_pnl_cents 0")
}

func TestWriteTextfile_EmptyPathIsNoop(t *testing.T) {
	assert.NoError(t, New().WriteTextfile(""))
}

func TestMiddleware_CountsRequests(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(m.Middleware(mux))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/missing")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `kwx_http_requests_total{method="GET",path="/missing",status="404"} 1`)
}
