package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	defaultEventLimit = 200
	maxEventLimit     = 1000
)

// Handler 返回只读监控接口的路由。
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(a.metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", a.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", a.handleEvents)
		r.Get("/stats", a.handleStats)
		r.Get("/ledger", a.handleLedger)
		r.Get("/risk/activity", a.handleRiskActivity)
		r.Get("/risk/daily", a.handleRiskDaily)
	})

	return r
}

// Serve 启动监控接口并阻塞到 ctx 结束。
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         a.cfg.Monitor.Addr,
		Handler:      a.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("监控接口已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("关闭监控服务失败", zap.Error(err))
		return err
	}
	a.logger.Info("监控接口已停止")
	return nil
}

func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := a.Events(r.Context(), q.Get("type"), parseLimit(q.Get("limit"), defaultEventLimit))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, events)
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, _, err := a.Stats()
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

func (a *App) handleLedger(w http.ResponseWriter, r *http.Request) {
	_, entries, err := a.Stats()
	if err != nil {
		a.writeError(w, err)
		return
	}
	if limit := parseLimit(r.URL.Query().Get("limit"), len(entries)); limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *App) handleRiskActivity(w http.ResponseWriter, r *http.Request) {
	activity, err := a.tracker.RecentActivity(r.Context(), parseLimit(r.URL.Query().Get("limit"), 50))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, activity)
}

func (a *App) handleRiskDaily(w http.ResponseWriter, r *http.Request) {
	status, found, err := a.tracker.Status(r.Context(), time.Now())
	if err != nil {
		a.writeError(w, err)
		return
	}
	if !found {
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": "当日尚无余额记录", "trading_date": status.TradingDate})
		return
	}
	a.writeJSON(w, http.StatusOK, status)
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("写入监控响应失败", zap.Error(err))
	}
}

func (a *App) writeError(w http.ResponseWriter, err error) {
	a.logger.Warn("监控接口查询失败", zap.Error(err))
	a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func parseLimit(raw string, fallback int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	if v > maxEventLimit {
		return maxEventLimit
	}
	return v
}
