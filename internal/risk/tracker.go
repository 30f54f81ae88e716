package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kalshi-weather/internal/store"
)

var trackerSchema = []string{
	`CREATE TABLE IF NOT EXISTS risk_daily_metrics (
		trading_date TEXT PRIMARY KEY,
		start_balance_cents INTEGER NOT NULL,
		current_balance_cents INTEGER NOT NULL,
		denials INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS risk_activity_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at TEXT NOT NULL,
		event_type TEXT NOT NULL,
		message TEXT NOT NULL,
		details TEXT,
		trading_date TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_risk_activity_date ON risk_activity_log(trading_date);`,
}

// DailyStatus 为某个交易日的余额记录。
type DailyStatus struct {
	TradingDate         string `json:"trading_date"`
	StartBalanceCents   int64  `json:"start_balance_cents"`
	CurrentBalanceCents int64  `json:"current_balance_cents"`
	ChangeCents         int64  `json:"change_cents"`
	Denials             int    `json:"denials"`
}

// DailyTracker 记录每个交易日的首个余额与风控拒绝事件。
type DailyTracker struct {
	db        *sql.DB
	loc       *time.Location
	resetHour int
	logger    *zap.Logger
	now       func() time.Time
}

// NewDailyTracker 创建日度记录器并初始化表结构。
func NewDailyTracker(ctx context.Context, st *store.Store, loc *time.Location, resetHour int, logger *zap.Logger) (*DailyTracker, error) {
	if st == nil || st.DB() == nil {
		return nil, errors.New("risk: 数据库实例不能为空")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := st.Migrate(ctx, trackerSchema...); err != nil {
		return nil, fmt.Errorf("risk: 初始化表结构失败: %w", err)
	}

	return &DailyTracker{
		db:        st.DB(),
		loc:       loc,
		resetHour: resetHour,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Update 记录当前余额。交易日首次调用时以该余额作为当日起始余额。
func (t *DailyTracker) Update(ctx context.Context, ts time.Time, balanceCents int64) (status DailyStatus, err error) {
	tradingDate := tradingDay(ts, t.loc, t.resetHour)
	now := t.now().UTC().Format(time.RFC3339)

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return status, fmt.Errorf("risk: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		startBalance int64
		denials      int
	)
	row := tx.QueryRowContext(ctx,
		`SELECT start_balance_cents, denials FROM risk_daily_metrics WHERE trading_date = ?`, tradingDate)
	switch scanErr := row.Scan(&startBalance, &denials); {
	case scanErr == nil:
		if _, err = tx.ExecContext(ctx,
			`UPDATE risk_daily_metrics SET current_balance_cents = ?, updated_at = ? WHERE trading_date = ?`,
			balanceCents, now, tradingDate,
		); err != nil {
			return status, fmt.Errorf("risk: 更新日度余额失败: %w", err)
		}
	case errors.Is(scanErr, sql.ErrNoRows):
		startBalance = balanceCents
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO risk_daily_metrics (trading_date, start_balance_cents, current_balance_cents, denials, updated_at)
			 VALUES (?, ?, ?, 0, ?)`,
			tradingDate, balanceCents, balanceCents, now,
		); err != nil {
			return status, fmt.Errorf("risk: 初始化日度余额失败: %w", err)
		}
		t.logger.Info("记录交易日起始余额",
			zap.String("trading_date", tradingDate),
			zap.Int64("balance_cents", balanceCents),
		)
	default:
		err = fmt.Errorf("risk: 查询日度余额失败: %w", scanErr)
		return status, err
	}

	if err = tx.Commit(); err != nil {
		return status, fmt.Errorf("risk: 提交事务失败: %w", err)
	}

	return DailyStatus{
		TradingDate:         tradingDate,
		StartBalanceCents:   startBalance,
		CurrentBalanceCents: balanceCents,
		ChangeCents:         balanceCents - startBalance,
		Denials:             denials,
	}, nil
}

// RecordDenial 记录一次风控拒绝，并累加当日拒绝次数。
func (t *DailyTracker) RecordDenial(ctx context.Context, ts time.Time, stage string, verdict Verdict) (err error) {
	if verdict.Allowed {
		return nil
	}
	tradingDate := tradingDay(ts, t.loc, t.resetHour)
	details, err := json.Marshal(verdict.Failures)
	if err != nil {
		return fmt.Errorf("risk: 序列化拒绝原因失败: %w", err)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("risk: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO risk_activity_log (occurred_at, event_type, message, details, trading_date)
		 VALUES (?, ?, ?, ?, ?)`,
		ts.UTC().Format(time.RFC3339), "deny_"+stage, verdict.Summary(), string(details), tradingDate,
	); err != nil {
		return fmt.Errorf("risk: 写入风险事件日志失败: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE risk_daily_metrics SET denials = denials + 1, updated_at = ? WHERE trading_date = ?`,
		t.now().UTC().Format(time.RFC3339), tradingDate,
	); err != nil {
		return fmt.Errorf("risk: 更新拒绝次数失败: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("risk: 提交事务失败: %w", err)
	}
	return nil
}

// Status 返回 ts 所在交易日的余额记录，当日尚无记录时 found=false。
func (t *DailyTracker) Status(ctx context.Context, ts time.Time) (status DailyStatus, found bool, err error) {
	tradingDate := tradingDay(ts, t.loc, t.resetHour)
	row := t.db.QueryRowContext(ctx,
		`SELECT start_balance_cents, current_balance_cents, denials FROM risk_daily_metrics WHERE trading_date = ?`,
		tradingDate)
	status.TradingDate = tradingDate
	switch err := row.Scan(&status.StartBalanceCents, &status.CurrentBalanceCents, &status.Denials); {
	case errors.Is(err, sql.ErrNoRows):
		return status, false, nil
	case err != nil:
		return status, false, fmt.Errorf("risk: 查询日度余额失败: %w", err)
	}
	status.ChangeCents = status.CurrentBalanceCents - status.StartBalanceCents
	return status, true, nil
}

// ActivityEntry 为一条风控事件。
type ActivityEntry struct {
	OccurredAt  time.Time `json:"occurred_at"`
	EventType   string    `json:"event_type"`
	Message     string    `json:"message"`
	Details     string    `json:"details,omitempty"`
	TradingDate string    `json:"trading_date"`
}

// RecentActivity 返回最近的风控事件，按时间倒序。
func (t *DailyTracker) RecentActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT occurred_at, event_type, message, COALESCE(details, ''), COALESCE(trading_date, '')
		 FROM risk_activity_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("risk: 查询风险事件失败: %w", err)
	}
	defer rows.Close()

	var out []ActivityEntry
	for rows.Next() {
		var (
			e          ActivityEntry
			occurredAt string
		)
		if err := rows.Scan(&occurredAt, &e.EventType, &e.Message, &e.Details, &e.TradingDate); err != nil {
			return nil, fmt.Errorf("risk: 解析风险事件失败: %w", err)
		}
		if ts, parseErr := time.Parse(time.RFC3339, occurredAt); parseErr == nil {
			e.OccurredAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// tradingDay 以 loc 时区、resetHour 时刻切分交易日。
func tradingDay(ts time.Time, loc *time.Location, resetHour int) string {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	shifted := ts.In(loc).Add(-time.Duration(resetHour) * time.Hour)
	return shifted.Format("2006-01-02")
}
