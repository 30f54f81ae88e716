package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kalshi-weather/internal/apperr"
	"kalshi-weather/internal/brain"
	"kalshi-weather/internal/exchange"
	"kalshi-weather/internal/ledger"
	"kalshi-weather/internal/risk"
	"kalshi-weather/internal/store"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS monitor_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		cycle_id TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_events_cycle ON monitor_events(cycle_id);`,
}

// Service 负责持久化监控事件。写入失败只记日志，不影响交易周期。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := st.Migrate(ctx, schema...); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}

	return &Service{
		db:     st.DB(),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, cycle_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.CycleID, string(payload), event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

func (s *Service) record(ctx context.Context, typ EventType, cycleID string, payload interface{}) {
	if err := s.Record(ctx, Event{Type: typ, CycleID: cycleID, Payload: payload}); err != nil {
		s.logger.Warn("记录监控事件失败", zap.String("event_type", string(typ)), zap.Error(err))
	}
}

// CycleStart 记录周期开始。
func (s *Service) CycleStart(ctx context.Context, cycleID string, live bool) {
	s.record(ctx, EventCycleStart, cycleID, CycleStartPayload{Live: live})
}

// Settlement 记录结算。
func (s *Service) Settlement(ctx context.Context, cycleID string, entry ledger.Entry) {
	s.record(ctx, EventSettlement, cycleID, SettlementPayload{Entry: entry})
}

// RiskVerdict 记录风控评估。
func (s *Service) RiskVerdict(ctx context.Context, cycleID, stage string, verdict risk.Verdict) {
	s.record(ctx, EventRiskVerdict, cycleID, RiskVerdictPayload{Stage: stage, Verdict: verdict})
}

// Decision 记录决策。
func (s *Service) Decision(ctx context.Context, cycleID string, market exchange.Market, decision brain.TradeDecision) {
	s.record(ctx, EventDecision, cycleID, DecisionPayload{Market: market, Decision: decision})
}

// Order 记录下单请求与结果。
func (s *Service) Order(ctx context.Context, cycleID string, req exchange.OrderRequest, res *exchange.OrderResult, orderErr error) {
	payload := OrderPayload{Request: req, Result: res}
	if orderErr != nil {
		payload.Error = orderErr.Error()
	}
	s.record(ctx, EventOrder, cycleID, payload)
}

// CycleEnd 记录周期结局。
func (s *Service) CycleEnd(ctx context.Context, cycleID, outcome, reason string, elapsed time.Duration) {
	s.record(ctx, EventCycleEnd, cycleID, CycleEndPayload{
		Outcome:   outcome,
		Reason:    reason,
		ElapsedMS: float64(elapsed) / float64(time.Millisecond),
	})
}

// Error 记录异常。
func (s *Service) Error(ctx context.Context, cycleID, step string, err error) {
	if err == nil {
		return
	}
	s.record(ctx, EventError, cycleID, ErrorPayload{
		Step:  step,
		Kind:  string(apperr.KindOf(err)),
		Error: err.Error(),
	})
}

// ListEvents 按类型检索最近事件，eventType 为空时返回全部类型。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, cycle_id, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			cycleID string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &cycleID, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Time{}
		}

		events = append(events, Event{
			Type:      EventType(typ),
			CycleID:   cycleID,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
