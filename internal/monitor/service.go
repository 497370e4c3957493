package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"trades-cli/internal/order"
	"trades-cli/internal/store"
)

const defaultQueueSize = 1024

// Sink 接收已持久化的事件，用于向外部系统转发。
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Service 负责异步持久化订单与命令事件。
type Service struct {
	db      *sql.DB
	logger  *zap.Logger
	queue   chan Event
	sinks   []Sink
	dropped atomic.Int64
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, queueSize int, logger *zap.Logger, sinks ...Sink) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
		queue:  make(chan Event, queueSize),
		sinks:  sinks,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	order_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
CREATE INDEX IF NOT EXISTS idx_monitor_events_order ON monitor_events(order_id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Observe 作为 order.Observer 使用，队列已满时丢弃事件，不阻塞调用方。
func (s *Service) Observe(c order.Change) {
	s.enqueue(OrderEvent(c))
}

// RecordCommand 记录命令执行结果。
func (s *Service) RecordCommand(name, raw string, cmdErr error) {
	payload := CommandPayload{Command: name, Raw: raw}
	if cmdErr != nil {
		payload.Error = cmdErr.Error()
	}
	s.enqueue(Event{Type: EventCommand, Timestamp: time.Now().UTC(), Payload: payload})
}

// RecordError 记录异常。
func (s *Service) RecordError(msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{Message: msg, Context: ctxMap}
	if err != nil {
		payload.Error = err.Error()
	}
	s.enqueue(Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// Dropped 返回因队列已满被丢弃的事件数。
func (s *Service) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Service) enqueue(ev Event) {
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
		s.logger.Warn("监控队列已满，丢弃事件", zap.String("type", string(ev.Type)), zap.String("order_id", ev.OrderID))
	}
}

// Run 消费事件队列直至 ctx 取消，退出前写完队列中剩余的事件并关闭 sink。
func (s *Service) Run(ctx context.Context) error {
	defer s.closeSinks()
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return nil
		case ev := <-s.queue:
			s.handle(ctx, ev)
		}
	}
}

func (s *Service) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-s.queue:
			s.handle(ctx, ev)
		default:
			return
		}
	}
}

func (s *Service) handle(ctx context.Context, ev Event) {
	if err := s.Record(ctx, ev); err != nil {
		s.logger.Warn("记录监控事件失败", zap.String("type", string(ev.Type)), zap.Error(err))
	}
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			s.logger.Warn("转发监控事件失败", zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}
}

func (s *Service) closeSinks() {
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			s.logger.Warn("关闭事件转发失败", zap.Error(err))
		}
	}
}

// Record 同步写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, order_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.OrderID, string(payload), event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// Query 为事件检索条件，零值字段不参与过滤。
type Query struct {
	Type    EventType
	OrderID string
	Limit   int
}

// ListEvents 按条件检索最近事件，按写入顺序倒序返回。
func (s *Service) ListEvents(ctx context.Context, q Query) ([]Event, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, order_id, payload, created_at FROM monitor_events WHERE 1 = 1`
	args := make([]interface{}, 0, 3)
	if q.Type != "" {
		query += ` AND event_type = ?`
		args = append(args, string(q.Type))
	}
	if q.OrderID != "" {
		query += ` AND order_id = ?`
		args = append(args, q.OrderID)
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
			orderID string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &orderID, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			OrderID:   orderID,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
