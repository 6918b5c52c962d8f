package audit

import (
	"context"
	"crypto/tls"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	queueDepth  = 8192
	maxBatch    = 500
	flushEvery  = 250 * time.Millisecond
	drainBudget = 3 * time.Second
	insertStmt  = `
		INSERT INTO toolgate_audit_events (
			event_type, request_id, timestamp, user_id, tool_name,
			system_id, endpoint_id, protocol, risk_level,
			outcome, error_detail, status_code, attempt, latency_ms,
			params, confirmation_id, actor
		)
	`
)

// ClickHouseWriter batch-inserts audit events from a bounded queue. Write
// never blocks the invocation path; when the queue is full the event is
// counted and dropped.
type ClickHouseWriter struct {
	conn    driver.Conn
	queue   chan *Event
	done    chan struct{}
	drained chan struct{}
	dropped atomic.Int64
	logger  *zap.Logger
}

// NewClickHouseWriter connects, pings, and starts the flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		queue:   make(chan *Event, queueDepth),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
		logger:  logger,
	}
	go w.run()
	return w, nil
}

// Write enqueues an event. Drops on a full queue.
func (w *ClickHouseWriter) Write(event *Event) {
	select {
	case w.queue <- event:
	default:
		if n := w.dropped.Add(1); n%100 == 1 {
			w.logger.Warn("audit queue full, dropping events",
				zap.Int64("dropped_total", n),
				zap.String("type", string(event.Type)),
			)
		}
	}
}

// Close stops the flush loop after draining what fits in the budget.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.drained
}

func (w *ClickHouseWriter) run() {
	defer close(w.drained)

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	pending := make([]*Event, 0, maxBatch)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		w.insert(pending)
		pending = pending[:0]
	}

	for {
		select {
		case e := <-w.queue:
			pending = append(pending, e)
			if len(pending) >= maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			deadline := time.Now().Add(drainBudget)
			for time.Now().Before(deadline) {
				select {
				case e := <-w.queue:
					pending = append(pending, e)
					if len(pending) >= maxBatch {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}

func (w *ClickHouseWriter) insert(events []*Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, insertStmt)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}
	for _, e := range events {
		err := batch.Append(
			string(e.Type), e.RequestID, e.Timestamp, e.UserID, e.ToolName,
			e.SystemID, e.EndpointID, e.Protocol, e.RiskLevel,
			e.Outcome, e.ErrorDetail, e.StatusCode, e.Attempt, e.LatencyMs,
			e.ParamsJSON, e.ConfirmationID, e.Actor,
		)
		if err != nil {
			w.logger.Error("clickhouse append failed",
				zap.String("request_id", e.RequestID),
				zap.Error(err),
			)
		}
	}
	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// LogWriter is the Writer used when no ClickHouse DSN is configured: every
// event goes to the structured log instead.
type LogWriter struct {
	logger *zap.Logger
}

func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *Event) {
	w.logger.Info("audit_event",
		zap.String("type", string(event.Type)),
		zap.String("request_id", event.RequestID),
		zap.String("user_id", event.UserID),
		zap.String("tool_name", event.ToolName),
		zap.String("system_id", event.SystemID),
		zap.String("endpoint_id", event.EndpointID),
		zap.String("risk_level", event.RiskLevel),
		zap.String("outcome", event.Outcome),
		zap.String("error_detail", event.ErrorDetail),
		zap.Int32("attempt", event.Attempt),
		zap.Float32("latency_ms", event.LatencyMs),
		zap.String("confirmation_id", event.ConfirmationID),
		zap.String("actor", event.Actor),
	)
}

func (w *LogWriter) Close() {}
