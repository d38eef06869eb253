package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// Open connects to ClickHouse and verifies the connection.
func Open(dsn string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	// ClickHouse Cloud needs TLS even when the DSN omits ?secure=true.
	if opts.TLS == nil && strings.HasSuffix(hostOf(opts.Addr), ".clickhouse.cloud") {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	return conn, nil
}

func hostOf(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	host := addrs[0]
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}

// ClickHouseWriter batches assessment events into ClickHouse from a background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *AssessmentEvent
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

func NewClickHouseWriter(conn driver.Conn, logger *zap.Logger) *ClickHouseWriter {
	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *AssessmentEvent, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
	go w.flushLoop()
	return w
}

// Write queues an event. Drops it if the buffer is full.
func (w *ClickHouseWriter) Write(event *AssessmentEvent) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("clickhouse buffer full, dropping event",
			zap.String("request_id", event.RequestID),
		)
	}
}

// Close drains queued events and waits for the final flush.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*AssessmentEvent, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			deadline := time.After(drainTimeout)
		drain:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-deadline:
					break drain
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*AssessmentEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO assessment_events (
			request_id, tenant_id, session_key, timestamp, tool_name, params_preview,
			stage, action, is_shadow, failed_open, reason,
			severity, reversibility, risk_score, user_interest_score,
			consequence_types, consequence_severities, violated_constraints,
			intent_source, prediction_source, decision_source, latency_ms
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		if err := batch.Append(
			e.RequestID,
			e.TenantID,
			e.SessionKey,
			e.Timestamp,
			e.ToolName,
			e.ParamsPreview,
			e.Stage,
			e.Action,
			boolToUint8(e.IsShadow),
			boolToUint8(e.FailedOpen),
			e.Reason,
			e.Severity,
			e.Reversibility,
			e.RiskScore,
			e.UserInterestScore,
			e.ConsequenceTypes,
			e.ConsequenceSeverities,
			e.ViolatedConstraints,
			e.IntentSource,
			e.PredictionSource,
			e.DecisionSource,
			e.LatencyMs,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
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

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// LogWriter is a fallback EventWriter that logs each event.
type LogWriter struct {
	logger *zap.Logger
}

func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *AssessmentEvent) {
	w.logger.Info("assessment_event",
		zap.String("request_id", event.RequestID),
		zap.String("tenant_id", event.TenantID),
		zap.String("session_key", event.SessionKey),
		zap.String("tool_name", event.ToolName),
		zap.String("stage", event.Stage),
		zap.String("action", event.Action),
		zap.Bool("is_shadow", event.IsShadow),
		zap.Bool("failed_open", event.FailedOpen),
		zap.String("severity", event.Severity),
		zap.Strings("consequence_types", event.ConsequenceTypes),
		zap.Float32("latency_ms", event.LatencyMs),
	)
}

func (w *LogWriter) Close() {}
