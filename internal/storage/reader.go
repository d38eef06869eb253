package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the assessment_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

func NewReader(conn driver.Conn, logger *zap.Logger) *Reader {
	return &Reader{conn: conn, logger: logger}
}

const selectColumns = "request_id, tenant_id, session_key, timestamp, tool_name, params_preview, " +
	"stage, action, is_shadow, failed_open, reason, " +
	"severity, reversibility, risk_score, user_interest_score, " +
	"consequence_types, consequence_severities, violated_constraints, " +
	"intent_source, prediction_source, decision_source, latency_ms"

// ListAssessments returns paginated, filtered events newest first, and the total count.
func (r *Reader) ListAssessments(ctx context.Context, params ListParams) ([]AssessmentEvent, int, error) {
	conditions := []string{"tenant_id = @tenant_id"}
	args := []any{
		clickhouse.Named("tenant_id", params.TenantID),
	}

	if params.SessionKey != nil {
		conditions = append(conditions, "session_key = @session_key")
		args = append(args, clickhouse.Named("session_key", *params.SessionKey))
	}
	if params.Action != nil {
		conditions = append(conditions, "action = @action")
		args = append(args, clickhouse.Named("action", *params.Action))
	}
	if params.ToolName != nil {
		conditions = append(conditions, "tool_name = @tool_name")
		args = append(args, clickhouse.Named("tool_name", *params.ToolName))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM assessment_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListAssessments count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT %s FROM assessment_events WHERE %s ORDER BY timestamp DESC LIMIT @limit OFFSET @offset",
		selectColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListAssessments query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []AssessmentEvent
	for rows.Next() {
		var (
			e                    AssessmentEvent
			isShadow, failedOpen uint8
		)
		if err := rows.Scan(
			&e.RequestID, &e.TenantID, &e.SessionKey, &e.Timestamp, &e.ToolName, &e.ParamsPreview,
			&e.Stage, &e.Action, &isShadow, &failedOpen, &e.Reason,
			&e.Severity, &e.Reversibility, &e.RiskScore, &e.UserInterestScore,
			&e.ConsequenceTypes, &e.ConsequenceSeverities, &e.ViolatedConstraints,
			&e.IntentSource, &e.PredictionSource, &e.DecisionSource, &e.LatencyMs,
		); err != nil {
			return nil, 0, fmt.Errorf("ListAssessments scan: %w", err)
		}
		e.IsShadow = isShadow == 1
		e.FailedOpen = failedOpen == 1
		events = append(events, e)
	}
	return events, int(total), rows.Err()
}

// Schema is the DDL for the assessment_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS assessment_events (
	request_id             String,
	tenant_id              LowCardinality(String),
	session_key            String,
	timestamp              DateTime64(3),
	tool_name              LowCardinality(String),
	params_preview         String,
	stage                  LowCardinality(String),
	action                 LowCardinality(String),
	is_shadow              UInt8,
	failed_open            UInt8,
	reason                 String,
	severity               LowCardinality(String),
	reversibility          LowCardinality(String),
	risk_score             Float32,
	user_interest_score    Float32,
	consequence_types      Array(LowCardinality(String)),
	consequence_severities Array(LowCardinality(String)),
	violated_constraints   Array(String),
	intent_source          LowCardinality(String),
	prediction_source      LowCardinality(String),
	decision_source        LowCardinality(String),
	latency_ms             Float32
) ENGINE = MergeTree
ORDER BY (tenant_id, timestamp)
TTL toDateTime(timestamp) + INTERVAL 90 DAY`

// Migrate creates the assessment_events table if it does not exist.
func Migrate(ctx context.Context, conn driver.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}
