package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/SteelMorgan/logship/internal/clickhouse"
	"github.com/SteelMorgan/logship/internal/domain"
	"github.com/SteelMorgan/logship/internal/observability"
	"github.com/SteelMorgan/logship/internal/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ClickHouse DateTime64 valid range: 1925-01-01 to 2283-11-11
var (
	minClickHouseDateTime = time.Date(1925, 1, 1, 0, 0, 0, 0, time.UTC)
	maxClickHouseDateTime = time.Date(2283, 11, 11, 23, 59, 59, 999999999, time.UTC)
)

const createTableQuery = `CREATE TABLE IF NOT EXISTS %s (
	batch_id     UUID,
	capture_time DateTime64(9, 'UTC'),
	event_time   Nullable(DateTime64(9, 'UTC')),
	source       LowCardinality(String),
	line_no      UInt32,
	message      String,
	labels       Map(String, String),
	record_hash  String
) ENGINE = MergeTree
ORDER BY (source, capture_time, batch_id, line_no)`

// agentLogRow is one row of the agent_logs table
type agentLogRow struct {
	BatchID     uuid.UUID
	CaptureTime time.Time
	EventTime   *time.Time
	Source      string
	LineNo      uint32
	Message     string
	Labels      map[string]string
	RecordHash  string
}

// ClickHousePublisher inserts batches into a ClickHouse table
type ClickHousePublisher struct {
	client   *clickhouse.Client
	table    string
	retryCfg retry.Config
}

// NewClickHousePublisher connects using the server DSN and creates the table if needed
func NewClickHousePublisher(ctx context.Context, opts Options) (*ClickHousePublisher, error) {
	client, err := clickhouse.NewClient(ctx, opts.Server, opts.Retry)
	if err != nil {
		return nil, err
	}

	table := opts.Table
	if table == "" {
		table = "agent_logs"
	}
	if db := client.Database(); db != "" {
		table = db + "." + table
	}

	if err := client.Exec(ctx, fmt.Sprintf(createTableQuery, table)); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	return &ClickHousePublisher{
		client:   client,
		table:    table,
		retryCfg: opts.Retry,
	}, nil
}

// Publish inserts batch in one ClickHouse batch, retrying the whole insert on transient errors
func (p *ClickHousePublisher) Publish(ctx context.Context, batch *domain.LogBatch) error {
	batchID := uuid.New()
	ctx, span := observability.StartSpan(ctx, "publish.clickhouse", observability.BatchAttributes(batchID.String(), batch)...)

	// CRITICAL: rows are built once so every retry inserts identical data
	rows := buildRows(batchID, batch)
	err := retry.Do(ctx, p.retryCfg, func() error {
		return clickhouse.Classify(p.insert(ctx, rows))
	})
	observability.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("failed to insert batch %s: %w", batchID, err)
	}

	log.Debug().
		Str("batch_id", batchID.String()).
		Str("table", p.table).
		Int("rows", len(rows)).
		Msg("Batch inserted into ClickHouse")

	return nil
}

func (p *ClickHousePublisher) insert(ctx context.Context, rows []agentLogRow) error {
	batch, err := p.client.PrepareBatch(ctx, "INSERT INTO "+p.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, row := range rows {
		if err := batch.Append(
			row.BatchID,
			row.CaptureTime,
			row.EventTime,
			row.Source,
			row.LineNo,
			row.Message,
			row.Labels,
			row.RecordHash,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Close closes the connection
func (p *ClickHousePublisher) Close() error {
	return p.client.Close()
}

func buildRows(batchID uuid.UUID, batch *domain.LogBatch) []agentLogRow {
	captured := ensureValidDateTime(time.Unix(0, int64(batch.SystemTimeNanoseconds)).UTC())
	labels := batch.Labels
	if labels == nil {
		labels = map[string]string{}
	}

	rows := make([]agentLogRow, 0, len(batch.Logs))
	for i, entry := range batch.Logs {
		rows = append(rows, agentLogRow{
			BatchID:     batchID,
			CaptureTime: captured,
			EventTime:   eventTime(entry),
			Source:      batch.Source,
			LineNo:      uint32(i),
			Message:     entry.Message,
			Labels:      labels,
			RecordHash:  recordHash(batch.Source, batch.Labels, entry),
		})
	}
	return rows
}

// ensureValidDateTime ensures the time value is within ClickHouse DateTime64 range
// Returns the input time if valid, or minClickHouseDateTime if out of range or zero
func ensureValidDateTime(t time.Time) time.Time {
	if t.IsZero() || t.Before(minClickHouseDateTime) || t.After(maxClickHouseDateTime) {
		return minClickHouseDateTime
	}
	return t
}

// eventTime converts the parsed line timestamp, dropping values ClickHouse cannot store
func eventTime(entry domain.LogEntry) *time.Time {
	if entry.TimestampNanos == nil {
		return nil
	}
	t := time.Unix(0, *entry.TimestampNanos).UTC()
	if t.Before(minClickHouseDateTime) || t.After(maxClickHouseDateTime) {
		return nil
	}
	return &t
}
