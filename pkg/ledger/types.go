package ledger

import (
	"context"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/types"
)

const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// DeliveryRow is one delivery report as stored in the ledger table.
type DeliveryRow struct {
	RunID       string    `bigquery:"run_id"`
	RecordIndex int64     `bigquery:"record_index"`
	MessageKey  string    `bigquery:"message_key"`
	Topic       string    `bigquery:"topic"`
	Partition   int64     `bigquery:"partition_id"`
	Offset      int64     `bigquery:"message_offset"`
	MessageID   string    `bigquery:"message_id"`
	Status      string    `bigquery:"status"`
	Error       string    `bigquery:"error"`
	Timestamp   time.Time `bigquery:"timestamp"`
}

// NewDeliveryRow converts a delivery report into a ledger row.
func NewDeliveryRow(runID string, report types.DeliveryReport, at time.Time) *DeliveryRow {
	row := &DeliveryRow{
		RunID:       runID,
		RecordIndex: int64(report.Index),
		MessageKey:  report.Key,
		Topic:       report.Topic,
		Partition:   int64(report.Partition),
		Offset:      report.Offset,
		MessageID:   report.MessageID,
		Status:      StatusDelivered,
		Timestamp:   at,
	}
	if report.Err != nil {
		row.Status = StatusFailed
		row.Error = report.Err.Error()
	}
	return row
}

// RowInserter abstracts the destination table of the ledger.
type RowInserter interface {
	InsertRows(ctx context.Context, rows []*DeliveryRow) error
	Close() error
}
