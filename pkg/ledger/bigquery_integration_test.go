//go:build integration

package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/helpers/emulators"
	"github.com/illmade-knight/go-rowpublisher/pkg/ledger"
	"github.com/illmade-knight/go-rowpublisher/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
)

func TestBigQueryLedger_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	logger := zerolog.New(zerolog.NewTestWriter(t))

	cfg := ledger.BigQueryConfig{ProjectID: "rowpublisher-it", DatasetID: "rowpublisher", TableID: "deliveries"}
	// Only the dataset is created; the inserter creates the table itself.
	conn := emulators.SetupBigQueryEmulator(t, ctx, emulators.GetDefaultBigQueryConfig(cfg.ProjectID,
		map[string]string{cfg.DatasetID: cfg.TableID}, nil))

	client, err := ledger.NewBigQueryClient(ctx, cfg, logger, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	inserter, err := ledger.NewBigQueryInserter(ctx, client, cfg, logger)
	require.NoError(t, err)

	writer, err := ledger.NewBatchWriter(ledger.BatchWriterConfig{BatchSize: 10, FlushInterval: time.Second}, inserter, "it-run", logger)
	require.NoError(t, err)
	writer.Start()
	writer.ObserveDelivery(types.DeliveryReport{Topic: "yellow-taxi", Key: "0", Index: 0, Partition: 0, Offset: 12})
	writer.ObserveDelivery(types.DeliveryReport{Topic: "yellow-taxi", Key: "1", Index: 1, Partition: -1, Offset: -1, Err: errors.New("message too large")})
	writer.Stop()

	it := client.Dataset(cfg.DatasetID).Table(cfg.TableID).Read(ctx)
	var rows []ledger.DeliveryRow
	for {
		var row ledger.DeliveryRow
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
	require.Len(t, rows, 2)

	statuses := map[string]string{}
	for _, row := range rows {
		assert.Equal(t, "it-run", row.RunID)
		statuses[row.MessageKey] = row.Status
	}
	assert.Equal(t, ledger.StatusDelivered, statuses["0"])
	assert.Equal(t, ledger.StatusFailed, statuses["1"])
}
