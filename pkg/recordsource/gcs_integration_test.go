//go:build integration

package recordsource_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/helpers/emulators"
	"github.com/illmade-knight/go-rowpublisher/pkg/recordsource"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParquetSource_GCSIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	logger := zerolog.New(zerolog.NewTestWriter(t))

	const bucket, object = "taxi-data", "2024/yellow_tripdata_2024-01.parquet"
	gcsCfg := emulators.GetDefaultGCSConfig("rowpublisher-it", bucket)
	conn := emulators.SetupGCSEmulator(t, ctx, gcsCfg)
	client := emulators.GetStorageClient(t, ctx, gcsCfg, conn.ClientOptions)

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	_, err := w.Write(writeParquet(t, sampleTrips()))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	gcs, err := recordsource.NewGCSOpener(recordsource.NewGCSClientAdapter(client), logger)
	require.NoError(t, err)
	source, err := recordsource.NewParquetSource(recordsource.PathOpener{GCS: gcs}, recordsource.ParquetSourceConfig{
		Path:             "gs://" + bucket + "/" + object,
		TimestampColumns: recordsource.DefaultTimestampColumns,
	}, logger)
	require.NoError(t, err)

	records, err := source.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	pickup, _ := records[1].Get("tpep_pickup_datetime")
	assert.Equal(t, "2024-01-01 01:57:55", pickup)

	missing, err := recordsource.NewParquetSource(recordsource.PathOpener{GCS: gcs}, recordsource.ParquetSourceConfig{
		Path: "gs://" + bucket + "/missing.parquet",
	}, logger)
	require.NoError(t, err)
	_, err = missing.Load(ctx)
	assert.Error(t, err)
}
