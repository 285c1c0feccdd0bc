package emulators

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"
)

const (
	bigQueryEmulatorImage = "ghcr.io/goccy/bigquery-emulator:0.6.6"
	bigQueryRESTPort      = "9050"
	bigQueryGRPCPort      = "9060"
)

// BigQueryConfig lists the datasets to create, each with one table id. A table
// is created only when Schemas registers a row type for it; otherwise creating
// it is left to the code under test.
type BigQueryConfig struct {
	GCImageContainer
	DatasetTables map[string]string
	Schemas       map[string]interface{}
}

func GetDefaultBigQueryConfig(projectID string, datasetTables map[string]string, schemas map[string]interface{}) BigQueryConfig {
	return BigQueryConfig{
		GCImageContainer: GCImageContainer{
			ImageContainer: ImageContainer{
				EmulatorImage:    bigQueryEmulatorImage,
				EmulatorHTTPPort: bigQueryRESTPort,
				EmulatorGRPCPort: bigQueryGRPCPort,
			},
			ProjectID: projectID,
		},
		DatasetTables: datasetTables,
		Schemas:       schemas,
	}
}

// SetupBigQueryEmulator starts goccy/bigquery-emulator and prepares the
// configured datasets. The returned options point a client at its REST API.
func SetupBigQueryEmulator(t *testing.T, ctx context.Context, cfg BigQueryConfig) EmulatorConnection {
	t.Helper()
	restPort := nat.Port(cfg.EmulatorHTTPPort + "/tcp")
	grpcPort := nat.Port(cfg.EmulatorGRPCPort + "/tcp")

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        cfg.EmulatorImage,
			ExposedPorts: []string{string(restPort), string(grpcPort)},
			Cmd: []string{
				"--project=" + cfg.ProjectID,
				"--port=" + cfg.EmulatorHTTPPort,
				"--grpc-port=" + cfg.EmulatorGRPCPort,
			},
			WaitingFor: wait.ForListeningPort(restPort).WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	cleanupContainer(t, "bigquery", container)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, restPort)
	require.NoError(t, err)

	conn := EmulatorConnection{Endpoint: fmt.Sprintf("http://%s:%s", host, mapped.Port())}
	conn.ClientOptions = []option.ClientOption{
		option.WithEndpoint(conn.Endpoint),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{}),
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, conn.ClientOptions...)
	require.NoError(t, err)
	defer client.Close()
	createDatasets(t, ctx, client, cfg)

	return conn
}

func createDatasets(t *testing.T, ctx context.Context, client *bigquery.Client, cfg BigQueryConfig) {
	t.Helper()
	ignoreExists := func(err error) {
		if err != nil && !strings.Contains(err.Error(), "Already Exists") {
			require.NoError(t, err)
		}
	}
	for datasetID, tableID := range cfg.DatasetTables {
		dataset := client.Dataset(datasetID)
		ignoreExists(dataset.Create(ctx, &bigquery.DatasetMetadata{Name: datasetID}))

		rowType, ok := cfg.Schemas[tableID]
		if !ok {
			continue
		}
		schema, err := bigquery.InferSchema(rowType)
		require.NoError(t, err)
		ignoreExists(dataset.Table(tableID).Create(ctx, &bigquery.TableMetadata{Name: tableID, Schema: schema}))
	}
}
