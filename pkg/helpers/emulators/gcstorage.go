package emulators

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"
)

const (
	testGCSEmulatorImage = "fsouza/fake-gcs-server:1.49"
	testGCSEmulatorPort  = "4443"
)

// GCSConfig describes a fake-gcs-server with one pre-created bucket.
type GCSConfig struct {
	GCImageContainer
	BaseBucket  string
	BaseStorage string
}

func GetDefaultGCSConfig(projectID, bucket string) GCSConfig {
	return GCSConfig{
		GCImageContainer: GCImageContainer{
			ImageContainer: ImageContainer{
				EmulatorImage:    testGCSEmulatorImage,
				EmulatorHTTPPort: testGCSEmulatorPort,
			},
			ProjectID:       projectID,
			SetEnvVariables: true,
		},
		BaseBucket:  bucket,
		BaseStorage: "/storage/v1/b",
	}
}

// SetupGCSEmulator starts the storage emulator and creates BaseBucket when set.
func SetupGCSEmulator(t *testing.T, ctx context.Context, cfg GCSConfig) EmulatorConnection {
	t.Helper()
	port := fmt.Sprintf("%s/tcp", cfg.EmulatorHTTPPort)
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{port},
		Cmd:          []string{"-scheme", "http", "-port", cfg.EmulatorHTTPPort},
		WaitingFor: wait.ForHTTP(cfg.BaseStorage).WithPort(nat.Port(port)).WithStatusCodeMatcher(
			func(status int) bool {
				return status > 0
			}).WithStartupTimeout(20 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	cleanupContainer(t, "gcs", container)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	endpoint := fmt.Sprintf("http://%s:%s/storage/v1/", host, mapped.Port())

	if cfg.SetEnvVariables {
		t.Setenv("STORAGE_EMULATOR_HOST", fmt.Sprintf("%s:%s", host, mapped.Port()))
	}
	conn := EmulatorConnection{
		Endpoint:      endpoint,
		ClientOptions: []option.ClientOption{option.WithoutAuthentication(), option.WithEndpoint(endpoint)},
	}

	if cfg.BaseBucket != "" {
		client := GetStorageClient(t, ctx, cfg, conn.ClientOptions)
		require.NoError(t, client.Bucket(cfg.BaseBucket).Create(ctx, cfg.ProjectID, nil))
	}
	return conn
}

// GetStorageClient returns a client bound to the emulator and closed on cleanup.
func GetStorageClient(t *testing.T, ctx context.Context, _ GCSConfig, opts []option.ClientOption) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(ctx, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
