package recordsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const gcsScheme = "gs://"

// Opener loads the raw bytes of a dataset. The whole file is read into memory:
// a columnar file cannot be decoded without random access to its footer.
type Opener interface {
	Open(ctx context.Context, path string) ([]byte, error)
}

// LocalOpener reads datasets from the local filesystem.
type LocalOpener struct{}

// Open reads the file at path.
func (LocalOpener) Open(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file '%s': %w", path, err)
	}
	return data, nil
}

// GCSOpener reads datasets addressed as gs://bucket/object.
type GCSOpener struct {
	client GCSClient
	logger zerolog.Logger
}

// NewGCSOpener creates an opener backed by the given GCS client.
func NewGCSOpener(client GCSClient, logger zerolog.Logger) (*GCSOpener, error) {
	if client == nil {
		return nil, errors.New("gcs client cannot be nil")
	}
	return &GCSOpener{
		client: client,
		logger: logger.With().Str("component", "GCSOpener").Logger(),
	}, nil
}

// Open downloads the object named by a gs:// path.
func (o *GCSOpener) Open(ctx context.Context, path string) ([]byte, error) {
	bucket, object, err := ParseGCSPath(path)
	if err != nil {
		return nil, err
	}
	r, err := o.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to download gs://%s/%s: %w", bucket, object, err)
	}
	o.logger.Info().Str("bucket", bucket).Str("object", object).Int("bytes", len(data)).Msg("Downloaded input object.")
	return data, nil
}

// PathOpener dispatches on the path: gs:// paths go to the GCS opener, anything
// else to the local filesystem. GCS may be nil when no storage client is configured.
type PathOpener struct {
	Local LocalOpener
	GCS   Opener
}

// Open implements Opener.
func (p PathOpener) Open(ctx context.Context, path string) ([]byte, error) {
	if IsGCSPath(path) {
		if p.GCS == nil {
			return nil, fmt.Errorf("input path '%s' requires a GCS client, none configured", path)
		}
		return p.GCS.Open(ctx, path)
	}
	return p.Local.Open(ctx, path)
}

// IsGCSPath reports whether path uses the gs:// scheme.
func IsGCSPath(path string) bool {
	return strings.HasPrefix(path, gcsScheme)
}

// ParseGCSPath splits gs://bucket/object into its bucket and object names.
func ParseGCSPath(path string) (bucket, object string, err error) {
	if !IsGCSPath(path) {
		return "", "", fmt.Errorf("not a gcs path: '%s'", path)
	}
	bucket, object, found := strings.Cut(strings.TrimPrefix(path, gcsScheme), "/")
	if !found || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gcs path '%s' must have the form gs://bucket/object", path)
	}
	return bucket, object, nil
}
