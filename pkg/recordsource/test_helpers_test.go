package recordsource_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/recordsource"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
)

// taxiTrip mirrors a subset of the yellow taxi trip schema.
type taxiTrip struct {
	VendorID       int32     `parquet:"VendorID"`
	PickupTime     time.Time `parquet:"tpep_pickup_datetime"`
	DropoffTime    time.Time `parquet:"tpep_dropoff_datetime"`
	PassengerCount *int64    `parquet:"passenger_count,optional"`
	TripDistance   float64   `parquet:"trip_distance"`
	StoreAndFwd    string    `parquet:"store_and_fwd_flag"`
}

func sampleTrips() []taxiTrip {
	one := int64(1)
	base := time.Date(2024, 1, 1, 0, 57, 55, 0, time.UTC)
	return []taxiTrip{
		{VendorID: 2, PickupTime: base, DropoffTime: base.Add(17 * time.Minute), PassengerCount: &one, TripDistance: 1.72, StoreAndFwd: "N"},
		{VendorID: 1, PickupTime: base.Add(time.Hour), DropoffTime: base.Add(time.Hour + 5*time.Minute), PassengerCount: nil, TripDistance: 0.5, StoreAndFwd: "Y"},
		{VendorID: 2, PickupTime: base.Add(2 * time.Hour), DropoffTime: base.Add(2*time.Hour + time.Minute), PassengerCount: &one, TripDistance: 3.1, StoreAndFwd: "N"},
	}
}

func writeParquet(t *testing.T, trips []taxiTrip) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, parquet.Write(&buf, trips))
	return buf.Bytes()
}

func writeRows[T any](t *testing.T, rows []T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, parquet.Write(&buf, rows))
	return buf.Bytes()
}

// --- fake GCS client ---

type fakeGCSClient struct {
	objects map[string][]byte
	openErr error
}

func (c *fakeGCSClient) Bucket(name string) recordsource.GCSBucketHandle {
	return &fakeBucket{client: c, name: name}
}

type fakeBucket struct {
	client *fakeGCSClient
	name   string
}

func (b *fakeBucket) Object(name string) recordsource.GCSObjectHandle {
	return &fakeObject{bucket: b, name: name}
}

type fakeObject struct {
	bucket *fakeBucket
	name   string
}

func (o *fakeObject) NewReader(_ context.Context) (io.ReadCloser, error) {
	if o.bucket.client.openErr != nil {
		return nil, o.bucket.client.openErr
	}
	data, ok := o.bucket.client.objects[o.bucket.name+"/"+o.name]
	if !ok {
		return nil, errors.New("storage: object doesn't exist")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// stubOpener returns fixed content for any path.
type stubOpener struct {
	data []byte
	err  error
}

func (s stubOpener) Open(_ context.Context, _ string) ([]byte, error) {
	return s.data, s.err
}
