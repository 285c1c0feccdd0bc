package types_test

import (
	"errors"
	"math"
	"testing"

	"github.com/illmade-knight/go-rowpublisher/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_MarshalJSON_PreservesColumnOrder(t *testing.T) {
	rec := types.NewRecord(0, 3)
	rec.Set("VendorID", int32(2))
	rec.Set("tpep_pickup_datetime", "2024-01-01 00:57:55")
	rec.Set("fare_amount", 17.7)
	rec.Set("store_and_fwd_flag", nil)

	data, err := rec.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"VendorID":2,"tpep_pickup_datetime":"2024-01-01 00:57:55","fare_amount":17.7,"store_and_fwd_flag":null}`, string(data))
}

func TestRecord_MarshalJSON_Empty(t *testing.T) {
	data, err := types.Record{}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestRecord_MarshalJSON_UnsupportedValue(t *testing.T) {
	rec := types.NewRecord(4, 1)
	rec.Set("tip_amount", math.NaN())

	_, err := rec.MarshalJSON()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "tip_amount"`)
}

func TestRecord_SetOverwriteKeepsPosition(t *testing.T) {
	rec := types.NewRecord(0, 2)
	rec.Set("a", 1)
	rec.Set("b", 2)
	rec.Set("a", 3)

	assert.Equal(t, []string{"a", "b"}, rec.Columns)
	v, ok := rec.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, 2, rec.Len())
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	rec := types.NewRecord(7, 1)
	rec.Set("a", 1)

	c := rec.Clone()
	c.Set("a", "changed")
	c.Set("b", true)

	v, _ := rec.Get("a")
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, rec.Len())
	assert.Equal(t, 7, c.Index)
}

func TestDeliveryReport_String(t *testing.T) {
	ok := types.DeliveryReport{Topic: "yellow-taxi", Key: "3", Partition: 1, Offset: 42}
	assert.True(t, ok.Succeeded())
	assert.Equal(t, "Record 3 successfully sent to yellow-taxi [1] at offset 42", ok.String())

	failed := types.DeliveryReport{Key: "4", Err: errors.New("broker down")}
	assert.False(t, failed.Succeeded())
	assert.Equal(t, "Delivery failed for record 4: broker down", failed.String())
}
