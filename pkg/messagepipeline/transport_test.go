package messagepipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInflight_WaitBlocksUntilConfirmed(t *testing.T) {
	f := newInflight()
	require.NoError(t, f.wait(context.Background()), "an idle tracker does not block")

	var calls atomic.Int32
	confirm, _ := f.track(func(types.DeliveryReport) { calls.Add(1) })
	assert.Equal(t, 1, f.count())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.wait(ctx), context.DeadlineExceeded)

	go func() {
		time.Sleep(5 * time.Millisecond)
		confirm(types.DeliveryReport{Key: "0"})
	}()
	require.NoError(t, f.wait(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, f.count())
}

func TestInflight_ConfirmFiresOnce(t *testing.T) {
	f := newInflight()
	var calls atomic.Int32
	confirm, release := f.track(func(types.DeliveryReport) { calls.Add(1) })

	confirm(types.DeliveryReport{})
	confirm(types.DeliveryReport{})
	release()

	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, f.count())
}

func TestInflight_ReleaseSkipsCallback(t *testing.T) {
	f := newInflight()
	var calls atomic.Int32
	_, release := f.track(func(types.DeliveryReport) { calls.Add(1) })
	release()

	assert.Zero(t, calls.Load())
	require.NoError(t, f.wait(context.Background()))
}

func TestInflight_ReusableAfterIdle(t *testing.T) {
	f := newInflight()
	for i := 0; i < 3; i++ {
		confirm, _ := f.track(nil)
		assert.Equal(t, 1, f.count())
		confirm(types.DeliveryReport{})
		require.NoError(t, f.wait(context.Background()))
	}
}
