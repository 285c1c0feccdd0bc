package messagepipeline

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-rowpublisher/pkg/types"
)

// Transport is the client capability the publisher drives. Implementations
// exist for Kafka, Google Pub/Sub and MQTT.
type Transport interface {
	// Send hands one message to the transport. A nil error means the message
	// was accepted and onResult will be invoked exactly once, possibly from
	// another goroutine. A non-nil error means onResult will never be invoked.
	Send(ctx context.Context, msg types.OutboundMessage, onResult types.DeliveryCallback) error
	// Flush blocks until every accepted send has been confirmed or ctx ends.
	Flush(ctx context.Context) error
	// Pending returns the number of accepted sends still awaiting confirmation.
	Pending() int
	// Close flushes outstanding sends and releases the transport's resources.
	Close() error
}

// inflight counts accepted sends that have not yet been confirmed. Every
// transport routes its delivery callbacks through it, which is what makes
// Flush a barrier.
type inflight struct {
	mu      sync.Mutex
	pending int
	idle    chan struct{} // closed while pending == 0
}

func newInflight() *inflight {
	idle := make(chan struct{})
	close(idle)
	return &inflight{idle: idle}
}

// track registers one send. The returned callback invokes cb at most once and
// then releases the send; release drops the send without invoking cb, for
// messages the transport refused.
func (f *inflight) track(cb types.DeliveryCallback) (confirm types.DeliveryCallback, release func()) {
	f.mu.Lock()
	if f.pending == 0 {
		f.idle = make(chan struct{})
	}
	f.pending++
	f.mu.Unlock()

	var once sync.Once
	confirm = func(report types.DeliveryReport) {
		once.Do(func() {
			if cb != nil {
				cb(report)
			}
			f.done()
		})
	}
	release = func() {
		once.Do(f.done)
	}
	return confirm, release
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending--
	if f.pending == 0 {
		close(f.idle)
	}
}

func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	idle := f.idle
	f.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *inflight) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}
