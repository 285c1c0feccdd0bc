package messagepipeline_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/types"
	"github.com/stretchr/testify/mock"
)

// ====================================================================================
// Fakes for the interfaces the RecordPublisher depends on.
// ====================================================================================

// --- MockTransport ---

// MockTransport records sends in order and confirms them asynchronously from
// its own goroutines, like a real broker client.
type MockTransport struct {
	mu           sync.Mutex
	cond         *sync.Cond
	sent         []types.OutboundMessage
	reports      []types.DeliveryReport
	pending      int
	flushes      int
	rejectKeys   map[string]error
	failKeys     map[string]error
	confirmDelay time.Duration
	holdConfirms bool
	held         []func()
	onSend       func(msg types.OutboundMessage)
	closed       bool
}

func NewMockTransport() *MockTransport {
	m := &MockTransport{
		rejectKeys: map[string]error{},
		failKeys:   map[string]error{},
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// RejectKey makes Send return err for the given key.
func (m *MockTransport) RejectKey(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectKeys[key] = err
}

// FailDelivery makes the delivery report for key carry err.
func (m *MockTransport) FailDelivery(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failKeys[key] = err
}

// SetConfirmDelay delays every confirmation.
func (m *MockTransport) SetConfirmDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmDelay = d
}

// HoldConfirms queues confirmations until ReleaseConfirms is called.
func (m *MockTransport) HoldConfirms() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holdConfirms = true
}

// ReleaseConfirms fires every held confirmation.
func (m *MockTransport) ReleaseConfirms() {
	m.mu.Lock()
	held := m.held
	m.held = nil
	m.holdConfirms = false
	m.mu.Unlock()
	for _, fire := range held {
		go fire()
	}
}

// OnSend registers a hook called synchronously for each accepted send.
func (m *MockTransport) OnSend(hook func(msg types.OutboundMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSend = hook
}

func (m *MockTransport) Send(_ context.Context, msg types.OutboundMessage, onResult types.DeliveryCallback) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("mock transport closed")
	}
	if err, ok := m.rejectKeys[msg.Key]; ok {
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, msg)
	m.pending++
	offset := int64(len(m.sent) - 1)
	report := types.DeliveryReport{Topic: msg.Topic, Key: msg.Key, Index: msg.Index, Partition: 0, Offset: offset, Err: m.failKeys[msg.Key]}
	delay := m.confirmDelay
	hook := m.onSend

	fire := func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		if onResult != nil {
			onResult(report)
		}
		m.mu.Lock()
		m.reports = append(m.reports, report)
		m.pending--
		m.cond.Broadcast()
		m.mu.Unlock()
	}
	if m.holdConfirms {
		m.held = append(m.held, fire)
	} else {
		go fire()
	}
	m.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return nil
}

func (m *MockTransport) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.mu.Lock()
		m.flushes++
		for m.pending > 0 {
			m.cond.Wait()
		}
		m.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockTransport) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Sent returns a copy of the accepted messages in send order.
func (m *MockTransport) Sent() []types.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// Reports returns a copy of the confirmations fired so far.
func (m *MockTransport) Reports() []types.DeliveryReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.DeliveryReport, len(m.reports))
	copy(out, m.reports)
	return out
}

// Flushes returns how many times Flush was called.
func (m *MockTransport) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// --- MockDeadLetterSink ---

type MockDeadLetterSink struct {
	mock.Mock
}

func (m *MockDeadLetterSink) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	args := m.Called(ctx, payload, attributes)
	return args.Error(0)
}

func (m *MockDeadLetterSink) Stop() {
	m.Called()
}

// --- recordingObserver ---

type recordingObserver struct {
	mu      sync.Mutex
	reports []types.DeliveryReport
}

func (o *recordingObserver) ObserveDelivery(report types.DeliveryReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, report)
}

func (o *recordingObserver) Reports() []types.DeliveryReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.DeliveryReport, len(o.reports))
	copy(out, o.reports)
	return out
}

// makeRecords builds records with a single column "a" holding the given values.
func makeRecords(values ...any) []types.Record {
	records := make([]types.Record, len(values))
	for i, v := range values {
		rec := types.NewRecord(i, 1)
		rec.Set("a", v)
		records[i] = rec
	}
	return records
}
