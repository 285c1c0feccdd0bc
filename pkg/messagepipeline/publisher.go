package messagepipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/types"
	"github.com/rs/zerolog"
)

// Serializer converts a record into the message payload.
type Serializer func(rec types.Record) ([]byte, error)

// JSONSerializer renders a record as a JSON object keyed by column name.
func JSONSerializer(rec types.Record) ([]byte, error) {
	return json.Marshal(rec)
}

// DeliveryObserver is notified of every delivery report of a run, after the
// publisher has logged it. Observers run on the transport's goroutine.
type DeliveryObserver interface {
	ObserveDelivery(report types.DeliveryReport)
}

// PublisherConfig holds configuration for the RecordPublisher.
type PublisherConfig struct {
	Topic string
	// FlushEvery is the number of sends between flushes. 1 confirms every record
	// before the next one is sent.
	FlushEvery int
	// FlushTimeout bounds each intermediate flush; zero waits without limit.
	FlushTimeout time.Duration
	// DrainTimeout bounds the final drain; zero waits without limit.
	DrainTimeout time.Duration
}

// DefaultPublisherConfig returns the synchronous per-record configuration.
func DefaultPublisherConfig(topic string) PublisherConfig {
	return PublisherConfig{
		Topic:        topic,
		FlushEvery:   1,
		FlushTimeout: 30 * time.Second,
	}
}

// RunSummary counts the outcome of one PublishAll call.
type RunSummary struct {
	Total             int
	Attempted         int
	Sent              int
	Delivered         int
	SerializeFailures int
	SendFailures      int
	DeliveryFailures  int
	Skipped           int
	Duration          time.Duration
}

// Failed returns the number of records that did not reach the transport or
// were reported undelivered.
func (s RunSummary) Failed() int {
	return s.SerializeFailures + s.SendFailures + s.DeliveryFailures
}

// PublisherOption customises a RecordPublisher.
type PublisherOption func(*RecordPublisher)

// WithSerializer replaces the JSON serializer.
func WithSerializer(s Serializer) PublisherOption {
	return func(p *RecordPublisher) {
		if s != nil {
			p.serializer = s
		}
	}
}

// WithDeadLetterSink routes failed records to sink.
func WithDeadLetterSink(sink DeadLetterSink) PublisherOption {
	return func(p *RecordPublisher) {
		p.deadLetters = sink
	}
}

// WithDeliveryObserver adds an observer of delivery reports.
func WithDeliveryObserver(o DeliveryObserver) PublisherOption {
	return func(p *RecordPublisher) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// RecordPublisher publishes an ordered record sequence through a Transport,
// one message per record, keyed by the record's position.
type RecordPublisher struct {
	transport   Transport
	cfg         PublisherConfig
	serializer  Serializer
	deadLetters DeadLetterSink
	observers   []DeliveryObserver
	logger      zerolog.Logger
}

// NewRecordPublisher creates a publisher. The transport is not closed by the publisher.
func NewRecordPublisher(transport Transport, cfg PublisherConfig, logger zerolog.Logger, opts ...PublisherOption) (*RecordPublisher, error) {
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic cannot be empty")
	}
	if cfg.FlushEvery <= 0 {
		logger.Warn().Int("flush_every", cfg.FlushEvery).Msg("FlushEvery was zero or negative, flushing after every record.")
		cfg.FlushEvery = 1
	}
	p := &RecordPublisher{
		transport:  transport,
		cfg:        cfg,
		serializer: JSONSerializer,
		logger:     logger.With().Str("component", "RecordPublisher").Str("topic", cfg.Topic).Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// runState is the bookkeeping shared between the publishing loop and the
// delivery callbacks of one run.
type runState struct {
	delivered atomic.Int64
	failed    atomic.Int64

	mu          sync.Mutex
	payloads    map[int][]byte // kept only while a dead-letter sink is configured
	undelivered []types.DeliveryReport
}

// PublishAll publishes every record exactly once, in order. Per-record
// failures are logged and counted but never stop the run. When ctx is
// cancelled no further records are sent; sends already issued are still
// drained, and ctx's error is returned with the summary. PublishAll returns
// only after every issued send has been confirmed, unless DrainTimeout expires.
func (p *RecordPublisher) PublishAll(ctx context.Context, records []types.Record) (RunSummary, error) {
	start := time.Now()
	summary := RunSummary{Total: len(records)}
	state := &runState{}
	if p.deadLetters != nil {
		state.payloads = make(map[int][]byte)
	}
	onResult := p.deliveryHandler(state)

	p.logger.Info().Int("record_count", len(records)).Int("flush_every", p.cfg.FlushEvery).Msg("Starting to publish records.")

	sinceFlush := 0
	for i, rec := range records {
		if ctx.Err() != nil {
			summary.Skipped = len(records) - i
			p.logger.Warn().Int("skipped", summary.Skipped).Int("next_index", i).Msg("Run cancelled, no further records will be sent.")
			break
		}
		summary.Attempted++
		key := strconv.Itoa(i)

		payload, err := p.serializer(rec)
		if err != nil {
			summary.SerializeFailures++
			p.recordFailed(ctx, &RecordError{Index: i, Key: key, Stage: StageSerialize, Err: fmt.Errorf("%w: %w", ErrSerialization, err)}, nil, rec)
			continue
		}

		if state.payloads != nil {
			state.mu.Lock()
			state.payloads[i] = payload
			state.mu.Unlock()
		}
		msg := types.OutboundMessage{Topic: p.cfg.Topic, Key: key, Value: payload, Index: i}
		if err := p.transport.Send(ctx, msg, onResult); err != nil {
			summary.SendFailures++
			p.forgetPayload(state, i)
			p.recordFailed(ctx, &RecordError{Index: i, Key: key, Stage: StageSend, Err: err}, payload, rec)
			continue
		}
		summary.Sent++

		sinceFlush++
		if sinceFlush >= p.cfg.FlushEvery {
			p.flush(ctx, key)
			p.deadLetterUndelivered(ctx, state)
			sinceFlush = 0
		}
	}

	drainErr := p.drain(ctx)
	p.deadLetterUndelivered(context.WithoutCancel(ctx), state)

	summary.Delivered = int(state.delivered.Load())
	summary.DeliveryFailures = int(state.failed.Load())
	summary.Duration = time.Since(start)

	p.logger.Info().
		Int("total", summary.Total).
		Int("sent", summary.Sent).
		Int("delivered", summary.Delivered).
		Int("failed", summary.Failed()).
		Int("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Msg("Finished sending records.")

	if drainErr != nil {
		return summary, drainErr
	}
	return summary, ctx.Err()
}

// deliveryHandler builds the callback passed with every send of a run.
func (p *RecordPublisher) deliveryHandler(state *runState) types.DeliveryCallback {
	return func(report types.DeliveryReport) {
		if report.Err != nil {
			state.failed.Add(1)
			p.logger.Error().Err(report.Err).
				Int("record_index", report.Index).
				Str("message_key", report.Key).
				Msg("Delivery failed for record.")
			if state.payloads != nil {
				state.mu.Lock()
				state.undelivered = append(state.undelivered, report)
				state.mu.Unlock()
			}
		} else {
			state.delivered.Add(1)
			p.forgetPayload(state, report.Index)
			p.logger.Info().
				Int("record_index", report.Index).
				Str("message_key", report.Key).
				Str("topic", report.Topic).
				Int("partition", report.Partition).
				Int64("offset", report.Offset).
				Str("message_id", report.MessageID).
				Msg("Record successfully sent.")
		}
		for _, o := range p.observers {
			o.ObserveDelivery(report)
		}
	}
}

// flush waits for the records sent so far. A timeout is logged, not fatal:
// the confirmations still arrive and are awaited by the final drain.
func (p *RecordPublisher) flush(ctx context.Context, lastKey string) {
	flushCtx := ctx
	if p.cfg.FlushTimeout > 0 {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(ctx, p.cfg.FlushTimeout)
		defer cancel()
	}
	if err := p.transport.Flush(flushCtx); err != nil {
		p.logger.Warn().Err(err).Str("message_key", lastKey).Int("pending", p.transport.Pending()).Msg("Flush did not complete.")
	}
}

// drain is the end-of-run barrier. It ignores cancellation of ctx so sends
// already issued are always awaited.
func (p *RecordPublisher) drain(ctx context.Context) error {
	drainCtx := context.WithoutCancel(ctx)
	if p.cfg.DrainTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(drainCtx, p.cfg.DrainTimeout)
		defer cancel()
	}
	if err := p.transport.Flush(drainCtx); err != nil {
		pending := p.transport.Pending()
		p.logger.Error().Err(err).Int("pending", pending).Msg("Final drain did not complete.")
		return fmt.Errorf("%w: %d sends unconfirmed: %w", ErrDrainIncomplete, pending, err)
	}
	return nil
}

func (p *RecordPublisher) forgetPayload(state *runState, index int) {
	if state.payloads == nil {
		return
	}
	state.mu.Lock()
	delete(state.payloads, index)
	state.mu.Unlock()
}

// recordFailed reports a serialization or send failure and dead-letters it.
func (p *RecordPublisher) recordFailed(ctx context.Context, recErr *RecordError, payload []byte, rec types.Record) {
	p.logger.Error().Err(recErr.Err).
		Int("record_index", recErr.Index).
		Str("message_key", recErr.Key).
		Str("stage", string(recErr.Stage)).
		Msg("Error sending record.")

	if p.deadLetters == nil {
		return
	}
	dl := DeadLetter{
		Index: recErr.Index,
		Key:   recErr.Key,
		Topic: p.cfg.Topic,
		Stage: recErr.Stage,
		Error: recErr.Err.Error(),
	}
	if payload != nil {
		dl.Record = payload
	} else {
		dl.Raw = fmt.Sprintf("%v", rec.Values)
	}
	p.publishDeadLetter(ctx, dl)
}

// deadLetterUndelivered dead-letters the records whose delivery failed since
// the last call. It runs on the publishing goroutine, never inside a callback.
func (p *RecordPublisher) deadLetterUndelivered(ctx context.Context, state *runState) {
	if p.deadLetters == nil {
		return
	}
	state.mu.Lock()
	reports := state.undelivered
	state.undelivered = nil
	payloads := make([][]byte, len(reports))
	for i, r := range reports {
		payloads[i] = state.payloads[r.Index]
		delete(state.payloads, r.Index)
	}
	state.mu.Unlock()

	for i, r := range reports {
		p.publishDeadLetter(ctx, DeadLetter{
			Index:  r.Index,
			Key:    r.Key,
			Topic:  p.cfg.Topic,
			Stage:  StageDelivery,
			Error:  r.Err.Error(),
			Record: payloads[i],
		})
	}
}

func (p *RecordPublisher) publishDeadLetter(ctx context.Context, dl DeadLetter) {
	data, err := json.Marshal(dl)
	if err != nil {
		p.logger.Error().Err(err).Int("record_index", dl.Index).Msg("Failed to marshal dead letter.")
		return
	}
	if err := p.deadLetters.Publish(context.WithoutCancel(ctx), data, dl.attributes()); err != nil {
		p.logger.Error().Err(err).Int("record_index", dl.Index).Msg("Failed to publish dead letter.")
	}
}
