package events

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/telemetry"
)

// Writer is the subset of *kafka.Writer the relay needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Source yields and acknowledges outbox records.
type Source interface {
	FetchUnpublished(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, ids []int64) error
}

// RelayConfig tunes polling.
type RelayConfig struct {
	PollEvery time.Duration
	BatchSize int
}

// Relay moves committed outbox rows to Kafka. Delivery is at-least-once: a
// batch is marked published only after the broker acknowledged it.
type Relay struct {
	tx     db.TxRunner
	source Source
	writer Writer
	logger zerolog.Logger
	cfg    RelayConfig
}

func NewRelay(tx db.TxRunner, source Source, writer Writer, logger zerolog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Relay{tx: tx, source: source, writer: writer, logger: logger, cfg: cfg}
}

// Run polls until ctx is cancelled. Failures are logged and retried on the
// next tick.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info().Dur("poll_every", r.cfg.PollEvery).Int("batch_size", r.cfg.BatchSize).Msg("outbox relay started")

	ticker := time.NewTicker(r.cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopped")
			return
		case <-ticker.C:
			n, err := r.PublishBatch(ctx)
			if err != nil {
				r.logger.Error().Err(err).Msg("outbox publish failed")
				continue
			}
			if n > 0 {
				r.logger.Debug().Int("count", n).Msg("outbox batch published")
			}
		}
	}
}

// PublishBatch delivers one batch and returns how many events were sent.
func (r *Relay) PublishBatch(ctx context.Context) (int, error) {
	var sent int
	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		records, err := r.source.FetchUnpublished(ctx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		msgs := make([]kafka.Message, 0, len(records))
		ids := make([]int64, 0, len(records))
		for _, rec := range records {
			msgCtx := telemetry.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
			msg := kafka.Message{
				Topic: rec.EventType,
				Key:   []byte(rec.AggregateID),
				Value: rec.Payload,
				Headers: []kafka.Header{
					{Key: "event_id", Value: []byte(rec.EventID)},
					{Key: "event_type", Value: []byte(rec.EventType)},
					{Key: "aggregate_type", Value: []byte(rec.AggregateType)},
				},
			}
			msg.Headers = InjectTraceHeaders(msgCtx, msg.Headers)
			msgs = append(msgs, msg)
			ids = append(ids, rec.ID)
		}

		if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("write %d messages: %w", len(msgs), err)
		}
		if err := r.source.MarkPublished(ctx, ids); err != nil {
			return err
		}
		sent = len(msgs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, nil
}
