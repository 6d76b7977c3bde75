package events

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Topic carries every storefront event; messages are keyed by buyer id so
// one buyer's events stay ordered within a partition.
const Topic = "storefront-events"

// OutboxSource is the store surface the poller reads from.
type OutboxSource interface {
	UnprocessedEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkEventProcessed(ctx context.Context, id int64) error
}

// Writer is the kafka producer surface, satisfied by *kafka.Writer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Poller drains the outbox to kafka. A row is marked processed only after a
// successful write, so delivery is at-least-once and consumers must
// de-duplicate on event id.
type Poller struct {
	tick   time.Duration
	batch  int
	source OutboxSource
	writer Writer
	logger *slog.Logger
}

func NewPoller(source OutboxSource, logger *slog.Logger, brokers ...string) *Poller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &Poller{
		tick:   time.Second,
		batch:  100,
		source: source,
		writer: w,
		logger: logger,
	}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.drain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the kafka producer.
func (p *Poller) Close() error {
	if c, ok := p.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (p *Poller) drain(ctx context.Context) {
	events, err := p.source.UnprocessedEvents(ctx, p.batch)
	if err != nil {
		p.logger.Error("fetch outbox events", "error", err)
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.logger.Error("publish outbox event", "event_id", event.ID, "error", err)
			continue
		}
		if err := p.source.MarkEventProcessed(ctx, event.ID); err != nil {
			p.logger.Error("mark outbox event processed", "event_id", event.ID, "error", err)
			continue
		}
	}
}

func (p *Poller) publish(ctx context.Context, event OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
