// Package events publishes run lifecycle events to Kafka so downstream
// consumers can react to aggregation runs starting and finishing.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/evidlab/study-aggregation-service/internal/config"
	"github.com/evidlab/study-aggregation-service/internal/domain"
)

// Publisher sends run lifecycle events to a Kafka topic. When publishing
// is disabled via configuration every method is a no-op, which lets the
// rest of the service treat the publisher as always present.
type Publisher struct {
	writer  kafkaWriter
	enabled bool
	logger  zerolog.Logger
}

// kafkaWriter abstracts *kafka.Writer for testing.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewPublisher creates a Publisher from Kafka configuration.
func NewPublisher(cfg config.KafkaConfig, logger zerolog.Logger) *Publisher {
	log := logger.With().Str("component", "event_publisher").Logger()

	if !cfg.Enabled {
		log.Info().Msg("kafka publishing disabled")
		return &Publisher{enabled: false, logger: log}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("kafka publisher initialized")

	return &Publisher{
		writer:  writer,
		enabled: true,
		logger:  log,
	}
}

// Publish writes a single run event. The message key is the aggregate ID
// so all events for one run land on the same partition in order.
func (p *Publisher) Publish(ctx context.Context, event *domain.RunEvent) error {
	if !p.enabled {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_version", Value: []byte(fmt.Sprintf("%d", event.EventVersion))},
			{Key: "aggregate_type", Value: []byte(event.AggregateType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event for run %s: %w", event.EventType, event.AggregateID, err)
	}

	p.logger.Debug().
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Str("run_id", event.AggregateID).
		Msg("published run event")

	return nil
}

// PublishRunStarted emits a run.started event.
func (p *Publisher) PublishRunStarted(ctx context.Context, run *domain.AggregationRun) error {
	if !p.enabled {
		return nil
	}

	event, err := domain.NewRunEvent(domain.EventTypeRunStarted, run.ID.String(), domain.RunStartedPayload{
		RunID:   run.ID,
		Query:   run.Query,
		Sources: run.Configuration.Sources,
	})
	if err != nil {
		return fmt.Errorf("build run.started event: %w", err)
	}
	return p.Publish(ctx, event)
}

// PublishRunCompleted emits a run.completed event with the final counts.
func (p *Publisher) PublishRunCompleted(ctx context.Context, run *domain.AggregationRun, duration time.Duration) error {
	if !p.enabled {
		return nil
	}

	event, err := domain.NewRunEvent(domain.EventTypeRunCompleted, run.ID.String(), domain.RunCompletedPayload{
		RunID:            run.ID,
		PaperCount:       run.PaperCount,
		IngestedTotal:    run.IngestedTotal,
		ParseFailures:    run.ParseFailures,
		MeanQualityScore: run.MeanQualityScore,
		BelowThreshold:   run.BelowThreshold,
		Duration:         duration,
	})
	if err != nil {
		return fmt.Errorf("build run.completed event: %w", err)
	}
	return p.Publish(ctx, event)
}

// PublishRunFailed emits a run.failed event naming the pipeline phase
// that produced the error.
func (p *Publisher) PublishRunFailed(ctx context.Context, run *domain.AggregationRun, phase string, runErr error) error {
	if !p.enabled {
		return nil
	}

	event, err := domain.NewRunEvent(domain.EventTypeRunFailed, run.ID.String(), domain.RunFailedPayload{
		RunID: run.ID,
		Error: runErr.Error(),
		Phase: phase,
	})
	if err != nil {
		return fmt.Errorf("build run.failed event: %w", err)
	}
	return p.Publish(ctx, event)
}

// Close closes the underlying Kafka writer.
func (p *Publisher) Close() error {
	if !p.enabled || p.writer == nil {
		return nil
	}
	p.logger.Info().Msg("closing kafka publisher")
	return p.writer.Close()
}
