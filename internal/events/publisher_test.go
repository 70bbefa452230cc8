package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidlab/study-aggregation-service/internal/config"
	"github.com/evidlab/study-aggregation-service/internal/domain"
)

// captureWriter records messages instead of sending them.
type captureWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func newTestPublisher(writer kafkaWriter) *Publisher {
	return &Publisher{
		writer:  writer,
		enabled: true,
		logger:  zerolog.Nop(),
	}
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestPublishRunStarted(t *testing.T) {
	t.Parallel()

	writer := &captureWriter{}
	pub := newTestPublisher(writer)

	run := domain.NewAggregationRun("heart failure", domain.DefaultRunConfiguration())
	require.NoError(t, pub.PublishRunStarted(context.Background(), run))

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, run.ID.String(), string(msg.Key))
	assert.Equal(t, domain.EventTypeRunStarted, headerValue(msg, "event_type"))
	assert.Equal(t, "aggregation_run", headerValue(msg, "aggregate_type"))
	assert.NotEmpty(t, headerValue(msg, "event_id"))

	var payload domain.RunStartedPayload
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, run.ID, payload.RunID)
	assert.Equal(t, "heart failure", payload.Query)
	assert.NotEmpty(t, payload.Sources)
}

func TestPublishRunCompleted(t *testing.T) {
	t.Parallel()

	writer := &captureWriter{}
	pub := newTestPublisher(writer)

	run := domain.NewAggregationRun("", domain.DefaultRunConfiguration())
	run.PaperCount = 7
	run.IngestedTotal = 10
	run.ParseFailures = 2
	run.MeanQualityScore = 85.5

	require.NoError(t, pub.PublishRunCompleted(context.Background(), run, 3*time.Second))

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, domain.EventTypeRunCompleted, headerValue(msg, "event_type"))

	var payload domain.RunCompletedPayload
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, 7, payload.PaperCount)
	assert.Equal(t, 10, payload.IngestedTotal)
	assert.Equal(t, 2, payload.ParseFailures)
	assert.InDelta(t, 85.5, payload.MeanQualityScore, 0.001)
	assert.False(t, payload.BelowThreshold)
	assert.Equal(t, 3*time.Second, payload.Duration)
}

func TestPublishRunFailed(t *testing.T) {
	t.Parallel()

	writer := &captureWriter{}
	pub := newTestPublisher(writer)

	run := domain.NewAggregationRun("q", domain.DefaultRunConfiguration())
	require.NoError(t, pub.PublishRunFailed(context.Background(), run, "ingest", errors.New("source unavailable")))

	require.Len(t, writer.messages, 1)
	var payload domain.RunFailedPayload
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &payload))
	assert.Equal(t, "ingest", payload.Phase)
	assert.Equal(t, "source unavailable", payload.Error)
}

func TestPublishWriteError(t *testing.T) {
	t.Parallel()

	writer := &captureWriter{err: errors.New("broker unreachable")}
	pub := newTestPublisher(writer)

	run := domain.NewAggregationRun("q", domain.DefaultRunConfiguration())
	err := pub.PublishRunStarted(context.Background(), run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run.started")
}

func TestDisabledPublisherIsNoOp(t *testing.T) {
	t.Parallel()

	pub := NewPublisher(config.KafkaConfig{Enabled: false}, zerolog.Nop())
	run := domain.NewAggregationRun("q", domain.DefaultRunConfiguration())

	assert.NoError(t, pub.PublishRunStarted(context.Background(), run))
	assert.NoError(t, pub.PublishRunCompleted(context.Background(), run, time.Second))
	assert.NoError(t, pub.PublishRunFailed(context.Background(), run, "ingest", errors.New("x")))
	assert.NoError(t, pub.Close())
}

func TestCloseClosesWriter(t *testing.T) {
	t.Parallel()

	writer := &captureWriter{}
	pub := newTestPublisher(writer)
	require.NoError(t, pub.Close())
	assert.True(t, writer.closed)
}
