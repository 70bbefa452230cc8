package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for run lifecycle events.
const (
	EventTypeRunStarted   = "run.started"
	EventTypeRunCompleted = "run.completed"
	EventTypeRunFailed    = "run.failed"
)

// RunEvent represents a run lifecycle event published to the event bus.
type RunEvent struct {
	EventID       string
	EventVersion  int
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// NewRunEvent creates a new run event with the given parameters.
// The payload is JSON-serialized automatically.
func NewRunEvent(eventType, aggregateID string, payload interface{}) (*RunEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &RunEvent{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		AggregateID:   aggregateID,
		AggregateType: "aggregation_run",
		EventType:     eventType,
		Payload:       payloadBytes,
		CreatedAt:     time.Now(),
	}, nil
}

// RunStartedPayload is the payload for run.started events.
type RunStartedPayload struct {
	RunID   uuid.UUID    `json:"run_id"`
	Query   string       `json:"query,omitempty"`
	Sources []SourceName `json:"sources"`
}

// RunCompletedPayload is the payload for run.completed events.
type RunCompletedPayload struct {
	RunID            uuid.UUID     `json:"run_id"`
	PaperCount       int           `json:"paper_count"`
	IngestedTotal    int           `json:"ingested_total"`
	ParseFailures    int           `json:"parse_failures"`
	MeanQualityScore float64       `json:"mean_quality_score"`
	BelowThreshold   bool          `json:"below_threshold"`
	Duration         time.Duration `json:"duration_ns"`
}

// RunFailedPayload is the payload for run.failed events.
type RunFailedPayload struct {
	RunID uuid.UUID `json:"run_id"`
	Error string    `json:"error"`
	Phase string    `json:"phase"`
}
