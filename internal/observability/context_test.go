package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	t.Run("stores and retrieves request ID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithRequestID(ctx, "req-123")

		result := RequestIDFromContext(ctx)
		assert.Equal(t, "req-123", result)
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		ctx := context.Background()
		result := RequestIDFromContext(ctx)
		assert.Equal(t, "", result)
	})
}

func TestRunIDContext(t *testing.T) {
	t.Run("stores and retrieves run ID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithRunID(ctx, "run-456")

		result := RunIDFromContext(ctx)
		assert.Equal(t, "run-456", result)
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		ctx := context.Background()
		result := RunIDFromContext(ctx)
		assert.Equal(t, "", result)
	})
}

func TestTraceSpanContext(t *testing.T) {
	t.Run("stores and retrieves trace and span IDs", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithTraceSpan(ctx, "trace-abc", "span-xyz")

		traceID, spanID := TraceSpanFromContext(ctx)
		assert.Equal(t, "trace-abc", traceID)
		assert.Equal(t, "span-xyz", spanID)
	})

	t.Run("returns empty strings when not set", func(t *testing.T) {
		ctx := context.Background()
		traceID, spanID := TraceSpanFromContext(ctx)
		assert.Equal(t, "", traceID)
		assert.Equal(t, "", spanID)
	})
}

func TestRunContextFull(t *testing.T) {
	t.Run("stores and retrieves full run context", func(t *testing.T) {
		ctx := context.Background()
		rc := RunContext{
			RequestID: "req-123",
			RunID:     "run-456",
			TraceID:   "trace-abc",
			SpanID:    "span-xyz",
		}

		ctx = WithRunContextFull(ctx, rc)
		result := RunContextFromContext(ctx)

		assert.Equal(t, rc.RequestID, result.RequestID)
		assert.Equal(t, rc.RunID, result.RunID)
		assert.Equal(t, rc.TraceID, result.TraceID)
		assert.Equal(t, rc.SpanID, result.SpanID)
	})

	t.Run("handles partial context", func(t *testing.T) {
		ctx := context.Background()
		rc := RunContext{
			RequestID: "req-only",
		}

		ctx = WithRunContextFull(ctx, rc)
		result := RunContextFromContext(ctx)

		assert.Equal(t, "req-only", result.RequestID)
		assert.Equal(t, "", result.RunID)
		assert.Equal(t, "", result.TraceID)
	})

	t.Run("returns empty context when nothing set", func(t *testing.T) {
		ctx := context.Background()
		result := RunContextFromContext(ctx)

		assert.Equal(t, RunContext{}, result)
	})
}

func TestContextChaining(t *testing.T) {
	ctx := context.Background()

	// Chain multiple context additions
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithTraceSpan(ctx, "trace-1", "span-1")

	// All values should be retrievable
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "run-1", RunIDFromContext(ctx))

	traceID, spanID := TraceSpanFromContext(ctx)
	assert.Equal(t, "trace-1", traceID)
	assert.Equal(t, "span-1", spanID)
}

func TestContextOverwrite(t *testing.T) {
	ctx := context.Background()

	// Set initial values
	ctx = WithRequestID(ctx, "req-1")

	// Overwrite with new values
	ctx = WithRequestID(ctx, "req-2")

	// Should have new value
	assert.Equal(t, "req-2", RequestIDFromContext(ctx))
}
