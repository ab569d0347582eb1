package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracer_Disabled(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{
		ServiceName: "test",
		Enabled:     false,
	})
	require.NoError(t, err)
	require.NotNil(t, tracer)

	ctx, span := tracer.StartSpan(context.Background(), "op")
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
	span.End()

	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestNewTracer_EnabledNoEndpoint(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{
		ServiceName:  "test",
		Enabled:      true,
		SamplingRate: 1.0,
	})
	require.NoError(t, err)
	require.NotNil(t, tracer)

	_, span := tracer.StartSpan(context.Background(), "op")
	span.End()

	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestCreateSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rate float64
		want string
	}{
		{name: "always", rate: 1.0, want: "AlwaysOnSampler"},
		{name: "above one", rate: 2.0, want: "AlwaysOnSampler"},
		{name: "never", rate: 0, want: "AlwaysOffSampler"},
		{name: "negative", rate: -1, want: "AlwaysOffSampler"},
		{name: "ratio", rate: 0.5, want: "TraceIDRatioBased{0.5}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sampler := createSampler(tt.rate)
			assert.Equal(t, tt.want, sampler.Description())
		})
	}
}

func TestBuildRetryConfig(t *testing.T) {
	t.Parallel()

	t.Run("nil uses defaults", func(t *testing.T) {
		t.Parallel()

		got := buildRetryConfig(nil)
		assert.True(t, got.Enabled)
		assert.Equal(t, DefaultOTLPRetryInitialInterval, got.InitialInterval)
		assert.Equal(t, DefaultOTLPRetryMaxInterval, got.MaxInterval)
		assert.Equal(t, DefaultOTLPRetryMaxElapsedTime, got.MaxElapsedTime)
	})

	t.Run("zero values filled with defaults", func(t *testing.T) {
		t.Parallel()

		got := buildRetryConfig(&OTLPRetryConfig{Enabled: true})
		assert.True(t, got.Enabled)
		assert.Equal(t, DefaultOTLPRetryInitialInterval, got.InitialInterval)
		assert.Equal(t, DefaultOTLPRetryMaxInterval, got.MaxInterval)
		assert.Equal(t, DefaultOTLPRetryMaxElapsedTime, got.MaxElapsedTime)
	})

	t.Run("custom values preserved", func(t *testing.T) {
		t.Parallel()

		got := buildRetryConfig(&OTLPRetryConfig{
			Enabled:         true,
			InitialInterval: 2 * time.Second,
			MaxInterval:     10 * time.Second,
			MaxElapsedTime:  30 * time.Second,
		})
		assert.Equal(t, 2*time.Second, got.InitialInterval)
		assert.Equal(t, 10*time.Second, got.MaxInterval)
		assert.Equal(t, 30*time.Second, got.MaxElapsedTime)
	})
}

func TestContextWithSpanIdentifiers_NoopSpan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	span := SpanFromContext(ctx)

	got := ContextWithSpanIdentifiers(ctx, span)

	assert.Empty(t, TraceIDFromContext(got))
	assert.Empty(t, SpanIDFromContext(got))
}
