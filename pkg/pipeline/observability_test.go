package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/approval"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/observability"
)

func TestExecuteOpensSpanPerPass(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	cfg := observability.DefaultConfig()
	cfg.SpanExporter = exporter
	obs, err := observability.New(context.Background(), cfg)
	require.NoError(t, err)

	k := newKernel(t, approval.Policy{})
	k.pipeline.WithObservability(obs)
	mustRegister(t, k, "PLAY_EMOTE", contracts.RiskReadOnly, false, "")

	res := k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "PLAY_EMOTE", Params: map[string]any{"emote": "wave"},
		Source: contracts.SourceLLM, RequestID: "r-obs",
	}, okHandler("ok"))
	require.True(t, res.Success)

	// Flush before reading: InMemoryExporter.Shutdown clears stored spans,
	// so spans must be collected before the provider is shut down.
	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	require.True(t, ok)
	require.NoError(t, tp.ForceFlush(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "pipeline.execute", spans[0].Name)
	require.NoError(t, obs.Shutdown(context.Background()))
}
