// Kernel-specific semantic convention attributes.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	AttrTool      = attribute.Key("kernel.tool.name")
	AttrRiskClass = attribute.Key("kernel.tool.risk_class")
	AttrRequestID = attribute.Key("kernel.request.id")
	AttrSource    = attribute.Key("kernel.request.source")
	AttrState     = attribute.Key("kernel.fsm.state")
	AttrReason    = attribute.Key("kernel.failure.reason")
	AttrPlanID    = attribute.Key("kernel.plan.id")
	AttrStepID    = attribute.Key("kernel.plan.step_id")
)

// ToolExecution builds the attribute set for one pipeline pass.
func ToolExecution(tool, riskClass, requestID, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTool.String(tool),
		AttrRiskClass.String(riskClass),
		AttrRequestID.String(requestID),
		AttrSource.String(source),
	}
}

// PlanStep builds the attribute set for one orchestrated step.
func PlanStep(planID, stepID, tool string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPlanID.String(planID),
		AttrStepID.String(stepID),
		AttrTool.String(tool),
	}
}

// AddSpanEvent attaches an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanError records err on the current span when non-nil.
func SetSpanError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
