package orchestrator

import (
	"context"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/pipeline"
)

// PipelineExecutor adapts the execution pipeline to the Executor role.
// The action handler resolves tool names to their actual side effects
// and is fixed at construction.
type PipelineExecutor struct {
	Pipeline *pipeline.Pipeline
	Handler  pipeline.ActionHandler
}

func NewPipelineExecutor(p *pipeline.Pipeline, handler pipeline.ActionHandler) *PipelineExecutor {
	return &PipelineExecutor{Pipeline: p, Handler: handler}
}

func (e *PipelineExecutor) Execute(ctx context.Context, call *contracts.ProposedToolCall) *contracts.PipelineResult {
	return e.Pipeline.Execute(ctx, call, e.Handler)
}
