// Package orchestrator drives the Planner -> Executor -> MemoryWriter ->
// Auditor cycle over a shared kernel state machine, with role-call
// authorization, retries, and circuit breaking on every role boundary.
//
// Execute never propagates a panic or error; the outcome is always a
// structured OrchestratedResult.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/fsm"
)

// Authorization is the role-call admission policy.
type Authorization struct {
	MinSourceTrust float64
	AllowedSources []string
}

// AnomalyRecorder mirrors anomalies to a durable sink; wired from the
// audit logger. Optional.
type AnomalyRecorder interface {
	Record(kind, detail string)
}

// Orchestrator composes the roles. All dependencies are fixed at
// construction; Execute serializes orchestrations (one active plan).
type Orchestrator struct {
	mu sync.Mutex

	planner  Planner
	executor Executor
	memory   MemoryWriter
	auditor  Auditor
	machine  *fsm.Machine
	tools    ToolChecker

	authz    Authorization
	recorder AnomalyRecorder
	logger   *slog.Logger
	clock    func() time.Time

	plannerCalls *roleCaller
	memoryCalls  *roleCaller
	auditorCalls *roleCaller
}

func New(
	planner Planner,
	executor Executor,
	memory MemoryWriter,
	auditor Auditor,
	machine *fsm.Machine,
	authz Authorization,
	policy RoleCallPolicy,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		planner:      planner,
		executor:     executor,
		memory:       memory,
		auditor:      auditor,
		machine:      machine,
		authz:        authz,
		logger:       logger,
		clock:        time.Now,
		plannerCalls: newRoleCaller("planner", policy),
		memoryCalls:  newRoleCaller("memoryWriter", policy),
		auditorCalls: newRoleCaller("auditor", policy),
	}
}

// WithToolChecker enables unknown-tool detection during plan validation.
func (o *Orchestrator) WithToolChecker(tools ToolChecker) *Orchestrator {
	o.tools = tools
	return o
}

// WithAnomalyRecorder mirrors anomalies to the given sink.
func (o *Orchestrator) WithAnomalyRecorder(r AnomalyRecorder) *Orchestrator {
	o.recorder = r
	return o
}

// Execute runs one orchestrated request end to end.
func (o *Orchestrator) Execute(ctx context.Context, req *contracts.OrchestratedRequest) (res *contracts.OrchestratedResult) {
	start := o.clock()
	res = &contracts.OrchestratedResult{}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestrator panic", "panic", r)
			o.recordAnomaly(res, "internal_error", fmt.Sprintf("orchestrator panic: %v", r))
			o.settleFSM()
			res.Success = false
			res.Error = fmt.Sprintf("internal error: %v", r)
		}
		res.DurationMs = o.clock().Sub(start).Milliseconds()
	}()

	// Admission.
	if req == nil {
		o.recordAnomaly(res, "admission", "nil request")
		res.Error = "nil request"
		return res
	}
	if req.SourceTrust < 0 || req.SourceTrust > 1 {
		o.recordAnomaly(res, "admission", fmt.Sprintf("sourceTrust %v outside [0,1]", req.SourceTrust))
		res.Error = "sourceTrust out of range"
		return res
	}
	if req.AgentID == "" {
		o.recordAnomaly(res, "admission", "missing agent identity")
		res.Error = "missing agent identity"
		return res
	}
	if denied := o.authorize(req); denied != "" {
		o.recordAnomaly(res, "authorization", denied)
		res.Error = denied
		return res
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// Planning.
	o.fire(fsm.TriggerPlanRequested)
	planOut, err := o.plannerCalls.call(ctx, "createPlan", func(cctx context.Context) (any, error) {
		return o.planner.CreatePlan(cctx, req)
	})
	if err != nil {
		kind := "role_failure"
		if errors.Is(err, ErrCircuitOpen) {
			kind = "circuit_open"
		}
		o.recordAnomaly(res, kind, fmt.Sprintf("planner.createPlan: %v", err))
		o.fire(fsm.TriggerPlanApproved)
		res.Error = "planning failed"
		return res
	}
	plan := planOut.(*contracts.ExecutionPlan)
	res.Plan = plan

	issues := ValidatePlanGraph(plan)
	if o.tools != nil {
		issues = append(issues, ValidatePlanTools(plan, o.tools)...)
	}
	if ok, plannerIssues := o.planner.ValidatePlan(plan); !ok {
		issues = append(issues, plannerIssues...)
	}
	o.fire(fsm.TriggerPlanApproved)
	if len(issues) > 0 {
		for _, issue := range issues {
			o.recordAnomaly(res, "invalid_plan", issue)
		}
		plan.Status = contracts.PlanFailed
		res.Error = "plan rejected"
		return res
	}

	// Step execution in dependency order.
	steps, err := TopologicalSteps(plan)
	if err != nil {
		o.recordAnomaly(res, "invalid_plan", err.Error())
		plan.Status = contracts.PlanFailed
		res.Error = "plan rejected"
		return res
	}

	plan.Status = contracts.PlanExecuting
	allSucceeded := true
	criticalStop := false
	for _, step := range steps {
		exec := o.executor.Execute(ctx, &contracts.ProposedToolCall{
			Tool:          step.ToolName,
			Params:        step.Params,
			Source:        req.Source,
			RequestID:     fmt.Sprintf("%s:%s", plan.ID, step.ID),
			CorrelationID: req.CorrelationID,
		})
		res.Executions = append(res.Executions, *exec)
		if exec.Verification != nil {
			res.VerificationReports = append(res.VerificationReports, *exec.Verification)
		}
		if exec.Success {
			continue
		}
		allSucceeded = false
		if isCritical(exec) {
			o.recordAnomaly(res, "critical_step",
				fmt.Sprintf("step %s (%s): %s", step.ID, step.ToolName, exec.Error))
			criticalStop = true
			break
		}
		o.recordAnomaly(res, "step_failure",
			fmt.Sprintf("step %s (%s): %s", step.ID, step.ToolName, exec.Error))
	}

	// Memory write over step outputs. Failures are non-fatal; the audit
	// still runs.
	o.writeMemory(ctx, req, res)

	// Audit. Failures are non-fatal; the result carries an empty report.
	o.runAudit(ctx, plan, res)

	res.Success = allSucceeded && !criticalStop && !hasCriticalViolation(res)
	if res.Success {
		plan.Status = contracts.PlanComplete
	} else {
		plan.Status = contracts.PlanFailed
		if res.Error == "" {
			res.Error = "one or more steps failed"
		}
	}
	return res
}

func (o *Orchestrator) authorize(req *contracts.OrchestratedRequest) string {
	if req.SourceTrust < o.authz.MinSourceTrust {
		return fmt.Sprintf("Role call denied: planner.createPlan (source=%s, trust=%.2f below %.2f)",
			req.Source, req.SourceTrust, o.authz.MinSourceTrust)
	}
	if len(o.authz.AllowedSources) > 0 {
		allowed := false
		for _, s := range o.authz.AllowedSources {
			if s == req.Source {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Sprintf("Role call denied: planner.createPlan (source=%s not in allowed sources)", req.Source)
		}
	}
	return ""
}

func (o *Orchestrator) writeMemory(ctx context.Context, req *contracts.OrchestratedRequest, res *contracts.OrchestratedResult) {
	var cands []*MemoryCandidate
	for _, exec := range res.Executions {
		if !exec.Success {
			// Execution errors never write memory.
			continue
		}
		cands = append(cands, &MemoryCandidate{
			RequestID: exec.RequestID,
			Source:    req.Source,
			Trust:     req.SourceTrust,
			Content:   exec.Result,
		})
	}
	if len(cands) == 0 {
		res.MemoryReport = &contracts.MemoryReport{}
		return
	}

	entered := o.machine.Fire(fsm.TriggerWriteMemory) == nil
	out, err := o.memoryCalls.call(ctx, "writeBatch", func(cctx context.Context) (any, error) {
		return o.memory.WriteBatch(cctx, cands)
	})
	if entered {
		o.fire(fsm.TriggerMemoryWritten)
	}
	if err != nil {
		kind := "role_failure"
		if errors.Is(err, ErrCircuitOpen) {
			kind = "circuit_open"
		}
		o.recordAnomaly(res, kind, fmt.Sprintf("memoryWriter.writeBatch: %v", err))
		res.MemoryReport = &contracts.MemoryReport{Total: len(cands), Rejected: len(cands)}
		return
	}
	res.MemoryReport = out.(*contracts.MemoryReport)
}

func (o *Orchestrator) runAudit(ctx context.Context, plan *contracts.ExecutionPlan, res *contracts.OrchestratedResult) {
	entered := o.machine.Fire(fsm.TriggerAuditRequested) == nil
	out, err := o.auditorCalls.call(ctx, "audit", func(cctx context.Context) (any, error) {
		return o.auditor.Audit(cctx, &AuditWindow{
			Plan:       plan,
			Executions: res.Executions,
			Anomalies:  res.Anomalies,
		})
	})
	if entered {
		o.fire(fsm.TriggerAuditComplete)
	}
	if err != nil {
		kind := "role_failure"
		if errors.Is(err, ErrCircuitOpen) {
			kind = "circuit_open"
		}
		o.recordAnomaly(res, kind, fmt.Sprintf("auditor.audit: %v", err))
		res.AuditReport = &contracts.AuditReport{}
		return
	}
	res.AuditReport = out.(*contracts.AuditReport)
}

func (o *Orchestrator) recordAnomaly(res *contracts.OrchestratedResult, kind, detail string) {
	res.Anomalies = append(res.Anomalies, contracts.Anomaly{
		Kind:       kind,
		Detail:     detail,
		OccurredAt: o.clock(),
	})
	o.logger.Warn("anomaly", "kind", kind, "detail", detail)
	if o.recorder != nil {
		o.recorder.Record(kind, detail)
	}
}

func (o *Orchestrator) fire(trigger fsm.Trigger) {
	if err := o.machine.Fire(trigger); err != nil {
		o.logger.Error("fsm transition failed", "trigger", string(trigger), "error", err)
	}
}

// settleFSM drives the machine back to idle after an internal error.
func (o *Orchestrator) settleFSM() {
	switch o.machine.Current() {
	case fsm.StatePlanning:
		o.fire(fsm.TriggerPlanApproved)
	case fsm.StateWritingMemory:
		o.fire(fsm.TriggerMemoryWritten)
	case fsm.StateAuditing:
		o.fire(fsm.TriggerAuditComplete)
	case fsm.StateError:
		o.fire(fsm.TriggerRecover)
	}
}

func isCritical(exec *contracts.PipelineResult) bool {
	if exec.Verification != nil && exec.Verification.HasCriticalFailure {
		return true
	}
	if exec.Invariants != nil && exec.Invariants.HasCriticalViolation {
		return true
	}
	return exec.Error == contracts.ErrSafeModeActive
}

func hasCriticalViolation(res *contracts.OrchestratedResult) bool {
	for _, exec := range res.Executions {
		if exec.Invariants != nil && exec.Invariants.HasCriticalViolation {
			return true
		}
	}
	return false
}
