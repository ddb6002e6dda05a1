// Package pipeline composes validation, approval gating, execution,
// verification, invariant checking, and compensation into the single
// mediated path a tool call takes through the kernel.
//
// Execute never propagates a panic or an error across its boundary; the
// outcome is always a structured PipelineResult.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/approval"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/compensation"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/eventlog"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/fsm"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/observability"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/registry"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/schema"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/verify"
)

// ActionHandler performs the actual tool side effect. It is supplied
// per call and runs under the contract's timeout.
type ActionHandler func(ctx context.Context, toolName string, params map[string]any, requestID string) (any, error)

// Admitter gates admission by risk class; wired from safemode.
type Admitter interface {
	Admit(rc contracts.RiskClass) error
}

const DefaultExecutionTimeout = 30 * time.Second

type Options struct {
	DefaultExecutionTimeout time.Duration
}

// Pipeline mediates tool calls. All fields are set at construction;
// Execute is safe for concurrent use from distinct request contexts.
type Pipeline struct {
	// execMu is the execution slot: phases from the FSM transition into
	// executing through the terminal transition are serialized so that
	// concurrent passes interleave only at suspension points (approval,
	// never mid-execution). Validation and approval run outside it.
	execMu sync.Mutex

	registry      registry.Registry
	validator     *schema.Validator
	gate          *approval.Gate
	store         eventlog.Store
	verifier      *verify.Verifier
	checker       *verify.Checker
	compensations *compensation.Registry
	machine       *fsm.Machine
	admitter      Admitter
	obs           *observability.Provider
	logger        *slog.Logger
	opts          Options
}

func New(
	reg registry.Registry,
	validator *schema.Validator,
	gate *approval.Gate,
	store eventlog.Store,
	verifier *verify.Verifier,
	checker *verify.Checker,
	compensations *compensation.Registry,
	machine *fsm.Machine,
	logger *slog.Logger,
	opts Options,
) *Pipeline {
	if opts.DefaultExecutionTimeout <= 0 {
		opts.DefaultExecutionTimeout = DefaultExecutionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry:      reg,
		validator:     validator,
		gate:          gate,
		store:         store,
		verifier:      verifier,
		checker:       checker,
		compensations: compensations,
		machine:       machine,
		logger:        logger,
		opts:          opts,
	}
}

// WithAdmitter attaches a safe-mode admission check.
func (p *Pipeline) WithAdmitter(a Admitter) *Pipeline {
	p.admitter = a
	return p
}

// WithObservability opens a span and records metrics for every pass.
func (p *Pipeline) WithObservability(obs *observability.Provider) *Pipeline {
	p.obs = obs
	return p
}

// Execute runs one proposed call end to end.
func (p *Pipeline) Execute(ctx context.Context, call *contracts.ProposedToolCall, handler ActionHandler) (res *contracts.PipelineResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline panic", "requestId", call.RequestID, "panic", r)
			p.recoverFSM()
			res = &contracts.PipelineResult{
				RequestID:  call.RequestID,
				ToolName:   call.Tool,
				Success:    false,
				Error:      fmt.Sprintf("internal error: %v", r),
				DurationMs: time.Since(start).Milliseconds(),
			}
		}
		if res != nil {
			res.DurationMs = time.Since(start).Milliseconds()
		}
	}()

	res = &contracts.PipelineResult{RequestID: call.RequestID, ToolName: call.Tool}

	if p.obs != nil {
		var done func(error)
		ctx, done = p.obs.TrackExecution(ctx, "pipeline.execute",
			observability.AttrTool.String(call.Tool),
			observability.AttrRequestID.String(call.RequestID),
			observability.AttrSource.String(call.Source),
		)
		defer func() {
			if res != nil && res.Error != "" {
				done(errors.New(res.Error))
				return
			}
			done(nil)
		}()
	}

	// Phase 1: propose.
	p.append(ctx, call, contracts.EventToolProposed, map[string]any{
		"tool":   call.Tool,
		"source": call.Source,
		"params": call.Params,
	})

	// Phase 2: validate. An invalid call never leaves idle.
	validation := p.validator.Validate(call)
	res.Validation = validation
	p.append(ctx, call, contracts.EventToolValidated, map[string]any{
		"valid":            validation.Valid,
		"errors":           validation.Errors,
		"riskClass":        string(validation.RiskClass),
		"requiresApproval": validation.RequiresApproval,
	})
	if !validation.Valid {
		p.appendFailed(ctx, call, "validation_error", contracts.ErrValidationFailed)
		res.Error = contracts.ErrValidationFailed
		return res
	}

	// Safe-mode admission, before any suspension or side effect.
	if p.admitter != nil {
		if err := p.admitter.Admit(validation.RiskClass); err != nil {
			p.appendFailed(ctx, call, "safe_mode", err.Error())
			res.Error = contracts.ErrSafeModeActive
			return res
		}
	}

	// Phase 3: approval. Auto-approval is decided before suspension and
	// appends no approval events.
	approvalID := ""
	if validation.RequiresApproval {
		if p.gate.AutoDecision(call.Source, validation.RiskClass) {
			res.Approval = &contracts.ApprovalOutcome{
				Required:  true,
				Decision:  contracts.DecisionApproved,
				DecidedBy: "auto",
				Auto:      true,
			}
		} else {
			req := p.gate.Create(call.Tool, validation.RiskClass, call.Params)
			approvalID = req.ID
			p.append(ctx, call, contracts.EventApprovalRequested, map[string]any{
				"approvalId": req.ID,
				"toolName":   call.Tool,
				"riskClass":  string(validation.RiskClass),
				"expiresAt":  req.ExpiresAt.UTC().Format(time.RFC3339Nano),
			})

			out, err := p.gate.Await(ctx, req.ID)
			if err != nil {
				p.appendFailed(ctx, call, "approval_error", err.Error())
				res.Error = contracts.ErrApprovalDenied
				return res
			}
			p.append(ctx, call, contracts.EventApprovalResolved, map[string]any{
				"approvalId": req.ID,
				"decision":   string(out.Decision),
				"decidedBy":  out.DecidedBy,
				"reason":     out.Reason,
			})
			res.Approval = &contracts.ApprovalOutcome{
				Required:  true,
				Decision:  out.Decision,
				DecidedBy: out.DecidedBy,
			}
			if out.Decision != contracts.DecisionApproved {
				p.appendFailed(ctx, call, "approval_denied", contracts.ErrApprovalDenied)
				res.Error = contracts.ErrApprovalDenied
				return res
			}
		}
	} else {
		res.Approval = &contracts.ApprovalOutcome{Required: false}
	}

	// Phase 4: take the execution slot and transition to executing.
	p.execMu.Lock()
	defer p.execMu.Unlock()

	// Safe mode may have escalated while this pass was suspended.
	if p.admitter != nil {
		if err := p.admitter.Admit(validation.RiskClass); err != nil {
			p.appendFailed(ctx, call, "safe_mode", err.Error())
			res.Error = contracts.ErrSafeModeActive
			return res
		}
	}

	if err := p.machine.Fire(fsm.TriggerToolValidated); err != nil {
		p.appendFailed(ctx, call, "state_error", err.Error())
		res.Error = err.Error()
		return res
	}

	// Phase 5: execute under the contract's timeout.
	p.append(ctx, call, contracts.EventToolExecuting, map[string]any{
		"tool":   call.Tool,
		"params": validation.ValidatedParams,
	})

	execStart := time.Now()
	result, execErr, timedOut := p.runHandler(ctx, call, validation.ValidatedParams, handler)
	execMs := time.Since(execStart).Milliseconds()

	executedPayload := map[string]any{"durationMs": execMs}
	if execErr != nil {
		executedPayload["error"] = execErr.Error()
	} else {
		executedPayload["result"] = result
	}
	p.append(ctx, call, contracts.EventToolExecuted, executedPayload)

	if execErr != nil {
		reason := "execution_error"
		if timedOut {
			reason = "timeout"
		}
		// Side effects may have landed; undo them when the tool has a
		// compensation. An unregistered tool is not an incident here,
		// unlike on the critical-verification path.
		if p.compensations.Has(call.Tool) {
			res.Compensation = p.compensate(ctx, call, validation.ValidatedParams, result)
		}
		p.appendFailed(ctx, call, reason, execErr.Error())
		p.fire(fsm.TriggerFatalError)
		p.fire(fsm.TriggerRecover)
		res.Error = execErr.Error()
		return res
	}
	res.Result = result

	// Phase 6: transition to verifying.
	p.fire(fsm.TriggerExecutionComplete)

	// Phase 7: post-conditions.
	verification := p.verifier.Verify(ctx, &verify.CheckContext{
		ToolName:  call.Tool,
		RequestID: call.RequestID,
		Params:    validation.ValidatedParams,
		Result:    result,
	})
	res.Verification = verification
	p.append(ctx, call, contracts.EventToolVerified, map[string]any{
		"status":             verification.Status,
		"hasCriticalFailure": verification.HasCriticalFailure,
		"checks":             verification.Checks,
	})

	// Phase 8: invariants. Both reports are collected before deciding,
	// so a single compensation attempt covers whichever went critical.
	invariants := p.checker.Check(ctx, &verify.InvariantContext{
		State:            string(p.machine.Current()),
		PendingApprovals: p.gate.PendingCount(),
		EventCount:       p.store.Size(),
		RequestID:        call.RequestID,
		Success:          !verification.HasCriticalFailure,
		ApprovalID:       approvalID,
	})
	res.Invariants = invariants
	p.append(ctx, call, contracts.EventInvariantsChecked, map[string]any{
		"status":               invariants.Status,
		"hasCriticalViolation": invariants.HasCriticalViolation,
		"checks":               invariants.Checks,
	})

	if verification.HasCriticalFailure || invariants.HasCriticalViolation {
		res.Compensation = p.compensate(ctx, call, validation.ValidatedParams, result)
		reason := "verification_failure"
		errMsg := "Verification failed"
		if !verification.HasCriticalFailure {
			reason = "invariant_violation"
			errMsg = "Invariant violation"
		}
		p.appendFailed(ctx, call, reason, errMsg)
		p.fire(fsm.TriggerVerificationFailed)
		p.fire(fsm.TriggerRecover)
		res.Error = errMsg
		return res
	}

	// Phase 9: success.
	p.fire(fsm.TriggerVerificationPassed)
	p.append(ctx, call, contracts.EventDecisionLogged, map[string]any{
		"success":            true,
		"toolName":           call.Tool,
		"riskClass":          string(validation.RiskClass),
		"approvalRequired":   res.Approval.Required,
		"verificationStatus": verification.Status,
		"invariantStatus":    invariants.Status,
		"durationMs":         execMs,
	})
	res.Success = true
	return res
}

// runHandler invokes the action handler in its own goroutine so a
// timeout cannot leave the pipeline blocked, and a panic inside the
// handler becomes an execution error.
func (p *Pipeline) runHandler(ctx context.Context, call *contracts.ProposedToolCall, params map[string]any, handler ActionHandler) (result any, err error, timedOut bool) {
	timeout := p.opts.DefaultExecutionTimeout
	if contract, cerr := p.registry.Get(call.Tool); cerr == nil && contract.TimeoutMs > 0 {
		timeout = time.Duration(contract.TimeoutMs) * time.Millisecond
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		out, herr := handler(hctx, call.Tool, params, call.RequestID)
		ch <- outcome{result: out, err: herr}
	}()

	select {
	case out := <-ch:
		return out.result, out.err, false
	case <-hctx.Done():
		return nil, fmt.Errorf("execution timed out after %s", timeout), true
	}
}

// compensate runs the tool's compensation handler and appends the
// outcome; a failed or missing compensation opens an incident. Called
// at most once per pass.
func (p *Pipeline) compensate(ctx context.Context, call *contracts.ProposedToolCall, params map[string]any, result any) *contracts.CompensationResult {
	comp := p.compensations.Compensate(ctx, call.Tool, params, result)
	p.append(ctx, call, contracts.EventToolCompensated, map[string]any{
		"attempted": comp.Attempted,
		"success":   comp.Success,
		"detail":    comp.Detail,
	})
	if !comp.Success {
		p.append(ctx, call, contracts.EventCompensationIncident, map[string]any{
			"toolName": call.Tool,
			"detail":   comp.Detail,
		})
	}
	return &comp
}

func (p *Pipeline) append(ctx context.Context, call *contracts.ProposedToolCall, eventType string, payload map[string]any) {
	if _, err := p.store.Append(ctx, call.RequestID, eventType, payload, call.CorrelationID); err != nil {
		p.logger.Error("event append failed",
			"requestId", call.RequestID, "type", eventType, "error", err)
	}
}

func (p *Pipeline) appendFailed(ctx context.Context, call *contracts.ProposedToolCall, reason, detail string) {
	p.append(ctx, call, contracts.EventToolFailed, map[string]any{
		"reason": reason,
		"error":  detail,
	})
}

// fire logs and swallows illegal-transition errors; the pipeline has
// already decided its outcome when these fire.
func (p *Pipeline) fire(trigger fsm.Trigger) {
	if err := p.machine.Fire(trigger); err != nil {
		p.logger.Error("fsm transition failed", "trigger", string(trigger), "error", err)
	}
}

// recoverFSM drives the machine back to idle after an internal error.
func (p *Pipeline) recoverFSM() {
	switch p.machine.Current() {
	case fsm.StateExecuting:
		p.fire(fsm.TriggerFatalError)
		p.fire(fsm.TriggerRecover)
	case fsm.StateVerifying:
		p.fire(fsm.TriggerVerificationFailed)
		p.fire(fsm.TriggerRecover)
	case fsm.StateError:
		p.fire(fsm.TriggerRecover)
	}
}
