package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// Roles are capability bundles, not class hierarchies. Implementations
// are substituted at construction; tests use in-memory doubles.

// Planner turns an orchestrated request into an execution plan. At most
// one plan is active at a time; CreatePlan preempts the previous.
type Planner interface {
	CreatePlan(ctx context.Context, req *contracts.OrchestratedRequest) (*contracts.ExecutionPlan, error)
	ValidatePlan(plan *contracts.ExecutionPlan) (bool, []string)
	GetActivePlan() *contracts.ExecutionPlan
	CancelPlan(reason string) error
}

// Executor runs one step through the execution pipeline.
type Executor interface {
	Execute(ctx context.Context, call *contracts.ProposedToolCall) *contracts.PipelineResult
}

// Memory write actions.
const (
	MemoryAllow      = "allow"
	MemoryQuarantine = "quarantine"
	MemoryReject     = "reject"
)

// MemoryCandidate is one step output offered to the memory writer.
type MemoryCandidate struct {
	RequestID string
	Source    string
	Trust     float64
	Content   any
}

// MemoryDecision is the writer's verdict on one candidate.
type MemoryDecision struct {
	Action     string
	TrustScore float64
	Reason     string
}

// MemoryWriter decides which step outputs become durable memory.
type MemoryWriter interface {
	Write(ctx context.Context, cand *MemoryCandidate) (*MemoryDecision, error)
	WriteBatch(ctx context.Context, cands []*MemoryCandidate) (*contracts.MemoryReport, error)
}

// Auditor reviews a window of anomalies and executions for drift.
type Auditor interface {
	Audit(ctx context.Context, window *AuditWindow) (*contracts.AuditReport, error)
}

// AuditWindow is the material the auditor sees for one orchestration.
type AuditWindow struct {
	Plan       *contracts.ExecutionPlan
	Executions []contracts.PipelineResult
	Anomalies  []contracts.Anomaly
}

// SequentialPlanner is the built-in planner: one step per requested
// goal description, no tool fan-out. Real deployments substitute a
// model-backed planner behind the same interface.
type SequentialPlanner struct {
	mu     sync.Mutex
	active *contracts.ExecutionPlan

	// StepsFor maps a request to plan steps; required.
	StepsFor func(req *contracts.OrchestratedRequest) []contracts.PlanStep
	clock    func() time.Time
}

func NewSequentialPlanner(stepsFor func(req *contracts.OrchestratedRequest) []contracts.PlanStep) *SequentialPlanner {
	return &SequentialPlanner{StepsFor: stepsFor, clock: time.Now}
}

func (p *SequentialPlanner) CreatePlan(_ context.Context, req *contracts.OrchestratedRequest) (*contracts.ExecutionPlan, error) {
	if p.StepsFor == nil {
		return nil, fmt.Errorf("planner has no step source")
	}
	steps := p.StepsFor(req)
	if len(steps) == 0 {
		return nil, fmt.Errorf("no steps derivable from request %q", req.Description)
	}

	plan := &contracts.ExecutionPlan{
		ID:        uuid.New().String(),
		Goals:     req.GoalIDs,
		Steps:     steps,
		CreatedAt: p.clock(),
		Status:    contracts.PlanPending,
	}

	p.mu.Lock()
	p.active = plan
	p.mu.Unlock()
	return plan, nil
}

func (p *SequentialPlanner) ValidatePlan(plan *contracts.ExecutionPlan) (bool, []string) {
	issues := ValidatePlanGraph(plan)
	return len(issues) == 0, issues
}

func (p *SequentialPlanner) GetActivePlan() *contracts.ExecutionPlan {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *SequentialPlanner) CancelPlan(reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return fmt.Errorf("no active plan")
	}
	p.active.Status = contracts.PlanCancelled
	p.active = nil
	_ = reason
	return nil
}

// TrustMemoryWriter is the built-in rule-based memory writer: allow
// above the high watermark, quarantine in the band below it, reject
// the rest and anything empty.
type TrustMemoryWriter struct {
	AllowAt      float64
	QuarantineAt float64
}

func NewTrustMemoryWriter() *TrustMemoryWriter {
	return &TrustMemoryWriter{AllowAt: 0.7, QuarantineAt: 0.4}
}

func (w *TrustMemoryWriter) Write(_ context.Context, cand *MemoryCandidate) (*MemoryDecision, error) {
	if cand == nil || cand.Content == nil {
		return &MemoryDecision{Action: MemoryReject, Reason: "empty candidate"}, nil
	}
	switch {
	case cand.Trust >= w.AllowAt:
		return &MemoryDecision{Action: MemoryAllow, TrustScore: cand.Trust}, nil
	case cand.Trust >= w.QuarantineAt:
		return &MemoryDecision{Action: MemoryQuarantine, TrustScore: cand.Trust, Reason: "trust below allow watermark"}, nil
	default:
		return &MemoryDecision{Action: MemoryReject, TrustScore: cand.Trust, Reason: "untrusted source"}, nil
	}
}

func (w *TrustMemoryWriter) WriteBatch(ctx context.Context, cands []*MemoryCandidate) (*contracts.MemoryReport, error) {
	report := &contracts.MemoryReport{Total: len(cands)}
	for _, c := range cands {
		d, err := w.Write(ctx, c)
		if err != nil {
			return report, err
		}
		switch d.Action {
		case MemoryAllow:
			report.Allowed++
		case MemoryQuarantine:
			report.Quarantined++
		default:
			report.Rejected++
		}
	}
	return report, nil
}

// ThresholdAuditor is the built-in auditor: drift is the failure rate
// over the window, anomalies pass through, and recommendations fire on
// simple thresholds.
type ThresholdAuditor struct {
	DriftAlert float64
}

func NewThresholdAuditor() *ThresholdAuditor {
	return &ThresholdAuditor{DriftAlert: 0.5}
}

func (a *ThresholdAuditor) Audit(_ context.Context, window *AuditWindow) (*contracts.AuditReport, error) {
	report := &contracts.AuditReport{Anomalies: window.Anomalies}

	if n := len(window.Executions); n > 0 {
		failed := 0
		var signals []string
		for _, exec := range window.Executions {
			if !exec.Success {
				failed++
				signals = append(signals, fmt.Sprintf("%s: %s", exec.ToolName, exec.Error))
			}
		}
		report.Drift = contracts.DriftReport{
			Score:   float64(failed) / float64(n),
			Signals: signals,
		}
	}

	if report.Drift.Score >= a.DriftAlert {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("failure rate %.2f over window; review tool contracts: %s",
				report.Drift.Score, strings.Join(report.Drift.Signals, "; ")))
	}
	if len(window.Anomalies) > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%d anomalies recorded this window", len(window.Anomalies)))
	}
	return report, nil
}
