// Package approval implements the human-in-the-loop approval gate: the
// rendezvous point at which a pipeline execution pauses until an operator
// decides, the request expires, or an auto-approval rule matches.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// Policy is the auto-approval configuration, evaluated in order with
// first match winning:
//  1. the call source is in AutoApproveSources
//  2. AutoApproveReadOnly is set and the tool is read-only
//
// Irreversible tools can therefore only be auto-approved via an
// explicitly trusted source, never by the read-only rule.
type Policy struct {
	AutoApproveReadOnly bool
	AutoApproveSources  []string
	Timeout             time.Duration
}

const DefaultTimeout = 5 * time.Minute

// Outcome is the result of waiting on an approval request.
type Outcome struct {
	Decision  contracts.Decision
	DecidedBy string
	Reason    string
}

// TokenVerifier authenticates an operator token and returns its subject.
// Wired from pkg/identity; optional.
type TokenVerifier interface {
	VerifySubject(token string) (string, error)
}

type pendingEntry struct {
	req *contracts.ApprovalRequest
	ch  chan Outcome
}

// Gate holds pending approval requests and resolves them on decision or
// timeout. All pending-set mutations are serialized under one mutex.
type Gate struct {
	mu       sync.Mutex
	pending  map[string]*pendingEntry
	resolved map[string]*contracts.ApprovalRequest

	policy   Policy
	verifier TokenVerifier
	clock    func() time.Time
}

func NewGate(policy Policy) *Gate {
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultTimeout
	}
	return &Gate{
		pending:  make(map[string]*pendingEntry),
		resolved: make(map[string]*contracts.ApprovalRequest),
		policy:   policy,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// WithTokenVerifier requires signed operator tokens on ResolveSigned.
func (g *Gate) WithTokenVerifier(v TokenVerifier) *Gate {
	g.verifier = v
	return g
}

// AutoDecision evaluates the auto-approval policy for a call. It is
// decided before any request is created, so auto-approved calls never
// appear in the pending set.
func (g *Gate) AutoDecision(source string, rc contracts.RiskClass) bool {
	for _, s := range g.policy.AutoApproveSources {
		if s == source {
			return true
		}
	}
	if g.policy.AutoApproveReadOnly && rc == contracts.RiskReadOnly {
		return true
	}
	return false
}

// Create registers a pending approval request and returns it. The caller
// then suspends on Await.
func (g *Gate) Create(toolName string, rc contracts.RiskClass, payload map[string]any) *contracts.ApprovalRequest {
	now := g.clock()
	req := &contracts.ApprovalRequest{
		ID:          uuid.New().String(),
		ToolName:    toolName,
		RiskClass:   rc,
		CallPayload: payload,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.policy.Timeout),
	}

	g.mu.Lock()
	g.pending[req.ID] = &pendingEntry{req: req, ch: make(chan Outcome, 1)}
	g.mu.Unlock()
	return req
}

// Await suspends until the request is resolved, expires, or the context
// is cancelled. Cancellation yields denied with reason "cancelled".
func (g *Gate) Await(ctx context.Context, id string) (Outcome, error) {
	g.mu.Lock()
	entry, ok := g.pending[id]
	if !ok {
		if prior, done := g.resolved[id]; done {
			g.mu.Unlock()
			return Outcome{Decision: prior.Decision, DecidedBy: prior.DecidedBy, Reason: prior.Reason}, nil
		}
		g.mu.Unlock()
		return Outcome{}, fmt.Errorf("approval request %q not found", id)
	}
	expiresIn := entry.req.ExpiresAt.Sub(g.clock())
	g.mu.Unlock()

	timer := time.NewTimer(expiresIn)
	defer timer.Stop()

	select {
	case out := <-entry.ch:
		return out, nil
	case <-timer.C:
		return g.finalize(id, contracts.DecisionExpired, "system", "timeout"), nil
	case <-ctx.Done():
		return g.finalize(id, contracts.DecisionDenied, "system", "cancelled"), nil
	}
}

// Resolve decides a pending request. Resolving a terminal request is a
// no-op that returns the prior decision.
func (g *Gate) Resolve(id string, decision contracts.Decision, decidedBy string) (Outcome, error) {
	g.mu.Lock()
	if prior, ok := g.resolved[id]; ok {
		g.mu.Unlock()
		return Outcome{Decision: prior.Decision, DecidedBy: prior.DecidedBy, Reason: prior.Reason}, nil
	}
	entry, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return Outcome{}, fmt.Errorf("approval request %q not found", id)
	}

	// A decision arriving after the expiry instant resolves to expired,
	// regardless of what the caller asked for.
	now := g.clock()
	if now.After(entry.req.ExpiresAt) {
		decision = contracts.DecisionExpired
		decidedBy = "system"
	}

	out := g.finalizeLocked(entry, decision, decidedBy, "")
	g.mu.Unlock()
	return out, nil
}

// ResolveSigned authenticates the operator token before resolving. It is
// required when a token verifier is configured and the tool is
// irreversible.
func (g *Gate) ResolveSigned(id string, decision contracts.Decision, token string) (Outcome, error) {
	if g.verifier == nil {
		return Outcome{}, fmt.Errorf("no token verifier configured")
	}
	subject, err := g.verifier.VerifySubject(token)
	if err != nil {
		return Outcome{}, fmt.Errorf("operator token rejected: %w", err)
	}
	return g.Resolve(id, decision, subject)
}

func (g *Gate) finalize(id string, decision contracts.Decision, decidedBy, reason string) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prior, ok := g.resolved[id]; ok {
		return Outcome{Decision: prior.Decision, DecidedBy: prior.DecidedBy, Reason: prior.Reason}
	}
	entry, ok := g.pending[id]
	if !ok {
		return Outcome{Decision: decision, DecidedBy: decidedBy, Reason: reason}
	}
	return g.finalizeLocked(entry, decision, decidedBy, reason)
}

func (g *Gate) finalizeLocked(entry *pendingEntry, decision contracts.Decision, decidedBy, reason string) Outcome {
	req := entry.req
	req.Decision = decision
	req.DecidedBy = decidedBy
	req.DecidedAt = g.clock()
	req.Reason = reason

	delete(g.pending, req.ID)
	g.resolved[req.ID] = req

	out := Outcome{Decision: decision, DecidedBy: decidedBy, Reason: reason}
	// Buffered; never blocks even if nobody is awaiting.
	entry.ch <- out
	return out
}

// GetPending enumerates unresolved requests.
func (g *Gate) GetPending() []*contracts.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*contracts.ApprovalRequest, 0, len(g.pending))
	for _, e := range g.pending {
		cp := *e.req
		out = append(out, &cp)
	}
	return out
}

// PendingCount returns the number of unresolved requests.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Get returns a request (pending or terminal) by ID.
func (g *Gate) Get(id string) (*contracts.ApprovalRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.pending[id]; ok {
		cp := *e.req
		return &cp, nil
	}
	if r, ok := g.resolved[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, fmt.Errorf("approval request %q not found", id)
}

// CheckTimeouts expires any pending requests past their deadline. Await
// handles its own expiry; this sweep covers requests nobody awaits.
func (g *Gate) CheckTimeouts() []*contracts.ApprovalRequest {
	g.mu.Lock()
	now := g.clock()
	var stale []*pendingEntry
	for _, e := range g.pending {
		if now.After(e.req.ExpiresAt) {
			stale = append(stale, e)
		}
	}
	g.mu.Unlock()

	var out []*contracts.ApprovalRequest
	for _, e := range stale {
		g.finalize(e.req.ID, contracts.DecisionExpired, "system", "timeout")
		out = append(out, e.req)
	}
	return out
}
