package verify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// InvariantContext is the cross-system snapshot an invariant inspects
// after a pipeline pass.
type InvariantContext struct {
	State            string
	PendingApprovals int
	EventCount       int
	RequestID        string
	Success          bool
	ApprovalID       string
}

// Invariant is a system-wide condition that must hold regardless of
// which tool just ran.
type Invariant struct {
	ID       string
	Severity string
	Check    func(ctx context.Context, ic *InvariantContext) (bool, error)
}

// ChainVerifier is satisfied by the event store.
type ChainVerifier interface {
	VerifyChain() (bool, string)
}

// ApprovalLookup is satisfied by the approval gate.
type ApprovalLookup interface {
	Get(id string) (*contracts.ApprovalRequest, error)
}

// Checker runs registered invariants in registration order.
type Checker struct {
	mu         sync.RWMutex
	invariants []Invariant
	timeout    time.Duration
}

func NewChecker() *Checker {
	return &Checker{timeout: DefaultCheckTimeout}
}

func (c *Checker) WithCheckTimeout(d time.Duration) *Checker {
	c.timeout = d
	return c
}

// Register adds invariants. Duplicate IDs are rejected.
func (c *Checker) Register(invs ...Invariant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, inv := range invs {
		for _, existing := range c.invariants {
			if existing.ID == inv.ID {
				return fmt.Errorf("invariant %q already registered", inv.ID)
			}
		}
		c.invariants = append(c.invariants, inv)
	}
	return nil
}

// Check runs every invariant against the snapshot.
func (c *Checker) Check(ctx context.Context, ic *InvariantContext) *contracts.InvariantReport {
	c.mu.RLock()
	invs := make([]Invariant, len(c.invariants))
	copy(invs, c.invariants)
	c.mu.RUnlock()

	checks := make([]contracts.CheckResult, 0, len(invs))
	for _, inv := range invs {
		fn := inv.Check
		checks = append(checks, runCheck(ctx, inv.ID, inv.Severity, c.timeout,
			func(cc context.Context) (bool, error) { return fn(cc, ic) }))
	}

	status, critical := summarize(checks)
	return &contracts.InvariantReport{
		Status:               status,
		Checks:               checks,
		HasCriticalViolation: critical,
	}
}

// EventChainIntegrity recomputes the event log hash chain. A broken
// link is a critical violation.
func EventChainIntegrity(store ChainVerifier) Invariant {
	return Invariant{
		ID:       "event-chain-integrity",
		Severity: SeverityCritical,
		Check: func(_ context.Context, _ *InvariantContext) (bool, error) {
			ok, detail := store.VerifyChain()
			if !ok {
				return false, fmt.Errorf("hash chain broken: %s", detail)
			}
			return true, nil
		},
	}
}

// NoOrphanedApprovals checks that the approval referenced by the pass,
// if any, reached a terminal decision.
func NoOrphanedApprovals(gate ApprovalLookup) Invariant {
	return Invariant{
		ID:       "no-orphaned-approvals",
		Severity: SeverityCritical,
		Check: func(_ context.Context, ic *InvariantContext) (bool, error) {
			if ic.ApprovalID == "" {
				return true, nil
			}
			req, err := gate.Get(ic.ApprovalID)
			if err != nil {
				return false, err
			}
			if !req.Terminal() {
				return false, fmt.Errorf("approval %s still pending after pipeline completion", ic.ApprovalID)
			}
			return true, nil
		},
	}
}

// StateMachineConsistency checks that the reported runtime state is one
// the state machine defines.
func StateMachineConsistency(validStates []string) Invariant {
	known := make(map[string]bool, len(validStates))
	for _, s := range validStates {
		known[s] = true
	}
	return Invariant{
		ID:       "state-machine-consistency",
		Severity: SeverityCritical,
		Check: func(_ context.Context, ic *InvariantContext) (bool, error) {
			if ic.State == "" {
				return true, nil
			}
			if !known[ic.State] {
				return false, fmt.Errorf("unknown runtime state %q", ic.State)
			}
			return true, nil
		},
	}
}
