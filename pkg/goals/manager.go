// Package goals owns Goal records. Plans reference goals by ID only;
// nothing else mutates them.
package goals

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// AgentTrustFloor is the minimum sourceTrust for agent-proposed goals.
// User goals are admitted regardless of trust.
const AgentTrustFloor = 0.6

var (
	ErrGoalNotFound   = errors.New("goal not found")
	ErrUntrustedAgent = errors.New("agent-sourced goal below trust floor")
	ErrBadTransition  = errors.New("illegal goal status transition")
)

// Manager is the thread-safe goal store.
type Manager struct {
	mu    sync.RWMutex
	goals map[string]*contracts.Goal
	clock func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		goals: make(map[string]*contracts.Goal),
		clock: time.Now,
	}
}

func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Admit validates and stores a new goal, returning it with ID and
// timestamps assigned.
func (m *Manager) Admit(g contracts.Goal) (*contracts.Goal, error) {
	if g.Description == "" {
		return nil, errors.New("goal description is empty")
	}
	if g.SourceTrust < 0 || g.SourceTrust > 1 {
		return nil, fmt.Errorf("sourceTrust %v outside [0,1]", g.SourceTrust)
	}
	if (g.Source == contracts.SourceAgent || g.Source == contracts.SourceAutonomy) && g.SourceTrust < AgentTrustFloor {
		return nil, fmt.Errorf("%w: trust %.2f < %.2f", ErrUntrustedAgent, g.SourceTrust, AgentTrustFloor)
	}
	if g.Priority == "" {
		g.Priority = contracts.PriorityMedium
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if g.ParentGoalID != "" {
		if _, ok := m.goals[g.ParentGoalID]; !ok {
			return nil, fmt.Errorf("%w: parent %s", ErrGoalNotFound, g.ParentGoalID)
		}
	}

	now := m.clock()
	g.ID = uuid.New().String()
	g.Status = contracts.GoalActive
	g.CreatedAt = now
	g.UpdatedAt = now
	m.goals[g.ID] = &g

	cp := g
	return &cp, nil
}

// goalTransitions defines the allowed status moves. Completed and
// failed are terminal.
var goalTransitions = map[string][]string{
	contracts.GoalActive: {contracts.GoalPaused, contracts.GoalCompleted, contracts.GoalFailed},
	contracts.GoalPaused: {contracts.GoalActive, contracts.GoalFailed},
}

func (m *Manager) setStatus(id, status string) (*contracts.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.goals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}
	allowed := false
	for _, next := range goalTransitions[g.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, g.Status, status)
	}
	g.Status = status
	g.UpdatedAt = m.clock()
	cp := *g
	return &cp, nil
}

func (m *Manager) Pause(id string) (*contracts.Goal, error) {
	return m.setStatus(id, contracts.GoalPaused)
}

func (m *Manager) Resume(id string) (*contracts.Goal, error) {
	return m.setStatus(id, contracts.GoalActive)
}

func (m *Manager) Complete(id string) (*contracts.Goal, error) {
	return m.setStatus(id, contracts.GoalCompleted)
}

func (m *Manager) Fail(id string) (*contracts.Goal, error) {
	return m.setStatus(id, contracts.GoalFailed)
}

func (m *Manager) Get(id string) (*contracts.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.goals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}
	cp := *g
	return &cp, nil
}

// ListByStatus returns goals in the given status.
func (m *Manager) ListByStatus(status string) []*contracts.Goal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*contracts.Goal
	for _, g := range m.goals {
		if g.Status == status {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out
}

// Children returns the goals whose parent is id.
func (m *Manager) Children(id string) []*contracts.Goal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*contracts.Goal
	for _, g := range m.goals {
		if g.ParentGoalID == id {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out
}
