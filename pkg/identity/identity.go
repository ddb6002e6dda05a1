// Package identity holds agent identity records and verifies operator
// approval tokens.
package identity

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

var ErrIdentityNotFound = errors.New("agent identity not found")

// AgentIdentity is one versioned agent registration. At most one
// version per agent is active at a time.
type AgentIdentity struct {
	AgentID   string         `json:"agentId"`
	Version   string         `json:"version"`
	Active    bool           `json:"active"`
	Trust     float64        `json:"trust"`
	Identity  map[string]any `json:"identity,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Store keeps agent identities in memory, keyed agent+version.
type Store struct {
	mu      sync.RWMutex
	records map[string]map[string]*AgentIdentity
	clock   func() time.Time
}

func NewStore() *Store {
	return &Store{
		records: make(map[string]map[string]*AgentIdentity),
		clock:   time.Now,
	}
}

func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Register stores a new identity version and activates it, deactivating
// any previously active version of the same agent.
func (s *Store) Register(id AgentIdentity) (*AgentIdentity, error) {
	if id.AgentID == "" || id.Version == "" {
		return nil, errors.New("agent id and version are required")
	}
	if id.Trust < 0 || id.Trust > 1 {
		return nil, fmt.Errorf("trust %v outside [0,1]", id.Trust)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.records[id.AgentID]
	if versions == nil {
		versions = make(map[string]*AgentIdentity)
		s.records[id.AgentID] = versions
	}
	if _, dup := versions[id.Version]; dup {
		return nil, fmt.Errorf("identity %s@%s already registered", id.AgentID, id.Version)
	}

	for _, v := range versions {
		v.Active = false
	}
	id.Active = true
	id.CreatedAt = s.clock()
	versions[id.Version] = &id

	cp := id
	return &cp, nil
}

// Get returns one identity by agent and version.
func (s *Store) Get(agentID, version string) (*AgentIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.records[agentID][version]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, fmt.Errorf("%w: %s@%s", ErrIdentityNotFound, agentID, version)
}

// Active returns the agent's active identity.
func (s *Store) Active(agentID string) (*AgentIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.records[agentID] {
		if v.Active {
			cp := *v
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s (no active version)", ErrIdentityNotFound, agentID)
}

// Trust returns the active identity's trust, or 0 for unknown agents.
func (s *Store) Trust(agentID string) float64 {
	id, err := s.Active(agentID)
	if err != nil {
		return 0
	}
	return id.Trust
}

// ValidateRequest checks that an orchestrated request names a known,
// active agent.
func (s *Store) ValidateRequest(req *contracts.OrchestratedRequest) error {
	if req.AgentID == "" {
		return errors.New("missing agent identity")
	}
	_, err := s.Active(req.AgentID)
	return err
}
