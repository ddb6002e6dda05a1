// Package registry is the source of truth for tool contracts.
//
// Contracts are immutable once registered. Re-registration under the same
// name is an error unless the contract is explicitly unregistered first.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrDuplicateTool = errors.New("tool already registered")
)

// Registry holds tool contracts with secondary indexes by risk class and
// side-effect tag.
type Registry interface {
	Register(contract *contracts.ToolContract) error
	Get(name string) (*contracts.ToolContract, error)
	Has(name string) bool
	GetByRiskClass(rc contracts.RiskClass) []*contracts.ToolContract
	GetByTag(tag string) []*contracts.ToolContract
	Unregister(name string) error
	List() []*contracts.ToolContract
}

// InMemoryRegistry is the thread-safe default implementation.
type InMemoryRegistry struct {
	mu     sync.RWMutex
	byName map[string]*contracts.ToolContract
	byRisk map[contracts.RiskClass]map[string]struct{}
	byTag  map[string]map[string]struct{}
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		byName: make(map[string]*contracts.ToolContract),
		byRisk: make(map[contracts.RiskClass]map[string]struct{}),
		byTag:  make(map[string]map[string]struct{}),
	}
}

func (r *InMemoryRegistry) Register(contract *contracts.ToolContract) error {
	if contract == nil {
		return errors.New("nil contract")
	}
	if err := contract.Validate(); err != nil {
		return fmt.Errorf("invalid contract %q: %w", contract.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[contract.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, contract.Name)
	}

	// Store a copy so callers cannot mutate the registered contract.
	c := *contract
	r.byName[c.Name] = &c

	if r.byRisk[c.RiskClass] == nil {
		r.byRisk[c.RiskClass] = make(map[string]struct{})
	}
	r.byRisk[c.RiskClass][c.Name] = struct{}{}

	for _, tag := range c.SideEffects {
		if r.byTag[tag] == nil {
			r.byTag[tag] = make(map[string]struct{})
		}
		r.byTag[tag][c.Name] = struct{}{}
	}
	return nil
}

func (r *InMemoryRegistry) Get(name string) (*contracts.ToolContract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return c, nil
}

func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

func (r *InMemoryRegistry) GetByRiskClass(rc contracts.RiskClass) []*contracts.ToolContract {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*contracts.ToolContract, 0, len(r.byRisk[rc]))
	for name := range r.byRisk[rc] {
		out = append(out, r.byName[name])
	}
	return out
}

func (r *InMemoryRegistry) GetByTag(tag string) []*contracts.ToolContract {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*contracts.ToolContract, 0, len(r.byTag[tag]))
	for name := range r.byTag[tag] {
		out = append(out, r.byName[name])
	}
	return out
}

func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	delete(r.byName, name)
	delete(r.byRisk[c.RiskClass], name)
	for _, tag := range c.SideEffects {
		delete(r.byTag[tag], name)
	}
	return nil
}

func (r *InMemoryRegistry) List() []*contracts.ToolContract {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*contracts.ToolContract, 0, len(r.byName))
	for _, c := range r.byName {
		out = append(out, c)
	}
	return out
}
