// Package fsm is the kernel lifecycle state machine. Every phase
// advance in the pipeline and the orchestrator goes through a named
// trigger here; illegal transitions are errors, not silent no-ops.
package fsm

import (
	"fmt"
	"log/slog"
	"sync"
)

// State is a kernel lifecycle state.
type State string

const (
	StateIdle          State = "idle"
	StatePlanning      State = "planning"
	StateExecuting     State = "executing"
	StateVerifying     State = "verifying"
	StateWritingMemory State = "writing_memory"
	StateAuditing      State = "auditing"
	StateSafeMode      State = "safe_mode"
	StateError         State = "error"
)

// AllStates enumerates every defined state.
func AllStates() []string {
	return []string{
		string(StateIdle), string(StatePlanning), string(StateExecuting),
		string(StateVerifying), string(StateWritingMemory), string(StateAuditing),
		string(StateSafeMode), string(StateError),
	}
}

// Trigger is a named transition event.
type Trigger string

const (
	TriggerPlanRequested      Trigger = "plan_requested"
	TriggerPlanApproved       Trigger = "plan_approved"
	TriggerToolValidated      Trigger = "tool_validated"
	TriggerExecutionComplete  Trigger = "execution_complete"
	TriggerVerificationPassed Trigger = "verification_passed"
	TriggerVerificationFailed Trigger = "verification_failed"
	TriggerFatalError         Trigger = "fatal_error"
	TriggerRecover            Trigger = "recover"
	TriggerEscalateSafeMode   Trigger = "escalate_safe_mode"
	TriggerExitSafeMode       Trigger = "exit_safe_mode"
	TriggerWriteMemory        Trigger = "write_memory"
	TriggerMemoryWritten      Trigger = "memory_written"
	TriggerAuditRequested     Trigger = "audit_requested"
	TriggerAuditComplete      Trigger = "audit_complete"
)

// Observer is notified synchronously inside each transition. Panics in
// observers are swallowed and logged.
type Observer func(from, to State, trigger Trigger)

type edge struct {
	from    State
	trigger Trigger
}

// transitions is the legal edge set. escalate_safe_mode is handled
// separately since it fires from any state.
var transitions = map[edge]State{
	{StateIdle, TriggerPlanRequested}:          StatePlanning,
	{StatePlanning, TriggerPlanApproved}:       StateIdle,
	{StateIdle, TriggerToolValidated}:          StateExecuting,
	{StateExecuting, TriggerExecutionComplete}: StateVerifying,
	{StateExecuting, TriggerFatalError}:        StateError,
	{StateVerifying, TriggerVerificationPassed}: StateIdle,
	{StateVerifying, TriggerVerificationFailed}: StateError,
	{StateVerifying, TriggerFatalError}:         StateError,
	{StateError, TriggerRecover}:                StateIdle,
	{StateSafeMode, TriggerExitSafeMode}:        StateIdle,
	{StateIdle, TriggerWriteMemory}:             StateWritingMemory,
	{StateWritingMemory, TriggerMemoryWritten}:  StateIdle,
	{StateIdle, TriggerAuditRequested}:          StateAuditing,
	{StateAuditing, TriggerAuditComplete}:       StateIdle,
}

// Machine is the shared, serialized kernel FSM. One instance per agent;
// concurrent pipelines share it so safe mode is a global property.
type Machine struct {
	mu                sync.Mutex
	state             State
	consecutiveErrors int
	observers         []Observer
	logger            *slog.Logger
}

func New(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{state: StateIdle, logger: logger}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConsecutiveErrors returns the failure streak length.
func (m *Machine) ConsecutiveErrors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveErrors
}

// Subscribe registers an observer for all transitions.
func (m *Machine) Subscribe(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// Fire attempts a transition. The error counter increments on
// verification_failed and fatal_error; it resets when a transition
// lands in idle, except via recover, which closes out a failed pass
// rather than evidencing a healthy one. exit_safe_mode always clears
// the counter.
func (m *Machine) Fire(trigger Trigger) error {
	m.mu.Lock()

	var to State
	if trigger == TriggerEscalateSafeMode {
		to = StateSafeMode
	} else {
		var ok bool
		to, ok = transitions[edge{m.state, trigger}]
		if !ok {
			from := m.state
			m.mu.Unlock()
			return fmt.Errorf("illegal transition: %s --%s--> ?", from, trigger)
		}
	}

	from := m.state
	m.state = to

	switch {
	case trigger == TriggerVerificationFailed || trigger == TriggerFatalError:
		m.consecutiveErrors++
	case trigger == TriggerExitSafeMode:
		m.consecutiveErrors = 0
	case to == StateIdle && trigger != TriggerRecover:
		m.consecutiveErrors = 0
	}

	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, obs := range observers {
		m.notify(obs, from, to, trigger)
	}
	return nil
}

func (m *Machine) notify(obs Observer, from, to State, trigger Trigger) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("fsm observer panic",
				"from", string(from), "to", string(to), "trigger", string(trigger), "panic", r)
		}
	}()
	obs(from, to, trigger)
}

// CanFire reports whether the trigger is legal from the current state.
func (m *Machine) CanFire(trigger Trigger) bool {
	if trigger == TriggerEscalateSafeMode {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := transitions[edge{m.state, trigger}]
	return ok
}
