package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/approval"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/compensation"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/eventlog"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/fsm"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/registry"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/safemode"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/schema"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/verify"
)

type kernel struct {
	registry      *registry.InMemoryRegistry
	gate          *approval.Gate
	store         *eventlog.MemoryStore
	verifier      *verify.Verifier
	checker       *verify.Checker
	compensations *compensation.Registry
	machine       *fsm.Machine
	pipeline      *Pipeline
}

func newKernel(t *testing.T, policy approval.Policy) *kernel {
	t.Helper()
	reg := registry.NewInMemoryRegistry()
	gate := approval.NewGate(policy)
	store := eventlog.NewMemoryStore(eventlog.Options{})
	verifier := verify.NewVerifier()
	checker := verify.NewChecker()
	comps := compensation.NewRegistry()
	machine := fsm.New(nil)

	p := New(reg, schema.NewValidator(reg), gate, store, verifier, checker, comps, machine, nil, Options{})
	return &kernel{
		registry: reg, gate: gate, store: store, verifier: verifier,
		checker: checker, compensations: comps, machine: machine, pipeline: p,
	}
}

func mustRegister(t *testing.T, k *kernel, name string, rc contracts.RiskClass, requiresApproval bool, schemaJSON string) {
	t.Helper()
	c := &contracts.ToolContract{
		Name:             name,
		Version:          "1.0.0",
		RiskClass:        rc,
		RequiresApproval: requiresApproval,
	}
	if schemaJSON != "" {
		c.ParamsSchema = json.RawMessage(schemaJSON)
	}
	require.NoError(t, k.registry.Register(c))
}

func okHandler(result any) ActionHandler {
	return func(context.Context, string, map[string]any, string) (any, error) {
		return result, nil
	}
}

func eventTypes(events []contracts.ExecutionEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

const terminalSchema = `{
	"type": "object",
	"properties": {"command": {"type": "string"}},
	"required": ["command"],
	"additionalProperties": false
}`

func TestReadOnlySuccess(t *testing.T) {
	k := newKernel(t, approval.Policy{})
	mustRegister(t, k, "PLAY_EMOTE", contracts.RiskReadOnly, false, "")

	res := k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "PLAY_EMOTE", Params: map[string]any{"emote": "wave"},
		Source: contracts.SourceLLM, RequestID: "r1",
	}, okHandler(map[string]any{"ok": true}))

	require.True(t, res.Success)
	assert.Equal(t, []string{
		contracts.EventToolProposed,
		contracts.EventToolValidated,
		contracts.EventToolExecuting,
		contracts.EventToolExecuted,
		contracts.EventToolVerified,
		contracts.EventInvariantsChecked,
		contracts.EventDecisionLogged,
	}, eventTypes(k.store.GetByRequestID("r1")))
	assert.Equal(t, fsm.StateIdle, k.machine.Current())
}

func TestIrreversibleWithApproval(t *testing.T) {
	k := newKernel(t, approval.Policy{Timeout: time.Minute})
	mustRegister(t, k, "RUN_IN_TERMINAL", contracts.RiskIrreversible, true, terminalSchema)

	go func() {
		for {
			pending := k.gate.GetPending()
			if len(pending) == 1 {
				_, _ = k.gate.Resolve(pending[0].ID, contracts.DecisionApproved, "admin")
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	res := k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "RUN_IN_TERMINAL", Params: map[string]any{"command": "echo hi"},
		Source: contracts.SourceUser, RequestID: "r2",
	}, okHandler("hi"))

	require.True(t, res.Success)
	require.NotNil(t, res.Approval)
	assert.True(t, res.Approval.Required)
	assert.Equal(t, contracts.DecisionApproved, res.Approval.Decision)
	assert.Equal(t, "admin", res.Approval.DecidedBy)

	types := eventTypes(k.store.GetByRequestID("r2"))
	reqIdx, resIdx := -1, -1
	for i, typ := range types {
		switch typ {
		case contracts.EventApprovalRequested:
			reqIdx = i
		case contracts.EventApprovalResolved:
			resIdx = i
		}
	}
	require.GreaterOrEqual(t, reqIdx, 0)
	require.Greater(t, resIdx, reqIdx)
}

func TestValidationFailure(t *testing.T) {
	k := newKernel(t, approval.Policy{})
	mustRegister(t, k, "RUN_IN_TERMINAL", contracts.RiskIrreversible, true, terminalSchema)

	res := k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "RUN_IN_TERMINAL", Params: map[string]any{},
		Source: contracts.SourceUser, RequestID: "r3",
	}, okHandler(nil))

	require.False(t, res.Success)
	assert.Equal(t, contracts.ErrValidationFailed, res.Error)
	require.Len(t, res.Validation.Errors, 1)
	assert.Equal(t, contracts.CodeMissingField, res.Validation.Errors[0].Code)
	assert.Equal(t, "command", res.Validation.Errors[0].Field)
	assert.NotContains(t, eventTypes(k.store.GetByRequestID("r3")), contracts.EventToolExecuting)
	assert.Equal(t, fsm.StateIdle, k.machine.Current())
}

func TestApprovalDenied(t *testing.T) {
	k := newKernel(t, approval.Policy{Timeout: time.Minute})
	mustRegister(t, k, "RUN_IN_TERMINAL", contracts.RiskIrreversible, true, terminalSchema)

	invoked := false
	go func() {
		for {
			pending := k.gate.GetPending()
			if len(pending) == 1 {
				_, _ = k.gate.Resolve(pending[0].ID, contracts.DecisionDenied, "admin")
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	res := k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "RUN_IN_TERMINAL", Params: map[string]any{"command": "rm -rf /"},
		Source: contracts.SourceUser, RequestID: "r4",
	}, func(context.Context, string, map[string]any, string) (any, error) {
		invoked = true
		return nil, nil
	})

	require.False(t, res.Success)
	assert.Equal(t, contracts.ErrApprovalDenied, res.Error)
	assert.False(t, invoked)
	assert.Equal(t, fsm.StateIdle, k.machine.Current())
}

func TestCriticalVerificationTriggersCompensation(t *testing.T) {
	k := newKernel(t, approval.Policy{})
	mustRegister(t, k, "GENERATE_IMAGE", contracts.RiskReversible, false, "")

	k.verifier.Register("GENERATE_IMAGE", verify.PostCondition{
		ID: "output-exists", Severity: verify.SeverityCritical,
		Check: func(context.Context, *verify.CheckContext) (bool, error) { return false, nil },
	})
	compensated := false
	k.compensations.Register("GENERATE_IMAGE", func(context.Context, map[string]any, any) error {
		compensated = true
		return nil
	})

	res := k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "GENERATE_IMAGE", Params: map[string]any{"prompt": "cat"},
		Source: contracts.SourceLLM, RequestID: "r5",
	}, okHandler(map[string]any{"outputPath": "/tmp/img.png"}))

	require.False(t, res.Success)
	assert.True(t, res.Verification.HasCriticalFailure)
	require.NotNil(t, res.Compensation)
	assert.True(t, res.Compensation.Attempted)
	assert.True(t, res.Compensation.Success)
	assert.True(t, compensated)
	assert.Equal(t, fsm.StateIdle, k.machine.Current())

	types := eventTypes(k.store.GetByRequestID("r5"))
	assert.Contains(t, types, contracts.EventToolCompensated)
	assert.NotContains(t, types, contracts.EventCompensationIncident)
	assert.Equal(t, contracts.EventToolFailed, types[len(types)-1])
}

func TestMissingCompensationOpensIncident(t *testing.T) {
	k := newKernel(t, approval.Policy{})
	mustRegister(t, k, "GENERATE_IMAGE", contracts.RiskReversible, false, "")
	k.verifier.Register("GENERATE_IMAGE", verify.PostCondition{
		ID: "output-exists", Severity: verify.SeverityCritical,
		Check: func(context.Context, *verify.CheckContext) (bool, error) { return false, nil },
	})

	res := k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "GENERATE_IMAGE", Params: nil,
		Source: contracts.SourceLLM, RequestID: "r6",
	}, okHandler(nil))

	require.False(t, res.Success)
	require.NotNil(t, res.Compensation)
	assert.False(t, res.Compensation.Attempted)
	assert.Contains(t, res.Compensation.Detail, "No compensation registered")
	assert.Contains(t, eventTypes(k.store.GetByRequestID("r6")), contracts.EventCompensationIncident)
	assert.Equal(t, fsm.StateIdle, k.machine.Current())
}

func TestExecutionErrorEmitsExecutedThenFailed(t *testing.T) {
	k := newKernel(t, approval.Policy{})
	mustRegister(t, k, "FLAKY", contracts.RiskReversible, false, "")

	res := k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "FLAKY", Source: contracts.SourceUser, RequestID: "r7",
	}, func(context.Context, string, map[string]any, string) (any, error) {
		return nil, errors.New("disk full")
	})

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "disk full")
	types := eventTypes(k.store.GetByRequestID("r7"))
	assert.Equal(t, []string{
		contracts.EventToolProposed,
		contracts.EventToolValidated,
		contracts.EventToolExecuting,
		contracts.EventToolExecuted,
		contracts.EventToolFailed,
	}, types)
	assert.Equal(t, fsm.StateIdle, k.machine.Current())
	assert.Equal(t, 1, k.machine.ConsecutiveErrors())
}

func TestExecutionTimeout(t *testing.T) {
	k := newKernel(t, approval.Policy{})
	require.NoError(t, k.registry.Register(&contracts.ToolContract{
		Name: "SLOW", Version: "1.0.0", RiskClass: contracts.RiskReadOnly, TimeoutMs: 20,
	}))

	res := k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "SLOW", Source: contracts.SourceUser, RequestID: "r8",
	}, func(ctx context.Context, _ string, _ map[string]any, _ string) (any, error) {
		select {
		case <-time.After(time.Second):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")

	events := k.store.GetByRequestID("r8")
	last := events[len(events)-1]
	assert.Equal(t, contracts.EventToolFailed, last.Type)
	assert.Equal(t, "timeout", last.Payload["reason"])
}

func TestHandlerPanicIsContained(t *testing.T) {
	k := newKernel(t, approval.Policy{})
	mustRegister(t, k, "PANICKY", contracts.RiskReadOnly, false, "")

	res := k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "PANICKY", Source: contracts.SourceUser, RequestID: "r9",
	}, func(context.Context, string, map[string]any, string) (any, error) {
		panic("boom")
	})

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "panic")
	assert.Equal(t, fsm.StateIdle, k.machine.Current())
}

func TestAutoApprovalSkipsGate(t *testing.T) {
	k := newKernel(t, approval.Policy{AutoApproveSources: []string{contracts.SourceSystem}})
	mustRegister(t, k, "RUN_IN_TERMINAL", contracts.RiskIrreversible, true, terminalSchema)

	res := k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "RUN_IN_TERMINAL", Params: map[string]any{"command": "uptime"},
		Source: contracts.SourceSystem, RequestID: "r10",
	}, okHandler("ok"))

	require.True(t, res.Success)
	require.NotNil(t, res.Approval)
	assert.True(t, res.Approval.Auto)

	types := eventTypes(k.store.GetByRequestID("r10"))
	assert.NotContains(t, types, contracts.EventApprovalRequested)
	assert.NotContains(t, types, contracts.EventApprovalResolved)
}

func TestSafeModeEscalationBlocksNonReadOnly(t *testing.T) {
	k := newKernel(t, approval.Policy{})
	ctrl := safemode.NewController(k.machine, safemode.Options{ErrorThreshold: 1}, nil)
	k.pipeline.WithAdmitter(ctrl)

	mustRegister(t, k, "FLAKY", contracts.RiskReversible, false, "")
	mustRegister(t, k, "LOOKUP", contracts.RiskReadOnly, false, "")

	res := k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "FLAKY", Source: contracts.SourceUser, RequestID: "s1",
	}, func(context.Context, string, map[string]any, string) (any, error) {
		return nil, errors.New("kaboom")
	})
	require.False(t, res.Success)
	require.True(t, ctrl.Active())

	res = k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "FLAKY", Source: contracts.SourceUser, RequestID: "s2",
	}, okHandler(nil))
	require.False(t, res.Success)
	assert.Equal(t, contracts.ErrSafeModeActive, res.Error)

	// Read-only calls are still admitted, but the FSM is parked in
	// safe_mode so execution cannot proceed until an operator exits.
	require.NoError(t, ctrl.Exit())
	res = k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "LOOKUP", Source: contracts.SourceUser, RequestID: "s3",
	}, okHandler("v"))
	assert.True(t, res.Success)
}

func TestContextCancellationDuringApproval(t *testing.T) {
	k := newKernel(t, approval.Policy{Timeout: time.Minute})
	mustRegister(t, k, "RUN_IN_TERMINAL", contracts.RiskIrreversible, true, terminalSchema)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := k.pipeline.Execute(ctx, &contracts.ProposedToolCall{
		Tool: "RUN_IN_TERMINAL", Params: map[string]any{"command": "ls"},
		Source: contracts.SourceUser, RequestID: "r11",
	}, okHandler(nil))

	require.False(t, res.Success)
	assert.Equal(t, contracts.ErrApprovalDenied, res.Error)
	assert.Equal(t, contracts.DecisionDenied, res.Approval.Decision)
}

func TestEveryRequestStartsProposedEndsTerminal(t *testing.T) {
	k := newKernel(t, approval.Policy{})
	mustRegister(t, k, "PLAY_EMOTE", contracts.RiskReadOnly, false, "")
	mustRegister(t, k, "FLAKY", contracts.RiskReversible, false, "")

	_ = k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "PLAY_EMOTE", Source: contracts.SourceUser, RequestID: "ok1",
	}, okHandler(nil))
	_ = k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "FLAKY", Source: contracts.SourceUser, RequestID: "bad1",
	}, func(context.Context, string, map[string]any, string) (any, error) {
		return nil, errors.New("nope")
	})
	_ = k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
		Tool: "UNKNOWN", Source: contracts.SourceUser, RequestID: "bad2",
	}, okHandler(nil))

	for _, requestID := range []string{"ok1", "bad1", "bad2"} {
		types := eventTypes(k.store.GetByRequestID(requestID))
		require.NotEmpty(t, types, requestID)
		assert.Equal(t, contracts.EventToolProposed, types[0], requestID)
		last := types[len(types)-1]
		assert.Contains(t, []string{contracts.EventDecisionLogged, contracts.EventToolFailed}, last, requestID)
	}
}

func TestConcurrentExecutions(t *testing.T) {
	k := newKernel(t, approval.Policy{})
	mustRegister(t, k, "PLAY_EMOTE", contracts.RiskReadOnly, false, "")

	const n = 16
	var wg sync.WaitGroup
	results := make([]*contracts.PipelineResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
				Tool: "PLAY_EMOTE", Params: map[string]any{"emote": "wave"},
				Source: contracts.SourceLLM, RequestID: fmt.Sprintf("c%d", i),
			}, okHandler(i))
		}(i)
	}
	wg.Wait()

	// The execution slot serializes the FSM-coupled phases, so every
	// pass completes and the machine settles back in idle.
	for i, r := range results {
		assert.True(t, r.Success, "request c%d", i)
	}
	assert.Equal(t, fsm.StateIdle, k.machine.Current())

	ok, detail := k.store.VerifyChain()
	assert.True(t, ok, detail)
}

func TestHashChainAcrossPipelinePasses(t *testing.T) {
	k := newKernel(t, approval.Policy{})
	mustRegister(t, k, "PLAY_EMOTE", contracts.RiskReadOnly, false, "")

	for i := 0; i < 3; i++ {
		res := k.pipeline.Execute(context.Background(), &contracts.ProposedToolCall{
			Tool: "PLAY_EMOTE", Source: contracts.SourceUser, RequestID: fmt.Sprintf("h%d", i),
		}, okHandler(nil))
		require.True(t, res.Success)
	}

	ok, detail := k.store.VerifyChain()
	assert.True(t, ok, detail)
}
