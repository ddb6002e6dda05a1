package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

func passing(id, severity string) PostCondition {
	return PostCondition{ID: id, Severity: severity,
		Check: func(context.Context, *CheckContext) (bool, error) { return true, nil }}
}

func failing(id, severity string) PostCondition {
	return PostCondition{ID: id, Severity: severity,
		Check: func(context.Context, *CheckContext) (bool, error) { return false, nil }}
}

func TestVerifyNoConditionsPassesVacuously(t *testing.T) {
	v := NewVerifier()
	rep := v.Verify(context.Background(), &CheckContext{ToolName: "READ_FILE"})
	assert.Equal(t, contracts.VerificationPassed, rep.Status)
	assert.Empty(t, rep.Checks)
	assert.False(t, rep.HasCriticalFailure)
}

func TestCoveredTools(t *testing.T) {
	v := NewVerifier()
	assert.Empty(t, v.CoveredTools())

	v.Register("WRITE_FILE", passing("file-exists", SeverityCritical))
	v.Register("DELETE_FILE", passing("file-gone", SeverityCritical))
	assert.ElementsMatch(t, []string{"WRITE_FILE", "DELETE_FILE"}, v.CoveredTools())
	assert.Len(t, v.Conditions("WRITE_FILE"), 1)
}

func TestVerifyAllPass(t *testing.T) {
	v := NewVerifier()
	v.Register("WRITE_FILE", passing("file-exists", SeverityCritical), passing("size-nonzero", SeverityWarning))

	rep := v.Verify(context.Background(), &CheckContext{ToolName: "WRITE_FILE"})
	assert.Equal(t, contracts.VerificationPassed, rep.Status)
	assert.Len(t, rep.Checks, 2)
}

func TestVerifyPartialAndCritical(t *testing.T) {
	v := NewVerifier()
	v.Register("WRITE_FILE",
		passing("size-nonzero", SeverityWarning),
		failing("file-exists", SeverityCritical),
	)

	rep := v.Verify(context.Background(), &CheckContext{ToolName: "WRITE_FILE"})
	assert.Equal(t, contracts.VerificationPartial, rep.Status)
	assert.True(t, rep.HasCriticalFailure)
}

func TestVerifyAllFailWarningOnly(t *testing.T) {
	v := NewVerifier()
	v.Register("X", failing("a", SeverityWarning), failing("b", SeverityInfo))

	rep := v.Verify(context.Background(), &CheckContext{ToolName: "X"})
	assert.Equal(t, contracts.VerificationFailed, rep.Status)
	assert.False(t, rep.HasCriticalFailure)
}

func TestVerifyCheckErrorCountsAsFailure(t *testing.T) {
	v := NewVerifier()
	v.Register("X", PostCondition{ID: "boom", Severity: SeverityCritical,
		Check: func(context.Context, *CheckContext) (bool, error) {
			return false, errors.New("backend unreachable")
		}})

	rep := v.Verify(context.Background(), &CheckContext{ToolName: "X"})
	require.Len(t, rep.Checks, 1)
	assert.False(t, rep.Checks[0].Passed)
	assert.Contains(t, rep.Checks[0].Detail, "backend unreachable")
}

func TestVerifyCheckPanicIsContained(t *testing.T) {
	v := NewVerifier()
	v.Register("X", PostCondition{ID: "panicky", Severity: SeverityCritical,
		Check: func(context.Context, *CheckContext) (bool, error) { panic("nope") }})

	rep := v.Verify(context.Background(), &CheckContext{ToolName: "X"})
	require.Len(t, rep.Checks, 1)
	assert.False(t, rep.Checks[0].Passed)
	assert.Contains(t, rep.Checks[0].Detail, "panic")
}

func TestVerifyCheckTimeout(t *testing.T) {
	v := NewVerifier().WithCheckTimeout(20 * time.Millisecond)
	v.Register("X", PostCondition{ID: "slow", Severity: SeverityWarning,
		Check: func(ctx context.Context, _ *CheckContext) (bool, error) {
			select {
			case <-time.After(time.Second):
				return true, nil
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}})

	rep := v.Verify(context.Background(), &CheckContext{ToolName: "X"})
	require.Len(t, rep.Checks, 1)
	assert.False(t, rep.Checks[0].Passed)
	assert.Equal(t, contracts.VerificationFailed, rep.Status)
}

type fixedChain struct {
	ok     bool
	detail string
}

func (f fixedChain) VerifyChain() (bool, string) { return f.ok, f.detail }

type fixedApprovals struct {
	reqs map[string]*contracts.ApprovalRequest
}

func (f fixedApprovals) Get(id string) (*contracts.ApprovalRequest, error) {
	r, ok := f.reqs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return r, nil
}

func TestEventChainIntegrityInvariant(t *testing.T) {
	c := NewChecker()
	require.NoError(t, c.Register(EventChainIntegrity(fixedChain{ok: true})))

	rep := c.Check(context.Background(), &InvariantContext{})
	assert.Equal(t, contracts.VerificationPassed, rep.Status)

	broken := NewChecker()
	require.NoError(t, broken.Register(EventChainIntegrity(fixedChain{ok: false, detail: "hash mismatch at seq 7"})))
	rep = broken.Check(context.Background(), &InvariantContext{})
	assert.Equal(t, contracts.VerificationFailed, rep.Status)
	assert.True(t, rep.HasCriticalViolation)
	assert.Contains(t, rep.Checks[0].Detail, "seq 7")
}

func TestNoOrphanedApprovalsInvariant(t *testing.T) {
	pending := &contracts.ApprovalRequest{ID: "a1"}
	done := &contracts.ApprovalRequest{ID: "a2", Decision: contracts.DecisionApproved}
	gate := fixedApprovals{reqs: map[string]*contracts.ApprovalRequest{"a1": pending, "a2": done}}

	c := NewChecker()
	require.NoError(t, c.Register(NoOrphanedApprovals(gate)))

	// No approval involved in the pass.
	rep := c.Check(context.Background(), &InvariantContext{})
	assert.Equal(t, contracts.VerificationPassed, rep.Status)

	rep = c.Check(context.Background(), &InvariantContext{ApprovalID: "a2"})
	assert.Equal(t, contracts.VerificationPassed, rep.Status)

	rep = c.Check(context.Background(), &InvariantContext{ApprovalID: "a1"})
	assert.Equal(t, contracts.VerificationFailed, rep.Status)
	assert.True(t, rep.HasCriticalViolation)
}

func TestStateMachineConsistencyInvariant(t *testing.T) {
	c := NewChecker()
	require.NoError(t, c.Register(StateMachineConsistency([]string{"idle", "executing"})))

	rep := c.Check(context.Background(), &InvariantContext{State: "idle"})
	assert.Equal(t, contracts.VerificationPassed, rep.Status)

	rep = c.Check(context.Background(), &InvariantContext{State: "limbo"})
	assert.Equal(t, contracts.VerificationFailed, rep.Status)
}

func TestDuplicateInvariantRejected(t *testing.T) {
	c := NewChecker()
	require.NoError(t, c.Register(StateMachineConsistency([]string{"idle"})))
	err := c.Register(StateMachineConsistency([]string{"idle"}))
	assert.Error(t, err)
}

func TestCELInvariant(t *testing.T) {
	inv, err := CELInvariant("no-stuck-approvals", SeverityWarning, "pendingApprovals == 0 || !success")
	require.NoError(t, err)

	ok, err := inv.Check(context.Background(), &InvariantContext{PendingApprovals: 0, Success: true})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = inv.Check(context.Background(), &InvariantContext{PendingApprovals: 2, Success: true})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCELInvariantCompileErrors(t *testing.T) {
	_, err := CELInvariant("bad", SeverityWarning, "pendingApprovals ==")
	assert.Error(t, err)

	_, err = CELInvariant("non-bool", SeverityWarning, "eventCount + 1")
	assert.Error(t, err)
}

func TestCELInvariantSeesAllVariables(t *testing.T) {
	inv := MustCELInvariant("snapshot", SeverityInfo,
		`state == "idle" && eventCount > 0 && pendingApprovals == 0 && success`)

	ok, err := inv.Check(context.Background(), &InvariantContext{
		State: "idle", EventCount: 5, PendingApprovals: 0, Success: true,
	})
	require.NoError(t, err)
	assert.True(t, ok)
}
