package goals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

func TestAdmitUserGoalAnyTrust(t *testing.T) {
	m := NewManager()
	g, err := m.Admit(contracts.Goal{
		Description: "tidy the workspace",
		Source:      contracts.SourceUser,
		SourceTrust: 0.1,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, contracts.GoalActive, g.Status)
	assert.Equal(t, contracts.PriorityMedium, g.Priority)
}

func TestAdmitAgentGoalTrustFloor(t *testing.T) {
	m := NewManager()

	_, err := m.Admit(contracts.Goal{
		Description: "self-improve",
		Source:      contracts.SourceAgent,
		SourceTrust: 0.5,
	})
	assert.ErrorIs(t, err, ErrUntrustedAgent)

	g, err := m.Admit(contracts.Goal{
		Description: "self-improve",
		Source:      contracts.SourceAgent,
		SourceTrust: 0.6,
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.GoalActive, g.Status)
}

func TestAdmitRejectsBadTrustAndEmptyDescription(t *testing.T) {
	m := NewManager()
	_, err := m.Admit(contracts.Goal{Description: "x", Source: contracts.SourceUser, SourceTrust: 1.5})
	assert.Error(t, err)
	_, err = m.Admit(contracts.Goal{Source: contracts.SourceUser})
	assert.Error(t, err)
}

func TestStatusLifecycle(t *testing.T) {
	m := NewManager()
	g, err := m.Admit(contracts.Goal{Description: "d", Source: contracts.SourceUser})
	require.NoError(t, err)

	paused, err := m.Pause(g.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.GoalPaused, paused.Status)

	resumed, err := m.Resume(g.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.GoalActive, resumed.Status)

	done, err := m.Complete(g.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.GoalCompleted, done.Status)

	// Terminal states are immutable.
	_, err = m.Resume(g.ID)
	assert.ErrorIs(t, err, ErrBadTransition)
	_, err = m.Fail(g.ID)
	assert.ErrorIs(t, err, ErrBadTransition)
}

func TestParentLinkage(t *testing.T) {
	m := NewManager()
	parent, err := m.Admit(contracts.Goal{Description: "p", Source: contracts.SourceUser})
	require.NoError(t, err)

	_, err = m.Admit(contracts.Goal{Description: "c", Source: contracts.SourceUser, ParentGoalID: "missing"})
	assert.ErrorIs(t, err, ErrGoalNotFound)

	child, err := m.Admit(contracts.Goal{Description: "c", Source: contracts.SourceUser, ParentGoalID: parent.ID})
	require.NoError(t, err)

	kids := m.Children(parent.ID)
	require.Len(t, kids, 1)
	assert.Equal(t, child.ID, kids[0].ID)
}

func TestListByStatus(t *testing.T) {
	m := NewManager()
	a, _ := m.Admit(contracts.Goal{Description: "a", Source: contracts.SourceUser})
	_, err := m.Admit(contracts.Goal{Description: "b", Source: contracts.SourceUser})
	require.NoError(t, err)
	_, err = m.Pause(a.ID)
	require.NoError(t, err)

	assert.Len(t, m.ListByStatus(contracts.GoalActive), 1)
	assert.Len(t, m.ListByStatus(contracts.GoalPaused), 1)
}
