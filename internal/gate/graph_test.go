package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraph_Topology(t *testing.T) {
	g := NewGraph()

	assert.Empty(t, g.PrerequisitesOf(D1))
	assert.Equal(t, []ID{D1}, g.PrerequisitesOf(D2))
	assert.Equal(t, []ID{D2}, g.PrerequisitesOf(D3))
	assert.Equal(t, []ID{D3}, g.PrerequisitesOf(D4))
	assert.Equal(t, []ID{D4}, g.PrerequisitesOf(G2))
	assert.Equal(t, []ID{G2}, g.PrerequisitesOf(G3))
	assert.Equal(t, []ID{G2, G3}, g.PrerequisitesOf(G4))
}

func TestGraph_PrerequisitesOf_UnknownGate(t *testing.T) {
	g := NewGraph()
	assert.Nil(t, g.PrerequisitesOf(ID("G9")))
}

func TestGraph_IsUnlocked(t *testing.T) {
	g := NewGraph()

	statuses := map[ID]Status{
		D1: StatusNotStarted, D2: StatusNotStarted, D3: StatusNotStarted,
		D4: StatusNotStarted, G2: StatusNotStarted, G3: StatusNotStarted,
		G4: StatusNotStarted,
	}

	// Leaf gate is always unlocked.
	assert.True(t, g.IsUnlocked(D1, statuses, false))
	assert.False(t, g.IsUnlocked(D2, statuses, false))

	statuses[D1] = StatusPassed
	assert.True(t, g.IsUnlocked(D2, statuses, false))

	// G4 needs both G2 and G3.
	statuses[D2], statuses[D3], statuses[D4] = StatusPassed, StatusPassed, StatusPassed
	statuses[G2] = StatusPassed
	assert.False(t, g.IsUnlocked(G4, statuses, false))
	statuses[G3] = StatusPassed
	assert.True(t, g.IsUnlocked(G4, statuses, false))
}

func TestGraph_IsUnlocked_WarningsPolicy(t *testing.T) {
	g := NewGraph()
	statuses := map[ID]Status{D1: StatusPassedWithWarnings}

	// Warnings count as passed by default, but not in strict mode.
	assert.True(t, g.IsUnlocked(D2, statuses, false))
	assert.False(t, g.IsUnlocked(D2, statuses, true))
}

func TestGraph_RequiresCustomerApproval(t *testing.T) {
	g := NewGraph()

	approvalRequired := map[ID]bool{
		D1: false, D2: true, D3: true, D4: true,
		G2: false, G3: false, G4: true,
	}
	for id, want := range approvalRequired {
		assert.Equal(t, want, g.RequiresCustomerApproval(id), "gate %s", id)
	}
}

func TestParseID(t *testing.T) {
	for _, id := range AllIDs() {
		parsed, err := ParseID(string(id))
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}

	_, err := ParseID("G1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown gate")
}

func TestStatus_CountsAsPassed(t *testing.T) {
	assert.True(t, StatusPassed.CountsAsPassed(true))
	assert.True(t, StatusPassed.CountsAsPassed(false))
	assert.True(t, StatusPassedWithWarnings.CountsAsPassed(false))
	assert.False(t, StatusPassedWithWarnings.CountsAsPassed(true))
	assert.False(t, StatusFailed.CountsAsPassed(false))
	assert.False(t, StatusInProgress.CountsAsPassed(false))
	assert.False(t, StatusNotStarted.CountsAsPassed(false))
}
