package supervisor

import (
	"testing"

	"github.com/core-tools/hsu-launcher/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OneLiveProcessPerName(t *testing.T) {
	registry := NewRegistry()

	first := &ManagedProcess{Name: "backend", seq: 1, state: StateReady}
	require.NoError(t, registry.Register(first))

	second := &ManagedProcess{Name: "backend", seq: 2, state: StateNotStarted}
	err := registry.Register(second)
	assert.True(t, errors.IsConflictError(err))

	first.state = StateExited
	require.NoError(t, registry.Register(second), "stopped entries can be replaced")

	got, ok := registry.Get("backend")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistry_RemoveOnlyMatchingEntry(t *testing.T) {
	registry := NewRegistry()

	old := &ManagedProcess{Name: "frontend", seq: 1, state: StateExited}
	current := &ManagedProcess{Name: "frontend", seq: 2, state: StateReady}
	require.NoError(t, registry.Register(old))
	require.NoError(t, registry.Register(current))

	registry.Remove(old)
	assert.Equal(t, 1, registry.Len())

	registry.Remove(current)
	assert.Equal(t, 0, registry.Len())
}

func TestRegistry_SnapshotInStartOrder(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&ManagedProcess{Name: "frontend", seq: 7}))
	require.NoError(t, registry.Register(&ManagedProcess{Name: "backend", seq: 3}))

	snapshot := registry.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "backend", snapshot[0].Name)
	assert.Equal(t, "frontend", snapshot[1].Name)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, canTransition(StateNotStarted, StateStarting))
	assert.True(t, canTransition(StateStarting, StateReady))
	assert.True(t, canTransition(StateReady, StateKilled))
	assert.False(t, canTransition(StateKilled, StateExited))
	assert.False(t, canTransition(StateExited, StateReady))
	assert.False(t, canTransition(StateReady, StateStarting))

	assert.True(t, StateExited.Terminal())
	assert.True(t, StateKilled.Terminal())
	assert.False(t, StateReady.Terminal())
}
