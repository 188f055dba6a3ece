package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolRegistryRegisterAndGet(t *testing.T) {
	r := NewToolRegistry()

	r.Register(&ToolMetadata{Name: "session_start", Description: "open a session", Category: CategorySession})

	meta, ok := r.Get("session_start")
	require.True(t, ok)
	assert.Equal(t, "open a session", meta.Description)

	_, ok = r.Get("nonexistent")
	assert.False(t, ok)
}

func TestToolRegistryIgnoresInvalid(t *testing.T) {
	r := NewToolRegistry()

	r.Register(nil)
	r.Register(&ToolMetadata{Name: ""})

	assert.Empty(t, r.ListNames())
}

func TestToolRegistryListNamesSorted(t *testing.T) {
	r := NewToolRegistry()

	r.Register(&ToolMetadata{Name: "session_validate", Category: CategorySession})
	r.Register(&ToolMetadata{Name: "gate_status", Category: CategoryGate})
	r.Register(&ToolMetadata{Name: "requirement_mark", Category: CategoryRequirement})

	assert.Equal(t, []string{"gate_status", "requirement_mark", "session_validate"}, r.ListNames())
}

func TestToolRegistryListByCategory(t *testing.T) {
	r := NewToolRegistry()

	r.Register(&ToolMetadata{Name: "session_end", Category: CategorySession})
	r.Register(&ToolMetadata{Name: "session_approve", Category: CategorySession})
	r.Register(&ToolMetadata{Name: "gate_approve", Category: CategoryGate})

	tools := r.ListByCategory(CategorySession)
	require.Len(t, tools, 2)
	assert.Equal(t, "session_approve", tools[0].Name)
	assert.Equal(t, "session_end", tools[1].Name)

	assert.Empty(t, r.ListByCategory(CategoryRequirement))
}

func TestToolRegistryOverwrite(t *testing.T) {
	r := NewToolRegistry()

	r.Register(&ToolMetadata{Name: "gate_status", Description: "old"})
	r.Register(&ToolMetadata{Name: "gate_status", Description: "new"})

	meta, ok := r.Get("gate_status")
	require.True(t, ok)
	assert.Equal(t, "new", meta.Description)
	assert.Len(t, r.ListNames(), 1)
}
