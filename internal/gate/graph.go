// internal/gate/graph.go
package gate

import (
	"fmt"
	"sort"
)

// Graph is the static gate dependency graph. It is never mutated at runtime.
type Graph struct {
	prereqs          map[ID][]ID
	customerApproval map[ID]bool
}

// NewGraph returns the fixed gate topology:
//
//	D1 -> D2 -> D3 -> D4 -> G2 -> G3 -> G4
//
// with G4 additionally depending on G2 directly. D1 is the only leaf.
// Gates D2, D3, D4, and G4 are customer-facing and require customer approval.
func NewGraph() *Graph {
	g := &Graph{
		prereqs: map[ID][]ID{
			D1: {},
			D2: {D1},
			D3: {D2},
			D4: {D3},
			G2: {D4},
			G3: {G2},
			G4: {G2, G3},
		},
		customerApproval: map[ID]bool{
			D2: true,
			D3: true,
			D4: true,
			G4: true,
		},
	}
	if err := g.checkAcyclic(); err != nil {
		// The topology is a compile-time constant; a cycle here is a bug.
		panic(fmt.Sprintf("gate: invalid topology: %v", err))
	}
	return g
}

// PrerequisitesOf returns the direct prerequisites of a gate, sorted.
func (g *Graph) PrerequisitesOf(id ID) []ID {
	prereqs, ok := g.prereqs[id]
	if !ok {
		return nil
	}
	out := make([]ID, len(prereqs))
	copy(out, prereqs)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsUnlocked reports whether every prerequisite of the gate counts as passed
// in the given status map. With strict=true, passed_with_warnings does not
// satisfy a prerequisite.
func (g *Graph) IsUnlocked(id ID, statuses map[ID]Status, strict bool) bool {
	for _, prereq := range g.prereqs[id] {
		if !statuses[prereq].CountsAsPassed(strict) {
			return false
		}
	}
	return true
}

// RequiresCustomerApproval reports whether the gate is customer-facing.
func (g *Graph) RequiresCustomerApproval(id ID) bool {
	return g.customerApproval[id]
}

// checkAcyclic verifies the topology has no cycles and no dangling edges.
func (g *Graph) checkAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[ID]int, len(g.prereqs))

	var visit func(id ID) error
	visit = func(id ID) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("cycle involving gate %s", id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, prereq := range g.prereqs[id] {
			if _, ok := g.prereqs[prereq]; !ok {
				return fmt.Errorf("gate %s depends on undefined gate %s", id, prereq)
			}
			if err := visit(prereq); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for id := range g.prereqs {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}
