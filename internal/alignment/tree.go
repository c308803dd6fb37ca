// Package alignment projects a cycle's objectives into their parent/child
// hierarchy and reports where the stored pointers disagree.
package alignment

import (
	"fmt"
	"sort"

	"okrengine/internal/okrstore"
)

// Node is one objective in the alignment forest.
type Node struct {
	Objective okrstore.Objective
	Depth     int
	Children  []*Node
}

// WarningKind classifies an integrity problem between parent and child pointers.
type WarningKind string

const (
	// DanglingParent: ObjectiveID points at RelatedID, which is not in the set.
	DanglingParent WarningKind = "dangling_parent"
	// MissingChildLink: ObjectiveID points at RelatedID, which does not list it as a child.
	MissingChildLink WarningKind = "missing_child_link"
	// StaleChildLink: ObjectiveID lists RelatedID as a child, which points elsewhere or is absent.
	StaleChildLink WarningKind = "stale_child_link"
	// ParentCycle: ObjectiveID is the loop member promoted to a root; RelatedID is its parent.
	ParentCycle WarningKind = "parent_cycle"
)

// Warning describes one integrity problem. The tree still contains every node.
type Warning struct {
	Kind        WarningKind
	ObjectiveID string
	RelatedID   string
	Message     string
}

// Tree is the alignment forest of one cycle.
type Tree struct {
	Roots    []*Node
	Warnings []Warning
}

// Walk visits every node depth-first, parents before children.
func (t Tree) Walk(fn func(*Node)) {
	var visit func(n *Node)
	visit = func(n *Node) {
		fn(n)
		for _, child := range n.Children {
			visit(child)
		}
	}
	for _, root := range t.Roots {
		visit(root)
	}
}

// Size counts the nodes in the forest.
func (t Tree) Size() int {
	n := 0
	t.Walk(func(*Node) { n++ })
	return n
}

// Find returns the node for id, or nil.
func (t Tree) Find(id string) *Node {
	var found *Node
	t.Walk(func(n *Node) {
		if found == nil && n.Objective.ID == id {
			found = n
		}
	})
	return found
}

// Build groups objectives by ParentID into a forest. Objectives without a
// parent are roots; siblings are ordered by level, widest first, keeping
// input order between equal levels. Build never modifies its input.
//
// Objectives whose parent is not in the set become roots with a
// DanglingParent warning. One objective per parent loop is promoted to a
// root with a ParentCycle warning, so no objective is dropped; objectives
// that merely hang off a loop keep their parent.
func Build(objs []okrstore.Objective) Tree {
	var tree Tree

	byID := make(map[string]okrstore.Objective, len(objs))
	for _, o := range objs {
		byID[o.ID] = o
	}

	children := make(map[string][]okrstore.Objective)
	var roots []okrstore.Objective
	for _, o := range objs {
		if o.ParentID == "" {
			roots = append(roots, o)
			continue
		}
		parent, ok := byID[o.ParentID]
		if !ok {
			tree.Warnings = append(tree.Warnings, Warning{
				Kind:        DanglingParent,
				ObjectiveID: o.ID,
				RelatedID:   o.ParentID,
				Message:     fmt.Sprintf("objective %s points at missing parent %s", o.ID, o.ParentID),
			})
			roots = append(roots, o)
			continue
		}
		if !parent.HasChild(o.ID) {
			tree.Warnings = append(tree.Warnings, Warning{
				Kind:        MissingChildLink,
				ObjectiveID: o.ID,
				RelatedID:   parent.ID,
				Message:     fmt.Sprintf("parent %s does not list child %s", parent.ID, o.ID),
			})
		}
		children[o.ParentID] = append(children[o.ParentID], o)
	}

	for _, o := range objs {
		for _, childID := range o.ChildIDs {
			child, ok := byID[childID]
			if ok && child.ParentID == o.ID {
				continue
			}
			tree.Warnings = append(tree.Warnings, Warning{
				Kind:        StaleChildLink,
				ObjectiveID: o.ID,
				RelatedID:   childID,
				Message:     fmt.Sprintf("objective %s lists child %s which does not point back", o.ID, childID),
			})
		}
	}

	visited := make(map[string]bool, len(objs))
	var grow func(o okrstore.Objective, depth int) *Node
	grow = func(o okrstore.Objective, depth int) *Node {
		visited[o.ID] = true
		node := &Node{Objective: o, Depth: depth}
		kids := byLevel(children[o.ID])
		for _, kid := range kids {
			if visited[kid.ID] {
				continue
			}
			node.Children = append(node.Children, grow(kid, depth+1))
		}
		return node
	}

	for _, o := range byLevel(roots) {
		tree.Roots = append(tree.Roots, grow(o, 0))
	}

	// Whatever is still unvisited either sits on a parent loop or hangs off
	// one. Following parents from such a node always ends on a loop; the
	// first loop member reached is promoted, which pulls in the rest of the
	// loop and everything hanging off it.
	for _, o := range objs {
		if visited[o.ID] {
			continue
		}
		onPath := make(map[string]bool)
		cur := o
		for !visited[cur.ID] && !onPath[cur.ID] {
			onPath[cur.ID] = true
			cur = byID[cur.ParentID]
		}
		if visited[cur.ID] {
			continue
		}
		tree.Warnings = append(tree.Warnings, Warning{
			Kind:        ParentCycle,
			ObjectiveID: cur.ID,
			RelatedID:   cur.ParentID,
			Message:     fmt.Sprintf("objective %s closes a parent loop through %s", cur.ID, cur.ParentID),
		})
		tree.Roots = append(tree.Roots, grow(cur, 0))
	}

	sort.SliceStable(tree.Roots, func(i, j int) bool {
		return tree.Roots[i].Objective.Level.Rank() < tree.Roots[j].Objective.Level.Rank()
	})
	return tree
}

func byLevel(objs []okrstore.Objective) []okrstore.Objective {
	sorted := append([]okrstore.Objective(nil), objs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Level.Rank() < sorted[j].Level.Rank()
	})
	return sorted
}
