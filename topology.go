// The MIT License
//
// Copyright (c) 2025-2026 by the author(s)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//
// Description:
//
// Bus topology built from decoded self-ID packets. A build cycle collects
// one node per PHY, Finalize links parent and child ports into a tree and
// elects the root. Damaged topologies are recorded with warnings instead of
// being rejected; IsConsistent tells the two cases apart.

package goohci1394

import "fmt"

// TopologyNode is one node of the finalized bus tree.
type TopologyNode struct {
	NodeID int
	SelfID SelfIDNode

	Parent   *TopologyNode
	Children []*TopologyNode
}

// Topology accumulates self-ID nodes over a build cycle and exposes the
// finalized tree.
type Topology struct {
	generation uint8
	open       bool
	finalized  bool

	nodes    []*TopologyNode
	root     *TopologyNode
	warnings []string
	edges    int
}

// BeginCycle opens a build cycle for the given bus generation, discarding
// any previous tree.
func (t *Topology) BeginCycle(generation uint8) {
	t.Clear()
	t.generation = generation
	t.open = true
}

// Generation returns the bus generation of the current cycle.
func (t *Topology) Generation() uint8 { return t.generation }

// AddOrUpdateNode records one decoded self-ID node. A node with a PHY id
// already seen in this cycle replaces the earlier record.
func (t *Topology) AddOrUpdateNode(n SelfIDNode) {
	if !t.open {
		return
	}
	for _, existing := range t.nodes {
		if existing.SelfID.PhyID == n.PhyID {
			existing.SelfID = n
			return
		}
	}
	t.nodes = append(t.nodes, &TopologyNode{SelfID: n})
}

// Finalize closes the cycle: node ids are assigned in discovery order,
// parent ports are linked to unclaimed child ports first-match, and the root
// is elected. Structural damage is recorded as warnings.
func (t *Topology) Finalize() {
	if !t.open {
		return
	}
	t.open = false
	t.finalized = true

	for i, node := range t.nodes {
		node.NodeID = i
	}

	// claimed child ports per node
	claimed := make([]int, len(t.nodes))

	for _, node := range t.nodes {
		for p := 0; p < node.SelfID.ParentPorts(); p++ {
			parent := t.claimChildPort(node, claimed)
			if parent == nil {
				t.warnings = append(t.warnings,
					fmt.Sprintf("phy %d: parent port without matching child port", node.SelfID.PhyID))
				continue
			}
			if node.Parent != nil {
				t.warnings = append(t.warnings,
					fmt.Sprintf("phy %d: multiple parent links", node.SelfID.PhyID))
				continue
			}
			node.Parent = parent
			parent.Children = append(parent.Children, node)
			t.edges++
		}
	}

	if n := len(t.nodes); n > 0 && t.edges != n-1 {
		t.warnings = append(t.warnings,
			fmt.Sprintf("%d edge(s) for %d node(s)", t.edges, n))
	}

	t.electRoot()
}

// claimChildPort finds the first node other than child that still has an
// unclaimed child port.
func (t *Topology) claimChildPort(child *TopologyNode, claimed []int) *TopologyNode {
	for i, cand := range t.nodes {
		if cand == child {
			continue
		}
		if claimed[i] < cand.SelfID.ChildPorts() {
			claimed[i]++
			return cand
		}
	}
	return nil
}

// electRoot picks the node without parent ports; if none or several
// qualify, the first contender is the fallback.
func (t *Topology) electRoot() {
	t.root = nil
	for _, node := range t.nodes {
		if node.SelfID.ParentPorts() == 0 {
			if t.root != nil {
				t.warnings = append(t.warnings,
					fmt.Sprintf("phy %d and phy %d both look like the root",
						t.root.SelfID.PhyID, node.SelfID.PhyID))
				continue
			}
			t.root = node
		}
	}
	if t.root != nil {
		return
	}

	for _, node := range t.nodes {
		if node.SelfID.Contender {
			t.root = node
			t.warnings = append(t.warnings,
				fmt.Sprintf("no parentless node, falling back to contender phy %d", node.SelfID.PhyID))
			return
		}
	}
	if len(t.nodes) > 0 {
		t.warnings = append(t.warnings, "no root candidate")
	}
}

// Clear resets the topology to empty.
func (t *Topology) Clear() {
	t.generation = 0
	t.open = false
	t.finalized = false
	t.nodes = nil
	t.root = nil
	t.warnings = nil
	t.edges = 0
}

// NodeCount returns the number of recorded nodes.
func (t *Topology) NodeCount() int { return len(t.nodes) }

// Warnings returns the structural warnings gathered during Finalize.
func (t *Topology) Warnings() []string { return t.warnings }

// Root returns the elected root, or nil before Finalize.
func (t *Topology) Root() *TopologyNode {
	if !t.finalized {
		return nil
	}
	return t.root
}

// FindByPhy returns the node with the given PHY id, or nil.
func (t *Topology) FindByPhy(phy uint8) *TopologyNode {
	if !t.finalized {
		return nil
	}
	for _, node := range t.nodes {
		if node.SelfID.PhyID == phy {
			return node
		}
	}
	return nil
}

// FindByNodeID returns the node with the given node id, or nil.
func (t *Topology) FindByNodeID(id int) *TopologyNode {
	if !t.finalized || id < 0 || id >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// ForEachNode visits every node in node-id order. Valid after Finalize.
func (t *Topology) ForEachNode(fn func(*TopologyNode)) {
	if !t.finalized {
		return
	}
	for _, node := range t.nodes {
		fn(node)
	}
}

// IsConsistent reports whether the finalized tree is structurally sound:
// exactly one root, parent and child port counts matching N-1 edges, and
// reciprocal parent/child links.
func (t *Topology) IsConsistent() bool {
	if !t.finalized || t.root == nil {
		return false
	}
	n := len(t.nodes)

	parentPorts, childPorts := 0, 0
	for _, node := range t.nodes {
		parentPorts += node.SelfID.ParentPorts()
		childPorts += node.SelfID.ChildPorts()

		if node != t.root && node.Parent == nil {
			return false
		}
		if node.Parent != nil {
			found := false
			for _, c := range node.Parent.Children {
				if c == node {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	if parentPorts != n-1 || childPorts != n-1 {
		return false
	}
	return t.edges == n-1
}

// MaxHopsFromRoot returns the depth of the tree, -1 before Finalize or
// without a root.
func (t *Topology) MaxHopsFromRoot() int {
	if !t.finalized || t.root == nil {
		return -1
	}

	max := 0
	type entry struct {
		node *TopologyNode
		hops int
	}
	queue := []entry{{t.root, 0}}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if e.hops > max {
			max = e.hops
		}
		for _, c := range e.node.Children {
			queue = append(queue, entry{c, e.hops + 1})
		}
	}
	return max
}
