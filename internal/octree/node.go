// Package octree holds the Node type shared by the per-chunk octree
// builder, the LOD samplers, the writer, the compression codec, and the
// hierarchy emitter (§3 "Node"). The tree is strictly downward: a parent
// owns its children exclusively in an 8-slot table, never the reverse
// (§9 "Cyclic parent/child pointers").
package octree

import "github.com/ecopia-map/octree_converter/internal/geometry"

// Node is one octree vertex. Points is the packed point buffer in the
// unified record layout (§3); it is dropped (set nil) as soon as the
// writer has persisted it.
type Node struct {
	Name     string // "r" + child-index digits, root is "r"
	Box      geometry.BoundingBox
	Children [8]*Node

	Points    []byte // len == NumPoints * recordBytes
	NumPoints int

	Sampled bool

	ByteOffset int64
	ByteSize   int64
}

// NewNode constructs a leaf-shaped node with no children yet.
func NewNode(name string, box geometry.BoundingBox) *Node {
	return &Node{Name: name, Box: box}
}

// Level returns the node's depth, per §4.3.2: level(node) = len(name) - 1.
func (n *Node) Level() int {
	return len(n.Name) - 1
}

// IsLeaf reports whether n has no attached children.
func (n *Node) IsLeaf() bool {
	for _, c := range n.Children {
		if c != nil {
			return false
		}
	}
	return true
}

// ChildMask returns the 8-bit occupancy mask used by the persisted
// hierarchy record (§3 "Hierarchy node record").
func (n *Node) ChildMask() uint8 {
	var mask uint8
	for i, c := range n.Children {
		if c != nil {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// SetChild attaches child c at octant index i. c's box is kept as the
// caller built it; SetChild neither derives nor checks it against the
// containment invariant (§3 "Node").
func (n *Node) SetChild(i uint8, c *Node) {
	n.Children[i] = c
}

// Walk visits n and every descendant in a pre-order traversal.
func (n *Node) Walk(visit func(*Node)) {
	visit(n)
	for _, c := range n.Children {
		if c != nil {
			c.Walk(visit)
		}
	}
}

// WalkPostOrder visits every descendant before n itself, the order the
// sampler traverses the tree in (§4.3.2 "post-order traversal").
func (n *Node) WalkPostOrder(visit func(*Node)) {
	for _, c := range n.Children {
		if c != nil {
			c.WalkPostOrder(visit)
		}
	}
	visit(n)
}
