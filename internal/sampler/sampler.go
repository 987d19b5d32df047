// Package sampler implements the bottom-up Poisson-disk level-of-detail
// samplers described in spec §4.3.2-5: poisson, poisson_average, and
// random. All three share the post-order traversal and per-level
// spacing contract; they differ only in how a node picks representative
// points from the union of its children.
package sampler

import (
	"github.com/ecopia-map/octree_converter/internal/attributes"
	"github.com/ecopia-map/octree_converter/internal/geometry"
	"github.com/ecopia-map/octree_converter/internal/octree"
	"github.com/ecopia-map/octree_converter/internal/pointrec"
)

// Sampler is the sampler interface every strategy implements, matching
// spec §4.3.2's sample(root, attributes, baseSpacing, onNodeCompleted,
// onNodeDiscarded) contract.
type Sampler interface {
	Sample(root *octree.Node, attrs *attributes.Attributes, baseSpacing float64,
		onNodeCompleted, onNodeDiscarded func(*octree.Node))
}

// Spacing returns the per-level minimum accepted distance, per §4.3.2:
// spacing(level) = baseSpacing / 2^level.
func Spacing(baseSpacing float64, level int) float64 {
	return baseSpacing / float64(uint64(1)<<uint(level))
}

// BaseSpacing derives the root spacing from the global cube, per
// §4.3.2: baseSpacing = (globalMax.x - globalMin.x) / 128.
func BaseSpacing(globalBox geometry.BoundingBox) float64 {
	return (globalBox.Max.X - globalBox.Min.X) / 128
}

// candidate is one point gathered from a child during sampling, tagged
// with its origin so accept/reject decisions can be written back.
type candidate struct {
	childIdx  int
	child     *octree.Node
	ptIdx     int
	world     geometry.Vector3
	distSq    float64 // squared distance to the node's box center
}

// gather collects every point from n's existing children into a flat
// candidate list, decoded to world space, in a deterministic order:
// children visited 0..7, points in buffer order within each child. This
// fixed gather order is what makes the stable sort's tie-breaking
// deterministic across runs (§5 "Ordering guarantees").
func gather(n *octree.Node, attrs *attributes.Attributes) []candidate {
	center := n.Box.Center()
	recBytes := attrs.Bytes
	var out []candidate
	for ci := 0; ci < 8; ci++ {
		child := n.Children[ci]
		if child == nil || child.NumPoints == 0 {
			continue
		}
		for pi := 0; pi < child.NumPoints; pi++ {
			rec := child.Points[pi*recBytes : (pi+1)*recBytes]
			x, y, z := pointrec.GetPosition(rec)
			world := pointrec.DequantizePosition(x, y, z, attrs.PosScale, attrs.PosOffset)
			out = append(out, candidate{childIdx: ci, child: child, ptIdx: pi, world: world, distSq: world.SquaredDistance(center)})
		}
	}
	return out
}

// partition splits a node's children into completed/discarded/unchanged
// per §4.3.3 step "Post-sampling per child", given an accepted[] bitmap
// parallel to the flat candidate order gather() produced, and builds
// n's own accepted-point buffer plus each child's remaining buffer.
//
// recBytes is the packed record size; attrs is unused here beyond that,
// kept for symmetry with gather.
func partition(n *octree.Node, attrs *attributes.Attributes, cands []candidate, accepted []bool,
	onNodeCompleted, onNodeDiscarded func(*octree.Node)) {
	recBytes := attrs.Bytes

	// Bucket candidate indices by child so each child's rejected subset
	// preserves its original within-child order.
	byChild := make(map[int][]int)
	for i, c := range cands {
		if !accepted[i] {
			byChild[c.childIdx] = append(byChild[c.childIdx], i)
		}
	}

	var ownBuf []byte
	for i, c := range cands {
		if accepted[i] {
			child := n.Children[c.childIdx]
			ownBuf = append(ownBuf, child.Points[c.ptIdx*recBytes:(c.ptIdx+1)*recBytes]...)
		}
	}
	n.Points = ownBuf
	n.NumPoints = len(ownBuf) / recBytes
	n.Sampled = true

	for ci := 0; ci < 8; ci++ {
		child := n.Children[ci]
		if child == nil {
			continue
		}
		rejectedIdx := byChild[ci]
		allAccepted := len(rejectedIdx) == 0

		if allAccepted && child.IsLeaf() {
			n.Children[ci] = nil
			if onNodeDiscarded != nil {
				onNodeDiscarded(child)
			}
			continue
		}
		if allAccepted {
			// Inner node emptied out entirely: keep the (now pointless)
			// structural node so the hierarchy never claims points a
			// decoder would try and fail to read (§4.3.3 step b).
			child.Points = nil
			child.NumPoints = 0
			child.Sampled = true
			continue
		}

		rejectedBuf := make([]byte, 0, len(rejectedIdx)*recBytes)
		for _, idx := range rejectedIdx {
			c := cands[idx]
			rejectedBuf = append(rejectedBuf, child.Points[c.ptIdx*recBytes:(c.ptIdx+1)*recBytes]...)
		}
		child.Points = rejectedBuf
		child.NumPoints = len(rejectedBuf) / recBytes
		child.Sampled = true
		if onNodeCompleted != nil {
			onNodeCompleted(child)
		}
	}
}

// run drives the shared post-order traversal: every non-leaf node is
// sampled via accept, which must return an accepted[] bitmap parallel
// to the candidate list gather() produces (in the same order). Nodes
// already marked Sampled by an earlier call (chunk subtrees under the
// merged global root) are skipped.
func run(root *octree.Node, attrs *attributes.Attributes, baseSpacing float64,
	accept func(n *octree.Node, cands []candidate, spacing float64) []bool,
	onNodeCompleted, onNodeDiscarded func(*octree.Node)) {
	root.WalkPostOrder(func(n *octree.Node) {
		if n.IsLeaf() || n.Sampled {
			return
		}
		cands := gather(n, attrs)
		if len(cands) == 0 {
			n.Sampled = true
			return
		}
		spacing := Spacing(baseSpacing, n.Level())
		accepted := accept(n, cands, spacing)
		partition(n, attrs, cands, accepted, onNodeCompleted, onNodeDiscarded)
	})
	root.Sampled = true
}
