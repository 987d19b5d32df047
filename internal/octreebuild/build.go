// Package octreebuild implements the per-chunk octree construction
// described in spec §4.3.1 (buildHierarchy): the same count->plan->
// distribute idea as the chunker, recursively, over one chunk's already
// in-memory point buffer.
package octreebuild

import (
	"github.com/golang/glog"

	"github.com/ecopia-map/octree_converter/internal/attributes"
	"github.com/ecopia-map/octree_converter/internal/geometry"
	"github.com/ecopia-map/octree_converter/internal/grid"
	"github.com/ecopia-map/octree_converter/internal/octree"
	"github.com/ecopia-map/octree_converter/internal/pointrec"
)

// innerGridSide is the 2^5 = 32 counting grid side used to re-partition
// a node's points during recursive splitting (§4.3.1 step 2).
const innerGridSide = 32

// Builder holds the inputs shared by every recursive split within one
// chunk's subtree: the schema needed to stride records and decode
// position, and the point budget a node must fall under to become a
// leaf.
type Builder struct {
	Attrs            *attributes.Attributes
	MaxPointsPerNode int
}

// Build constructs a node rooted at name (normally "r" for a chunk's own
// root) covering box, from points (a packed buffer of numPoints records
// in b.Attrs' layout). Build may reorder points in place.
func (b *Builder) Build(name string, box geometry.BoundingBox, points []byte) *octree.Node {
	n := octree.NewNode(name, box)
	numPoints := len(points) / b.Attrs.Bytes
	n.NumPoints = numPoints

	if numPoints <= b.MaxPointsPerNode {
		n.Points = points
		return n
	}

	b.split(n, points, numPoints)
	return n
}

func (b *Builder) split(n *octree.Node, points []byte, numPoints int) {
	recBytes := b.Attrs.Bytes
	counter := grid.NewCounter(n.Box, innerGridSide)
	cells := make([]uint64, numPoints)
	for i := 0; i < numPoints; i++ {
		rec := points[i*recBytes : (i+1)*recBytes]
		world := b.decodePosition(rec)
		cx, cy, cz := pointrec.CellIndexForPoint(world, n.Box.Min, n.Box.Max.X-n.Box.Min.X, innerGridSide)
		m := counter.CellMorton(cx, cy, cz)
		cells[i] = m
		counter.Cells[m]++
	}

	candidates := grid.Plan(counter, int64(b.MaxPointsPerNode))
	if len(candidates) == 0 {
		// grid.Plan yields no candidate only when nothing was counted;
		// keep the buffer as this node's own points. (All points in one
		// finest cell yields a single candidate, handled below.)
		n.Points = points
		return
	}

	// Destination ranges via prefix sum over candidates' cell ranges
	// (§4.3.1 step 3: "parallel prefix-sum of counters to assign
	// contiguous destination ranges"). Candidates from grid.Plan may
	// span multiple finest-grid cells when collapsed early, so build a
	// lookup from finest-cell Morton code to candidate index instead of
	// assuming a 1:1 cell mapping.
	cellToCandidate := make(map[uint64]int, len(candidates))
	for ci, cand := range candidates {
		for _, leafCell := range leafCellsUnder(cand, counter.MaxLevel) {
			cellToCandidate[leafCell] = ci
		}
	}

	offsets := make([]int, len(candidates)+1)
	counts := make([]int, len(candidates))
	for i := 0; i < numPoints; i++ {
		counts[cellToCandidate[cells[i]]]++
	}
	for i, c := range counts {
		offsets[i+1] = offsets[i] + c
	}

	permuted := make([]byte, len(points))
	cursor := append([]int{}, offsets[:len(candidates)]...)
	for i := 0; i < numPoints; i++ {
		ci := cellToCandidate[cells[i]]
		dst := cursor[ci]
		cursor[ci]++
		copy(permuted[dst*recBytes:(dst+1)*recBytes], points[i*recBytes:(i+1)*recBytes])
	}

	for ci, cand := range candidates {
		start, end := offsets[ci], offsets[ci+1]
		childPoints := permuted[start*recBytes : end*recBytes]
		childNum := end - start

		if childNum == numPoints && len(candidates) == 1 {
			b.handleDuplicateSafeguard(n, cand, childPoints, childNum)
			return
		}

		leaf := b.Build(n.Name+digitsSuffix(cand.Digits), cand.Box, childPoints)
		attachChain(n, cand.Digits, leaf)
	}
}

// digitsSuffix renders a candidate's digit path as the name suffix to
// append to its ancestor's name.
func digitsSuffix(digits []uint8) string {
	buf := make([]byte, len(digits))
	for i, d := range digits {
		buf[i] = '0' + d
	}
	return string(buf)
}

// attachChain grafts leaf under n at the end of digits, materializing an
// empty single-child inner node for every intermediate level the grid
// collapse skipped over (Pass B can jump straight from a coarse node to
// a deep candidate when most octants along the way are empty).
func attachChain(n *octree.Node, digits []uint8, leaf *octree.Node) {
	cur := n
	for depth := 0; depth < len(digits)-1; depth++ {
		d := digits[depth]
		next := cur.Children[d]
		if next == nil {
			next = octree.NewNode(cur.Name+string('0'+d), cur.Box.Octant(d))
			cur.SetChild(d, next)
		}
		cur = next
	}
	cur.SetChild(digits[len(digits)-1], leaf)
}

// leafCellsUnder enumerates the finest-grid Morton codes that fall under
// a (possibly coarser) candidate cell, so the permutation pass can map
// every finest-grid index back to the candidate that swallowed it.
func leafCellsUnder(cand grid.Candidate, maxLevel int) []uint64 {
	remaining := maxLevel - cand.Level
	base := pathToMorton(cand.Digits)
	if remaining == 0 {
		return []uint64{base}
	}
	count := 1 << uint(3*remaining)
	out := make([]uint64, count)
	base <<= uint(3 * remaining)
	for i := 0; i < count; i++ {
		out[i] = base | uint64(i)
	}
	return out
}

func pathToMorton(digits []uint8) uint64 {
	var idx uint64
	for _, d := range digits {
		idx = (idx << 3) | uint64(d)
	}
	return idx
}

// handleDuplicateSafeguard implements §4.3.1's "Duplicate-point
// safeguard": a recursive split that could not separate any points
// (the sole resulting candidate holds every input point) means the
// points are spatially coincident at this grid resolution. If the number
// of exact duplicates (points minus distinct integer (X,Y,Z) positions)
// is under half the budget, accept the skewed distribution with a
// warning; otherwise deduplicate and retry the split on the reduced set.
func (b *Builder) handleDuplicateSafeguard(n *octree.Node, cand grid.Candidate, points []byte, numPoints int) {
	recBytes := b.Attrs.Bytes
	seen := make(map[[3]int32]int, numPoints) // coordinate -> first buffer index
	var distinct []int
	for i := 0; i < numPoints; i++ {
		x, y, z := pointrec.GetPosition(points[i*recBytes : i*recBytes+12])
		key := [3]int32{x, y, z}
		if _, ok := seen[key]; !ok {
			seen[key] = i
			distinct = append(distinct, i)
		}
	}

	numDuplicates := numPoints - len(distinct)
	if numDuplicates < b.MaxPointsPerNode/2 {
		glog.Warningf("octreebuild: node %s: %d points are duplicates at the finest grid resolution "+
			"(only %d distinct), accepting the unfavorable distribution", n.Name, numDuplicates, len(distinct))
		n.Points = points
		n.NumPoints = numPoints
		return
	}

	deduped := make([]byte, len(distinct)*recBytes)
	for i, srcIdx := range distinct {
		copy(deduped[i*recBytes:(i+1)*recBytes], points[srcIdx*recBytes:(srcIdx+1)*recBytes])
	}
	glog.Warningf("octreebuild: node %s: deduplicated %d coincident points down to %d distinct, retrying split",
		n.Name, numPoints, len(distinct))
	n.NumPoints = len(distinct)
	if len(distinct) <= b.MaxPointsPerNode {
		n.Points = deduped
		return
	}
	b.split(n, deduped, len(distinct))
}

func (b *Builder) decodePosition(rec []byte) geometry.Vector3 {
	x, y, z := pointrec.GetPosition(rec)
	return pointrec.DequantizePosition(x, y, z, b.Attrs.PosScale, b.Attrs.PosOffset)
}
