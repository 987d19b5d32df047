package sampler

import (
	"math"
	"sort"

	"github.com/ecopia-map/octree_converter/internal/attributes"
	"github.com/ecopia-map/octree_converter/internal/octree"
)

// maxDistanceChecks bounds the worst case of the outside-in prune per
// §4.3.3 step 3 / §9 Open Questions: a hard cap of 10,000 distance
// checks per candidate forces acceptance in pathological configurations.
// This is a documented deliberate compromise the original accepts;
// downstream renderers tolerate the rare resulting spacing violation.
const maxDistanceChecks = 10000

// Poisson implements the default LOD sampler (§4.3.3): at each non-leaf
// node, candidates are sorted by squared distance to the node's box
// center and accepted greedily subject to the per-level spacing
// constraint, using an outside-in prune to bound the number of pairwise
// checks.
type Poisson struct{}

func (Poisson) Sample(root *octree.Node, attrs *attributes.Attributes, baseSpacing float64,
	onNodeCompleted, onNodeDiscarded func(*octree.Node)) {
	run(root, attrs, baseSpacing, poissonAccept, onNodeCompleted, onNodeDiscarded)
}

func poissonAccept(_ *octree.Node, cands []candidate, spacing float64) []bool {
	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	sortOrderByDistance(cands, order)

	accepted := make([]bool, len(cands))
	spacingSq := spacing * spacing

	var acceptedPts []candidate
	for _, idx := range order {
		c := cands[idx]
		isAccepted := true
		checks := 0

		for i := len(acceptedPts) - 1; i >= 0; i-- {
			a := acceptedPts[i]
			checks++
			if checks > maxDistanceChecks {
				break // forced accept, §9 Open Questions
			}
			if a.world.SquaredDistance(c.world) < spacingSq {
				isAccepted = false
				break
			}
			thresh := math.Sqrt(c.distSq) - spacing
			if thresh > 0 && a.distSq < thresh*thresh {
				// every remaining (earlier, even-closer-to-center) point
				// is farther than spacing from c by the triangle
				// inequality; short-circuit to accept.
				break
			}
		}

		accepted[idx] = isAccepted
		if isAccepted {
			acceptedPts = append(acceptedPts, c)
		}
	}
	return accepted
}

// sortOrderByDistance sorts the index permutation order so that
// cands[order[i]] is in ascending distance-to-center order, stable on
// ties to preserve the deterministic gather order (§5).
func sortOrderByDistance(cands []candidate, order []int) {
	sort.SliceStable(order, func(a, b int) bool { return cands[order[a]].distSq < cands[order[b]].distSq })
}
