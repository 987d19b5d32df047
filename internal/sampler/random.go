package sampler

import (
	"math"
	"math/rand"

	"github.com/ecopia-map/octree_converter/internal/attributes"
	"github.com/ecopia-map/octree_converter/internal/octree"
)

// randomGridSide is the shared thread-local acceptance grid resolution
// (§4.3.5): 128^3 buckets.
const randomGridSide = 128

// diagonalBias is the maximum fractional distance (of the cube's main
// diagonal) a candidate's sub-cell position may have from its cell
// center to be accepted, biasing acceptance toward cell interiors
// (§4.3.5).
const diagonalBias = 0.7

// smallLeafThreshold: points from a leaf under this many points accept
// unconditionally (§4.3.5).
const smallLeafThreshold = 100

// Random implements the random LOD sampler (§4.3.5): a shared
// acceptance grid with an iteration counter stands in for the
// poisson/poisson_average samplers' pairwise distance checks, and small
// leaves are shuffled in place rather than sampled.
//
// The original keeps this grid thread-local so it can be reused across
// nodes processed by the same worker; this implementation allocates one
// per Sample call, which is the single-threaded equivalent (one call
// processes one chunk's subtree end to end).
type Random struct {
	rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Sample(root *octree.Node, attrs *attributes.Attributes, baseSpacing float64,
	onNodeCompleted, onNodeDiscarded func(*octree.Node)) {
	rng := r.rng
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	grid := make(map[[3]int]int) // cell -> iteration last marked
	iteration := 0

	root.WalkPostOrder(func(n *octree.Node) {
		if n.Sampled {
			return // already sampled by an earlier per-chunk call
		}
		if n.IsLeaf() {
			if n.NumPoints < smallLeafThreshold {
				shuffleRecords(n.Points, attrs.Bytes, rng)
			}
			return
		}

		iteration++
		cands := gather(n, attrs)
		if len(cands) == 0 {
			n.Sampled = true
			return
		}

		// Each candidate's origin child decides independently whether it
		// is small enough to accept unconditionally; one large sibling
		// must not force grid-bias treatment on points that came from a
		// small one.
		cellSize := (n.Box.Max.X - n.Box.Min.X) / randomGridSide
		accepted := make([]bool, len(cands))
		for i, c := range cands {
			if c.child.NumPoints < smallLeafThreshold {
				accepted[i] = true
				continue
			}

			cell := [3]int{
				clampBucketN(int((c.world.X-n.Box.Min.X)/cellSize), randomGridSide),
				clampBucketN(int((c.world.Y-n.Box.Min.Y)/cellSize), randomGridSide),
				clampBucketN(int((c.world.Z-n.Box.Min.Z)/cellSize), randomGridSide),
			}
			if grid[cell] == iteration {
				continue
			}
			// Fractional position within the cell, normalized to [-1,1]
			// per axis (cell center at the origin, corners at distance
			// sqrt(3)), so the diagonal-fraction threshold is actually
			// reachable.
			lx := 2*((c.world.X-n.Box.Min.X)/cellSize-float64(cell[0])) - 1
			ly := 2*((c.world.Y-n.Box.Min.Y)/cellSize-float64(cell[1])) - 1
			lz := 2*((c.world.Z-n.Box.Min.Z)/cellSize-float64(cell[2])) - 1
			dist := math.Sqrt(lx*lx + ly*ly + lz*lz)
			if dist > diagonalBias*math.Sqrt(3) {
				continue
			}
			grid[cell] = iteration
			accepted[i] = true
		}
		partition(n, attrs, cands, accepted, onNodeCompleted, onNodeDiscarded)
	})
	root.Sampled = true
}

func shuffleRecords(buf []byte, recBytes int, rng *rand.Rand) {
	n := len(buf) / recBytes
	tmp := make([]byte, recBytes)
	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		if i == j {
			continue
		}
		copy(tmp, buf[i*recBytes:(i+1)*recBytes])
		copy(buf[i*recBytes:(i+1)*recBytes], buf[j*recBytes:(j+1)*recBytes])
		copy(buf[j*recBytes:(j+1)*recBytes], tmp)
	}
}

func clampBucketN(v, side int) int {
	if v < 0 {
		return 0
	}
	if v >= side {
		return side - 1
	}
	return v
}
