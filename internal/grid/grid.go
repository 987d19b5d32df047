// Package grid implements the fine Morton-addressed counting grid and the
// sum-pyramid collapse that both the chunker (§4.2 passes A/B) and the
// per-chunk octree builder (§4.3.1) use to turn raw point counts into a
// balanced set of octree-shaped node candidates.
package grid

import (
	"github.com/ecopia-map/octree_converter/internal/geometry"
	"github.com/ecopia-map/octree_converter/internal/morton"
)

// Counter is a fine Morton-addressed grid of gridSide^3 64-bit counters
// over a cubed bounding box. gridSide must be a power of two.
type Counter struct {
	Box      geometry.BoundingBox
	GridSide uint32
	MaxLevel int // log2(GridSide)
	Cells    []int64
}

// NewCounter allocates a zeroed counting grid, per §4.2 Pass A / §4.3.1.
func NewCounter(box geometry.BoundingBox, gridSide uint32) *Counter {
	level := 0
	for s := gridSide; s > 1; s >>= 1 {
		level++
	}
	n := uint64(gridSide) * uint64(gridSide) * uint64(gridSide)
	return &Counter{Box: box, GridSide: gridSide, MaxLevel: level, Cells: make([]int64, n)}
}

// CellMorton returns the flat Morton-ordered index of cell (cx,cy,cz).
func (c *Counter) CellMorton(cx, cy, cz uint32) uint64 {
	return morton.Encode21(cx, cy, cz)
}

// Add increments the counter for the cell a world-space point falls
// into. Safe to call from a single goroutine per Counter; callers
// maintain one Counter per worker and merge with Merge.
func (c *Counter) Add(world geometry.Vector3) {
	cx, cy, cz := cellOf(world, c.Box, c.GridSide)
	c.Cells[c.CellMorton(cx, cy, cz)]++
}

// Merge accumulates another counter's cells into c elementwise, used to
// combine per-worker local grids (§4.2 "per-thread local grids are
// merged at the end").
func (c *Counter) Merge(o *Counter) {
	for i, v := range o.Cells {
		c.Cells[i] += v
	}
}

func cellOf(world geometry.Vector3, box geometry.BoundingBox, gridSide uint32) (uint32, uint32, uint32) {
	cubeSize := box.Max.X - box.Min.X
	cellSize := cubeSize / float64(gridSide)
	cx := clampAxis(world.X, box.Min.X, cellSize, gridSide)
	cy := clampAxis(world.Y, box.Min.Y, cellSize, gridSide)
	cz := clampAxis(world.Z, box.Min.Z, cellSize, gridSide)
	return cx, cy, cz
}

func clampAxis(w, min, cellSize float64, gridSide uint32) uint32 {
	v := int64((w - min) / cellSize)
	if v < 0 {
		return 0
	}
	if v >= int64(gridSide) {
		return gridSide - 1
	}
	return uint32(v)
}

// Candidate is a node-shaped chunk/octree-node plan emitted by Plan: its
// count is within budget (or it is a forced leaf at the finest grid
// level), and Digits identifies its path from the grid root.
type Candidate struct {
	Digits    []uint8
	NumPoints int64
	Level     int
	Box       geometry.BoundingBox
}

// Plan builds the sum pyramid over a Counter and collapses it into a
// list of Candidates, per §4.2 Pass B: starting from the root, recurse
// into a cell's 8 children whenever its count exceeds maxPerCandidate;
// otherwise emit it (skipping zero-count cells).
func Plan(c *Counter, maxPerCandidate int64) []Candidate {
	pyramid := buildPyramid(c)
	var out []Candidate
	var walk func(level int, digits []uint8, box geometry.BoundingBox)
	walk = func(level int, digits []uint8, box geometry.BoundingBox) {
		count := pyramid[level][pathIndex(digits)]
		if count == 0 {
			return
		}
		if count <= maxPerCandidate || level == c.MaxLevel {
			out = append(out, Candidate{
				Digits:    append([]uint8{}, digits...),
				NumPoints: count,
				Level:     level,
				Box:       box,
			})
			return
		}
		for i := uint8(0); i < 8; i++ {
			walk(level+1, append(digits, i), box.Octant(i))
		}
	}
	walk(0, nil, c.Box)
	return out
}

// pyramid[level] holds one int64 counter per cell at that level, indexed
// by the Morton path digits from the root (most significant digit
// first), levels running from 0 (root, 1 cell) to MaxLevel (GridSide^3
// cells, the raw counting grid itself).
func buildPyramid(c *Counter) [][]int64 {
	levels := make([][]int64, c.MaxLevel+1)
	levels[c.MaxLevel] = c.Cells
	for l := c.MaxLevel - 1; l >= 0; l-- {
		childCount := len(levels[l+1])
		n := childCount / 8
		levels[l] = make([]int64, n)
		for i := 0; i < n; i++ {
			var sum int64
			for k := 0; k < 8; k++ {
				sum += levels[l+1][i*8+k]
			}
			levels[l][i] = sum
		}
	}
	return levels
}

// pathIndex computes a digit path's flat index within its level's pyramid
// slice, mirroring the Morton-ordered layout: each digit contributes
// 3 bits, most significant digit placed highest.
func pathIndex(digits []uint8) uint64 {
	var idx uint64
	for _, d := range digits {
		idx = (idx << 3) | uint64(d)
	}
	return idx
}
