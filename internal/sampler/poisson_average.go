package sampler

import (
	"sort"

	"github.com/ecopia-map/octree_converter/internal/attributes"
	"github.com/ecopia-map/octree_converter/internal/geometry"
	"github.com/ecopia-map/octree_converter/internal/octree"
)

// averageGridSide is the uniform acceptance grid resolution used in
// place of outside-in pruning (§4.3.4): 16^3 buckets over the node's box.
const averageGridSide = 16

// PoissonAverage implements the averaging LOD sampler (§4.3.4): same
// greedy acceptance rule as Poisson, but neighbor lookups use a uniform
// 16^3 bucket grid instead of outside-in pruning (faster for dense
// nodes), and accepted rgb representatives are replaced by the mean
// colour of every point within spacing.
type PoissonAverage struct{}

func (PoissonAverage) Sample(root *octree.Node, attrs *attributes.Attributes, baseSpacing float64,
	onNodeCompleted, onNodeDiscarded func(*octree.Node)) {
	rgbOffset := -1
	if d, ok := attrs.Get("rgb"); ok {
		rgbOffset = d.ByteOffset
	}
	accept := func(n *octree.Node, cands []candidate, spacing float64) []bool {
		return poissonAverageAccept(n, cands, spacing, attrs, rgbOffset)
	}
	run(root, attrs, baseSpacing, accept, onNodeCompleted, onNodeDiscarded)
}

type bucketKey struct{ x, y, z int }

func poissonAverageAccept(n *octree.Node, cands []candidate, spacing float64, attrs *attributes.Attributes, rgbOffset int) []bool {
	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return cands[order[a]].distSq < cands[order[b]].distSq })

	cellSize := (n.Box.Max.X - n.Box.Min.X) / averageGridSide
	if cellSize <= 0 {
		cellSize = spacing
	}
	buckets := make(map[bucketKey][]int) // bucket -> accepted candidate indices (into cands)
	bucketOf := func(p geometry.Vector3) bucketKey {
		return bucketKey{
			x: clampBucket(int((p.X - n.Box.Min.X) / cellSize)),
			y: clampBucket(int((p.Y - n.Box.Min.Y) / cellSize)),
			z: clampBucket(int((p.Z - n.Box.Min.Z) / cellSize)),
		}
	}

	accepted := make([]bool, len(cands))
	spacingSq := spacing * spacing

	for _, idx := range order {
		c := cands[idx]
		bk := bucketOf(c.world)
		blocked := false
		for dx := -1; dx <= 1 && !blocked; dx++ {
			for dy := -1; dy <= 1 && !blocked; dy++ {
				for dz := -1; dz <= 1 && !blocked; dz++ {
					nb := bucketKey{bk.x + dx, bk.y + dy, bk.z + dz}
					for _, otherIdx := range buckets[nb] {
						if cands[otherIdx].world.SquaredDistance(c.world) < spacingSq {
							blocked = true
							break
						}
					}
					if blocked {
						break
					}
				}
			}
		}
		if blocked {
			continue
		}
		accepted[idx] = true
		buckets[bk] = append(buckets[bk], idx)
	}

	if rgbOffset >= 0 {
		for _, idx := range order {
			if !accepted[idx] {
				continue
			}
			center := cands[idx]
			var sumR, sumG, sumB, weight float64
			for _, other := range cands {
				if center.world.SquaredDistance(other.world) > spacing*spacing {
					continue
				}
				r, g, b := readRGB(other, attrs, rgbOffset)
				sumR += float64(r)
				sumG += float64(g)
				sumB += float64(b)
				weight++
			}
			if weight > 0 {
				writeRGB(center, attrs, rgbOffset, uint16(sumR/weight), uint16(sumG/weight), uint16(sumB/weight))
			}
		}
	}

	return accepted
}

func clampBucket(v int) int {
	if v < 0 {
		return 0
	}
	if v >= averageGridSide {
		return averageGridSide - 1
	}
	return v
}

func readRGB(c candidate, attrs *attributes.Attributes, rgbOffset int) (r, g, b uint16) {
	recBytes := attrs.Bytes
	rec := c.child.Points[c.ptIdx*recBytes : (c.ptIdx+1)*recBytes]
	r = uint16(rec[rgbOffset]) | uint16(rec[rgbOffset+1])<<8
	g = uint16(rec[rgbOffset+2]) | uint16(rec[rgbOffset+3])<<8
	b = uint16(rec[rgbOffset+4]) | uint16(rec[rgbOffset+5])<<8
	return
}

// writeRGB overwrites c's own record bytes with the mean colour, in
// place in its child's buffer, so the value partition() subsequently
// copies into the accepting node's Points is the averaged colour rather
// than the original candidate's.
func writeRGB(c candidate, attrs *attributes.Attributes, rgbOffset int, r, g, b uint16) {
	recBytes := attrs.Bytes
	rec := c.child.Points[c.ptIdx*recBytes : (c.ptIdx+1)*recBytes]
	rec[rgbOffset], rec[rgbOffset+1] = byte(r), byte(r>>8)
	rec[rgbOffset+2], rec[rgbOffset+3] = byte(g), byte(g>>8)
	rec[rgbOffset+4], rec[rgbOffset+5] = byte(b), byte(b>>8)
}
