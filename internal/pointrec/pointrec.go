// Package pointrec implements the fixed-layout packed point record (§3):
// position quantization/dequantization against a unified scale/offset, and
// the integer-grid helpers the chunker and the per-chunk octree builder
// both need to address points without re-deriving world coordinates.
package pointrec

import (
	"encoding/binary"
	"math"

	"github.com/ecopia-map/octree_converter/internal/geometry"
)

// QuantizePosition rounds a world-space coordinate triple to the unified
// 32-bit signed integer grid: round((world-offset)/scale). Out-of-range
// values are clamped to the int32 range and clamped reports true, per
// §4.2 "Encoding".
func QuantizePosition(world, scale, offset geometry.Vector3) (x, y, z int32, clamped bool) {
	x, cx := quantizeAxis(world.X, scale.X, offset.X)
	y, cy := quantizeAxis(world.Y, scale.Y, offset.Y)
	z, cz := quantizeAxis(world.Z, scale.Z, offset.Z)
	return x, y, z, cx || cy || cz
}

func quantizeAxis(w, scale, offset float64) (int32, bool) {
	v := math.Round((w - offset) / scale)
	if v > math.MaxInt32 {
		return math.MaxInt32, true
	}
	if v < math.MinInt32 {
		return math.MinInt32, true
	}
	return int32(v), false
}

// DequantizePosition recovers world coordinates from the unified integer
// grid, per the §3 contract "world position = decoded_xyz × posScale +
// posOffset".
func DequantizePosition(x, y, z int32, scale, offset geometry.Vector3) geometry.Vector3 {
	return geometry.Vector3{
		X: float64(x)*scale.X + offset.X,
		Y: float64(y)*scale.Y + offset.Y,
		Z: float64(z)*scale.Z + offset.Z,
	}
}

// PutPosition writes a quantized position into the first 12 bytes of a
// packed record, little-endian, matching §6's on-disk record layout.
func PutPosition(record []byte, x, y, z int32) {
	binary.LittleEndian.PutUint32(record[0:4], uint32(x))
	binary.LittleEndian.PutUint32(record[4:8], uint32(y))
	binary.LittleEndian.PutUint32(record[8:12], uint32(z))
}

// GetPosition reads the 12-byte position header back out.
func GetPosition(record []byte) (x, y, z int32) {
	x = int32(binary.LittleEndian.Uint32(record[0:4]))
	y = int32(binary.LittleEndian.Uint32(record[4:8]))
	z = int32(binary.LittleEndian.Uint32(record[8:12]))
	return
}

// CellIndexForPoint locates the fine counting-grid cell a quantized point
// falls into relative to a cubed bounding box of side cubeSize, for a
// grid of gridSide cells per axis (a power of two), per §4.2 Pass A / the
// per-chunk analogue in §4.3.1.
func CellIndexForPoint(world, boxMin geometry.Vector3, cubeSize float64, gridSide uint32) (cx, cy, cz uint32) {
	cellSize := cubeSize / float64(gridSide)
	cx = clampCell(int64(math.Floor((world.X-boxMin.X)/cellSize)), gridSide)
	cy = clampCell(int64(math.Floor((world.Y-boxMin.Y)/cellSize)), gridSide)
	cz = clampCell(int64(math.Floor((world.Z-boxMin.Z)/cellSize)), gridSide)
	return
}

// clampCell guards against points that fall a hair outside the box due
// to floating point error at the upper edge, or underflow at the lower
// edge; both clamp to the nearest valid cell rather than wrapping.
func clampCell(c int64, gridSide uint32) uint32 {
	if c < 0 {
		return 0
	}
	if c >= int64(gridSide) {
		return gridSide - 1
	}
	return uint32(c)
}
