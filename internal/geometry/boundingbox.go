package geometry

// BoundingBox is an axis-aligned box with the invariant Min <= Max on every
// axis. The global box handed to the chunker and indexer is always cubed
// (Max = Min + cubeSize on every axis) so octree subdivision is regular.
type BoundingBox struct {
	Min Vector3
	Max Vector3
}

func NewBoundingBox(min, max Vector3) BoundingBox {
	return BoundingBox{Min: min, Max: max}
}

// Cubed returns the smallest cube containing bb, anchored at bb.Min.
func (bb BoundingBox) Cubed() BoundingBox {
	size := bb.Max.Sub(bb.Min)
	cube := size.X
	if size.Y > cube {
		cube = size.Y
	}
	if size.Z > cube {
		cube = size.Z
	}
	return BoundingBox{
		Min: bb.Min,
		Max: Vector3{bb.Min.X + cube, bb.Min.Y + cube, bb.Min.Z + cube},
	}
}

func (bb BoundingBox) Size() Vector3 {
	return bb.Max.Sub(bb.Min)
}

func (bb BoundingBox) Center() Vector3 {
	return bb.Min.Add(bb.Max).Scale(0.5)
}

// Contains reports whether p lies within bb on every axis (inclusive),
// used to verify the octant-containment invariant.
func (bb BoundingBox) Contains(p Vector3) bool {
	return p.X >= bb.Min.X && p.X <= bb.Max.X &&
		p.Y >= bb.Min.Y && p.Y <= bb.Max.Y &&
		p.Z >= bb.Min.Z && p.Z <= bb.Max.Z
}

func (bb BoundingBox) Union(o BoundingBox) BoundingBox {
	return BoundingBox{Min: bb.Min.Min(o.Min), Max: bb.Max.Max(o.Max)}
}

// Octant returns the i-th child octant (0..7) of bb. Bit 0 selects the x
// half, bit 1 the y half, bit 2 the z half, matching the chunk path digit
// encoding used throughout the chunker and octree.
func (bb BoundingBox) Octant(i uint8) BoundingBox {
	mid := bb.Center()
	min, max := bb.Min, bb.Max
	if i&1 != 0 {
		min.X = mid.X
	} else {
		max.X = mid.X
	}
	if i&2 != 0 {
		min.Y = mid.Y
	} else {
		max.Y = mid.Y
	}
	if i&4 != 0 {
		min.Z = mid.Z
	} else {
		max.Z = mid.Z
	}
	return BoundingBox{Min: min, Max: max}
}
