// Package lasio is the boundary to the LAS/LAZ reader collaborator. Per
// spec §1 this is explicitly out of scope for the converter's core
// engineering; this package only has to honor the interface the rest of
// the pipeline depends on: per-source headers (bounding box, point count,
// native attribute layout) and a point iterator.
//
// The concrete implementation wraps github.com/edaniels/lidario, the same
// upstream the teacher repo vendors as third_party/lasread, for header
// parsing and raw point-record access; extra-bytes VLR interpretation
// (§4.1) is done here directly against the LAS binary layout since it
// feeds the in-scope attribute planner, not the reader boundary itself.
package lasio

import (
	"github.com/ecopia-map/octree_converter/internal/attributes"
	"github.com/ecopia-map/octree_converter/internal/geometry"
)

// RawPoint is one decoded LAS point record, already widened to float64
// world coordinates and the subset of attributes this converter cares
// about. ExtraBytes is the slot for the raw bytes of extra-bytes fields,
// in VLR declaration order; the lidario-backed source leaves it nil, so
// extra-bytes attributes are written as zero bytes.
type RawPoint struct {
	X, Y, Z        float64
	Intensity      uint16
	Classification uint8
	R, G, B        uint16
	HasColor       bool
	ExtraBytes     []byte
}

// Header is the subset of a LAS/LAZ source's fixed header this converter
// needs: its world-space bounding box, point count, and native
// position encoding.
type Header struct {
	Min, Max      geometry.Vector3
	PosScale      geometry.Vector3
	PosOffset     geometry.Vector3
	NumberOfPoints int
	PointFormat   int
}

// Source is one opened LAS/LAZ input file.
type Source interface {
	Header() Header
	// Attributes reports the attribute descriptors native to this source,
	// derived from its point data format plus any extra-bytes VLR, not
	// yet unified against other sources (§4.1).
	Attributes() ([]attributes.Descriptor, error)
	// Points returns an iterator over this source's points in file
	// order. The iterator must be safe to advance from a single
	// goroutine; callers parallelize across sources, not within one.
	Points() (PointIterator, error)
	Close() error
}

// PointIterator yields one RawPoint at a time.
type PointIterator interface {
	// Next advances the iterator and reports whether a point was
	// produced. Returns false, nil at end of stream and false, err on
	// I/O failure.
	Next() (RawPoint, bool, error)
}

// Opener opens a single LAS/LAZ file by path. Implementations may reject
// LAZ (compressed) inputs if no decompressor is wired; spec treats
// unsupported formats as fatal (§7).
type Opener interface {
	Open(path string) (Source, error)
}
