// Package attributes implements the output attribute planner (§4.1): it
// unions the per-source LAS attribute schemas, filters them against a
// user-requested whitelist, and fixes the packed point record layout that
// the chunker and indexer both depend on.
package attributes

import (
	"fmt"
	"math"

	"github.com/ecopia-map/octree_converter/internal/geometry"
)

// Type is the abstract attribute value type, mirroring the small mapping
// table the original reads out of extra-bytes VLR field type codes.
type Type int

const (
	TypeInt8 Type = iota
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeFloat
	TypeDouble
)

// ElementSize returns the byte size of a single element of t.
func (t Type) ElementSize() int {
	switch t {
	case TypeInt8, TypeUint8:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32, TypeFloat:
		return 4
	case TypeInt64, TypeUint64, TypeDouble:
		return 8
	default:
		return 0
	}
}

// ParseType reverses Type.String, used when reloading a schema persisted
// to metadata.json (e.g. --chunkMethod SKIP resuming from chunks/).
func ParseType(s string) (Type, bool) {
	switch s {
	case "int8":
		return TypeInt8, true
	case "int16":
		return TypeInt16, true
	case "int32":
		return TypeInt32, true
	case "int64":
		return TypeInt64, true
	case "uint8":
		return TypeUint8, true
	case "uint16":
		return TypeUint16, true
	case "uint32":
		return TypeUint32, true
	case "uint64":
		return TypeUint64, true
	case "float":
		return TypeFloat, true
	case "double":
		return TypeDouble, true
	default:
		return 0, false
	}
}

func (t Type) String() string {
	switch t {
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	default:
		return "unknown"
	}
}

// Descriptor is an attribute column in the packed point record (§3).
type Descriptor struct {
	Name        string
	Description string
	NumElements int
	ElementSize int
	Type        Type

	// Min/Max hold the per-axis (per-element, for multi-component
	// attributes up to 3 components) extremes, filled by the chunker's
	// distribute pass. Scale/Offset are only carried through a
	// metadata.json round trip; no converter pass sets them, and the
	// unified quantized position scale/offset live in PosScale/PosOffset.
	// All of these are persisted into metadata.json.
	Min, Max, Scale, Offset geometry.Vector3

	// Histogram is only maintained when SizeBytes() == 1, per §3.
	Histogram [256]int64

	// ByteOffset is this attribute's position within the packed record,
	// fixed once by Attributes.finalize.
	ByteOffset int
}

func (d *Descriptor) SizeBytes() int {
	return d.NumElements * d.ElementSize
}

// Attributes is the ordered, fixed-layout schema for one packed point
// record. Position is always the first attribute and is always 12 bytes
// (three int32). Immutable once computed by the planner.
type Attributes struct {
	Descriptors []Descriptor
	Bytes       int

	PosScale  geometry.Vector3
	PosOffset geometry.Vector3
}

const PositionName = "position"

// Index returns the position of the named attribute in Descriptors, or -1.
func (a *Attributes) Index(name string) int {
	for i, d := range a.Descriptors {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// FromDescriptors rebuilds an already-planned schema from its component
// descriptors (declaration order preserved), fixing byte offsets the same
// way Plan does. Used to resume from a previously written chunks/metadata.json
// under --chunkMethod SKIP / --no-chunking, where the planner itself does
// not run again.
func FromDescriptors(descs []Descriptor, posScale, posOffset geometry.Vector3) *Attributes {
	a := &Attributes{Descriptors: append([]Descriptor(nil), descs...), PosScale: posScale, PosOffset: posOffset}
	a.finalize()
	return a
}

func (a *Attributes) Get(name string) (*Descriptor, bool) {
	i := a.Index(name)
	if i < 0 {
		return nil, false
	}
	return &a.Descriptors[i], true
}

// finalize fixes ByteOffset for every descriptor in declaration order and
// sets the total packed record length.
func (a *Attributes) finalize() {
	offset := 0
	for i := range a.Descriptors {
		a.Descriptors[i].ByteOffset = offset
		offset += a.Descriptors[i].SizeBytes()
	}
	a.Bytes = offset
}

// SourceSchema describes one LAS/LAZ source's native attribute layout, as
// reported by the lasio header/extra-bytes collaborator.
type SourceSchema struct {
	Attributes  []Descriptor
	PosScale    geometry.Vector3
	PosOffset   geometry.Vector3
	GlobalMin   geometry.Vector3
	GlobalMax   geometry.Vector3
}

// Plan implements §4.1: union the per-source schemas, compute the unified
// position scale/offset, and filter to the requested attribute whitelist
// (always implicitly including "position").
func Plan(sources []SourceSchema, requested []string) (*Attributes, []string, error) {
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("attributes: no source schemas provided")
	}

	var warnings []string

	union := map[string]Descriptor{}
	var order []string
	for _, src := range sources {
		for _, d := range src.Attributes {
			if d.Name == PositionName {
				continue
			}
			existing, ok := union[d.Name]
			if !ok {
				union[d.Name] = d
				order = append(order, d.Name)
				continue
			}
			if existing.SizeBytes() != d.SizeBytes() || existing.Type != d.Type {
				warnings = append(warnings, fmt.Sprintf(
					"attribute %q has inconsistent layout across sources, keeping first-seen definition", d.Name))
			}
		}
	}

	posScale, posOffset, scaleWarnings := unifyPosition(sources)
	warnings = append(warnings, scaleWarnings...)

	whitelist := buildWhitelist(requested)

	result := &Attributes{
		PosScale:  posScale,
		PosOffset: posOffset,
	}
	result.Descriptors = append(result.Descriptors, Descriptor{
		Name:        PositionName,
		Description: "cartesian coordinates encoded as a unified 30-bit signed integer grid",
		NumElements: 3,
		ElementSize: 4,
		Type:        TypeInt32,
	})

	for _, name := range order {
		if whitelist != nil {
			if _, ok := whitelist[name]; !ok {
				continue
			}
		}
		d := union[name]
		result.Descriptors = append(result.Descriptors, d)
	}

	result.finalize()
	return result, warnings, nil
}

func buildWhitelist(requested []string) map[string]struct{} {
	if len(requested) == 0 {
		return nil
	}
	seen := map[string]struct{}{PositionName: {}}
	// position is always included and duplicates collapse in the set
	// (§4.1 "Filtering"); output order follows the union schema, not the
	// requested list.
	for _, name := range requested {
		seen[name] = struct{}{}
	}
	return seen
}

// unifyPosition computes the unified scale/offset per §4.1: target scale
// is the elementwise minimum source scale; minimum required scale is
// (max-min)/2^30 (30 bits, one below the signed-32 range to dodge a
// historical reader bug treating the field as unsigned); final scale is
// the elementwise max of the two. Offset is the global min.
func unifyPosition(sources []SourceSchema) (scale, offset geometry.Vector3, warnings []string) {
	globalMin := sources[0].GlobalMin
	globalMax := sources[0].GlobalMax
	targetScale := sources[0].PosScale
	for _, src := range sources[1:] {
		globalMin = globalMin.Min(src.GlobalMin)
		globalMax = globalMax.Max(src.GlobalMax)
		targetScale = geometry.Vector3{
			X: math.Min(targetScale.X, src.PosScale.X),
			Y: math.Min(targetScale.Y, src.PosScale.Y),
			Z: math.Min(targetScale.Z, src.PosScale.Z),
		}
	}

	const bits30 = float64(int64(1) << 30)
	minRequired := geometry.Vector3{
		X: (globalMax.X - globalMin.X) / bits30,
		Y: (globalMax.Y - globalMin.Y) / bits30,
		Z: (globalMax.Z - globalMin.Z) / bits30,
	}

	final := geometry.Vector3{
		X: math.Max(targetScale.X, minRequired.X),
		Y: math.Max(targetScale.Y, minRequired.Y),
		Z: math.Max(targetScale.Z, minRequired.Z),
	}

	for _, src := range sources {
		if src.PosScale != final {
			warnings = append(warnings, fmt.Sprintf(
				"source scale %v differs from unified scale %v, reprojecting points during chunking", src.PosScale, final))
			break
		}
	}

	return final, globalMin, warnings
}
