// Package metadata serializes the converter's top-level metadata.json
// (§4.3.10). Floating point fields use github.com/shopspring/decimal so
// that offsets, scales, and bounding boxes round-trip exactly rather than
// being rounded by Go's default float64 JSON formatting.
package metadata

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ecopia-map/octree_converter/internal/attributes"
	"github.com/ecopia-map/octree_converter/internal/geometry"
)

const Version = "2.0"

// Vector3 is the JSON-facing triple used for offsets, scales, and box
// bounds; each component round-trips at full precision via decimal.
type Vector3 struct {
	X decimal.Decimal `json:"x"`
	Y decimal.Decimal `json:"y"`
	Z decimal.Decimal `json:"z"`
}

func vec(v geometry.Vector3) Vector3 {
	return Vector3{
		X: decimal.NewFromFloat(v.X),
		Y: decimal.NewFromFloat(v.Y),
		Z: decimal.NewFromFloat(v.Z),
	}
}

// Hierarchy mirrors §4.3.10's "hierarchy" object.
type Hierarchy struct {
	FirstChunkSize int64 `json:"firstChunkSize"`
	StepSize       int   `json:"stepSize"`
	Depth          int   `json:"depth"`
}

// BoundingBox mirrors §4.3.10's "boundingBox" object.
type BoundingBox struct {
	Min Vector3 `json:"min"`
	Max Vector3 `json:"max"`
}

// Attribute mirrors one entry of §4.3.10's "attributes" array. Histogram
// is omitted (via omitempty on a nil slice) unless size==1 and the source
// descriptor's histogram actually accumulated counts.
type Attribute struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Size        int             `json:"size"`
	NumElements int             `json:"numElements"`
	ElementSize int             `json:"elementSize"`
	Type        string          `json:"type"`
	Min         Vector3         `json:"min"`
	Max         Vector3         `json:"max"`
	Scale       Vector3         `json:"scale"`
	Offset      Vector3         `json:"offset"`
	Histogram   []int64         `json:"histogram,omitempty"`
}

// Metadata is the full top-level document written to metadata.json.
type Metadata struct {
	Version     string      `json:"version"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Points      int64       `json:"points"`
	Projection  string      `json:"projection"`
	Hierarchy   Hierarchy   `json:"hierarchy"`
	Offset      Vector3     `json:"offset"`
	Scale       Vector3     `json:"scale"`
	Spacing     float64     `json:"spacing"`
	BoundingBox BoundingBox `json:"boundingBox"`
	Encoding    string      `json:"encoding"`
	Attributes  []Attribute `json:"attributes"`
}

// Build assembles a Metadata document from the pipeline's final state.
func Build(name, description string, points int64, projection string,
	hierarchyInfo Hierarchy, attrs *attributes.Attributes, globalBox geometry.BoundingBox,
	spacing float64, encoding string) Metadata {

	out := Metadata{
		Version:     Version,
		Name:        name,
		Description: description,
		Points:      points,
		Projection:  projection,
		Hierarchy:   hierarchyInfo,
		Offset:      vec(attrs.PosOffset),
		Scale:       vec(attrs.PosScale),
		Spacing:     spacing,
		BoundingBox: BoundingBox{Min: vec(globalBox.Min), Max: vec(globalBox.Max)},
		Encoding:    encoding,
	}

	for _, d := range attrs.Descriptors {
		a := Attribute{
			Name:        d.Name,
			Description: d.Description,
			Size:        d.SizeBytes(),
			NumElements: d.NumElements,
			ElementSize: d.ElementSize,
			Type:        d.Type.String(),
			Min:         vec(d.Min),
			Max:         vec(d.Max),
			Scale:       vec(d.Scale),
			Offset:      vec(d.Offset),
		}
		if a.Size == 1 && hasCounts(d.Histogram) {
			a.Histogram = d.Histogram[:]
		}
		out.Attributes = append(out.Attributes, a)
	}
	return out
}

func hasCounts(h [256]int64) bool {
	for _, v := range h {
		if v != 0 {
			return true
		}
	}
	return false
}

// Marshal renders m as indented JSON, matching the pretty-printed
// metadata.json the reference pipeline writes.
func Marshal(m Metadata) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Unmarshal parses a previously written metadata.json, used to resume a
// run against an existing chunks/ directory (--chunkMethod SKIP).
func Unmarshal(data []byte) (Metadata, error) {
	var m Metadata
	err := json.Unmarshal(data, &m)
	return m, err
}

// ToVector3 converts a JSON-facing Vector3 back to geometry.Vector3,
// truncating decimal's arbitrary precision to float64.
func (v Vector3) ToVector3() geometry.Vector3 {
	x, _ := v.X.Float64()
	y, _ := v.Y.Float64()
	z, _ := v.Z.Float64()
	return geometry.Vector3{X: x, Y: y, Z: z}
}

// ToAttributes rebuilds an attributes.Attributes schema from a decoded
// Metadata document's attribute list and global scale/offset.
func (m Metadata) ToAttributes() (*attributes.Attributes, error) {
	descs := make([]attributes.Descriptor, 0, len(m.Attributes))
	for _, a := range m.Attributes {
		typ, ok := attributes.ParseType(a.Type)
		if !ok {
			return nil, fmt.Errorf("metadata: unknown attribute type %q for %q", a.Type, a.Name)
		}
		descs = append(descs, attributes.Descriptor{
			Name:        a.Name,
			Description: a.Description,
			NumElements: a.NumElements,
			ElementSize: a.ElementSize,
			Type:        typ,
			Min:         a.Min.ToVector3(),
			Max:         a.Max.ToVector3(),
			Scale:       a.Scale.ToVector3(),
			Offset:      a.Offset.ToVector3(),
		})
	}
	return attributes.FromDescriptors(descs, m.Scale.ToVector3(), m.Offset.ToVector3()), nil
}
