package attributes

import (
	"testing"

	"github.com/ecopia-map/octree_converter/internal/geometry"
)

func TestTypeStringParseRoundTrip(t *testing.T) {
	types := []Type{TypeInt8, TypeInt16, TypeInt32, TypeInt64,
		TypeUint8, TypeUint16, TypeUint32, TypeUint64, TypeFloat, TypeDouble}
	for _, ty := range types {
		s := ty.String()
		got, ok := ParseType(s)
		if !ok {
			t.Fatalf("ParseType(%q) not recognized", s)
		}
		if got != ty {
			t.Errorf("ParseType(%q) = %v, want %v", s, got, ty)
		}
	}
	if _, ok := ParseType("nonsense"); ok {
		t.Error("ParseType(\"nonsense\") should fail")
	}
}

func TestPlanAlwaysPrependsPosition(t *testing.T) {
	sources := []SourceSchema{{
		PosScale:  geometry.Vector3{X: 0.01, Y: 0.01, Z: 0.01},
		PosOffset: geometry.Vector3{},
		GlobalMin: geometry.Vector3{X: 0, Y: 0, Z: 0},
		GlobalMax: geometry.Vector3{X: 100, Y: 100, Z: 100},
		Attributes: []Descriptor{
			{Name: "intensity", NumElements: 1, ElementSize: 2, Type: TypeUint16},
		},
	}}

	attrs, _, err := Plan(sources, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(attrs.Descriptors) != 2 {
		t.Fatalf("expected position + intensity, got %d descriptors", len(attrs.Descriptors))
	}
	if attrs.Descriptors[0].Name != PositionName {
		t.Fatalf("first descriptor = %q, want %q", attrs.Descriptors[0].Name, PositionName)
	}
	if attrs.Descriptors[0].ByteOffset != 0 {
		t.Errorf("position ByteOffset = %d, want 0", attrs.Descriptors[0].ByteOffset)
	}
	if attrs.Descriptors[1].ByteOffset != 12 {
		t.Errorf("intensity ByteOffset = %d, want 12 (after 3x int32 position)", attrs.Descriptors[1].ByteOffset)
	}
	if attrs.Bytes != 14 {
		t.Errorf("Bytes = %d, want 14", attrs.Bytes)
	}
}

func TestPlanFiltersToWhitelist(t *testing.T) {
	sources := []SourceSchema{{
		PosScale:  geometry.Vector3{X: 0.01, Y: 0.01, Z: 0.01},
		GlobalMin: geometry.Vector3{},
		GlobalMax: geometry.Vector3{X: 10, Y: 10, Z: 10},
		Attributes: []Descriptor{
			{Name: "intensity", NumElements: 1, ElementSize: 2, Type: TypeUint16},
			{Name: "classification", NumElements: 1, ElementSize: 1, Type: TypeUint8},
		},
	}}

	attrs, _, err := Plan(sources, []string{"classification"})
	if err != nil {
		t.Fatal(err)
	}
	if attrs.Index("intensity") != -1 {
		t.Error("intensity should have been filtered out by the whitelist")
	}
	if attrs.Index("classification") == -1 {
		t.Error("classification should survive the whitelist")
	}
	if attrs.Index(PositionName) == -1 {
		t.Error("position must always survive the whitelist")
	}
}

func TestPlanRejectsEmptySourceList(t *testing.T) {
	if _, _, err := Plan(nil, nil); err == nil {
		t.Fatal("expected an error for an empty source list")
	}
}

// unifyPosition must widen the scale when the requested precision cannot
// address the full coordinate range within 30 bits, per §4.1.
func TestPlanWidensScaleWhenRangeExceeds30Bits(t *testing.T) {
	sources := []SourceSchema{{
		PosScale:  geometry.Vector3{X: 0.0001, Y: 0.0001, Z: 0.0001},
		GlobalMin: geometry.Vector3{X: 0, Y: 0, Z: 0},
		GlobalMax: geometry.Vector3{X: 1e9, Y: 1e9, Z: 1e9},
	}}
	attrs, warnings, err := Plan(sources, nil)
	if err != nil {
		t.Fatal(err)
	}
	minRequired := 1e9 / float64(int64(1)<<30)
	if attrs.PosScale.X < minRequired {
		t.Errorf("PosScale.X = %v, want at least %v", attrs.PosScale.X, minRequired)
	}
	if len(warnings) == 0 {
		t.Error("expected a reprojection warning when the unified scale differs from the source scale")
	}
}

func TestFromDescriptorsFixesOffsets(t *testing.T) {
	descs := []Descriptor{
		{Name: PositionName, NumElements: 3, ElementSize: 4, Type: TypeInt32},
		{Name: "rgb", NumElements: 3, ElementSize: 2, Type: TypeUint16},
	}
	attrs := FromDescriptors(descs, geometry.Vector3{X: 0.01, Y: 0.01, Z: 0.01}, geometry.Vector3{})
	if attrs.Descriptors[1].ByteOffset != 12 {
		t.Errorf("rgb ByteOffset = %d, want 12", attrs.Descriptors[1].ByteOffset)
	}
	if attrs.Bytes != 18 {
		t.Errorf("Bytes = %d, want 18", attrs.Bytes)
	}
	if d, ok := attrs.Get("rgb"); !ok || d.Name != "rgb" {
		t.Error("Get(\"rgb\") should find the descriptor added by FromDescriptors")
	}
}
