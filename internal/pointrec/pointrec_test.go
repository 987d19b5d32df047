package pointrec

import (
	"math"
	"testing"

	"github.com/ecopia-map/octree_converter/internal/geometry"
)

// Quantization round-trip within scale/2, per §8 testable property 6.
func TestQuantizeDequantizeRoundTrip(t *testing.T) {
	scale := geometry.Vector3{X: 0.001, Y: 0.001, Z: 0.001}
	offset := geometry.Vector3{X: -10, Y: -10, Z: -10}

	worlds := []geometry.Vector3{
		{X: 0, Y: 0, Z: 0},
		{X: 5.2345, Y: -3.1, Z: 9.999},
		{X: -10, Y: -10, Z: -10},
	}
	for _, w := range worlds {
		x, y, z, clamped := QuantizePosition(w, scale, offset)
		if clamped {
			t.Fatalf("unexpected clamp for %v", w)
		}
		got := DequantizePosition(x, y, z, scale, offset)
		if math.Abs(got.X-w.X) > scale.X/2 || math.Abs(got.Y-w.Y) > scale.Y/2 || math.Abs(got.Z-w.Z) > scale.Z/2 {
			t.Errorf("round trip %v -> %v exceeds scale/2 tolerance", w, got)
		}
	}
}

func TestQuantizePositionClampsOutOfRange(t *testing.T) {
	scale := geometry.Vector3{X: 1e-9, Y: 1e-9, Z: 1e-9}
	offset := geometry.Vector3{}
	_, _, _, clamped := QuantizePosition(geometry.Vector3{X: 1e9, Y: 0, Z: 0}, scale, offset)
	if !clamped {
		t.Fatal("expected clamp for an out-of-int32-range coordinate")
	}
}

func TestPutGetPositionRoundTrip(t *testing.T) {
	record := make([]byte, 12)
	PutPosition(record, -5, 100000, math.MinInt32+1)
	x, y, z := GetPosition(record)
	if x != -5 || y != 100000 || z != math.MinInt32+1 {
		t.Fatalf("got (%d,%d,%d)", x, y, z)
	}
}

func TestCellIndexForPointClampsAtEdges(t *testing.T) {
	boxMin := geometry.Vector3{}
	cx, cy, cz := CellIndexForPoint(geometry.Vector3{X: 1.0, Y: 0, Z: -0.0001}, boxMin, 1.0, 8)
	if cx != 7 {
		t.Errorf("expected clamp to gridSide-1 at the upper edge, got cx=%d", cx)
	}
	if cy != 0 || cz != 0 {
		t.Errorf("got (%d,%d)", cy, cz)
	}
}
