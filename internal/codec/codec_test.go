package codec

import (
	"bytes"
	"testing"

	"github.com/ecopia-map/octree_converter/internal/attributes"
	"github.com/ecopia-map/octree_converter/internal/geometry"
	"github.com/ecopia-map/octree_converter/internal/pointrec"
)

func testAttrs() *attributes.Attributes {
	return attributes.FromDescriptors([]attributes.Descriptor{
		{Name: attributes.PositionName, NumElements: 3, ElementSize: 4, Type: attributes.TypeInt32},
		{Name: "rgb", NumElements: 3, ElementSize: 2, Type: attributes.TypeUint16},
		{Name: "classification", NumElements: 1, ElementSize: 1, Type: attributes.TypeUint8},
	}, geometry.Vector3{X: 0.01, Y: 0.01, Z: 0.01}, geometry.Vector3{})
}

func packTestPoints(attrs *attributes.Attributes, worlds []geometry.Vector3) []byte {
	rgbDesc, _ := attrs.Get("rgb")
	clsDesc, _ := attrs.Get("classification")
	buf := make([]byte, len(worlds)*attrs.Bytes)
	for i, w := range worlds {
		rec := buf[i*attrs.Bytes : (i+1)*attrs.Bytes]
		x, y, z, _ := pointrec.QuantizePosition(w, attrs.PosScale, attrs.PosOffset)
		pointrec.PutPosition(rec, x, y, z)
		r, g, b := uint16(10+i), uint16(20+i), uint16(30+i)
		rec[rgbDesc.ByteOffset], rec[rgbDesc.ByteOffset+1] = byte(r), byte(r>>8)
		rec[rgbDesc.ByteOffset+2], rec[rgbDesc.ByteOffset+3] = byte(g), byte(g>>8)
		rec[rgbDesc.ByteOffset+4], rec[rgbDesc.ByteOffset+5] = byte(b), byte(b>>8)
		rec[clsDesc.ByteOffset] = byte(2 + i)
	}
	return buf
}

func TestEncodeDefaultPassesThroughUnchanged(t *testing.T) {
	attrs := testAttrs()
	points := packTestPoints(attrs, []geometry.Vector3{{X: 1, Y: 2, Z: 3}})
	got, err := Encode(EncodingDefault, attrs, points)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, points) {
		t.Error("EncodingDefault must pass records through unchanged")
	}
}

// Encode/Decode must round-trip every attribute's values, modulo the
// Morton reordering Decode documents (§8 scenario S5).
func TestEncodeDecodeBrotliRoundTrip(t *testing.T) {
	attrs := testAttrs()
	// None of these sit at the origin, so the node's local per-axis
	// minimum is non-zero on every axis: a Decode that forgot to restore
	// it would fail this round trip rather than pass by coincidence.
	worlds := []geometry.Vector3{
		{X: 101, Y: 202, Z: 303},
		{X: 150, Y: 210, Z: 305},
		{X: 105, Y: 260, Z: 340},
		{X: 130, Y: 220, Z: 320},
	}
	points := packTestPoints(attrs, worlds)

	encoded, err := Encode(EncodingBrotli, attrs, points)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(EncodingBrotli, attrs, encoded, len(worlds))
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != len(points) {
		t.Fatalf("decoded %d bytes, want %d", len(decoded), len(points))
	}

	rgbDesc, _ := attrs.Get("rgb")
	clsDesc, _ := attrs.Get("classification")
	seen := map[[3]int32]struct{}{}
	for i := 0; i < len(worlds); i++ {
		rec := decoded[i*attrs.Bytes : (i+1)*attrs.Bytes]
		x, y, z := pointrec.GetPosition(rec)
		seen[[3]int32{x, y, z}] = struct{}{}

		r := uint16(rec[rgbDesc.ByteOffset]) | uint16(rec[rgbDesc.ByteOffset+1])<<8
		cls := rec[clsDesc.ByteOffset]
		// Each original point's rgb.R and classification were derived
		// from the same index (10+i and 2+i respectively), so their
		// difference must be preserved through the Morton round trip.
		if int(r)-10 != int(cls)-2 {
			t.Errorf("record %d: rgb/classification pairing broken: r=%d cls=%d", i, r, cls)
		}
	}
	if len(seen) != len(worlds) {
		t.Errorf("decoded %d distinct positions, want %d (points lost or collided)", len(seen), len(worlds))
	}
	for _, w := range worlds {
		x, y, z, _ := pointrec.QuantizePosition(w, attrs.PosScale, attrs.PosOffset)
		if _, ok := seen[[3]int32{x, y, z}]; !ok {
			t.Errorf("original point %v missing from decoded output", w)
		}
	}
}

func TestEncodeEmptyBufferIsHarmless(t *testing.T) {
	attrs := testAttrs()
	encoded, err := Encode(EncodingBrotli, attrs, nil)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(EncodingBrotli, attrs, encoded, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 0 {
		t.Errorf("decoded %d bytes for an empty input, want 0", len(decoded))
	}
}
