package hierarchy

import (
	"bytes"
	"testing"

	"github.com/ecopia-map/octree_converter/internal/geometry"
	"github.com/ecopia-map/octree_converter/internal/octree"
)

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	r := Record{Type: TypeLeaf, ChildMask: 0xA5, NumPoints: 12345, ByteOffset: 9876543210, ByteSize: 4096}
	buf := r.Encode()
	if len(buf) != RecordBytes {
		t.Fatalf("Encode produced %d bytes, want %d", len(buf), RecordBytes)
	}
	got := DecodeRecord(buf[:])
	if got != r {
		t.Errorf("DecodeRecord(Encode(r)) = %+v, want %+v", got, r)
	}
}

func smallBox() geometry.BoundingBox {
	return geometry.BoundingBox{Min: geometry.Vector3{}, Max: geometry.Vector3{X: 1, Y: 1, Z: 1}}
}

// Emit must write every node once, in (depth, name) order, and report the
// tree's true maximum depth, per §8 testable property 4.
func TestEmitSingleChunkOrdersByDepthThenName(t *testing.T) {
	root := octree.NewNode("r", smallBox())
	c0 := octree.NewNode("r0", smallBox())
	c0.NumPoints = 3
	c1 := octree.NewNode("r1", smallBox())
	c1.NumPoints = 5
	root.SetChild(0, c0)
	root.SetChild(1, c1)

	var buf bytes.Buffer
	firstChunkSize, maxDepth, err := Emit(&buf, root)
	if err != nil {
		t.Fatal(err)
	}
	if maxDepth != 1 {
		t.Errorf("maxDepth = %d, want 1", maxDepth)
	}
	wantSize := int64(3 * RecordBytes)
	if firstChunkSize != wantSize {
		t.Fatalf("firstChunkSize = %d, want %d", firstChunkSize, wantSize)
	}
	if int64(buf.Len()) != wantSize {
		t.Fatalf("wrote %d bytes, want %d", buf.Len(), wantSize)
	}

	data := buf.Bytes()
	rRec := DecodeRecord(data[0:RecordBytes])
	if rRec.Type != TypeInner || rRec.ChildMask != 0b11 {
		t.Errorf("root record = %+v, want Inner with ChildMask 0b11", rRec)
	}

	r0Rec := DecodeRecord(data[RecordBytes : 2*RecordBytes])
	if r0Rec.Type != TypeLeaf || r0Rec.NumPoints != 3 {
		t.Errorf("r0 record = %+v, want Leaf with NumPoints 3", r0Rec)
	}

	r1Rec := DecodeRecord(data[2*RecordBytes : 3*RecordBytes])
	if r1Rec.Type != TypeLeaf || r1Rec.NumPoints != 5 {
		t.Errorf("r1 record = %+v, want Leaf with NumPoints 5", r1Rec)
	}
}

// A subtree starting at relative depth StepSize below the chunk root must
// be split into its own chunk, referenced by a proxy record in the parent
// chunk whose ByteOffset points past the parent's own records.
func TestEmitSplitsChunkAtStepSizeBoundary(t *testing.T) {
	root := octree.NewNode("r", smallBox())
	cur := root
	// Build a straight chain r -> r0 -> r00 -> r000 -> r0000 -> r00000,
	// five levels deep, crossing the StepSize=4 boundary once.
	name := "r"
	for i := 0; i < StepSize+1; i++ {
		name += "0"
		child := octree.NewNode(name, smallBox())
		cur.SetChild(0, child)
		cur = child
	}
	cur.NumPoints = 7

	var buf bytes.Buffer
	_, maxDepth, err := Emit(&buf, root)
	if err != nil {
		t.Fatal(err)
	}
	if maxDepth != StepSize+1 {
		t.Fatalf("maxDepth = %d, want %d", maxDepth, StepSize+1)
	}

	// First chunk covers relative depths 0..StepSize (StepSize+1 entries)
	// plus one proxy record for the child that starts the next chunk.
	firstChunkEntries := StepSize + 1 + 1
	if buf.Len() <= firstChunkEntries*RecordBytes {
		t.Fatalf("expected more than the first chunk's own %d records, got %d total bytes",
			firstChunkEntries, buf.Len())
	}

	data := buf.Bytes()
	proxyRec := DecodeRecord(data[(firstChunkEntries-1)*RecordBytes : firstChunkEntries*RecordBytes])
	if proxyRec.Type != TypeProxy {
		t.Fatalf("record at boundary = %+v, want a TypeProxy entry", proxyRec)
	}
	wantProxyOffset := uint64(firstChunkEntries) * uint64(RecordBytes)
	if proxyRec.ByteOffset != wantProxyOffset {
		t.Errorf("proxy ByteOffset = %d, want %d (immediately after the first chunk's own records)",
			proxyRec.ByteOffset, wantProxyOffset)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	wantNames := []string{"r", "r0", "r00", "r000", "r0000", "r00000"}
	for _, name := range wantNames {
		if _, ok := decoded[name]; !ok {
			t.Errorf("Decode did not reconstruct node %q", name)
		}
	}
	if got := decoded["r00000"].NumPoints; got != 7 {
		t.Errorf("decoded r00000.NumPoints = %d, want 7", got)
	}
}
