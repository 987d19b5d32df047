package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ecopia-map/octree_converter/internal/attributes"
	"github.com/ecopia-map/octree_converter/internal/chunker"
	"github.com/ecopia-map/octree_converter/internal/codec"
	"github.com/ecopia-map/octree_converter/internal/geometry"
	"github.com/ecopia-map/octree_converter/internal/pointrec"
	"github.com/ecopia-map/octree_converter/internal/sampler"
	"github.com/ecopia-map/octree_converter/internal/writer"
)

func writeChunkFile(t *testing.T, dir, path string, attrs *attributes.Attributes, worlds []geometry.Vector3) {
	t.Helper()
	buf := make([]byte, len(worlds)*attrs.Bytes)
	for i, w := range worlds {
		x, y, z, _ := pointrec.QuantizePosition(w, attrs.PosScale, attrs.PosOffset)
		pointrec.PutPosition(buf[i*attrs.Bytes:], x, y, z)
	}
	if err := os.WriteFile(filepath.Join(dir, "chunk_"+path+".bin"), buf, 0o644); err != nil {
		t.Fatal(err)
	}
}

// Two chunk roots, each a single far-apart point, must merge into one
// global root under "r" with both points promoted and both chunk
// subtrees discarded (not separately written), conserving point count.
func TestRunMergesChunkRootsAndWritesGlobalRoot(t *testing.T) {
	globalBox := geometry.BoundingBox{Min: geometry.Vector3{}, Max: geometry.Vector3{X: 128, Y: 128, Z: 128}}
	attrs := attributes.FromDescriptors([]attributes.Descriptor{
		{Name: attributes.PositionName, NumElements: 3, ElementSize: 4, Type: attributes.TypeInt32},
	}, geometry.Vector3{X: 1, Y: 1, Z: 1}, geometry.Vector3{})

	chunksDir := t.TempDir()
	writeChunkFile(t, chunksDir, "r0", attrs, []geometry.Vector3{{X: 1, Y: 1, Z: 1}})
	writeChunkFile(t, chunksDir, "r1", attrs, []geometry.Vector3{{X: 90, Y: 1, Z: 1}})

	chunks := []chunker.Chunk{
		{Path: "r0", NumPoints: 1, Box: globalBox.Octant(0)},
		{Path: "r1", NumPoints: 1, Box: globalBox.Octant(1)},
	}

	octreePath := filepath.Join(t.TempDir(), "octree.bin")
	w, err := writer.New(octreePath)
	if err != nil {
		t.Fatal(err)
	}

	opts := Options{
		Attrs:            attrs,
		MaxPointsPerNode: 10,
		Sampler:          sampler.Poisson{},
		GlobalBox:        globalBox,
		Encoding:         codec.EncodingDefault,
		Writer:           w,
		ChunksDir:        chunksDir,
	}

	result, err := Run(context.Background(), chunks, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.CloseAndWait(); err != nil {
		t.Fatal(err)
	}

	root := result.Root
	if root.Name != "r" {
		t.Fatalf("root.Name = %q, want r", root.Name)
	}
	if root.NumPoints != 2 {
		t.Fatalf("root.NumPoints = %d, want 2 (both far-apart points promoted)", root.NumPoints)
	}
	if root.Points != nil {
		t.Error("root.Points should be dropped after writeNode")
	}
	if root.ByteSize != int64(2*attrs.Bytes) {
		t.Errorf("root.ByteSize = %d, want %d", root.ByteSize, 2*attrs.Bytes)
	}
	if root.Children[0] != nil || root.Children[1] != nil {
		t.Error("fully-promoted chunk roots should be discarded from the merged tree")
	}

	info, err := os.Stat(octreePath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(2*attrs.Bytes) {
		t.Errorf("octree.bin size = %d, want %d", info.Size(), 2*attrs.Bytes)
	}
}
