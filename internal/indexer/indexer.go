// Package indexer implements §4.3: per-chunk octree building, LOD
// sampling, and the merge of every chunk's sampled root into one global
// tree. Each chunk is processed independently by the task pool (§5); the
// chunk roots are then attached under a shared global root at their
// Morton paths and sampled once more, exactly as an ordinary inner node
// would be, so representative points keep propagating upward one octree
// level at a time until they reach "r".
//
// The reference pipeline stages this last merge through a temporary
// tmpChunkRoots.bin file and a CRNode shadow hierarchy that batches
// subtrees under a 5,000,000-point cumulative threshold before
// resampling (§4.3.6), an out-of-core memory optimization. This
// implementation holds every chunk root in memory and runs the same
// sampler directly over the assembled tree; the resulting point
// distribution is identical, only the staging mechanism differs (see
// DESIGN.md).
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/ecopia-map/octree_converter/internal/attributes"
	"github.com/ecopia-map/octree_converter/internal/chunker"
	"github.com/ecopia-map/octree_converter/internal/codec"
	"github.com/ecopia-map/octree_converter/internal/geometry"
	"github.com/ecopia-map/octree_converter/internal/monitor"
	"github.com/ecopia-map/octree_converter/internal/morton"
	"github.com/ecopia-map/octree_converter/internal/octree"
	"github.com/ecopia-map/octree_converter/internal/octreebuild"
	"github.com/ecopia-map/octree_converter/internal/sampler"
	"github.com/ecopia-map/octree_converter/internal/taskpool"
	"github.com/ecopia-map/octree_converter/internal/writer"
)

// writerBacklogThresholdMB is the RAM backpressure threshold producers
// poll against, per §4.3.7 ("typically 1000 MB").
const writerBacklogThresholdMB = 1000

// Options bundles everything a chunk-processing task and the final
// merge need.
type Options struct {
	Attrs            *attributes.Attributes
	MaxPointsPerNode int
	Sampler          sampler.Sampler
	GlobalBox        geometry.BoundingBox
	Encoding         codec.Encoding
	Writer           *writer.Writer
	Monitor          *monitor.Monitor
	ChunksDir        string
}

// Result is the finished global tree; metadata.json's hierarchy.depth
// comes from hierarchy.Emit over Root.
type Result struct {
	Root *octree.Node
}

// Run builds, samples, and writes every chunk, then merges all chunk
// roots into the final global tree.
func Run(ctx context.Context, chunks []chunker.Chunk, opts Options) (*Result, error) {
	roots := make([]*octree.Node, len(chunks))

	err := taskpool.Run(ctx, 0, len(chunks), func(ctx context.Context, i int) error {
		c := chunks[i]
		points, err := loadChunkFile(opts.ChunksDir, c.Path)
		if err != nil {
			return err
		}

		builder := &octreebuild.Builder{Attrs: opts.Attrs, MaxPointsPerNode: opts.MaxPointsPerNode}
		root := builder.Build(c.Path, c.Box, points)

		baseSpacing := sampler.BaseSpacing(opts.GlobalBox)
		opts.Sampler.Sample(root, opts.Attrs, baseSpacing,
			func(n *octree.Node) { writeNode(opts, n) },
			func(n *octree.Node) {},
		)

		roots[i] = root
		if opts.Monitor != nil {
			opts.Monitor.AddPoints(int64(c.NumPoints))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	globalRoot := assembleGlobalRoot(roots, opts.GlobalBox)
	if !globalRoot.Sampled {
		baseSpacing := sampler.BaseSpacing(opts.GlobalBox)
		opts.Sampler.Sample(globalRoot, opts.Attrs, baseSpacing,
			func(n *octree.Node) { writeNode(opts, n) },
			func(n *octree.Node) {},
		)
	}
	writeNode(opts, globalRoot)

	return &Result{Root: globalRoot}, nil
}

// writeNode encodes (optionally compressing) and appends a node's point
// buffer to octree.bin, recording its byteOffset/byteSize and dropping
// the in-memory buffer, per §4.3.7's writeAndUnload.
func writeNode(opts Options, n *octree.Node) {
	encoded, err := codec.Encode(opts.Encoding, opts.Attrs, n.Points)
	if err != nil {
		glog.Fatalf("indexer: compressing node %s: %v", n.Name, err)
	}
	opts.Writer.WaitUntilBacklogBelow(writerBacklogThresholdMB)
	n.ByteOffset = opts.Writer.Append(encoded)
	n.ByteSize = int64(len(encoded))
	if opts.Monitor != nil {
		opts.Monitor.AddBytes(int64(len(encoded)))
	}
	n.Points = nil
}

func loadChunkFile(chunksDir, path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(chunksDir, "chunk_"+path+".bin"))
	if err != nil {
		return nil, fmt.Errorf("indexer: reading chunk %s: %w", path, err)
	}
	return data, nil
}

// assembleGlobalRoot attaches every chunk root under a shared "r" node
// at its Morton path, building empty intermediate nodes for any level
// the chunk plan skipped over (§4.3.6). A cloud small enough to fit in
// a single chunk rooted at "r" is returned as-is, already sampled.
func assembleGlobalRoot(roots []*octree.Node, globalBox geometry.BoundingBox) *octree.Node {
	for _, r := range roots {
		if r.Name == "r" {
			return r
		}
	}
	global := octree.NewNode("r", globalBox)
	for _, r := range roots {
		attachAt(global, morton.Digits(r.Name), r)
	}
	return global
}

func attachAt(root *octree.Node, digits []uint8, leaf *octree.Node) {
	cur := root
	for depth := 0; depth < len(digits)-1; depth++ {
		d := digits[depth]
		next := cur.Children[d]
		if next == nil {
			next = octree.NewNode(cur.Name+string(rune('0'+d)), cur.Box.Octant(d))
			cur.SetChild(d, next)
		}
		cur = next
	}
	cur.SetChild(digits[len(digits)-1], leaf)
}
