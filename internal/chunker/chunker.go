// Package chunker implements the three-pass out-of-core chunker described
// in spec §4.2: a parallel counting pass over a fine Morton-addressed
// grid, a sum-pyramid collapse into a balanced set of chunk candidates,
// and a parallel distribute pass that appends each point's packed record
// to its target chunk file.
package chunker

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/ecopia-map/octree_converter/internal/attributes"
	"github.com/ecopia-map/octree_converter/internal/geometry"
	"github.com/ecopia-map/octree_converter/internal/grid"
	"github.com/ecopia-map/octree_converter/internal/lasio"
	"github.com/ecopia-map/octree_converter/internal/metadata"
	"github.com/ecopia-map/octree_converter/internal/monitor"
	"github.com/ecopia-map/octree_converter/internal/morton"
	"github.com/ecopia-map/octree_converter/internal/pointrec"
	"github.com/ecopia-map/octree_converter/internal/taskpool"
	"github.com/ecopia-map/octree_converter/internal/writer"
)

// countGridSide is the fine counting grid's side, per §4.2 Pass A's
// example resolution.
const countGridSide = 128

// Chunk describes one chunk produced by the run, named by its Morton
// digit path ("r..."), mirroring §4.2's NodeCandidate.
type Chunk struct {
	Path      string
	NumPoints int64
	Box       geometry.BoundingBox
}

// Result is everything a caller (the indexer) needs to pick up where
// the chunker left off.
type Result struct {
	Chunks        []Chunk
	PointsTotal   int64
	ClampedPoints int64
}

// Run executes all three passes against already-opened sources, writing
// chunk_<path>.bin and metadata.json under outDir. attrs' Min/Max and
// Histogram fields are updated in place as points are distributed.
func Run(ctx context.Context, sources []lasio.Source, attrs *attributes.Attributes,
	globalBox geometry.BoundingBox, maxPointsPerChunk int, outDir string, mon *monitor.Monitor) (*Result, error) {

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("chunker: creating %s: %w", outDir, err)
	}

	counter, err := countPass(ctx, sources, globalBox)
	if err != nil {
		return nil, err
	}

	candidates := grid.Plan(counter, int64(maxPointsPerChunk))
	if len(candidates) == 0 {
		return &Result{}, nil
	}

	cellToCandidate := make(map[uint64]int, len(candidates))
	for ci, cand := range candidates {
		for _, leaf := range leafCellsUnder(cand, counter.MaxLevel) {
			cellToCandidate[leaf] = ci
		}
	}

	chunkWriters := make([]*writer.Writer, len(candidates))
	paths := make([]string, len(candidates))
	for i, cand := range candidates {
		path := morton.Path(cand.Digits)
		paths[i] = path
		w, err := writer.New(filepath.Join(outDir, "chunk_"+path+".bin"))
		if err != nil {
			return nil, fmt.Errorf("chunker: opening chunk file for %s: %w", path, err)
		}
		chunkWriters[i] = w
	}

	acc := newAttrAccumulator(attrs)
	pointCounts := make([]int64, len(candidates))
	var clamped int64

	err = distributePass(ctx, sources, attrs, globalBox, counter.GridSide, counter.MaxLevel,
		cellToCandidate, chunkWriters, pointCounts, &clamped, acc, mon)

	var closeErr error
	for i, w := range chunkWriters {
		if e := w.CloseAndWait(); e != nil && closeErr == nil {
			closeErr = fmt.Errorf("chunker: closing chunk file for %s: %w", paths[i], e)
		}
	}
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, closeErr
	}

	acc.apply(attrs)

	result := &Result{ClampedPoints: clamped}
	for i, cand := range candidates {
		result.Chunks = append(result.Chunks, Chunk{Path: paths[i], NumPoints: pointCounts[i], Box: cand.Box})
		result.PointsTotal += pointCounts[i]
	}

	if err := writeChunksMetadata(outDir, attrs, globalBox, result); err != nil {
		return nil, err
	}
	return result, nil
}

func countPass(ctx context.Context, sources []lasio.Source, box geometry.BoundingBox) (*grid.Counter, error) {
	global := grid.NewCounter(box, countGridSide)
	var mu sync.Mutex

	err := taskpool.Run(ctx, 0, len(sources), func(ctx context.Context, i int) error {
		local := grid.NewCounter(box, countGridSide)
		it, err := sources[i].Points()
		if err != nil {
			return fmt.Errorf("chunker: opening point iterator: %w", err)
		}
		for {
			p, ok, err := it.Next()
			if err != nil {
				glog.Warningf("chunker: counting pass: %v, remainder of this source is skipped", err)
				break
			}
			if !ok {
				break
			}
			local.Add(geometry.Vector3{X: p.X, Y: p.Y, Z: p.Z})
		}
		mu.Lock()
		global.Merge(local)
		mu.Unlock()
		return nil
	})
	return global, err
}

// distributePass re-walks every source, routing each point's packed
// record to the chunk file its finest-grid cell maps to (§4.2 Pass C).
func distributePass(ctx context.Context, sources []lasio.Source, attrs *attributes.Attributes,
	box geometry.BoundingBox, gridSide uint32, maxLevel int, cellToCandidate map[uint64]int,
	chunkWriters []*writer.Writer, pointCounts []int64, clamped *int64, acc *attrAccumulator, mon *monitor.Monitor) error {

	cubeSize := box.Max.X - box.Min.X

	return taskpool.Run(ctx, 0, len(sources), func(ctx context.Context, i int) error {
		it, err := sources[i].Points()
		if err != nil {
			return fmt.Errorf("chunker: opening point iterator: %w", err)
		}
		for {
			p, ok, err := it.Next()
			if err != nil {
				glog.Warningf("chunker: distribute pass: %v, remainder of this source is skipped", err)
				break
			}
			if !ok {
				break
			}
			world := geometry.Vector3{X: p.X, Y: p.Y, Z: p.Z}
			cx, cy, cz := pointrec.CellIndexForPoint(world, box.Min, cubeSize, gridSide)
			cell := morton.Encode21(cx, cy, cz)
			ci, ok := cellToCandidate[cell]
			if !ok {
				glog.Warningf("chunker: point %v fell outside every chunk candidate, dropping", world)
				continue
			}

			rec, wasClamped := encodeRecord(attrs, p)
			if wasClamped {
				atomic.AddInt64(clamped, 1)
			}
			acc.observe(attrs, rec)

			chunkWriters[ci].Append(rec)
			atomic.AddInt64(&pointCounts[ci], 1)
			if mon != nil {
				mon.AddPoints(1)
				mon.AddBytes(int64(len(rec)))
			}
		}
		return nil
	})
}

// encodeRecord packs one raw point into attrs' unified layout. Position
// is quantized against attrs' unified scale/offset (§4.2 "Encoding");
// other attributes are copied from the RawPoint fields this converter's
// lasio boundary exposes. Extra-bytes attributes beyond intensity,
// classification, and rgb are left zeroed: lasio's lidario-backed source
// does not yet surface raw extra-bytes payloads per point (see
// DESIGN.md).
func encodeRecord(attrs *attributes.Attributes, p lasio.RawPoint) (rec []byte, clamped bool) {
	rec = make([]byte, attrs.Bytes)
	x, y, z, cl := pointrec.QuantizePosition(geometry.Vector3{X: p.X, Y: p.Y, Z: p.Z}, attrs.PosScale, attrs.PosOffset)
	pointrec.PutPosition(rec, x, y, z)
	clamped = cl

	for _, d := range attrs.Descriptors {
		switch d.Name {
		case attributes.PositionName:
			continue
		case "intensity":
			binary.LittleEndian.PutUint16(rec[d.ByteOffset:], p.Intensity)
		case "classification":
			rec[d.ByteOffset] = p.Classification
		case "rgb":
			if p.HasColor {
				binary.LittleEndian.PutUint16(rec[d.ByteOffset:], p.R)
				binary.LittleEndian.PutUint16(rec[d.ByteOffset+2:], p.G)
				binary.LittleEndian.PutUint16(rec[d.ByteOffset+4:], p.B)
			}
		}
	}
	return rec, clamped
}

// leafCellsUnder enumerates the finest-grid Morton codes under a
// (possibly coarser) candidate cell, mirroring octreebuild's helper of
// the same name for the chunker's own counting grid.
func leafCellsUnder(cand grid.Candidate, maxLevel int) []uint64 {
	remaining := maxLevel - cand.Level
	base := pathToMorton(cand.Digits)
	if remaining == 0 {
		return []uint64{base}
	}
	count := 1 << uint(3*remaining)
	out := make([]uint64, count)
	base <<= uint(3 * remaining)
	for i := 0; i < count; i++ {
		out[i] = base | uint64(i)
	}
	return out
}

func pathToMorton(digits []uint8) uint64 {
	var idx uint64
	for _, d := range digits {
		idx = (idx << 3) | uint64(d)
	}
	return idx
}

// writeChunksMetadata emits chunks/metadata.json, per §4.2 "Output":
// global box, scale, offset, attribute schema, accumulated stats.
func writeChunksMetadata(outDir string, attrs *attributes.Attributes, globalBox geometry.BoundingBox, result *Result) error {
	doc := metadata.Build("", "intermediate chunk metadata", result.PointsTotal, "",
		metadata.Hierarchy{}, attrs, globalBox, 0, "")
	data, err := metadata.Marshal(doc)
	if err != nil {
		return fmt.Errorf("chunker: marshaling chunks metadata: %w", err)
	}
	path := filepath.Join(outDir, "metadata.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("chunker: writing %s: %w", path, err)
	}
	return nil
}

// attrAccumulator tracks per-descriptor min/max/histogram across the
// distribute pass under a single mutex; contention is acceptable since
// the work per point is a handful of comparisons, not I/O.
type attrAccumulator struct {
	mu    sync.Mutex
	stats []descStats
}

type descStats struct {
	min, max     geometry.Vector3
	hasAny       bool
	histogram    [256]int64
}

func newAttrAccumulator(attrs *attributes.Attributes) *attrAccumulator {
	return &attrAccumulator{stats: make([]descStats, len(attrs.Descriptors))}
}

func (a *attrAccumulator) observe(attrs *attributes.Attributes, rec []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, d := range attrs.Descriptors {
		if d.Name == attributes.PositionName {
			continue
		}
		s := &a.stats[i]
		v := decodeElements(rec[d.ByteOffset:d.ByteOffset+d.SizeBytes()], d.ElementSize, d.Type, d.NumElements)
		if !s.hasAny {
			s.min = v
			s.max = v
			s.hasAny = true
		} else {
			s.min = s.min.Min(v)
			s.max = s.max.Max(v)
		}
		if d.SizeBytes() == 1 {
			s.histogram[rec[d.ByteOffset]]++
		}
	}
}

// decodeElements reads up to 3 elements (one per Vector3 axis) of buf as
// typ, elemSize bytes apiece, from the packed record bytes already
// written by encodeRecord. Attributes with fewer than 3 elements leave
// the remaining axes at zero.
func decodeElements(buf []byte, elemSize int, typ attributes.Type, numElements int) geometry.Vector3 {
	n := numElements
	if n > 3 {
		n = 3
	}
	var v geometry.Vector3
	for i := 0; i < n; i++ {
		elem := decodeElement(buf[i*elemSize:(i+1)*elemSize], typ)
		switch i {
		case 0:
			v.X = elem
		case 1:
			v.Y = elem
		case 2:
			v.Z = elem
		}
	}
	return v
}

func decodeElement(b []byte, typ attributes.Type) float64 {
	switch typ {
	case attributes.TypeInt8:
		return float64(int8(b[0]))
	case attributes.TypeUint8:
		return float64(b[0])
	case attributes.TypeInt16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case attributes.TypeUint16:
		return float64(binary.LittleEndian.Uint16(b))
	case attributes.TypeInt32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case attributes.TypeUint32:
		return float64(binary.LittleEndian.Uint32(b))
	case attributes.TypeInt64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	case attributes.TypeUint64:
		return float64(binary.LittleEndian.Uint64(b))
	case attributes.TypeFloat:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case attributes.TypeDouble:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return 0
	}
}

func (a *attrAccumulator) apply(attrs *attributes.Attributes) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range attrs.Descriptors {
		s := a.stats[i]
		if !s.hasAny {
			continue
		}
		attrs.Descriptors[i].Min = s.min
		attrs.Descriptors[i].Max = s.max
		attrs.Descriptors[i].Histogram = s.histogram
	}
}
