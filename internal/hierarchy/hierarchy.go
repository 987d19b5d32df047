// Package hierarchy implements the chunked hierarchy index described in
// spec §4.3.9: the global octree is cut into fixed-depth chunks, each
// serialized as a flat list of 22-byte node records, with proxy records
// standing in for descendants that live in another chunk.
package hierarchy

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/ecopia-map/octree_converter/internal/octree"
)

// RecordBytes is the fixed on-disk size of one hierarchy node record
// (§3 "Hierarchy node record").
const RecordBytes = 22

// StepSize is the number of levels a single hierarchy chunk covers below
// its root, per §4.3.9 ("hierarchyStepSize = 4").
const StepSize = 4

// NodeType is the record's type tag.
type NodeType uint8

const (
	TypeInner NodeType = 0
	TypeLeaf  NodeType = 1
	TypeProxy NodeType = 2
)

// Record is the decoded form of one 22-byte hierarchy entry.
type Record struct {
	Type       NodeType
	ChildMask  uint8
	NumPoints  uint32
	ByteOffset uint64
	ByteSize   uint64
}

// Encode packs r into its 22-byte wire form.
func (r Record) Encode() [RecordBytes]byte {
	var buf [RecordBytes]byte
	buf[0] = byte(r.Type)
	buf[1] = r.ChildMask
	binary.LittleEndian.PutUint32(buf[2:6], r.NumPoints)
	binary.LittleEndian.PutUint64(buf[6:14], r.ByteOffset)
	binary.LittleEndian.PutUint64(buf[14:22], r.ByteSize)
	return buf
}

// DecodeRecord unpacks a 22-byte hierarchy entry.
func DecodeRecord(buf []byte) Record {
	return Record{
		Type:       NodeType(buf[0]),
		ChildMask:  buf[1],
		NumPoints:  binary.LittleEndian.Uint32(buf[2:6]),
		ByteOffset: binary.LittleEndian.Uint64(buf[6:14]),
		ByteSize:   binary.LittleEndian.Uint64(buf[14:22]),
	}
}

// entry is one row of a chunk's sorted record list: either a real node or
// a proxy standing in for the chunk rooted at a boundary node's child.
type entry struct {
	name       string
	node       *octree.Node
	isProxy    bool
	proxyChunk *chunk
}

// chunk is one hierarchy-chunk worth of nodes: the chunk root plus every
// descendant up to and including relative depth StepSize, followed by
// proxy entries for any child that starts a new chunk.
type chunk struct {
	entries     []entry
	children    []*chunk // one per proxy entry, same relative order
	offset      int64    // assigned by assignOffsets, byte position in hierarchy.bin
	ownSize     int64    // len(entries) * RecordBytes
	subtreeSize int64    // ownSize plus every descendant chunk's subtreeSize
}

// buildChunk walks root's subtree up to relative depth StepSize, starting
// a fresh chunk (recursively) for every boundary child, per §4.3.9.
func buildChunk(root *octree.Node) *chunk {
	rootDepth := len(root.Name)
	var entries []entry
	var children []*chunk

	var walk func(n *octree.Node)
	walk = func(n *octree.Node) {
		entries = append(entries, entry{name: n.Name, node: n})
		rel := len(n.Name) - rootDepth
		if rel == StepSize {
			for _, c := range n.Children {
				if c == nil {
					continue
				}
				child := buildChunk(c)
				entries = append(entries, entry{name: c.Name, isProxy: true, proxyChunk: child})
				children = append(children, child)
			}
			return
		}
		for _, c := range n.Children {
			if c != nil {
				walk(c)
			}
		}
	}
	walk(root)

	sort.SliceStable(entries, func(i, j int) bool {
		if len(entries[i].name) != len(entries[j].name) {
			return len(entries[i].name) < len(entries[j].name)
		}
		return entries[i].name < entries[j].name
	})

	ownSize := int64(len(entries)) * RecordBytes
	subtreeSize := ownSize
	for _, c := range children {
		subtreeSize += c.subtreeSize
	}
	return &chunk{entries: entries, children: children, ownSize: ownSize, subtreeSize: subtreeSize}
}

// assignOffsets lays chunks out pre-order: a chunk's own bytes come
// immediately before its first child's subtree, which is immediately
// followed by its second child's subtree, and so on. This is what lets
// every proxy record's offset be known before that chunk is written.
func assignOffsets(c *chunk, base int64) {
	c.offset = base
	next := base + c.ownSize
	for _, child := range c.children {
		assignOffsets(child, next)
		next += child.subtreeSize
	}
}

func writeChunk(w io.Writer, c *chunk) error {
	for _, e := range c.entries {
		var rec Record
		if e.isProxy {
			rec = Record{
				Type:       TypeProxy,
				ByteOffset: uint64(e.proxyChunk.offset),
				ByteSize:   uint64(e.proxyChunk.ownSize),
			}
		} else {
			n := e.node
			typ := TypeInner
			if n.IsLeaf() {
				typ = TypeLeaf
			}
			rec = Record{
				Type:       typ,
				ChildMask:  n.ChildMask(),
				NumPoints:  uint32(n.NumPoints),
				ByteOffset: uint64(n.ByteOffset),
				ByteSize:   uint64(n.ByteSize),
			}
		}
		buf := rec.Encode()
		if _, err := w.Write(buf[:]); err != nil {
			return fmt.Errorf("hierarchy: writing record for %q: %w", e.name, err)
		}
	}
	for _, child := range c.children {
		if err := writeChunk(w, child); err != nil {
			return err
		}
	}
	return nil
}

// Emit serializes root's whole tree to hierarchy.bin, returning the
// root chunk's byte size (metadata.json's "firstChunkSize") and the
// tree's maximum node depth (metadata.json's hierarchy "depth").
func Emit(w io.Writer, root *octree.Node) (firstChunkSize int64, maxDepth int, err error) {
	c := buildChunk(root)
	assignOffsets(c, 0)
	if err := writeChunk(w, c); err != nil {
		return 0, 0, err
	}
	root.Walk(func(n *octree.Node) {
		if d := n.Level(); d > maxDepth {
			maxDepth = d
		}
	})
	return c.ownSize, maxDepth, nil
}
