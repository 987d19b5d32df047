package hierarchy

import "strconv"

// pendingProxy is a proxy record awaiting expansion into its target
// chunk, discovered while decoding an earlier chunk.
type pendingProxy struct {
	name        string
	chunkOffset int64
}

// Decode reconstructs every node name and Record from a full hierarchy.bin
// image, following proxies across chunk boundaries. It exists to support
// the §8 "hierarchy round-trip" property: names are never stored on disk,
// only reconstructed from each chunk's breadth-first record order and
// childMask bits, exactly mirroring how writeChunk produced that order.
func Decode(data []byte) (map[string]Record, error) {
	out := map[string]Record{}
	proxies := []pendingProxy{{name: "r", chunkOffset: 0}}
	for i := 0; i < len(proxies); i++ {
		p := proxies[i]
		decodeChunk(data, p.chunkOffset, p.name, out, &proxies)
	}
	return out, nil
}

// decodeChunk walks one chunk's records in file order, which is a plain
// breadth-first traversal from rootName: the FIFO queue dequeues in the
// same (depth, lexicographic) order writeChunk sorted entries into.
func decodeChunk(data []byte, offset int64, rootName string, out map[string]Record, proxies *[]pendingProxy) {
	queue := []string{rootName}
	var idx int64
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		recOffset := offset + idx*RecordBytes
		rec := DecodeRecord(data[recOffset : recOffset+RecordBytes])
		idx++
		out[name] = rec

		if rec.Type == TypeProxy {
			*proxies = append(*proxies, pendingProxy{name: name, chunkOffset: int64(rec.ByteOffset)})
			continue
		}
		for octant := 0; octant < 8; octant++ {
			if rec.ChildMask&(1<<uint(octant)) != 0 {
				queue = append(queue, name+strconv.Itoa(octant))
			}
		}
	}
}
