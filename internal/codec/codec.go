// Package codec implements the optional per-node BROTLI encoding
// described in spec §4.3.8: points are transposed to struct-of-arrays,
// position and rgb are Morton-reordered for locality, and the merged
// buffer is handed to github.com/andybalholm/brotli — the ecosystem's
// standard pure-Go brotli implementation, filling in for the original's
// libbrotli collaborator (no Go brotli codec exists in the retrieval
// pack; see DESIGN.md).
package codec

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/andybalholm/brotli"

	"github.com/ecopia-map/octree_converter/internal/attributes"
	"github.com/ecopia-map/octree_converter/internal/morton"
	"github.com/ecopia-map/octree_converter/internal/pointrec"
)

// Encoding selects how a node's points are serialized into octree.bin.
type Encoding string

const (
	EncodingDefault Encoding = "DEFAULT"
	EncodingBrotli  Encoding = "BROTLI"
)

const brotliQuality = 6

// Encode serializes a packed point buffer per enc. EncodingDefault
// passes records through unchanged; EncodingBrotli reorders into
// struct-of-arrays by position Morton code and compresses (§4.3.8).
func Encode(enc Encoding, attrs *attributes.Attributes, points []byte) ([]byte, error) {
	if enc != EncodingBrotli {
		return points, nil
	}
	merged := toStructOfArraysMortonSorted(attrs, points)
	return compressBrotli(merged)
}

// toStructOfArraysMortonSorted implements §4.3.8 steps 1-4: build a
// 128-bit position Morton code (and 64-bit rgb Morton code, if present)
// per point relative to the node's local minimum, sort indices by
// position Morton (upper half first, lower second), then emit one
// contiguous buffer per attribute in schema order, reordered to match.
func toStructOfArraysMortonSorted(attrs *attributes.Attributes, points []byte) []byte {
	recBytes := attrs.Bytes
	numPoints := len(points) / recBytes
	if numPoints == 0 {
		return nil
	}

	minX, minY, minZ := int32(1<<31-1), int32(1<<31-1), int32(1<<31-1)
	for i := 0; i < numPoints; i++ {
		x, y, z := pointrec.GetPosition(points[i*recBytes : i*recBytes+12])
		if x < minX {
			minX = x
		}
		if y < minY {
			minY = y
		}
		if z < minZ {
			minZ = z
		}
	}

	posCodes := make([]morton.Code128, numPoints)
	rgbDesc, hasRGB := attrs.Get("rgb")
	rgbCodes := make([]uint64, numPoints)
	for i := 0; i < numPoints; i++ {
		rec := points[i*recBytes : (i+1)*recBytes]
		x, y, z := pointrec.GetPosition(rec)
		posCodes[i] = morton.EncodePosition128(uint32(x-minX), uint32(y-minY), uint32(z-minZ))
		if hasRGB {
			r := uint16(rec[rgbDesc.ByteOffset]) | uint16(rec[rgbDesc.ByteOffset+1])<<8
			g := uint16(rec[rgbDesc.ByteOffset+2]) | uint16(rec[rgbDesc.ByteOffset+3])<<8
			b := uint16(rec[rgbDesc.ByteOffset+4]) | uint16(rec[rgbDesc.ByteOffset+5])<<8
			rgbCodes[i] = morton.EncodeRGB64(r, g, b)
		}
	}

	order := make([]int, numPoints)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return posCodes[order[a]].Less(posCodes[order[b]]) })

	// The node's local per-axis minimum must travel with the encoded
	// buffer: position was Morton-encoded relative to it, and Decode has
	// no other way to recover the original world-grid coordinates.
	out := appendInt32LE(appendInt32LE(appendInt32LE(nil, minX), minY), minZ)
	for _, d := range attrs.Descriptors {
		switch d.Name {
		case attributes.PositionName:
			for _, idx := range order {
				c := posCodes[idx]
				out = appendUint64LE(out, c.Lower)
				out = appendUint64LE(out, c.Upper)
			}
		case "rgb":
			for _, idx := range order {
				out = appendUint64LE(out, rgbCodes[idx])
			}
		default:
			sz := d.SizeBytes()
			for _, idx := range order {
				rec := points[idx*recBytes : (idx+1)*recBytes]
				out = append(out, rec[d.ByteOffset:d.ByteOffset+sz]...)
			}
		}
	}
	return out
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func appendInt32LE(buf []byte, v int32) []byte {
	u := uint32(v)
	return append(buf, byte(u), byte(u>>8), byte(u>>16), byte(u>>24))
}

func readInt32LE(b []byte) int32 {
	return int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
}

// compressBrotli retries with a growing output buffer up to 5 times,
// matching §4.3.8 step 5's "retry up to 5 times with 1.5x growing output
// buffers if it reports insufficient space". The andybalholm/brotli
// streaming writer does not pre-size a fixed destination buffer the way
// the original's one-shot API does, so in practice a single pass always
// succeeds; the retry loop is kept so an unexpected Close error from a
// future underlying version still gets bounded retries rather than
// propagating immediately.
func compressBrotli(data []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, brotliQuality)
		if _, err := w.Write(data); err != nil {
			lastErr = err
			continue
		}
		if err := w.Close(); err != nil {
			lastErr = err
			continue
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("codec: brotli compression failed after 5 attempts: %w", lastErr)
}

// Decode reverses Encode for test/verification purposes (§8 S5):
// decompresses (if needed) and un-transposes struct-of-arrays back into
// packed records, returning them in Morton order (a permutation of the
// original input, not the original order).
func Decode(enc Encoding, attrs *attributes.Attributes, data []byte, numPoints int) ([]byte, error) {
	if enc != EncodingBrotli {
		return data, nil
	}
	if numPoints == 0 {
		return nil, nil
	}

	r := brotli.NewReader(bytes.NewReader(data))
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("codec: brotli decompression failed: %w", err)
	}
	merged := buf.Bytes()

	minX := readInt32LE(merged[0:4])
	minY := readInt32LE(merged[4:8])
	minZ := readInt32LE(merged[8:12])
	cursor := 12

	recBytes := attrs.Bytes
	out := make([]byte, numPoints*recBytes)
	for _, d := range attrs.Descriptors {
		switch d.Name {
		case attributes.PositionName:
			for i := 0; i < numPoints; i++ {
				lower := readUint64LE(merged[cursor:])
				cursor += 8
				upper := readUint64LE(merged[cursor:])
				cursor += 8
				x, y, z := decodeMorton128(lower, upper)
				pointrec.PutPosition(out[i*recBytes:], int32(x)+minX, int32(y)+minY, int32(z)+minZ)
			}
		case "rgb":
			for i := 0; i < numPoints; i++ {
				code := readUint64LE(merged[cursor:])
				cursor += 8
				r, g, b := decodeMorton64(code)
				rec := out[i*recBytes+d.ByteOffset:]
				rec[0], rec[1] = byte(r), byte(r>>8)
				rec[2], rec[3] = byte(g), byte(g>>8)
				rec[4], rec[5] = byte(b), byte(b>>8)
			}
		default:
			sz := d.SizeBytes()
			for i := 0; i < numPoints; i++ {
				copy(out[i*recBytes+d.ByteOffset:i*recBytes+d.ByteOffset+sz], merged[cursor:cursor+sz])
				cursor += sz
			}
		}
	}
	return out, nil
}

func readUint64LE(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func decodeMorton128(lower, upper uint64) (x, y, z uint32) {
	xl, yl, zl := compact16(lower), compact16(lower>>1), compact16(lower>>2)
	xh, yh, zh := compact16(upper), compact16(upper>>1), compact16(upper>>2)
	x = uint32(xl) | uint32(xh)<<16
	y = uint32(yl) | uint32(yh)<<16
	z = uint32(zl) | uint32(zh)<<16
	return
}

func decodeMorton64(code uint64) (r, g, b uint16) {
	r = uint16(compact16(code))
	g = uint16(compact16(code >> 1))
	b = uint16(compact16(code >> 2))
	return
}

// compact16 extracts every third bit starting at bit 0, the inverse of
// morton.spread16, recovering a 16-bit value from an interleaved code.
func compact16(v uint64) uint64 {
	v &= 0x1249249249249249
	v = (v | (v >> 2)) & 0x10C30C30C30C30C3
	v = (v | (v >> 4)) & 0x100F00F00F00F00F
	v = (v | (v >> 8)) & 0x1F0000FF0000FF
	v = (v | (v >> 16)) & 0x1F00000000FFFF
	v = (v | (v >> 32)) & 0x1FFFFF
	return v & 0xFFFF
}
