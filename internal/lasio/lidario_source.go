package lasio

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	lidario "github.com/edaniels/lidario"
	"github.com/golang/glog"

	"github.com/ecopia-map/octree_converter/internal/attributes"
	"github.com/ecopia-map/octree_converter/internal/geometry"
)

// LidarioOpener opens LAS files through edaniels/lidario. LAZ files are
// rejected with a fatal error, matching §7's "unsupported formats are
// fatal": no LAZ decompressor collaborator is wired into this build.
type LidarioOpener struct{}

func NewLidarioOpener() *LidarioOpener { return &LidarioOpener{} }

func (o *LidarioOpener) Open(path string) (Source, error) {
	if strings.EqualFold(filepath.Ext(path), ".laz") {
		return nil, fmt.Errorf("lasio: %s: LAZ decompression is not wired into this build", path)
	}

	lf, err := lidario.NewLasFile(path, "r")
	if err != nil {
		return nil, fmt.Errorf("lasio: opening %s: %w", path, err)
	}

	src := &lidarioSource{path: path, lf: lf}
	if err := src.loadExtraBytesVLRs(); err != nil {
		_ = lf.Close()
		return nil, err
	}
	return src, nil
}

type lidarioSource struct {
	path       string
	lf         *lidario.LasFile
	extraBytes []extraByteField
}

type extraByteField struct {
	name        string
	description string
	typeCode    byte
	hasScale    bool
	scale       float64
	offset      float64
}

func (s *lidarioSource) Header() Header {
	h := s.lf.Header
	return Header{
		Min:            geometry.Vector3{X: h.MinX, Y: h.MinY, Z: h.MinZ},
		Max:            geometry.Vector3{X: h.MaxX, Y: h.MaxY, Z: h.MaxZ},
		PosScale:       geometry.Vector3{X: h.XScaleFactor, Y: h.YScaleFactor, Z: h.ZScaleFactor},
		PosOffset:      geometry.Vector3{X: h.XOffset, Y: h.YOffset, Z: h.ZOffset},
		NumberOfPoints: h.NumberPoints,
		PointFormat:    int(h.PointFormatID),
	}
}

func (s *lidarioSource) Attributes() ([]attributes.Descriptor, error) {
	fmtID := int(s.lf.Header.PointFormatID)
	if fmtID < 0 || fmtID > 7 {
		return nil, fmt.Errorf("lasio: %s: unsupported point data format %d", s.path, fmtID)
	}

	descs := []attributes.Descriptor{
		{Name: "intensity", NumElements: 1, ElementSize: 2, Type: attributes.TypeUint16},
		{Name: "classification", NumElements: 1, ElementSize: 1, Type: attributes.TypeUint8},
	}
	if formatHasColor(fmtID) {
		descs = append(descs, attributes.Descriptor{
			Name: "rgb", NumElements: 3, ElementSize: 2, Type: attributes.TypeUint16,
		})
	}
	for _, eb := range s.extraBytes {
		t, elemSize := extraByteType(eb.typeCode)
		descs = append(descs, attributes.Descriptor{
			Name:        eb.name,
			Description: eb.description,
			NumElements: 1,
			ElementSize: elemSize,
			Type:        t,
		})
	}
	return descs, nil
}

func (s *lidarioSource) Points() (PointIterator, error) {
	return &lidarioIterator{src: s, total: s.lf.Header.NumberPoints}, nil
}

func (s *lidarioSource) Close() error {
	return s.lf.Close()
}

type lidarioIterator struct {
	src   *lidarioSource
	index int
	total int
}

func (it *lidarioIterator) Next() (RawPoint, bool, error) {
	if it.index >= it.total {
		return RawPoint{}, false, nil
	}
	lp, err := it.src.lf.LasPoint(it.index)
	if err != nil {
		return RawPoint{}, false, fmt.Errorf("lasio: %s: reading point %d: %w", it.src.path, it.index, err)
	}
	pd := lp.PointData()
	rp := RawPoint{X: pd.X, Y: pd.Y, Z: pd.Z}

	// lidario's LasPointer is format-specific; probe it by duck typing
	// rather than asserting a concrete point-record type, since formats
	// 0-5 differ in which of these fields they carry (§4.1).
	if src, ok := lp.(interface{ Intensity() uint16 }); ok {
		rp.Intensity = src.Intensity()
	}
	if src, ok := lp.(interface{ Classification() uint8 }); ok {
		rp.Classification = src.Classification()
	}
	if src, ok := lp.(interface{ RGB() (uint16, uint16, uint16) }); ok {
		rp.R, rp.G, rp.B = src.RGB()
		rp.HasColor = true
	}

	it.index++
	return rp, true, nil
}

func formatHasColor(fmtID int) bool {
	switch fmtID {
	case 2, 3, 5, 7, 8, 10:
		return true
	default:
		return false
	}
}

// extraByteType maps a LAS extra-bytes field type code (1..10, per the
// ASPRS spec) onto the converter's abstract attribute type enum (§4.1).
func extraByteType(code byte) (attributes.Type, int) {
	switch code {
	case 1:
		return attributes.TypeUint8, 1
	case 2:
		return attributes.TypeInt8, 1
	case 3:
		return attributes.TypeUint16, 2
	case 4:
		return attributes.TypeInt16, 2
	case 5:
		return attributes.TypeUint32, 4
	case 6:
		return attributes.TypeInt32, 4
	case 7:
		return attributes.TypeUint64, 8
	case 8:
		return attributes.TypeInt64, 8
	case 9:
		return attributes.TypeFloat, 4
	case 10:
		return attributes.TypeDouble, 8
	default:
		return attributes.TypeUint8, 1
	}
}

// loadExtraBytesVLRs scans the variable length records for the "Extra
// Bytes" record (user ID "LASF_Spec", record id 4) and decodes its
// 192-byte fixed field descriptors (§4.1). Malformed VLRs are skipped
// with a warning, never fatal (§7).
func (s *lidarioSource) loadExtraBytesVLRs() error {
	for _, vlr := range s.lf.VlrData {
		if strings.TrimRight(vlr.UserID, "\x00") != "LASF_Spec" || vlr.RecordID != 4 {
			continue
		}
		payload := vlr.BinaryData
		const descLen = 192
		if len(payload)%descLen != 0 {
			glog.Warningf("lasio: %s: skipping extra-bytes VLR of %d bytes, not a multiple of %d",
				s.path, len(payload), descLen)
			continue
		}
		for off := 0; off+descLen <= len(payload); off += descLen {
			rec := payload[off : off+descLen]
			typeCode := rec[2]
			if typeCode == 0 {
				continue // undocumented extra bytes, not surfaced as an attribute
			}
			options := rec[3]
			name := cString(rec[4:36])
			var scale, offset float64
			hasScale := options&0x01 != 0
			if hasScale {
				scale = littleEndianFloat64(rec[48:56])
				offset = littleEndianFloat64(rec[144:152])
			}
			description := cString(rec[160:192])
			s.extraBytes = append(s.extraBytes, extraByteField{
				name:        name,
				description: description,
				typeCode:    typeCode,
				hasScale:    hasScale,
				scale:       scale,
				offset:      offset,
			})
		}
	}
	return nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func littleEndianFloat64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}
