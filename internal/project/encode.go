package project

import (
	"bytes"
	"encoding/binary"
	"math"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// GeoPackage binary header flag bits.
const (
	flagLittleEndian = 0x01
	flagEnvelopeXY   = 0x02 // envelope indicator 1: minx, maxx, miny, maxy
	flagEmpty        = 0x10
)

// EncodeGeometry serializes g as a GeoPackage geometry blob: the "GP"
// header followed by little-endian WKB. Points carry no envelope.
func EncodeGeometry(g geom.T) ([]byte, error) {
	if g == nil {
		return nil, eris.New("project: nil geometry")
	}

	var buf bytes.Buffer
	flags := byte(flagLittleEndian)
	_, isPoint := g.(*geom.Point)
	withEnvelope := !isPoint && !g.Empty()
	if withEnvelope {
		flags |= flagEnvelopeXY
	}
	if g.Empty() {
		flags |= flagEmpty
	}

	buf.Write([]byte{'G', 'P', 0, flags})
	_ = binary.Write(&buf, binary.LittleEndian, int32(g.SRID()))
	if withEnvelope {
		b := g.Bounds()
		for _, v := range []float64{b.Min(0), b.Max(0), b.Min(1), b.Max(1)} {
			_ = binary.Write(&buf, binary.LittleEndian, v)
		}
	}

	body, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "project: encode WKB")
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// DecodeGeometry parses a GeoPackage geometry blob back into a geometry
// with its SRID set.
func DecodeGeometry(blob []byte) (geom.T, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, eris.New("project: not a GeoPackage geometry blob")
	}
	if blob[2] != 0 {
		return nil, eris.Errorf("project: unsupported GeoPackage blob version %d", blob[2])
	}
	flags := blob[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&flagLittleEndian != 0 {
		order = binary.LittleEndian
	}
	srid := int(int32(order.Uint32(blob[4:8])))

	offset := 8
	switch (flags >> 1) & 0x07 {
	case 0:
	case 1:
		offset += 32
	case 2, 3:
		offset += 48
	case 4:
		offset += 64
	default:
		return nil, eris.Errorf("project: invalid envelope indicator in flags 0x%02x", flags)
	}
	if len(blob) < offset {
		return nil, eris.New("project: truncated GeoPackage geometry blob")
	}

	g, err := wkb.Unmarshal(blob[offset:])
	if err != nil {
		return nil, eris.Wrap(err, "project: decode WKB")
	}
	return setSRID(g, srid), nil
}

func setSRID(g geom.T, srid int) geom.T {
	switch t := g.(type) {
	case *geom.Point:
		return t.SetSRID(srid)
	case *geom.Polygon:
		return t.SetSRID(srid)
	case *geom.MultiPolygon:
		return t.SetSRID(srid)
	case *geom.LineString:
		return t.SetSRID(srid)
	case *geom.MultiPoint:
		return t.SetSRID(srid)
	case *geom.MultiLineString:
		return t.SetSRID(srid)
	}
	return g
}

// extent accumulates the bounding box written to gpkg_contents.
type extent struct {
	minX, minY, maxX, maxY float64
	set                    bool
}

func (e *extent) extend(g geom.T) {
	if g == nil || g.Empty() {
		return
	}
	b := g.Bounds()
	if !e.set {
		e.minX, e.minY, e.maxX, e.maxY = b.Min(0), b.Min(1), b.Max(0), b.Max(1)
		e.set = true
		return
	}
	e.minX = math.Min(e.minX, b.Min(0))
	e.minY = math.Min(e.minY, b.Min(1))
	e.maxX = math.Max(e.maxX, b.Max(0))
	e.maxY = math.Max(e.maxY, b.Max(1))
}

// values returns the extent as nullable columns.
func (e *extent) values() []any {
	if !e.set {
		return []any{nil, nil, nil, nil}
	}
	return []any{e.minX, e.minY, e.maxX, e.maxY}
}

// SQLite integers are signed, so seeds are stored as decimal text.
func formatSeed(seed uint64) string { return strconv.FormatUint(seed, 10) }

func parseSeed(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
