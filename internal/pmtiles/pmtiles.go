// Package pmtiles writes PMTiles v3 archives for the report overlay.
//
// This is a minimal write-oriented subset of
// github.com/protomaps/go-pmtiles/pmtiles: just the header, directory
// and metadata encoding needed to produce a single-file archive that
// map clients can range-request. The MBTiles conversion code and its
// SQLite dependency are deliberately excluded.
//
// Source: https://github.com/protomaps/go-pmtiles (BSD-3-Clause)
// Spec: https://github.com/protomaps/PMTiles/blob/main/spec/v3/spec.md
package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Compression is the compression algorithm applied to individual tiles.
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression      Compression = 1
	Gzip               Compression = 2
	Brotli             Compression = 3
	Zstd               Compression = 4
)

// TileType is the format of individual tile contents.
type TileType uint8

const (
	UnknownTileType TileType = 0
	Mvt             TileType = 1
	Png             TileType = 2
	Jpeg            TileType = 3
	Webp            TileType = 4
	Avif            TileType = 5
)

// HeaderV3LenBytes is the fixed-size binary header.
const HeaderV3LenBytes = 127

// HeaderV3 is a binary header for PMTiles v3.
type HeaderV3 struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// EntryV3 is an entry in a PMTiles v3 directory.
type EntryV3 struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// ZxyToID converts (Z,X,Y) tile coordinates to a Hilbert TileID.
func ZxyToID(z uint8, x uint32, y uint32) uint64 {
	var acc uint64 = (1<<(z*2) - 1) / 3
	n := uint32(z - 1)
	for s := uint32(1 << n); s > 0; s >>= 1 {
		var rx = s & x
		var ry = s & y
		acc += uint64((3*rx)^ry) << n
		x, y = rotate(s, x, y, rx, ry)
		n--
	}
	return acc
}

func rotate(n uint32, x uint32, y uint32, rx uint32, ry uint32) (uint32, uint32) {
	if ry == 0 {
		if rx != 0 {
			x = n - 1 - x
			y = n - 1 - y
		}
		return y, x
	}
	return x, y
}

// SerializeHeader converts a header to bytes.
func SerializeHeader(header HeaderV3) []byte {
	b := make([]byte, HeaderV3LenBytes)
	copy(b[0:7], "PMTiles")

	b[7] = 3
	binary.LittleEndian.PutUint64(b[8:8+8], header.RootOffset)
	binary.LittleEndian.PutUint64(b[16:16+8], header.RootLength)
	binary.LittleEndian.PutUint64(b[24:24+8], header.MetadataOffset)
	binary.LittleEndian.PutUint64(b[32:32+8], header.MetadataLength)
	binary.LittleEndian.PutUint64(b[40:40+8], header.LeafDirectoryOffset)
	binary.LittleEndian.PutUint64(b[48:48+8], header.LeafDirectoryLength)
	binary.LittleEndian.PutUint64(b[56:56+8], header.TileDataOffset)
	binary.LittleEndian.PutUint64(b[64:64+8], header.TileDataLength)
	binary.LittleEndian.PutUint64(b[72:72+8], header.AddressedTilesCount)
	binary.LittleEndian.PutUint64(b[80:80+8], header.TileEntriesCount)
	binary.LittleEndian.PutUint64(b[88:88+8], header.TileContentsCount)
	if header.Clustered {
		b[96] = 0x1
	}
	b[97] = uint8(header.InternalCompression)
	b[98] = uint8(header.TileCompression)
	b[99] = uint8(header.TileType)
	b[100] = header.MinZoom
	b[101] = header.MaxZoom
	binary.LittleEndian.PutUint32(b[102:102+4], uint32(header.MinLonE7))
	binary.LittleEndian.PutUint32(b[106:106+4], uint32(header.MinLatE7))
	binary.LittleEndian.PutUint32(b[110:110+4], uint32(header.MaxLonE7))
	binary.LittleEndian.PutUint32(b[114:114+4], uint32(header.MaxLatE7))
	b[118] = header.CenterZoom
	binary.LittleEndian.PutUint32(b[119:119+4], uint32(header.CenterLonE7))
	binary.LittleEndian.PutUint32(b[123:123+4], uint32(header.CenterLatE7))
	return b
}

// DeserializeHeader parses a binary header.
func DeserializeHeader(d []byte) (HeaderV3, error) {
	h := HeaderV3{}
	if len(d) < HeaderV3LenBytes {
		return h, errors.New("buffer too small for header")
	}
	if string(d[0:7]) != "PMTiles" {
		return h, errors.New("magic number not detected")
	}

	h.SpecVersion = d[7]
	h.RootOffset = binary.LittleEndian.Uint64(d[8 : 8+8])
	h.RootLength = binary.LittleEndian.Uint64(d[16 : 16+8])
	h.MetadataOffset = binary.LittleEndian.Uint64(d[24 : 24+8])
	h.MetadataLength = binary.LittleEndian.Uint64(d[32 : 32+8])
	h.LeafDirectoryOffset = binary.LittleEndian.Uint64(d[40 : 40+8])
	h.LeafDirectoryLength = binary.LittleEndian.Uint64(d[48 : 48+8])
	h.TileDataOffset = binary.LittleEndian.Uint64(d[56 : 56+8])
	h.TileDataLength = binary.LittleEndian.Uint64(d[64 : 64+8])
	h.AddressedTilesCount = binary.LittleEndian.Uint64(d[72 : 72+8])
	h.TileEntriesCount = binary.LittleEndian.Uint64(d[80 : 80+8])
	h.TileContentsCount = binary.LittleEndian.Uint64(d[88 : 88+8])
	h.Clustered = (d[96] == 0x1)
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom = d[100]
	h.MaxZoom = d[101]
	h.MinLonE7 = int32(binary.LittleEndian.Uint32(d[102 : 102+4]))
	h.MinLatE7 = int32(binary.LittleEndian.Uint32(d[106 : 106+4]))
	h.MaxLonE7 = int32(binary.LittleEndian.Uint32(d[110 : 110+4]))
	h.MaxLatE7 = int32(binary.LittleEndian.Uint32(d[114 : 114+4]))
	h.CenterZoom = d[118]
	h.CenterLonE7 = int32(binary.LittleEndian.Uint32(d[119 : 119+4]))
	h.CenterLatE7 = int32(binary.LittleEndian.Uint32(d[123 : 123+4]))

	return h, nil
}

// SerializeMetadata converts metadata JSON to compressed bytes.
func SerializeMetadata(metadata map[string]any, compression Compression) ([]byte, error) {
	jsonBytes, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	w, err := compressedWriter(&b, compression)
	if err != nil {
		return nil, err
	}
	w.Write(jsonBytes)
	w.Close()
	return b.Bytes(), nil
}

// SerializeEntries converts directory entries to compressed bytes.
// Entries must be sorted by TileID.
func SerializeEntries(entries []EntryV3, compression Compression) []byte {
	var b bytes.Buffer
	w, err := compressedWriter(&b, compression)
	if err != nil {
		panic(err)
	}

	tmp := make([]byte, binary.MaxVarintLen64)

	var n int
	n = binary.PutUvarint(tmp, uint64(len(entries)))
	w.Write(tmp[:n])

	lastID := uint64(0)
	for _, entry := range entries {
		n = binary.PutUvarint(tmp, uint64(entry.TileID)-lastID)
		w.Write(tmp[:n])
		lastID = uint64(entry.TileID)
	}

	for _, entry := range entries {
		n := binary.PutUvarint(tmp, uint64(entry.RunLength))
		w.Write(tmp[:n])
	}

	for _, entry := range entries {
		n := binary.PutUvarint(tmp, uint64(entry.Length))
		w.Write(tmp[:n])
	}

	for i, entry := range entries {
		var n int
		if i > 0 && entry.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			n = binary.PutUvarint(tmp, 0)
		} else {
			n = binary.PutUvarint(tmp, uint64(entry.Offset+1))
		}
		w.Write(tmp[:n])
	}

	w.Close()
	return b.Bytes()
}

func compressedWriter(b *bytes.Buffer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case NoCompression:
		return &nopWriteCloser{b}, nil
	case Gzip:
		return gzip.NewWriterLevel(b, gzip.BestCompression)
	default:
		return nil, fmt.Errorf("compression %d not supported", compression)
	}
}

type nopWriteCloser struct {
	*bytes.Buffer
}

func (w *nopWriteCloser) Close() error { return nil }

// Writer accumulates tiles and flushes them as a single clustered
// archive. Tiles are held in memory, which is fine for the report
// overlay where even a dense city stays well under a few megabytes.
type Writer struct {
	tileType    TileType
	compression Compression
	metadata    map[string]any
	minZoom     uint8
	maxZoom     uint8
	hasBounds   bool
	minLon      float64
	minLat      float64
	maxLon      float64
	maxLat      float64
	centerZoom  uint8
	centerLon   float64
	centerLat   float64
	tiles       []tileRecord
}

type tileRecord struct {
	id   uint64
	data []byte
}

// NewWriter starts an archive of the given tile type. Tile data is
// expected to already be gzip-compressed when the type is Mvt.
func NewWriter(t TileType, minZoom, maxZoom uint8) *Writer {
	return &Writer{
		tileType:    t,
		compression: Gzip,
		minZoom:     minZoom,
		maxZoom:     maxZoom,
	}
}

// SetMetadata attaches the JSON metadata document.
func (w *Writer) SetMetadata(md map[string]any) {
	w.metadata = md
}

// SetBounds records the lon/lat extent advertised in the header.
func (w *Writer) SetBounds(minLon, minLat, maxLon, maxLat float64) {
	w.hasBounds = true
	w.minLon, w.minLat = minLon, minLat
	w.maxLon, w.maxLat = maxLon, maxLat
}

// SetCenter records the initial viewport advertised in the header.
func (w *Writer) SetCenter(lon, lat float64, zoom uint8) {
	w.centerLon, w.centerLat = lon, lat
	w.centerZoom = zoom
}

// Add stages one tile. Adding the same coordinates twice keeps both
// copies; callers are expected to stage each tile once.
func (w *Writer) Add(z uint8, x, y uint32, data []byte) {
	w.tiles = append(w.tiles, tileRecord{id: ZxyToID(z, x, y), data: data})
}

// Len reports the number of staged tiles.
func (w *Writer) Len() int {
	return len(w.tiles)
}

// WriteTo assembles the archive and writes it out in one pass:
// header, root directory, metadata, then clustered tile data.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	if len(w.tiles) == 0 {
		return 0, errors.New("no tiles staged")
	}

	sort.Slice(w.tiles, func(i, j int) bool {
		return w.tiles[i].id < w.tiles[j].id
	})

	var entries []EntryV3
	var tileData bytes.Buffer
	offset := uint64(0)
	for _, t := range w.tiles {
		entries = append(entries, EntryV3{
			TileID:    t.id,
			Offset:    offset,
			Length:    uint32(len(t.data)),
			RunLength: 1,
		})
		tileData.Write(t.data)
		offset += uint64(len(t.data))
	}

	metadata := w.metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataBytes, err := SerializeMetadata(metadata, w.compression)
	if err != nil {
		return 0, fmt.Errorf("serializing metadata: %w", err)
	}
	rootDirBytes := SerializeEntries(entries, w.compression)

	rootDirOffset := uint64(HeaderV3LenBytes)
	metadataOffset := rootDirOffset + uint64(len(rootDirBytes))
	tileDataOffset := metadataOffset + uint64(len(metadataBytes))

	header := HeaderV3{
		SpecVersion:         3,
		RootOffset:          rootDirOffset,
		RootLength:          uint64(len(rootDirBytes)),
		MetadataOffset:      metadataOffset,
		MetadataLength:      uint64(len(metadataBytes)),
		TileDataOffset:      tileDataOffset,
		TileDataLength:      uint64(tileData.Len()),
		AddressedTilesCount: uint64(len(entries)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(entries)),
		Clustered:           true,
		InternalCompression: w.compression,
		TileCompression:     w.compression,
		TileType:            w.tileType,
		MinZoom:             w.minZoom,
		MaxZoom:             w.maxZoom,
		CenterZoom:          w.centerZoom,
		CenterLonE7:         toE7(w.centerLon),
		CenterLatE7:         toE7(w.centerLat),
	}
	if w.hasBounds {
		header.MinLonE7 = toE7(w.minLon)
		header.MinLatE7 = toE7(w.minLat)
		header.MaxLonE7 = toE7(w.maxLon)
		header.MaxLatE7 = toE7(w.maxLat)
	}

	total := int64(0)
	for _, chunk := range [][]byte{SerializeHeader(header), rootDirBytes, metadataBytes, tileData.Bytes()} {
		n, err := out.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func toE7(v float64) int32 {
	return int32(v * 1e7)
}
