package tileview

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/valyala/fasthttp"
	"golang.org/x/image/tiff/lzw"
)

// TIFF constants
const (
	tiffMagicLE = 0x4949 // "II" little-endian
	tiffMagicBE = 0x4D4D // "MM" big-endian
	tiffVersion = 42
)

// Baseline and extension tags read by TIFFSource
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
)

// Compression types
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionOldDeflate = 32946
)

const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// ifdEntry is one raw 12-byte directory entry, value field undecoded
type ifdEntry struct {
	typ   uint16
	count uint32
	value [4]byte
}

// typeSize returns the size in bytes of a TIFF field type
func typeSize(typ uint16) int {
	switch typ {
	case 1, 2, 6, 7: // BYTE, ASCII, SBYTE, UNDEFINED
		return 1
	case 3, 8: // SHORT, SSHORT
		return 2
	case 4, 9, 11: // LONG, SLONG, FLOAT
		return 4
	case 5, 10, 12: // RATIONAL, SRATIONAL, DOUBLE
		return 8
	}
	return 0
}

// TIFFSource serves the first band of a tiled or stripped TIFF as tile
// pixels. Session tiles map one to one onto the file's tiles (or strips),
// so callers should open the session with Geometry(). It is safe for
// concurrent use when the underlying reader is.
type TIFFSource struct {
	r      io.ReaderAt
	closer io.Closer
	order  binary.ByteOrder
	logger Logger

	geometry       ImageGeometry
	tiled          bool
	pixelStride    int // samples per pixel inside one chunk
	bytesPerSample int
	sampleFormat   int
	compression    int
	predictor      int
	offsets        []uint64
	byteCounts     []uint64
}

// OpenTIFF opens a local file, or a URL through HTTP range requests. A nil
// client gets a default fasthttp client.
func OpenTIFF(pathOrURL string, client *fasthttp.Client, logger Logger) (*TIFFSource, error) {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		rr, err := NewRangeReader(pathOrURL, client)
		if err != nil {
			return nil, err
		}
		return NewTIFFSource(rr, nil, logger)
	}

	file, err := os.Open(pathOrURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	src, err := NewTIFFSource(file, file, logger)
	if err != nil {
		file.Close()
		return nil, err
	}
	return src, nil
}

// NewTIFFSource parses the header and first directory of r. closer, if
// not nil, is closed by Close.
func NewTIFFSource(r io.ReaderAt, closer io.Closer, logger Logger) (*TIFFSource, error) {
	if logger == nil {
		logger = &NullLogger{}
	}
	s := &TIFFSource{r: r, closer: closer, logger: logger}

	header := make([]byte, 8)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("failed to read TIFF header: %w", err)
	}
	switch magic := binary.LittleEndian.Uint16(header[0:2]); magic {
	case tiffMagicLE:
		s.order = binary.LittleEndian
	case tiffMagicBE:
		s.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("invalid TIFF magic: 0x%04x", magic)
	}
	if version := s.order.Uint16(header[2:4]); version != tiffVersion {
		return nil, fmt.Errorf("unsupported TIFF version: %d", version)
	}

	entries, err := s.readIFD(int64(s.order.Uint32(header[4:8])))
	if err != nil {
		return nil, fmt.Errorf("failed to read IFD: %w", err)
	}
	if err := s.configure(entries); err != nil {
		return nil, err
	}
	logger.Infof("opened TIFF %dx%d in %dx%d chunks, %d-byte samples, compression %d",
		s.geometry.Width, s.geometry.Height, s.geometry.TileWidth, s.geometry.TileHeight, s.bytesPerSample, s.compression)
	return s, nil
}

// readIFD reads a whole directory with one read
func (s *TIFFSource) readIFD(offset int64) (map[uint16]ifdEntry, error) {
	countBuf := make([]byte, 2)
	if _, err := s.r.ReadAt(countBuf, offset); err != nil {
		return nil, fmt.Errorf("failed to read tag count: %w", err)
	}
	count := int(s.order.Uint16(countBuf))

	buf := make([]byte, count*12)
	if _, err := s.r.ReadAt(buf, offset+2); err != nil {
		return nil, fmt.Errorf("failed to read IFD structure: %w", err)
	}
	entries := make(map[uint16]ifdEntry, count)
	for i := 0; i < count; i++ {
		b := buf[i*12 : (i+1)*12]
		e := ifdEntry{typ: s.order.Uint16(b[2:4]), count: s.order.Uint32(b[4:8])}
		copy(e.value[:], b[8:12])
		entries[s.order.Uint16(b[0:2])] = e
	}
	return entries, nil
}

// ints decodes an unsigned integer tag, following the offset when the
// values do not fit inline
func (s *TIFFSource) ints(e ifdEntry) ([]uint64, error) {
	size := typeSize(e.typ)
	if e.typ != 1 && e.typ != 3 && e.typ != 4 {
		return nil, fmt.Errorf("tag type %d is not an unsigned integer", e.typ)
	}
	data := e.value[:]
	if total := size * int(e.count); total > 4 {
		data = make([]byte, total)
		if _, err := s.r.ReadAt(data, int64(s.order.Uint32(e.value[:]))); err != nil {
			return nil, fmt.Errorf("failed to read tag value: %w", err)
		}
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case 1:
			out[i] = uint64(data[i])
		case 3:
			out[i] = uint64(s.order.Uint16(data[2*i:]))
		case 4:
			out[i] = uint64(s.order.Uint32(data[4*i:]))
		}
	}
	return out, nil
}

// tagInt returns the first value of an integer tag, or def when absent
func (s *TIFFSource) tagInt(entries map[uint16]ifdEntry, tag uint16, def int) (int, error) {
	e, ok := entries[tag]
	if !ok || e.count == 0 {
		return def, nil
	}
	v, err := s.ints(e)
	if err != nil {
		return 0, fmt.Errorf("tag %d: %w", tag, err)
	}
	return int(v[0]), nil
}

func (s *TIFFSource) configure(entries map[uint16]ifdEntry) error {
	var width, height, bits, spp, planar, chunkW, chunkH int
	fields := []struct {
		tag uint16
		def int
		dst *int
	}{
		{tagImageWidth, 0, &width},
		{tagImageLength, 0, &height},
		{tagBitsPerSample, 1, &bits},
		{tagSamplesPerPixel, 1, &spp},
		{tagPlanarConfig, 1, &planar},
		{tagCompression, compressionNone, &s.compression},
		{tagPredictor, 1, &s.predictor},
		{tagSampleFormat, sampleFormatUint, &s.sampleFormat},
	}
	for _, f := range fields {
		v, err := s.tagInt(entries, f.tag, f.def)
		if err != nil {
			return err
		}
		*f.dst = v
	}

	offsetsTag, countsTag := uint16(tagStripOffsets), uint16(tagStripByteCounts)
	if _, ok := entries[tagTileWidth]; ok {
		s.tiled = true
		offsetsTag, countsTag = tagTileOffsets, tagTileByteCounts
		var err error
		if chunkW, err = s.tagInt(entries, tagTileWidth, 0); err != nil {
			return err
		}
		if chunkH, err = s.tagInt(entries, tagTileLength, 0); err != nil {
			return err
		}
	} else {
		rows, err := s.tagInt(entries, tagRowsPerStrip, height)
		if err != nil {
			return err
		}
		if rows <= 0 || rows > height {
			rows = height
		}
		chunkW, chunkH = width, rows
	}

	geometry, err := NewImageGeometry(width, height, chunkW, chunkH)
	if err != nil {
		return fmt.Errorf("TIFF layout: %w", err)
	}
	s.geometry = geometry

	switch bits {
	case 8, 16, 32, 64:
		s.bytesPerSample = bits / 8
	default:
		return fmt.Errorf("unsupported bits per sample: %d", bits)
	}
	switch s.sampleFormat {
	case sampleFormatUint, sampleFormatInt:
		if bits == 64 {
			return fmt.Errorf("unsupported 64-bit integer samples")
		}
	case sampleFormatFloat:
		if bits != 32 && bits != 64 {
			return fmt.Errorf("unsupported %d-bit float samples", bits)
		}
	default:
		return fmt.Errorf("unsupported sample format: %d", s.sampleFormat)
	}
	switch s.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionOldDeflate:
	default:
		return fmt.Errorf("unsupported compression type: %d", s.compression)
	}
	if s.predictor != 1 && (s.predictor != 2 || s.sampleFormat == sampleFormatFloat) {
		return fmt.Errorf("unsupported predictor %d for sample format %d", s.predictor, s.sampleFormat)
	}

	s.pixelStride = spp
	if planar == 2 {
		// band 0 is the first plane, stored one sample per pixel
		s.pixelStride = 1
	}

	offEntry, ok1 := entries[offsetsTag]
	cntEntry, ok2 := entries[countsTag]
	if !ok1 || !ok2 {
		return fmt.Errorf("image is neither tiled nor stripped")
	}
	if s.offsets, err = s.ints(offEntry); err != nil {
		return fmt.Errorf("chunk offsets: %w", err)
	}
	if s.byteCounts, err = s.ints(cntEntry); err != nil {
		return fmt.Errorf("chunk byte counts: %w", err)
	}
	if n := geometry.TileCount(); len(s.offsets) < n || len(s.byteCounts) < n {
		return fmt.Errorf("%d chunk offsets for %d chunks", len(s.offsets), n)
	}
	return nil
}

// Geometry is the image size with the file's own tile (or strip) layout
func (s *TIFFSource) Geometry() ImageGeometry {
	return s.geometry
}

// Close releases the underlying file, if any
func (s *TIFFSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// LoadTilePixels decodes band 0 of one chunk. fileID is ignored; the
// request must describe one of Geometry's tiles.
func (s *TIFFSource) LoadTilePixels(ctx context.Context, fileID string, req TileRequest) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want, err := s.geometry.TileRect(req.Index)
	if err != nil {
		return nil, err
	}
	if req.TileRect != want {
		return nil, fmt.Errorf("tile %d: request %+v does not match file layout %+v", req.Index, req.TileRect, want)
	}
	return s.readChunk(req.TileRect)
}

// LoadHistogram bins every sample of band 0. It reads the whole image.
func (s *TIFFSource) LoadHistogram(ctx context.Context, fileID string) (*ImageHist, error) {
	all := make([]float32, 0, s.geometry.Width*s.geometry.Height)
	for i := 0; i < s.geometry.TileCount(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rect, err := s.geometry.TileRect(i)
		if err != nil {
			return nil, err
		}
		pixels, err := s.readChunk(rect)
		if err != nil {
			return nil, err
		}
		all = append(all, pixels...)
	}
	return NewImageHist(all, DefaultHistogramBins)
}

func (s *TIFFSource) readChunk(rect TileRect) ([]float32, error) {
	raw := make([]byte, s.byteCounts[rect.Index])
	if n, err := s.r.ReadAt(raw, int64(s.offsets[rect.Index])); n < len(raw) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read chunk %d: got %d of %d bytes: %w", rect.Index, n, len(raw), err)
	}

	// tiles are always stored full size; the last strip may be short
	chunkW, rows := s.geometry.TileWidth, s.geometry.TileHeight
	if !s.tiled {
		rows = rect.Height
	}
	rowBytes := chunkW * s.pixelStride * s.bytesPerSample
	data, err := s.decompress(raw, rowBytes*rows)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", rect.Index, err)
	}
	if s.predictor == 2 {
		s.undoHorizontalPredictor(data, rowBytes)
	}

	out := make([]float32, rect.Width*rect.Height)
	for y := 0; y < rect.Height; y++ {
		for x := 0; x < rect.Width; x++ {
			off := (y*chunkW + x) * s.pixelStride * s.bytesPerSample
			out[y*rect.Width+x] = s.sample(data[off:])
		}
	}
	return out, nil
}

// decompress returns at least expected bytes of chunk data
func (s *TIFFSource) decompress(data []byte, expected int) ([]byte, error) {
	var out []byte
	switch s.compression {
	case compressionNone:
		out = data
	case compressionLZW:
		reader := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
		defer reader.Close()
		var err error
		if out, err = io.ReadAll(reader); err != nil {
			return nil, fmt.Errorf("failed to decompress LZW chunk: %w", err)
		}
	case compressionDeflate, compressionOldDeflate:
		reader, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress Deflate chunk: %w", err)
		}
		defer reader.Close()
		if out, err = io.ReadAll(reader); err != nil {
			return nil, fmt.Errorf("failed to decompress Deflate chunk: %w", err)
		}
	}
	if len(out) < expected {
		return nil, fmt.Errorf("chunk holds %d bytes, expected at least %d", len(out), expected)
	}
	return out[:expected], nil
}

// undoHorizontalPredictor reverses TIFF predictor 2 in place, row by row
func (s *TIFFSource) undoHorizontalPredictor(data []byte, rowBytes int) {
	stride := s.pixelStride * s.bytesPerSample
	for row := 0; row+rowBytes <= len(data); row += rowBytes {
		b := data[row : row+rowBytes]
		for i := stride; i+s.bytesPerSample <= len(b); i += s.bytesPerSample {
			switch s.bytesPerSample {
			case 1:
				b[i] += b[i-stride]
			case 2:
				s.order.PutUint16(b[i:], s.order.Uint16(b[i:])+s.order.Uint16(b[i-stride:]))
			case 4:
				s.order.PutUint32(b[i:], s.order.Uint32(b[i:])+s.order.Uint32(b[i-stride:]))
			}
		}
	}
}

// sample decodes one sample at the start of b
func (s *TIFFSource) sample(b []byte) float32 {
	switch s.sampleFormat {
	case sampleFormatFloat:
		if s.bytesPerSample == 8 {
			return float32(math.Float64frombits(s.order.Uint64(b)))
		}
		return math.Float32frombits(s.order.Uint32(b))
	case sampleFormatInt:
		switch s.bytesPerSample {
		case 1:
			return float32(int8(b[0]))
		case 2:
			return float32(int16(s.order.Uint16(b)))
		default:
			return float32(int32(s.order.Uint32(b)))
		}
	}
	switch s.bytesPerSample {
	case 1:
		return float32(b[0])
	case 2:
		return float32(s.order.Uint16(b))
	default:
		return float32(s.order.Uint32(b))
	}
}
