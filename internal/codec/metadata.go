package codec

import (
	"bytes"
	"errors"
	"fmt"

	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
	pngstructure "github.com/dsoprea/go-png-image-structure/v2"
)

const (
	markerSOI  = 0xd8
	markerAPP1 = 0xe1

	// maxSegment is the largest payload a JPEG marker segment can carry.
	maxSegment = 0xffff - 2
)

var (
	exifHeader   = []byte("Exif\x00\x00")
	pngSignature = []byte("\x89PNG\r\n\x1a\n")
	jpegSOI      = []byte{0xff, markerSOI}
)

// Chunk is a PNG ancillary chunk copied verbatim.
type Chunk struct {
	Type string
	Data []byte
}

// Metadata is what survives re-encoding: the EXIF TIFF block and the PNG
// text chunks.
type Metadata struct {
	// EXIF is the TIFF structure without the "Exif\0\0" prefix.
	EXIF   []byte
	Chunks []Chunk
}

// Empty reports whether there is nothing to attach.
func (m Metadata) Empty() bool {
	return len(m.EXIF) == 0 && len(m.Chunks) == 0
}

// ReadMetadata extracts metadata from an encoded JPEG or PNG. Anything it
// cannot parse is treated as absent.
func ReadMetadata(data []byte) Metadata {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return readPNGMetadata(data)
	case bytes.HasPrefix(data, jpegSOI):
		return Metadata{EXIF: readJPEGExif(data)}
	}
	return Metadata{}
}

func (m Metadata) attach(data []byte, format Format) ([]byte, error) {
	switch format {
	case JPEG:
		if len(m.EXIF) == 0 {
			return data, nil
		}
		return insertJPEGExif(data, m.EXIF)
	case PNG:
		chunks := m.Chunks
		if len(m.EXIF) > 0 && !hasChunk(chunks, "eXIf") {
			chunks = append(chunks[:len(chunks):len(chunks)], Chunk{Type: "eXIf", Data: m.EXIF})
		}
		return insertPNGChunks(data, chunks)
	}
	return data, nil
}

// recovered turns a panic inside the structure parsers into an error.
func recovered(err *error) {
	if state := recover(); state != nil {
		*err = fmt.Errorf("%v", state)
	}
}

func parseJPEG(data []byte) (sl *jpegstructure.SegmentList, err error) {
	defer recovered(&err)

	mc, err := jpegstructure.NewJpegMediaParser().ParseBytes(data)
	if err != nil {
		return nil, err
	}
	sl, ok := mc.(*jpegstructure.SegmentList)
	if !ok {
		return nil, errors.New("not a JPEG segment list")
	}
	return sl, nil
}

func parsePNG(data []byte) (cs *pngstructure.ChunkSlice, err error) {
	defer recovered(&err)

	mc, err := pngstructure.NewPngMediaParser().ParseBytes(data)
	if err != nil {
		return nil, err
	}
	cs, ok := mc.(*pngstructure.ChunkSlice)
	if !ok {
		return nil, errors.New("not a PNG chunk slice")
	}
	return cs, nil
}

// readJPEGExif returns the payload of the first EXIF APP1 segment.
func readJPEGExif(data []byte) []byte {
	sl, err := parseJPEG(data)
	if err != nil {
		return nil
	}
	for _, s := range sl.Segments() {
		if s.MarkerId == markerAPP1 && bytes.HasPrefix(s.Data, exifHeader) {
			return bytes.Clone(s.Data[len(exifHeader):])
		}
	}
	return nil
}

// insertJPEGExif places an EXIF APP1 segment right after SOI.
func insertJPEGExif(data, exif []byte) (out []byte, err error) {
	size := len(exifHeader) + len(exif)
	if size > maxSegment {
		return nil, fmt.Errorf("EXIF block of %d bytes does not fit in one APP1 segment", size)
	}
	sl, err := parseJPEG(data)
	if err != nil {
		return nil, fmt.Errorf("parse jpeg: %w", err)
	}
	segments := sl.Segments()
	if len(segments) == 0 || segments[0].MarkerId != markerSOI {
		return nil, errors.New("missing JPEG SOI marker")
	}

	app1 := &jpegstructure.Segment{
		MarkerId:   markerAPP1,
		MarkerName: "APP1",
		Data:       append(bytes.Clone(exifHeader), exif...),
	}
	merged := make([]*jpegstructure.Segment, 0, len(segments)+1)
	merged = append(merged, segments[0], app1)
	merged = append(merged, segments[1:]...)

	defer recovered(&err)
	var buf bytes.Buffer
	if err := jpegstructure.NewSegmentList(merged).Write(&buf); err != nil {
		return nil, fmt.Errorf("write jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func copiedChunk(typ string) bool {
	switch typ {
	case "tEXt", "zTXt", "iTXt", "eXIf":
		return true
	}
	return false
}

func hasChunk(chunks []Chunk, typ string) bool {
	for _, c := range chunks {
		if c.Type == typ {
			return true
		}
	}
	return false
}

func readPNGMetadata(data []byte) Metadata {
	var m Metadata
	cs, err := parsePNG(data)
	if err != nil {
		return m
	}
	for _, c := range cs.Chunks() {
		if !copiedChunk(c.Type) {
			continue
		}
		if c.Type == "eXIf" {
			m.EXIF = bytes.Clone(c.Data)
		}
		m.Chunks = append(m.Chunks, Chunk{Type: c.Type, Data: bytes.Clone(c.Data)})
	}
	return m
}

// insertPNGChunks places chunks just before the first IDAT.
func insertPNGChunks(data []byte, chunks []Chunk) (out []byte, err error) {
	cs, err := parsePNG(data)
	if err != nil {
		return nil, fmt.Errorf("parse png: %w", err)
	}
	existing := cs.Chunks()

	idat := -1
	for i, c := range existing {
		if c.Type == "IDAT" {
			idat = i
			break
		}
	}
	if idat < 0 {
		return nil, errors.New("no IDAT chunk in PNG stream")
	}

	merged := make([]*pngstructure.Chunk, 0, len(existing)+len(chunks))
	merged = append(merged, existing[:idat]...)
	for _, c := range chunks {
		chunk := &pngstructure.Chunk{
			Type:   c.Type,
			Length: uint32(len(c.Data)),
			Data:   c.Data,
		}
		chunk.UpdateCrc32()
		merged = append(merged, chunk)
	}
	merged = append(merged, existing[idat:]...)

	defer recovered(&err)
	var buf bytes.Buffer
	if err := pngstructure.NewChunkSlice(merged).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write png: %w", err)
	}
	return buf.Bytes(), nil
}
