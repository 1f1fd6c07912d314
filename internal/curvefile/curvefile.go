// Package curvefile stores generated gilbert curves on disk so large curves
// can be shipped or inspected without regenerating them.
package curvefile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/OneOfOne/xxhash"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	imageencrypt "github.com/zhulinyv/anr-plugin-image-encrypt"
)

const (
	magic      = "GILB"
	batchSize  = 64 * 1024
	bufferSize = 1024 * 1024

	// maxPoints bounds the allocation made for an untrusted header.
	maxPoints = 1 << 30
)

// ErrCorrupt is returned when a curve file fails validation.
var ErrCorrupt = errors.New("corrupt curve file")

// Compression selects the container used by Save.
type Compression int

const (
	None Compression = iota
	Gzip
	Zstd
)

// CompressionFor picks the compression implied by a file name.
func CompressionFor(filename string) Compression {
	switch name := strings.ToLower(filename); {
	case strings.HasSuffix(name, ".gz"):
		return Gzip
	case strings.HasSuffix(name, ".zst"):
		return Zstd
	}
	return None
}

// Save writes curve to filename: header, all X coordinates, all Y
// coordinates, then an xxhash64 of the coordinate bytes.
func Save(filename string, curve *imageencrypt.GilbertCurve, compression Compression) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("error opening file for writing: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.Writer = file
	switch compression {
	case Gzip:
		gw := gzip.NewWriter(file)
		defer func() {
			if cerr := gw.Close(); err == nil {
				err = cerr
			}
		}()
		w = gw
	case Zstd:
		zw, zerr := zstd.NewWriter(file)
		if zerr != nil {
			return fmt.Errorf("error creating zstd writer: %w", zerr)
		}
		defer func() {
			if cerr := zw.Close(); err == nil {
				err = cerr
			}
		}()
		w = zw
	}

	writer := bufio.NewWriterSize(w, bufferSize)
	if err := Write(writer, curve); err != nil {
		return err
	}
	return writer.Flush()
}

// Write serialises curve to w without compression.
func Write(w io.Writer, curve *imageencrypt.GilbertCurve) error {
	if curve.Len() != curve.Width*curve.Height || len(curve.Y) != len(curve.X) {
		return fmt.Errorf("%w: %d points for %dx%d",
			imageencrypt.ErrDimensionMismatch, curve.Len(), curve.Width, curve.Height)
	}

	header := make([]byte, 12)
	copy(header, magic)
	binary.LittleEndian.PutUint32(header[4:], uint32(curve.Width))
	binary.LittleEndian.PutUint32(header[8:], uint32(curve.Height))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	digest := xxhash.New64()
	out := io.MultiWriter(w, digest)
	if err := writeCoords(out, curve.X); err != nil {
		return fmt.Errorf("error writing x coordinates: %w", err)
	}
	if err := writeCoords(out, curve.Y); err != nil {
		return fmt.Errorf("error writing y coordinates: %w", err)
	}

	var trailer [8]byte
	binary.LittleEndian.PutUint64(trailer[:], digest.Sum64())
	if _, err := w.Write(trailer[:]); err != nil {
		return fmt.Errorf("error writing checksum: %w", err)
	}
	return nil
}

func writeCoords(w io.Writer, coords []int32) error {
	buf := make([]byte, batchSize*4)
	for i := 0; i < len(coords); i += batchSize {
		end := min(i+batchSize, len(coords))
		pos := 0
		for _, c := range coords[i:end] {
			binary.LittleEndian.PutUint32(buf[pos:], uint32(c))
			pos += 4
		}
		if _, err := w.Write(buf[:pos]); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a curve written by Save. Gzip input is detected by content as
// well as by name.
func Load(filename string) (*imageencrypt.GilbertCurve, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("error opening file for reading: %w", err)
	}
	defer file.Close()

	br := bufio.NewReaderSize(file, bufferSize)
	var r io.Reader = br

	compression := CompressionFor(filename)
	if compression == None && isGzipped(br) {
		compression = Gzip
	}
	switch compression {
	case Gzip:
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("error creating gzip reader: %w", err)
		}
		defer gr.Close()
		r = gr
	case Zstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("error creating zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	return Read(r)
}

// Read parses an uncompressed curve stream.
func Read(r io.Reader) (*imageencrypt.GilbertCurve, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}
	if string(header[:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, header[:4])
	}
	width := int(binary.LittleEndian.Uint32(header[4:]))
	height := int(binary.LittleEndian.Uint32(header[8:]))
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: %dx%d", imageencrypt.ErrInvalidDimension, width, height)
	}
	if uint64(width)*uint64(height) > maxPoints {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d points", ErrCorrupt, width, height, maxPoints)
	}

	size := width * height
	digest := xxhash.New64()
	in := io.TeeReader(r, digest)
	xs, err := readCoords(in, size)
	if err != nil {
		return nil, fmt.Errorf("error reading x coordinates: %w", err)
	}
	ys, err := readCoords(in, size)
	if err != nil {
		return nil, fmt.Errorf("error reading y coordinates: %w", err)
	}
	curve := &imageencrypt.GilbertCurve{
		Width:  width,
		Height: height,
		X:      xs,
		Y:      ys,
	}

	var trailer [8]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return nil, fmt.Errorf("error reading checksum: %w", err)
	}
	if binary.LittleEndian.Uint64(trailer[:]) != digest.Sum64() {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return curve, nil
}

// readCoords reads n coordinates, growing the slice batch by batch so a
// forged header cannot force an allocation the stream does not back.
func readCoords(r io.Reader, n int) ([]int32, error) {
	coords := make([]int32, 0, min(n, batchSize))
	buf := make([]byte, batchSize*4)
	for len(coords) < n {
		count := min(batchSize, n-len(coords))
		if _, err := io.ReadFull(r, buf[:count*4]); err != nil {
			return nil, err
		}
		for j := 0; j < count; j++ {
			coords = append(coords, int32(binary.LittleEndian.Uint32(buf[j*4:])))
		}
	}
	return coords, nil
}

func isGzipped(br *bufio.Reader) bool {
	b, err := br.Peek(2)
	if err != nil {
		return false
	}
	return b[0] == 0x1f && b[1] == 0x8b
}
