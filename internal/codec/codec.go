// Package codec decodes images into RGB pixel buffers and encodes them back,
// carrying EXIF and PNG text metadata across the round trip.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultQuality is the JPEG quality used when Options.Quality is zero.
const DefaultQuality = 95

var (
	// ErrUnsupportedFormat is returned for inputs no registered decoder accepts.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrMetadata marks a failure to re-attach metadata. The encoded image
	// returned alongside it is still valid.
	ErrMetadata = errors.New("metadata not restored")
)

// Format is an output encoding.
type Format int

const (
	JPEG Format = iota
	PNG
	BMP
)

func (f Format) String() string {
	switch f {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	case BMP:
		return "bmp"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// FormatFor returns the output encoding for path: PNG and BMP by extension,
// JPEG for everything else.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return PNG
	case ".bmp":
		return BMP
	}
	return JPEG
}

// FormatByName maps a decoder name as reported by image.Decode to the format
// used to encode the result.
func FormatByName(name string) Format {
	switch name {
	case "png":
		return PNG
	case "bmp":
		return BMP
	}
	return JPEG
}

// Options tunes encoding.
type Options struct {
	Quality int
}

// Image is a decoded image.
type Image struct {
	Pixels *image.RGBA
	// Format is the decoder name, e.g. "jpeg" or "png".
	Format string
	Meta   Metadata
}

// Decode reads and decodes the image at path.
func Decode(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// DecodeBytes decodes an encoded image held in memory.
func DecodeBytes(data []byte) (*Image, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUnsupportedFormat
		}
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &Image{
		Pixels: toRGB(src),
		Format: format,
		Meta:   ReadMetadata(data),
	}, nil
}

// DecodeConfigBytes reads only the header of an encoded image and reports
// its dimensions and decoder name.
func DecodeConfigBytes(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return image.Config{}, "", ErrUnsupportedFormat
		}
		return image.Config{}, "", fmt.Errorf("decode config: %w", err)
	}
	return cfg, format, nil
}

// Encode writes img to path in the format implied by its extension.
// A metadata failure still writes the file and returns an ErrMetadata error.
func Encode(path string, img *image.RGBA, meta Metadata, opts Options) error {
	data, err := EncodeBytes(img, FormatFor(path), meta, opts)
	if data == nil {
		return err
	}
	if werr := os.WriteFile(path, data, 0o644); werr != nil {
		return werr
	}
	return err
}

// EncodeBytes encodes img and attaches meta. On an ErrMetadata error the
// returned bytes hold the image without metadata.
func EncodeBytes(img *image.RGBA, format Format, meta Metadata, opts Options) ([]byte, error) {
	img = opaque(img)

	var buf bytes.Buffer
	switch format {
	case PNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case BMP:
		if err := bmp.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode bmp: %w", err)
		}
		return buf.Bytes(), nil
	default:
		quality := opts.Quality
		if quality <= 0 {
			quality = DefaultQuality
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	}

	plain := buf.Bytes()
	if meta.Empty() {
		return plain, nil
	}
	out, err := meta.attach(plain, format)
	if err != nil {
		return plain, fmt.Errorf("%w: %v", ErrMetadata, err)
	}
	return out, nil
}

// toRGB copies src into a zero-origin RGBA buffer, dropping any alpha the
// way an RGB conversion does.
func toRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if o, ok := src.(interface{ Opaque() bool }); ok && o.Opaque() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return dst
	}

	if n, ok := src.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			si := n.PixOffset(b.Min.X, b.Min.Y+y)
			di := dst.PixOffset(0, y)
			for x := 0; x < b.Dx(); x++ {
				copy(dst.Pix[di:di+3], n.Pix[si:si+3])
				dst.Pix[di+3] = 0xff
				si += 4
				di += 4
			}
		}
		return dst
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl := straightRGB(src, x, y)
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: r, G: g, B: bl, A: 0xff})
		}
	}
	return dst
}

// straightRGB reads the stored, non-premultiplied colour at (x, y) so fully
// transparent pixels keep their colour.
func straightRGB(src image.Image, x, y int) (r, g, b uint8) {
	var c color.Color
	switch img := src.(type) {
	case *image.NRGBA64:
		i := img.PixOffset(x, y)
		return img.Pix[i], img.Pix[i+2], img.Pix[i+4]
	case *image.Paletted:
		c = img.Palette[img.ColorIndexAt(x, y)]
	default:
		c = src.At(x, y)
	}
	switch v := c.(type) {
	case color.NRGBA:
		return v.R, v.G, v.B
	case color.NRGBA64:
		return uint8(v.R >> 8), uint8(v.G >> 8), uint8(v.B >> 8)
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return n.R, n.G, n.B
}

// opaque returns img with every alpha at 0xff, copying only when needed.
func opaque(img *image.RGBA) *image.RGBA {
	if img.Opaque() {
		return img
	}
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}
