package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"
	"sync/atomic"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "go-captcha-ocr/internal/errors"
)

// PixelGrid is a row-major grid of RGB triples, three bytes per pixel.
type PixelGrid struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewPixelGrid allocates a black grid of the given size.
func NewPixelGrid(width, height int) *PixelGrid {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &PixelGrid{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}
}

// At returns the RGB triple at (x, y).
func (g *PixelGrid) At(x, y int) (r, gr, b uint8) {
	i := (y*g.Width + x) * 3
	return g.Pix[i], g.Pix[i+1], g.Pix[i+2]
}

// Set stores an RGB triple at (x, y).
func (g *PixelGrid) Set(x, y int, r, gr, b uint8) {
	i := (y*g.Width + x) * 3
	g.Pix[i], g.Pix[i+1], g.Pix[i+2] = r, gr, b
}

// Clone returns a deep copy of the grid.
func (g *PixelGrid) Clone() *PixelGrid {
	pix := make([]uint8, len(g.Pix))
	copy(pix, g.Pix)
	return &PixelGrid{Width: g.Width, Height: g.Height, Pix: pix}
}

func (g *PixelGrid) wellFormed() bool {
	return g != nil && g.Width >= 0 && g.Height >= 0 && len(g.Pix) == g.Width*g.Height*3
}

// Image converts the grid into an opaque *image.RGBA.
func (g *PixelGrid) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	for p, i := 0, 0; p < g.Width*g.Height; p, i = p+1, i+3 {
		o := p * 4
		img.Pix[o] = g.Pix[i]
		img.Pix[o+1] = g.Pix[i+1]
		img.Pix[o+2] = g.Pix[i+2]
		img.Pix[o+3] = 0xff
	}
	return img
}

// FromImage normalizes any decoded image to RGB, dropping alpha and palette.
func FromImage(img image.Image) *PixelGrid {
	bounds := img.Bounds()
	grid := NewPixelGrid(bounds.Dx(), bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			grid.Set(x-bounds.Min.X, y-bounds.Min.Y, c.R, c.G, c.B)
		}
	}
	return grid
}

// DecodeBase64 decodes base64 text into a PixelGrid. Surrounding whitespace,
// embedded line breaks and a data URL prefix are tolerated.
func DecodeBase64(text string) (*PixelGrid, error) {
	raw, err := decodeBase64Text(text)
	if err != nil {
		return nil, apperrors.NewDecodeError("image is not valid base64", err)
	}
	return DecodeBytes(raw)
}

// DefaultMaxPixels bounds decoded image area unless SetMaxPixels says
// otherwise. Captchas are a few thousand pixels.
const DefaultMaxPixels = 1 << 20

var maxPixels atomic.Int64

func init() {
	maxPixels.Store(DefaultMaxPixels)
}

// SetMaxPixels sets the largest width*height DecodeBytes accepts. Values
// below 1 restore the default.
func SetMaxPixels(n int64) {
	if n < 1 {
		n = DefaultMaxPixels
	}
	maxPixels.Store(n)
}

// MaxPixels returns the current decode limit
func MaxPixels() int64 {
	return maxPixels.Load()
}

// DecodeBytes decodes encoded image bytes into a PixelGrid. The header is
// read first so oversized images are rejected before any pixel allocation.
func DecodeBytes(raw []byte) (*PixelGrid, error) {
	if len(raw) == 0 {
		return nil, apperrors.NewDecodeError("image payload is empty", nil)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.NewDecodeError("image could not be decoded", err)
	}
	if limit := MaxPixels(); int64(cfg.Width)*int64(cfg.Height) > limit {
		return nil, apperrors.NewDecodeError(
			fmt.Sprintf("image is %dx%d, above the %d pixel limit", cfg.Width, cfg.Height, limit), nil)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.NewDecodeError("image could not be decoded", err)
	}
	return FromImage(img), nil
}

// Encode writes the grid as a lossless PNG.
func Encode(grid *PixelGrid) ([]byte, error) {
	if !grid.wellFormed() {
		return nil, fmt.Errorf("malformed pixel grid")
	}
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(&buf, grid.Image()); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeBase64Text(text string) ([]byte, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx >= 0 {
			s = s[idx+1:]
		}
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t', ' ':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, fmt.Errorf("empty base64 payload")
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return raw, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
		return raw, nil
	}
	return nil, err
}
