package imaging

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "go-captcha-ocr/internal/errors"
)

// createTestImage creates a simple test image for testing purposes
func createTestImage(width, height int, fillColor color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fillColor)
		}
	}
	return img
}

func encodePNGBase64(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func randomGrid(rng *rand.Rand, width, height int) *PixelGrid {
	grid := NewPixelGrid(width, height)
	rng.Read(grid.Pix)
	return grid
}

func TestDecodeBase64_PNG(t *testing.T) {
	img := createTestImage(4, 3, color.NRGBA{R: 10, G: 20, B: 200, A: 255})
	img.Set(1, 2, color.NRGBA{R: 250, G: 5, B: 7, A: 255})

	grid, err := DecodeBase64(encodePNGBase64(t, img))
	require.NoError(t, err)

	assert.Equal(t, 4, grid.Width)
	assert.Equal(t, 3, grid.Height)
	r, g, b := grid.At(0, 0)
	assert.Equal(t, [3]uint8{10, 20, 200}, [3]uint8{r, g, b})
	r, g, b = grid.At(1, 2)
	assert.Equal(t, [3]uint8{250, 5, 7}, [3]uint8{r, g, b})
}

func TestDecodeBase64_DropsAlpha(t *testing.T) {
	img := createTestImage(2, 2, color.NRGBA{R: 100, G: 150, B: 200, A: 0})

	grid, err := DecodeBase64(encodePNGBase64(t, img))
	require.NoError(t, err)

	r, g, b := grid.At(1, 1)
	assert.Equal(t, [3]uint8{100, 150, 200}, [3]uint8{r, g, b})
}

func TestDecodeBase64_PaletteAndJPEG(t *testing.T) {
	palette := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.Black, color.White})
	palette.SetColorIndex(1, 1, 1)

	grid, err := DecodeBase64(encodePNGBase64(t, palette))
	require.NoError(t, err)
	r, g, b := grid.At(1, 1)
	assert.Equal(t, [3]uint8{255, 255, 255}, [3]uint8{r, g, b})

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, createTestImage(8, 8, color.NRGBA{R: 128, G: 128, B: 128, A: 255}), nil))
	grid, err = DecodeBase64(base64.StdEncoding.EncodeToString(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 8, grid.Width)
}

func TestDecodeBase64_Lenient(t *testing.T) {
	img := createTestImage(2, 2, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	b64 := encodePNGBase64(t, img)

	inputs := map[string]string{
		"data url":   "data:image/png;base64," + b64,
		"whitespace": "\n  " + b64[:10] + "\n" + b64[10:] + "  \n",
		"unpadded":   trimPadding(b64),
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			grid, err := DecodeBase64(in)
			require.NoError(t, err)
			assert.Equal(t, 2, grid.Width)
		})
	}
}

func trimPadding(s string) string {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	return s
}

func TestDecodeBase64_Invalid(t *testing.T) {
	inputs := map[string]string{
		"empty":         "",
		"not base64":    "!!!not-base64!!!",
		"not an image":  base64.StdEncoding.EncodeToString([]byte("hello world, definitely not a png")),
		"truncated png": encodePNGBase64(t, createTestImage(4, 4, color.NRGBA{A: 255}))[:30],
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			grid, err := DecodeBase64(in)
			assert.Nil(t, grid)
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDecode), "got %v", err)
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	grid := randomGrid(rand.New(rand.NewSource(7)), 5, 4)

	data, err := Encode(grid)
	require.NoError(t, err)

	decoded, err := DecodeBytes(data)
	require.NoError(t, err)
	assert.Equal(t, grid, decoded)
}

func TestEncode_Malformed(t *testing.T) {
	_, err := Encode(&PixelGrid{Width: 3, Height: 3, Pix: make([]uint8, 4)})
	assert.Error(t, err)
}

func TestBinarize_OnlyPureBlackOrWhite(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	grid := randomGrid(rng, 32, 16)

	for _, threshold := range []int{-300, -1, 0, 1, 58, 66, 255, 300} {
		out := Binarize(grid, threshold)
		require.Len(t, out.Pix, len(grid.Pix))
		for i := 0; i < len(out.Pix); i += 3 {
			v := out.Pix[i]
			if v != 0 && v != 255 {
				t.Fatalf("threshold %d: gray value %d at byte %d", threshold, v, i)
			}
			if out.Pix[i+1] != v || out.Pix[i+2] != v {
				t.Fatalf("threshold %d: mixed channels at byte %d", threshold, i)
			}
		}
	}
}

func TestBinarize_Rule(t *testing.T) {
	tests := []struct {
		name      string
		r, g, b   uint8
		threshold int
		white     bool
	}{
		{"blue dominates red", 10, 200, 100, 58, true},
		{"blue dominates green", 200, 10, 100, 58, true},
		{"exactly at threshold", 42, 42, 100, 58, false},
		{"one above threshold", 41, 100, 100, 58, true},
		{"red background", 220, 30, 30, 58, false},
		{"no wraparound when blue is lower", 200, 200, 10, 58, false},
		{"negative threshold", 50, 50, 50, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grid := NewPixelGrid(1, 1)
			grid.Set(0, 0, tt.r, tt.g, tt.b)

			r, g, b := Binarize(grid, tt.threshold).At(0, 0)
			want := uint8(0)
			if tt.white {
				want = 255
			}
			assert.Equal(t, [3]uint8{want, want, want}, [3]uint8{r, g, b})
		})
	}
}

func TestBinarize_PureAndNonMutating(t *testing.T) {
	grid := randomGrid(rand.New(rand.NewSource(3)), 20, 10)
	original := grid.Clone()

	first := Binarize(grid, 58)
	second := Binarize(grid, 58)

	assert.Equal(t, first, second)
	assert.Equal(t, original, grid)
}

// declaredSizePNG encodes a 1x1 PNG and rewrites its IHDR to claim the given
// dimensions, so the header says huge while the payload stays tiny.
func declaredSizePNG(t *testing.T, width, height uint32) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, createTestImage(1, 1, color.NRGBA{A: 255})))
	data := buf.Bytes()

	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc after 13 data bytes
	binary.BigEndian.PutUint32(data[16:20], width)
	binary.BigEndian.PutUint32(data[20:24], height)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return base64.StdEncoding.EncodeToString(data)
}

func TestDecodeBase64_RejectsOversizedHeader(t *testing.T) {
	grid, err := DecodeBase64(declaredSizePNG(t, 8000, 8000))
	assert.Nil(t, grid)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDecode), "got %v", err)
	assert.Contains(t, apperrors.AsAppError(err).Message, "8000x8000")
}

func TestDecodeBase64_PixelLimit(t *testing.T) {
	t.Cleanup(func() { SetMaxPixels(DefaultMaxPixels) })

	SetMaxPixels(100)
	assert.Equal(t, int64(100), MaxPixels())

	_, err := DecodeBase64(encodePNGBase64(t, createTestImage(10, 10, color.NRGBA{A: 255})))
	require.NoError(t, err, "exactly at the limit")

	_, err = DecodeBase64(encodePNGBase64(t, createTestImage(11, 10, color.NRGBA{A: 255})))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDecode))

	SetMaxPixels(0)
	assert.Equal(t, int64(DefaultMaxPixels), MaxPixels())
}
