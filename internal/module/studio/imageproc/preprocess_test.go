package imageproc

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuhu/studio/internal/utils/metrics"
)

func rgbaPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: uint8((x + y) % 256)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func palettedPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, w, h), palette.Plan9)
	for x := 0; x < w; x++ {
		img.SetColorIndex(x, 0, uint8(x%256))
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func palettedGIF(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, w, h), []color.Color{color.Transparent, color.RGBA{0, 0, 255, 255}})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

// decodeURI checks the data URI framing and decodes the JPEG payload.
func decodeURI(t *testing.T, uri EncodedImage) image.Image {
	t.Helper()
	s := uri.String()
	require.True(t, strings.HasPrefix(s, DataURIPrefix), "unexpected prefix: %.40s", s)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, DataURIPrefix))
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	return img
}

func TestPreprocess_Count(t *testing.T) {
	p := NewProcessor(nil, nil, nil)

	for n := 0; n <= 6; n++ {
		refs := make([]Reference, n)
		for i := range refs {
			refs[i] = Reference{Name: "ref.png", MediaType: "image/png", Data: rgbaPNG(t, 8, 8)}
		}

		got, errs := p.Preprocess(refs)
		assert.Len(t, got, min(n, 4), "n=%d", n)
		assert.Empty(t, errs)
	}
}

func TestPreprocess_PreservesOrder(t *testing.T) {
	p := NewProcessor(nil, nil, nil)

	widths := []int{11, 22, 33, 44, 55}
	refs := make([]Reference, len(widths))
	for i, w := range widths {
		refs[i] = Reference{Data: rgbaPNG(t, w, 5)}
	}

	got, errs := p.Preprocess(refs)
	require.Empty(t, errs)
	require.Len(t, got, 4)
	for i, uri := range got {
		assert.Equal(t, widths[i], decodeURI(t, uri).Bounds().Dx())
	}
}

func TestPreprocess_SkipsBrokenImage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry("test", reg)
	p := NewProcessor(nil, nil, m)

	refs := []Reference{
		{Name: "a.png", Data: rgbaPNG(t, 10, 10)},
		{Name: "broken.png", MediaType: "image/png", Data: []byte("this is not an image")},
		{Name: "c.png", Data: rgbaPNG(t, 30, 10)},
	}

	got, errs := p.Preprocess(refs)
	require.Len(t, got, 2)
	require.Len(t, errs, 1)

	var decErr *DecodeError
	require.ErrorAs(t, errs[0], &decErr)
	assert.Equal(t, 1, decErr.Index)
	assert.Contains(t, decErr.Error(), "broken.png")

	assert.Equal(t, 10, decodeURI(t, got[0]).Bounds().Dx())
	assert.Equal(t, 30, decodeURI(t, got[1]).Bounds().Dx())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PreprocessFailures))
}

func TestEncode_NormalizesToRGB(t *testing.T) {
	p := NewProcessor(nil, nil, nil)

	tests := []struct {
		name  string
		data  []byte
		wantW int
		wantH int
	}{
		{"rgba landscape is shrunk", rgbaPNG(t, 2048, 1024), 1024, 512},
		{"rgba portrait is shrunk", rgbaPNG(t, 600, 1500), 410, 1024},
		{"palette png kept small", palettedPNG(t, 300, 200), 300, 200},
		{"palette gif with transparency", palettedGIF(t, 1100, 1100), 1024, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, err := p.Encode(tt.data)
			require.NoError(t, err)

			img := decodeURI(t, uri)
			assert.Equal(t, tt.wantW, img.Bounds().Dx())
			assert.Equal(t, tt.wantH, img.Bounds().Dy())
			assert.LessOrEqual(t, img.Bounds().Dx(), 1024)
			assert.LessOrEqual(t, img.Bounds().Dy(), 1024)

			// Color JPEGs decode as YCbCr; gray or CMYK would mean the RGB step was skipped.
			_, isYCbCr := img.(*image.YCbCr)
			assert.True(t, isYCbCr, "got %T", img)
		})
	}
}

func TestEncode_DoesNotUpscale(t *testing.T) {
	p := NewProcessor(nil, nil, nil)

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 32)), nil))

	uri, err := p.Encode(buf.Bytes())
	require.NoError(t, err)
	img := decodeURI(t, uri)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, wantW, wantH int
	}{
		{1024, 1024, 1024, 1024},
		{1025, 10, 1024, 10},
		{4000, 3000, 1024, 768},
		{3000, 4000, 768, 1024},
		{5000, 1, 1024, 1},
		{500, 400, 500, 400},
	}
	for _, tt := range tests {
		w, h := fitWithin(tt.w, tt.h, 1024)
		assert.Equal(t, tt.wantW, w, "%dx%d", tt.w, tt.h)
		assert.Equal(t, tt.wantH, h, "%dx%d", tt.w, tt.h)
	}
}

func TestNewProcessor_Defaults(t *testing.T) {
	p := NewProcessor(&Config{MaxImages: 0, Quality: 500}, nil, nil)
	assert.Equal(t, DefaultMaxImages, p.MaxImages())
	assert.Equal(t, DefaultQuality, p.config.Quality)
	assert.Equal(t, DefaultMaxDimension, p.config.MaxDimension)
}

func TestPreprocess_CapsConfiguredLimit(t *testing.T) {
	p := NewProcessor(&Config{MaxImages: 6}, nil, nil)
	assert.Equal(t, DefaultMaxImages, p.MaxImages())

	refs := make([]Reference, 6)
	for i := range refs {
		refs[i] = Reference{Data: rgbaPNG(t, 8, 8)}
	}

	got, errs := p.Preprocess(refs)
	assert.Empty(t, errs)
	assert.Len(t, got, DefaultMaxImages)
}
