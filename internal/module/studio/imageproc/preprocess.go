package imageproc

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/wuhu/studio/internal/utils/metrics"
)

// DataURIPrefix prefixes every encoded reference image.
const DataURIPrefix = "data:image/jpeg;base64,"

// Defaults applied to every reference image.
const (
	DefaultMaxImages    = 4
	DefaultMaxDimension = 1024
	DefaultQuality      = 85

	// maxPixels bounds decoded image size before any pixel buffer is allocated.
	maxPixels = 64 << 20
)

// Reference is one uploaded reference image.
type Reference struct {
	Name      string
	MediaType string
	Data      []byte
}

// EncodedImage is a JPEG reference image wrapped as a data URI.
type EncodedImage string

// String returns the data URI.
func (e EncodedImage) String() string { return string(e) }

// DecodeError reports a reference image that was skipped.
type DecodeError struct {
	Index int
	Name  string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("process image %s: %v", e.label(), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) label() string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("#%d", e.Index+1)
}

// Config controls preprocessing.
type Config struct {
	MaxImages    int
	MaxDimension int
	Quality      int
}

// DefaultConfig returns the standard preprocessing limits.
func DefaultConfig() *Config {
	return &Config{
		MaxImages:    DefaultMaxImages,
		MaxDimension: DefaultMaxDimension,
		Quality:      DefaultQuality,
	}
}

// Processor normalizes uploaded reference images for transport.
type Processor struct {
	config  *Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewProcessor creates a processor. Zero config values fall back to the defaults, and
// MaxImages never exceeds DefaultMaxImages.
func NewProcessor(cfg *Config, logger *zap.Logger, m *metrics.Metrics) *Processor {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	merged := *cfg
	if merged.MaxImages <= 0 || merged.MaxImages > DefaultMaxImages {
		merged.MaxImages = def.MaxImages
	}
	if merged.MaxDimension <= 0 {
		merged.MaxDimension = def.MaxDimension
	}
	if merged.Quality <= 0 || merged.Quality > 100 {
		merged.Quality = def.Quality
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{config: &merged, logger: logger, metrics: m}
}

// MaxImages returns how many references a request can carry.
func (p *Processor) MaxImages() int {
	return p.config.MaxImages
}

// Preprocess encodes the first MaxImages references in order. References past the limit are
// dropped silently. A reference that fails is omitted and reported in the returned errors;
// it never stops the remaining references.
func (p *Processor) Preprocess(refs []Reference) ([]EncodedImage, []error) {
	if len(refs) > p.config.MaxImages {
		refs = refs[:p.config.MaxImages]
	}

	encoded := make([]EncodedImage, 0, len(refs))
	var errs []error
	for i, ref := range refs {
		img, err := p.Encode(ref.Data)
		if err != nil {
			decErr := &DecodeError{Index: i, Name: ref.Name, Err: err}
			p.logger.Warn("reference image skipped",
				zap.Int("index", i),
				zap.String("name", ref.Name),
				zap.String("media_type", ref.MediaType),
				zap.Error(err))
			p.metrics.RecordPreprocessFailure()
			errs = append(errs, decErr)
			continue
		}
		encoded = append(encoded, img)
	}
	return encoded, errs
}

// Encode converts one image to an RGB JPEG data URI within the size limit.
func (p *Processor) Encode(data []byte) (EncodedImage, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("empty image %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return "", fmt.Errorf("image too large: %dx%d", cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	rgb := flatten(src, p.config.MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgb, &jpeg.Options{Quality: p.config.Quality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}

	return EncodedImage(DataURIPrefix + base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

// flatten renders src onto an opaque white canvas, shrinking it to fit within maxDim.
// Alpha and palette images come out as plain RGB.
func flatten(src image.Image, maxDim int) *image.RGBA {
	b := src.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), maxDim)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}
	return dst
}

// fitWithin scales w x h proportionally so neither side exceeds maxDim. Never upscales.
func fitWithin(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	scale := math.Min(float64(maxDim)/float64(w), float64(maxDim)/float64(h))
	nw := clamp(int(math.Round(float64(w)*scale)), 1, maxDim)
	nh := clamp(int(math.Round(float64(h)*scale)), 1, maxDim)
	return nw, nh
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
