package imaging

import (
	"bytes"
	"image"
	"math"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/imagegen-mcp/internal/toolerr"
)

const (
	// MaxDimension bounds each side of a resize target.
	MaxDimension = 16384

	// MaxPixels bounds the area of a resize target. The decoded result needs
	// four bytes per pixel plus an intermediate buffer of similar size.
	MaxPixels = 64 << 20
)

// Saver persists encoded image bytes. *store.Store satisfies it.
type Saver interface {
	Save(data []byte, explicitPath, ext string) (string, error)
}

// Backend performs local resize and format conversion. It holds no state
// between calls apart from the Saver.
type Backend struct {
	saver Saver
}

// NewBackend creates a Backend that writes its outputs through saver.
func NewBackend(saver Saver) *Backend {
	return &Backend{saver: saver}
}

// ResizeRequest describes a resize. A zero Width or Height means "not given".
type ResizeRequest struct {
	ImagePath      string
	Width          int
	Height         int
	MaintainAspect bool
	OutputPath     string
}

// ResizeResult reports where the resized image was written.
type ResizeResult struct {
	ImagePath    string `json:"image_path"`
	OriginalSize [2]int `json:"original_size"`
	NewSize      [2]int `json:"new_size"`
}

// Resize scales the source image and writes it next to the source, or to
// OutputPath when given.
//
// # Aspect Ratio
//
// With MaintainAspect and one dimension given, the other is derived from the
// source ratio and rounded to the nearest pixel. With MaintainAspect and both
// given, Width wins and Height is recomputed from it. Without MaintainAspect
// the given dimensions are used as-is and a missing one keeps the source value.
//
// # Errors
//
//   - toolerr.KindMissingDimension if neither Width nor Height is given
//   - toolerr.KindValidation if the target exceeds MaxDimension or MaxPixels
//   - toolerr.KindSourceNotFound if the source does not exist
func (b *Backend) Resize(req ResizeRequest) (*ResizeResult, error) {
	if req.Width < 0 || req.Height < 0 {
		return nil, toolerr.New(toolerr.KindValidation, "width and height must be positive, got %dx%d", req.Width, req.Height)
	}
	if req.Width == 0 && req.Height == 0 {
		return nil, toolerr.New(toolerr.KindMissingDimension, "must specify at least width or height")
	}
	if req.Width > MaxDimension || req.Height > MaxDimension {
		return nil, toolerr.New(toolerr.KindValidation, "width and height must not exceed %d, got %dx%d", MaxDimension, req.Width, req.Height)
	}

	src, err := Load(req.ImagePath)
	if err != nil {
		return nil, err
	}

	bounds := src.Image.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	w, h := targetSize(origW, origH, req.Width, req.Height, req.MaintainAspect)
	if err := checkTargetSize(w, h); err != nil {
		return nil, err
	}

	resized := imaging.Resize(src.Image, w, h, imaging.Lanczos)

	out := req.OutputPath
	if out == "" {
		out = resizedPath(req.ImagePath)
	}
	format, ok := formatFromPath(out)
	if !ok {
		format = Format(src.Format)
	}

	path, err := b.write(resized, format, DefaultQuality, out, "")
	if err != nil {
		return nil, err
	}

	return &ResizeResult{
		ImagePath:    path,
		OriginalSize: [2]int{origW, origH},
		NewSize:      [2]int{w, h},
	}, nil
}

// targetSize applies the aspect-ratio policy documented on Resize.
func targetSize(origW, origH, width, height int, keepAspect bool) (int, int) {
	if !keepAspect {
		if width == 0 {
			width = origW
		}
		if height == 0 {
			height = origH
		}
		return width, height
	}

	if width > 0 {
		height = roundPixels(float64(width) * float64(origH) / float64(origW))
	} else {
		width = roundPixels(float64(height) * float64(origW) / float64(origH))
	}
	return width, height
}

// checkTargetSize rejects targets too large to allocate.
func checkTargetSize(w, h int) error {
	if w > MaxDimension || h > MaxDimension {
		return toolerr.New(toolerr.KindValidation,
			"resized image would be %dx%d, each side must not exceed %d", w, h, MaxDimension)
	}
	if int64(w)*int64(h) > MaxPixels {
		return toolerr.New(toolerr.KindValidation,
			"resized image would be %dx%d (%d pixels), limit is %d pixels", w, h, int64(w)*int64(h), MaxPixels)
	}
	return nil
}

func roundPixels(v float64) int {
	n := int(math.Round(v))
	if n < 1 {
		return 1
	}
	return n
}

// resizedPath returns <dir>/<stem>_resized<suffix>.
func resizedPath(src string) string {
	ext := filepath.Ext(src)
	stem := strings.TrimSuffix(filepath.Base(src), ext)
	return filepath.Join(filepath.Dir(src), stem+"_resized"+ext)
}

// ConvertRequest describes a format conversion.
type ConvertRequest struct {
	ImagePath    string
	TargetFormat string
	OutputPath   string

	// Quality applies to JPEG and WEBP (1-100). Zero means DefaultQuality.
	Quality int

	// Background is the hex colour transparent pixels are flattened onto when
	// the target has no alpha channel. Empty means DefaultBackground.
	Background string
}

// ConvertResult reports the converted file.
type ConvertResult struct {
	ImagePath      string `json:"image_path"`
	Format         string `json:"format"`
	OriginalFormat string `json:"original_format"`
}

// Convert re-encodes the source image in TargetFormat.
//
// Converting a source with an alpha channel or a palette to JPEG composites
// it over an opaque background first; JPEG has no transparency and the
// encoder would otherwise turn transparent pixels black.
//
// The default output path is the source path with the target's canonical
// extension (".jpg" for JPEG).
//
// # Errors
//
//   - toolerr.KindUnsupportedFormat if TargetFormat is not PNG, JPEG, WEBP or GIF
//   - toolerr.KindSourceNotFound if the source does not exist
func (b *Backend) Convert(req ConvertRequest) (*ConvertResult, error) {
	format, err := ParseFormat(req.TargetFormat)
	if err != nil {
		return nil, err
	}
	if req.Quality < 0 || req.Quality > 100 {
		return nil, toolerr.New(toolerr.KindValidation, "quality must be between 1 and 100, got %d", req.Quality)
	}

	src, err := Load(req.ImagePath)
	if err != nil {
		return nil, err
	}

	out := req.OutputPath
	if out == "" {
		ext := filepath.Ext(req.ImagePath)
		out = strings.TrimSuffix(req.ImagePath, ext) + format.Ext()
	}

	path, err := b.write(src.Image, format, req.Quality, out, req.Background)
	if err != nil {
		return nil, err
	}

	return &ConvertResult{
		ImagePath:      path,
		Format:         string(format),
		OriginalFormat: src.Format,
	}, nil
}

// write encodes img and hands it to the saver. JPEG output is flattened onto
// background when img has transparency.
func (b *Backend) write(img image.Image, format Format, quality int, out, background string) (string, error) {
	if format == FormatJPEG && hasTransparency(img) {
		bg, err := parseBackground(background)
		if err != nil {
			return "", err
		}
		img = flatten(img, bg)
	}

	var buf bytes.Buffer
	if err := encode(&buf, img, format, quality); err != nil {
		return "", toolerr.Wrap(toolerr.KindIOFailure, err, "failed to encode %s", format)
	}
	return b.saver.Save(buf.Bytes(), out, format.Ext())
}
