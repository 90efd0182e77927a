package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"strings"

	_ "github.com/chai2010/webp" // Register WEBP format decoder

	"github.com/ironsheep/imagegen-mcp/internal/toolerr"
)

// Source is a decoded image together with what was learned while loading it.
type Source struct {
	// Path is the path the image was loaded from.
	Path string

	// Image is the decoded pixel data.
	Image image.Image

	// Format is the decoder-detected format, upper-cased (e.g. "PNG", "JPEG").
	Format string

	// FileSizeBytes is the size of the file on disk.
	FileSizeBytes int64
}

// statSource checks that path names an existing regular file.
func statSource(path string) (os.FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, toolerr.New(toolerr.KindSourceNotFound, "image not found: %s", path)
		}
		return nil, toolerr.Wrap(toolerr.KindIOFailure, err, "stat %s", path)
	}
	if !stat.Mode().IsRegular() {
		return nil, toolerr.New(toolerr.KindSourceNotFound, "image not found: %s is not a regular file", path)
	}
	return stat, nil
}

// Load opens and decodes the image at path.
//
// # Errors
//
//   - toolerr.KindSourceNotFound if the path does not exist or is not a file
//   - toolerr.KindIOFailure if the file cannot be read or decoded
func Load(path string) (*Source, error) {
	stat, err := statSource(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindIOFailure, err, "failed to open image %s", path)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindIOFailure, err, "failed to decode image %s", path)
	}

	return &Source{
		Path:          path,
		Image:         img,
		Format:        strings.ToUpper(format),
		FileSizeBytes: stat.Size(),
	}, nil
}

// colorMode names a color model the way image tooling usually reports it.
//
//   - "P": palette
//   - "L": 8-bit grayscale, "I;16": 16-bit grayscale
//   - "RGB": truecolor without alpha (including YCbCr JPEG)
//   - "RGBA": truecolor with alpha
//   - "CMYK": four-channel JPEG
func colorMode(m color.Model) string {
	if _, ok := m.(color.Palette); ok {
		return "P"
	}
	switch m {
	case color.GrayModel:
		return "L"
	case color.Gray16Model:
		return "I;16"
	case color.CMYKModel:
		return "CMYK"
	case color.YCbCrModel, color.RGBAModel, color.RGBA64Model:
		return "RGB"
	case color.NRGBAModel, color.NRGBA64Model, color.AlphaModel, color.Alpha16Model:
		return "RGBA"
	default:
		return fmt.Sprintf("%T", m)
	}
}

// hasTransparency reports whether img is paletted or carries any non-opaque pixel.
// Such images cannot be written to JPEG without flattening first.
func hasTransparency(img image.Image) bool {
	if _, ok := img.(*image.Paletted); ok {
		return true
	}
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}
