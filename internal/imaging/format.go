package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/imagegen-mcp/internal/toolerr"
)

// Format is an output image format.
type Format string

const (
	FormatPNG  Format = "PNG"
	FormatJPEG Format = "JPEG"
	FormatWEBP Format = "WEBP"
	FormatGIF  Format = "GIF"
	FormatBMP  Format = "BMP"
	FormatTIFF Format = "TIFF"
)

// ConvertFormats lists the targets accepted by Convert, in catalog order.
var ConvertFormats = []Format{FormatPNG, FormatJPEG, FormatWEBP, FormatGIF}

// DefaultQuality is the encoder quality used for lossy formats when none is given.
const DefaultQuality = 95

// DefaultBackground is the colour transparent pixels are flattened onto for JPEG.
const DefaultBackground = "#FFFFFF"

// ParseFormat parses a conversion target, case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToUpper(strings.TrimSpace(s)))
	for _, ok := range ConvertFormats {
		if f == ok {
			return f, nil
		}
	}
	names := make([]string, len(ConvertFormats))
	for i, ok := range ConvertFormats {
		names[i] = string(ok)
	}
	return "", toolerr.New(toolerr.KindUnsupportedFormat,
		"unsupported format %q, choose from: %s", s, strings.Join(names, ", "))
}

// Ext returns the canonical file extension, including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatTIFF:
		return ".tif"
	default:
		return "." + strings.ToLower(string(f))
	}
}

// Lossy reports whether quality affects the encoding.
func (f Format) Lossy() bool {
	return f == FormatJPEG || f == FormatWEBP
}

// formatFromPath infers the output format from a file extension.
func formatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG, true
	case ".jpg", ".jpeg":
		return FormatJPEG, true
	case ".webp":
		return FormatWEBP, true
	case ".gif":
		return FormatGIF, true
	case ".bmp":
		return FormatBMP, true
	case ".tif", ".tiff":
		return FormatTIFF, true
	}
	return "", false
}

// encode writes img in format f. quality is used by JPEG and WEBP only.
// PNG is written with the best compression level.
func encode(w io.Writer, img image.Image, f Format, quality int) error {
	if quality <= 0 {
		quality = DefaultQuality
	}
	switch f {
	case FormatPNG:
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case FormatGIF:
		return imaging.Encode(w, img, imaging.GIF)
	case FormatBMP:
		return imaging.Encode(w, img, imaging.BMP)
	case FormatTIFF:
		return imaging.Encode(w, img, imaging.TIFF)
	case FormatWEBP:
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	default:
		return fmt.Errorf("no encoder for format %s", f)
	}
}

// parseBackground parses a hex colour such as "#FFFFFF" or "#fff".
func parseBackground(hex string) (color.NRGBA, error) {
	if hex == "" {
		hex = DefaultBackground
	}
	if !strings.HasPrefix(hex, "#") {
		hex = "#" + hex
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.NRGBA{}, toolerr.New(toolerr.KindValidation, "invalid background colour %q: expected #RRGGBB", hex)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// flatten composites img over an opaque background of colour bg.
// The result has no transparent pixels.
func flatten(img image.Image, bg color.Color) image.Image {
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), bg)
	return imaging.Overlay(canvas, imaging.Clone(img), image.Pt(0, 0), 1.0)
}
