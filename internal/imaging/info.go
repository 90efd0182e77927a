package imaging

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/ironsheep/imagegen-mcp/internal/toolerr"
)

// ImageInfo contains metadata about an image file.
type ImageInfo struct {
	// Path is the absolute path of the file.
	Path string `json:"path"`

	// Size is [width, height] in pixels.
	Size [2]int `json:"size"`

	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`

	// Format is the decoder-detected format: "PNG", "JPEG", "GIF", "WEBP", ...
	// Detection is based on file contents, not the extension.
	Format string `json:"format"`

	// ColorMode is the pixel layout, e.g. "RGB", "RGBA", "P" or "L".
	ColorMode string `json:"color_mode"`

	// FileSizeBytes is the size of the image file on disk in bytes.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// Inspect reads the header of the image at path and reports its metadata.
//
// Only the image header is decoded. Inspect never writes; calling it twice on
// an unmodified file returns identical results.
func Inspect(path string) (*ImageInfo, error) {
	stat, err := statSource(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindIOFailure, err, "failed to open image %s", path)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindIOFailure, err, "failed to decode image header %s", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	return &ImageInfo{
		Path:          abs,
		Size:          [2]int{cfg.Width, cfg.Height},
		Width:         cfg.Width,
		Height:        cfg.Height,
		Format:        strings.ToUpper(format),
		ColorMode:     colorMode(cfg.ColorModel),
		FileSizeBytes: stat.Size(),
	}, nil
}
