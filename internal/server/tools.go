package server

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ironsheep/imagegen-mcp/internal/imaging"
	"github.com/ironsheep/imagegen-mcp/internal/provider"
)

// Tool names.
const (
	ToolGenerateImage      = "generate_image"
	ToolResizeImage        = "resize_image"
	ToolConvertImageFormat = "convert_image_format"
	ToolGetImageInfo       = "get_image_info"
)

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Param describes one argument of an operation.
type Param struct {
	Name        string
	Type        string // "string", "integer" or "boolean"
	Description string
	Required    bool

	// Default is applied when the argument is omitted. Required params have none.
	Default any

	// Enum restricts string values.
	Enum []string

	// Min and Max bound integer values, inclusive.
	Min *int
	Max *int

	// MinLength bounds string length.
	MinLength *int

	// Upper upper-cases string values before validation.
	Upper bool
}

// Descriptor declares an operation: its name, description and parameters.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
}

// Param returns the named parameter, or nil.
func (d Descriptor) Param(name string) *Param {
	for i := range d.Params {
		if d.Params[i].Name == name {
			return &d.Params[i]
		}
	}
	return nil
}

// InputSchema renders the descriptor as a JSON Schema object. Unknown
// properties are rejected.
func (d Descriptor) InputSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(d.Params))
	required := []string{}
	for _, p := range d.Params {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Min != nil {
			prop["minimum"] = *p.Min
		}
		if p.Max != nil {
			prop["maximum"] = *p.Max
		}
		if p.MinLength != nil {
			prop["minLength"] = *p.MinLength
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// Tool converts the descriptor to its tools/list form.
func (d Descriptor) Tool() Tool {
	return Tool{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema()}
}

func intp(v int) *int { return &v }

// Catalog returns the operation descriptors. providers and sizes populate the
// generate_image enums; the first size is the default.
func Catalog(providers, sizes []string) ([]Descriptor, error) {
	if len(providers) == 0 || len(sizes) == 0 {
		return nil, fmt.Errorf("catalog needs at least one provider and one size")
	}

	defaultProvider := providers[0]
	for _, p := range providers {
		if p == provider.OpenAIID {
			defaultProvider = p
		}
	}

	formats := make([]string, 0, len(imaging.ConvertFormats))
	for _, f := range imaging.ConvertFormats {
		formats = append(formats, string(f))
	}

	catalog := []Descriptor{
		{
			Name:        ToolGenerateImage,
			Description: "Generate an image from a text prompt with a remote model and save it to disk. Returns the saved path.",
			Params: []Param{
				{Name: "prompt", Type: "string", Required: true, MinLength: intp(1), Description: "Text description of the image to generate"},
				{Name: "provider", Type: "string", Default: defaultProvider, Enum: providers, Description: "Image generation provider"},
				{Name: "size", Type: "string", Default: sizes[0], Enum: sizes, Description: "Image size as WIDTHxHEIGHT"},
				{Name: "output_filename", Type: "string", Description: "Optional file name; relative names are placed in the output directory"},
			},
		},
		{
			Name:        ToolResizeImage,
			Description: "Resize an image file. With maintain_aspect, give width or height and the other is derived; if both are given width wins.",
			Params: []Param{
				{Name: "image_path", Type: "string", Required: true, Description: "Path to the source image"},
				{Name: "width", Type: "integer", Min: intp(1), Max: intp(imaging.MaxDimension), Description: "Target width in pixels"},
				{Name: "height", Type: "integer", Min: intp(1), Max: intp(imaging.MaxDimension), Description: "Target height in pixels"},
				{Name: "maintain_aspect", Type: "boolean", Default: true, Description: "Keep the source aspect ratio"},
				{Name: "output_path", Type: "string", Description: "Output path. Default: <name>_resized<ext> beside the source"},
			},
		},
		{
			Name:        ToolConvertImageFormat,
			Description: "Convert an image to another format. Transparent images converted to JPEG are flattened onto the background colour.",
			Params: []Param{
				{Name: "image_path", Type: "string", Required: true, Description: "Path to the source image"},
				{Name: "target_format", Type: "string", Required: true, Enum: formats, Upper: true, Description: "Target format (case-insensitive)"},
				{Name: "output_path", Type: "string", Description: "Output path. Default: source path with the target extension"},
				{Name: "quality", Type: "integer", Default: imaging.DefaultQuality, Min: intp(1), Max: intp(100), Description: "Encoder quality for JPEG and WEBP"},
				{Name: "background", Type: "string", Description: "Hex colour used to flatten transparency for JPEG. Default " + imaging.DefaultBackground},
			},
		},
		{
			Name:        ToolGetImageInfo,
			Description: "Read an image's dimensions, format, colour mode and file size without modifying it.",
			Params: []Param{
				{Name: "image_path", Type: "string", Required: true, Description: "Path to the image"},
			},
		},
	}

	if err := checkCatalog(catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

func checkCatalog(catalog []Descriptor) error {
	seen := make(map[string]bool, len(catalog))
	for _, d := range catalog {
		if d.Name == "" {
			return fmt.Errorf("operation with empty name")
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate operation name: %s", d.Name)
		}
		seen[d.Name] = true

		params := make(map[string]bool, len(d.Params))
		for _, p := range d.Params {
			if params[p.Name] {
				return fmt.Errorf("%s: duplicate parameter %s", d.Name, p.Name)
			}
			params[p.Name] = true
			if p.Required && p.Default != nil {
				return fmt.Errorf("%s: required parameter %s has a default", d.Name, p.Name)
			}
			if s, ok := p.Default.(string); ok && len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
				return fmt.Errorf("%s: default %q of %s is not in %s", d.Name, s, p.Name, strings.Join(p.Enum, ", "))
			}
		}
	}
	return nil
}
