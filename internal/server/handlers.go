package server

import (
	"context"
	"encoding/json"

	"github.com/ironsheep/imagegen-mcp/internal/imaging"
	"github.com/ironsheep/imagegen-mcp/internal/provider"
)

type generateImageArgs struct {
	Prompt         string `json:"prompt"`
	Provider       string `json:"provider"`
	Size           string `json:"size"`
	OutputFilename string `json:"output_filename"`
}

type resizeImageArgs struct {
	ImagePath      string `json:"image_path"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	MaintainAspect bool   `json:"maintain_aspect"`
	OutputPath     string `json:"output_path"`
}

type convertImageFormatArgs struct {
	ImagePath    string `json:"image_path"`
	TargetFormat string `json:"target_format"`
	OutputPath   string `json:"output_path"`
	Quality      int    `json:"quality"`
	Background   string `json:"background"`
}

type getImageInfoArgs struct {
	ImagePath string `json:"image_path"`
}

func (d *Dispatcher) handleGenerateImage(ctx context.Context, raw json.RawMessage) (any, error) {
	var args generateImageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	var out string
	if args.OutputFilename != "" {
		out = d.paths.Resolve(args.OutputFilename)
	}

	res, err := d.generator.Generate(ctx, provider.GenerationRequest{
		Prompt:     args.Prompt,
		Size:       args.Size,
		Provider:   args.Provider,
		OutputPath: out,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Dispatcher) handleResizeImage(_ context.Context, raw json.RawMessage) (any, error) {
	var args resizeImageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	res, err := d.transformer.Resize(imaging.ResizeRequest{
		ImagePath:      args.ImagePath,
		Width:          args.Width,
		Height:         args.Height,
		MaintainAspect: args.MaintainAspect,
		OutputPath:     args.OutputPath,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Dispatcher) handleConvertImageFormat(_ context.Context, raw json.RawMessage) (any, error) {
	var args convertImageFormatArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	res, err := d.transformer.Convert(imaging.ConvertRequest{
		ImagePath:    args.ImagePath,
		TargetFormat: args.TargetFormat,
		OutputPath:   args.OutputPath,
		Quality:      args.Quality,
		Background:   args.Background,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Dispatcher) handleGetImageInfo(_ context.Context, raw json.RawMessage) (any, error) {
	var args getImageInfoArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	info, err := d.inspect(args.ImagePath)
	if err != nil {
		return nil, err
	}
	return info, nil
}
