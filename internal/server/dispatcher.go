package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ironsheep/imagegen-mcp/internal/imaging"
	"github.com/ironsheep/imagegen-mcp/internal/observability"
	"github.com/ironsheep/imagegen-mcp/internal/provider"
	"github.com/ironsheep/imagegen-mcp/internal/toolerr"
)

// Generator runs remote image generations. *provider.Registry satisfies it.
type Generator interface {
	Generate(ctx context.Context, req provider.GenerationRequest) (*provider.GenerationResult, error)
	IDs() []string
	Sizes() []string
}

// Transformer runs local image transforms. *imaging.Backend satisfies it.
type Transformer interface {
	Resize(req imaging.ResizeRequest) (*imaging.ResizeResult, error)
	Convert(req imaging.ConvertRequest) (*imaging.ConvertResult, error)
}

// PathResolver places caller-supplied output names. *store.Store satisfies it.
type PathResolver interface {
	Resolve(name string) string
}

// ErrorEnvelope is the uniform failure shape returned to callers.
type ErrorEnvelope struct {
	Message string `json:"message"`
}

// Result is the outcome of one dispatch: exactly one of Value and Error is set.
type Result struct {
	Value any
	Error *ErrorEnvelope

	// Kind classifies Error. It is not part of the envelope.
	Kind toolerr.Kind
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Error == nil }

// JSON renders the success payload or the envelope.
func (r Result) JSON() []byte {
	var v any = r.Value
	if r.Error != nil {
		v = r.Error
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(ErrorEnvelope{Message: "failed to encode result: " + err.Error()})
	}
	return data
}

func failure(err error) Result {
	return Result{
		Error: &ErrorEnvelope{Message: err.Error()},
		Kind:  toolerr.KindOf(err),
	}
}

type handlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

type operation struct {
	desc   Descriptor
	schema *jsonschema.Schema
	handle handlerFunc
}

// Dispatcher validates tool calls and routes them to their handler.
// It is safe for concurrent use; operations share no mutable state.
type Dispatcher struct {
	ops   map[string]*operation
	order []string

	generator   Generator
	transformer Transformer
	paths       PathResolver
	inspect     func(path string) (*imaging.ImageInfo, error)

	logger   zerolog.Logger
	observer observability.Observer
}

// NewDispatcher builds the catalog from the generator's providers and
// compiles one schema per operation. observer may be nil.
func NewDispatcher(gen Generator, tr Transformer, paths PathResolver, logger zerolog.Logger, observer observability.Observer) (*Dispatcher, error) {
	catalog, err := Catalog(gen.IDs(), gen.Sizes())
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		ops:         make(map[string]*operation, len(catalog)),
		generator:   gen,
		transformer: tr,
		paths:       paths,
		inspect:     imaging.Inspect,
		logger:      logger,
		observer:    observer,
	}
	handlers := map[string]handlerFunc{
		ToolGenerateImage:      d.handleGenerateImage,
		ToolResizeImage:        d.handleResizeImage,
		ToolConvertImageFormat: d.handleConvertImageFormat,
		ToolGetImageInfo:       d.handleGetImageInfo,
	}

	for _, desc := range catalog {
		h, ok := handlers[desc.Name]
		if !ok {
			return nil, fmt.Errorf("no handler for operation %s", desc.Name)
		}
		schema, err := compileSchema(desc)
		if err != nil {
			return nil, err
		}
		d.ops[desc.Name] = &operation{desc: desc, schema: schema, handle: h}
		d.order = append(d.order, desc.Name)
	}
	return d, nil
}

func compileSchema(desc Descriptor) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(desc.InputSchema())
	if err != nil {
		return nil, fmt.Errorf("%s: marshal schema: %w", desc.Name, err)
	}
	url := desc.Name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%s: schema resource: %w", desc.Name, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%s: compile schema: %w", desc.Name, err)
	}
	return s, nil
}

// Tools returns the tool definitions in catalog order.
func (d *Dispatcher) Tools() []Tool {
	tools := make([]Tool, 0, len(d.order))
	for _, name := range d.order {
		tools = append(tools, d.ops[name].desc.Tool())
	}
	return tools
}

// Descriptor returns the named operation's descriptor.
func (d *Dispatcher) Descriptor(name string) (Descriptor, bool) {
	op, ok := d.ops[name]
	if !ok {
		return Descriptor{}, false
	}
	return op.desc, true
}

// Dispatch runs one tool call. It never panics and never returns a Go error;
// every failure, including a handler panic, is reported in Result.Error.
//
// Arguments are validated against the operation's schema before any handler
// runs, so a rejected call has no side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (res Result) {
	id := uuid.NewString()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("invocation_id", id).
				Str("tool", name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("tool handler panicked")
			res = failure(toolerr.New(toolerr.KindInternal, "internal error in %s: %v", name, r))
		}
		d.finish(ctx, id, name, start, res)
	}()

	d.logger.Debug().Str("invocation_id", id).Str("tool", name).Msg("tool call started")

	op, ok := d.ops[name]
	if !ok {
		return failure(toolerr.New(toolerr.KindUnknownOperation, "unknown operation: %s", name))
	}

	raw, err := prepare(op, args)
	if err != nil {
		return failure(err)
	}

	value, err := op.handle(ctx, raw)
	if err != nil {
		return failure(err)
	}
	return Result{Value: value}
}

func (d *Dispatcher) finish(ctx context.Context, id, name string, start time.Time, res Result) {
	elapsed := time.Since(start)

	ev := d.logger.Info()
	if !res.OK() {
		ev = d.logger.Warn().Str("error_kind", string(res.Kind)).Str("error", res.Error.Message)
	}
	ev.Str("invocation_id", id).Str("tool", name).Dur("duration", elapsed).Msg("tool call finished")

	if d.observer == nil {
		return
	}
	inv := observability.Invocation{
		ID:       id,
		Tool:     name,
		Duration: elapsed,
		Success:  res.OK(),
	}
	if !res.OK() {
		inv.ErrorKind = string(res.Kind)
	}
	d.observer.ObserveInvocation(ctx, inv)
}

// prepare applies defaults and case folding, validates, and returns the
// arguments as JSON ready to decode into the handler's typed struct.
func prepare(op *operation, args map[string]any) (json.RawMessage, error) {
	merged := make(map[string]any, len(op.desc.Params))
	for k, v := range args {
		if v != nil {
			merged[k] = v
		}
	}

	var unknown []string
	for k := range merged {
		if op.desc.Param(k) == nil {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return nil, toolerr.New(toolerr.KindValidation, "unknown parameter(s) for %s: %s", op.desc.Name, strings.Join(unknown, ", "))
	}

	for _, p := range op.desc.Params {
		v, present := merged[p.Name]
		if !present {
			if p.Required {
				return nil, toolerr.New(toolerr.KindValidation, "missing required parameter: %s", p.Name)
			}
			if p.Default != nil {
				merged[p.Name] = p.Default
			}
			continue
		}
		if s, ok := v.(string); ok && p.Upper {
			merged[p.Name] = strings.ToUpper(strings.TrimSpace(s))
		}
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindValidation, err, "arguments are not valid JSON values")
	}

	// Validate the JSON form so numbers arrive as json.Number no matter how
	// the caller built the map.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, toolerr.Wrap(toolerr.KindValidation, err, "arguments are not valid JSON values")
	}
	if err := op.schema.Validate(doc); err != nil {
		return nil, describeValidation(op.desc, err)
	}
	return raw, nil
}

// describeValidation turns a schema failure into a message that names the
// offending parameter.
func describeValidation(desc Descriptor, err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return toolerr.Wrap(toolerr.KindValidation, err, "invalid arguments for %s", desc.Name)
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}

	name := strings.TrimPrefix(ve.InstanceLocation, "/")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return toolerr.New(toolerr.KindValidation, "invalid arguments for %s: %s", desc.Name, ve.Message)
	}

	switch path.Base(ve.KeywordLocation) {
	case "enum":
		allowed := ""
		if p := desc.Param(name); p != nil {
			allowed = strings.Join(p.Enum, ", ")
		}
		return toolerr.New(toolerr.KindValidation, "invalid value for %s, choose from: %s", name, allowed)
	case "type":
		return toolerr.New(toolerr.KindValidation, "invalid type for %s: %s", name, ve.Message)
	case "minimum", "maximum":
		return toolerr.New(toolerr.KindValidation, "%s out of range: %s", name, ve.Message)
	case "minLength":
		return toolerr.New(toolerr.KindValidation, "%s must not be empty", name)
	default:
		return toolerr.New(toolerr.KindValidation, "invalid parameter %s: %s", name, ve.Message)
	}
}

// decodeArgs decodes validated arguments into a typed request.
func decodeArgs(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return toolerr.Wrap(toolerr.KindValidation, err, "invalid arguments")
	}
	return nil
}
