package provider

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ironsheep/imagegen-mcp/internal/httpclient"
	"github.com/ironsheep/imagegen-mcp/internal/toolerr"
)

// Saver persists generated image bytes. *store.Store satisfies it.
type Saver interface {
	Save(data []byte, explicitPath, ext string) (string, error)
}

// GenerationRequest is a validated generate_image call.
type GenerationRequest struct {
	Prompt   string
	Size     string
	Provider string

	// OutputPath is where to write the image; empty lets the Saver choose.
	OutputPath string
}

// GenerationResult is returned to the caller on success.
type GenerationResult struct {
	ImagePath string `json:"image_path"`
	URL       string `json:"url,omitempty"`
	Size      string `json:"size"`
	Prompt    string `json:"prompt"`
	Provider  string `json:"provider"`
}

// Registry maps provider ids to providers and runs generations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string

	client *httpclient.Client
	saver  Saver
	logger zerolog.Logger

	// getenv is consulted on every call so rotated credentials take effect
	// without a restart.
	getenv func(string) string
}

// NewRegistry creates an empty registry.
func NewRegistry(client *httpclient.Client, saver Saver, logger zerolog.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		client:    client,
		saver:     saver,
		logger:    logger,
		getenv:    os.Getenv,
	}
}

// Register adds p. Registering the same id twice is an error.
func (r *Registry) Register(p Provider) error {
	if p == nil || p.ID() == "" {
		return fmt.Errorf("invalid provider")
	}
	if len(p.Sizes()) == 0 {
		return fmt.Errorf("provider %s declares no sizes", p.ID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.ID()]; ok {
		return fmt.Errorf("provider already registered: %s", p.ID())
	}
	r.providers[p.ID()] = p
	r.order = append(r.order, p.ID())
	return nil
}

// IDs returns provider ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Sizes returns the union of all providers' sizes, first-registered first.
func (r *Registry) Sizes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, id := range r.order {
		for _, s := range r.providers[id].Sizes() {
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	return out
}

func (r *Registry) lookup(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// Generate runs one generation: credential lookup, request, optional URL
// fetch, save. Exactly one remote generation attempt is made.
//
// # Errors
//
//   - toolerr.KindUnsupportedProvider if req.Provider is not registered
//   - toolerr.KindCredentialMissing if the provider's key is unset (no network call is made)
//   - toolerr.KindRemoteFailure on transport errors, timeouts and non-2xx replies
//   - toolerr.KindUnexpectedResponse if the reply carries no image
//   - toolerr.KindIOFailure if the image cannot be written
func (r *Registry) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	p, ok := r.lookup(req.Provider)
	if !ok {
		return nil, toolerr.New(toolerr.KindUnsupportedProvider,
			"unsupported provider: %s (available: %s)", req.Provider, strings.Join(r.IDs(), ", "))
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, toolerr.New(toolerr.KindValidation, "prompt must not be empty")
	}
	if !slices.Contains(p.Sizes(), req.Size) {
		return nil, toolerr.New(toolerr.KindValidation,
			"size %q is not supported by provider %s, choose from: %s", req.Size, p.ID(), strings.Join(p.Sizes(), ", "))
	}

	cred := Credential{Secret: r.getenv(p.CredentialEnv())}
	if cred.Secret == "" {
		return nil, toolerr.New(toolerr.KindCredentialMissing, "%s not found in environment variables", p.CredentialEnv())
	}
	if env := p.OrganizationEnv(); env != "" {
		cred.Organization = r.getenv(env)
	}

	httpReq, err := p.BuildRequest(prompt, req.Size, cred)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindInternal, err, "%s: build request", p.ID())
	}

	r.logger.Debug().Str("provider", p.ID()).Str("size", req.Size).Msg("requesting image generation")

	resp, err := r.client.Post(ctx, httpReq.URL, httpReq.Header, httpReq.Body)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindRemoteFailure, err, "%s: image generation request failed", p.ID())
	}
	payload, err := p.ParseResponse(resp)
	if err != nil {
		return nil, err
	}

	data := payload.Data
	if data == nil {
		data, err = r.fetch(ctx, p.ID(), payload.URL)
		if err != nil {
			return nil, err
		}
	}

	path, err := r.saver.Save(data, req.OutputPath, extensionFor(data))
	if err != nil {
		return nil, err
	}

	r.logger.Info().Str("provider", p.ID()).Str("path", path).Int("bytes", len(data)).Msg("image generated")

	return &GenerationResult{
		ImagePath: path,
		URL:       payload.URL,
		Size:      req.Size,
		Prompt:    prompt,
		Provider:  p.ID(),
	}, nil
}

// fetch downloads an image returned by URL.
func (r *Registry) fetch(ctx context.Context, providerID, url string) ([]byte, error) {
	resp, err := r.client.Get(ctx, url, nil)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindRemoteFailure, err, "%s: image download failed", providerID)
	}
	if !resp.OK() {
		return nil, &toolerr.Error{
			Kind:    toolerr.KindRemoteFailure,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("%s: image download failed with status %d", providerID, resp.StatusCode),
		}
	}
	if len(resp.Body) == 0 {
		return nil, toolerr.New(toolerr.KindUnexpectedResponse, "%s: image download returned no data", providerID)
	}
	return resp.Body, nil
}

// extensionFor picks a file extension from the image's magic bytes, falling
// back to ".png".
func extensionFor(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
