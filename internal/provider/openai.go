package provider

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ironsheep/imagegen-mcp/internal/httpclient"
	"github.com/ironsheep/imagegen-mcp/internal/toolerr"
)

const (
	// OpenAIID selects the OpenAI provider.
	OpenAIID = "openai"

	// DefaultOpenAIBaseURL is the API root; "/images/generations" is appended.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// maxErrorMessageBytes bounds the upstream text quoted in an error.
	maxErrorMessageBytes = 500

	// DefaultOpenAIModel is the image model requested.
	DefaultOpenAIModel = "gpt-image-1"
)

// OpenAISizes are the sizes gpt-image-1 accepts: square, portrait, landscape.
var OpenAISizes = []string{"1024x1024", "1024x1536", "1536x1024"}

type openAIImagesRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type openAIImagesResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		B64JSON       string `json:"b64_json,omitempty"`
		URL           string `json:"url,omitempty"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	} `json:"data"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// OpenAI talks to the OpenAI Images API.
type OpenAI struct {
	baseURL string
	model   string
}

// NewOpenAI creates the OpenAI provider. Empty arguments select the defaults.
func NewOpenAI(baseURL, model string) *OpenAI {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{baseURL: strings.TrimRight(baseURL, "/"), model: model}
}

func (p *OpenAI) ID() string              { return OpenAIID }
func (p *OpenAI) CredentialEnv() string   { return "OPENAI_API_KEY" }
func (p *OpenAI) OrganizationEnv() string { return "OPENAI_ORG_ID" }
func (p *OpenAI) Sizes() []string         { return OpenAISizes }

// BuildRequest creates POST {base}/images/generations for a single image.
func (p *OpenAI) BuildRequest(prompt, size string, cred Credential) (Request, error) {
	body, err := json.Marshal(openAIImagesRequest{
		Model:  p.model,
		Prompt: prompt,
		N:      1,
		Size:   size,
	})
	if err != nil {
		return Request{}, fmt.Errorf("marshal openai request: %w", err)
	}

	h := make(http.Header)
	h.Set("Authorization", "Bearer "+cred.Secret)
	h.Set("Content-Type", "application/json")
	if cred.Organization != "" {
		h.Set("OpenAI-Organization", cred.Organization)
	}

	return Request{
		URL:    p.baseURL + "/images/generations",
		Header: h,
		Body:   body,
	}, nil
}

// ParseResponse reads data[0] as either b64_json or url.
func (p *OpenAI) ParseResponse(resp *httpclient.Response) (Payload, error) {
	if !resp.OK() {
		msg := strings.TrimSpace(string(resp.Body))
		var er openAIErrorResponse
		if json.Unmarshal(resp.Body, &er) == nil && er.Error.Message != "" {
			msg = er.Error.Message
		}
		msg = truncateUTF8(msg, maxErrorMessageBytes)
		return Payload{}, &toolerr.Error{
			Kind:    toolerr.KindRemoteFailure,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("openai: request failed with status %d: %s", resp.StatusCode, msg),
		}
	}

	var out openAIImagesResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return Payload{}, toolerr.Wrap(toolerr.KindUnexpectedResponse, err, "openai: could not decode response")
	}
	if len(out.Data) == 0 {
		return Payload{}, toolerr.New(toolerr.KindUnexpectedResponse, "openai: no image data returned from API")
	}

	d := out.Data[0]
	switch {
	case d.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			return Payload{}, toolerr.Wrap(toolerr.KindUnexpectedResponse, err, "openai: invalid b64_json")
		}
		return Payload{URL: d.URL, Data: data}, nil
	case d.URL != "":
		return Payload{URL: d.URL}, nil
	default:
		return Payload{}, toolerr.New(toolerr.KindUnexpectedResponse, "openai: unexpected response format, neither url nor b64_json present")
	}
}

var _ Provider = (*OpenAI)(nil)

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
