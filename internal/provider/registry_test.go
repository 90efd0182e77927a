package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ironsheep/imagegen-mcp/internal/httpclient"
	"github.com/ironsheep/imagegen-mcp/internal/store"
	"github.com/ironsheep/imagegen-mcp/internal/toolerr"
)

// pngMagic is enough of a PNG header for content sniffing.
var pngMagic = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRfake-image-payload")

type stubAPI struct {
	srv   *httptest.Server
	hits  atomic.Int32
	last  atomic.Value // *http.Request clone with body
	body  atomic.Value // []byte
	reply func(w http.ResponseWriter, r *http.Request)
}

func newStubAPI(t *testing.T, reply func(w http.ResponseWriter, r *http.Request)) *stubAPI {
	t.Helper()
	s := &stubAPI{reply: reply}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		b, _ := io.ReadAll(r.Body)
		s.body.Store(b)
		s.last.Store(r.Clone(context.Background()))
		s.reply(w, r)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func newTestRegistry(t *testing.T, baseURL string, timeout time.Duration) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	r := NewRegistry(httpclient.New(nil, timeout), st, zerolog.Nop())
	if err := r.Register(NewOpenAI(baseURL, "")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return r, st
}

func b64Reply(payload []byte) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data":    []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(payload)}},
		})
	}
}

func TestGenerate_B64RoundTrip(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_ORG_ID", "org-42")

	api := newStubAPI(t, b64Reply(pngMagic))
	reg, st := newTestRegistry(t, api.srv.URL+"/v1", time.Second)

	res, err := reg.Generate(context.Background(), GenerationRequest{
		Prompt:   "  a red circle ",
		Size:     "1024x1024",
		Provider: OpenAIID,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	got, err := os.ReadFile(res.ImagePath)
	if err != nil {
		t.Fatalf("output file missing: %v", err)
	}
	if !bytes.Equal(got, pngMagic) {
		t.Error("saved bytes differ from the decoded payload")
	}
	if filepath.Dir(res.ImagePath) != st.Dir() {
		t.Errorf("saved to %s, want default dir %s", res.ImagePath, st.Dir())
	}
	if res.Prompt != "a red circle" || res.Size != "1024x1024" || res.Provider != "openai" {
		t.Errorf("unexpected echo: %+v", res)
	}

	req := api.last.Load().(*http.Request)
	if req.Method != http.MethodPost || req.URL.Path != "/v1/images/generations" {
		t.Errorf("request = %s %s", req.Method, req.URL.Path)
	}
	if req.Header.Get("Authorization") != "Bearer sk-test" {
		t.Errorf("Authorization = %q", req.Header.Get("Authorization"))
	}
	if req.Header.Get("OpenAI-Organization") != "org-42" {
		t.Errorf("OpenAI-Organization = %q", req.Header.Get("OpenAI-Organization"))
	}

	var body map[string]any
	if err := json.Unmarshal(api.body.Load().([]byte), &body); err != nil {
		t.Fatalf("request body not JSON: %v", err)
	}
	if body["model"] != "gpt-image-1" || body["prompt"] != "a red circle" || body["n"] != float64(1) || body["size"] != "1024x1024" {
		t.Errorf("request body = %v", body)
	}
}

func TestGenerate_NoOrganizationHeader(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_ORG_ID", "")

	api := newStubAPI(t, b64Reply(pngMagic))
	reg, _ := newTestRegistry(t, api.srv.URL, time.Second)

	if _, err := reg.Generate(context.Background(), GenerationRequest{Prompt: "x", Size: "1024x1536", Provider: OpenAIID}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	req := api.last.Load().(*http.Request)
	if _, ok := req.Header["Openai-Organization"]; ok {
		t.Error("organization header sent without OPENAI_ORG_ID")
	}
}

func TestGenerate_ExplicitOutputPath(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	api := newStubAPI(t, b64Reply(pngMagic))
	reg, _ := newTestRegistry(t, api.srv.URL, time.Second)

	out := filepath.Join(t.TempDir(), "named", "circle.png")
	res, err := reg.Generate(context.Background(), GenerationRequest{Prompt: "x", Size: "1024x1024", Provider: OpenAIID, OutputPath: out})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.ImagePath != out {
		t.Errorf("ImagePath = %s, want %s", res.ImagePath, out)
	}
}

func TestGenerate_URLPayloadIsFetched(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	var imageHits atomic.Int32
	var api *stubAPI
	api = newStubAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/files/img.png" {
			imageHits.Add(1)
			w.Write(pngMagic)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"url": api.srv.URL + "/files/img.png"}},
		})
	})
	reg, _ := newTestRegistry(t, api.srv.URL, time.Second)

	res, err := reg.Generate(context.Background(), GenerationRequest{Prompt: "x", Size: "1024x1024", Provider: OpenAIID})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if imageHits.Load() != 1 {
		t.Errorf("image fetched %d times, want 1", imageHits.Load())
	}
	if res.URL != api.srv.URL+"/files/img.png" {
		t.Errorf("URL = %s", res.URL)
	}
	got, _ := os.ReadFile(res.ImagePath)
	if !bytes.Equal(got, pngMagic) {
		t.Error("fetched bytes not saved verbatim")
	}
}

func TestGenerate_CredentialMissingMakesNoCall(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	api := newStubAPI(t, b64Reply(pngMagic))
	reg, _ := newTestRegistry(t, api.srv.URL, time.Second)

	_, err := reg.Generate(context.Background(), GenerationRequest{Prompt: "x", Size: "1024x1024", Provider: OpenAIID})
	if !toolerr.Is(err, toolerr.KindCredentialMissing) {
		t.Fatalf("kind = %s, want credential_missing (err=%v)", toolerr.KindOf(err), err)
	}
	if api.hits.Load() != 0 {
		t.Errorf("made %d network calls without a credential", api.hits.Load())
	}
}

func TestGenerate_CredentialReadPerCall(t *testing.T) {
	api := newStubAPI(t, b64Reply(pngMagic))
	reg, _ := newTestRegistry(t, api.srv.URL, time.Second)
	req := GenerationRequest{Prompt: "x", Size: "1024x1024", Provider: OpenAIID}

	t.Setenv("OPENAI_API_KEY", "")
	if _, err := reg.Generate(context.Background(), req); !toolerr.Is(err, toolerr.KindCredentialMissing) {
		t.Fatalf("first call: %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "sk-rotated")
	if _, err := reg.Generate(context.Background(), req); err != nil {
		t.Fatalf("second call after setting key: %v", err)
	}
	if got := api.last.Load().(*http.Request).Header.Get("Authorization"); got != "Bearer sk-rotated" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestGenerate_Failures(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	tests := []struct {
		name  string
		reply func(w http.ResponseWriter, r *http.Request)
		want  toolerr.Kind
	}{
		{
			"api error object",
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":{"message":"prompt rejected","type":"invalid_request_error"}}`))
			},
			toolerr.KindRemoteFailure,
		},
		{
			"plain 500",
			func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream down", http.StatusInternalServerError)
			},
			toolerr.KindRemoteFailure,
		},
		{
			"empty data",
			func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"data":[]}`)) },
			toolerr.KindUnexpectedResponse,
		},
		{
			"neither url nor b64",
			func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"data":[{"revised_prompt":"x"}]}`)) },
			toolerr.KindUnexpectedResponse,
		},
		{
			"not json",
			func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`<html>`)) },
			toolerr.KindUnexpectedResponse,
		},
		{
			"bad base64",
			func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"data":[{"b64_json":"%%%"}]}`)) },
			toolerr.KindUnexpectedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newStubAPI(t, tt.reply)
			reg, st := newTestRegistry(t, api.srv.URL, time.Second)

			_, err := reg.Generate(context.Background(), GenerationRequest{Prompt: "x", Size: "1024x1024", Provider: OpenAIID})
			if !toolerr.Is(err, tt.want) {
				t.Fatalf("kind = %s, want %s (err=%v)", toolerr.KindOf(err), tt.want, err)
			}
			if api.hits.Load() != 1 {
				t.Errorf("remote attempts = %d, want exactly 1", api.hits.Load())
			}
			if _, statErr := os.Stat(st.Dir()); statErr == nil {
				entries, _ := os.ReadDir(st.Dir())
				if len(entries) != 0 {
					t.Errorf("failure left %d files in the output dir", len(entries))
				}
			}
		})
	}
}

func TestGenerate_ErrorMessageNamesUpstreamReason(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	api := newStubAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	})
	reg, _ := newTestRegistry(t, api.srv.URL, time.Second)

	_, err := reg.Generate(context.Background(), GenerationRequest{Prompt: "x", Size: "1024x1024", Provider: OpenAIID})
	want := "openai: request failed with status 401: Incorrect API key provided"
	if err == nil || err.Error() != want {
		t.Errorf("error = %v, want %q", err, want)
	}
}

func TestGenerate_LongMultibyteErrorStaysValidUTF8(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	// "é" is two bytes, so a 500 byte cut after the leading "x" lands mid-rune.
	upstream := "x" + strings.Repeat("é", 600)
	api := newStubAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		b, _ := json.Marshal(map[string]any{"error": map[string]any{"message": upstream}})
		w.Write(b)
	})
	reg, _ := newTestRegistry(t, api.srv.URL, time.Second)

	_, err := reg.Generate(context.Background(), GenerationRequest{Prompt: "x", Size: "1024x1024", Provider: OpenAIID})
	if !toolerr.Is(err, toolerr.KindRemoteFailure) {
		t.Fatalf("kind = %s, want %s (err=%v)", toolerr.KindOf(err), toolerr.KindRemoteFailure, err)
	}
	msg := err.Error()
	if !utf8.ValidString(msg) {
		t.Errorf("error message is not valid UTF-8: %q", msg)
	}
	quoted := strings.TrimPrefix(msg, "openai: request failed with status 400: ")
	if len(quoted) > 500 || len(quoted) < 499 {
		t.Errorf("quoted upstream text is %d bytes, want 499 or 500", len(quoted))
	}
	if !strings.HasPrefix(upstream, quoted) {
		t.Error("quoted upstream text is not a prefix of the original")
	}
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"aé", 2, "a"},
		{"aé", 3, "aé"},
		{"日本", 4, "日"},
		{"日本", 2, ""},
	}
	for _, tt := range tests {
		if got := truncateUTF8(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateUTF8(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestGenerate_Timeout(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	release := make(chan struct{})
	api := newStubAPI(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	reg, _ := newTestRegistry(t, api.srv.URL, 50*time.Millisecond)

	_, err := reg.Generate(context.Background(), GenerationRequest{Prompt: "x", Size: "1024x1024", Provider: OpenAIID})
	if !toolerr.Is(err, toolerr.KindRemoteFailure) {
		t.Errorf("kind = %s, want remote_failure", toolerr.KindOf(err))
	}
}

func TestGenerate_ValidationBeforeNetwork(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	api := newStubAPI(t, b64Reply(pngMagic))
	reg, _ := newTestRegistry(t, api.srv.URL, time.Second)

	tests := []struct {
		name string
		req  GenerationRequest
		want toolerr.Kind
	}{
		{"unknown provider", GenerationRequest{Prompt: "x", Size: "1024x1024", Provider: "stability"}, toolerr.KindUnsupportedProvider},
		{"blank prompt", GenerationRequest{Prompt: "   ", Size: "1024x1024", Provider: OpenAIID}, toolerr.KindValidation},
		{"bad size", GenerationRequest{Prompt: "x", Size: "512x512", Provider: OpenAIID}, toolerr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Generate(context.Background(), tt.req)
			if !toolerr.Is(err, tt.want) {
				t.Errorf("kind = %s, want %s", toolerr.KindOf(err), tt.want)
			}
		})
	}
	if api.hits.Load() != 0 {
		t.Errorf("validation failures made %d network calls", api.hits.Load())
	}
}

// fakeProvider shows a second provider plugging in without other changes.
type fakeProvider struct{ base string }

func (f fakeProvider) ID() string              { return "fake" }
func (f fakeProvider) CredentialEnv() string   { return "FAKE_IMAGE_KEY" }
func (f fakeProvider) OrganizationEnv() string { return "" }
func (f fakeProvider) Sizes() []string         { return []string{"512x512", "1024x1024"} }
func (f fakeProvider) BuildRequest(prompt, size string, cred Credential) (Request, error) {
	return Request{URL: f.base + "/gen", Header: http.Header{"X-Key": {cred.Secret}}, Body: []byte(prompt)}, nil
}
func (f fakeProvider) ParseResponse(resp *httpclient.Response) (Payload, error) {
	return Payload{Data: resp.Body}, nil
}

func TestRegistry_SecondProvider(t *testing.T) {
	t.Setenv("FAKE_IMAGE_KEY", "k")
	api := newStubAPI(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("GIF89a-bytes")) })
	reg, _ := newTestRegistry(t, api.srv.URL, time.Second)

	if err := reg.Register(fakeProvider{base: api.srv.URL}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register(fakeProvider{}); err == nil {
		t.Error("duplicate Register should fail")
	}

	if ids := reg.IDs(); len(ids) != 2 || ids[0] != "openai" || ids[1] != "fake" {
		t.Errorf("IDs() = %v", ids)
	}
	sizes := reg.Sizes()
	if len(sizes) != 4 || sizes[0] != "1024x1024" || sizes[3] != "512x512" {
		t.Errorf("Sizes() = %v", sizes)
	}

	res, err := reg.Generate(context.Background(), GenerationRequest{Prompt: "p", Size: "512x512", Provider: "fake"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if filepath.Ext(res.ImagePath) != ".gif" {
		t.Errorf("extension of %s, want .gif from sniffing", res.ImagePath)
	}
}
