// Package provider generates images through remote model APIs.
//
// A Provider knows one API: which environment variable holds its credential,
// how to build the generation request and how to read the reply. The Registry
// owns everything common to all providers: credential lookup, the HTTP round
// trips, fetching images returned by URL, and handing the bytes to the output
// store. Adding a provider means implementing Provider and registering it.
package provider

import (
	"net/http"

	"github.com/ironsheep/imagegen-mcp/internal/httpclient"
)

// Credential holds the secrets read from the environment for one call.
type Credential struct {
	// Secret is the API key. Never empty when passed to a Provider.
	Secret string

	// Organization is optional; providers that support it forward it as a header.
	Organization string
}

// Request is a provider-specific HTTP request, ready to send.
type Request struct {
	URL    string
	Header http.Header
	Body   []byte
}

// Payload is what a provider extracted from a successful reply: either inline
// image bytes or a URL to fetch them from. When both are present Data is used
// and URL is only reported back to the caller.
type Payload struct {
	URL  string
	Data []byte
}

// Provider is one remote image generation backend.
type Provider interface {
	// ID is the identifier callers use to select the provider, e.g. "openai".
	ID() string

	// CredentialEnv names the environment variable holding the API key.
	CredentialEnv() string

	// OrganizationEnv names an optional environment variable forwarded as an
	// organization header. Empty if the provider has none.
	OrganizationEnv() string

	// Sizes lists the accepted size labels; the first one is the default.
	Sizes() []string

	// BuildRequest constructs the generation request.
	BuildRequest(prompt, size string, cred Credential) (Request, error)

	// ParseResponse interprets the reply, including non-2xx statuses.
	// Errors must be *toolerr.Error values.
	ParseResponse(resp *httpclient.Response) (Payload, error)
}
