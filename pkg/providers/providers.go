package providers

// Package providers normalizes request construction and response parsing
// across the chat completion HTTP APIs the assistant can talk to. Each
// adapter is pure: it turns conversation state into a ready-to-send request
// and extracts the assistant text from the provider's response envelope.
// Dispatching, cancellation and state live in pkg/inference.

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/scriptwiki/wikichat/pkg/chat"
)

// BuildInput carries everything an adapter needs to construct one provider
// request.
type BuildInput struct {
	History       []chat.Message
	Question      string
	SystemContext string
	Model         string
	MaxTokens     int
	APIKey        string
	// Endpoint overrides the adapter's base endpoint when set. Custom model
	// entries and tests use this.
	Endpoint string
}

// Request is a fully formed provider HTTP request, ready for dispatch.
type Request struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

// Adapter normalizes one provider wire format.
type Adapter interface {
	Key() string
	DisplayName() string
	BaseEndpoint() string
	KnownModels() []string
	// RequiresAPIKey reports whether dispatch must fail fast when no API key
	// is configured.
	RequiresAPIKey() bool
	BuildRequest(in BuildInput) (*Request, error)
	// ParseResponse extracts the assistant text from the provider response
	// envelope. A provider-reported error surfaces as a *ResponseError with
	// the provider's own message preserved verbatim.
	ParseResponse(raw []byte) (string, error)
}

// ResponseError is an error the provider itself reported inside its response
// envelope.
type ResponseError struct {
	Provider string
	Message  string
}

func (e *ResponseError) Error() string {
	return e.Message
}

// errorEnvelope is the shared shape of the error object all supported
// providers nest under a top-level "error" field.
type errorEnvelope struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// Registry maps provider keys to adapters. Lookup is pure: adding a provider
// means registering one adapter, nothing in the generation pipeline changes.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Key()] = a
}

func (r *Registry) Lookup(key string) (Adapter, bool) {
	a, ok := r.adapters[key]
	return a, ok
}

func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewDefaultRegistry wires every built-in provider.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewOpenAIAdapter())
	r.Register(NewAnthropicAdapter())
	r.Register(NewGoogleAdapter())
	r.Register(NewCohereAdapter())
	r.Register(NewCustomAdapter())
	return r
}

// completionsURL appends the chat completions suffix unless the endpoint
// already carries it.
func completionsURL(base string) string {
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return strings.TrimRight(base, "/") + "/chat/completions"
}

func emptyResponseError(provider string) error {
	return errors.Errorf("%s returned an empty response", provider)
}
