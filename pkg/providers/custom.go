package providers

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// CustomAdapter targets self-hosted OpenAI-compatible servers. The endpoint
// comes from the selected custom model entry and is used verbatim, apart
// from appending the completions suffix when it is missing. No API key is
// required; when one is configured it is still sent as a bearer token.
type CustomAdapter struct{}

var _ Adapter = (*CustomAdapter)(nil)

func NewCustomAdapter() *CustomAdapter {
	return &CustomAdapter{}
}

func (a *CustomAdapter) Key() string           { return "custom" }
func (a *CustomAdapter) DisplayName() string   { return "Custom" }
func (a *CustomAdapter) BaseEndpoint() string  { return "" }
func (a *CustomAdapter) KnownModels() []string { return nil }
func (a *CustomAdapter) RequiresAPIKey() bool  { return false }

func (a *CustomAdapter) BuildRequest(in BuildInput) (*Request, error) {
	if in.Endpoint == "" {
		return nil, errors.Errorf("custom model %q has no endpoint configured", in.Model)
	}

	body, err := json.Marshal(buildChatCompletionBody(in))
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if in.APIKey != "" {
		headers["Authorization"] = "Bearer " + in.APIKey
	}

	return &Request{
		URL:     completionsURL(in.Endpoint),
		Headers: headers,
		Body:    body,
	}, nil
}

func (a *CustomAdapter) ParseResponse(raw []byte) (string, error) {
	return parseChatCompletionResponse("custom", raw)
}
