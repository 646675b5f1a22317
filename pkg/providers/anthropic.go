package providers

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/scriptwiki/wikichat/pkg/chat"
)

const anthropicVersion = "2023-06-01"

type anthropicRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	// System context travels as a top-level field, never inside messages.
	System   string             `json:"system"`
	Messages []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Error *errorEnvelope `json:"error,omitempty"`
}

// AnthropicAdapter implements the Anthropic messages wire format:
// header-based auth, a versioned API, and the system prompt as its own
// request field.
type AnthropicAdapter struct {
	endpoint string
	models   []string
}

var _ Adapter = (*AnthropicAdapter)(nil)

func NewAnthropicAdapter() *AnthropicAdapter {
	return &AnthropicAdapter{
		endpoint: "https://api.anthropic.com/v1",
		models: []string{
			"claude-3-7-sonnet-latest",
			"claude-3-7-sonnet-20250219",
			"claude-3-5-sonnet-latest",
			"claude-3-5-sonnet-20241022",
			"claude-3-5-sonnet-20240620",
			"claude-3-5-haiku-20241022",
			"claude-3-opus-20240229",
			"claude-3-sonnet-20240229",
			"claude-3-haiku-20240307",
			"claude-2.1",
		},
	}
}

func (a *AnthropicAdapter) Key() string           { return "anthropic" }
func (a *AnthropicAdapter) DisplayName() string   { return "Anthropic" }
func (a *AnthropicAdapter) BaseEndpoint() string  { return a.endpoint }
func (a *AnthropicAdapter) KnownModels() []string { return a.models }
func (a *AnthropicAdapter) RequiresAPIKey() bool  { return true }

func (a *AnthropicAdapter) BuildRequest(in BuildInput) (*Request, error) {
	base := in.Endpoint
	if base == "" {
		base = a.endpoint
	}
	url := base
	if !strings.HasSuffix(url, "/messages") {
		url = strings.TrimRight(url, "/") + "/messages"
	}

	msgs := make([]anthropicMessage, 0, len(in.History)+1)
	for _, m := range in.History {
		msgs = append(msgs, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, anthropicMessage{Role: string(chat.RoleUser), Content: in.Question})

	body, err := json.Marshal(&anthropicRequest{
		Model:     in.Model,
		MaxTokens: in.MaxTokens,
		System:    in.SystemContext,
		Messages:  msgs,
	})
	if err != nil {
		return nil, err
	}

	return &Request{
		URL: url,
		Headers: map[string]string{
			"x-api-key":         in.APIKey,
			"anthropic-version": anthropicVersion,
			"content-type":      "application/json",
		},
		Body: body,
	}, nil
}

func (a *AnthropicAdapter) ParseResponse(raw []byte) (string, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", errors.Wrap(err, "could not parse anthropic response")
	}
	if resp.Error != nil {
		return "", &ResponseError{Provider: "anthropic", Message: resp.Error.Message}
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == "" {
		return "", emptyResponseError("anthropic")
	}
	return resp.Content[0].Text, nil
}
