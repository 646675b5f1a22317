package providers

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/scriptwiki/wikichat/pkg/chat"
)

// chatCompletionRequest is the OpenAI chat completions request body. Cohere
// and custom endpoints speak the same shape.
type chatCompletionRequest struct {
	Model     string                  `json:"model"`
	MaxTokens int                     `json:"max_tokens"`
	Messages  []chatCompletionMessage `json:"messages"`
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *errorEnvelope `json:"error,omitempty"`
}

// OpenAIAdapter implements the OpenAI chat completions wire format. It also
// backs the cohere provider entry, which exposes the same shape under its
// own endpoint and model list.
type OpenAIAdapter struct {
	key      string
	name     string
	endpoint string
	models   []string
}

var _ Adapter = (*OpenAIAdapter)(nil)

func NewOpenAIAdapter() *OpenAIAdapter {
	return &OpenAIAdapter{
		key:      "openai",
		name:     "OpenAI",
		endpoint: "https://api.openai.com/v1",
		models: []string{
			"gpt-4o",
			"gpt-4o-2024-11-20",
			"gpt-4o-2024-08-06",
			"chatgpt-4o-latest",
			"gpt-4o-mini",
			"gpt-4o-mini-2024-07-18",
			"o1-preview",
			"o1-mini",
			"gpt-4-turbo-preview",
			"gpt-4",
			"gpt-4-32k",
			"gpt-3.5-turbo",
			"gpt-3.5-turbo-16k",
		},
	}
}

func NewCohereAdapter() *OpenAIAdapter {
	return &OpenAIAdapter{
		key:      "cohere",
		name:     "Cohere",
		endpoint: "https://api.cohere.ai/v1",
		models: []string{
			"command-a-03-2025",
			"c4ai-aya-expanse-8b",
			"c4ai-aya-expanse-32b",
			"command-r",
			"command-r-08-2024",
			"command-r-plus",
			"command-r-plus-08-2024",
		},
	}
}

func (a *OpenAIAdapter) Key() string           { return a.key }
func (a *OpenAIAdapter) DisplayName() string   { return a.name }
func (a *OpenAIAdapter) BaseEndpoint() string  { return a.endpoint }
func (a *OpenAIAdapter) KnownModels() []string { return a.models }
func (a *OpenAIAdapter) RequiresAPIKey() bool  { return true }

func (a *OpenAIAdapter) BuildRequest(in BuildInput) (*Request, error) {
	base := in.Endpoint
	if base == "" {
		base = a.endpoint
	}

	body, err := json.Marshal(buildChatCompletionBody(in))
	if err != nil {
		return nil, err
	}

	return &Request{
		URL: completionsURL(base),
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + in.APIKey,
		},
		Body: body,
	}, nil
}

func (a *OpenAIAdapter) ParseResponse(raw []byte) (string, error) {
	return parseChatCompletionResponse(a.key, raw)
}

// buildChatCompletionBody assembles the OpenAI-shaped message list: system
// context first, then the history window, then the live question.
func buildChatCompletionBody(in BuildInput) *chatCompletionRequest {
	msgs := make([]chatCompletionMessage, 0, len(in.History)+2)
	msgs = append(msgs, chatCompletionMessage{Role: "system", Content: in.SystemContext})
	for _, m := range in.History {
		msgs = append(msgs, chatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, chatCompletionMessage{Role: string(chat.RoleUser), Content: in.Question})

	return &chatCompletionRequest{
		Model:     in.Model,
		MaxTokens: in.MaxTokens,
		Messages:  msgs,
	}
}

func parseChatCompletionResponse(provider string, raw []byte) (string, error) {
	var resp chatCompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", errors.Wrapf(err, "could not parse %s response", provider)
	}
	if resp.Error != nil {
		return "", &ResponseError{Provider: provider, Message: resp.Error.Message}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", emptyResponseError(provider)
	}
	return resp.Choices[0].Message.Content, nil
}
