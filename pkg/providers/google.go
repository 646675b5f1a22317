package providers

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/scriptwiki/wikichat/pkg/chat"
)

type googleRequest struct {
	Contents         []googleContent        `json:"contents"`
	GenerationConfig googleGenerationConfig `json:"generationConfig"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens"`
}

type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *errorEnvelope `json:"error,omitempty"`
}

// GoogleAdapter implements the Gemini generateContent wire format: the model
// name and API key ride in the URL, assistant turns map to the "model" role,
// and system instructions are injected as a synthetic leading user turn.
type GoogleAdapter struct {
	endpoint string
	models   []string
}

var _ Adapter = (*GoogleAdapter)(nil)

func NewGoogleAdapter() *GoogleAdapter {
	return &GoogleAdapter{
		endpoint: "https://generativelanguage.googleapis.com/v1beta/models",
		models: []string{
			"gemini-2.5-pro",
			"gemini-2.5-flash",
			"gemini-2.0-flash",
			"gemini-2.0-pro-exp",
			"gemini-2.0-flash-lite-preview",
			"gemini-1.5-pro",
			"gemini-1.5-pro-latest",
			"gemini-1.5-flash",
			"gemini-1.5-flash-latest",
			"gemini-1.5-flash-8b",
			"gemini-pro",
			"gemma-3-27b-it",
		},
	}
}

func (a *GoogleAdapter) Key() string           { return "google" }
func (a *GoogleAdapter) DisplayName() string   { return "Google Gemini" }
func (a *GoogleAdapter) BaseEndpoint() string  { return a.endpoint }
func (a *GoogleAdapter) KnownModels() []string { return a.models }
func (a *GoogleAdapter) RequiresAPIKey() bool  { return true }

func (a *GoogleAdapter) BuildRequest(in BuildInput) (*Request, error) {
	base := in.Endpoint
	if base == "" {
		base = a.endpoint
	}

	contents := make([]googleContent, 0, len(in.History)+2)
	contents = append(contents, googleContent{
		Role:  "user",
		Parts: []googlePart{{Text: "[System Instruction]\n" + in.SystemContext}},
	})
	for _, m := range in.History {
		role := "user"
		if m.Role == chat.RoleAssistant {
			role = "model"
		}
		contents = append(contents, googleContent{
			Role:  role,
			Parts: []googlePart{{Text: m.Content}},
		})
	}
	contents = append(contents, googleContent{
		Role:  "user",
		Parts: []googlePart{{Text: in.Question}},
	})

	body, err := json.Marshal(&googleRequest{
		Contents:         contents,
		GenerationConfig: googleGenerationConfig{MaxOutputTokens: in.MaxTokens},
	})
	if err != nil {
		return nil, err
	}

	return &Request{
		URL: fmt.Sprintf("%s/%s:generateContent?key=%s",
			strings.TrimRight(base, "/"), in.Model, url.QueryEscape(in.APIKey)),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: body,
	}, nil
}

func (a *GoogleAdapter) ParseResponse(raw []byte) (string, error) {
	var resp googleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", errors.Wrap(err, "could not parse google response")
	}
	if resp.Error != nil {
		return "", &ResponseError{Provider: "google", Message: resp.Error.Message}
	}
	if len(resp.Candidates) == 0 ||
		len(resp.Candidates[0].Content.Parts) == 0 ||
		resp.Candidates[0].Content.Parts[0].Text == "" {
		return "", emptyResponseError("google")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
