package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptwiki/wikichat/pkg/chat"
)

func testInput() BuildInput {
	return BuildInput{
		History: []chat.Message{
			chat.NewMessage(chat.RoleUser, "earlier question"),
			chat.NewMessage(chat.RoleAssistant, "earlier answer"),
		},
		Question:      "how do I set the background?",
		SystemContext: "You are a documentation assistant.",
		Model:         "test-model",
		MaxTokens:     512,
		APIKey:        "sk-test",
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	assert.Equal(t, []string{"anthropic", "cohere", "custom", "google", "openai"}, r.Keys())

	a, ok := r.Lookup("openai")
	require.True(t, ok)
	assert.Equal(t, "OpenAI", a.DisplayName())

	_, ok = r.Lookup("mistral")
	assert.False(t, ok)
}

func TestOpenAIBuildRequest(t *testing.T) {
	a := NewOpenAIAdapter()
	req, err := a.BuildRequest(testInput())
	require.NoError(t, err)

	assert.Equal(t, "https://api.openai.com/v1/chat/completions", req.URL)
	assert.Equal(t, "Bearer sk-test", req.Headers["Authorization"])
	assert.Equal(t, "application/json", req.Headers["Content-Type"])

	var body chatCompletionRequest
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "test-model", body.Model)
	assert.Equal(t, 512, body.MaxTokens)
	require.Len(t, body.Messages, 4)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "You are a documentation assistant.", body.Messages[0].Content)
	assert.Equal(t, "user", body.Messages[1].Role)
	assert.Equal(t, "assistant", body.Messages[2].Role)
	assert.Equal(t, "how do I set the background?", body.Messages[3].Content)
}

func TestOpenAIEndpointOverrideKeepsSuffix(t *testing.T) {
	a := NewOpenAIAdapter()
	in := testInput()
	in.Endpoint = "https://proxy.example.com/v1/chat/completions"

	req, err := a.BuildRequest(in)
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.example.com/v1/chat/completions", req.URL)
}

func TestOpenAIParseResponse(t *testing.T) {
	a := NewOpenAIAdapter()

	text, err := a.ParseResponse([]byte(`{"choices":[{"message":{"content":"use /bg"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "use /bg", text)
}

func TestOpenAIParseResponseErrorEnvelope(t *testing.T) {
	a := NewOpenAIAdapter()

	_, err := a.ParseResponse([]byte(`{"error":{"type":"invalid_request_error","message":"model not found"}}`))
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, "openai", respErr.Provider)
	assert.Equal(t, "model not found", respErr.Message)
	assert.Equal(t, "model not found", err.Error(), "provider message survives verbatim")
}

func TestOpenAIParseResponseEmpty(t *testing.T) {
	a := NewOpenAIAdapter()

	_, err := a.ParseResponse([]byte(`{"choices":[]}`))
	require.Error(t, err)

	_, err = a.ParseResponse([]byte(`{"choices":[{"message":{"content":""}}]}`))
	require.Error(t, err)
}

func TestCohereSharesOpenAIShape(t *testing.T) {
	a := NewCohereAdapter()
	assert.Equal(t, "cohere", a.Key())
	assert.True(t, a.RequiresAPIKey())

	req, err := a.BuildRequest(testInput())
	require.NoError(t, err)
	assert.Equal(t, "https://api.cohere.ai/v1/chat/completions", req.URL)
	assert.Equal(t, "Bearer sk-test", req.Headers["Authorization"])
}

func TestAnthropicBuildRequest(t *testing.T) {
	a := NewAnthropicAdapter()
	req, err := a.BuildRequest(testInput())
	require.NoError(t, err)

	assert.Equal(t, "https://api.anthropic.com/v1/messages", req.URL)
	assert.Equal(t, "sk-test", req.Headers["x-api-key"])
	assert.Equal(t, "2023-06-01", req.Headers["anthropic-version"])

	var body anthropicRequest
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "You are a documentation assistant.", body.System,
		"system context is a top-level field")
	require.Len(t, body.Messages, 3)
	for _, m := range body.Messages {
		assert.NotEqual(t, "system", m.Role)
	}
	assert.Equal(t, "how do I set the background?", body.Messages[2].Content)
}

func TestAnthropicParseResponse(t *testing.T) {
	a := NewAnthropicAdapter()

	text, err := a.ParseResponse([]byte(`{"content":[{"type":"text","text":"answer"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "answer", text)

	_, err = a.ParseResponse([]byte(`{"error":{"type":"overloaded_error","message":"Overloaded"}}`))
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, "Overloaded", respErr.Message)

	_, err = a.ParseResponse([]byte(`{"content":[]}`))
	require.Error(t, err)
}

func TestGoogleBuildRequest(t *testing.T) {
	a := NewGoogleAdapter()
	in := testInput()
	in.Model = "gemini-1.5-pro"
	in.APIKey = "key with spaces"

	req, err := a.BuildRequest(in)
	require.NoError(t, err)

	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-pro:generateContent?key=key+with+spaces",
		req.URL)
	assert.NotContains(t, req.Headers, "Authorization")

	var body googleRequest
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, 512, body.GenerationConfig.MaxOutputTokens)

	require.Len(t, body.Contents, 4)
	assert.Equal(t, "user", body.Contents[0].Role)
	assert.Equal(t, "[System Instruction]\nYou are a documentation assistant.",
		body.Contents[0].Parts[0].Text)
	assert.Equal(t, "user", body.Contents[1].Role)
	assert.Equal(t, "model", body.Contents[2].Role, "assistant turns map to the model role")
	assert.Equal(t, "how do I set the background?", body.Contents[3].Parts[0].Text)
}

func TestGoogleParseResponse(t *testing.T) {
	a := NewGoogleAdapter()

	text, err := a.ParseResponse([]byte(`{"candidates":[{"content":{"parts":[{"text":"reply"}]}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "reply", text)

	_, err = a.ParseResponse([]byte(`{"error":{"message":"API key not valid"}}`))
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, "API key not valid", respErr.Message)

	_, err = a.ParseResponse([]byte(`{"candidates":[]}`))
	require.Error(t, err)
}

func TestCustomBuildRequest(t *testing.T) {
	a := NewCustomAdapter()
	assert.False(t, a.RequiresAPIKey())

	in := testInput()
	in.APIKey = ""
	in.Endpoint = "http://localhost:8080/v1"

	req, err := a.BuildRequest(in)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/v1/chat/completions", req.URL)
	assert.NotContains(t, req.Headers, "Authorization", "no bearer header without a key")

	in.APIKey = "local-key"
	req, err = a.BuildRequest(in)
	require.NoError(t, err)
	assert.Equal(t, "Bearer local-key", req.Headers["Authorization"])
}

func TestCustomBuildRequestRequiresEndpoint(t *testing.T) {
	a := NewCustomAdapter()
	in := testInput()
	in.Endpoint = ""

	_, err := a.BuildRequest(in)
	require.Error(t, err)
}

func TestCompletionsURL(t *testing.T) {
	assert.Equal(t, "http://h/v1/chat/completions", completionsURL("http://h/v1"))
	assert.Equal(t, "http://h/v1/chat/completions", completionsURL("http://h/v1/"))
	assert.Equal(t, "http://h/v1/chat/completions", completionsURL("http://h/v1/chat/completions"))
}
