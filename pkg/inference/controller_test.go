package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptwiki/wikichat/pkg/chat"
	"github.com/scriptwiki/wikichat/pkg/chat/store"
	"github.com/scriptwiki/wikichat/pkg/providers"
	"github.com/scriptwiki/wikichat/pkg/settings"
)

// recordedRequest mirrors the OpenAI-shaped body the custom provider sends.
type recordedRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type testEnv struct {
	manager    *chat.ManagerImpl
	settings   *settings.Service
	controller *Controller
	server     *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

// newTestEnv wires a controller against an in-memory store and a local HTTP
// server selected through a custom model entry, so no API key is needed.
func newTestEnv(t *testing.T, handler http.HandlerFunc) *testEnv {
	t.Helper()

	env := &testEnv{}
	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req recordedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			env.mu.Lock()
			env.requests = append(env.requests, req)
			env.mu.Unlock()
		}
		handler(w, r)
	}))
	t.Cleanup(env.server.Close)

	st := store.NewMemoryStore()
	env.manager = chat.NewManager(st)
	require.NoError(t, env.manager.Init())

	env.settings = settings.NewService(st)
	require.NoError(t, env.settings.SetProvider("custom"))
	require.NoError(t, env.settings.SetModel("local"))
	require.NoError(t, env.settings.AddCustomModel(settings.CustomModel{
		Name:     "local",
		Endpoint: env.server.URL,
		Provider: "custom",
	}))

	env.controller = NewController(env.manager, providers.NewDefaultRegistry(), env.settings,
		WithHTTPClient(env.server.Client()),
		WithContextProvider(func() string { return "doc context" }))
	return env
}

func (env *testEnv) recorded() []recordedRequest {
	env.mu.Lock()
	defer env.mu.Unlock()
	out := make([]recordedRequest, len(env.requests))
	copy(out, env.requests)
	return out
}

func completionHandler(texts ...string) http.HandlerFunc {
	var mu sync.Mutex
	calls := 0
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		text := texts[calls%len(texts)]
		calls++
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": text}},
			},
		})
	}
}

func TestGenerateAppendsUserAndAssistantTurns(t *testing.T) {
	env := newTestEnv(t, completionHandler("use /bg"))

	err := env.controller.Generate(context.Background(), GenerateRequest{Question: "  how do I set a background?  "})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, env.controller.State())

	msgs := env.manager.ActiveSession().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "how do I set a background?", msgs[0].Content, "questions are trimmed")
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "use /bg", msgs[1].Content)
	assert.Equal(t, []string{"use /bg"}, msgs[1].Swipes)

	reqs := env.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "local", reqs[0].Model)
	assert.Equal(t, settings.DefaultTokenLimit, reqs[0].MaxTokens)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, "system", reqs[0].Messages[0].Role)
	assert.Equal(t, "doc context", reqs[0].Messages[0].Content)
	assert.Equal(t, "how do I set a background?", reqs[0].Messages[1].Content)
}

func TestGenerateRerollAppendsSwipe(t *testing.T) {
	env := newTestEnv(t, completionHandler("A", "B"))

	require.NoError(t, env.controller.Generate(context.Background(), GenerateRequest{Question: "question"}))
	require.NoError(t, env.controller.Generate(context.Background(), GenerateRequest{Reroll: true}))

	msgs := env.manager.ActiveSession().Messages
	require.Len(t, msgs, 2, "a reroll never adds a turn")
	last := msgs[1]
	assert.Equal(t, []string{"A", "B"}, last.Swipes)
	assert.Equal(t, 1, last.SwipeIndex)
	assert.Equal(t, "B", last.Content)

	reqs := env.recorded()
	require.Len(t, reqs, 2)
	// The replaced variant and the repeated question stay out of the reroll
	// context: only system plus the question travel.
	require.Len(t, reqs[1].Messages, 2)
	assert.Equal(t, "system", reqs[1].Messages[0].Role)
	assert.Equal(t, "question", reqs[1].Messages[1].Content)
}

func TestGenerateHistoryWindow(t *testing.T) {
	env := newTestEnv(t, completionHandler("answer"))

	for i := 0; i < 12; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		env.manager.AppendMessage(role, fmt.Sprintf("m%02d", i))
	}

	require.NoError(t, env.controller.Generate(context.Background(), GenerateRequest{Question: "newest question"}))

	reqs := env.recorded()
	require.Len(t, reqs, 1)
	msgs := reqs[0].Messages
	require.Len(t, msgs, 12, "system + 10 history entries + live question")
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "m02", msgs[1].Content, "window keeps the most recent entries, oldest first")
	assert.Equal(t, "m11", msgs[10].Content)
	assert.Equal(t, "newest question", msgs[11].Content)
}

func TestGenerateStopCancelsSilently(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	done := make(chan error, 1)
	go func() {
		done <- env.controller.Generate(context.Background(), GenerateRequest{Question: "slow question"})
	}()

	require.Eventually(t, func() bool {
		return env.controller.State() == StateGenerating
	}, 5*time.Second, 10*time.Millisecond)

	env.controller.Stop()

	select {
	case err := <-done:
		require.NoError(t, err, "a user stop is not an error")
	case <-time.After(5 * time.Second):
		t.Fatal("generation did not unwind after stop")
	}

	assert.Equal(t, StateIdle, env.controller.State())
	msgs := env.manager.ActiveSession().Messages
	require.Len(t, msgs, 1, "no assistant turn lands after a stop")
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
}

func TestGenerateWhileGeneratingActsAsStop(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	done := make(chan error, 1)
	go func() {
		done <- env.controller.Generate(context.Background(), GenerateRequest{Question: "first"})
	}()

	require.Eventually(t, func() bool {
		return env.controller.State() == StateGenerating
	}, 5*time.Second, 10*time.Millisecond)

	// A second call while generating is a stop request, never a second
	// concurrent generation.
	require.NoError(t, env.controller.Generate(context.Background(), GenerateRequest{Question: "second"}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("first generation did not unwind")
	}
	assert.Equal(t, StateIdle, env.controller.State())
}

func TestGenerateEmptyQuestion(t *testing.T) {
	env := newTestEnv(t, completionHandler("unused"))

	err := env.controller.Generate(context.Background(), GenerateRequest{Question: "   "})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Empty(t, env.recorded(), "validation fails before any network call")
	assert.Empty(t, env.manager.ActiveSession().Messages)
}

func TestGenerateRerollWithoutUserPromptIsNoOp(t *testing.T) {
	env := newTestEnv(t, completionHandler("unused"))

	require.NoError(t, env.controller.Generate(context.Background(), GenerateRequest{Reroll: true}))
	assert.Empty(t, env.recorded())
	assert.Empty(t, env.manager.ActiveSession().Messages)
}

func TestGenerateMissingAPIKey(t *testing.T) {
	env := newTestEnv(t, completionHandler("unused"))
	require.NoError(t, env.settings.SetProvider("openai"))

	err := env.controller.Generate(context.Background(), GenerateRequest{Question: "q"})
	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, configErr.Reason, "openai")
	assert.Empty(t, env.recorded())
}

func TestGenerateDefaultsToOpenAI(t *testing.T) {
	env := newTestEnv(t, completionHandler("unused"))
	require.NoError(t, env.settings.SetProvider(""))

	err := env.controller.Generate(context.Background(), GenerateRequest{Question: "q"})
	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, configErr.Reason, "openai")
}

func TestGenerateUnknownProvider(t *testing.T) {
	env := newTestEnv(t, completionHandler("unused"))
	require.NoError(t, env.settings.SetProvider("mystery"))

	err := env.controller.Generate(context.Background(), GenerateRequest{Question: "q"})
	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, configErr.Reason, "mystery")
}

func TestGenerateProviderErrorSurvivesVerbatim(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"model not found"}}`))
	})

	err := env.controller.Generate(context.Background(), GenerateRequest{Question: "q"})

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "custom", transportErr.Provider)

	var respErr *providers.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, "model not found", respErr.Message,
		"the provider message wins over the status code")

	msgs := env.manager.ActiveSession().Messages
	require.Len(t, msgs, 1, "no assistant turn lands on failure")
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, StateIdle, env.controller.State())
}

func TestGenerateUnexpectedStatus(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("oops"))
	})

	err := env.controller.Generate(context.Background(), GenerateRequest{Question: "q"})

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestGenerateRerollAfterSwitchFallsBackToAppend(t *testing.T) {
	env := newTestEnv(t, completionHandler("fresh answer"))
	env.manager.AppendMessage(chat.RoleUser, "lone question")

	require.NoError(t, env.controller.Generate(context.Background(), GenerateRequest{Reroll: true}))

	msgs := env.manager.ActiveSession().Messages
	require.Len(t, msgs, 2, "without a trailing assistant turn the reroll appends")
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "fresh answer", msgs[1].Content)
}

func TestHistoryWindowHelper(t *testing.T) {
	mk := func(role chat.Role, content string) chat.Message {
		return chat.NewMessage(role, content)
	}

	t.Run("short history passes through", func(t *testing.T) {
		in := []chat.Message{mk(chat.RoleUser, "a"), mk(chat.RoleAssistant, "b")}
		out := historyWindow(in, "q", false)
		require.Len(t, out, 2)
	})

	t.Run("question echoes are excluded", func(t *testing.T) {
		in := []chat.Message{mk(chat.RoleUser, "q"), mk(chat.RoleAssistant, "b")}
		out := historyWindow(in, "q", false)
		require.Len(t, out, 1)
		assert.Equal(t, "b", out[0].Content)
	})

	t.Run("reroll drops the trailing assistant turn", func(t *testing.T) {
		in := []chat.Message{mk(chat.RoleUser, "a"), mk(chat.RoleAssistant, "b")}
		out := historyWindow(in, "q", true)
		require.Len(t, out, 1)
		assert.Equal(t, "a", out[0].Content)
	})

	t.Run("reroll keeps a trailing user turn", func(t *testing.T) {
		in := []chat.Message{mk(chat.RoleAssistant, "b"), mk(chat.RoleUser, "a")}
		out := historyWindow(in, "q", true)
		require.Len(t, out, 2)
	})
}
