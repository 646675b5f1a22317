package inference

// Package inference runs the generation lifecycle: it owns the single
// in-flight completion call, its cancellation, the bounded history window
// sent upstream, and the reconciliation of results back into the session
// collection (new assistant turn or reroll swipe).

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/scriptwiki/wikichat/pkg/chat"
	"github.com/scriptwiki/wikichat/pkg/events"
	"github.com/scriptwiki/wikichat/pkg/providers"
	"github.com/scriptwiki/wikichat/pkg/settings"
)

// ContextProvider supplies the grounding blob (available commands, macros)
// injected as system context. The core treats a nil provider as an empty
// string: degraded, not fatal.
type ContextProvider func() string

type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
)

// At most the 10 most recent messages travel upstream as context.
const historyWindowSize = 10

// GenerateRequest describes one invocation. A reroll reuses the last user
// prompt and appends a fresh swipe to the trailing assistant turn instead of
// creating a new one.
type GenerateRequest struct {
	Question string
	Reroll   bool
}

// Controller enforces the single-in-flight generation contract. The
// cancellation function is the only state shared between the start and stop
// paths; it is set when entering Generating and cleared exactly once on the
// way back to Idle.
type Controller struct {
	manager   chat.Manager
	registry  *providers.Registry
	settings  *settings.Service
	client    *http.Client
	context   ContextProvider
	publisher message.Publisher

	mu             sync.Mutex
	state          State
	cancel         context.CancelFunc
	lastUserPrompt string
}

type ControllerOption func(*Controller)

func WithHTTPClient(client *http.Client) ControllerOption {
	return func(c *Controller) {
		c.client = client
	}
}

func WithContextProvider(provider ContextProvider) ControllerOption {
	return func(c *Controller) {
		c.context = provider
	}
}

// WithPublisher makes the controller publish lifecycle events
// (start/final/error/interrupt).
func WithPublisher(publisher message.Publisher) ControllerOption {
	return func(c *Controller) {
		c.publisher = publisher
	}
}

func NewController(
	manager chat.Manager,
	registry *providers.Registry,
	settingsService *settings.Service,
	options ...ControllerOption,
) *Controller {
	ret := &Controller{
		manager:  manager,
		registry: registry,
		settings: settingsService,
		// No request timeout: a hung request stays cancellable by the user,
		// matching the stop-button contract.
		client: &http.Client{},
		state:  StateIdle,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stop cancels the in-flight generation, if any. The aborted call winds down
// silently: no error message, no persisted turn.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.cancel != nil {
		log.Debug().Msg("cancelling in-flight generation")
		c.cancel()
	}
}

// Generate runs one full generation lifecycle and blocks until it completes,
// fails or is cancelled. Calling it while a generation is outstanding is a
// stop request, not a second generation.
func (c *Controller) Generate(ctx context.Context, req GenerateRequest) error {
	c.mu.Lock()
	if c.state == StateGenerating {
		c.stopLocked()
		c.mu.Unlock()
		return nil
	}

	question, err := c.resolveQuestionLocked(req)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if question == "" {
		// Reroll with no prior user turn: nothing to regenerate.
		c.mu.Unlock()
		log.Debug().Msg("reroll requested without a user prompt, ignoring")
		return nil
	}

	providerKey := c.settings.Provider()
	if providerKey == "" {
		providerKey = "openai"
	}
	adapter, ok := c.registry.Lookup(providerKey)
	if !ok {
		c.mu.Unlock()
		return &ConfigurationError{Reason: "unknown provider " + providerKey}
	}

	apiKey := c.settings.APIKey(providerKey)
	if apiKey == "" && adapter.RequiresAPIKey() {
		c.mu.Unlock()
		return &ConfigurationError{Reason: "no API key configured for provider " + providerKey}
	}

	model := c.settings.Model()
	endpoint := ""
	if cm, found := c.settings.CustomModel(model); found && providerKey == "custom" {
		endpoint = cm.Endpoint
	}

	systemContext := ""
	if c.context != nil {
		systemContext = c.context()
	}

	session := c.manager.ActiveSession()
	// The window is built from the pre-append snapshot so the live question
	// never echoes into its own context.
	history := historyWindow(session.Messages, question, req.Reroll)

	input := providers.BuildInput{
		History:       history,
		Question:      question,
		SystemContext: systemContext,
		Model:         model,
		MaxTokens:     c.settings.TokenLimit(),
		APIKey:        apiKey,
		Endpoint:      endpoint,
	}

	genCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateGenerating
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.state = StateIdle
		c.mu.Unlock()
		cancel()
	}()

	if !req.Reroll {
		c.manager.AppendMessage(chat.RoleUser, question)
	}

	metadata := events.EventMetadata{
		ID:        uuid.New(),
		SessionID: session.ID,
		Provider:  providerKey,
		Model:     model,
	}
	c.publish(events.NewStartEvent(metadata))

	log.Debug().
		Str("provider", providerKey).
		Str("model", model).
		Int("history_window", len(history)).
		Bool("reroll", req.Reroll).
		Msg("dispatching generation")

	answer, err := c.dispatch(genCtx, adapter, input)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// User-initiated stop: fully silent, clean return to idle.
			c.publish(events.NewInterruptEvent(metadata))
			return nil
		}
		transportErr := &TransportError{Provider: providerKey, Err: err}
		c.publish(events.NewErrorEvent(metadata, transportErr))
		return transportErr
	}

	if req.Reroll {
		c.commitReroll(answer)
	} else {
		c.manager.AppendMessage(chat.RoleAssistant, answer)
	}
	c.publish(events.NewFinalEvent(metadata, answer))
	return nil
}

// resolveQuestionLocked yields the trimmed live question for a fresh send,
// or the most recent user prompt for a reroll. An empty reroll prompt is
// reported as ("", nil) so the caller can no-op.
func (c *Controller) resolveQuestionLocked(req GenerateRequest) (string, error) {
	if !req.Reroll {
		question := strings.TrimSpace(req.Question)
		if question == "" {
			return "", &ValidationError{Reason: "question must not be empty"}
		}
		c.lastUserPrompt = question
		return question, nil
	}

	if c.lastUserPrompt != "" {
		return c.lastUserPrompt, nil
	}
	messages := c.manager.ActiveSession().Messages
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chat.RoleUser {
			c.lastUserPrompt = messages[i].Content
			return c.lastUserPrompt, nil
		}
	}
	return "", nil
}

// historyWindow selects the most recent messages, oldest first. When
// rerolling, the trailing assistant turn is the variant being replaced and
// is dropped. Entries matching the live question are excluded so it is never
// duplicated upstream.
func historyWindow(messages []chat.Message, question string, reroll bool) []chat.Message {
	recent := messages
	if len(recent) > historyWindowSize {
		recent = recent[len(recent)-historyWindowSize:]
	}
	if reroll && len(recent) > 0 && recent[len(recent)-1].Role == chat.RoleAssistant {
		recent = recent[:len(recent)-1]
	}

	out := make([]chat.Message, 0, len(recent))
	for _, m := range recent {
		if m.Content == question {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *Controller) dispatch(ctx context.Context, adapter providers.Adapter, input providers.BuildInput) (string, error) {
	req, err := adapter.BuildRequest(input)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return "", err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	text, parseErr := adapter.ParseResponse(raw)
	if parseErr != nil {
		// A provider-reported error message wins over the status code, and
		// is preserved verbatim.
		var respErr *providers.ResponseError
		if errors.As(parseErr, &respErr) {
			return "", parseErr
		}
		if resp.StatusCode != http.StatusOK {
			return "", errors.Errorf("unexpected status %d", resp.StatusCode)
		}
		return "", parseErr
	}
	return text, nil
}

// commitReroll appends the new text as a swipe on the trailing assistant
// turn. When the session has no trailing assistant turn (reroll right after
// a session switch), the text lands as a fresh assistant message instead of
// being dropped.
func (c *Controller) commitReroll(answer string) {
	session := c.manager.ActiveSession()
	if len(session.Messages) > 0 {
		last := session.Messages[len(session.Messages)-1]
		if last.Role == chat.RoleAssistant {
			swipes := make([]string, len(last.Swipes), len(last.Swipes)+1)
			copy(swipes, last.Swipes)
			swipes = append(swipes, answer)
			c.manager.CommitAssistantVariant(answer, swipes, len(swipes)-1)
			return
		}
	}
	c.manager.AppendMessage(chat.RoleAssistant, answer)
}

func (c *Controller) publish(e events.Event) {
	if err := events.Publish(c.publisher, events.TopicGeneration, e); err != nil {
		log.Error().Err(err).Str("event_type", string(e.Type())).
			Msg("could not publish generation event")
	}
}
