package events

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// Generation lifecycle events, published while a completion call is in
	// flight.
	EventTypeStart     EventType = "start"
	EventTypeFinal     EventType = "final"
	EventTypeError     EventType = "error"
	EventTypeInterrupt EventType = "interrupt"

	// Repository change notification, published after every durable session
	// mutation so the presentation layer can re-render.
	EventTypeSessionUpdated EventType = "session-updated"
)

// Topics the core publishes on.
const (
	TopicGeneration = "chat.generation"
	TopicSessions   = "chat.sessions"
)

// EventMetadata ties an event to the generation and session it belongs to.
type EventMetadata struct {
	ID        uuid.UUID `json:"message_id"`
	SessionID string    `json:"session_id,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	if em.Provider != "" {
		e.Str("provider", em.Provider)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
}

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// raw JSON the event was decoded from, when it came over the wire
	payload []byte
}

func (e *EventImpl) Type() EventType         { return e.Type_ }
func (e *EventImpl) Metadata() EventMetadata { return e.Metadata_ }
func (e *EventImpl) Payload() []byte         { return e.payload }

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

var _ Event = (*EventImpl)(nil)

type EventStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventStart {
	return &EventStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata},
	}
}

// EventFinal carries the full assistant text of a completed generation.
type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata},
		Text:      text,
	}
}

// EventError carries the error text of a failed generation. The UI renders
// it as a synthetic assistant bubble; it is never persisted as a turn.
type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
	}
}

// EventInterrupt signals a user-initiated stop. It deliberately carries no
// error: a stop is not a failure.
type EventInterrupt struct {
	EventImpl
}

func NewInterruptEvent(metadata EventMetadata) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{Type_: EventTypeInterrupt, Metadata_: metadata},
	}
}

type EventSessionUpdated struct {
	EventImpl
	ActiveSessionID string `json:"active_session_id"`
}

func NewSessionUpdatedEvent(activeSessionID string) *EventSessionUpdated {
	return &EventSessionUpdated{
		EventImpl: EventImpl{
			Type_:     EventTypeSessionUpdated,
			Metadata_: EventMetadata{ID: uuid.New(), SessionID: activeSessionID},
		},
		ActiveSessionID: activeSessionID,
	}
}

// NewEventFromJSON decodes an event published through a Router back into its
// concrete type.
func NewEventFromJSON(b []byte) (Event, error) {
	var head EventImpl
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, err
	}

	var ret Event
	switch head.Type_ {
	case EventTypeStart:
		ret = &EventStart{}
	case EventTypeFinal:
		ret = &EventFinal{}
	case EventTypeError:
		ret = &EventError{}
	case EventTypeInterrupt:
		ret = &EventInterrupt{}
	case EventTypeSessionUpdated:
		ret = &EventSessionUpdated{}
	default:
		return nil, errors.Errorf("unknown event type %q", head.Type_)
	}

	if err := json.Unmarshal(b, ret); err != nil {
		return nil, err
	}
	setPayload(ret, b)
	return ret, nil
}

func setPayload(e Event, b []byte) {
	switch e_ := e.(type) {
	case *EventStart:
		e_.payload = b
	case *EventFinal:
		e_.payload = b
	case *EventError:
		e_.payload = b
	case *EventInterrupt:
		e_.payload = b
	case *EventSessionUpdated:
		e_.payload = b
	}
}
