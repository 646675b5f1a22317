package chat

// Package chat owns the conversation session collection: creation,
// activation, message appends, swipe commits, deletion, import/export and
// persistence. It publishes a session-updated event after every durable
// mutation so the presentation layer can re-render without owning any
// derived state of its own.

// Manager is the high-level interface over the session collection.
//
// The collection is never empty: deleting the last session, clearing all
// state or loading an empty store immediately recreates a fresh default
// session, and a dangling active id recovers by creating one.
type Manager interface {
	// Init loads the collection from the persistence store, recreating a
	// default session when the store is empty or corrupt.
	Init() error

	CreateSession(title string) *Session
	// ActiveSession never returns nil.
	ActiveSession() *Session
	Sessions() []*Session

	// AppendMessage appends a single-swipe message to the active session and
	// derives the session title from the first user message.
	AppendMessage(role Role, content string)
	// CommitAssistantVariant rewrites the swipe state of the last message of
	// the active session. It is a silent no-op when that message is not an
	// assistant turn.
	CommitAssistantVariant(content string, swipes []string, index int)
	// EditMessage rewrites the currently selected swipe of the message at
	// index in the active session.
	EditMessage(index int, content string) error
	DeleteMessage(index int) error

	DeleteSession(id string)
	// SwitchSession activates id and reports whether it exists. Switching to
	// the already-active session is a persisted no-op returning true.
	SwitchSession(id string) bool
	ClearAll()

	// ExportSession serializes one session as pretty-printed JSON.
	ExportSession(id string) ([]byte, error)
	// ImportSession parses a single exported session, assigns it a fresh id
	// and activates it. The imported id is never trusted.
	ImportSession(data []byte) (*Session, error)
	ExportAll() ([]byte, error)
	// ImportAll replaces the whole collection. On validation failure the
	// existing collection is left untouched.
	ImportAll(data []byte) error
}
