package chat

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/scriptwiki/wikichat/pkg/chat/store"
	"github.com/scriptwiki/wikichat/pkg/events"
)

// SessionsKey is the blob store key the session collection lives under.
const SessionsKey = "ai_chat_sessions_v4"

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrInvalidSessionData    = errors.New("invalid session data: messages must be a list")
	ErrInvalidCollectionData = errors.New("invalid collection data: sessions must be a list")
)

type ManagerImpl struct {
	store     store.Store
	publisher message.Publisher

	// Serializes all collection writes. Generation completion handlers and
	// UI-triggered mutations can run on different goroutines.
	mu   sync.Mutex
	data Collection
}

var _ Manager = (*ManagerImpl)(nil)

type ManagerOption func(*ManagerImpl)

// WithPublisher makes the manager publish session-updated events after every
// durable mutation.
func WithPublisher(publisher message.Publisher) ManagerOption {
	return func(m *ManagerImpl) {
		m.publisher = publisher
	}
}

func NewManager(s store.Store, options ...ManagerOption) *ManagerImpl {
	ret := &ManagerImpl{
		store: s,
		data:  Collection{Sessions: []*Session{}},
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (m *ManagerImpl) Init() error {
	m.mu.Lock()
	m.loadLocked()
	if len(m.data.Sessions) == 0 {
		m.createSessionLocked(DefaultSessionTitle)
	} else if m.data.ActiveSessionID == "" {
		m.data.ActiveSessionID = m.data.Sessions[0].ID
		m.persistLocked()
	}
	active := m.data.ActiveSessionID
	m.mu.Unlock()

	m.notify(active)
	return nil
}

// loadLocked reads the collection from the store, falling back to an empty
// collection on missing or corrupt data.
func (m *ManagerImpl) loadLocked() {
	m.data = Collection{Sessions: []*Session{}}

	raw, ok, err := m.store.Get(SessionsKey)
	if err != nil {
		log.Warn().Err(err).Msg("could not read session collection, starting empty")
		return
	}
	if !ok {
		return
	}

	var loaded Collection
	if err := json.Unmarshal(raw, &loaded); err != nil {
		log.Warn().Err(err).Msg("corrupt session collection, starting empty")
		return
	}

	sessions := make([]*Session, 0, len(loaded.Sessions))
	for _, s := range loaded.Sessions {
		if s == nil {
			continue
		}
		for i := range s.Messages {
			s.Messages[i].Normalize()
		}
		sessions = append(sessions, s)
	}
	m.data = Collection{Sessions: sessions, ActiveSessionID: loaded.ActiveSessionID}
}

func (m *ManagerImpl) persistLocked() {
	raw, err := json.Marshal(&m.data)
	if err != nil {
		log.Error().Err(err).Msg("could not serialize session collection")
		return
	}
	if err := m.store.Set(SessionsKey, raw); err != nil {
		log.Error().Err(err).Msg("could not persist session collection")
	}
}

func (m *ManagerImpl) notify(activeSessionID string) {
	if err := events.Publish(m.publisher, events.TopicSessions,
		events.NewSessionUpdatedEvent(activeSessionID)); err != nil {
		log.Error().Err(err).Msg("could not publish session-updated event")
	}
}

func (m *ManagerImpl) createSessionLocked(title string) *Session {
	s := NewSession(title)
	m.data.Sessions = append([]*Session{s}, m.data.Sessions...)
	m.data.ActiveSessionID = s.ID
	m.persistLocked()
	return s
}

func (m *ManagerImpl) CreateSession(title string) *Session {
	m.mu.Lock()
	s := m.createSessionLocked(title)
	m.mu.Unlock()

	m.notify(s.ID)
	return s
}

// activeSessionLocked recovers from a dangling active id by creating a fresh
// default session, so callers never see a nil session.
func (m *ManagerImpl) activeSessionLocked() *Session {
	for _, s := range m.data.Sessions {
		if s.ID == m.data.ActiveSessionID {
			return s
		}
	}
	log.Debug().Str("active_session_id", m.data.ActiveSessionID).
		Msg("active session id is dangling, creating a fresh session")
	return m.createSessionLocked(DefaultSessionTitle)
}

func (m *ManagerImpl) ActiveSession() *Session {
	m.mu.Lock()
	s := m.activeSessionLocked()
	m.mu.Unlock()
	return s
}

func (m *ManagerImpl) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, len(m.data.Sessions))
	copy(out, m.data.Sessions)
	return out
}

func (m *ManagerImpl) AppendMessage(role Role, content string) {
	m.mu.Lock()
	s := m.activeSessionLocked()
	s.Messages = append(s.Messages, NewMessage(role, content))
	s.LastUpdated = time.Now().UnixMilli()

	if role == RoleUser && s.Title == DefaultSessionTitle {
		s.Title = DeriveTitle(content)
	}

	m.sortLocked()
	m.persistLocked()
	active := m.data.ActiveSessionID
	m.mu.Unlock()

	m.notify(active)
}

func (m *ManagerImpl) CommitAssistantVariant(content string, swipes []string, index int) {
	m.mu.Lock()
	s := m.activeSessionLocked()
	if len(s.Messages) == 0 {
		m.mu.Unlock()
		return
	}
	last := &s.Messages[len(s.Messages)-1]
	if last.Role != RoleAssistant {
		// Defensive guard: swipe state only ever targets the trailing
		// assistant turn.
		m.mu.Unlock()
		return
	}

	last.Swipes = swipes
	last.SwipeIndex = index
	last.Content = content
	last.Normalize()

	m.persistLocked()
	active := m.data.ActiveSessionID
	m.mu.Unlock()

	m.notify(active)
}

func (m *ManagerImpl) EditMessage(index int, content string) error {
	m.mu.Lock()
	s := m.activeSessionLocked()
	if index < 0 || index >= len(s.Messages) {
		m.mu.Unlock()
		return errors.Errorf("message index %d out of range", index)
	}
	s.Messages[index].EditCurrentSwipe(content)
	s.LastUpdated = time.Now().UnixMilli()
	m.persistLocked()
	active := m.data.ActiveSessionID
	m.mu.Unlock()

	m.notify(active)
	return nil
}

func (m *ManagerImpl) DeleteMessage(index int) error {
	m.mu.Lock()
	s := m.activeSessionLocked()
	if index < 0 || index >= len(s.Messages) {
		m.mu.Unlock()
		return errors.Errorf("message index %d out of range", index)
	}
	s.Messages = append(s.Messages[:index], s.Messages[index+1:]...)
	m.persistLocked()
	active := m.data.ActiveSessionID
	m.mu.Unlock()

	m.notify(active)
	return nil
}

func (m *ManagerImpl) DeleteSession(id string) {
	m.mu.Lock()
	sessions := m.data.Sessions[:0]
	for _, s := range m.data.Sessions {
		if s.ID != id {
			sessions = append(sessions, s)
		}
	}
	m.data.Sessions = sessions

	if len(m.data.Sessions) == 0 {
		m.createSessionLocked(DefaultSessionTitle)
	} else if m.data.ActiveSessionID == id {
		m.data.ActiveSessionID = m.data.Sessions[0].ID
	}
	m.persistLocked()
	active := m.data.ActiveSessionID
	m.mu.Unlock()

	m.notify(active)
}

func (m *ManagerImpl) SwitchSession(id string) bool {
	m.mu.Lock()
	found := false
	for _, s := range m.data.Sessions {
		if s.ID == id {
			found = true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return false
	}
	m.data.ActiveSessionID = id
	m.persistLocked()
	m.mu.Unlock()

	m.notify(id)
	return true
}

func (m *ManagerImpl) ClearAll() {
	m.mu.Lock()
	m.data = Collection{Sessions: []*Session{}}
	if err := m.store.Delete(SessionsKey); err != nil {
		log.Error().Err(err).Msg("could not clear persisted sessions")
	}
	s := m.createSessionLocked(DefaultSessionTitle)
	m.mu.Unlock()

	m.notify(s.ID)
}

func (m *ManagerImpl) ExportSession(id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.data.Sessions {
		if s.ID == id {
			return json.MarshalIndent(s, "", "  ")
		}
	}
	return nil, errors.Wrapf(ErrSessionNotFound, "session %s", id)
}

func (m *ManagerImpl) ImportSession(data []byte) (*Session, error) {
	// Probe the top-level shape first: a session export must carry a
	// messages list, everything else is recoverable.
	var probe struct {
		Title       string          `json:"title"`
		Messages    json.RawMessage `json:"messages"`
		LastUpdated int64           `json:"lastUpdated"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.Wrap(err, "could not parse session data")
	}
	if len(probe.Messages) == 0 {
		return nil, ErrInvalidSessionData
	}
	var msgs []Message
	if err := json.Unmarshal(probe.Messages, &msgs); err != nil {
		return nil, errors.Wrap(ErrInvalidSessionData, err.Error())
	}
	if msgs == nil {
		return nil, ErrInvalidSessionData
	}
	for i := range msgs {
		msgs[i].Normalize()
	}

	title := probe.Title
	if title == "" {
		title = untitledTitle
	}

	// Never trust the imported id: a re-import of a previous export must not
	// collide with the session it came from.
	s := &Session{
		ID:          uuid.NewString(),
		Title:       importedTitlePrefix + title,
		Messages:    msgs,
		LastUpdated: time.Now().UnixMilli(),
	}

	m.mu.Lock()
	m.data.Sessions = append([]*Session{s}, m.data.Sessions...)
	m.data.ActiveSessionID = s.ID
	m.persistLocked()
	m.mu.Unlock()

	m.notify(s.ID)
	return s, nil
}

func (m *ManagerImpl) ExportAll() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.MarshalIndent(&m.data, "", "  ")
}

func (m *ManagerImpl) ImportAll(data []byte) error {
	var probe struct {
		Sessions        json.RawMessage `json:"sessions"`
		ActiveSessionID string          `json:"activeSessionId"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return errors.Wrap(err, "could not parse collection data")
	}
	if len(probe.Sessions) == 0 {
		return ErrInvalidCollectionData
	}
	var sessions []*Session
	if err := json.Unmarshal(probe.Sessions, &sessions); err != nil {
		return errors.Wrap(ErrInvalidCollectionData, err.Error())
	}
	if sessions == nil {
		return ErrInvalidCollectionData
	}
	for _, s := range sessions {
		if s == nil {
			continue
		}
		for i := range s.Messages {
			s.Messages[i].Normalize()
		}
	}

	m.mu.Lock()
	m.data = Collection{Sessions: sessions, ActiveSessionID: probe.ActiveSessionID}
	if m.data.ActiveSessionID == "" && len(m.data.Sessions) > 0 {
		m.data.ActiveSessionID = m.data.Sessions[0].ID
	}
	m.persistLocked()
	active := m.data.ActiveSessionID
	m.mu.Unlock()

	m.notify(active)
	return nil
}

func (m *ManagerImpl) sortLocked() {
	sort.SliceStable(m.data.Sessions, func(i, j int) bool {
		return m.data.Sessions[i].LastUpdated > m.data.Sessions[j].LastUpdated
	})
}
