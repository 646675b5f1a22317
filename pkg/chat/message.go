package chat

import (
	"time"
)

// Role identifies who authored a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversational turn. Assistant turns keep every
// generated variant in Swipes so regenerations can be navigated; Content
// always mirrors Swipes[SwipeIndex]. User turns carry exactly one swipe.
type Message struct {
	Role       Role     `json:"role"`
	Content    string   `json:"content"`
	Swipes     []string `json:"swipes"`
	SwipeIndex int      `json:"swipeIndex"`
	// Timestamp is the creation time of the turn in unix milliseconds.
	// It is not touched when navigating or appending swipes.
	Timestamp int64 `json:"timestamp"`
}

func NewMessage(role Role, content string) Message {
	return Message{
		Role:       role,
		Content:    content,
		Swipes:     []string{content},
		SwipeIndex: 0,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// AppendSwipe adds a new variant and makes it the current one.
func (m *Message) AppendSwipe(text string) {
	m.Swipes = append(m.Swipes, text)
	m.SwipeIndex = len(m.Swipes) - 1
	m.Content = text
}

// SelectSwipe switches the current variant. Returns false when the index is
// out of range, in which case the message is left untouched.
func (m *Message) SelectSwipe(index int) bool {
	if index < 0 || index >= len(m.Swipes) {
		return false
	}
	m.SwipeIndex = index
	m.Content = m.Swipes[index]
	return true
}

// EditCurrentSwipe rewrites the currently selected variant.
func (m *Message) EditCurrentSwipe(text string) {
	if len(m.Swipes) == 0 {
		m.Swipes = []string{text}
		m.SwipeIndex = 0
	} else {
		m.Swipes[m.SwipeIndex] = text
	}
	m.Content = text
}

// Normalize repairs a message coming from untrusted data (imports, old
// exports): the swipe list is never empty, the index is in range, and
// Content matches the selected swipe.
func (m *Message) Normalize() {
	if len(m.Swipes) == 0 {
		m.Swipes = []string{m.Content}
	}
	if m.SwipeIndex < 0 || m.SwipeIndex >= len(m.Swipes) {
		m.SwipeIndex = 0
	}
	m.Content = m.Swipes[m.SwipeIndex]
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}
}
