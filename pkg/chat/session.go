package chat

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const (
	// DefaultSessionTitle marks a session whose title has not been derived
	// from a user message yet.
	DefaultSessionTitle = "New Chat"

	importedTitlePrefix = "[Imported] "
	untitledTitle       = "Untitled"

	titleMaxRunes = 20
)

// Session is one conversation: an ordered list of messages plus display
// metadata. LastUpdated (unix milliseconds) drives the descending display
// order of the session list.
type Session struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	LastUpdated int64     `json:"lastUpdated"`
}

// Collection is the durable shape of the whole session store.
type Collection struct {
	Sessions        []*Session `json:"sessions"`
	ActiveSessionID string     `json:"activeSessionId"`
}

func NewSession(title string) *Session {
	if title == "" {
		title = DefaultSessionTitle
	}
	return &Session{
		ID:          uuid.NewString(),
		Title:       title,
		Messages:    []Message{},
		LastUpdated: time.Now().UnixMilli(),
	}
}

// DeriveTitle turns the first user message into a display title, capped at
// 20 runes with an ellipsis.
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes]) + "..."
	}
	return content
}

// ExportFileName builds a download filename from a sanitized session title
// and the current ISO date.
func ExportFileName(title string, now time.Time) string {
	var b strings.Builder
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	safe := strings.TrimSpace(b.String())
	if safe == "" {
		safe = "chat"
	}
	return safe + "_" + now.Format("2006-01-02") + ".json"
}
