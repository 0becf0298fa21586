package intent

import (
	"context"
	"strings"
	"time"

	"github.com/praxishq/praxis/core/internal/store"
	"github.com/praxishq/praxis/core/pkg/models"
)

// ContextWindow is the bounded short-term conversation memory used to boost
// classification of context-dependent fragments. It keeps the last N
// exchanges per session in the session store.
type ContextWindow struct {
	sessions store.SessionStore
	window   int
}

// NewContextWindow wraps the session store with a fixed window size.
func NewContextWindow(s store.SessionStore, window int) *ContextWindow {
	if window < 1 {
		window = 1
	}
	return &ContextWindow{sessions: s, window: window}
}

// Recall returns the session's exchanges, oldest first. Unknown sessions
// return nil: a missing session is normal for first contact.
func (c *ContextWindow) Recall(ctx context.Context, sessionID string) []models.Exchange {
	if sessionID == "" {
		return nil
	}
	s, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil
	}
	return s.Exchanges
}

// Remember appends one exchange, trimming to the window.
func (c *ContextWindow) Remember(ctx context.Context, sessionID string, ex models.Exchange) error {
	if sessionID == "" {
		return nil
	}
	s, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		s = &models.Session{ID: sessionID}
	}
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now().UTC()
	}
	s.Exchanges = append(s.Exchanges, ex)
	if len(s.Exchanges) > c.window {
		s.Exchanges = s.Exchanges[len(s.Exchanges)-c.window:]
	}
	return c.sessions.PutSession(ctx, s)
}

// affirmatives and negatives are the short replies that only make sense
// against the previous bot turn.
var affirmatives = map[string]bool{
	"yes": true, "yeah": true, "yep": true, "sure": true, "ok": true,
	"okay": true, "please": true, "please do": true, "go ahead": true,
	"do it": true, "sounds good": true, "why not": true,
}

var negatives = map[string]bool{
	"no": true, "nope": true, "nah": true, "not now": true,
	"no thanks": true, "don't": true, "skip": true,
}

// FragmentKind classifies whether a query is a context-dependent fragment.
type FragmentKind int

const (
	FragmentNone FragmentKind = iota
	FragmentAffirmative
	FragmentNegative
	FragmentReference // "that one", "again", "it"
)

// ClassifyFragment decides whether text can only be resolved with context.
func ClassifyFragment(text string) FragmentKind {
	t := strings.ToLower(strings.TrimSpace(strings.TrimRight(text, ".!?")))
	if affirmatives[t] {
		return FragmentAffirmative
	}
	if negatives[t] {
		return FragmentNegative
	}
	words := strings.Fields(t)
	if len(words) > 0 && len(words) <= 3 {
		for _, w := range words {
			switch w {
			case "it", "that", "those", "again", "same", "more":
				return FragmentReference
			}
		}
	}
	return FragmentNone
}
