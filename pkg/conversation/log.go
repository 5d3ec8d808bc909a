package conversation

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Log is the ordered conversation history. It starts with exactly one system
// message at index 0 and is mutated only through its methods.
//
// All methods are safe for concurrent use; callers that need a consistent view
// across several reads should take a Snapshot.
type Log struct {
	mu       sync.RWMutex
	messages []Message
}

// NewLog creates a log holding a single system message.
func NewLog(systemPrompt string) *Log {
	return &Log{
		messages: []Message{NewSystemMessage(systemPrompt)},
	}
}

// Append inserts a message at the tail. Appending a system message is allowed
// here; callers that care about a single system message must check for it.
func (l *Log) Append(role Role, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, NewMessage(role, content))

	log.Trace().
		Str("role", string(role)).
		Int("length", len(l.messages)).
		Msg("appended message to log")
}

// Clear drops everything but the message at index 0.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.messages) > 1 {
		l.messages = l.messages[:1:1]
	}
	log.Trace().Msg("cleared log")
}

// Replace substitutes the whole log. The new messages are taken as given: no
// system message is inserted if the caller left it out.
func (l *Log) Replace(msgs []Message) error {
	if err := Messages(msgs).Validate(); err != nil {
		return err
	}

	cp := Messages(msgs).Clone()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = cp

	log.Trace().
		Int("length", len(cp)).
		Int("system_messages", cp.SystemCount()).
		Msg("replaced log")
	return nil
}

// ModifySystemPrompt rewrites the content of the message at index 0, keeping
// its role. If the log was replaced with a system-free sequence this rewrites
// whatever message sits at index 0.
func (l *Log) ModifySystemPrompt(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.messages) == 0 {
		return &ValidationError{Index: -1, Reason: "log is empty, no system prompt to modify"}
	}
	if l.messages[0].Role != RoleSystem {
		log.Warn().
			Str("role", string(l.messages[0].Role)).
			Msg("modifying system prompt of a log whose first message is not a system message")
	}
	l.messages[0] = NewMessage(l.messages[0].Role, text)
	return nil
}

// Snapshot returns a copy of the ordered messages.
func (l *Log) Snapshot() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Messages(l.messages).Clone()
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

