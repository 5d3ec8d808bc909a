package session

import (
	"github.com/go-go-golems/palaver/pkg/conversation"
)

// whenIdle runs f while holding the session lock, so that no generation can
// start while the log is being changed.
func (s *Session) whenIdle(f func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateGenerating {
		return ErrBusy
	}
	return f()
}

// ClearMemory drops everything but the system prompt.
func (s *Session) ClearMemory() error {
	return s.whenIdle(func() error {
		s.log.Clear()
		s.logger.Debug().Msg("cleared memory")
		return nil
	})
}

// SetMemory replaces the whole log. The messages are taken as given; in
// particular no system message is added if there is none.
func (s *Session) SetMemory(messages []conversation.Message) error {
	return s.whenIdle(func() error {
		if err := s.log.Replace(messages); err != nil {
			return err
		}
		s.logger.Debug().Int("length", len(messages)).Msg("replaced memory")
		return nil
	})
}

// GetMemory returns a copy of the log.
func (s *Session) GetMemory() []conversation.Message {
	return s.log.Snapshot()
}

// ModifySystemPrompt rewrites the first message of the log.
func (s *Session) ModifySystemPrompt(text string) error {
	return s.whenIdle(func() error {
		return s.log.ModifySystemPrompt(text)
	})
}

func (s *Session) SaveMemory(path string) error {
	return s.log.SaveToFile(path)
}

func (s *Session) LoadMemory(path string) error {
	return s.whenIdle(func() error {
		return s.log.LoadFromFile(path)
	})
}
