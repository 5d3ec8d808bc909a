// Package session ties a conversation log to an engine. A Session feeds the
// engine the right context for each call, records user and assistant turns,
// and refuses new work while a generation is in flight.
package session

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/events"
	"github.com/go-go-golems/palaver/pkg/inference/engine"
	"github.com/go-go-golems/palaver/pkg/inference/engine/factory"
	"github.com/go-go-golems/palaver/pkg/stream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultSystemPrompt = "You are a helpful assistant."

var ErrBusy = errors.New("session is busy generating a response")

type State int

const (
	StateIdle State = iota
	StateGenerating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

type Session struct {
	ID string

	engine         engine.Engine
	log            *conversation.Log
	maxContextSize int
	sink           events.EventSink
	output         io.Writer
	logger         zerolog.Logger

	mu    sync.Mutex
	state State
}

type Option func(*Session)

func WithSystemPrompt(prompt string) Option {
	return func(s *Session) {
		s.log = conversation.NewLog(prompt)
	}
}

// WithMaxContextSize records the context budget the engine was loaded with.
// It is informational: the session never truncates the log to fit it.
func WithMaxContextSize(size int) Option {
	return func(s *Session) {
		s.maxContextSize = size
	}
}

// WithSink publishes the events of every generation to sink.
func WithSink(sink events.EventSink) Option {
	return func(s *Session) {
		s.sink = sink
	}
}

// WithOutput sets the writer used by the *AndPrint variants. Defaults to
// os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(s *Session) {
		s.output = w
	}
}

func WithID(id string) Option {
	return func(s *Session) {
		s.ID = id
	}
}

// New creates an idle session around an already loaded engine. The engine is
// not owned by the session and must not be shared with another session while
// it is in use.
func New(eng engine.Engine, options ...Option) *Session {
	ret := &Session{
		ID:             uuid.NewString(),
		engine:         eng,
		maxContextSize: engine.DefaultContextSize,
		sink:           events.NewNullSink(),
		output:         os.Stdout,
	}
	for _, o := range options {
		o(ret)
	}
	if ret.log == nil {
		ret.log = conversation.NewLog(DefaultSystemPrompt)
	}
	ret.logger = log.With().Str("session_id", ret.ID).Logger()

	ret.logger.Debug().
		Int("max_context_size", ret.maxContextSize).
		Msg("created session")

	return ret
}

// Load loads an engine from settings and wraps it in a new session. Load
// failures are returned as *engine.LoadError.
func Load(ctx context.Context, settings *engine.Settings, options ...Option) (*Session, error) {
	eng, err := factory.Load(ctx, settings)
	if err != nil {
		return nil, err
	}
	options = append([]Option{WithMaxContextSize(settings.ContextSize)}, options...)
	return New(eng, options...), nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) MaxContextSize() int {
	return s.maxContextSize
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateGenerating {
		return ErrBusy
	}
	s.state = StateGenerating
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
}

// Chat sends input with the whole history. The user turn is recorded before
// the engine runs, the assistant turn only if the engine succeeds.
func (s *Session) Chat(ctx context.Context, input string) (string, error) {
	if err := s.begin(); err != nil {
		return "", err
	}
	defer s.end()

	messages := conversation.BuildContext(s.log.Snapshot(), input, true)
	s.log.Append(conversation.RoleUser, input)

	text, err := s.generate(ctx, messages, true)
	if err != nil {
		return "", err
	}
	s.log.Append(conversation.RoleAssistant, text)
	return text, nil
}

// Prompt runs a one-off call that leaves the log untouched. Without history,
// the engine only sees the system prompt and input.
func (s *Session) Prompt(ctx context.Context, input string, useHistory bool) (string, error) {
	if err := s.begin(); err != nil {
		return "", err
	}
	defer s.end()

	messages := conversation.BuildContext(s.log.Snapshot(), input, useHistory)
	return s.generate(ctx, messages, false)
}

func (s *Session) generate(ctx context.Context, messages []conversation.Message, stateful bool) (string, error) {
	md := events.NewEventMetadata(s.ID, stateful)
	s.logger.Debug().Object("meta", md).Int("messages", len(messages)).Msg("generating")
	s.publish(events.NewStartEvent(md))

	text, err := s.engine.Generate(ctx, messages)
	if err != nil {
		s.logger.Debug().Err(err).Object("meta", md).Msg("generation failed")
		s.publish(events.NewErrorEvent(md, err, ""))
		return "", err
	}

	s.publish(events.NewFinalEvent(md, text))
	return text, nil
}

// ChatStream records the user turn and returns a stream of the reply. The
// session stays busy until the stream is exhausted, fails, or is abandoned.
// The assistant turn is recorded only if the stream is fully consumed.
//
// The returned stream must be ranged to the end or Closed. A stream that is
// dropped without either leaves the session busy.
func (s *Session) ChatStream(ctx context.Context, input string) (*stream.Stream, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}

	messages := conversation.BuildContext(s.log.Snapshot(), input, true)
	s.log.Append(conversation.RoleUser, input)

	return s.newStream(ctx, messages, true, func(text string) {
		s.log.Append(conversation.RoleAssistant, text)
	}), nil
}

// ChatStreamAndPrint is ChatStream drained to the session output.
func (s *Session) ChatStreamAndPrint(ctx context.Context, input string) error {
	st, err := s.ChatStream(ctx, input)
	if err != nil {
		return err
	}
	return st.Print(s.output)
}

// PromptStream is the streaming form of Prompt. As with ChatStream, the
// returned stream must be ranged to the end or Closed.
func (s *Session) PromptStream(ctx context.Context, input string, useHistory bool) (*stream.Stream, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}

	messages := conversation.BuildContext(s.log.Snapshot(), input, useHistory)
	return s.newStream(ctx, messages, false, nil), nil
}

func (s *Session) PromptStreamAndPrint(ctx context.Context, input string, useHistory bool) error {
	st, err := s.PromptStream(ctx, input, useHistory)
	if err != nil {
		return err
	}
	return st.Print(s.output)
}

func (s *Session) newStream(
	ctx context.Context,
	messages []conversation.Message,
	stateful bool,
	onComplete func(text string),
) *stream.Stream {
	md := events.NewEventMetadata(s.ID, stateful)
	s.logger.Debug().Object("meta", md).Int("messages", len(messages)).Msg("streaming")

	ctx, cancel := context.WithCancel(ctx)
	options := []stream.Option{
		stream.WithCancel(cancel),
		stream.WithSink(s.sink, md),
		stream.WithOnFinish(func(err error) {
			if err != nil {
				s.logger.Debug().Err(err).Object("meta", md).Msg("stream ended early")
			}
			s.end()
		}),
	}
	if onComplete != nil {
		options = append(options, stream.WithOnComplete(onComplete))
	}

	return stream.New(s.engine.GenerateStream(ctx, messages), options...)
}

func (s *Session) publish(e events.Event) {
	if err := s.sink.PublishEvent(e); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(e.Type())).Msg("could not publish event")
	}
}
