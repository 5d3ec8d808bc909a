// Package stream turns the lazy fragment sequence produced by an engine into a
// single-use handle that can be pulled from (Tokens) or drained to a writer
// (Print), and that reports how the generation ended.
package stream

import (
	"context"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/go-go-golems/palaver/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	// ErrAbandoned is reported when a stream is closed, or its consumer stops
	// pulling, before the engine signals the end of its output.
	ErrAbandoned = errors.New("stream abandoned before completion")
	// ErrAlreadyConsumed is yielded when Tokens is ranged over a second time.
	ErrAlreadyConsumed = errors.New("stream already consumed")
)

type Option func(*Stream)

// WithOnComplete is called once with the full text when the stream is
// exhausted without error.
func WithOnComplete(f func(text string)) Option {
	return func(s *Stream) {
		s.onComplete = f
	}
}

// WithOnFinish is called once on any terminal state, after the completion
// callback: nil on exhaustion, the engine error on failure, ErrAbandoned
// otherwise.
func WithOnFinish(f func(err error)) Option {
	return func(s *Stream) {
		s.onFinish = f
	}
}

func WithSink(sink events.EventSink, metadata events.EventMetadata) Option {
	return func(s *Stream) {
		s.sink = sink
		s.metadata = metadata
	}
}

// WithCancel is called by Close, so that an engine blocked in the middle of a
// generation can be interrupted.
func WithCancel(cancel context.CancelFunc) Option {
	return func(s *Stream) {
		s.cancel = cancel
	}
}

type Stream struct {
	seq iter.Seq2[string, error]

	mu       sync.Mutex
	consumed  bool
	ranging   bool
	abandoned bool
	done      bool
	err       error
	text      strings.Builder

	onComplete func(text string)
	onFinish   func(err error)
	cancel     context.CancelFunc
	sink       events.EventSink
	metadata   events.EventMetadata
}

func New(seq iter.Seq2[string, error], options ...Option) *Stream {
	ret := &Stream{
		seq:  seq,
		sink: events.NewNullSink(),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Tokens returns the fragments in the order the engine produced them. A
// failure is yielded as the last element. Breaking out of the range abandons
// the stream. The sequence can only be ranged over once.
func (s *Stream) Tokens() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s.mu.Lock()
		if s.consumed || s.done {
			s.mu.Unlock()
			yield("", ErrAlreadyConsumed)
			return
		}
		s.consumed = true
		s.ranging = true
		s.mu.Unlock()

		s.publish(events.NewStartEvent(s.metadata))

		// terminal only once the engine sequence has returned
		var ret error
		for fragment, err := range s.seq {
			if s.isAbandoned() {
				ret = ErrAbandoned
				break
			}
			if err != nil {
				ret = err
				break
			}

			s.mu.Lock()
			s.text.WriteString(fragment)
			completion := s.text.String()
			s.mu.Unlock()

			s.publish(events.NewPartialCompletionEvent(s.metadata, fragment, completion))

			if !yield(fragment, nil) {
				ret = ErrAbandoned
				break
			}
		}
		if ret == nil && s.isAbandoned() {
			ret = ErrAbandoned
		}

		s.finish(ret)
		if ret != nil && !errors.Is(ret, ErrAbandoned) {
			yield("", ret)
		}
	}
}

// Print drains the stream, writing every fragment to w as it arrives.
func (s *Stream) Print(w io.Writer) error {
	for fragment, err := range s.Tokens() {
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, fragment); err != nil {
			return errors.Wrap(err, "could not write fragment")
		}
	}
	return nil
}

// Close abandons the stream. It is a no-op once the stream is terminal.
// While Tokens is being ranged, Close only cancels the generation: the stream
// becomes terminal when the engine returns control to Tokens.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.consumed = true
	if s.ranging && !s.done {
		s.abandoned = true
		s.mu.Unlock()
		if s.cancel != nil {
			s.cancel()
		}
		return nil
	}
	s.mu.Unlock()

	s.finish(ErrAbandoned)
	return nil
}

// Text returns everything produced so far.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

func (s *Stream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns nil until the stream is terminal, then nil for a completed
// stream, ErrAbandoned or the engine error.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) isAbandoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abandoned
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.err = err
	text := s.text.String()
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	switch {
	case err == nil:
		s.publish(events.NewFinalEvent(s.metadata, text))
	case errors.Is(err, ErrAbandoned):
		log.Debug().Int("length", len(text)).Msg("stream abandoned")
		s.publish(events.NewInterruptEvent(s.metadata, text))
	default:
		s.publish(events.NewErrorEvent(s.metadata, err, text))
	}

	if err == nil && s.onComplete != nil {
		s.onComplete(text)
	}
	if s.onFinish != nil {
		s.onFinish(err)
	}
}

func (s *Stream) publish(e events.Event) {
	if err := s.sink.PublishEvent(e); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("could not publish stream event")
	}
}
