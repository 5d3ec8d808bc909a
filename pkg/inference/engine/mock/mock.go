// Package mock provides a scripted engine for tests and demos: it returns
// canned responses round-robin, records every message sequence it receives,
// and can be told to fail at load time, immediately or in the middle of a stream.
package mock

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/inference/engine"
)

const Backend = "mock"

type Engine struct {
	mu        sync.Mutex
	responses []string
	index     int
	calls     [][]conversation.Message

	// Err, when set, is returned as a *engine.RuntimeError by every call.
	Err error
	// FailAfter makes streams fail with Err after that many fragments.
	// Zero means streams fail before the first fragment.
	FailAfter int
	// Split breaks a response into fragments. Defaults to SplitWords.
	Split func(string) []string
}

var _ engine.Engine = (*Engine)(nil)

func NewEngine(responses ...string) *Engine {
	return &Engine{
		responses: responses,
		Split:     SplitWords,
	}
}

// Load builds a mock engine from settings.Responses.
func Load(_ context.Context, settings *engine.Settings) (engine.Engine, error) {
	if settings == nil {
		return NewEngine(), nil
	}
	return NewEngine(settings.Responses...), nil
}

// SplitWords splits after every space, so that joining the fragments gives
// back the original text.
func SplitWords(s string) []string {
	if s == "" {
		return nil
	}
	return strings.SplitAfter(s, " ")
}

// Calls returns the message sequences received so far, oldest first.
func (e *Engine) Calls() [][]conversation.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	ret := make([][]conversation.Message, len(e.calls))
	for i, c := range e.calls {
		ret[i] = conversation.Messages(c).Clone()
	}
	return ret
}

// LastCall returns the last message sequence received, or nil.
func (e *Engine) LastCall() []conversation.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.calls) == 0 {
		return nil
	}
	return conversation.Messages(e.calls[len(e.calls)-1]).Clone()
}

func (e *Engine) next(messages []conversation.Message) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, conversation.Messages(messages).Clone())
	if len(e.responses) == 0 {
		return ""
	}
	ret := e.responses[e.index]
	e.index = (e.index + 1) % len(e.responses)
	return ret
}

func (e *Engine) Generate(ctx context.Context, messages []conversation.Message) (string, error) {
	response := e.next(messages)
	if e.Err != nil {
		return "", engine.NewRuntimeError(Backend, e.Err)
	}
	if err := ctx.Err(); err != nil {
		return "", engine.NewRuntimeError(Backend, err)
	}
	return response, nil
}

func (e *Engine) GenerateStream(ctx context.Context, messages []conversation.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		response := e.next(messages)
		split := e.Split
		if split == nil {
			split = SplitWords
		}

		for i, fragment := range split(response) {
			if e.Err != nil && i >= e.FailAfter {
				break
			}
			if err := ctx.Err(); err != nil {
				yield("", engine.NewRuntimeError(Backend, err))
				return
			}
			if !yield(fragment, nil) {
				return
			}
		}
		if e.Err != nil {
			yield("", engine.NewRuntimeError(Backend, e.Err))
		}
	}
}
