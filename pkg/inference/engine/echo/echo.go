// Package echo provides a deterministic engine that answers with the content
// of the last message it was given, one rune per fragment.
package echo

import (
	"context"
	"iter"
	"time"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/inference/engine"
	"github.com/pkg/errors"
)

const Backend = "echo"

type Engine struct {
	TimePerFragment time.Duration
}

var _ engine.Engine = (*Engine)(nil)

func NewEngine() *Engine {
	return &Engine{}
}

// Load never fails; it is the engine.Loader for the echo backend.
func Load(_ context.Context, settings *engine.Settings) (engine.Engine, error) {
	e := NewEngine()
	if settings != nil {
		e.TimePerFragment = settings.FragmentDelay
	}
	return e, nil
}

func (e *Engine) Generate(ctx context.Context, messages []conversation.Message) (string, error) {
	return engine.Collect(e.GenerateStream(ctx, messages))
}

func (e *Engine) GenerateStream(ctx context.Context, messages []conversation.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if len(messages) == 0 {
			yield("", engine.NewRuntimeError(Backend, errors.New("no input")))
			return
		}
		text := messages[len(messages)-1].Content

		for _, r := range text {
			if e.TimePerFragment > 0 {
				select {
				case <-ctx.Done():
					yield("", engine.NewRuntimeError(Backend, ctx.Err()))
					return
				case <-time.After(e.TimePerFragment):
				}
			} else if err := ctx.Err(); err != nil {
				yield("", engine.NewRuntimeError(Backend, err))
				return
			}
			if !yield(string(r), nil) {
				return
			}
		}
	}
}
