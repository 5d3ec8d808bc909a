package engine

import (
	"context"
	"iter"

	"github.com/go-go-golems/palaver/pkg/conversation"
)

// Engine is a loaded text-generation backend. Engines are stateless across
// calls as far as callers are concerned, but are not assumed to be safe for
// concurrent invocation: a caller must not have two calls in flight against
// the same Engine.
type Engine interface {
	// Generate blocks until the full completion for messages is available.
	// Failures are returned as *RuntimeError.
	Generate(ctx context.Context, messages []conversation.Message) (string, error)

	// GenerateStream returns a lazy sequence of text fragments. No work is
	// done until the sequence is ranged over. A failure, including one in the
	// middle of the output, is yielded as a final (_, *RuntimeError) pair.
	// Breaking out of the range abandons the rest of the output; releasing the
	// underlying resources is best-effort.
	GenerateStream(ctx context.Context, messages []conversation.Message) iter.Seq2[string, error]
}

// Loader loads an engine from settings. Failures are returned as *LoadError.
type Loader func(ctx context.Context, settings *Settings) (Engine, error)

// Collect drains a stream and returns the concatenated text. It is used by
// engines whose blocking call is implemented on top of their stream.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var ret []byte
	for fragment, err := range seq {
		if err != nil {
			return "", err
		}
		ret = append(ret, fragment...)
	}
	return string(ret), nil
}
