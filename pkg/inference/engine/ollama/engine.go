// Package ollama runs completions against a local ollama daemon. The daemon
// address is taken from OLLAMA_HOST; the model budget is passed as num_ctx.
package ollama

import (
	"context"
	"iter"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/inference/engine"
	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const Backend = "ollama"

// errStopped is returned from the response callback when the consumer stops
// pulling, to make the client hang up.
var errStopped = errors.New("stream abandoned by consumer")

type Engine struct {
	client   *api.Client
	settings *engine.Settings
}

var _ engine.Engine = (*Engine)(nil)

// Load asks the daemon about settings.Model, failing if it is not available.
func Load(ctx context.Context, settings *engine.Settings) (engine.Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, engine.NewLoadError(Backend, "", err)
	}
	settings = settings.Clone()

	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, engine.NewLoadError(Backend, settings.Model, err)
	}
	if _, err := client.Show(ctx, &api.ShowRequest{Name: settings.Model}); err != nil {
		return nil, engine.NewLoadError(Backend, settings.Model, err)
	}

	log.Debug().
		Str("model", settings.Model).
		Int("context_size", settings.ContextSize).
		Msg("loaded ollama engine")

	return &Engine{client: client, settings: settings}, nil
}

func (e *Engine) options() map[string]interface{} {
	ret := map[string]interface{}{}
	if e.settings.ContextSize > 0 {
		ret["num_ctx"] = e.settings.ContextSize
	}
	if e.settings.Temperature != nil {
		ret["temperature"] = *e.settings.Temperature
	}
	if e.settings.MaxTokens != nil {
		ret["num_predict"] = *e.settings.MaxTokens
	}
	return ret
}

func (e *Engine) makeRequest(messages []conversation.Message) *api.ChatRequest {
	ollamaMessages := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		ollamaMessages = append(ollamaMessages, api.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	stream := true
	return &api.ChatRequest{
		Model:    e.settings.Model,
		Messages: ollamaMessages,
		Stream:   &stream,
		Options:  e.options(),
	}
}

func (e *Engine) Generate(ctx context.Context, messages []conversation.Message) (string, error) {
	return engine.Collect(e.GenerateStream(ctx, messages))
}

func (e *Engine) GenerateStream(ctx context.Context, messages []conversation.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		log.Debug().Int("num_messages", len(messages)).Msg("ollama GenerateStream started")

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		err := e.client.Chat(ctx, e.makeRequest(messages), func(resp api.ChatResponse) error {
			if resp.Done {
				return nil
			}
			content := resp.Message.Content
			if content == "" {
				return nil
			}
			if !yield(content, nil) {
				stopped = true
				return errStopped
			}
			return nil
		})
		if stopped {
			return
		}
		if err != nil {
			yield("", engine.NewRuntimeError(Backend, err))
		}
	}
}
