// Package openai implements the engine contract on top of any server speaking
// the OpenAI chat completions API: OpenAI itself, llama.cpp's server, vLLM...
package openai

import (
	"context"
	"io"
	"iter"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/inference/engine"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

const Backend = "openai"

type Engine struct {
	client   *go_openai.Client
	settings *engine.Settings
}

var _ engine.Engine = (*Engine)(nil)

// MakeClient builds a go-openai client, honoring a custom base URL.
func MakeClient(settings *engine.Settings) *go_openai.Client {
	config := go_openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		config.BaseURL = settings.BaseURL
	}
	return go_openai.NewClientWithConfig(config)
}

// Load checks that the server knows settings.Model before handing out an engine.
func Load(ctx context.Context, settings *engine.Settings) (engine.Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, engine.NewLoadError(Backend, "", err)
	}
	settings = settings.Clone()
	client := MakeClient(settings)

	if _, err := client.GetModel(ctx, settings.Model); err != nil {
		return nil, engine.NewLoadError(Backend, settings.Model, err)
	}

	log.Debug().
		Str("model", settings.Model).
		Str("base_url", settings.BaseURL).
		Int("context_size", settings.ContextSize).
		Msg("loaded openai engine")

	return &Engine{client: client, settings: settings}, nil
}

func (e *Engine) makeRequest(messages []conversation.Message, stream bool) go_openai.ChatCompletionRequest {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	req := go_openai.ChatCompletionRequest{
		Model:    e.settings.Model,
		Messages: msgs,
		Stream:   stream,
	}
	if e.settings.Temperature != nil {
		req.Temperature = float32(*e.settings.Temperature)
	}
	if e.settings.MaxTokens != nil {
		req.MaxTokens = *e.settings.MaxTokens
	}
	return req
}

func (e *Engine) Generate(ctx context.Context, messages []conversation.Message) (string, error) {
	log.Debug().Int("num_messages", len(messages)).Bool("stream", false).Msg("OpenAI Generate started")

	resp, err := e.client.CreateChatCompletion(ctx, e.makeRequest(messages, false))
	if err != nil {
		return "", engine.NewRuntimeError(Backend, err)
	}
	if len(resp.Choices) == 0 {
		return "", engine.NewRuntimeError(Backend, errors.New("no choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *Engine) GenerateStream(ctx context.Context, messages []conversation.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		log.Debug().Int("num_messages", len(messages)).Bool("stream", true).Msg("OpenAI GenerateStream started")

		stream, err := e.client.CreateChatCompletionStream(ctx, e.makeRequest(messages, true))
		if err != nil {
			yield("", engine.NewRuntimeError(Backend, err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", engine.NewRuntimeError(Backend, err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}
