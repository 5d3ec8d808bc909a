// Package gemini runs completions against Google's Gemini API through the
// genai SDK. System messages become the request's system instruction.
package gemini

import (
	"context"
	"iter"
	"strings"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/inference/engine"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const Backend = "gemini"

type Engine struct {
	client   *genai.Client
	settings *engine.Settings
}

var _ engine.Engine = (*Engine)(nil)

// Load creates a genai client and looks settings.Model up.
func Load(ctx context.Context, settings *engine.Settings) (engine.Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, engine.NewLoadError(Backend, "", err)
	}
	settings = settings.Clone()

	cfg := &genai.ClientConfig{
		APIKey:  settings.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if settings.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: settings.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, engine.NewLoadError(Backend, settings.Model, err)
	}
	if _, err := client.Models.Get(ctx, settings.Model, nil); err != nil {
		return nil, engine.NewLoadError(Backend, settings.Model, err)
	}

	log.Debug().Str("model", settings.Model).Msg("loaded gemini engine")
	return &Engine{client: client, settings: settings}, nil
}

// makeContents splits messages into the system instruction and the chat
// contents. Several system messages are joined with blank lines.
func makeContents(messages []conversation.Message) (*genai.Content, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		if m.Role == conversation.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := genai.RoleModel
		if m.Role == conversation.RoleUser {
			role = genai.RoleUser
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	if len(system) == 0 {
		return nil, contents
	}
	return &genai.Content{
		Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}},
	}, contents
}

func (e *Engine) makeConfig(system *genai.Content) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
	}
	if e.settings.Temperature != nil {
		temperature := float32(*e.settings.Temperature)
		cfg.Temperature = &temperature
	}
	if e.settings.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*e.settings.MaxTokens)
	}
	return cfg
}

func (e *Engine) Generate(ctx context.Context, messages []conversation.Message) (string, error) {
	system, contents := makeContents(messages)
	resp, err := e.client.Models.GenerateContent(ctx, e.settings.Model, contents, e.makeConfig(system))
	if err != nil {
		return "", engine.NewRuntimeError(Backend, err)
	}
	return resp.Text(), nil
}

func (e *Engine) GenerateStream(ctx context.Context, messages []conversation.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		system, contents := makeContents(messages)
		for resp, err := range e.client.Models.GenerateContentStream(ctx, e.settings.Model, contents, e.makeConfig(system)) {
			if err != nil {
				yield("", engine.NewRuntimeError(Backend, err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}
