package factory

import (
	"context"
	"sort"

	"github.com/go-go-golems/palaver/pkg/inference/engine"
	"github.com/go-go-golems/palaver/pkg/inference/engine/echo"
	"github.com/go-go-golems/palaver/pkg/inference/engine/gemini"
	"github.com/go-go-golems/palaver/pkg/inference/engine/mock"
	"github.com/go-go-golems/palaver/pkg/inference/engine/ollama"
	"github.com/go-go-golems/palaver/pkg/inference/engine/openai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// EngineFactory loads engines based on settings.
// This allows callers to pick a backend from configuration without knowing
// about specific implementations.
type EngineFactory interface {
	// CreateEngine loads an engine for settings.Type. Every failure, including
	// invalid settings and unknown types, is returned as *engine.LoadError.
	CreateEngine(ctx context.Context, settings *engine.Settings) (engine.Engine, error)

	// SupportedProviders returns the engine types this factory can load.
	SupportedProviders() []string

	// DefaultProvider is used when settings.Type is empty.
	DefaultProvider() string
}

// StandardEngineFactory knows about every backend shipped with palaver.
// Additional loaders can be registered, for instance to plug an in-process
// engine into the CLI or server.
type StandardEngineFactory struct {
	loaders map[engine.Type]engine.Loader
}

var _ EngineFactory = (*StandardEngineFactory)(nil)

func NewStandardEngineFactory() *StandardEngineFactory {
	return &StandardEngineFactory{
		loaders: map[engine.Type]engine.Loader{
			engine.TypeEcho:   echo.Load,
			engine.TypeMock:   mock.Load,
			engine.TypeOpenAI: openai.Load,
			engine.TypeOllama: ollama.Load,
			engine.TypeGemini: gemini.Load,
		},
	}
}

// Register adds or replaces the loader for an engine type.
func (f *StandardEngineFactory) Register(t engine.Type, loader engine.Loader) {
	f.loaders[t] = loader
}

func (f *StandardEngineFactory) CreateEngine(ctx context.Context, settings *engine.Settings) (engine.Engine, error) {
	if settings == nil {
		return nil, engine.NewLoadError(f.DefaultProvider(), "", errors.New("settings cannot be nil"))
	}

	settings = settings.Clone()
	if settings.Type == "" {
		settings.Type = engine.Type(f.DefaultProvider())
	}

	loader, ok := f.loaders[settings.Type]
	if !ok {
		return nil, engine.NewLoadError(string(settings.Type), settings.Model, errors.Errorf("unsupported provider %s", settings.Type))
	}

	log.Debug().
		Str("provider", string(settings.Type)).
		Str("model", settings.Model).
		Int("context_size", settings.ContextSize).
		Msg("creating engine")

	e, err := loader(ctx, settings)
	if err != nil {
		if engine.IsLoadError(err) {
			return nil, err
		}
		return nil, engine.NewLoadError(string(settings.Type), settings.Model, err)
	}
	return e, nil
}

func (f *StandardEngineFactory) SupportedProviders() []string {
	ret := make([]string, 0, len(f.loaders))
	for t := range f.loaders {
		ret = append(ret, string(t))
	}
	sort.Strings(ret)
	return ret
}

func (f *StandardEngineFactory) DefaultProvider() string {
	return string(engine.TypeEcho)
}

// Load is the engine contract's load(path, contextBudget): it loads an engine
// with the standard factory.
func Load(ctx context.Context, settings *engine.Settings) (engine.Engine, error) {
	return NewStandardEngineFactory().CreateEngine(ctx, settings)
}
