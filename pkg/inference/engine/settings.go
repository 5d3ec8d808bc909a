package engine

import (
	"time"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

type Type string

const (
	TypeEcho   Type = "echo"
	TypeMock   Type = "mock"
	TypeOpenAI Type = "openai"
	TypeOllama Type = "ollama"
	TypeGemini Type = "gemini"
)

const DefaultContextSize = 2048

// Settings configure how an engine is loaded. Model is the model path or
// name, whatever the backend understands; ContextSize is the context budget
// handed to the backend and is never enforced by palaver itself.
type Settings struct {
	Type        Type     `yaml:"type,omitempty" mapstructure:"type"`
	Model       string   `yaml:"model,omitempty" mapstructure:"model"`
	ContextSize int      `yaml:"context-size,omitempty" mapstructure:"context-size"`
	BaseURL     string   `yaml:"base-url,omitempty" mapstructure:"base-url"`
	APIKey      string   `yaml:"api-key,omitempty" mapstructure:"api-key"`
	Temperature *float64 `yaml:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens   *int     `yaml:"max-tokens,omitempty" mapstructure:"max-tokens"`

	// echo engine: delay between two fragments
	FragmentDelay time.Duration `yaml:"fragment-delay,omitempty" mapstructure:"fragment-delay"`
	// mock engine: canned responses, returned round-robin
	Responses []string `yaml:"responses,omitempty" mapstructure:"responses"`
}

func NewSettings() *Settings {
	return &Settings{
		Type:        TypeEcho,
		ContextSize: DefaultContextSize,
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// Validate checks the fields every backend needs.
func (s *Settings) Validate() error {
	if s == nil {
		return errors.New("settings cannot be nil")
	}
	if s.Type == "" {
		return errors.New("no engine type set")
	}
	if s.ContextSize < 0 {
		return errors.Errorf("invalid context size %d", s.ContextSize)
	}
	switch s.Type {
	case TypeOpenAI, TypeOllama, TypeGemini:
		if s.Model == "" {
			return errors.Errorf("engine type %s requires a model", s.Type)
		}
	case TypeEcho, TypeMock:
	default:
		return errors.Errorf("unknown engine type %s", s.Type)
	}
	return nil
}
