// Package config loads palaver settings from flags, PALAVER_* environment
// variables and a YAML config file, in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/palaver/pkg/inference/engine"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type ServerSettings struct {
	Address string `yaml:"address" mapstructure:"address"`
	// JWTSecret enables HS256 bearer authentication when not empty.
	JWTSecret string `yaml:"jwt-secret,omitempty" mapstructure:"jwt-secret"`
}

type Settings struct {
	Engine       *engine.Settings `yaml:"engine" mapstructure:"engine"`
	SystemPrompt string           `yaml:"system-prompt" mapstructure:"system-prompt"`
	HistoryFile  string           `yaml:"history-file,omitempty" mapstructure:"history-file"`

	LogLevel   string `yaml:"log-level" mapstructure:"log-level"`
	LogFormat  string `yaml:"log-format" mapstructure:"log-format"`
	LogFile    string `yaml:"log-file,omitempty" mapstructure:"log-file"`
	WithCaller bool   `yaml:"with-caller,omitempty" mapstructure:"with-caller"`

	Server ServerSettings `yaml:"server" mapstructure:"server"`
}

const (
	DefaultSystemPrompt  = session.DefaultSystemPrompt
	DefaultServerAddress = ":8080"
)

func NewSettings() *Settings {
	return &Settings{
		Engine:       engine.NewSettings(),
		SystemPrompt: DefaultSystemPrompt,
		LogLevel:     "info",
		LogFormat:    "text",
		Server: ServerSettings{
			Address: DefaultServerAddress,
		},
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// flag name -> viper key
var flagKeys = map[string]string{
	"engine":         "engine.type",
	"model":          "engine.model",
	"context-size":   "engine.context-size",
	"base-url":       "engine.base-url",
	"api-key":        "engine.api-key",
	"fragment-delay": "engine.fragment-delay",
	"system-prompt":  "system-prompt",
	"history-file":   "history-file",
	"log-level":      "log-level",
	"log-format":     "log-format",
	"log-file":       "log-file",
	"with-caller":    "with-caller",
	"address":        "server.address",
	"jwt-secret":     "server.jwt-secret",
}

// AddFlags registers the persistent flags understood by InitViper.
func AddFlags(cmd *cobra.Command) {
	d := NewSettings()
	fs := cmd.PersistentFlags()

	fs.String("config", "", "Path to config file (default ~/.palaver/config.yaml)")

	fs.String("engine", string(d.Engine.Type), "Engine backend (echo, mock, openai, ollama, gemini)")
	fs.String("model", "", "Model path or name")
	fs.Int("context-size", d.Engine.ContextSize, "Context budget passed to the engine")
	fs.String("base-url", "", "Base URL of the engine API")
	fs.String("api-key", "", "API key of the engine")
	fs.Duration("fragment-delay", 0, "Delay between fragments (echo engine)")

	fs.String("system-prompt", d.SystemPrompt, "Initial system prompt")
	fs.String("history-file", "", "File the conversation is loaded from and saved to")

	fs.String("log-level", d.LogLevel, "Log level (trace, debug, info, warn, error, fatal)")
	fs.String("log-format", d.LogFormat, "Log format (json, text)")
	fs.String("log-file", "", "Log file (default: stderr)")
	fs.Bool("with-caller", false, "Log caller")

	fs.String("address", d.Server.Address, "Address the server listens on")
	fs.String("jwt-secret", "", "HS256 secret for bearer authentication")
}

func setDefaults(v *viper.Viper) {
	d := NewSettings()
	v.SetDefault("engine.type", string(d.Engine.Type))
	v.SetDefault("engine.model", "")
	v.SetDefault("engine.context-size", d.Engine.ContextSize)
	v.SetDefault("engine.base-url", "")
	v.SetDefault("engine.api-key", "")
	v.SetDefault("engine.fragment-delay", "0s")
	v.SetDefault("system-prompt", d.SystemPrompt)
	v.SetDefault("history-file", "")
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)
	v.SetDefault("log-file", "")
	v.SetDefault("with-caller", false)
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.jwt-secret", "")
}

// InitViper configures the global viper instance for appName: config file
// from --config, ./config.yaml or ~/.<appName>/config.yaml, environment
// variables prefixed with the upper-cased app name, and the flags of rootCmd.
func InitViper(appName string, rootCmd *cobra.Command) error {
	return initViper(viper.GetViper(), appName, rootCmd)
}

func initViper(v *viper.Viper, appName string, rootCmd *cobra.Command) error {
	setDefaults(v)

	v.SetEnvPrefix(appName)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	configFile := ""
	if rootCmd != nil {
		if f := rootCmd.PersistentFlags().Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+appName))
		}
		if xdg, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(xdg, appName))
		}
	}

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file is fine
	} else if err != nil {
		return errors.Wrap(err, "could not read config file")
	}

	if rootCmd != nil {
		fs := rootCmd.PersistentFlags()
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return errors.Wrapf(err, "could not bind flag %s", name)
			}
		}
	}

	log.Debug().Str("config", v.ConfigFileUsed()).Msg("loaded configuration")
	return nil
}

// FromViper decodes the global viper instance.
func FromViper() (*Settings, error) {
	return Unmarshal(viper.GetViper())
}

func Unmarshal(v *viper.Viper) (*Settings, error) {
	ret := NewSettings()
	if err := v.Unmarshal(ret); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if ret.Engine == nil {
		ret.Engine = engine.NewSettings()
	}
	return ret, nil
}
