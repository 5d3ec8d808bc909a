package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger configures the global zerolog logger. Logs always go to stderr
// so that they do not mix with generated text on stdout.
func InitLogger(s *Settings) error {
	return initLogger(s, os.Stderr)
}

func initLogger(s *Settings, w io.Writer) error {
	var logWriter io.Writer
	if s.LogFormat == "json" {
		logWriter = w
	} else {
		logWriter = zerolog.ConsoleWriter{Out: w}
	}

	if s.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   s.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, // days
				},
			})
	}

	logger := log.Output(logWriter)
	if s.WithCaller {
		logger = logger.With().Caller().Logger()
	}
	log.Logger = logger

	level := zerolog.InfoLevel
	if s.LogLevel != "" {
		l, err := zerolog.ParseLevel(s.LogLevel)
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", s.LogLevel)
		}
		level = l
	}
	zerolog.SetGlobalLevel(level)

	return nil
}
