package cmds

import (
	"context"
	"io"
	"os"

	"github.com/go-go-golems/palaver/pkg/config"
	"github.com/go-go-golems/palaver/pkg/events"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const eventsTopic = "palaver"

// loadSession builds a session from the global settings and restores the
// history file when it exists.
func loadSession(ctx context.Context, settings *config.Settings, options ...session.Option) (*session.Session, error) {
	options = append([]session.Option{
		session.WithSystemPrompt(settings.SystemPrompt),
		session.WithOutput(os.Stdout),
	}, options...)

	s, err := session.Load(ctx, settings.Engine, options...)
	if err != nil {
		return nil, err
	}

	if settings.HistoryFile != "" {
		if _, err := os.Stat(settings.HistoryFile); err == nil {
			if err := s.LoadMemory(settings.HistoryFile); err != nil {
				return nil, errors.Wrapf(err, "could not load history from %s", settings.HistoryFile)
			}
			log.Debug().Str("file", settings.HistoryFile).Int("length", len(s.GetMemory())).Msg("restored history")
		}
	}

	return s, nil
}

func saveHistory(s *session.Session, settings *config.Settings) error {
	if settings.HistoryFile == "" {
		return nil
	}
	if err := s.SaveMemory(settings.HistoryFile); err != nil {
		return errors.Wrapf(err, "could not save history to %s", settings.HistoryFile)
	}
	log.Debug().Str("file", settings.HistoryFile).Msg("saved history")
	return nil
}

func addEventFlags(cmd *cobra.Command) {
	cmd.Flags().String("print-events", "", "Print generation events to stderr (text, json, yaml)")
}

// runWithEvents runs f, and when --print-events is set, routes the session
// events through a watermill router to a printer on w.
func runWithEvents(
	ctx context.Context,
	cmd *cobra.Command,
	w io.Writer,
	f func(ctx context.Context, sink events.EventSink) error,
) error {
	format, _ := cmd.Flags().GetString("print-events")
	if format == "" {
		return f(ctx, events.NewNullSink())
	}

	router, err := events.NewEventRouter(events.WithVerbose(zerolog.GlobalLevel() <= zerolog.DebugLevel))
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()

	router.AddHandler("printer", eventsTopic, events.NewStructuredPrinter(w, events.PrinterOptions{
		Format:          events.PrinterFormat(format),
		Name:            "events",
		IncludeMetadata: true,
	}))

	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		return f(ctx, events.NewWatermillSink(router.Publisher, eventsTopic))
	})

	return eg.Wait()
}
