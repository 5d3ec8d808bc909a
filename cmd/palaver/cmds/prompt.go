package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/palaver/pkg/config"
	"github.com/go-go-golems/palaver/pkg/events"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/spf13/cobra"
)

func NewPromptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt TEXT...",
		Short: "Send a single prompt without recording it in the history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.FromViper()
			if err != nil {
				return err
			}
			noHistory, _ := cmd.Flags().GetBool("no-history")
			stream, _ := cmd.Flags().GetBool("stream")
			text := strings.Join(args, " ")

			return runWithEvents(cmd.Context(), cmd, os.Stderr, func(ctx context.Context, sink events.EventSink) error {
				s, err := loadSession(ctx, settings, session.WithSink(sink))
				if err != nil {
					return err
				}
				return runPrompt(ctx, os.Stdout, s, text, !noHistory, stream)
			})
		},
	}

	cmd.Flags().Bool("no-history", false, "Only send the system prompt and TEXT")
	cmd.Flags().Bool("stream", false, "Stream the reply")
	addEventFlags(cmd)

	return cmd
}

// runPrompt prints the reply. w must be the session output.
func runPrompt(ctx context.Context, w io.Writer, s *session.Session, text string, useHistory bool, stream bool) error {
	if stream {
		if err := s.PromptStreamAndPrint(ctx, text, useHistory); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w)
		return err
	}

	reply, err := s.Prompt(ctx, text, useHistory)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, reply)
	return err
}
