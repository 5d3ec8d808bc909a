package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/palaver/pkg/config"
	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/events"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively, streaming each reply",
		Long: `Chat interactively. Besides plain input, the following commands are understood:

  /clear          forget everything but the system prompt
  /system TEXT    replace the system prompt
  /memory         print the conversation as YAML
  /save FILE      save the conversation (.json, .yaml)
  /quit           leave (the history file, if any, is saved)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.FromViper()
			if err != nil {
				return err
			}
			noStream, _ := cmd.Flags().GetBool("no-stream")
			render, _ := cmd.Flags().GetBool("render")

			return runWithEvents(cmd.Context(), cmd, os.Stderr, func(ctx context.Context, sink events.EventSink) error {
				s, err := loadSession(ctx, settings, session.WithSink(sink))
				if err != nil {
					return err
				}

				r := &repl{
					session:  s,
					ui:       &input.UI{Writer: os.Stdout, Reader: os.Stdin},
					out:      os.Stdout,
					noStream: noStream,
					render:   render && isatty.IsTerminal(os.Stdout.Fd()),
				}
				err = r.run(ctx)
				if saveErr := saveHistory(s, settings); saveErr != nil && err == nil {
					err = saveErr
				}
				return err
			})
		},
	}

	cmd.Flags().Bool("no-stream", false, "Wait for the whole reply instead of streaming it")
	cmd.Flags().Bool("render", true, "Render markdown replies when not streaming and stdout is a terminal")
	addEventFlags(cmd)

	return cmd
}

type repl struct {
	session  *session.Session
	ui       *input.UI
	out      io.Writer
	noStream bool
	render   bool
}

var errQuit = errors.New("quit")

func (r *repl) run(ctx context.Context) error {
	for {
		line, err := r.ui.Ask("\n[user]", &input.Options{
			HideOrder: true,
			Loop:      false,
		})
		if err != nil {
			if errors.Is(err, input.ErrEmpty) {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, input.ErrInterrupted) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			err = r.command(line)
		} else {
			err = r.chat(ctx, line)
		}
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			// keep chatting, the conversation is still consistent
			log.Error().Err(err).Msg("chat failed")
			_, _ = fmt.Fprintf(r.out, "error: %s\n", err)
		}
	}
}

func (r *repl) chat(ctx context.Context, line string) error {
	_, _ = fmt.Fprintf(r.out, "\n[assistant]: ")

	if !r.noStream {
		if err := r.session.ChatStreamAndPrint(ctx, line); err != nil {
			return err
		}
		_, err := fmt.Fprintln(r.out)
		return err
	}

	reply, err := r.session.Chat(ctx, line)
	if err != nil {
		return err
	}
	if r.render {
		styled, err := glamour.Render(reply, "dark")
		if err == nil {
			reply = styled
		}
	}
	_, err = fmt.Fprintln(r.out, reply)
	return err
}

func (r *repl) command(line string) error {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return errQuit
	case "/clear":
		return r.session.ClearMemory()
	case "/system":
		if arg == "" {
			return errors.New("usage: /system TEXT")
		}
		return r.session.ModifySystemPrompt(arg)
	case "/memory":
		return conversation.EncodeMessages(r.out, r.session.GetMemory(), conversation.FormatYAML)
	case "/save":
		if arg == "" {
			return errors.New("usage: /save FILE")
		}
		if err := r.session.SaveMemory(arg); err != nil {
			return err
		}
		_, err := fmt.Fprintf(r.out, "saved %d messages to %s\n", len(r.session.GetMemory()), arg)
		return err
	default:
		return errors.Errorf("unknown command %s", name)
	}
}
