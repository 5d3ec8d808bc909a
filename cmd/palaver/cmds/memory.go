package cmds

import (
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewMemoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect saved conversations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show FILE",
		Short: "Validate a saved conversation and print it as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showMemory(os.Stdout, args[0])
		},
	})

	return cmd
}

func showMemory(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "could not open %s", path)
	}
	defer func() {
		_ = f.Close()
	}()

	msgs, err := conversation.DecodeMessages(f, conversation.FormatFromPath(path))
	if err != nil {
		return errors.Wrapf(err, "invalid conversation in %s", path)
	}

	if err := conversation.EncodeMessages(w, msgs, conversation.FormatYAML); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "# %d messages, %d system\n", len(msgs), conversation.Messages(msgs).SystemCount())
	return err
}
