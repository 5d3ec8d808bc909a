package cmds

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

func NewSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of saved conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printSchema(os.Stdout)
		},
	}
}

func messagesSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
	}
	s := r.Reflect(conversation.Messages{})
	s.Title = "palaver conversation"
	s.Description = "An ordered list of messages. The first one is usually the system prompt."
	return s
}

func printSchema(w io.Writer) error {
	b, err := json.MarshalIndent(messagesSchema(), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
