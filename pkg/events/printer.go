package events

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"gopkg.in/yaml.v3"
)

// StepPrinterFunc returns a watermill handler that prints fragments as they
// arrive, followed by a newline once the generation is over.
func StepPrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	isFirst := true

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventStart:
			isFirst = true
		case *EventPartialCompletion:
			if isFirst && name != "" {
				isFirst = false
				if _, err := fmt.Fprintf(w, "\n%s: \n", name); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "%s", p_.Delta); err != nil {
				return err
			}
		case *EventFinal:
			if !strings.HasSuffix(p_.Text, "\n") {
				if _, err := fmt.Fprintf(w, "\n"); err != nil {
					return err
				}
			}
		case *EventInterrupt:
			if _, err := fmt.Fprintf(w, "\n[interrupted]\n"); err != nil {
				return err
			}
		case *EventError:
			if _, err := fmt.Fprintf(w, "\n[error] %s\n", p_.ErrorString); err != nil {
				return err
			}
		}

		return nil
	}
}

type PrinterFormat string

const (
	FormatText PrinterFormat = "text"
	FormatJSON PrinterFormat = "json"
	FormatYAML PrinterFormat = "yaml"
)

type PrinterOptions struct {
	Format PrinterFormat
	// Name is the prefix used by the text format
	Name string
	// IncludeMetadata adds the event metadata to json and yaml output
	IncludeMetadata bool
}

type structuredOutput struct {
	Type     EventType      `json:"type" yaml:"type"`
	Content  interface{}    `json:"content,omitempty" yaml:"content,omitempty"`
	Metadata *EventMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NewStructuredPrinter prints events as text (like StepPrinterFunc), or one
// JSON / YAML document per event.
func NewStructuredPrinter(w io.Writer, options PrinterOptions) func(msg *message.Message) error {
	if options.Format == "" || options.Format == FormatText {
		return StepPrinterFunc(options.Name, w)
	}

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		out := structuredOutput{Type: e.Type()}
		switch p_ := e.(type) {
		case *EventPartialCompletion:
			out.Content = p_.Delta
		case *EventFinal:
			out.Content = p_.Text
		case *EventInterrupt:
			out.Content = p_.Text
		case *EventError:
			out.Content = p_.ErrorString
		}
		if options.IncludeMetadata {
			md := e.Metadata()
			out.Metadata = &md
		}

		switch options.Format {
		case FormatJSON:
			b, err := json.Marshal(out)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(w, string(b))
			return err
		case FormatYAML:
			b, err := yaml.Marshal(out)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "---\n%s", b)
			return err
		default:
			return fmt.Errorf("unknown format: %s", options.Format)
		}
	}
}
