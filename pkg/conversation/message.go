package conversation

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Validate returns a ValidationError if r is not one of the three known roles.
func (r Role) Validate() error {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return nil
	default:
		return &ValidationError{Index: -1, Field: "role", Reason: fmt.Sprintf("unknown role %q", string(r))}
	}
}

// Message is a single role/content record of the conversation log.
//
// Messages are plain values. The log only ever hands out copies, so a Message
// obtained from a snapshot can be modified freely without affecting the log.
type Message struct {
	Role    Role   `json:"role" yaml:"role" jsonschema:"enum=system,enum=user,enum=assistant"`
	Content string `json:"content" yaml:"content"`

	// set by the decoders when a field was absent from the input
	missing []string
}

func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// Validate checks that the message has both fields and a recognized role.
func (m Message) Validate() error {
	if len(m.missing) > 0 {
		return &ValidationError{
			Index:  -1,
			Field:  strings.Join(m.missing, ","),
			Reason: "missing field",
		}
	}
	return m.Role.Validate()
}

func (m Message) String() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
}

type wireMessage struct {
	Role    *string `json:"role" yaml:"role"`
	Content *string `json:"content" yaml:"content"`
}

func (w wireMessage) toMessage() Message {
	ret := Message{}
	if w.Role == nil {
		ret.missing = append(ret.missing, "role")
	} else {
		ret.Role = Role(*w.Role)
	}
	if w.Content == nil {
		ret.missing = append(ret.missing, "content")
	} else {
		ret.Content = *w.Content
	}
	return ret
}

// UnmarshalJSON keeps track of absent fields so that Validate can report them.
// Unknown roles are decoded as-is and rejected later by Validate.
func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*m = w.toMessage()
	return nil
}

func (m *Message) UnmarshalYAML(value *yaml.Node) error {
	var w wireMessage
	if err := value.Decode(&w); err != nil {
		return err
	}
	*m = w.toMessage()
	return nil
}

// Messages is the interchange shape of a conversation log.
type Messages []Message

// Validate checks a candidate log: it must be non-empty and every element must
// pass Message.Validate. The error reports the index of the first bad element.
func (ms Messages) Validate() error {
	if len(ms) == 0 {
		return &ValidationError{Index: -1, Reason: "message list is empty"}
	}
	for i, m := range ms {
		if err := m.Validate(); err != nil {
			ve := err.(*ValidationError)
			ve.Index = i
			return ve
		}
	}
	return nil
}

// Clone returns a copy of the slice with decoder bookkeeping stripped.
func (ms Messages) Clone() Messages {
	if ms == nil {
		return nil
	}
	ret := make(Messages, len(ms))
	for i, m := range ms {
		ret[i] = Message{Role: m.Role, Content: m.Content}
	}
	return ret
}

// SystemCount returns how many system messages the list contains.
func (ms Messages) SystemCount() int {
	n := 0
	for _, m := range ms {
		if m.Role == RoleSystem {
			n++
		}
	}
	return n
}
