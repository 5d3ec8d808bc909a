package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"
	// the consumer stopped pulling before the stream was exhausted
	EventTypeInterrupt EventType = "interrupt"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventMetadata correlates the events of one generation.
type EventMetadata struct {
	ID        uuid.UUID `json:"message_id" yaml:"message_id"`
	SessionID string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	// Stateful is set for calls that append to the conversation log.
	Stateful bool `json:"stateful" yaml:"stateful"`
}

func NewEventMetadata(sessionID string, stateful bool) EventMetadata {
	return EventMetadata{
		ID:        uuid.New(),
		SessionID: sessionID,
		Stateful:  stateful,
	}
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	e.Bool("stateful", em.Stateful)
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// raw JSON when the event was decoded by NewEventFromJson
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

var _ Event = &EventImpl{}

type EventStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventStart {
	return &EventStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata},
	}
}

// EventPartialCompletion carries one fragment and the text accumulated so far.
type EventPartialCompletion struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl:  EventImpl{Type_: EventTypePartialCompletion, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata},
		Text:      text,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
	// text produced before the failure
	Text string `json:"text,omitempty"`
}

func NewErrorEvent(metadata EventMetadata, err error, text string) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
		Text:        text,
	}
}

type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{Type_: EventTypeInterrupt, Metadata_: metadata},
		Text:      text,
	}
}

var (
	_ Event = &EventStart{}
	_ Event = &EventPartialCompletion{}
	_ Event = &EventFinal{}
	_ Event = &EventError{}
	_ Event = &EventInterrupt{}
)

func ToTypedEvent[T any](b []byte) (*T, error) {
	var ret *T
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, fmt.Errorf("empty event payload")
	}
	return ret, nil
}

func withPayload[T any, PT interface {
	*T
	Event
	setPayload([]byte)
}](b []byte) (Event, error) {
	ret, err := ToTypedEvent[T](b)
	if err != nil {
		return nil, err
	}
	PT(ret).setPayload(b)
	return PT(ret), nil
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}

// NewEventFromJson decodes an event serialized by one of the sinks.
func NewEventFromJson(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, err
	}

	switch hdr.Type {
	case EventTypeStart:
		return withPayload[EventStart](b)
	case EventTypePartialCompletion:
		return withPayload[EventPartialCompletion](b)
	case EventTypeFinal:
		return withPayload[EventFinal](b)
	case EventTypeError:
		return withPayload[EventError](b)
	case EventTypeInterrupt:
		return withPayload[EventInterrupt](b)
	default:
		return nil, fmt.Errorf("unknown event type: %q", hdr.Type)
	}
}
