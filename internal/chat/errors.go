package chat

import (
	"errors"
	"fmt"
)

// Event failure kinds. Match with errors.Is.
var (
	ErrValidation  = errors.New("validation")
	ErrProtocol    = errors.New("protocol")
	ErrPersistence = errors.New("persistence")
)

// EventError is a failed inbound event. Message is safe to show the client.
type EventError struct {
	Event   string
	Kind    error
	Message string
	Err     error // underlying cause, never sent to the client
}

func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Event, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Event, e.Kind, e.Message)
}

func (e *EventError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func validationErr(event, msg string) error {
	return &EventError{Event: event, Kind: ErrValidation, Message: msg}
}

func protocolErr(event, msg string) error {
	return &EventError{Event: event, Kind: ErrProtocol, Message: msg}
}

func persistenceErr(event string, err error) error {
	return &EventError{Event: event, Kind: ErrPersistence, Message: "message store unavailable", Err: err}
}

// kindOf names the failure kind of err for metrics and error frames.
func kindOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return ErrValidation.Error()
	case errors.Is(err, ErrProtocol):
		return ErrProtocol.Error()
	case errors.Is(err, ErrPersistence):
		return ErrPersistence.Error()
	}
	return "internal"
}
