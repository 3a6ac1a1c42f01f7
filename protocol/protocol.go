// Package protocol defines the messages exchanged between an execution
// client and the host that owns the interpreter.
//
// Requests flow client → host; events flow host → client. Events of type
// ready, stdout and stderr are uncorrelated. Events of type done,
// install_done and error are terminal: they carry the id of the request
// they resolve.
//
// Request ids start at 1. An id of 0 means "absent".
package protocol

import (
	"errors"
	"fmt"
)

// RequestType is the kind of work a request asks the host to perform.
type RequestType string

const (
	RequestInstall RequestType = "install"
	RequestRun     RequestType = "run"
)

// EventType is the kind of a host event.
type EventType string

const (
	EventReady       EventType = "ready"
	EventStdout      EventType = "stdout"
	EventStderr      EventType = "stderr"
	EventDone        EventType = "done"
	EventInstallDone EventType = "install_done"
	EventError       EventType = "error"
)

var ErrInvalidMessage = errors.New("invalid message")

// Request is a client → host message.
type Request struct {
	ID       int64       `json:"id,omitempty"`
	Type     RequestType `json:"type"`
	Code     string      `json:"code,omitempty"`
	Packages []string    `json:"packages,omitempty"`
}

// Validate rejects unknown request types and uncorrelated requests.
func (r Request) Validate() error {
	switch r.Type {
	case RequestInstall, RequestRun:
	default:
		return fmt.Errorf("%w: unknown request type %q", ErrInvalidMessage, r.Type)
	}
	if r.ID <= 0 {
		return fmt.Errorf("%w: %s request without id", ErrInvalidMessage, r.Type)
	}
	if r.Type == RequestRun && len(r.Packages) > 0 {
		return fmt.Errorf("%w: packages are only accepted by install", ErrInvalidMessage)
	}
	return nil
}

// Event is a host → client message.
type Event struct {
	Type EventType `json:"type"`
	ID   int64     `json:"id,omitempty"`
	Text string    `json:"text,omitempty"`
}

// Terminal reports whether e resolves a pending request.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventDone, EventInstallDone, EventError:
		return true
	}
	return false
}

// Validate rejects unknown event types and terminal events without an id.
func (e Event) Validate() error {
	switch e.Type {
	case EventReady, EventStdout, EventStderr:
		return nil
	case EventDone, EventInstallDone, EventError:
		if e.ID <= 0 {
			return fmt.Errorf("%w: %s event without id", ErrInvalidMessage, e.Type)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown event type %q", ErrInvalidMessage, e.Type)
}

// Ready is the single event a host emits once its interpreter is constructed.
func Ready() Event { return Event{Type: EventReady} }

// Stdout is an uncorrelated line of standard output.
func Stdout(text string) Event { return Event{Type: EventStdout, Text: text} }

// Stderr is an uncorrelated line of standard error.
func Stderr(text string) Event { return Event{Type: EventStderr, Text: text} }

// Done resolves run request id.
func Done(id int64) Event { return Event{Type: EventDone, ID: id} }

// InstallDone resolves install request id.
func InstallDone(id int64) Event { return Event{Type: EventInstallDone, ID: id} }

// Failure rejects request id with text.
func Failure(id int64, text string) Event { return Event{Type: EventError, ID: id, Text: text} }
