package client

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUnsupportedDeviceKind = errors.New("unsupported device kind")
	ErrAuthentication        = errors.New("authentication failed")
	ErrPromptTimeout         = errors.New("timeout waiting for prompt")
	ErrTransportLost         = errors.New("transport lost")
	ErrSessionClosed         = errors.New("session closed")
)

// ConnectionError reports a failure to open a session to a device.
type ConnectionError struct {
	Host string
	Kind string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s (%s): %v", e.Host, e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Format prints the cause with its stack trace for %+v.
func (e *ConnectionError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "connect to %s (%s): %+v", e.Host, e.Kind, e.Err)
		return
	}
	fmt.Fprint(s, e.Error())
}

// CommandError reports a failure while running a command on an open session.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func (e *CommandError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "command %q: %+v", e.Command, e.Err)
		return
	}
	fmt.Fprint(s, e.Error())
}
