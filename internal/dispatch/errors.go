package dispatch

import (
	"errors"
	"fmt"
)

// ErrDispatch matches every failure to send a command.
var ErrDispatch = errors.New("dispatch failed")

// Error reports a command that could not be exchanged with the endpoint.
type Error struct {
	Command string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("send %q: %v", e.Command, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrDispatch }
