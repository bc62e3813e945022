package dunehd

import (
	"errors"
	"fmt"
)

// UnreachableError means no usable HTTP exchange happened: connection
// refused, DNS failure, reset, or the request timed out.
type UnreachableError struct {
	Command Command
	Timeout bool
	Err     error
}

func (e *UnreachableError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("dune command %s timed out", e.Command)
	}
	return fmt.Sprintf("dune command %s unreachable: %v", e.Command, e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// MalformedResponseError means the player answered but the body could not
// be turned into a Status.
type MalformedResponseError struct {
	Command Command
	Reason  string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dune command %s: malformed response: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("dune command %s: malformed response: %s", e.Command, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// RejectedError means the player understood the request and refused it,
// either through command_status or an HTTP error status.
type RejectedError struct {
	Command     Command
	Result      ResultStatus
	Kind        ErrorKind
	Description string
	HTTPStatus  int
	// Status is the decoded body when the player sent one.
	Status *Status
}

func (e *RejectedError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("dune command %s rejected: http %d", e.Command, e.HTTPStatus)
	}
	if e.Result == ResultTimeout {
		return fmt.Sprintf("dune command %s rejected: device reported timeout", e.Command)
	}
	if e.Description == "" {
		return fmt.Sprintf("dune command %s rejected: %s", e.Command, e.Kind)
	}
	return fmt.Sprintf("dune command %s rejected: %s (%s)", e.Command, e.Kind, e.Description)
}

func IsUnreachable(err error) bool {
	var target *UnreachableError
	return errors.As(err, &target)
}

func IsMalformed(err error) bool {
	var target *MalformedResponseError
	return errors.As(err, &target)
}

func IsRejected(err error) bool {
	var target *RejectedError
	return errors.As(err, &target)
}
