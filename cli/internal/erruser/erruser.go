// Package erruser provides errors that print a short operator-facing
// message while keeping the technical cause reachable through errors.Unwrap,
// so the CLI can print the message and then "Details: <cause>".
package erruser

import (
	"errors"
	"fmt"
)

// Err pairs an operator-facing message with the cause that produced it.
type Err struct {
	Msg string
	Err error
}

// Error returns Msg only.
func (e *Err) Error() string {
	if e == nil {
		return ""
	}
	return e.Msg
}

// Unwrap returns the cause. It is nil-receiver safe.
func (e *Err) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New returns an error printing msg. A non-nil err is kept as the cause; a
// nil err yields a plain error without one.
func New(msg string, err error) error {
	if err == nil {
		return errors.New(msg)
	}
	return &Err{Msg: msg, Err: err}
}

// Newf is New with a formatted message.
func Newf(err error, format string, args ...any) error {
	return New(fmt.Sprintf(format, args...), err)
}

// Details returns the cause of an *Err anywhere in err's chain, or nil.
func Details(err error) error {
	var e *Err
	if errors.As(err, &e) {
		return e.Err
	}
	return nil
}
