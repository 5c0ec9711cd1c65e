package client

import (
	"errors"
	"fmt"
)

var (
	ErrConnClosed        = errors.New("connection closed")
	ErrNotConnected      = errors.New("not connected")
	ErrParseProto        = errors.New("parse proto")
	ErrInvalidTopic      = errors.New("invalid topic name")
	ErrInvalidChannel    = errors.New("invalid channel name")
	ErrNoHandler         = errors.New("nil message handler")
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrInvalidReadyCount = errors.New("invalid ready count")
	ErrTooManyPending    = errors.New("too many pending acknowledgments")
)

// Connection level error kinds. Errors passed to Config.OnError match exactly
// one of them with errors.Is.
var (
	ErrConfig   = errors.New("config")
	ErrConnect  = errors.New("connect")
	ErrRead     = errors.New("read")
	ErrProtocol = errors.New("protocol")
	ErrServer   = errors.New("server")
)

// Error is a connection level failure reported through Config.OnError.
type Error struct {
	Kind error
	Err  error

	msg string
}

func (e *Error) Error() string {
	if e.msg != "" {
		return e.msg
	}

	switch {
	case e.Kind == nil && e.Err == nil:
		return ""
	case e.Err == nil:
		return e.Kind.Error()
	case e.Kind == nil:
		return e.Err.Error()
	default:
		return e.Kind.Error() + ": " + e.Err.Error()
	}
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func connectError(err error) *Error {
	return &Error{Kind: ErrConnect, Err: err, msg: "(connect) " + err.Error()}
}

func readError(err error) *Error {
	return &Error{Kind: ErrRead, Err: err, msg: "(read) " + err.Error()}
}

func serverError(msg []byte) *Error {
	return &Error{Kind: ErrServer, msg: fmt.Sprintf("received error '%s'", msg)}
}

func protocolError(err error, format string, args ...any) *Error {
	return &Error{Kind: ErrProtocol, Err: err, msg: fmt.Sprintf(format, args...)}
}

func configError(err error) error {
	return fmt.Errorf("%w: %w", ErrConfig, err)
}
