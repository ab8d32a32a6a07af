package dberror

import (
	"fmt"
	"strings"
)

// Error is a chainable error. Msg and Err derive a new error that still
// matches its parent with errors.Is.
type Error interface {
	error
	Msg(msg string) Error
	MsgErr(msg string, err ...error) Error
	Err(err ...error) Error
	ErrorAll() string
}

type dbError struct {
	msg string
	err error
}

func (e *dbError) Error() string {
	return e.msg
}

func (e *dbError) Unwrap() error {
	return e.err
}

// ErrorAll returns the message followed by every wrapped cause.
func (e *dbError) ErrorAll() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *dbError) Msg(msg string) Error {
	return &dbError{
		msg: msg,
		err: e,
	}
}

func (e *dbError) MsgErr(msg string, err ...error) Error {
	return &dbError{
		msg: msg,
		err: wrap(e, err),
	}
}

func (e *dbError) Err(err ...error) Error {
	return &dbError{
		msg: e.msg,
		err: wrap(e, err),
	}
}

func wrap(parent error, errs []error) error {
	f := "%w"
	args := []any{parent}
	for _, err := range errs {
		if err == nil {
			continue
		}
		f = f + " %w"
		args = append(args, err)
	}
	f = strings.TrimRight(f, " ")
	return fmt.Errorf(f, args...)
}

func New(msg string) *dbError {
	return &dbError{
		msg: msg,
		err: nil,
	}
}

var (
	ErrDatabase         Error = New("db error")
	ErrInvalidConfig    Error = ErrDatabase.Msg("invalid configuration")
	ErrUnsupportedDb    Error = ErrInvalidConfig.Msg("unsupported database driver")
	ErrAcquire          Error = ErrDatabase.Msg("unable to acquire db connection")
	ErrAcquireTimeout   Error = ErrAcquire.Msg("timed out acquiring db connection")
	ErrPoolClosed       Error = ErrAcquire.Msg("db pool is closed")
	ErrRelease          Error = ErrDatabase.Msg("unable to release db connection")
	ErrAlreadyReleased  Error = ErrRelease.Msg("db connection already released")
	ErrNoConnection     Error = ErrDatabase.Msg("no db connection in context")
	ErrVerifyConnection Error = ErrDatabase.Msg("unable to verify db connection")
)
