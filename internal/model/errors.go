package model

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrNetwork           = errors.New("network error")
	ErrParse             = errors.New("parse error")
	ErrInvalidState      = errors.New("invalid state")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrFilesystem        = errors.New("filesystem error")
	ErrCancelled         = errors.New("cancelled")
)

var kinds = []error{ErrNetwork, ErrParse, ErrInvalidState, ErrSignatureMismatch, ErrFilesystem, ErrCancelled}

// Error is a typed failure of a release operation. It matches both its Kind and
// the wrapped cause with errors.Is / errors.As.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap returns err classified as kind. A nil err yields nil. An err already
// carrying a kind keeps it.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind sentinel carried by err, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Retryable reports whether the next scheduled check may succeed where err failed.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
