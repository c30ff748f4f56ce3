// Package crex wraps errors under package-level sentinels.
//
// A wrapped error matches both its sentinel and its cause with [errors.Is]
// and [errors.As], so callers can branch on the failure class while the
// message still carries the underlying detail.
//
//	var ErrCopy = errors.New("copy failed")
//
//	if err := os.Open(path); err != nil {
//	    return crex.Wrap(ErrCopy, err)
//	}
package crex

import (
	"errors"
	"fmt"
)

// Wraps err under sentinel. Returns nil when err is nil.
func Wrap(sentinel, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return &wrapped{sentinel: sentinel, msg: err.Error(), causes: []error{err}}
}

// Wraps a formatted message under sentinel.
//
// The format may use %w to embed causes, which remain reachable through
// [errors.Is] and [errors.As].
func Wrapf(sentinel error, format string, args ...any) error {
	cause := fmt.Errorf(format, args...)
	return &wrapped{sentinel: sentinel, msg: cause.Error(), causes: unwrapAll(cause)}
}

// Error carrying a sentinel and the causes it was built from.
type wrapped struct {
	sentinel error
	msg      string
	causes   []error
}

func (w *wrapped) Error() string {
	return w.sentinel.Error() + ": " + w.msg
}

func (w *wrapped) Unwrap() []error {
	return append([]error{w.sentinel}, w.causes...)
}

// Returns the errors a fmt.Errorf result wraps, if any.
func unwrapAll(err error) []error {
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		return u.Unwrap()
	case interface{ Unwrap() error }:
		if inner := u.Unwrap(); inner != nil {
			return []error{inner}
		}
	}
	return nil
}
