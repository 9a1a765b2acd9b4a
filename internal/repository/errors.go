package repository

import (
	"errors"
	"fmt"
)

var errDuplicateKey = errors.New("duplicate key")

// Error wraps a storage failure. All of them are treated as retryable: the
// caller decides whether to carry on without persistence or give up.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("repository: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports that the operation may succeed if retried.
func (e *Error) Temporary() bool { return true }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
