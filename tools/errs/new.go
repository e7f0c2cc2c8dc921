package errs

import "github.com/pkg/errors"

// New creates an uncoded error with a stack; kv pairs are appended to msg.
func New(msg string, kv ...any) error {
	return errors.New(toString(msg, kv))
}
