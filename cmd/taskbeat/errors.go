package main

import "errors"

// usageError marks a failure as a CLI usage mistake (bad flags, missing
// required argument) rather than a runtime failure, per spec.md §6's exit
// code table: 0 success, 1 usage, 2 runtime failure.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func newUsageError(msg string) error {
	return &usageError{err: errors.New(msg)}
}

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var ue *usageError
	if errors.As(err, &ue) {
		return 1
	}
	return 2
}
