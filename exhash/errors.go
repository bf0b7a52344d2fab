package exhash

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode classifies an extendible hash table construction error.
type ErrorCode int

const (
	// ErrCodeInvalidArgument marks a bad constructor parameter, e.g. a
	// bucket capacity of zero.
	ErrCodeInvalidArgument ErrorCode = iota
)

// TableError reports a construction-time failure. Mirrors the storage
// package's *StorageError shape, but carries a stack-bearing pkg/errors
// cause rather than a bare message.
type TableError struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("exhash: %s: %v", e.Op, e.Err)
}

func (e *TableError) Unwrap() error {
	return e.Err
}

func errInvalidCapacity(op string, capacity int) *TableError {
	return &TableError{
		Code: ErrCodeInvalidArgument,
		Op:   op,
		Err:  errors.Errorf("bucket capacity %d must be >= 1", capacity),
	}
}
