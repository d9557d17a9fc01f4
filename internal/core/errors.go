package core

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedRecord = errors.New("malformed record")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidQuinzena = errors.New("invalid quinzena")
	ErrInvalidMonthKey = errors.New("invalid month key")
	ErrInvalidDay      = errors.New("invalid day")
	ErrNegativeCount   = errors.New("negative delivery count")
)

// RecordError explains why a stored daily record could not be normalized.
// It always matches ErrMalformedRecord with errors.Is.
type RecordError struct {
	Reason string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedRecord, e.Reason)
}

func (e *RecordError) Unwrap() error {
	return ErrMalformedRecord
}

func malformed(format string, args ...any) error {
	return &RecordError{Reason: fmt.Sprintf(format, args...)}
}
