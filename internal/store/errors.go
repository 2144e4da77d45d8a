package store

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("duplicate record")
	// ErrInvalidData is returned when a value violates a column constraint.
	ErrInvalidData = errors.New("invalid data")
	// ErrConflict is returned when a conditional write found its precondition no longer holds.
	ErrConflict = errors.New("conflict")
)

const (
	pqUniqueViolation = pq.ErrorCode("23505")
	pqStringTooLong   = pq.ErrorCode("22001")
	pqCheckViolation  = pq.ErrorCode("23514")
	pqNotNullViolated = pq.ErrorCode("23502")
)

// translate maps driver errors to store errors and passes everything else through.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return ErrDuplicate
	case pqStringTooLong, pqCheckViolation, pqNotNullViolated:
		return ErrInvalidData
	}
	return err
}
