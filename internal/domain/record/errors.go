package record

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched with errors.Is by callers that only need the category.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInsufficientData = errors.New("insufficient data")
	ErrPrimaryStore     = errors.New("primary store failure")
	ErrSecondaryStore   = errors.New("secondary store failure")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rejected field of one payload.
type ValidationError struct {
	Entity   string
	Problems []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Field + " " + p.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("no %s found", e.Entity)
	}
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type ConflictError struct {
	Entity string
	ID     int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %d already exists", e.Entity, e.ID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// InsufficientDataError is returned when a risk score cannot be computed
// because part of the patient join is missing.
type InsufficientDataError struct {
	PatientID int64
	Missing   []string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data to score patient %d: missing %s", e.PatientID, strings.Join(e.Missing, ", "))
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// PrimaryStoreError wraps a failure of the system of record. The operation
// it describes was not applied.
type PrimaryStoreError struct {
	Op  string
	Err error
}

func (e *PrimaryStoreError) Error() string {
	return fmt.Sprintf("primary store: %s: %v", e.Op, e.Err)
}

func (e *PrimaryStoreError) Unwrap() error        { return e.Err }
func (e *PrimaryStoreError) Is(target error) bool { return target == ErrPrimaryStore }

// SecondaryStoreError describes a failed mirror write. It is logged and
// counted, never returned from a write operation.
type SecondaryStoreError struct {
	Entity string
	Op     string
	ID     int64
	Err    error
}

func (e *SecondaryStoreError) Error() string {
	return fmt.Sprintf("secondary store: %s %s %d: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *SecondaryStoreError) Unwrap() error        { return e.Err }
func (e *SecondaryStoreError) Is(target error) bool { return target == ErrSecondaryStore }

// classify passes typed errors through and wraps anything else as a primary
// store failure for op.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrInsufficientData, ErrPrimaryStore} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return &PrimaryStoreError{Op: op, Err: err}
}
