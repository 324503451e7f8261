package crm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrRemote is matched by every failed remote mutation.
	ErrRemote = errors.New("crm: remote operation failed")
	// ErrNotFound indicates the entity is unknown locally or remotely.
	ErrNotFound = errors.New("crm: not found")
	// ErrValidation indicates the entity was rejected before any mutation ran.
	ErrValidation = errors.New("crm: validation failed")
	// ErrUnknownResource indicates a hook was requested for an unknown resource.
	ErrUnknownResource = errors.New("crm: unknown resource")
)

// RemoteError describes a failed call to the remote store.
type RemoteError struct {
	Op       string
	Resource string
	Err      error
	// Transient failures (network, timeout, overload) may be retried by the user.
	Transient bool
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("crm: %s %s: %v", e.Op, e.Resource, e.Err)
}

// Is makes errors.Is(err, ErrRemote) match.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the user should be offered a retry.
func (e *RemoteError) Retryable() bool {
	return e.Transient
}

func remoteError(op, resource string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Op: op, Resource: resource, Err: err, Transient: isTransient(err)}
}

func isTransient(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
			pgErr.Code == "40001",               // serialization failure
			pgErr.Code == "40P01",               // deadlock
			pgErr.Code == "57P01":               // admin shutdown
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%v: %s", ErrValidation, strings.Join(names, ", "))
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}
