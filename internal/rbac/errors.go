package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is matched by every gate rejection.
	ErrPermissionDenied = errors.New("rbac: permission denied")
	// ErrNoPrincipal indicates a check was attempted without a signed-in principal.
	ErrNoPrincipal = errors.New("rbac: no principal")
	// ErrAuthorityUnavailable wraps failures of the remote permission authority.
	ErrAuthorityUnavailable = errors.New("rbac: authority unavailable")
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
)

// PermissionDeniedError carries the rejected permission and the reason the
// gate could not grant it.
type PermissionDeniedError struct {
	Permission Permission
	// Cause is set when the denial came from a failed lookup rather than an
	// explicit refusal.
	Cause error
}

func (e *PermissionDeniedError) Error() string {
	return e.Message()
}

// Message returns the user facing text of the denial.
func (e *PermissionDeniedError) Message() string {
	action := e.Permission.Action()
	if action == "" {
		action = "access"
	}
	return fmt.Sprintf("You don't have permission to %s %s", action, e.Permission.Resource())
}

// Is makes errors.Is(err, ErrPermissionDenied) match.
func (e *PermissionDeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

func (e *PermissionDeniedError) Unwrap() error {
	return e.Cause
}
