package rbac

import "strings"

// Permission is a grantable capability in the form resource:action.
type Permission string

// Resource returns the part before the colon.
func (p Permission) Resource() string {
	resource, _, _ := strings.Cut(string(p), ":")
	return resource
}

// Action returns the part after the colon, or an empty string.
func (p Permission) Action() string {
	_, action, _ := strings.Cut(string(p), ":")
	return action
}

func (p Permission) String() string {
	return string(p)
}

// Role is a named bundle of permissions. Roles are immutable once fetched.
type Role struct {
	Name        string
	Permissions []Permission
}

// Grants reports whether the role bundles the permission.
func (r Role) Grants(perm Permission) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Principal describes the authenticated actor of a session. A principal is
// replaced on sign-in or sign-out and never mutated in place.
type Principal struct {
	ID    string
	Email string
	Role  Role
}

// IsZero reports whether no principal is set.
func (p Principal) IsZero() bool {
	return p.ID == ""
}
