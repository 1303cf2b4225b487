package access

import (
	"errors"
	"fmt"
	"strings"
)

// Capability is the computed access level a user holds on a note.
type Capability int

const (
	// CapabilityNone grants nothing.
	CapabilityNone Capability = iota
	// CapabilityViewer may read and comment.
	CapabilityViewer
	// CapabilityEditor may additionally mutate content.
	CapabilityEditor
	// CapabilityOwner may additionally manage grants and delete the note.
	CapabilityOwner
)

// String returns the wire name of the capability.
func (c Capability) String() string {
	switch c {
	case CapabilityViewer:
		return "viewer"
	case CapabilityEditor:
		return "editor"
	case CapabilityOwner:
		return "owner"
	default:
		return "none"
	}
}

// CanRead reports whether the capability allows reading and commenting.
func (c Capability) CanRead() bool {
	return c >= CapabilityViewer
}

// CanWrite reports whether the capability allows content mutation.
func (c Capability) CanWrite() bool {
	return c >= CapabilityEditor
}

// CanManage reports whether the capability allows grant management and deletion.
func (c Capability) CanManage() bool {
	return c == CapabilityOwner
}

// Role is the persisted level of a share grant.
type Role string

const (
	// RoleEditor lets a collaborator mutate note content.
	RoleEditor Role = "editor"
	// RoleViewer lets a collaborator read and comment.
	RoleViewer Role = "viewer"
)

// ErrInvalidRole indicates an unknown role value.
var ErrInvalidRole = errors.New("access: invalid role")

// ParseRole validates raw input and returns a Role.
func ParseRole(rawInput string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(rawInput))) {
	case RoleEditor:
		return RoleEditor, nil
	case RoleViewer:
		return RoleViewer, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, rawInput)
	}
}

// Capability maps a grant role onto the capability it confers.
func (r Role) Capability() Capability {
	switch r {
	case RoleEditor:
		return CapabilityEditor
	case RoleViewer:
		return CapabilityViewer
	default:
		return CapabilityNone
	}
}

// String returns the underlying role name.
func (r Role) String() string {
	return string(r)
}
