package access

import (
	"context"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
)

const (
	reasonNoteNotFound = "note_not_found"
	reasonForbidden    = "forbidden"
	reasonCheckFailed  = "access_check_failed"
)

// Checker is the read side of Resolver that feature services depend on.
type Checker interface {
	Capability(ctx context.Context, noteID, userID string) (Capability, error)
	Exists(ctx context.Context, noteID string) (bool, error)
}

// Require returns nil when allowed accepts the caller's capability on noteID.
// Otherwise it fails with a NotFound error for a missing note and a Forbidden
// error for an existing one, both coded under operation.
func Require(ctx context.Context, checker Checker, operation, noteID, userID string, allowed func(Capability) bool) error {
	capability, err := checker.Capability(ctx, noteID, userID)
	if err != nil {
		return apperr.New(operation, reasonCheckFailed, nil, err)
	}
	if allowed(capability) {
		return nil
	}
	exists, err := checker.Exists(ctx, noteID)
	if err != nil {
		return apperr.New(operation, reasonCheckFailed, nil, err)
	}
	if !exists {
		return apperr.New(operation, reasonNoteNotFound, apperr.ErrNotFound, nil)
	}
	return apperr.New(operation, reasonForbidden, apperr.ErrForbidden, nil)
}
