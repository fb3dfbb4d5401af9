package auth

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"taskroom/internal/repo"
)

// ForbiddenError reports an authenticated user acting outside their rights.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	if e.Action == "" {
		return "forbidden"
	}
	return fmt.Sprintf("not allowed to %s", e.Action)
}

// Service answers project access questions from current membership rows.
// Nothing is cached between calls.
type Service struct {
	Repo repo.Repo
}

// CanAccess reports whether the user may act on the project. Super admins
// always pass; everyone else needs a project_members row. tx may be nil.
func (s Service) CanAccess(ctx context.Context, tx *sqlx.Tx, orgID, projectID, userID string, isSuperAdmin bool) (bool, error) {
	if isSuperAdmin {
		return true, nil
	}
	if userID == "" {
		return false, nil
	}
	return s.Repo.IsProjectMember(ctx, tx, orgID, projectID, userID)
}

// AccessibleProjectsFilter returns the member id to restrict project queries
// by, or "" when the user may see every project of the org.
func (s Service) AccessibleProjectsFilter(userID string, isSuperAdmin bool) string {
	if isSuperAdmin {
		return ""
	}
	return userID
}
