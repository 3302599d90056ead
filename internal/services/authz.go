package services

import (
	"fmt"

	"github.com/crowdfactor/backend/internal/access"
	"github.com/crowdfactor/backend/internal/models"
)

// authorize gates a mutating operation on a role. It runs before any
// state is read or written so denied callers observe no effect.
func authorize(ac access.Control, role, caller string) error {
	if ac == nil {
		return fmt.Errorf("%w: access control not configured", models.ErrAuthorization)
	}
	if !ac.IsAuthorized(role, caller) {
		return fmt.Errorf("%w: caller %q lacks role %s", models.ErrAuthorization, caller, role)
	}
	return nil
}
