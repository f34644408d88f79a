package cart

import (
	"errors"

	apperrors "github.com/semilia/storefront/pkg/errors"
	"github.com/semilia/storefront/pkg/validator"
)

var (
	// ErrSyncInProgress rejects cart mutations while the guest cart is being
	// moved into the account cart.
	ErrSyncInProgress = apperrors.Conflict("guest cart sync in progress")

	// ErrNotAuthenticated is returned by SyncCart for a guest session.
	ErrNotAuthenticated = apperrors.Unauthorized("sign in to move the guest cart to your account")
)

// isRejection reports whether err refused the operation before it touched
// any state.
func isRejection(err error) bool {
	var valErr *validator.ValidationError
	return errors.Is(err, ErrSyncInProgress) ||
		errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, apperrors.ErrInvalidInput) ||
		errors.As(err, &valErr)
}
