package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer. Storage and service code wrap these
// sentinels so callers can classify failures with errors.Is without knowing
// which backend produced them.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrReconciliation = errors.New("reconciliation failed")
)

// Validation sentinels. Each wraps ErrValidation so errors.Is(err, ErrValidation)
// holds for all of them.
var (
	ErrInvalidAmount     = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrAmountNotPositive = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrInvalidYear       = fmt.Errorf("%w: year must be a four digit number", ErrValidation)
	ErrInvalidMonth      = fmt.Errorf("%w: month must be between 1 and 12", ErrValidation)
	ErrInvalidDate       = fmt.Errorf("%w: date must be a valid calendar day", ErrValidation)
	ErrEmptySource       = fmt.Errorf("%w: source must not be empty", ErrValidation)
	ErrEmptyCategory     = fmt.Errorf("%w: category must not be empty", ErrValidation)
	ErrEmptyEmail        = fmt.Errorf("%w: email must not be empty", ErrValidation)
	ErrEmptyName         = fmt.Errorf("%w: name must not be empty", ErrValidation)
	ErrInvalidRole       = fmt.Errorf("%w: role must be member, admin or superadmin", ErrValidation)
	ErrSamePeriod        = fmt.Errorf("%w: source and destination period are the same", ErrValidation)
	ErrWeakPassword      = fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	ErrEmailTaken        = fmt.Errorf("%w: email already in use", ErrValidation)
	ErrSelfDeletion      = fmt.Errorf("%w: cannot delete your own account", ErrValidation)
)

// DuplicateCategoryError reports an attempt to create a second allocation for
// a category inside the same budgeting period.
type DuplicateCategoryError struct {
	Category string
	Year     int
	Month    int
}

func (e *DuplicateCategoryError) Error() string {
	return fmt.Sprintf("allocation for category %q already exists in %04d-%02d", e.Category, e.Year, e.Month)
}

// IsDuplicateCategory reports whether err is a DuplicateCategoryError and
// returns it when so.
func IsDuplicateCategory(err error) (*DuplicateCategoryError, bool) {
	var dup *DuplicateCategoryError
	if errors.As(err, &dup) {
		return dup, true
	}
	return nil, false
}
