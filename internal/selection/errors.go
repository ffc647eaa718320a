package selection

import "errors"

var (
	// ErrViewExpired means no company list is stored for the session; the
	// view has to be mounted again.
	ErrViewExpired = errors.New("selection: view expired")
	// ErrCompanyInactive rejects a click on a company that is not Online.
	ErrCompanyInactive = errors.New("company is not active")
	// ErrCompanyNotFound rejects a reference that does not match the stored list.
	ErrCompanyNotFound = errors.New("company not found")
)
