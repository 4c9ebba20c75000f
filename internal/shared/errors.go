package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated indicates a missing or unusable session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the principal lacks the required role, permission or scope.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate indicates a uniqueness conflict such as an email already registered.
	ErrDuplicate = errors.New("duplicate entry")

	// ErrTokenExpired is returned for a well-formed session token past its expiry.
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	// ErrTokenInvalid is returned for malformed tokens or bad signatures.
	ErrTokenInvalid = fmt.Errorf("%w: token invalid", ErrUnauthenticated)
	// ErrAccountDeactivated is returned when the token owner has been deactivated.
	ErrAccountDeactivated = fmt.Errorf("%w: account deactivated", ErrUnauthenticated)
	// ErrInvalidRoleSelection is returned when a selected role does not exist, is not
	// owned by the account or is inactive.
	ErrInvalidRoleSelection = fmt.Errorf("%w: invalid role selection", ErrValidation)
)
