package identity

import "errors"

var (
	// ErrUnauthorized is returned for a missing or invalid user token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller lacks admin access to the experience.
	ErrForbidden = errors.New("admin access to this experience is required")

	// ErrCreatorNotFound is returned when no creator matches the caller and company.
	ErrCreatorNotFound = errors.New("creator not found")

	// ErrCompanyUnresolved is returned when the experience has no owning company.
	ErrCompanyUnresolved = errors.New("could not determine company for experience")

	// ErrMissingExperience is returned when a request carries no experience id.
	ErrMissingExperience = errors.New("experienceId is required")
)
