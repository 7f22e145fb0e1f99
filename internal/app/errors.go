package app

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks rejected user input. Specific messages wrap it
	// via fmt.Errorf so handlers can branch with errors.Is and still show
	// the detailed text.
	ErrValidation = errors.New("invalid input")

	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("username already exists")

	// ErrInvalidCredentials is the user-facing login failure. The wrapped
	// variants below keep the unknown-user / wrong-password distinction
	// loggable without exposing it to clients.
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrUnknownUsername    = fmt.Errorf("%w (invalid username)", ErrInvalidCredentials)
	ErrWrongPassword      = fmt.Errorf("%w (invalid password)", ErrInvalidCredentials)

	// ErrForbidden is returned when a user touches a book they do not own.
	ErrForbidden = errors.New("you do not have permission to perform this action")

	// ErrNotFound is returned for missing books.
	ErrNotFound = errors.New("not found")
)
