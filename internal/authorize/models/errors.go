package models

import (
	"errors"
	"fmt"
)

// ErrorType is the OAuth error value sent in the error query parameter.
type ErrorType string

const (
	ErrorTypeInvalidRequest     ErrorType = "invalid_request"
	ErrorTypeAccessDenied       ErrorType = "access_denied"
	ErrorTypeUnauthorizedClient ErrorType = "unauthorized_client"
	ErrorTypeServerError        ErrorType = "server_error"
)

// AuthorizeError is one entry of the closed error catalog. Code is sent to the
// client as error_description and must stay stable.
type AuthorizeError struct {
	Name string
	Code string
	Type ErrorType
}

// The authorize error catalog. Code format is E<category digit><3-digit sequence>.
var (
	ErrInvalidRequest                        = AuthorizeError{"invalidRequest", "E1001", ErrorTypeInvalidRequest}
	ErrJARDecryptFailed                      = AuthorizeError{"jarDecryptFailed", "E1002", ErrorTypeInvalidRequest}
	ErrFailedToValidateJARPayload            = AuthorizeError{"failedToValidateJarPayload", "E1003", ErrorTypeInvalidRequest}
	ErrJTIAlreadyUsed                        = AuthorizeError{"jtiAlreadyUsed", "E1004", ErrorTypeInvalidRequest}
	ErrJARSignatureInvalid                   = AuthorizeError{"jarSignatureInvalid", "E3001", ErrorTypeUnauthorizedClient}
	ErrUnknown                               = AuthorizeError{"unknownError", "E5000", ErrorTypeServerError}
	ErrJARDecryptUnknown                     = AuthorizeError{"jarDecryptUnknownError", "E5001", ErrorTypeServerError}
	ErrFailedToCheckJTIUnusedAndSetUpSession = AuthorizeError{"failedToCheckJtiUnusedAndSetUpSession", "E5002", ErrorTypeServerError}
	ErrClientRegistryUnavailable             = AuthorizeError{"clientRegistryUnavailable", "E5003", ErrorTypeServerError}
	ErrFailedToEstablishOutcome              = AuthorizeError{"failedToEstablishOutcome", "E5004", ErrorTypeServerError}
	ErrJWKSUnavailable                       = AuthorizeError{"jwksUnavailable", "E5005", ErrorTypeServerError}
)

func (e AuthorizeError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Name, e.Code)
}

// Wrap tags cause with this catalog entry.
func (e AuthorizeError) Wrap(cause error) error {
	return &StageError{Kind: e, Cause: cause}
}

// StageError is what a pipeline stage returns on failure: exactly one catalog
// entry plus the underlying cause, which is only ever logged.
type StageError struct {
	Kind  AuthorizeError
	Cause error
}

func (e *StageError) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.Error(), e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// Is matches the catalog entry, so errors.Is(err, models.ErrJTIAlreadyUsed) works.
func (e *StageError) Is(target error) bool {
	kind, ok := target.(AuthorizeError)
	return ok && kind == e.Kind
}

// KindOf returns the catalog entry carried by err, or ErrUnknown for untagged errors.
func KindOf(err error) (AuthorizeError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return ErrUnknown, false
}
