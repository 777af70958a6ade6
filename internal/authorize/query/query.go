// Package query turns the raw authorize query string into a typed request.
package query

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/asaskevich/govalidator"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
)

// FieldError names one query parameter that failed validation. It is logged,
// never sent to the user agent.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validate checks every parameter and reports all violations together, tagged
// as a single invalidRequest. It has no side effects.
func Validate(values url.Values) (*models.AuthorizeRequest, error) {
	var errs []error
	single := func(name string, required bool) string {
		vs, present := values[name]
		switch {
		case !present || (len(vs) == 1 && vs[0] == ""):
			if required {
				errs = append(errs, &FieldError{Field: name, Reason: "missing"})
			}
			return ""
		case len(vs) > 1:
			errs = append(errs, &FieldError{Field: name, Reason: "repeated"})
			return ""
		}
		return vs[0]
	}

	req := &models.AuthorizeRequest{
		Request:      single(models.ParamRequest, true),
		ResponseType: single(models.ParamResponseType, true),
		Scope:        single(models.ParamScope, true),
		ClientID:     single(models.ParamClientID, true),
		RedirectURI:  single(models.ParamRedirectURI, true),
		State:        single(models.ParamState, false),
	}

	if req.ResponseType != "" && req.ResponseType != models.ResponseTypeCode {
		errs = append(errs, &FieldError{Field: models.ParamResponseType, Reason: "must be code"})
	}
	if req.Request != "" && !isCompactJWE(req.Request) {
		errs = append(errs, &FieldError{Field: models.ParamRequest, Reason: "not a compact JWE"})
	}
	// Registered redirect URIs are absolute; a relative one can never match a client.
	if req.RedirectURI != "" && !govalidator.IsRequestURL(req.RedirectURI) {
		errs = append(errs, &FieldError{Field: models.ParamRedirectURI, Reason: "not a valid URL"})
	}

	if len(errs) > 0 {
		return nil, models.ErrInvalidRequest.Wrap(errors.Join(errs...))
	}
	return req, nil
}

// isCompactJWE checks the five-segment shape only. The encrypted key segment
// may be empty, so segments are not required to be non-empty.
func isCompactJWE(s string) bool {
	return strings.Count(s, ".") == 4
}

// Fields lists the names of the fields that failed, for structured logging.
func Fields(err error) []string {
	var fields []string
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		return nil
	}
	for _, e := range joined.Unwrap() {
		var fe *FieldError
		if errors.As(e, &fe) {
			fields = append(fields, fe.Field)
		}
	}
	return fields
}
