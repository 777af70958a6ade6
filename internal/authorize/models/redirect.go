package models

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RedirectOutcome is the terminal artifact of every authorize call.
type RedirectOutcome struct {
	Location   string
	StatusCode int
	Cookie     *http.Cookie
}

// NewRedirect builds a 302 to location.
func NewRedirect(location string) *RedirectOutcome {
	return &RedirectOutcome{Location: location, StatusCode: http.StatusFound}
}

// RedirectParams are the values appended to a redirect target. Empty values are skipped.
type RedirectParams struct {
	Code             string
	Error            ErrorType
	ErrorDescription string
	State            string
}

// BuildRedirectURL appends code, error, error_description and state, in that order,
// after any query the target already carries. Relative targets are supported.
func BuildRedirectURL(redirectURI string, p RedirectParams) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("parse redirect uri: %w", err)
	}

	var q strings.Builder
	q.WriteString(u.RawQuery)
	add := func(key, value string) {
		if value == "" {
			return
		}
		if q.Len() > 0 {
			q.WriteByte('&')
		}
		q.WriteString(key)
		q.WriteByte('=')
		q.WriteString(url.QueryEscape(value))
	}
	add("code", p.Code)
	add("error", string(p.Error))
	add("error_description", p.ErrorDescription)
	add("state", p.State)

	u.RawQuery = q.String()
	return u.String(), nil
}
