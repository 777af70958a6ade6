package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of a request object once its signature has been verified.
type Claims struct {
	jwt.RegisteredClaims

	ClientID             string `json:"client_id"`
	RedirectURI          string `json:"redirect_uri"`
	ResponseType         string `json:"response_type"`
	Scope                string `json:"scope"`
	State                string `json:"state,omitempty"`
	AccessToken          string `json:"access_token"`
	RefreshToken         string `json:"refresh_token,omitempty"`
	Email                string `json:"email"`
	GovukSigninJourneyID string `json:"govuk_signin_journey_id"`
}

// AccessTokenExpiry reads exp from the embedded downstream access token.
// The token is not verified here; it was issued to us inside a verified request object.
func (c *Claims) AccessTokenExpiry() (time.Time, error) {
	var inner jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(c.AccessToken, &inner); err != nil {
		return time.Time{}, fmt.Errorf("parse access token: %w", err)
	}
	if inner.ExpiresAt == nil {
		return time.Time{}, errors.New("access token has no exp")
	}
	return inner.ExpiresAt.Time, nil
}
