package models

import (
	"slices"

	pstrings "github.com/govuk-one-login/account-components-sub001/pkg/platform/strings"
)

// Client is one relying party entry in the client registry.
type Client struct {
	ClientID             string   `json:"client_id" yaml:"client_id"`
	Scope                string   `json:"scope" yaml:"scope"`
	RedirectURIs         []string `json:"redirect_uris" yaml:"redirect_uris"`
	ClientName           string   `json:"client_name" yaml:"client_name"`
	JWKSURI              string   `json:"jwks_uri" yaml:"jwks_uri"`
	ConsiderUserLoggedIn bool     `json:"consider_user_logged_in,omitempty" yaml:"consider_user_logged_in,omitempty"`
}

// AllowsRedirectURI does an exact, unnormalized match against the allow-list.
func (c *Client) AllowsRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// AllowedScopes splits the space-separated scope allow-list.
func (c *Client) AllowedScopes() []string {
	return pstrings.Fields(c.Scope)
}

// AllowsScope reports whether scope is both allow-listed for the client and globally recognized.
func (c *Client) AllowsScope(scope string) bool {
	if _, ok := ParseScope(scope); !ok {
		return false
	}
	return pstrings.HasField(c.Scope, scope)
}
