package models

// ResponseTypeCode is the only response_type the authorize endpoint accepts.
const ResponseTypeCode = "code"

// Query parameter names of the authorize endpoint.
const (
	ParamRequest      = "request"
	ParamResponseType = "response_type"
	ParamScope        = "scope"
	ParamClientID     = "client_id"
	ParamRedirectURI  = "redirect_uri"
	ParamState        = "state"
)

// AuthorizeRequest is the validated query of one authorize call.
// Request holds the compact JWE exactly as received.
type AuthorizeRequest struct {
	Request      string
	ResponseType string
	Scope        string
	ClientID     string
	RedirectURI  string
	State        string
}
